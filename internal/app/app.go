// Package app wires configuration, logging, storage and the chat transport
// into the long-running bot and the one-shot jobs.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"reobot/internal/config"
	"reobot/internal/eventbus"
	"reobot/internal/storage"
	"reobot/internal/transport"
	"reobot/internal/transport/telegram"
	"reobot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	// Sender overrides the Telegram adapter (tests, dry runs).
	Sender transport.Sender
	// Now overrides the clock used by the gate and subscriber records.
	Now func() time.Time

	adOnce sync.Once
	ad     *telegram.Adapter
	adErr  error
}

// NewApp loads the config at cfgPath (empty means defaults + environment),
// starts logging and opens storage.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The Telegram sink stays off until the adapter exists and the target
	// is set; see attachLogSink.
	logCfg := mapLogConfig(cfg)
	logCfg.Telegram.Enabled = false
	logSvc, log := logx.New(logCfg, nil)
	log = log.With(logx.String("comp", "app"))

	store, err := storage.Open(mapStorageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Debug("storage opened", logx.String("driver", cfg.Storage.Driver), logx.String("path", cfg.Storage.Path))

	return &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		bus:   eventbus.New(),
		store: store,
		Now:   time.Now,
	}, nil
}

// Config returns the current (possibly hot-reloaded) configuration.
func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Store() storage.Store { return a.store }

// Close releases storage and the log sinks.
func (a *App) Close() error {
	err := a.store.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

func (a *App) adapter() (*telegram.Adapter, error) {
	a.adOnce.Do(func() {
		cfg := a.Config()
		a.ad, a.adErr = telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: cfg.Telegram.PollTimeoutDuration(),
		}, a.log.With(logx.String("comp", "telegram")))
		if a.adErr == nil {
			a.attachLogSink(a.ad)
		}
	})
	return a.ad, a.adErr
}

func (a *App) sender() (transport.Sender, error) {
	if a.Sender != nil {
		return a.Sender, nil
	}
	ad, err := a.adapter()
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return ad, nil
}

// attachLogSink points the operator log group at the live sender and then
// enables the Telegram sink if configured.
func (a *App) attachLogSink(sender transport.Sender) {
	a.logs.SetSender(sender)
	a.applyLogging(a.Config())
}

func (a *App) applyLogging(cfg *config.Config) {
	a.logs.SetTelegramTarget(cfg.Telegram.GroupLog, cfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(cfg))
}

// step runs one shutdown step bounded by max and never longer than ctx.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
