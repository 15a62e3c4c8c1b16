package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"reobot/internal/authgate"
	"reobot/internal/notify"
	"reobot/internal/oracle"
	"reobot/pkg/logx"
)

// ErrNotConfirmed is returned by Announce when the caller did not confirm.
var ErrNotConfirmed = errors.New("announcement not confirmed")

func (a *App) newBatch(detailed bool) (*notify.Batch, error) {
	sender, err := a.sender()
	if err != nil {
		return nil, err
	}
	cfg := a.Config()
	nc := cfg.Notify
	log := a.log.With(logx.String("comp", "notify"))
	gate := notify.NewGate(a.store, a.Now, log)
	engine := notify.NewEngine(notify.EngineOptions{
		Sender:      sender,
		Formatter:   notify.Formatter{DashboardURL: nc.DashboardURL},
		Pacer:       notify.NewRatePacer(nc.PacingDuration()),
		Counter:     a.store,
		Recorder:    gate,
		Bus:         a.bus,
		Log:         log,
		SendTimeout: nc.SendTimeoutDuration(),
		Detailed:    detailed || nc.Detailed,
	})
	return &notify.Batch{
		Gate:        gate,
		Subscribers: a.store,
		Oracle: oracle.FileSource{
			SnapshotPath: cfg.Oracle.ActiveIndexersPath,
			ActivityPath: cfg.Oracle.ActivityLogPath,
		},
		Engine:               engine,
		AllowMissingActivity: nc.AllowMissingActivity,
		Log:                  log,
	}, nil
}

// Notify runs one daily batch.
func (a *App) Notify(ctx context.Context, detailed bool) (notify.Outcome, error) {
	b, err := a.newBatch(detailed)
	if err != nil {
		return notify.Outcome{}, err
	}
	out, err := b.Run(ctx)
	if err != nil {
		a.log.Error("notification batch failed", logx.Err(err))
		return out, err
	}
	if out.Skipped != "" {
		a.log.Info("notification batch skipped", logx.String("reason", out.Skipped))
		return out, nil
	}
	a.log.Info("notification batch finished",
		logx.Int("changes", out.Changes),
		logx.Int("success", out.Result.Success),
		logx.Int("failed", out.Result.Failed),
	)
	return out, nil
}

// Announce sends text (or the default announcement when empty) to every
// active subscriber. confirmed must be true; the CLI asks for --yes.
func (a *App) Announce(ctx context.Context, text string, confirmed bool) (notify.Result, error) {
	if !confirmed {
		return notify.Result{}, ErrNotConfirmed
	}
	cfg := a.Config()
	if strings.TrimSpace(text) == "" {
		text = notify.DefaultAnnouncement(cfg.Notify.DashboardURL)
	}
	sender, err := a.sender()
	if err != nil {
		return notify.Result{}, err
	}
	subs, err := a.store.ActiveSubscribers(ctx)
	if err != nil {
		return notify.Result{}, fmt.Errorf("load subscribers: %w", err)
	}
	log := a.log.With(logx.String("comp", "announce"))
	if len(subs) == 0 {
		log.Info("no active subscribers")
		return notify.Result{}, nil
	}
	log.Info("sending announcement", logx.Int("subscribers", len(subs)))
	ann := &notify.Announcer{
		Sender:      sender,
		Pacer:       notify.NewRatePacer(cfg.Announce.PacingDuration()),
		SendTimeout: cfg.Notify.SendTimeoutDuration(),
		Log:         log,
	}
	res := ann.Broadcast(ctx, subs, text)
	log.Info("announcement finished", logx.Int("success", res.Success), logx.Int("failed", res.Failed))
	return res, nil
}

// NewGateServer builds the OTP gateway from the authgate config.
func (a *App) NewGateServer() (*authgate.Server, error) {
	cfg := a.Config()
	gc := cfg.AuthGate
	log := a.log.With(logx.String("comp", "authgate"))

	secret := []byte(gc.CookieSecret)
	if len(secret) == 0 {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		secret = []byte(hex.EncodeToString(b))
		log.Warn("AUTH_COOKIE_SECRET not set; using a random per-process secret")
	}

	mailer := authgate.NewSMTPMailer(authgate.SMTPConfig{
		Server:   gc.SMTP.Server,
		Port:     gc.SMTP.Port,
		User:     gc.SMTP.User,
		Password: gc.SMTP.Password,
		From:     gc.SMTP.From,
	}, cfg.Notify.DashboardURL, log.With(logx.String("sub", "mail")))
	if !mailer.Configured() {
		log.Warn("SMTP credentials not configured; login codes will only be logged as sent")
	}

	return authgate.New(authgate.Options{
		Addr:         gc.Addr,
		WebRoot:      gc.WebRoot,
		Whitelist:    authgate.Whitelist{Path: gc.WhitelistPath},
		Signer:       authgate.Signer{Secret: secret, TTL: gc.SessionTTLDuration(), Now: a.Now},
		Mailer:       mailer,
		Codes:        authgate.NewCodeStore(gc.OTPTTLDuration(), a.Now),
		Limiter:      authgate.NewLimiter(gc.RateLimitWindowDuration(), gc.RateLimitMax, a.Now),
		CORSOrigins:  gc.CORSOrigins,
		SecureCookie: gc.SecureCookie(),
		Log:          log,
	}), nil
}

// Gate serves the OTP gateway until ctx is done.
func (a *App) Gate(ctx context.Context) error {
	srv, err := a.NewGateServer()
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
