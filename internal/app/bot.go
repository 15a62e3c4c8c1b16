package app

import (
	"context"
	"errors"
	"time"

	"reobot/internal/bot"
	"reobot/internal/config"
	"reobot/internal/eventbus"
	"reobot/internal/notify"
	"reobot/internal/runtime/supervisor"
	"reobot/internal/subscriber"
	"reobot/internal/task/scheduler"
	"reobot/internal/transport"
	"reobot/pkg/logx"
)

const notifyTask = "notify.daily"

// RunBot serves subscriber commands until ctx is done. When notify.schedule
// is set the daily batch also runs in-process.
func (a *App) RunBot(ctx context.Context) error {
	ad, err := a.adapter()
	if err != nil {
		return err
	}
	sup := supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	handlers := &bot.Handlers{
		Subs:         subscriber.NewService(a.store, a.Now),
		Audit:        a.store,
		DashboardURL: a.Config().Notify.DashboardURL,
		Now:          a.Now,
	}
	router := bot.NewRouter(a.log.With(logx.String("comp", "commands")), ad)
	router.SetCommands(handlers.Commands())

	sched, err := a.startScheduler(sup.Context())
	if err != nil {
		sup.Cancel()
		return err
	}

	updates := make(chan transport.Update, 256)
	if err := ad.Start(sup.Context(), updates); err != nil {
		sup.Cancel()
		return err
	}
	router.PublishMenu(sup.Context())

	sup.Go("commands.dispatch", func(c context.Context) error {
		return router.DispatchLoop(c, updates)
	})
	a.watchEvents(sup)
	a.watchConfig(sup, sched)

	a.log.Info("bot started", logx.Int("commands", len(router.MenuCommands())))
	<-sup.Context().Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	a.log.Info("stopping")
	sup.Cancel()
	if sched != nil {
		a.step(stopCtx, "scheduler", 2*time.Second, func(c context.Context) error { sched.Stop(c); return nil })
	}
	a.step(stopCtx, "adapter", 2*time.Second, ad.Stop)
	a.step(stopCtx, "supervisor", 3*time.Second, sup.Wait)
	a.log.Info("stopped")

	if err := sup.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startScheduler registers the daily batch. It returns nil when no schedule
// is configured.
func (a *App) startScheduler(ctx context.Context) (*scheduler.Service, error) {
	nc := a.Config().Notify
	if nc.Schedule == "" {
		return nil, nil
	}
	sched := scheduler.New(scheduler.Config{Timezone: nc.Timezone}, a.log.With(logx.String("comp", "scheduler")), a.bus)
	err := sched.AddSchedule(notifyTask, nc.Schedule, 30*time.Minute, func(c context.Context) error {
		_, err := a.Notify(c, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	sched.Start(ctx)
	for _, e := range sched.Entries() {
		a.log.Info("daily notification scheduled", logx.String("task", e.Name), logx.String("spec", e.Spec))
	}
	return sched, nil
}

func (a *App) watchEvents(sup *supervisor.Supervisor) {
	events, unsub := a.bus.Subscribe(128)
	sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				logEvent(a.log, e)
			}
		}
	})
}

func logEvent(log logx.Logger, e eventbus.Event) {
	switch d := e.Data.(type) {
	case notify.DeliveryFailedEvent:
		log.Debug("event", logx.String("type", e.Type), logx.Int64("chat_id", d.ChatID), logx.Err(d.Err))
	case scheduler.TaskEvent:
		log.Debug("event", logx.String("type", e.Type), logx.String("task", d.Name), logx.Duration("dur", d.Duration))
	default:
		log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

// watchConfig hot-reloads logging and the notify schedule. Storage and
// Telegram changes need a restart.
func (a *App) watchConfig(sup *supervisor.Supervisor, sched *scheduler.Service) {
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if cfg.Notify.Schedule == "" {
			return nil
		}
		_, err := scheduler.ParseSchedule(cfg.Notify.Schedule)
		return err
	})
	sub := a.cfgm.Subscribe(8)
	sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.Config()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.reload(last, next, sched)
				last = next
			}
		}
	})
	sup.Go("config.watch", a.cfgm.Watch)
}

func (a *App) reload(prev, next *config.Config, sched *scheduler.Service) {
	a.applyLogging(next)
	if prev.Storage != next.Storage || prev.Telegram.Token != next.Telegram.Token {
		a.log.Warn("storage or telegram config changed; restart required for changes to take effect")
	}
	if sched != nil && next.Notify.Schedule != "" && next.Notify.Schedule != prev.Notify.Schedule {
		err := sched.AddSchedule(notifyTask, next.Notify.Schedule, 30*time.Minute, func(c context.Context) error {
			_, err := a.Notify(c, false)
			return err
		})
		if err != nil {
			a.log.Warn("invalid notify.schedule; keeping previous", logx.Err(err))
		}
	}
	a.log.Info("config applied")
}
