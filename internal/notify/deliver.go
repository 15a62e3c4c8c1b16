package notify

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"reobot/internal/eventbus"
	"reobot/internal/oracle"
	"reobot/internal/subscriber"
	"reobot/internal/transport"
	"reobot/pkg/logx"
)

const (
	EventDeliveryFailed = "notify.delivery.failed"
	EventBatchFinished  = "notify.batch.finished"
)

// Pacer is waited on before every send.
type Pacer interface {
	Wait(ctx context.Context) error
}

// NewRatePacer allows one send per every. Zero or negative every disables
// pacing.
func NewRatePacer(every time.Duration) Pacer {
	if every <= 0 {
		return NopPacer{}
	}
	return rate.NewLimiter(rate.Every(every), 1)
}

// NopPacer never waits; it only reports a done context.
type NopPacer struct{}

func (NopPacer) Wait(ctx context.Context) error { return ctx.Err() }

// Counter is the stats counter bumped once per successful batch.
type Counter interface {
	IncrementNotifications(ctx context.Context) error
}

// Recorder marks the day as sent. *Gate satisfies it.
type Recorder interface {
	RecordSent(ctx context.Context) error
}

// Failure is one subscriber the summary could not be delivered to.
type Failure struct {
	ChatID int64
	Err    error
}

// Result is the per-batch delivery tally.
type Result struct {
	Success  int
	Failed   int
	Failures []Failure
}

// DeliveryFailedEvent is the Data of EventDeliveryFailed.
type DeliveryFailedEvent struct {
	ChatID int64
	Err    error
}

// EngineOptions configures an Engine. Sender is required; nil Pacer, Bus
// and Log fall back to no-ops and SendTimeout defaults to 10s.
type EngineOptions struct {
	Sender      transport.Sender
	Formatter   Formatter
	Pacer       Pacer
	Counter     Counter
	Recorder    Recorder
	Bus         eventbus.Bus
	Log         logx.Logger
	SendTimeout time.Duration
	// Detailed sends FormatDetailed after a successful summary when the
	// subscriber's filtered changes are non-empty.
	Detailed bool
}

// Engine delivers one personalized message per active subscriber, strictly
// in order.
type Engine struct {
	opt EngineOptions
}

// NewEngine fills defaults in opt and returns the engine.
func NewEngine(opt EngineOptions) *Engine {
	if opt.Pacer == nil {
		opt.Pacer = NopPacer{}
	}
	if opt.Bus == nil {
		opt.Bus = eventbus.Nop()
	}
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.SendTimeout <= 0 {
		opt.SendTimeout = 10 * time.Second
	}
	return &Engine{opt: opt}
}

// recordTimeout bounds the post-delivery counter and gate writes.
const recordTimeout = 5 * time.Second

var htmlOpts = &transport.SendOptions{ParseMode: transport.ParseModeHTML, DisablePreview: true}

// DeliverAll attempts every eligible subscriber. A failed send is logged and
// counted and never stops the loop. If the pacer fails (context cancelled)
// the remaining subscribers are not attempted and count as neither.
// Counter and Recorder run once afterwards, only when Success > 0; their
// errors are logged.
func (e *Engine) DeliverAll(ctx context.Context, subs []subscriber.Subscriber, snap *oracle.Snapshot, changes []oracle.StatusChange) Result {
	var res Result
	log := e.opt.Log
	start := time.Now()

	for _, s := range subs {
		if !s.Active || s.ChatID == 0 {
			continue
		}
		if err := e.opt.Pacer.Wait(ctx); err != nil {
			log.Warn("delivery interrupted", logx.Err(err), logx.Int("success", res.Success), logx.Int("failed", res.Failed))
			break
		}

		filtered := FilterChanges(changes, s.Watched)
		text := e.opt.Formatter.Format(snap, filtered)
		if err := e.send(ctx, s.ChatID, text); err != nil {
			res.Failed++
			res.Failures = append(res.Failures, Failure{ChatID: s.ChatID, Err: err})
			log.Warn("delivery failed", logx.Int64("chat_id", s.ChatID), logx.Bool("unreachable", errors.Is(err, transport.ErrChatUnreachable)), logx.Err(err))
			e.opt.Bus.Publish(eventbus.Event{Type: EventDeliveryFailed, Data: DeliveryFailedEvent{ChatID: s.ChatID, Err: err}})
			continue
		}
		res.Success++
		log.Debug("delivered", logx.Int64("chat_id", s.ChatID), logx.Int("changes", len(filtered)))

		if e.opt.Detailed && len(filtered) > 0 {
			if err := e.sendDetailed(ctx, s.ChatID, snap, filtered); err != nil {
				log.Warn("detailed delivery failed", logx.Int64("chat_id", s.ChatID), logx.Err(err))
			}
		}
	}

	if res.Success > 0 {
		// Messages already went out; a cancelled batch must still close
		// the gate and count them.
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		if e.opt.Counter != nil {
			if err := e.opt.Counter.IncrementNotifications(wctx); err != nil {
				log.Error("notification counter update failed", logx.Err(err))
			}
		}
		if e.opt.Recorder != nil {
			if err := e.opt.Recorder.RecordSent(wctx); err != nil {
				log.Error("gate update failed", logx.Err(err))
			}
		}
		cancel()
	}

	fields := []logx.Field{logx.Int("success", res.Success), logx.Int("failed", res.Failed), logx.Duration("dur", time.Since(start))}
	if res.Failed > 0 {
		log.Warn("delivery finished with failures", fields...)
	} else {
		log.Info("delivery finished", fields...)
	}
	e.opt.Bus.Publish(eventbus.Event{Type: EventBatchFinished, Data: res})
	return res
}

func (e *Engine) sendDetailed(ctx context.Context, chatID int64, snap *oracle.Snapshot, changes []oracle.StatusChange) error {
	text := e.opt.Formatter.FormatDetailed(snap, changes)
	if text == "" {
		return nil
	}
	if err := e.opt.Pacer.Wait(ctx); err != nil {
		return err
	}
	return e.send(ctx, chatID, text)
}

func (e *Engine) send(ctx context.Context, chatID int64, text string) error {
	cctx, cancel := context.WithTimeout(ctx, e.opt.SendTimeout)
	defer cancel()
	_, err := e.opt.Sender.SendText(cctx, transport.ChatTarget{ChatID: chatID}, text, htmlOpts)
	return err
}
