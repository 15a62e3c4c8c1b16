package notify

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"reobot/internal/oracle"
	"reobot/internal/subscriber"
	"reobot/pkg/logx"
)

// ErrInputUnavailable means the snapshot or activity log could not be used.
// The batch aborts before any send.
var ErrInputUnavailable = errors.New("notify: oracle input unavailable")

const (
	SkipAlreadySent   = "already_sent_today"
	SkipNoSubscribers = "no_subscribers"
)

// SubscriberSource lists the subscribers of a batch.
type SubscriberSource interface {
	ActiveSubscribers(ctx context.Context) ([]subscriber.Subscriber, error)
}

// Outcome summarizes one batch run. Skipped is set when the batch stopped at
// a precondition without error.
type Outcome struct {
	Skipped string
	Changes int
	Result  Result
}

// Batch wires one daily run: the gate, the subscriber source, the oracle
// inputs and the delivery engine.
type Batch struct {
	Gate                 *Gate
	Subscribers          SubscriberSource
	Oracle               oracle.Source
	Engine               *Engine
	AllowMissingActivity bool
	Log                  logx.Logger
}

// Run executes one daily batch: gate, inputs, delivery. The gate is only
// advanced by the engine after a successful send.
func (b *Batch) Run(ctx context.Context) (Outcome, error) {
	log := b.Log
	if log.IsZero() {
		log = logx.Nop()
	}

	if !b.Gate.MaySendToday(ctx) {
		log.Info("notification already sent today; skipping")
		return Outcome{Skipped: SkipAlreadySent}, nil
	}

	subs, err := b.Subscribers.ActiveSubscribers(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("load subscribers: %w", err)
	}
	if len(subs) == 0 {
		log.Info("no active subscribers; skipping")
		return Outcome{Skipped: SkipNoSubscribers}, nil
	}

	snap, err := b.Oracle.Snapshot(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: snapshot: %v", ErrInputUnavailable, err)
	}
	changes, err := b.changes(ctx)
	if err != nil {
		return Outcome{}, err
	}

	start := time.Now()
	log.Info("notification batch started", logx.Int("subscribers", len(subs)), logx.Int("changes", len(changes)))
	res := b.Engine.DeliverAll(ctx, subs, snap, changes)
	log.Info("notification batch finished",
		logx.Int("success", res.Success),
		logx.Int("failed", res.Failed),
		logx.Duration("dur", time.Since(start)),
	)
	return Outcome{Changes: len(changes), Result: res}, nil
}

func (b *Batch) changes(ctx context.Context) ([]oracle.StatusChange, error) {
	act, err := b.Oracle.Activity(ctx)
	switch {
	case err == nil:
		return act.Changes, nil
	case errors.Is(err, fs.ErrNotExist) && b.AllowMissingActivity:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: activity log: %v", ErrInputUnavailable, err)
	}
}
