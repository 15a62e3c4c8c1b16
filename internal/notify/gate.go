package notify

import (
	"context"
	"errors"
	"time"

	"reobot/internal/storage"
	"reobot/pkg/logx"
)

const dateLayout = "2006-01-02"

// GateStore persists the single gate record.
type GateStore interface {
	LoadGate(ctx context.Context) (storage.GateRecord, error)
	SaveGate(ctx context.Context, r storage.GateRecord) error
}

// Gate allows at most one successful batch per UTC calendar day.
type Gate struct {
	store GateStore
	now   func() time.Time
	log   logx.Logger
}

// NewGate returns a gate over store. now defaults to time.Now.
func NewGate(store GateStore, now func() time.Time, log logx.Logger) *Gate {
	if now == nil {
		now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gate{store: store, now: now, log: log}
}

func (g *Gate) today() string { return g.now().UTC().Format(dateLayout) }

// MaySendToday is true unless a successful batch was recorded for today. An
// unreadable record fails open so a broken file cannot mute notifications
// forever.
func (g *Gate) MaySendToday(ctx context.Context) bool {
	rec, err := g.store.LoadGate(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return true
	case err != nil:
		g.log.Warn("gate record unreadable; allowing send", logx.Err(err))
		return true
	}
	return rec.LastNotificationDate != g.today()
}

// RecordSent marks today as sent. Call it only after at least one delivery
// succeeded.
func (g *Gate) RecordSent(ctx context.Context) error {
	now := g.now().UTC()
	return g.store.SaveGate(ctx, storage.GateRecord{
		LastNotificationDate:      now.Format(dateLayout),
		LastNotificationTimestamp: now.Format(timeLayoutUTC),
	})
}

// Status returns the stored record for display.
func (g *Gate) Status(ctx context.Context) (storage.GateRecord, error) {
	return g.store.LoadGate(ctx)
}
