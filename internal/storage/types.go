package storage

import (
	"context"
	"errors"
	"time"

	"reobot/internal/subscriber"
)

// ErrNotFound is returned for missing subscribers and a missing gate record.
var ErrNotFound = subscriber.ErrNotFound

var ErrClosed = errors.New("storage: closed")

type Config struct {
	Driver      string
	Path        string
	GatePath    string // file driver
	AuditPath   string // file driver
	BusyTimeout time.Duration
}

type Stats = subscriber.Stats

// GateRecord is the last successful batch. Date is YYYY-MM-DD (UTC).
type GateRecord struct {
	LastNotificationDate      string `json:"last_notification_date"`
	LastNotificationTimestamp string `json:"last_notification_timestamp"`
}

// AuditEntry records one subscriber action (START, NEW_SUBSCRIBER, ...).
type AuditEntry struct {
	At       time.Time
	Action   string
	ChatID   int64
	Username string
	Detail   string
}

// GateStore holds the single gate record.
type GateStore interface {
	LoadGate(ctx context.Context) (GateRecord, error)
	SaveGate(ctx context.Context, r GateRecord) error
}

type Store interface {
	subscriber.Repository
	GateStore
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
