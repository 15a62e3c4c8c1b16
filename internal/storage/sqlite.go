package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"reobot/internal/subscriber"
	"reobot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const counterNotifications = "total_notifications_sent"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite serializes writers anyway and this keeps
	// read-modify-write cycles in order.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

const subscriberCols = `chat_id, username, active, watched, subscribed_at, unsubscribed_at, resubscribed_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanSubscriber(r rowScanner) (subscriber.Subscriber, error) {
	var (
		sub                   subscriber.Subscriber
		active                int
		watched               string
		subAt, unsubAt, resAt sql.NullString
	)
	if err := r.Scan(&sub.ChatID, &sub.Username, &active, &watched, &subAt, &unsubAt, &resAt); err != nil {
		return sub, err
	}
	sub.Active = active != 0
	var list []string
	if err := json.Unmarshal([]byte(watched), &list); err != nil {
		return sub, fmt.Errorf("subscriber %d: watched: %w", sub.ChatID, err)
	}
	sub.Watched = subscriber.NormalizeWatched(list)
	sub.SubscribedAt = parseTime(subAt.String)
	sub.UnsubscribedAt = parseTime(unsubAt.String)
	sub.ResubscribedAt = parseTime(resAt.String)
	return sub, nil
}

func (s *sqliteStore) Get(ctx context.Context, chatID int64) (subscriber.Subscriber, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriberCols+` FROM subscribers WHERE chat_id = ?`, chatID)
	sub, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return subscriber.Subscriber{}, ErrNotFound
	}
	return sub, err
}

func (s *sqliteStore) Put(ctx context.Context, sub subscriber.Subscriber) error {
	watched := sub.Watched
	if watched == nil {
		watched = []string{}
	}
	wb, err := json.Marshal(watched)
	if err != nil {
		return err
	}
	active := 0
	if sub.Active {
		active = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subscribers(`+subscriberCols+`) VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   username=excluded.username, active=excluded.active, watched=excluded.watched,
		   subscribed_at=excluded.subscribed_at, unsubscribed_at=excluded.unsubscribed_at,
		   resubscribed_at=excluded.resubscribed_at`,
		sub.ChatID, sub.Username, active, string(wb),
		nullStr(formatTime(sub.SubscribedAt)), nullStr(formatTime(sub.UnsubscribedAt)), nullStr(formatTime(sub.ResubscribedAt)),
	)
	return err
}

func (s *sqliteStore) list(ctx context.Context, where string) ([]subscriber.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+subscriberCols+` FROM subscribers `+where+` ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []subscriber.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) List(ctx context.Context) ([]subscriber.Subscriber, error) {
	return s.list(ctx, "")
}

func (s *sqliteStore) ActiveSubscribers(ctx context.Context) ([]subscriber.Subscriber, error) {
	return s.list(ctx, "WHERE active = 1")
}

func (s *sqliteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM subscribers WHERE active = 1),
		   COALESCE((SELECT value FROM counters WHERE name = ?), 0)`,
		counterNotifications,
	).Scan(&st.TotalSubscribers, &st.TotalNotificationsSent)
	return st, err
}

func (s *sqliteStore) IncrementNotifications(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO counters(name, value) VALUES(?, 1)
		 ON CONFLICT(name) DO UPDATE SET value = value + 1`,
		counterNotifications,
	)
	return err
}

func (s *sqliteStore) LoadGate(ctx context.Context) (GateRecord, error) {
	var r GateRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT last_notification_date, last_notification_timestamp FROM gate WHERE id = 1`,
	).Scan(&r.LastNotificationDate, &r.LastNotificationTimestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	return r, err
}

func (s *sqliteStore) SaveGate(ctx context.Context, r GateRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO gate(id, last_notification_date, last_notification_timestamp) VALUES(1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   last_notification_date=excluded.last_notification_date,
		   last_notification_timestamp=excluded.last_notification_timestamp`,
		r.LastNotificationDate, r.LastNotificationTimestamp,
	)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, action, chat_id, username, detail) VALUES(?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Action, e.ChatID, nullStr(e.Username), nullStr(e.Detail),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
