package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"reobot/internal/subscriber"
	"reobot/pkg/logx"
)

// timeLayout is how the subscriber file has always stored timestamps (UTC).
const timeLayout = "2006-01-02 15:04:05"

// fileStore keeps the on-disk JSON layout readable by the other dashboard
// scripts. Every operation re-reads the file since the notifier and the bot
// may run as separate processes.
type fileStore struct {
	log logx.Logger

	mu        sync.Mutex
	path      string
	gatePath  string
	auditFile *os.File
}

type subscribersDoc struct {
	Subscribers []subscriberJSON `json:"subscribers"`
	Stats       statsJSON        `json:"stats"`
}

type statsJSON struct {
	TotalSubscribers       int `json:"total_subscribers"`
	TotalNotificationsSent int `json:"total_notifications_sent"`
}

type subscriberJSON struct {
	ChatID         int64    `json:"chat_id"`
	Username       string   `json:"username"`
	SubscribedAt   string   `json:"subscribed_at,omitempty"`
	Active         bool     `json:"active"`
	Watched        []string `json:"watched_indexers"`
	UnsubscribedAt string   `json:"unsubscribed_at,omitempty"`
	ResubscribedAt string   `json:"resubscribed_at,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	gatePath := strings.TrimSpace(cfg.GatePath)
	if gatePath == "" {
		gatePath = filepath.Join(filepath.Dir(path), "last_telegram_notification.json")
	}
	auditPath := strings.TrimSpace(cfg.AuditPath)
	if auditPath == "" {
		auditPath = filepath.Join(filepath.Dir(path), "telegram_bot_activity.log")
	}
	for _, p := range []string{path, gatePath, auditPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, err
		}
	}
	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path, gatePath: gatePath, auditFile: af}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

// load reads the subscribers document. A missing file is an empty roster;
// a malformed one is an error so it never gets overwritten with nothing.
func (s *fileStore) load() (subscribersDoc, error) {
	var doc subscribersDoc
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return subscribersDoc{Subscribers: []subscriberJSON{}}, nil
	}
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return doc, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *fileStore) save(ctx context.Context, doc subscribersDoc) error {
	return writeJSONAtomic(ctx, s.log, s.path, doc)
}

func (s *fileStore) Get(ctx context.Context, chatID int64) (subscriber.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return subscriber.Subscriber{}, err
	}
	for _, r := range doc.Subscribers {
		if r.ChatID == chatID {
			return r.toSubscriber(), nil
		}
	}
	return subscriber.Subscriber{}, ErrNotFound
}

func (s *fileStore) Put(ctx context.Context, sub subscriber.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	rec := fromSubscriber(sub)
	replaced := false
	for i := range doc.Subscribers {
		if doc.Subscribers[i].ChatID == sub.ChatID {
			doc.Subscribers[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Subscribers = append(doc.Subscribers, rec)
	}
	active := 0
	for _, r := range doc.Subscribers {
		if r.Active {
			active++
		}
	}
	doc.Stats.TotalSubscribers = active
	return s.save(ctx, doc)
}

func (s *fileStore) List(ctx context.Context) ([]subscriber.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]subscriber.Subscriber, 0, len(doc.Subscribers))
	for _, r := range doc.Subscribers {
		out = append(out, r.toSubscriber())
	}
	return out, nil
}

func (s *fileStore) ActiveSubscribers(ctx context.Context) ([]subscriber.Subscriber, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, sub := range all {
		if sub.Active {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *fileStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TotalSubscribers:       doc.Stats.TotalSubscribers,
		TotalNotificationsSent: doc.Stats.TotalNotificationsSent,
	}, nil
}

func (s *fileStore) IncrementNotifications(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Stats.TotalNotificationsSent++
	return s.save(ctx, doc)
}

func (s *fileStore) LoadGate(ctx context.Context) (GateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var r GateRecord
	b, err := os.ReadFile(s.gatePath)
	if errors.Is(err, fs.ErrNotExist) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("decode %s: %w", s.gatePath, err)
	}
	return r, nil
}

func (s *fileStore) SaveGate(ctx context.Context, r GateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(ctx, s.log, s.gatePath, r)
}

// AppendAudit writes one line in the activity log format:
//
//	2006-01-02 15:04:05 - ACTION - Chat ID: 1, Username: @name, detail
func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	_, err := s.auditFile.WriteString(formatAuditLine(e))
	return err
}

func formatAuditLine(e AuditEntry) string {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	var b strings.Builder
	b.WriteString(e.At.UTC().Format(timeLayout))
	b.WriteString(" - ")
	b.WriteString(e.Action)
	if e.ChatID != 0 {
		fmt.Fprintf(&b, " - Chat ID: %d", e.ChatID)
		if e.Username != "" {
			b.WriteString(", Username: @" + e.Username)
		}
	}
	if e.Detail != "" {
		if e.ChatID != 0 {
			b.WriteString(", ")
		} else {
			b.WriteString(" - ")
		}
		b.WriteString(e.Detail)
	}
	b.WriteString("\n")
	return b.String()
}

// writeJSONAtomic writes v next to path and renames it into place. The
// rename is retried briefly: on some filesystems a concurrent reader holding
// the file open makes it fail transiently.
func writeJSONAtomic(ctx context.Context, log logx.Logger, path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return retry.Do(
		func() error { return os.Rename(tmpName, path) },
		retry.Attempts(3),
		retry.Delay(20*time.Millisecond),
		retry.MaxDelay(200*time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("rename retry", logx.String("path", path), logx.Uint64("attempt", uint64(n)+1), logx.Err(err))
		}),
	)
}

func (r subscriberJSON) toSubscriber() subscriber.Subscriber {
	return subscriber.Subscriber{
		ChatID:         r.ChatID,
		Username:       r.Username,
		Active:         r.Active,
		Watched:        subscriber.NormalizeWatched(r.Watched),
		SubscribedAt:   parseTime(r.SubscribedAt),
		UnsubscribedAt: parseTime(r.UnsubscribedAt),
		ResubscribedAt: parseTime(r.ResubscribedAt),
	}
}

func fromSubscriber(s subscriber.Subscriber) subscriberJSON {
	watched := s.Watched
	if watched == nil {
		watched = []string{}
	}
	return subscriberJSON{
		ChatID:         s.ChatID,
		Username:       s.Username,
		SubscribedAt:   formatTime(s.SubscribedAt),
		Active:         s.Active,
		Watched:        watched,
		UnsubscribedAt: formatTime(s.UnsubscribedAt),
		ResubscribedAt: formatTime(s.ResubscribedAt),
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}
