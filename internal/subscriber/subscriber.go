// Package subscriber holds the subscriber record and the service behind the
// bot's subscription and watch-list commands.
package subscriber

import (
	"errors"
	"slices"
	"strings"
	"time"

	"reobot/internal/oracle"
)

var (
	ErrNotFound          = errors.New("subscriber: not found")
	ErrAlreadySubscribed = errors.New("subscriber: already subscribed")
	ErrNotSubscribed     = errors.New("subscriber: not subscribed")
	ErrAlreadyWatching   = errors.New("subscriber: already watching")
	ErrNotWatching       = errors.New("subscriber: not watching")
	ErrInvalidAddress    = errors.New("subscriber: invalid indexer address")
)

// Subscriber is one chat that asked for notifications. Inactive records are
// kept for history. An empty Watched list means "all indexers".
type Subscriber struct {
	ChatID         int64
	Username       string
	Active         bool
	Watched        []string
	SubscribedAt   time.Time
	UnsubscribedAt time.Time
	ResubscribedAt time.Time
}

// Watches reports whether addr is on the watch list. addr must already be
// normalized.
func (s Subscriber) Watches(addr string) bool {
	return slices.Contains(s.Watched, addr)
}

// Stats are the counters shown by /stats.
type Stats struct {
	TotalSubscribers       int
	TotalNotificationsSent int
}

// NormalizeWatched applies the address normalization rule to a watch list
// read from storage, dropping blanks and duplicates.
func NormalizeWatched(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = oracle.NormalizeAddress(a)
		if a == "" || slices.Contains(out, a) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// ValidateAddress checks the shape of a user supplied address: 0x prefix and
// 42 characters.
func ValidateAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	if !strings.HasPrefix(addr, "0x") || len(addr) != 42 {
		return ErrInvalidAddress
	}
	return nil
}

// CountActive is how total_subscribers is derived.
func CountActive(subs []Subscriber) int {
	n := 0
	for _, s := range subs {
		if s.Active {
			n++
		}
	}
	return n
}
