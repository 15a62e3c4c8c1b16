package subscriber

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"reobot/internal/oracle"
)

// Repository persists subscribers and their counters. Put replaces the whole
// record keyed by ChatID and keeps total_subscribers equal to the active
// count.
type Repository interface {
	Get(ctx context.Context, chatID int64) (Subscriber, error)
	Put(ctx context.Context, s Subscriber) error
	List(ctx context.Context) ([]Subscriber, error)
	ActiveSubscribers(ctx context.Context) ([]Subscriber, error)
	Stats(ctx context.Context) (Stats, error)
	IncrementNotifications(ctx context.Context) error
}

// SubscribeResult tells a first subscription apart from a reactivation.
type SubscribeResult int

const (
	Created SubscribeResult = iota + 1
	Reactivated
)

type Service struct {
	repo Repository
	now  func() time.Time

	// mu serializes read-modify-write cycles within this process.
	mu sync.Mutex
}

func NewService(repo Repository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, now: now}
}

func (s *Service) Get(ctx context.Context, chatID int64) (Subscriber, error) {
	return s.repo.Get(ctx, chatID)
}

// IsActive reports whether chatID has an active subscription.
func (s *Service) IsActive(ctx context.Context, chatID int64) (bool, error) {
	sub, err := s.repo.Get(ctx, chatID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sub.Active, nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) { return s.repo.Stats(ctx) }

// Subscribe creates the record or reactivates an inactive one. A
// reactivated record starts with an empty watch list.
func (s *Service) Subscribe(ctx context.Context, chatID int64, username string) (SubscribeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	sub, err := s.repo.Get(ctx, chatID)
	switch {
	case errors.Is(err, ErrNotFound):
		if username == "" {
			username = "Unknown"
		}
		sub = Subscriber{ChatID: chatID, Username: username, Active: true, Watched: []string{}, SubscribedAt: now}
		if err := s.repo.Put(ctx, sub); err != nil {
			return 0, fmt.Errorf("subscribe %d: %w", chatID, err)
		}
		return Created, nil
	case err != nil:
		return 0, fmt.Errorf("subscribe %d: %w", chatID, err)
	case sub.Active:
		return 0, ErrAlreadySubscribed
	}

	sub.Active = true
	sub.ResubscribedAt = now
	sub.Watched = []string{}
	if err := s.repo.Put(ctx, sub); err != nil {
		return 0, fmt.Errorf("resubscribe %d: %w", chatID, err)
	}
	return Reactivated, nil
}

// Unsubscribe deactivates the record and clears its watch list.
func (s *Service) Unsubscribe(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.active(ctx, chatID)
	if err != nil {
		return err
	}
	sub.Active = false
	sub.UnsubscribedAt = s.now().UTC()
	sub.Watched = []string{}
	if err := s.repo.Put(ctx, sub); err != nil {
		return fmt.Errorf("unsubscribe %d: %w", chatID, err)
	}
	return nil
}

// Watch adds addr to the watch list and returns the new list size.
func (s *Service) Watch(ctx context.Context, chatID int64, addr string) (int, error) {
	if err := ValidateAddress(addr); err != nil {
		return 0, err
	}
	key := oracle.NormalizeAddress(addr)

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.active(ctx, chatID)
	if err != nil {
		return 0, err
	}
	if sub.Watches(key) {
		return len(sub.Watched), ErrAlreadyWatching
	}
	sub.Watched = append(sub.Watched, key)
	if err := s.repo.Put(ctx, sub); err != nil {
		return 0, fmt.Errorf("watch %d: %w", chatID, err)
	}
	return len(sub.Watched), nil
}

// Unwatch removes addr and returns how many addresses remain. Zero means
// the subscriber is back to receiving changes for all indexers.
func (s *Service) Unwatch(ctx context.Context, chatID int64, addr string) (int, error) {
	key := oracle.NormalizeAddress(addr)
	if key == "" {
		return 0, ErrInvalidAddress
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.active(ctx, chatID)
	if err != nil {
		return 0, err
	}
	i := slices.Index(sub.Watched, key)
	if i < 0 {
		return len(sub.Watched), ErrNotWatching
	}
	sub.Watched = slices.Delete(sub.Watched, i, i+1)
	if err := s.repo.Put(ctx, sub); err != nil {
		return 0, fmt.Errorf("unwatch %d: %w", chatID, err)
	}
	return len(sub.Watched), nil
}

func (s *Service) Watchlist(ctx context.Context, chatID int64) ([]string, error) {
	sub, err := s.active(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return sub.Watched, nil
}

func (s *Service) active(ctx context.Context, chatID int64) (Subscriber, error) {
	sub, err := s.repo.Get(ctx, chatID)
	if errors.Is(err, ErrNotFound) {
		return Subscriber{}, ErrNotSubscribed
	}
	if err != nil {
		return Subscriber{}, err
	}
	if !sub.Active {
		return Subscriber{}, ErrNotSubscribed
	}
	return sub, nil
}
