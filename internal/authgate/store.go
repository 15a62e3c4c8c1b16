package authgate

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"
)

var (
	ErrRateLimited = errors.New("authgate: too many requests")
	ErrNoCode      = errors.New("authgate: no pending code")
	ErrCodeExpired = errors.New("authgate: code expired")
	ErrCodeInvalid = errors.New("authgate: invalid code")
)

// GenerateCode returns a random 6-digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

type pendingCode struct {
	code    string
	expires time.Time
}

// CodeStore holds at most one pending code per email.
type CodeStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	codes map[string]pendingCode
}

func NewCodeStore(ttl time.Duration, now func() time.Time) *CodeStore {
	if now == nil {
		now = time.Now
	}
	return &CodeStore{ttl: ttl, now: now, codes: map[string]pendingCode{}}
}

// Put replaces any pending code for email and drops every expired one.
func (s *CodeStore) Put(email, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, p := range s.codes {
		if now.After(p.expires) {
			delete(s.codes, k)
		}
	}
	s.codes[email] = pendingCode{code: code, expires: now.Add(s.ttl)}
}

// Len reports the number of pending codes.
func (s *CodeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}

// Verify consumes the pending code on success or expiry. A wrong code keeps
// it so the user can retry.
func (s *CodeStore) Verify(email, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.codes[email]
	if !ok {
		return ErrNoCode
	}
	if s.now().After(p.expires) {
		delete(s.codes, email)
		return ErrCodeExpired
	}
	if code != p.code {
		return ErrCodeInvalid
	}
	delete(s.codes, email)
	return nil
}

// Limiter is a sliding-window counter keyed by email. Keys with no hit in
// the window are swept at most once per window.
type Limiter struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	now    func() time.Time
	hits   map[string][]time.Time
	swept  time.Time
}

func NewLimiter(window time.Duration, limit int, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{window: window, limit: limit, now: now, hits: map[string][]time.Time{}}
}

// Allow records a request for key, or returns ErrRateLimited when the
// window is already full. Rejected requests are not recorded.
func (l *Limiter) Allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.swept) >= l.window {
		for k, ts := range l.hits {
			if len(ts) == 0 || now.Sub(ts[len(ts)-1]) >= l.window {
				delete(l.hits, k)
			}
		}
		l.swept = now
	}
	kept := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if now.Sub(t) < l.window {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.limit {
		l.hits[key] = kept
		return ErrRateLimited
	}
	l.hits[key] = append(kept, now)
	return nil
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// Sessions is the set of issued session tokens still honored. A token lives
// until Remove or until its ttl passes, whichever comes first.
type Sessions struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	tokens map[string]time.Time
}

func NewSessions(ttl time.Duration, now func() time.Time) *Sessions {
	if now == nil {
		now = time.Now
	}
	return &Sessions{ttl: ttl, now: now, tokens: map[string]time.Time{}}
}

// Add registers token and drops every expired one.
func (s *Sessions) Add(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, exp := range s.tokens {
		if !now.Before(exp) {
			delete(s.tokens, k)
		}
	}
	s.tokens[token] = now.Add(s.ttl)
}

func (s *Sessions) Has(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.tokens[token]
	if !ok {
		return false
	}
	if !s.now().Before(exp) {
		delete(s.tokens, token)
		return false
	}
	return true
}

func (s *Sessions) Remove(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
