// Package oracle reads the files produced by the eligibility oracle: the
// active indexer snapshot and the activity log of status transitions.
package oracle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusEligible   Status = "eligible"
	StatusGrace      Status = "grace"
	StatusIneligible Status = "ineligible"
)

// Statuses lists the valid statuses in display order.
var Statuses = []Status{StatusEligible, StatusGrace, StatusIneligible}

func (s Status) Valid() bool {
	switch s {
	case StatusEligible, StatusGrace, StatusIneligible:
		return true
	}
	return false
}

// StatusChange is one transition from the activity log.
type StatusChange struct {
	Address  string `json:"address"`
	Previous Status `json:"previous_status"`
	New      Status `json:"new_status"`
}

// Key is the normalized address used for watch-list matching.
func (c StatusChange) Key() string { return NormalizeAddress(c.Address) }

// NormalizeAddress is the single normalization rule for indexer addresses.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

type ActivityLog struct {
	Changes []StatusChange `json:"status_changes"`
}

type Indexer struct {
	Address               string `json:"address"`
	Status                Status `json:"status"`
	EligibleUntilReadable string `json:"eligible_until_readable,omitempty"`
}

// Metadata carries the oracle pass time. LastUpdateTime is nil when the
// field is absent, zero or not a number.
type Metadata struct {
	LastUpdateTime *float64
}

func (m *Metadata) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.LastUpdateTime = nil
	for _, key := range []string{"last_oracle_update_time", "last_update_time"} {
		v, ok := raw[key]
		if !ok {
			continue
		}
		var f float64
		dec := json.NewDecoder(bytes.NewReader(v))
		if err := dec.Decode(&f); err != nil || f <= 0 {
			continue
		}
		m.LastUpdateTime = &f
		return nil
	}
	return nil
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if m.LastUpdateTime != nil {
		out["last_oracle_update_time"] = *m.LastUpdateTime
	}
	return json.Marshal(out)
}

// UpdatedAt returns the pass time in UTC.
func (m Metadata) UpdatedAt() (time.Time, bool) {
	if m.LastUpdateTime == nil {
		return time.Time{}, false
	}
	sec := *m.LastUpdateTime
	whole := int64(sec)
	nanos := int64((sec - float64(whole)) * float64(time.Second))
	return time.Unix(whole, nanos).UTC(), true
}

type Snapshot struct {
	Metadata Metadata  `json:"metadata"`
	Indexers []Indexer `json:"indexers"`
}

type Counts struct {
	Total      int
	Eligible   int
	Grace      int
	Ineligible int
}

// Counts scans the indexer list. Unknown statuses count toward Total only.
func (s *Snapshot) Counts() Counts {
	c := Counts{Total: len(s.Indexers)}
	for _, idx := range s.Indexers {
		switch idx.Status {
		case StatusEligible:
			c.Eligible++
		case StatusGrace:
			c.Grace++
		case StatusIneligible:
			c.Ineligible++
		}
	}
	return c
}

// EligibleUntil returns the readable grace expiry of addr, or "".
func (s *Snapshot) EligibleUntil(addr string) string {
	key := NormalizeAddress(addr)
	for _, idx := range s.Indexers {
		if NormalizeAddress(idx.Address) == key {
			return idx.EligibleUntilReadable
		}
	}
	return ""
}

// validate rejects a snapshot without an indexers list. A null document,
// an empty object and a missing or null "indexers" key all land here.
func (s *Snapshot) validate() error {
	if s.Indexers == nil {
		return errors.New("missing indexers list")
	}
	return nil
}

// validate checks every transition. A null document decodes to an empty log,
// which means no changes.
func (l *ActivityLog) validate() error {
	for i, c := range l.Changes {
		if strings.TrimSpace(c.Address) == "" {
			return fmt.Errorf("status_changes[%d]: empty address", i)
		}
		if !c.Previous.Valid() {
			return fmt.Errorf("status_changes[%d]: invalid previous_status %q", i, c.Previous)
		}
		if !c.New.Valid() {
			return fmt.Errorf("status_changes[%d]: invalid new_status %q", i, c.New)
		}
	}
	return nil
}
