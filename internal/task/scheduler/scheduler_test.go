package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"reobot/internal/eventbus"
	"reobot/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		cron     string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron", cron: "*/5 * * * *"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron", cron: "0 0 * * *"},
		{name: "descriptor", raw: "@daily", kind: SpecCron, source: "cron", cron: "@daily"},
		{name: "daily clock", raw: "09:30", kind: SpecCron, source: "daily", cron: "30 9 * * *"},
		{name: "prefixed daily", raw: "daily:7:05", kind: SpecCron, source: "daily", cron: "5 7 * * *"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "every:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecCron && got.Cron != tt.cron {
				t.Fatalf("Cron = %q, want %q", got.Cron, tt.cron)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "24:00", "12:60", "every:-1m", "cron:"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestAddScheduleRejectsBadCron(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	if err := s.AddSchedule("x", "cron:not a cron", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
	if err := s.AddSchedule("", "@daily", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestRunNowSkipsOverlap(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(Config{Timezone: "UTC"}, logx.Nop(), bus)
	release := make(chan struct{})
	var runs atomic.Int32
	err := s.AddSchedule("batch", "@daily", time.Second, func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return errors.New("done")
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		s.RunNow("batch")
		close(done)
	}()
	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("first run did not start")
		case <-time.After(5 * time.Millisecond):
		}
	}

	s.RunNow("batch")
	if ev := <-events; ev.Type != EventTaskSkipped {
		t.Fatalf("event = %s, want %s", ev.Type, EventTaskSkipped)
	}

	close(release)
	<-done
	ev := <-events
	if ev.Type != EventTaskFinished {
		t.Fatalf("event = %s, want %s", ev.Type, EventTaskFinished)
	}
	if te := ev.Data.(TaskEvent); te.Err == nil || te.Name != "batch" {
		t.Fatalf("unexpected task event: %+v", te)
	}
	if runs.Load() != 1 {
		t.Fatalf("runs = %d, want 1", runs.Load())
	}
	if s.RunNow("missing") {
		t.Fatal("RunNow on unknown task returned true")
	}
}

func TestStartStopEntries(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "Not/AZone"}, logx.Nop(), nil)
	if err := s.AddSchedule("b", "09:00", 0, func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSchedule("a", "1h", 0, func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	entries := s.Entries()
	if len(entries) != 2 || entries[0].Name != "a" || entries[1].Name != "b" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[1].Spec != "0 9 * * *" || entries[1].Next.IsZero() {
		t.Fatalf("unexpected daily entry: %+v", entries[1])
	}
	if !s.Remove("a") || s.Remove("a") {
		t.Fatal("Remove should succeed once")
	}
}
