package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"reobot/internal/eventbus"
	"reobot/pkg/logx"
)

const (
	EventTaskFinished = "scheduler.task.finished"
	EventTaskSkipped  = "scheduler.task.skipped"
)

type Config struct {
	Timezone string // IANA TZ, e.g. "UTC", "Europe/Berlin"
}

// TaskEvent is the Data of scheduler events.
type TaskEvent struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Err      error
}

// Entry describes one registered schedule.
type Entry struct {
	Name    string
	Spec    string
	Next    time.Time
	Running bool
}

type task struct {
	name    string
	spec    string
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
	running atomic.Bool
}

// Service owns one cron runner. Runs of the same task never overlap: a
// trigger that fires while the previous run is still in flight is skipped.
type Service struct {
	mu     sync.Mutex
	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	parser cron.Parser
	c      *cron.Cron
	loc    *time.Location
	tasks  map[string]*task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		bus: bus,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		tasks:  map[string]*task{},
	}
}

// AddSchedule parses schedule and registers job under name, replacing any
// previous task with the same name.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = "@every " + ps.Every.String()
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	t := &task{name: name, spec: spec, timeout: timeout, job: job}
	s.tasks[name] = t
	if s.c != nil {
		if err := s.addLocked(t); err != nil {
			return err
		}
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout))
	return nil
}

func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	t, ok := s.tasks[name]
	if !ok {
		return false
	}
	if s.c != nil && t.entryID != 0 {
		s.c.Remove(t.entryID)
	}
	delete(s.tasks, name)
	return true
}

// Start begins triggering. Jobs receive a context derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.loc = s.location()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, t := range s.tasks {
		if err := s.addLocked(t); err != nil {
			s.log.Error("schedule register failed", logx.String("name", t.name), logx.String("spec", t.spec), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.tasks)))
}

// Stop stops triggering and waits for in-flight runs until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		cancel()
	}
	cancel()
	s.log.Info("scheduler stopped")
}

// Entries lists registered schedules by name.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.tasks))
	for _, t := range s.tasks {
		e := Entry{Name: t.name, Spec: t.spec, Running: t.running.Load()}
		if s.c != nil && t.entryID != 0 {
			e.Next = s.c.Entry(t.entryID).Next
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (s *Service) addLocked(t *task) error {
	id, err := s.c.AddFunc(t.spec, func() { s.run(t) })
	if err != nil {
		return err
	}
	t.entryID = id
	return nil
}

func (s *Service) run(t *task) {
	if !t.running.CompareAndSwap(false, true) {
		s.log.Warn("task still running; trigger skipped", logx.String("name", t.name))
		s.bus.Publish(eventbus.Event{Type: EventTaskSkipped, Data: TaskEvent{Name: t.name}})
		return
	}
	s.wg.Add(1)
	defer func() {
		t.running.Store(false)
		s.wg.Done()
	}()

	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx := parent
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, t.timeout)
		defer cancel()
	}

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return t.job(ctx)
	}()
	ev := TaskEvent{Name: t.name, Started: start, Duration: time.Since(start), Err: err}
	if err != nil {
		s.log.Error("task failed", logx.String("name", t.name), logx.Duration("dur", ev.Duration), logx.Err(err))
	} else {
		s.log.Info("task finished", logx.String("name", t.name), logx.Duration("dur", ev.Duration))
	}
	s.bus.Publish(eventbus.Event{Type: EventTaskFinished, Data: ev})
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}

// RunNow executes the named task immediately, honoring the overlap rule.
func (s *Service) RunNow(name string) bool {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.run(t)
	return true
}
