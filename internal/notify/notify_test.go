package notify

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reobot/internal/eventbus"
	"reobot/internal/oracle"
	"reobot/internal/storage"
	"reobot/internal/subscriber"
	"reobot/internal/transport"
	"reobot/pkg/logx"
)

const (
	addrAA = "0xAA00000000000000000000000000000000000001"
	addrBB = "0xBB00000000000000000000000000000000000002"
)

type sent struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu   sync.Mutex
	fail map[int64]error
	sent []sent
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{chatID: to.ChatID, text: text})
	if err := f.fail[to.ChatID]; err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) to(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if s.chatID == chatID {
			out = append(out, s.text)
		}
	}
	return out
}

type countingCounter struct{ n int }

func (c *countingCounter) IncrementNotifications(context.Context) error { c.n++; return nil }

type countingRecorder struct{ n int }

func (r *countingRecorder) RecordSent(context.Context) error { r.n++; return nil }

type memGate struct {
	rec     storage.GateRecord
	has     bool
	loadErr error
}

func (m *memGate) LoadGate(context.Context) (storage.GateRecord, error) {
	if m.loadErr != nil {
		return storage.GateRecord{}, m.loadErr
	}
	if !m.has {
		return storage.GateRecord{}, storage.ErrNotFound
	}
	return m.rec, nil
}

func (m *memGate) SaveGate(_ context.Context, r storage.GateRecord) error {
	m.rec, m.has = r, true
	return nil
}

func scenarioSnapshot() *oracle.Snapshot {
	ts := float64(time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC).Unix())
	snap := &oracle.Snapshot{Metadata: oracle.Metadata{LastUpdateTime: &ts}}
	add := func(n int, st oracle.Status) {
		for i := 0; i < n; i++ {
			snap.Indexers = append(snap.Indexers, oracle.Indexer{
				Address: fmt.Sprintf("0x%s%038d", st[:2], len(snap.Indexers)),
				Status:  st,
			})
		}
	}
	add(6, oracle.StatusEligible)
	add(1, oracle.StatusGrace)
	add(2, oracle.StatusIneligible)
	snap.Indexers = append(snap.Indexers, oracle.Indexer{Address: addrAA, Status: oracle.StatusGrace, EligibleUntilReadable: "2025-06-15 00:00:00 UTC"})
	return snap
}

func TestFilterChanges_EmptyWatchReturnsAllInOrder(t *testing.T) {
	t.Parallel()
	all := []oracle.StatusChange{
		{Address: addrBB, Previous: oracle.StatusEligible, New: oracle.StatusGrace},
		{Address: addrAA, Previous: oracle.StatusGrace, New: oracle.StatusIneligible},
	}
	require.Equal(t, all, FilterChanges(all, nil))
	require.Equal(t, all, FilterChanges(all, []string{}))
}

func TestFilterChanges_CaseInsensitiveSubsequence(t *testing.T) {
	t.Parallel()
	all := []oracle.StatusChange{
		{Address: addrAA, Previous: oracle.StatusEligible, New: oracle.StatusGrace},
		{Address: addrBB, Previous: oracle.StatusEligible, New: oracle.StatusGrace},
		{Address: strings.ToLower(addrAA), Previous: oracle.StatusGrace, New: oracle.StatusIneligible},
	}
	before := append([]oracle.StatusChange(nil), all...)

	got := FilterChanges(all, []string{strings.ToLower(addrAA)})
	require.Equal(t, []oracle.StatusChange{all[0], all[2]}, got)
	require.Equal(t, before, all)

	require.Empty(t, FilterChanges(all, []string{"0xcc"}))
}

func TestFormat_DeterministicAndStatsAlwaysPresent(t *testing.T) {
	t.Parallel()
	f := Formatter{DashboardURL: "http://example.test/reo/"}
	snap := scenarioSnapshot()
	changes := []oracle.StatusChange{{Address: addrAA, Previous: oracle.StatusIneligible, New: oracle.StatusGrace}}

	a := f.Format(snap, changes)
	require.Equal(t, a, f.Format(snap, changes))
	require.Contains(t, a, "Update Time: 2025-06-01 09:30:00 UTC")
	require.Contains(t, a, "Status Changes Detected")

	empty := f.Format(snap, nil)
	require.NotContains(t, empty, "Status Changes Detected")
	require.Contains(t, empty, "• Total Indexers: 10")
	require.Contains(t, empty, "• Eligible: 6 ✅")
	require.Contains(t, empty, "• Grace Period: 2 ⚠️")
	require.Contains(t, empty, "• Ineligible: 2 ❌")
	require.Contains(t, empty, `<a href="http://example.test/reo/">View Full Dashboard</a>`)
}

func TestFormat_UnknownUpdateTimeAndBucketOrder(t *testing.T) {
	t.Parallel()
	f := Formatter{DashboardURL: "u"}
	out := f.Format(&oracle.Snapshot{}, []oracle.StatusChange{
		{Address: "0xi", Previous: oracle.StatusGrace, New: oracle.StatusIneligible},
		{Address: "0xe", Previous: oracle.StatusGrace, New: oracle.StatusEligible},
		{Address: "0xg", Previous: oracle.StatusEligible, New: oracle.StatusGrace},
	})
	require.Contains(t, out, "Update Time: Unknown")
	e := strings.Index(out, "<code>0xe</code>")
	g := strings.Index(out, "<code>0xg</code>")
	i := strings.Index(out, "<code>0xi</code>")
	require.True(t, e >= 0 && e < g && g < i, out)
	require.Contains(t, out, "grace → eligible ✅")
	require.Contains(t, out, "eligible → grace period ⚠️")
	require.Contains(t, out, "grace → ineligible ❌")
}

func TestFormatDetailed_CapsBucketAtFive(t *testing.T) {
	t.Parallel()
	f := Formatter{DashboardURL: "u"}
	var changes []oracle.StatusChange
	for i := 0; i < 7; i++ {
		changes = append(changes, oracle.StatusChange{
			Address:  fmt.Sprintf("0x%040d", i),
			Previous: oracle.StatusEligible,
			New:      oracle.StatusGrace,
		})
	}
	out := f.FormatDetailed(&oracle.Snapshot{}, changes)
	require.Contains(t, out, "Entered Grace Period (7):")
	require.Equal(t, 5, strings.Count(out, "(eligible → grace)"))
	require.Contains(t, out, "• ... and 2 more")
	require.Contains(t, out, "<code>0x00000000...000000</code>")

	require.Empty(t, f.FormatDetailed(&oracle.Snapshot{}, nil))
}

func TestFormat_KeepsInputOrderWithinBucket(t *testing.T) {
	t.Parallel()
	out := Formatter{DashboardURL: "u"}.Format(&oracle.Snapshot{}, []oracle.StatusChange{
		{Address: "0xe2", Previous: oracle.StatusGrace, New: oracle.StatusEligible},
		{Address: "0xg1", Previous: oracle.StatusEligible, New: oracle.StatusGrace},
		{Address: "0xe1", Previous: oracle.StatusIneligible, New: oracle.StatusEligible},
		{Address: "0xe3", Previous: oracle.StatusGrace, New: oracle.StatusEligible},
	})
	e2 := strings.Index(out, "<code>0xe2</code>")
	e1 := strings.Index(out, "<code>0xe1</code>")
	e3 := strings.Index(out, "<code>0xe3</code>")
	g1 := strings.Index(out, "<code>0xg1</code>")
	require.True(t, e2 >= 0 && e2 < e1 && e1 < e3 && e3 < g1, out)
}

func TestFormatDetailed_CapsEachBucketIndependently(t *testing.T) {
	t.Parallel()
	var changes []oracle.StatusChange
	for i := 0; i < 7; i++ {
		changes = append(changes, oracle.StatusChange{Address: fmt.Sprintf("0x%040d", i), Previous: oracle.StatusEligible, New: oracle.StatusGrace})
	}
	for i := 0; i < 6; i++ {
		changes = append(changes, oracle.StatusChange{Address: fmt.Sprintf("0x%040d", 100+i), Previous: oracle.StatusGrace, New: oracle.StatusIneligible})
	}
	out := Formatter{DashboardURL: "u"}.FormatDetailed(&oracle.Snapshot{}, changes)

	require.Contains(t, out, "Entered Grace Period (7):")
	require.Contains(t, out, "Became Ineligible (6):")
	require.Equal(t, 5, strings.Count(out, "(eligible → grace)"))
	require.Equal(t, 5, strings.Count(out, "(grace → ineligible)"))

	grace := strings.Index(out, "Entered Grace Period")
	inel := strings.Index(out, "Became Ineligible")
	require.Contains(t, out[grace:inel], "• ... and 2 more")
	require.Contains(t, out[inel:], "• ... and 1 more")
}

func TestFormatDetailed_GraceShowsExpiry(t *testing.T) {
	t.Parallel()
	out := Formatter{}.FormatDetailed(scenarioSnapshot(), []oracle.StatusChange{
		{Address: strings.ToLower(addrAA), Previous: oracle.StatusIneligible, New: oracle.StatusGrace},
	})
	require.Contains(t, out, "Expires: 2025-06-15 00:00:00 UTC")
}

func TestGate_OncePerUTCDay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	g := NewGate(&memGate{}, func() time.Time { return now }, logx.Nop())

	require.True(t, g.MaySendToday(ctx))
	require.True(t, g.MaySendToday(ctx))

	require.NoError(t, g.RecordSent(ctx))
	require.False(t, g.MaySendToday(ctx))

	rec, err := g.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, "2025-06-01", rec.LastNotificationDate)
	require.Equal(t, "2025-06-01 23:00:00 UTC", rec.LastNotificationTimestamp)

	now = now.Add(2 * time.Hour)
	require.True(t, g.MaySendToday(ctx))
}

func TestGate_UnreadableRecordFailsOpen(t *testing.T) {
	t.Parallel()
	g := NewGate(&memGate{loadErr: errors.New("corrupt")}, nil, logx.Nop())
	require.True(t, g.MaySendToday(context.Background()))
}

func TestGate_FileStoreCorruptRecord(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	gatePath := filepath.Join(dir, "gate.json")
	require.NoError(t, os.WriteFile(gatePath, []byte("{nope"), 0o644))
	st, err := storage.Open(storage.Config{Path: filepath.Join(dir, "subs.json"), GatePath: gatePath}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	g := NewGate(st, nil, logx.Nop())
	require.True(t, g.MaySendToday(context.Background()))
	require.NoError(t, g.RecordSent(context.Background()))
	require.False(t, g.MaySendToday(context.Background()))
}

func activeSubs(ids ...int64) []subscriber.Subscriber {
	out := make([]subscriber.Subscriber, 0, len(ids))
	for _, id := range ids {
		out = append(out, subscriber.Subscriber{ChatID: id, Active: true})
	}
	return out
}

func TestDeliverAll_FailureDoesNotAbort(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{fail: map[int64]error{3: transport.ErrChatUnreachable}}
	counter := &countingCounter{}
	rec := &countingRecorder{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	e := NewEngine(EngineOptions{Sender: sender, Counter: counter, Recorder: rec, Bus: bus})
	res := e.DeliverAll(context.Background(), activeSubs(1, 2, 3, 4, 5), &oracle.Snapshot{}, nil)

	require.Equal(t, 4, res.Success)
	require.Equal(t, 1, res.Failed)
	require.Len(t, sender.sent, 5)
	require.Equal(t, int64(3), res.Failures[0].ChatID)
	require.ErrorIs(t, res.Failures[0].Err, transport.ErrChatUnreachable)
	require.Equal(t, 1, counter.n)
	require.Equal(t, 1, rec.n)

	first := <-events
	require.Equal(t, EventDeliveryFailed, first.Type)
	require.Equal(t, int64(3), first.Data.(DeliveryFailedEvent).ChatID)
	last := <-events
	require.Equal(t, EventBatchFinished, last.Type)
}

func TestDeliverAll_NoSuccessNoRecord(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	sender := &fakeSender{fail: map[int64]error{1: boom, 2: boom}}
	counter := &countingCounter{}
	rec := &countingRecorder{}
	e := NewEngine(EngineOptions{Sender: sender, Counter: counter, Recorder: rec})

	res := e.DeliverAll(context.Background(), activeSubs(1, 2), &oracle.Snapshot{}, nil)
	require.Equal(t, 0, res.Success)
	require.Equal(t, 2, res.Failed)
	require.Zero(t, counter.n)
	require.Zero(t, rec.n)
}

func TestDeliverAll_SkipsInactiveAndZeroChat(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	subs := []subscriber.Subscriber{
		{ChatID: 1, Active: true},
		{ChatID: 2, Active: false},
		{ChatID: 0, Active: true},
	}
	res := NewEngine(EngineOptions{Sender: sender}).DeliverAll(context.Background(), subs, &oracle.Snapshot{}, nil)
	require.Equal(t, 1, res.Success)
	require.Len(t, sender.sent, 1)
}

type countingPacer struct{ n int }

func (p *countingPacer) Wait(ctx context.Context) error { p.n++; return ctx.Err() }

func TestDeliverAll_PacesEverySend(t *testing.T) {
	t.Parallel()
	p := &countingPacer{}
	NewEngine(EngineOptions{Sender: &fakeSender{}, Pacer: p}).DeliverAll(context.Background(), activeSubs(1, 2, 3), &oracle.Snapshot{}, nil)
	require.Equal(t, 3, p.n)
}

func TestDeliverAll_CancelledContextStops(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sender := &fakeSender{}
	rec := &countingRecorder{}
	res := NewEngine(EngineOptions{Sender: sender, Recorder: rec}).DeliverAll(ctx, activeSubs(1, 2), &oracle.Snapshot{}, nil)
	require.Zero(t, res.Success+res.Failed)
	require.Empty(t, sender.sent)
	require.Zero(t, rec.n)
}

type cancelOnSend struct {
	cancel context.CancelFunc
	n      int
}

func (c *cancelOnSend) SendText(_ context.Context, to transport.ChatTarget, _ string, _ *transport.SendOptions) (transport.MessageRef, error) {
	c.n++
	c.cancel()
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func TestDeliverAll_CancelAfterSuccessStillRecords(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := storage.Open(storage.Config{
		Path:     filepath.Join(dir, "subs.json"),
		GatePath: filepath.Join(dir, "gate.json"),
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	gate := NewGate(st, nil, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sender := &cancelOnSend{cancel: cancel}
	res := NewEngine(EngineOptions{Sender: sender, Counter: st, Recorder: gate}).
		DeliverAll(ctx, activeSubs(1, 2, 3), &oracle.Snapshot{}, nil)

	require.Equal(t, 1, res.Success)
	require.Equal(t, 1, sender.n)
	require.False(t, gate.MaySendToday(context.Background()))
	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalNotificationsSent)
}

func TestDeliverAll_DetailedFollowsSummary(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	subs := []subscriber.Subscriber{
		{ChatID: 1, Active: true, Watched: []string{strings.ToLower(addrAA)}},
		{ChatID: 2, Active: true, Watched: []string{strings.ToLower(addrBB)}},
	}
	changes := []oracle.StatusChange{{Address: addrAA, Previous: oracle.StatusIneligible, New: oracle.StatusGrace}}
	res := NewEngine(EngineOptions{Sender: sender, Detailed: true}).DeliverAll(context.Background(), subs, scenarioSnapshot(), changes)
	require.Equal(t, 2, res.Success)
	require.Len(t, sender.to(1), 2)
	require.Contains(t, sender.to(1)[1], "Detailed Status Changes")
	require.Len(t, sender.to(2), 1)
}

func TestNewRatePacer(t *testing.T) {
	t.Parallel()
	require.IsType(t, NopPacer{}, NewRatePacer(0))
	p := NewRatePacer(time.Millisecond)
	require.NoError(t, p.Wait(context.Background()))
}

type fakeOracle struct {
	snap    *oracle.Snapshot
	act     *oracle.ActivityLog
	snapErr error
	actErr  error
}

func (f fakeOracle) Snapshot(context.Context) (*oracle.Snapshot, error) { return f.snap, f.snapErr }
func (f fakeOracle) Activity(context.Context) (*oracle.ActivityLog, error) {
	return f.act, f.actErr
}

type staticSubs []subscriber.Subscriber

func (s staticSubs) ActiveSubscribers(context.Context) ([]subscriber.Subscriber, error) {
	return s, nil
}

func newBatch(src oracle.Source, subs staticSubs, sender transport.Sender, gs *memGate) *Batch {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	gate := NewGate(gs, func() time.Time { return now }, logx.Nop())
	return &Batch{
		Gate:        gate,
		Subscribers: subs,
		Oracle:      src,
		Engine: NewEngine(EngineOptions{
			Sender:    sender,
			Formatter: Formatter{DashboardURL: "http://example.test/reo/"},
			Recorder:  gate,
		}),
	}
}

func TestBatch_ExampleScenario(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	gs := &memGate{}
	src := fakeOracle{
		snap: scenarioSnapshot(),
		act: &oracle.ActivityLog{Changes: []oracle.StatusChange{
			{Address: addrAA, Previous: oracle.StatusIneligible, New: oracle.StatusGrace},
		}},
	}
	subs := staticSubs{
		{ChatID: 1, Active: true, Watched: []string{strings.ToLower(addrAA)}},
		{ChatID: 2, Active: true, Watched: []string{strings.ToLower(addrBB)}},
	}

	out, err := newBatch(src, subs, sender, gs).Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, out.Skipped)
	require.Equal(t, 2, out.Result.Success)

	one := sender.to(1)[0]
	require.Contains(t, one, "<code>"+addrAA+"</code>")
	require.Contains(t, one, "ineligible → grace period ⚠️")
	require.Contains(t, one, "• Total Indexers: 10")

	two := sender.to(2)[0]
	require.NotContains(t, two, "Status Changes Detected")
	require.NotContains(t, two, "<code>")
	require.Contains(t, two, "• Eligible: 6 ✅")

	require.True(t, gs.has)
	require.Equal(t, "2025-06-01", gs.rec.LastNotificationDate)

	again, err := newBatch(src, subs, sender, gs).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, SkipAlreadySent, again.Skipped)
	require.Len(t, sender.sent, 2)
}

func TestBatch_Preconditions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	good := fakeOracle{snap: &oracle.Snapshot{}, act: &oracle.ActivityLog{}}

	out, err := newBatch(good, nil, &fakeSender{}, &memGate{}).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, SkipNoSubscribers, out.Skipped)

	sender := &fakeSender{}
	gs := &memGate{}
	_, err = newBatch(fakeOracle{snapErr: oracle.ErrMalformed}, staticSubs(activeSubs(1)), sender, gs).Run(ctx)
	require.ErrorIs(t, err, ErrInputUnavailable)
	require.Empty(t, sender.sent)
	require.False(t, gs.has)

	missing := fakeOracle{snap: &oracle.Snapshot{}, actErr: fmt.Errorf("open: %w", fs.ErrNotExist)}
	_, err = newBatch(missing, staticSubs(activeSubs(1)), sender, gs).Run(ctx)
	require.ErrorIs(t, err, ErrInputUnavailable)

	b := newBatch(missing, staticSubs(activeSubs(1)), sender, gs)
	b.AllowMissingActivity = true
	out, err = b.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, out.Result.Success)
}

func TestAnnouncer_Broadcast(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{fail: map[int64]error{2: errors.New("boom")}}
	a := &Announcer{Sender: sender}
	text := DefaultAnnouncement("http://example.test/reo/")
	res := a.Broadcast(context.Background(), append(activeSubs(1, 2), subscriber.Subscriber{ChatID: 3}), text)
	require.Equal(t, 1, res.Success)
	require.Equal(t, 1, res.Failed)
	require.Contains(t, sender.to(1)[0], "<code>/watch &lt;address&gt;</code>")
}
