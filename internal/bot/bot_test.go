package bot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reobot/internal/storage"
	"reobot/internal/subscriber"
	"reobot/internal/transport"
	"reobot/pkg/logx"
)

const watchAddr = "0x1234567890ABCDEF1234567890abcdef12345678"

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	opts  []*transport.SendOptions
	menu  []transport.BotCommand
}

func (f *fakeSender) SendText(_ context.Context, _ transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.opts = append(f.opts, opt)
	return transport.MessageRef{}, nil
}

func (f *fakeSender) UpdateMenuCommands(_ context.Context, cmds []transport.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = cmds
	return nil
}

func (f *fakeSender) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

type harness struct {
	router *Router
	sender *fakeSender
	store  storage.Store
	audit  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.Open(storage.Config{Path: filepath.Join(dir, "subs.json")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	now := func() time.Time { return time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC) }
	h := &Handlers{
		Subs:         subscriber.NewService(st, now),
		Audit:        st,
		DashboardURL: "http://example.test/reo/",
		Now:          now,
	}
	sender := &fakeSender{}
	r := NewRouter(logx.Nop(), sender)
	r.SetCommands(h.Commands())
	return &harness{router: r, sender: sender, store: st, audit: filepath.Join(dir, "telegram_bot_activity.log")}
}

func (h *harness) send(t *testing.T, text string) string {
	t.Helper()
	up := transport.Update{Message: &transport.Message{ChatID: 42, FromID: 7, FromUsername: "alice", Text: text}}
	require.NoError(t, h.router.Handle(context.Background(), up))
	return h.sender.last()
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		name string
		args []string
		ok   bool
	}{
		{in: "/watch 0xabc", name: "watch", args: []string{"0xabc"}, ok: true},
		{in: "/Start@reo_bot", name: "start", args: []string{}, ok: true},
		{in: "  /stats  ", name: "stats", args: []string{}, ok: true},
		{in: "hello", ok: false},
		{in: "/", ok: false},
		{in: "", ok: false},
	}
	for _, tc := range tests {
		name, args, ok := parseCommand(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		if !tc.ok {
			continue
		}
		require.Equal(t, tc.name, name)
		require.Equal(t, tc.args, args)
	}
}

func TestSubscribeWatchUnsubscribeFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	require.Contains(t, h.send(t, "/start"), "Welcome to REO Dashboard Notifications!")
	require.Contains(t, h.send(t, "/watch "+watchAddr), "You must be subscribed first")

	require.Contains(t, h.send(t, "/subscribe"), "Successfully subscribed!")
	require.Contains(t, h.send(t, "/subscribe"), "already subscribed")

	require.Contains(t, h.send(t, "/watchlist"), "Watching: All Indexers")
	require.Contains(t, h.send(t, "/watch"), "Usage:")
	require.Contains(t, h.send(t, "/watch 0x123"), "Invalid Ethereum address format")

	out := h.send(t, "/watch "+watchAddr)
	require.Contains(t, out, "Now watching indexer:")
	require.Contains(t, out, "Total watched: 1")
	require.Contains(t, h.send(t, "/watch "+strings.ToLower(watchAddr)), "already watching")

	sub, err := h.store.Get(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, []string{strings.ToLower(watchAddr)}, sub.Watched)

	list := h.send(t, "/watchlist")
	require.Contains(t, list, "Watched Indexers (1):")
	require.Contains(t, list, "<code>"+strings.ToLower(watchAddr)+"</code>")

	require.Contains(t, h.send(t, "/status"), "(1 watched indexers)")

	out = h.send(t, "/unwatch "+watchAddr)
	require.Contains(t, out, "Watch list is now empty.")
	require.Contains(t, h.send(t, "/unwatch "+watchAddr), "not watching this indexer")

	require.Contains(t, h.send(t, "/unsubscribe"), "Successfully unsubscribed!")
	require.Contains(t, h.send(t, "/unsubscribe"), "not currently subscribed")
	require.Contains(t, h.send(t, "/status"), "Subscription Status: Not Active")

	require.Contains(t, h.send(t, "/subscribe"), "Subscription reactivated")

	stats := h.send(t, "/stats")
	require.Contains(t, stats, "Active Subscribers: 1")
	require.Contains(t, stats, "Notifications Sent: 0")

	b, err := os.ReadFile(h.audit)
	require.NoError(t, err)
	log := string(b)
	for _, action := range []string{"START", "NEW_SUBSCRIBER", "WATCH_ADD", "WATCH_REMOVE", "UNSUBSCRIBED", "RESUBSCRIBED", "STATS_VIEW"} {
		require.Contains(t, log, " - "+action+" - Chat ID: 42, Username: @alice", action)
	}
}

func TestTestCommandRequiresSubscription(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	require.Contains(t, h.send(t, "/test"), "must be subscribed to test")
	h.send(t, "/subscribe")
	require.Contains(t, h.send(t, "/test"), "Test Notification")
}

func TestHelpAndUnknownCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	help := h.send(t, "/help")
	require.Contains(t, help, "REO Dashboard Bot - Help")
	require.Contains(t, help, "/watch &lt;address&gt; - Watch a specific indexer")
	require.Equal(t, transport.ParseModeHTML, h.sender.opts[len(h.sender.opts)-1].ParseMode)

	require.Equal(t, "Unknown command. Try /help", h.send(t, "/nope"))

	before := h.sender.count()
	h.send(t, "just chatting")
	require.Equal(t, before, h.sender.count())
}

func TestPublishMenuSkipsHidden(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.router.PublishMenu(context.Background())

	names := make([]string, 0, len(h.sender.menu))
	for _, c := range h.sender.menu {
		names = append(names, c.Command)
	}
	require.Equal(t, []string{"start", "subscribe", "unsubscribe", "watch", "unwatch", "watchlist", "status", "stats", "help"}, names)
}

func TestDispatchLoopDrainsOnClose(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	updates := make(chan transport.Update, 2)
	updates <- transport.Update{Message: &transport.Message{ChatID: 1, Text: "/help"}}
	updates <- transport.Update{Message: &transport.Message{ChatID: 2, Text: "/start"}}
	close(updates)

	require.NoError(t, h.router.DispatchLoop(context.Background(), updates))
	require.Equal(t, 2, h.sender.count())
}

func TestPanicRecovered(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	r := NewRouter(logx.Nop(), sender)
	r.SetCommands([]Command{{Name: "boom", Handle: func(context.Context, *Request) error { panic("x") }}})
	err := r.Handle(context.Background(), transport.Update{Message: &transport.Message{ChatID: 1, Text: "/boom"}})
	require.ErrorContains(t, err, "panic: x")
}
