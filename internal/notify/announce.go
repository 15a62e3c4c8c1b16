package notify

import (
	"context"
	"time"

	"reobot/internal/subscriber"
	"reobot/internal/transport"
	"reobot/pkg/logx"
	"reobot/pkg/tgui"
)

// DefaultAnnouncement introduces the watch-list commands.
func DefaultAnnouncement(dashboardURL string) string {
	return tgui.New().
		RawLine(tgui.B("🎉 New Features Available!")).
		Blank().
		RawLine("Great news! The REO Dashboard bot now supports " + tgui.B("indexer-specific subscriptions") + "!").
		Blank().
		RawLine(tgui.B("What's New:")).
		Blank().
		RawLine("🎯 " + tgui.B("Watch Specific Indexers")).
		Line("You can now choose to receive notifications only for indexers you care about:").
		Blank().
		RawLine("• " + tgui.Code("/watch <address>") + " - Watch a specific indexer").
		RawLine("• " + tgui.Code("/unwatch <address>") + " - Stop watching an indexer").
		RawLine("• " + tgui.Code("/watchlist") + " - View your watched indexers").
		Blank().
		RawLine(tgui.B("How It Works:")).
		Blank().
		RawLine("✅ By default, you receive notifications for " + tgui.B("all indexers") + " (current behavior)").
		RawLine("✅ Add indexers to your watch list to receive " + tgui.B("only their updates")).
		Line("✅ Watch multiple indexers - it's up to you!").
		Line("✅ Empty watch list = all notifications (default)").
		Blank().
		RawLine(tgui.B("Example:")).
		RawLine(tgui.Raw("<pre>" + tgui.Esc("/watch 0x1234567890abcdef1234567890abcdef12345678").String() + "</pre>")).
		Blank().
		RawLine("📖 Type " + tgui.Code("/help") + " to see all available commands!").
		Blank().
		RawLine("📊 Dashboard: " + tgui.Esc(dashboardURL)).
		HTML().String()
}

// Announcer sends one message to every active subscriber, paced.
type Announcer struct {
	Sender      transport.Sender
	Pacer       Pacer
	SendTimeout time.Duration
	Log         logx.Logger
}

// Broadcast behaves like DeliverAll without filtering, counters or the gate.
func (a *Announcer) Broadcast(ctx context.Context, subs []subscriber.Subscriber, text string) Result {
	e := NewEngine(EngineOptions{
		Sender:      a.Sender,
		Pacer:       a.Pacer,
		Log:         a.Log,
		SendTimeout: a.SendTimeout,
	})
	var res Result
	for _, s := range subs {
		if !s.Active || s.ChatID == 0 {
			continue
		}
		if err := e.opt.Pacer.Wait(ctx); err != nil {
			e.opt.Log.Warn("announcement interrupted", logx.Err(err))
			break
		}
		if err := e.send(ctx, s.ChatID, text); err != nil {
			res.Failed++
			res.Failures = append(res.Failures, Failure{ChatID: s.ChatID, Err: err})
			e.opt.Log.Warn("announcement failed", logx.Int64("chat_id", s.ChatID), logx.String("username", s.Username), logx.Err(err))
			continue
		}
		res.Success++
		e.opt.Log.Info("announcement sent", logx.Int64("chat_id", s.ChatID), logx.String("username", s.Username))
	}
	return res
}
