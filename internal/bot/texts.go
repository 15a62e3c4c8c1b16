package bot

import (
	"fmt"
	"time"

	"reobot/pkg/tgui"
)

const gipURL = "https://forum.thegraph.com/t/gip-0079-indexer-rewards-eligibility-oracle/6734"

func commandList() []string {
	return []string{
		"/subscribe - Subscribe to all notifications",
		"/unsubscribe - Stop receiving all notifications",
		"/watch <address> - Watch a specific indexer",
		"/unwatch <address> - Stop watching an indexer",
		"/watchlist - Show your watched indexers",
		"/status - Check your subscription status",
		"/stats - View bot statistics",
		"/help - Show this help message",
	}
}

func welcomeText(dashboard string) string {
	b := tgui.New().
		Title("🔔", "Welcome to REO Dashboard Notifications!").
		Blank().
		Line("This bot sends you real-time alerts about:").
		Bullets("Oracle updates", "Indexer status changes", "Grace period expirations").
		Blank().
		Line("📊 View the dashboard: " + dashboard).
		Blank().
		RawLine(tgui.B("Available Commands:"))
	for _, c := range commandList() {
		b.Line(c)
	}
	return b.Blank().
		RawLine("💡 " + tgui.B("Tip:") + " Use /subscribe to get started!").
		HTML().String()
}

func helpText(dashboard string) string {
	b := tgui.New().
		Title("📖", "REO Dashboard Bot - Help").
		Blank().
		RawLine(tgui.B("Available Commands:")).
		Blank().
		Line("/start - Welcome message and introduction")
	for _, c := range commandList() {
		b.Line(c)
	}
	return b.Blank().
		RawLine(tgui.B("What You'll Receive:")).
		Blank().
		RawLine("🔔 " + tgui.B("Oracle Updates") + " - When the eligibility oracle runs").
		RawLine("📝 " + tgui.B("Status Changes") + " - When indexers change status").
		RawLine("⚠️ " + tgui.B("Grace Periods") + " - When indexers enter/exit grace period").
		RawLine("❌ " + tgui.B("Ineligibility") + " - When indexers become ineligible").
		Blank().
		RawLine(tgui.B("Watch Specific Indexers:")).
		Blank().
		Line("By default, you receive notifications for all indexers.").
		RawLine("Use " + tgui.Code("/watch") + " to monitor only specific indexers you care about.").
		Blank().
		RawLine(tgui.B("Dashboard:")).
		Line(dashboard).
		Blank().
		RawLine(tgui.B("About GIP-0079:")).
		Line("This bot monitors the Indexer Rewards Eligibility Oracle that tracks which indexers are eligible for rewards based on their service quality:").
		Line(gipURL).
		HTML().String()
}

func alreadySubscribedText(dashboard string) string {
	return tgui.New().
		Line("✅ You're already subscribed to notifications!").
		Blank().
		Line("📊 View dashboard: " + dashboard).
		Line("Use /unsubscribe to stop receiving alerts.").
		HTML().String()
}

func subscribedText(dashboard string, reactivated bool) string {
	title := "Successfully subscribed!"
	if reactivated {
		title = "Welcome back! Subscription reactivated."
	}
	return tgui.New().
		Title("🎉", title).
		Blank().
		Line("You will now receive notifications about:").
		Bullets("Oracle updates", "Indexer status changes", "Grace period expirations").
		Blank().
		Line("📊 Dashboard: " + dashboard).
		Blank().
		Line("Use /unsubscribe anytime to stop receiving alerts.").
		HTML().String()
}

const (
	notSubscribedText = "ℹ️ You're not currently subscribed.\n\nUse /subscribe to start receiving notifications."
	mustSubscribeText = "❌ You must be subscribed first.\n\nUse /subscribe to get started."
	failedText        = "❌ Something went wrong. Please try again later."
)

func unsubscribedText() string {
	return tgui.New().
		Title("👋", "Successfully unsubscribed!").
		Blank().
		Line("You will no longer receive any notifications.").
		Line("Your watch list has been cleared.").
		Blank().
		Line("You can subscribe again anytime using /subscribe.").
		HTML().String()
}

func statusActiveText(username string, since time.Time, watched int, dashboard string) string {
	if username == "" {
		username = "Unknown"
	}
	receiving := "Oracle & Status updates (all indexers)"
	if watched > 0 {
		receiving = fmt.Sprintf("Oracle & Status updates (%d watched indexers)", watched)
	}
	sinceText := "Unknown"
	if !since.IsZero() {
		sinceText = since.UTC().Format("2006-01-02 15:04:05")
	}
	return tgui.New().
		Title("✅", "Subscription Status: Active").
		Blank().
		Line("👤 Username: @" + username).
		Line("📅 Subscribed: " + sinceText).
		Line("🔔 Receiving: " + receiving).
		Blank().
		Line("📊 Dashboard: " + dashboard).
		HTML().String()
}

func statusInactiveText() string {
	return tgui.New().
		Title("❌", "Subscription Status: Not Active").
		Blank().
		Line("Use /subscribe to start receiving notifications.").
		HTML().String()
}

func statsText(subs, sent int, dashboard string) string {
	return tgui.New().
		Title("📊", "Bot Statistics").
		Blank().
		Line(fmt.Sprintf("👥 Active Subscribers: %d", subs)).
		Line(fmt.Sprintf("📤 Notifications Sent: %d", sent)).
		Blank().
		Line("🌐 Dashboard: " + dashboard).
		HTML().String()
}

func watchUsageText(cmd string) string {
	b := tgui.New().
		RawLine("⚠️ " + tgui.B("Usage:") + " " + tgui.Esc("/"+cmd+" <indexer_address>")).
		Blank().
		RawLine(tgui.B("Example:")).
		RawLine(tgui.Code("/" + cmd + " 0x1234...5678")).
		Blank()
	if cmd == "watch" {
		b.Line("You can watch specific indexers to receive notifications only about them.").
			Line("Leave your watch list empty to receive all notifications.")
	} else {
		b.Line("Use /watchlist to see all watched indexers.")
	}
	return b.HTML().String()
}

func invalidAddressText() string {
	return tgui.New().
		Line("❌ Invalid Ethereum address format.").
		Blank().
		Line("Address should start with 0x and be 42 characters long.").
		RawLine(tgui.B("Example:") + " " + tgui.Code("0x1234567890abcdef1234567890abcdef12345678")).
		HTML().String()
}

func watchAddedText(addr string, count int) string {
	return tgui.New().
		Title("✅", "Now watching indexer:").
		RawLine(tgui.Code(addr)).
		Blank().
		Line(fmt.Sprintf("👀 Total watched: %d", count)).
		Blank().
		Line("You'll receive notifications only for watched indexers.").
		Line("Use /watchlist to see all watched indexers.").
		HTML().String()
}

func alreadyWatchingText(addr string) string {
	return tgui.New().
		Line("ℹ️ You're already watching this indexer:").
		RawLine(tgui.Code(addr)).
		Blank().
		Line("Use /watchlist to see all watched indexers.").
		HTML().String()
}

func unwatchedText(addr string, remaining int) string {
	b := tgui.New().
		Title("✅", "Stopped watching:").
		RawLine(tgui.Code(addr)).
		Blank()
	if remaining == 0 {
		return b.Line("📢 Watch list is now empty.").
			RawLine("You'll receive notifications for " + tgui.B("all indexers") + ".").
			HTML().String()
	}
	return b.Line(fmt.Sprintf("👀 Total watched: %d", remaining)).
		Blank().
		Line("Use /watchlist to see remaining watched indexers.").
		HTML().String()
}

func notWatchingText(addr string) string {
	return tgui.New().
		Line("ℹ️ You're not watching this indexer:").
		RawLine(tgui.Code(addr)).
		Blank().
		Line("Use /watchlist to see watched indexers.").
		HTML().String()
}

func watchlistText(watched []string, dashboard string) string {
	if len(watched) == 0 {
		return tgui.New().
			Title("📢", "Watching: All Indexers").
			Blank().
			Line("You're currently receiving notifications for all indexers.").
			Blank().
			RawLine("💡 " + tgui.B("Tip:") + " Use " + tgui.Code("/watch <address>") + " to watch specific indexers only.").
			Blank().
			Line("📊 Dashboard: " + dashboard).
			HTML().String()
	}
	items := make([]tgui.H, 0, len(watched))
	for _, a := range watched {
		items = append(items, "• "+tgui.Code(a))
	}
	return tgui.New().
		RawLine("👀 " + tgui.B(fmt.Sprintf("Watched Indexers (%d):", len(watched)))).
		Blank().
		RawLine(tgui.JoinH("\n", items...)).
		Blank().
		Line("You'll receive notifications only for these indexers.").
		Blank().
		RawLine("💡 Use " + tgui.Code("/unwatch <address>") + " to remove an indexer.").
		Line("📊 Dashboard: " + dashboard).
		HTML().String()
}

func testNotificationText(dashboard string) string {
	return tgui.New().
		Title("🧪", "Test Notification").
		Blank().
		Line("This is a test message to confirm notifications are working correctly.").
		Blank().
		Line("If you received this, you're all set! ✅").
		Blank().
		Line("📊 Dashboard: " + dashboard).
		HTML().String()
}

const testNotSubscribedText = "❌ You must be subscribed to test notifications.\n\nUse /subscribe first."
