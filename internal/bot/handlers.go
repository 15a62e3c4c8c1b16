package bot

import (
	"context"
	"errors"
	"time"

	"reobot/internal/storage"
	"reobot/internal/subscriber"
	"reobot/pkg/logx"
)

// Auditor records subscriber actions in the activity log.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Handlers struct {
	Subs         *subscriber.Service
	Audit        Auditor
	DashboardURL string
	Now          func() time.Time
}

// Commands returns the registry in menu order.
func (h *Handlers) Commands() []Command {
	return []Command{
		{Name: "start", Description: "Welcome message and introduction", Handle: h.start},
		{Name: "subscribe", Description: "Subscribe to all notifications", Handle: h.subscribe},
		{Name: "unsubscribe", Description: "Stop receiving all notifications", Handle: h.unsubscribe},
		{Name: "watch", Description: "Watch a specific indexer", Handle: h.watch},
		{Name: "unwatch", Description: "Stop watching an indexer", Handle: h.unwatch},
		{Name: "watchlist", Description: "Show your watched indexers", Handle: h.watchlist},
		{Name: "status", Description: "Check your subscription status", Handle: h.status},
		{Name: "stats", Description: "View bot statistics", Handle: h.stats},
		{Name: "help", Description: "Show help", Handle: h.help},
		{Name: "test", Description: "Send a test notification", Hidden: true, Handle: h.test},
	}
}

func (h *Handlers) audit(ctx context.Context, req *Request, action, detail string) {
	if h.Audit == nil {
		return
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	err := h.Audit.AppendAudit(ctx, storage.AuditEntry{
		At:       now().UTC(),
		Action:   action,
		ChatID:   req.Chat.ChatID,
		Username: req.Username,
		Detail:   detail,
	})
	if err != nil {
		req.Logger.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}

func (h *Handlers) start(ctx context.Context, req *Request) error {
	h.audit(ctx, req, "START", "")
	return req.ReplyHTML(ctx, welcomeText(h.DashboardURL))
}

func (h *Handlers) subscribe(ctx context.Context, req *Request) error {
	res, err := h.Subs.Subscribe(ctx, req.Chat.ChatID, req.Username)
	switch {
	case errors.Is(err, subscriber.ErrAlreadySubscribed):
		h.audit(ctx, req, "SUBSCRIBE_ATTEMPT", "already subscribed")
		return req.ReplyHTML(ctx, alreadySubscribedText(h.DashboardURL))
	case err != nil:
		h.audit(ctx, req, "SUBSCRIBE_FAILED", "")
		_ = req.ReplyHTML(ctx, failedText)
		return err
	}
	action := "NEW_SUBSCRIBER"
	if res == subscriber.Reactivated {
		action = "RESUBSCRIBED"
	}
	h.audit(ctx, req, action, "")
	return req.ReplyHTML(ctx, subscribedText(h.DashboardURL, res == subscriber.Reactivated))
}

func (h *Handlers) unsubscribe(ctx context.Context, req *Request) error {
	err := h.Subs.Unsubscribe(ctx, req.Chat.ChatID)
	switch {
	case errors.Is(err, subscriber.ErrNotSubscribed):
		h.audit(ctx, req, "UNSUBSCRIBE_ATTEMPT", "not subscribed")
		return req.ReplyHTML(ctx, notSubscribedText)
	case err != nil:
		h.audit(ctx, req, "UNSUBSCRIBE_FAILED", "")
		_ = req.ReplyHTML(ctx, failedText)
		return err
	}
	h.audit(ctx, req, "UNSUBSCRIBED", "")
	return req.ReplyHTML(ctx, unsubscribedText())
}

func (h *Handlers) watch(ctx context.Context, req *Request) error {
	ok, err := h.Subs.IsActive(ctx, req.Chat.ChatID)
	if err != nil {
		_ = req.ReplyHTML(ctx, failedText)
		return err
	}
	if !ok {
		return req.ReplyHTML(ctx, mustSubscribeText)
	}
	if len(req.Args) == 0 {
		return req.ReplyHTML(ctx, watchUsageText("watch"))
	}
	addr := req.Args[0]

	n, err := h.Subs.Watch(ctx, req.Chat.ChatID, addr)
	switch {
	case errors.Is(err, subscriber.ErrInvalidAddress):
		return req.ReplyHTML(ctx, invalidAddressText())
	case errors.Is(err, subscriber.ErrAlreadyWatching):
		return req.ReplyHTML(ctx, alreadyWatchingText(addr))
	case errors.Is(err, subscriber.ErrNotSubscribed):
		return req.ReplyHTML(ctx, mustSubscribeText)
	case err != nil:
		_ = req.ReplyHTML(ctx, failedText)
		return err
	}
	h.audit(ctx, req, "WATCH_ADD", "Indexer: "+addr)
	return req.ReplyHTML(ctx, watchAddedText(addr, n))
}

func (h *Handlers) unwatch(ctx context.Context, req *Request) error {
	ok, err := h.Subs.IsActive(ctx, req.Chat.ChatID)
	if err != nil {
		_ = req.ReplyHTML(ctx, failedText)
		return err
	}
	if !ok {
		return req.ReplyHTML(ctx, mustSubscribeText)
	}
	if len(req.Args) == 0 {
		return req.ReplyHTML(ctx, watchUsageText("unwatch"))
	}
	addr := req.Args[0]

	n, err := h.Subs.Unwatch(ctx, req.Chat.ChatID, addr)
	switch {
	case errors.Is(err, subscriber.ErrNotWatching), errors.Is(err, subscriber.ErrInvalidAddress):
		return req.ReplyHTML(ctx, notWatchingText(addr))
	case errors.Is(err, subscriber.ErrNotSubscribed):
		return req.ReplyHTML(ctx, mustSubscribeText)
	case err != nil:
		_ = req.ReplyHTML(ctx, failedText)
		return err
	}
	h.audit(ctx, req, "WATCH_REMOVE", "Indexer: "+addr)
	return req.ReplyHTML(ctx, unwatchedText(addr, n))
}

func (h *Handlers) watchlist(ctx context.Context, req *Request) error {
	watched, err := h.Subs.Watchlist(ctx, req.Chat.ChatID)
	switch {
	case errors.Is(err, subscriber.ErrNotSubscribed):
		return req.ReplyHTML(ctx, mustSubscribeText)
	case err != nil:
		_ = req.ReplyHTML(ctx, failedText)
		return err
	}
	return req.ReplyHTML(ctx, watchlistText(watched, h.DashboardURL))
}

func (h *Handlers) status(ctx context.Context, req *Request) error {
	sub, err := h.Subs.Get(ctx, req.Chat.ChatID)
	if err != nil && !errors.Is(err, subscriber.ErrNotFound) {
		_ = req.ReplyHTML(ctx, failedText)
		return err
	}
	if err != nil || !sub.Active {
		h.audit(ctx, req, "STATUS_CHECK", "not subscribed")
		return req.ReplyHTML(ctx, statusInactiveText())
	}
	since := sub.SubscribedAt
	h.audit(ctx, req, "STATUS_CHECK", "subscribed since "+since.UTC().Format("2006-01-02 15:04:05"))
	name := req.Username
	if name == "" {
		name = sub.Username
	}
	return req.ReplyHTML(ctx, statusActiveText(name, since, len(sub.Watched), h.DashboardURL))
}

func (h *Handlers) stats(ctx context.Context, req *Request) error {
	st, err := h.Subs.Stats(ctx)
	if err != nil {
		_ = req.ReplyHTML(ctx, failedText)
		return err
	}
	h.audit(ctx, req, "STATS_VIEW", "")
	return req.ReplyHTML(ctx, statsText(st.TotalSubscribers, st.TotalNotificationsSent, h.DashboardURL))
}

func (h *Handlers) help(ctx context.Context, req *Request) error {
	h.audit(ctx, req, "HELP_VIEW", "")
	return req.ReplyHTML(ctx, helpText(h.DashboardURL))
}

func (h *Handlers) test(ctx context.Context, req *Request) error {
	ok, err := h.Subs.IsActive(ctx, req.Chat.ChatID)
	if err != nil {
		_ = req.ReplyHTML(ctx, failedText)
		return err
	}
	if !ok {
		h.audit(ctx, req, "TEST_FAILED", "not subscribed")
		return req.ReplyHTML(ctx, testNotSubscribedText)
	}
	h.audit(ctx, req, "TEST_NOTIFICATION_SENT", "")
	return req.ReplyHTML(ctx, testNotificationText(h.DashboardURL))
}
