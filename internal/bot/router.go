// Package bot routes Telegram commands to the subscription handlers.
package bot

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "reobot/internal/runtime/supervisor"
	"reobot/internal/transport"
	"reobot/pkg/logx"
)

type Command struct {
	Name        string
	Description string
	Timeout     time.Duration
	Hidden      bool // registered but left out of the menu
	Handle      HandlerFunc
}

type Request struct {
	Update   transport.Update
	Chat     transport.ChatTarget
	FromID   int64
	Username string
	Command  string
	Args     []string
	ReqID    string
	Sender   transport.Sender
	Logger   logx.Logger
}

// ReplyHTML answers in the request's chat with HTML parse mode.
func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	_, err := r.Sender.SendText(ctx, r.Chat, text, &transport.SendOptions{ParseMode: transport.ParseModeHTML, DisablePreview: true})
	return err
}

const (
	defaultWorkers = 4
	jobQueueCap    = 256
)

type Router struct {
	mu   sync.RWMutex
	cmds map[string]Command
	list []Command

	log    logx.Logger
	sender transport.Sender

	jobs    chan func()
	workers int
	timeout time.Duration
}

func NewRouter(log logx.Logger, sender transport.Sender) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		cmds:    map[string]Command{},
		log:     log,
		sender:  sender,
		jobs:    make(chan func(), jobQueueCap),
		workers: defaultWorkers,
		timeout: 15 * time.Second,
	}
}

// SetCommands replaces the registry.
func (r *Router) SetCommands(cmds []Command) {
	m := make(map[string]Command, len(cmds))
	list := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		m[name] = c
		list = append(list, c)
	}
	r.mu.Lock()
	r.cmds = m
	r.list = list
	r.mu.Unlock()
}

// MenuCommands lists the visible commands in registration order.
func (r *Router) MenuCommands() []transport.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]transport.BotCommand, 0, len(r.list))
	for _, c := range r.list {
		if c.Hidden {
			continue
		}
		out = append(out, transport.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// PublishMenu pushes the command menu when the sender supports it. Errors
// are logged only.
func (r *Router) PublishMenu(ctx context.Context) {
	up, ok := r.sender.(transport.CommandMenuUpdater)
	if !ok {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := up.UpdateMenuCommands(cctx, r.MenuCommands()); err != nil {
		r.log.Warn("command menu update failed", logx.Err(err))
	}
}

// DispatchLoop reads updates until ctx is done or updates is closed.
// Handlers run on a small worker pool owned by an internal supervisor. A
// Router dispatches at most once.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "bot.router"))),
		rtsup.WithCancelOnError(false),
	)

	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if p := recover(); p != nil {
								r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers))

	defer func() {
		// Workers drain queued jobs before exiting.
		close(r.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

// Handle routes a single update synchronously. DispatchLoop uses the worker
// pool instead.
func (r *Router) Handle(ctx context.Context, up transport.Update) error {
	h, req, ok := r.resolve(ctx, up)
	if !ok {
		return nil
	}
	return h(ctx, req)
}

func (r *Router) route(ctx context.Context, up transport.Update) {
	h, req, ok := r.resolve(ctx, up)
	if !ok {
		return
	}
	select {
	case r.jobs <- func() { _ = h(ctx, req) }:
	default:
		_, _ = r.sender.SendText(ctx, req.Chat, "Busy, try again in a moment.", nil)
	}
}

func (r *Router) resolve(ctx context.Context, up transport.Update) (HandlerFunc, *Request, bool) {
	msg := up.Message
	if msg == nil {
		return nil, nil, false
	}
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return nil, nil, false
	}
	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	r.mu.RLock()
	cmd, found := r.cmds[name]
	r.mu.RUnlock()
	if !found {
		_, _ = r.sender.SendText(ctx, chat, "Unknown command. Try /help", nil)
		return nil, nil, false
	}

	rid := uuid.NewString()
	req := &Request{
		Update:   up,
		Chat:     chat,
		FromID:   msg.FromID,
		Username: msg.FromUsername,
		Command:  name,
		Args:     args,
		ReqID:    rid,
		Sender:   r.sender,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.String("cmd", name),
		),
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	h := Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
	return h, req, true
}

// parseCommand splits "/name@bot arg1 arg2". Non-command text is ignored.
func parseCommand(text string) (string, []string, bool) {
	parts := strings.Fields(strings.TrimSpace(text))
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "/") {
		return "", nil, false
	}
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, false
	}
	return strings.ToLower(word), parts[1:], true
}
