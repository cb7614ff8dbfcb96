package core

import (
	"context"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"postbot/internal/kit"
	"postbot/pkg/logx"
)

// deniedReply is the fixed answer for anyone but the operator.
const deniedReply = "⛔ You are not allowed to control this bot."

type Command struct {
	Name        string // without the leading slash
	Description string
	Usage       string
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline-keyboard callbacks with data formatted
// as "scope:action" or "scope:action:payload".
type CallbackRoute struct {
	Scope   string
	Action  string
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	Payload string
	ReqID   string

	Adapter kit.Adapter
	Config  *Config
	Logger  logx.Logger
}

// Router dispatches inbound updates to registered commands, callback
// routes and a fallback message handler (draft text/media intake).
// Every update is owner-gated before any handler runs: the bot has
// exactly one trusted operator.
type Router struct {
	mu        sync.RWMutex
	commands  map[string]Command
	callbacks map[string]map[string]CallbackRoute
	fallback  HandlerFunc
	owner     int64

	log     logx.Logger
	adapter kit.Adapter
	cfgm    *ConfigManager

	jobs chan func()
}

func NewRouter(log logx.Logger, adapter kit.Adapter, cfgm *ConfigManager, owner int64) *Router {
	return &Router{
		commands:  map[string]Command{},
		callbacks: map[string]map[string]CallbackRoute{},
		owner:     owner,
		log:       log,
		adapter:   adapter,
		cfgm:      cfgm,
		jobs:      make(chan func(), 256),
	}
}

// SetOwner updates the operator identity. Safe during hot-reload.
func (r *Router) SetOwner(owner int64) {
	r.mu.Lock()
	r.owner = owner
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return id != 0 && id == r.owner
}

// Register installs the command set, callback routes and the fallback
// handler for non-command messages. It replaces any prior registry.
func (r *Router) Register(cmds []Command, cbs []CallbackRoute, fallback HandlerFunc) {
	commands := map[string]Command{}
	for _, c := range cmds {
		name := strings.TrimPrefix(strings.TrimSpace(c.Name), "/")
		if name == "" || c.Handle == nil {
			continue
		}
		commands[name] = c
	}
	callbacks := map[string]map[string]CallbackRoute{}
	for _, cb := range cbs {
		scope := strings.TrimSpace(cb.Scope)
		action := strings.TrimSpace(cb.Action)
		if scope == "" || action == "" || cb.Handle == nil {
			continue
		}
		if callbacks[scope] == nil {
			callbacks[scope] = map[string]CallbackRoute{}
		}
		callbacks[scope][action] = cb
	}

	r.mu.Lock()
	r.commands = commands
	r.callbacks = callbacks
	r.fallback = fallback
	r.mu.Unlock()
}

// DispatchLoop consumes updates until ctx is done, running handlers on
// a bounded worker pool.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	r.log.Info("dispatcher started", logx.Int("workers", workers))

	var (
		wg        sync.WaitGroup
		closeOnce sync.Once
	)
	closeJobs := func() {
		closeOnce.Do(func() { close(r.jobs) })
	}

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Error("panic in dispatch worker",
						logx.Any("panic", rec),
						logx.String("stack", string(debug.Stack())),
					)
				}
			}()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-r.jobs:
					if !ok {
						return
					}
					if job != nil {
						job()
					}
				}
			}
		}()
	}

	defer func() {
		closeJobs()
		wg.Wait()
		r.log.Info("dispatcher stopped")
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

func (r *Router) route(root context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(root, up)
	case kit.UpdateCallback:
		r.routeCallback(root, up)
	}
}

func (r *Router) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID}

	if !r.isOwner(msg.FromID) {
		_, _ = r.adapter.SendText(root, chat, deniedReply, nil)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if msg.Media == nil && strings.HasPrefix(text, "/") {
		parts := strings.Fields(text)
		name := strings.TrimPrefix(parts[0], "/")
		if i := strings.IndexByte(name, '@'); i >= 0 {
			name = name[:i]
		}

		r.mu.RLock()
		cmd, ok := r.commands[name]
		r.mu.RUnlock()
		if !ok {
			_, _ = r.adapter.SendText(root, chat, "Unknown command. Try /start.", nil)
			return
		}

		req := r.newRequest(up, chat, msg.FromID, "/"+name, parts[1:], "")
		r.enqueue(root, req, Chain(
			cmd.Handle,
			MWPanicRecover(r.log),
			MWRequestLog(r.log),
			MWTimeout(cmd.Timeout),
		))
		return
	}

	r.mu.RLock()
	fallback := r.fallback
	r.mu.RUnlock()
	if fallback == nil {
		return
	}
	req := r.newRequest(up, chat, msg.FromID, "message", nil, "")
	r.enqueue(root, req, Chain(
		fallback,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
	))
}

func (r *Router) routeCallback(root context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}

	if !r.isOwner(cb.FromID) {
		_ = r.adapter.AnswerCallback(root, cb.ID, deniedReply)
		return
	}

	parts := strings.SplitN(strings.TrimSpace(cb.Data), ":", 3)
	if len(parts) < 2 {
		return
	}
	scope, action := parts[0], parts[1]
	payload := ""
	if len(parts) == 3 {
		payload = parts[2]
	}

	r.mu.RLock()
	route, ok := r.callbacks[scope][action]
	r.mu.RUnlock()
	if !ok {
		_ = r.adapter.AnswerCallback(root, cb.ID, "")
		return
	}

	chat := kit.ChatTarget{ChatID: cb.ChatID}
	req := r.newRequest(up, chat, cb.FromID, "cb:"+scope+":"+action, nil, payload)

	h := func(ctx context.Context, rq *Request) error { return route.Handle(ctx, rq, payload) }
	final := Chain(
		h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(route.Timeout),
	)

	select {
	case r.jobs <- func() {
		_ = final(root, req)
		// best-effort to stop the "loading" spinner
		_ = r.adapter.AnswerCallback(root, cb.ID, "")
	}:
	default:
		_ = r.adapter.AnswerCallback(root, cb.ID, "busy")
	}
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, fromID int64, command string, args []string, payload string) *Request {
	rid := uuid.NewString()[:8]
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  fromID,
		Command: command,
		Args:    args,
		Payload: payload,
		ReqID:   rid,
		Adapter: r.adapter,
		Config:  r.cfgm.Get(),
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("from_id", fromID),
			logx.String("cmd", command),
		),
	}
}

func (r *Router) enqueue(root context.Context, req *Request, h HandlerFunc) {
	select {
	case r.jobs <- func() { _ = h(root, req) }:
	default:
		_, _ = r.adapter.SendText(root, req.Chat, "busy, try again", nil)
	}
}
