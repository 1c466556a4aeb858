// Package router turns Telegram updates into command and conversation
// requests, gates them on the operator id, and runs them in per-sender
// order on a small worker pool.
package router

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rtsup "templatebot/internal/runtime/supervisor"
	kit "templatebot/internal/transport"
	"templatebot/pkg/logx"
)

const (
	MsgNoAccess       = "You do not have access to this bot."
	msgUnknownCommand = "Unknown command. Try /help."
	msgBusy           = "Busy, try again in a moment."
)

type Options struct {
	// Workers is the number of shards. All updates of one sender land on
	// the same shard and are handled in arrival order.
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 60 * time.Second
	}
	return o
}

type CommandManager struct {
	opt     Options
	log     logx.Logger
	adapter kit.Adapter
	owner   atomic.Int64

	mu       sync.RWMutex
	byName   map[string]*Command
	ordered  []Command
	fallback HandlerFunc

	runMu   sync.Mutex
	running bool
	shards  []chan func()

	dropped atomic.Uint64
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, ownerID int64, opt Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &CommandManager{
		opt:     opt.withDefaults(),
		log:     log.With(logx.String("comp", "telegram.router")),
		adapter: adapter,
		byName:  map[string]*Command{},
	}
	m.owner.Store(ownerID)
	return m
}

// SetOwner changes the authorized operator. Safe during hot reload.
func (m *CommandManager) SetOwner(id int64) { m.owner.Store(id) }

func (m *CommandManager) Owner() int64 { return m.owner.Load() }

// SetRegistry installs commands and the handler for non-command messages.
// A help command is always added.
func (m *CommandManager) SetRegistry(cmds []Command, fallback HandlerFunc) {
	all := append(append([]Command(nil), cmds...), Command{
		Name:        "help",
		Description: "Show available commands",
		Usage:       "/help",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(), &kit.SendOptions{DisablePreview: true})
		},
	})

	byName := map[string]*Command{}
	ordered := make([]Command, 0, len(all))
	for _, c := range all {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		ordered = append(ordered, cc)
		byName[name] = &ordered[len(ordered)-1]
	}
	// Aliases never shadow a real command name.
	for i := range ordered {
		for _, a := range ordered[i].Aliases {
			a = sanitizeTelegramCommand(a)
			if _, taken := byName[a]; a != "" && !taken {
				byName[a] = &ordered[i]
			}
		}
	}

	m.mu.Lock()
	m.byName, m.ordered, m.fallback = byName, ordered, fallback
	m.mu.Unlock()
}

// PublishMenu pushes the visible commands to the platform's command menu.
func (m *CommandManager) PublishMenu(ctx context.Context) error {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	m.mu.RLock()
	menu := buildMenuCommands(m.ordered)
	m.mu.RUnlock()
	return up.UpdateMenuCommands(ctx, menu)
}

func (m *CommandManager) helpText() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var b strings.Builder
	b.WriteString("Available commands:")
	for _, c := range m.ordered {
		if c.Hidden {
			continue
		}
		line := "/" + c.Name
		if c.Usage != "" && c.Usage != line {
			line = c.Usage
		}
		b.WriteString("\n" + line)
		if c.Description != "" {
			b.WriteString(" - " + c.Description)
		}
	}
	return b.String()
}

// DispatchLoop consumes updates until ctx ends or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(m.log), rtsup.WithCancelOnError(false))

	shards := make([]chan func(), m.opt.Workers)
	for i := range shards {
		shards[i] = make(chan func(), m.opt.QueueSize)
	}
	m.runMu.Lock()
	m.shards, m.running = shards, true
	m.runMu.Unlock()

	for i, jobs := range shards {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			return m.worker(c, idx, jobs)
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	m.log.Info("command dispatcher started", logx.Int("workers", len(shards)), logx.Int("queue_cap", m.opt.QueueSize))

	defer func() {
		m.runMu.Lock()
		m.running = false
		for _, ch := range shards {
			close(ch)
		}
		m.shards = nil
		m.runMu.Unlock()

		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		m.log.Info("command dispatcher stopped")
	}()

	// Accepted requests finish under their own timeout after shutdown starts.
	base := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(base, up)
		}
	}
}

// worker drains one shard until it is closed on shutdown.
func (m *CommandManager) worker(_ context.Context, idx int, jobs <-chan func()) error {
	for job := range jobs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r))
				}
			}()
			job()
		}()
	}
	return nil
}

func (m *CommandManager) routeUpdate(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	name, rest, isCmd := "", "", false
	if msg.Photo == nil {
		name, rest, isCmd = parseCommand(msg.Text)
	}

	if owner := m.owner.Load(); msg.FromID != owner {
		// Chatter in shared chats is not addressed to the bot.
		if !isCmd && !msg.IsPrivate {
			return
		}
		m.log.Warn("unauthorized access attempt",
			logx.Int64("from_id", msg.FromID),
			logx.String("username", msg.FromUsername),
			logx.Int64("chat_id", msg.ChatID),
			logx.String("cmd", name),
		)
		m.enqueue(msg.FromID, func() {
			if _, err := m.adapter.SendText(ctx, chat, MsgNoAccess, nil); err != nil {
				m.log.Debug("refusal not delivered", logx.Err(err))
			}
		})
		return
	}

	var (
		h       HandlerFunc
		timeout = m.opt.DefaultTimeout
		cmdName string
	)
	if isCmd {
		m.mu.RLock()
		cmd := m.byName[name]
		m.mu.RUnlock()
		if cmd == nil {
			m.enqueue(msg.FromID, func() { _, _ = m.adapter.SendText(ctx, chat, msgUnknownCommand, nil) })
			return
		}
		h, cmdName = cmd.Handle, cmd.Name
		if cmd.Timeout > 0 {
			timeout = cmd.Timeout
		}
	} else {
		m.mu.RLock()
		h = m.fallback
		m.mu.RUnlock()
		if h == nil {
			return
		}
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmdName,
		RawArgs: rest,
		Args:    strings.Fields(rest),
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmdName),
		),
	}
	final := Chain(h,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
	)
	if !m.enqueue(msg.FromID, func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, chat, msgBusy, nil)
	}
}

// enqueue places fn on the sender's shard without blocking.
func (m *CommandManager) enqueue(fromID int64, fn func()) (ok bool) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running || len(m.shards) == 0 {
		return false
	}
	idx := uint64(fromID) % uint64(len(m.shards))
	select {
	case m.shards[idx] <- fn:
		return true
	default:
		if n := m.dropped.Add(1); n == 1 || n%50 == 0 {
			m.log.Warn("command queue full", logx.Int("shard", int(idx)), logx.Int64("dropped_total", int64(n)))
		}
		return false
	}
}
