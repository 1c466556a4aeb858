// Package engine executes tasks on a bounded worker pool with per-attempt
// timeouts, retries with jittered backoff, overlap gating and panic recovery.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"templatebot/internal/eventbus"
	rtsup "templatebot/internal/runtime/supervisor"
	"templatebot/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q      chan queuedTask
	stopCh chan struct{}
	sup    *rtsup.Supervisor

	// runCtx is detached from the supervisor so Stop lets running tasks
	// finish; runCancel aborts them only when Stop's deadline passes.
	runCtx    context.Context
	runCancel context.CancelFunc

	hmu     sync.Mutex
	history []HistoryItem

	idSeq    atomic.Uint64
	inFlight atomic.Int32
	dropped  atomic.Uint64
	skipped  atomic.Uint64
	lastWarn atomic.Int64
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
	opt        TaskOptions
	track      bool
}

func (qt queuedTask) releaseState() {
	if qt.track && qt.task.State != nil {
		qt.task.State.release()
	}
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Service{
		cfg: cfg.withDefaults(),
		log: log.With(logx.String("comp", "taskengine")),
		bus: bus,
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	cfg := s.cfg
	s.q = make(chan queuedTask, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))

	for i := 0; i < cfg.Workers; i++ {
		stopCh, queue := s.stopCh, s.q
		s.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return nil
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		})
	}
	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop stops accepting work, drops tasks still queued and waits for running
// tasks to finish. If ctx ends first, running tasks are cancelled.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	sup, q, runCancel := s.sup, s.q, s.runCancel
	s.stopCh, s.q, s.sup = nil, nil, nil
	s.mu.Unlock()

	err := sup.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		runCancel()
		sup.Cancel()
		s.log.Warn("task engine stop timed out; running tasks cancelled", logx.Err(ctx.Err()))
	}
	runCancel()

	for {
		select {
		case qt := <-q:
			qt.releaseState()
			s.dropped.Add(1)
			s.bus.Publish(eventbus.Event{Type: eventbus.TaskDropped, Data: TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Error: "stopped"}})
			continue
		default:
		}
		break
	}
	s.log.Info("task engine stopped")
}

// Enqueue hands t to the pool without blocking.
func (s *Service) Enqueue(t Task) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.New("task Name is required")
	}
	now := time.Now()
	if t.ID == "" {
		t.ID = fmt.Sprintf("tsk-%x-%x", now.UnixNano(), s.idSeq.Add(1))
	}

	s.mu.Lock()
	cfg, q, stopCh := s.cfg, s.q, s.stopCh
	s.mu.Unlock()
	if q == nil || stopCh == nil {
		return ErrStopped
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	opt := t.Opt.withDefaults(cfg)
	qt := queuedTask{task: t, enqueuedAt: now, timeout: timeout, opt: opt}

	if opt.Overlap == OverlapSkipIfRunning && t.State != nil {
		if !t.State.tryAcquire() {
			s.skipped.Add(1)
			s.bus.Publish(eventbus.Event{Type: eventbus.TaskSkipped, Time: now, Data: TaskEvent{ID: t.ID, Name: t.Name, Error: "overlap_skip"}})
			return ErrOverlapSkip
		}
		qt.track = true
	}

	select {
	case q <- qt:
		return nil
	default:
		qt.releaseState()
		s.dropped.Add(1)
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskDropped, Time: now, Data: TaskEvent{ID: t.ID, Name: t.Name, Error: "queue_full"}})
		if s.shouldWarn(now) {
			s.log.Warn("task dropped: queue full", logx.String("task", t.Name), logx.Int("queue_cap", cap(q)))
		}
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, q := s.cfg, s.q
	s.mu.Unlock()

	snap := Snapshot{
		Running:  q != nil,
		Workers:  cfg.Workers,
		InFlight: int(s.inFlight.Load()),
		Dropped:  s.dropped.Load(),
		Skipped:  s.skipped.Load(),
	}
	if q != nil {
		snap.QueueLen, snap.QueueCap = len(q), cap(q)
	}
	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

func (s *Service) shouldWarn(now time.Time) bool {
	prev := s.lastWarn.Load()
	if prev != 0 && now.UnixNano()-prev < int64(warnThrottleEvery) {
		return false
	}
	return s.lastWarn.CompareAndSwap(prev, now.UnixNano())
}
