package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"templatebot/internal/eventbus"
	"templatebot/internal/task/engine"
	"templatebot/pkg/logx"
)

// Runner executes fired occurrences. *engine.Service satisfies it.
type Runner interface {
	Enqueue(t engine.Task) error
}

type jobDef struct {
	id      string
	trigger Trigger
	sched   cron.Schedule
	fn      func(ctx context.Context) error
	gen     uint64
	entryID cron.EntryID
	// state outlives replacements so an old in-flight delivery and the
	// first firing of its replacement still never overlap.
	state *engine.RunState
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	loc    *time.Location
	log    logx.Logger
	bus    eventbus.Bus
	runner Runner
	parser cron.Parser
	c      *cron.Cron
	jobs   map[string]*jobDef
	gen    uint64
	now    func() time.Time

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

func New(cfg Config, runner Runner, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{
		cfg:         cfg,
		log:         log.With(logx.String("comp", "scheduler")),
		bus:         bus,
		runner:      runner,
		parser:      cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		jobs:        map[string]*jobDef{},
		now:         time.Now,
		lastEnqWarn: map[string]time.Time{},
	}
	s.loc = s.loadLocation(cfg.Timezone)
	return s
}

// Upsert installs the job for id or atomically replaces the existing one.
// If the trigger is invalid nothing changes. Once Upsert returns, the
// previous trigger can no longer start a delivery.
func (s *Service) Upsert(id string, t Trigger, fn func(ctx context.Context) error) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("job id required")
	}
	if fn == nil {
		return errors.New("job func required")
	}
	if err := t.Validate(); err != nil {
		return err
	}
	sched, err := s.scheduleFor(t, s.now())
	if err != nil {
		return fmt.Errorf("build schedule for %s: %w", id, err)
	}
	return s.install(id, t, sched, fn)
}

func (s *Service) install(id string, t Trigger, sched cron.Schedule, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	d := &jobDef{id: id, trigger: t, sched: sched, fn: fn, gen: s.gen, state: &engine.RunState{}}
	old := s.jobs[id]
	if old != nil {
		d.state = old.state
	}
	if s.c != nil {
		d.entryID = s.c.Schedule(sched, cron.FuncJob(s.fire(id, d.gen)))
		if old != nil && old.entryID != 0 {
			s.c.Remove(old.entryID)
		}
	}
	s.jobs[id] = d

	s.log.Info("job scheduled",
		logx.String("job", id),
		logx.String("trigger", t.String()),
		logx.Bool("replaced", old != nil),
		logx.Time("next", sched.Next(s.now().In(s.loc))),
	)
	s.bus.Publish(eventbus.Event{Type: eventbus.ScheduleSet, Data: Job{ID: id, Trigger: t}})
	return nil
}

// Cancel removes the job. A delivery already running is left to finish.
func (s *Service) Cancel(id string) CancelResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.jobs[strings.TrimSpace(id)]
	if !ok {
		return NotFound
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.jobs, d.id)
	s.log.Info("job cancelled", logx.String("job", d.id))
	s.bus.Publish(eventbus.Event{Type: eventbus.ScheduleCancelled, Data: Job{ID: d.id, Trigger: d.trigger}})
	return Cancelled
}

func (s *Service) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return s.viewLocked(d), true
}

// List returns all jobs ordered by id.
func (s *Service) List() []Job {
	s.mu.Lock()
	out := make([]Job, 0, len(s.jobs))
	for _, d := range s.jobs {
		out = append(out, s.viewLocked(d))
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Service) viewLocked(d *jobDef) Job {
	j := Job{ID: d.id, Trigger: d.trigger}
	if s.c != nil && d.entryID != 0 {
		e := s.c.Entry(d.entryID)
		j.Next, j.Prev = e.Next, e.Prev
	}
	if j.Next.IsZero() {
		j.Next = d.sched.Next(s.now().In(s.loc))
	}
	return j
}

// Location is the timezone daily triggers are evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// fire is the cron callback for one registration generation. A callback
// from a replaced or cancelled registration does nothing.
func (s *Service) fire(id string, gen uint64) func() {
	return func() {
		s.mu.Lock()
		d, ok := s.jobs[id]
		if !ok || d.gen != gen {
			s.mu.Unlock()
			return
		}
		fn, state, timeout := d.fn, d.state, s.cfg.Timeout
		s.mu.Unlock()

		err := s.runner.Enqueue(engine.Task{
			Name:    id,
			Timeout: timeout,
			Run:     s.guard(id, gen, fn),
			Opt:     engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
			State:   state,
		})
		if err != nil {
			s.reportEnqueueError(id, err)
		}
	}
}

// guard re-checks the registration when the queued occurrence starts, so
// an occurrence dispatched just before a cancel or replace is dropped.
func (s *Service) guard(id string, gen uint64, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if !s.current(id, gen) {
			s.log.Debug("stale occurrence dropped", logx.String("job", id))
			return nil
		}
		return fn(ctx)
	}
}

func (s *Service) current(id string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.jobs[id]
	return ok && d.gen == gen
}

func (s *Service) scheduleFor(t Trigger, now time.Time) (cron.Schedule, error) {
	switch t.Kind {
	case TriggerDaily:
		return s.parser.Parse(fmt.Sprintf("%d %d * * *", t.Minute, t.Hour))
	case TriggerInterval:
		return newAnchoredSchedule(now, t.Period())
	default:
		return nil, ErrInvalidTrigger
	}
}

func (s *Service) loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
