package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"templatebot/internal/eventbus"
	"templatebot/internal/storage"
	"templatebot/internal/task/scheduler"
	"templatebot/pkg/logx"
)

type Deps struct {
	Store     storage.Store
	Scheduler Scheduler
	Media     Media
	Jobs      Jobs
	Log       logx.Logger
	Bus       eventbus.Bus
}

// Engine holds at most one session per operator.
type Engine struct {
	store storage.Store
	sched Scheduler
	media Media
	jobs  Jobs
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	mu       sync.Mutex
	sessions map[int64]*Session
}

func New(d Deps) *Engine {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop{}
	}
	return &Engine{
		store:    d.Store,
		sched:    d.Scheduler,
		media:    d.Media,
		jobs:     d.Jobs,
		log:      d.Log.With(logx.String("comp", "conversation")),
		bus:      d.Bus,
		now:      time.Now,
		sessions: map[int64]*Session{},
	}
}

// Begin starts flow for the operator, abandoning any session in progress.
func (e *Engine) Begin(ctx context.Context, operatorID int64, flow Flow) []Reply {
	e.drop(operatorID, "replaced")

	start, ok := starters[flow]
	if !ok {
		return nil
	}
	sess := Session{Flow: flow, StartedAt: e.now()}
	next, replies := start(e, ctx, &sess)
	if next == stateDone {
		return replies
	}
	sess.State, sess.UpdatedAt = next, e.now()

	e.mu.Lock()
	e.sessions[operatorID] = &sess
	e.mu.Unlock()

	e.log.Debug("flow started",
		logx.Int64("operator", operatorID),
		logx.String("flow", flow.String()),
		logx.String("state", next.String()),
	)
	return replies
}

// Handle feeds a non-command message to the operator's session. It reports
// false when the operator has no session.
func (e *Engine) Handle(ctx context.Context, in Input) ([]Reply, bool) {
	e.mu.Lock()
	cur, ok := e.sessions[in.OperatorID]
	if !ok {
		e.mu.Unlock()
		return nil, false
	}
	sess := *cur
	e.mu.Unlock()

	step, ok := transitions[sess.State]
	if !ok {
		e.log.Error("no transition for state", logx.String("state", sess.State.String()))
		e.drop(in.OperatorID, "invalid_state")
		return []Reply{{Text: msgGenericError, RemoveMenu: true}}, true
	}

	prev := sess.State
	next, replies := step(e, ctx, &sess, in)

	e.mu.Lock()
	// A concurrent Begin or Abort wins over this step's result.
	if e.sessions[in.OperatorID] == cur {
		if next == stateDone {
			delete(e.sessions, in.OperatorID)
		} else {
			sess.State, sess.UpdatedAt = next, e.now()
			e.sessions[in.OperatorID] = &sess
		}
	}
	e.mu.Unlock()

	e.log.Debug("flow step",
		logx.Int64("operator", in.OperatorID),
		logx.String("flow", sess.Flow.String()),
		logx.String("from", prev.String()),
		logx.String("to", next.String()),
	)
	return replies, true
}

// Abort ends the operator's session. It reports whether one existed.
func (e *Engine) Abort(operatorID int64) bool {
	return e.drop(operatorID, "aborted")
}

// Session returns a copy of the operator's current session.
func (e *Engine) Session(operatorID int64) (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[operatorID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (e *Engine) drop(operatorID int64, reason string) bool {
	e.mu.Lock()
	s, ok := e.sessions[operatorID]
	delete(e.sessions, operatorID)
	e.mu.Unlock()
	if !ok {
		return false
	}
	// A photo collected by an unfinished add flow is owned by nobody.
	if s.Flow == FlowAdd && s.Draft.ImagePath != "" {
		e.release(s.Draft.ImagePath)
	}
	e.log.Debug("session dropped",
		logx.Int64("operator", operatorID),
		logx.String("flow", s.Flow.String()),
		logx.String("reason", reason),
	)
	return true
}

// ListTemplates replies with the names of all templates.
func (e *Engine) ListTemplates(ctx context.Context) []Reply {
	list, err := e.store.List(ctx)
	if err != nil {
		e.log.Error("list templates failed", logx.Err(err))
		return []Reply{{Text: msgGenericError}}
	}
	if len(list) == 0 {
		return []Reply{{Text: msgNoTemplates}}
	}
	var b strings.Builder
	b.WriteString(msgTemplatesHead)
	for _, t := range list {
		b.WriteString("\n- ")
		b.WriteString(t.Name)
	}
	return []Reply{{Text: b.String()}}
}

// ListSchedules replies with every active job and its next fire time.
func (e *Engine) ListSchedules(ctx context.Context) []Reply {
	jobs := e.sched.List()
	if len(jobs) == 0 {
		return []Reply{{Text: msgNoSchedules}}
	}
	var b strings.Builder
	b.WriteString("Active schedules:")
	for _, j := range jobs {
		name := j.ID
		if id, ok := scheduler.TemplateIDOf(j.ID); ok {
			if t, err := e.store.GetByID(ctx, id); err == nil {
				name = t.Name
			} else if errors.Is(err, storage.ErrNotFound) {
				name = fmt.Sprintf("%s (template missing)", j.ID)
			}
		}
		fmt.Fprintf(&b, "\n- %s: %s", name, j.Trigger)
		if !j.Next.IsZero() {
			fmt.Fprintf(&b, ", next %s", j.Next.Format("2006-01-02 15:04 MST"))
		}
	}
	return []Reply{{Text: b.String()}}
}

// CancelSchedule removes the schedule of the named template in one turn.
func (e *Engine) CancelSchedule(ctx context.Context, operatorID int64, name string) []Reply {
	name = strings.TrimSpace(name)
	if name == "" {
		return []Reply{{Text: msgCancelUsage}}
	}
	t, err := e.store.GetByName(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		e.log.Warn("cancel schedule: template not found", logx.String("template", name))
		return []Reply{{Text: msgNotFound}}
	}
	if err != nil {
		e.log.Error("cancel schedule: lookup failed", logx.String("template", name), logx.Err(err))
		return []Reply{{Text: msgGenericError}}
	}
	switch e.sched.Cancel(scheduler.JobIDFor(t.ID)) {
	case scheduler.Cancelled:
		e.log.Info("schedule disabled", logx.Int64("operator", operatorID), logx.String("template", name))
		return []Reply{{Text: fmt.Sprintf("Schedule for template '%s' disabled.", name)}}
	default:
		return []Reply{{Text: fmt.Sprintf("No schedule found for template '%s'.", name)}}
	}
}

func (e *Engine) release(path string) {
	if path == "" || e.media == nil {
		return
	}
	if err := e.media.Release(path); err != nil {
		e.log.Warn("media release failed", logx.String("path", path), logx.Err(err))
	}
}

func (e *Engine) publish(typ string, t storage.Template) {
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.now(), Data: t})
}

// fail ends the session after an infrastructure error.
func (e *Engine) fail(msg string, err error, fields ...logx.Field) (State, []Reply) {
	e.log.Error(msg, append(fields, logx.Err(err))...)
	return stateDone, []Reply{{Text: msgGenericError, RemoveMenu: true}}
}
