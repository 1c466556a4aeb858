package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"templatebot/internal/eventbus"
	"templatebot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan queuedTask) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.execOne(stopCh, qt)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(stopCh <-chan struct{}, qt queuedTask) {
	s.mu.Lock()
	cfg, runCtx := s.cfg, s.runCtx
	s.mu.Unlock()
	if runCtx == nil {
		runCtx = context.Background()
	}

	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)
	t := qt.task

	if cfg.MaxQueueDelay > 0 && queueDelay > cfg.MaxQueueDelay {
		qt.releaseState()
		s.dropped.Add(1)
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskDropped, Time: start, Data: TaskEvent{ID: t.ID, Name: t.Name, QueueDelay: queueDelay, Error: "stale"}})
		s.log.Warn("task dropped: waited too long", logx.String("task", t.Name), logx.Duration("queue_delay", queueDelay))
		s.record(HistoryItem{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Error: "stale"})
		return
	}

	s.bus.Publish(eventbus.Event{Type: eventbus.TaskStarted, Time: start, Data: TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay}})

	var err error
	attempts := 0
	maxAttempts := 1 + max(qt.opt.RetryMax, 0)
	for attempts < maxAttempts {
		attempts++
		err = s.runAttempt(runCtx, qt)
		if err == nil || IsNoRetry(err) || attempts >= maxAttempts {
			break
		}

		delay := backoffDelay(qt.opt, attempts, err)
		s.log.Debug("task retry scheduled", logx.String("task", t.Name), logx.Int("attempt", attempts+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-tmr.C:
			continue
		case <-stopCh:
		case <-runCtx.Done():
		}
		tmr.Stop()
		err = fmt.Errorf("retry abandoned on shutdown: %w", err)
		break
	}

	// Release before publishing so observers of the event see the job idle.
	qt.releaseState()

	dur := time.Since(start)
	item := HistoryItem{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	ev := TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	if err != nil {
		item.Error, ev.Error = err.Error(), err.Error()
		s.log.Warn("task failed", logx.String("task", t.Name), logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, Data: ev})
	} else {
		lvl := s.log.Debug
		if dur >= 750*time.Millisecond {
			lvl = s.log.Info
		}
		lvl("task completed", logx.String("task", t.Name), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskFinished, Data: ev})
	}
	s.record(item)
}

// runAttempt runs one attempt under its own timeout. A panic becomes an error.
func (s *Service) runAttempt(parent context.Context, qt queuedTask) (err error) {
	ctx, cancel := context.WithTimeout(parent, qt.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.Stack(logx.StackTrace(4, 24)))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return qt.task.Run(ctx)
}

func backoffDelay(opt TaskOptions, attempt int, err error) time.Duration {
	var d time.Duration
	var ra RetryAfterError
	if errors.As(err, &ra) {
		d = ra.RetryAfter()
	} else {
		d = opt.RetryBase
		for i := 1; i < attempt && d < opt.RetryMaxDelay; i++ {
			d *= 2
		}
	}
	if opt.RetryJitter > 0 && d > 0 {
		d = time.Duration(float64(d) * (1 + (rand.Float64()*2-1)*opt.RetryJitter))
	}
	return min(max(d, 0), opt.RetryMaxDelay)
}
