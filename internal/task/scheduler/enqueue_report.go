package scheduler

import (
	"errors"
	"time"

	"templatebot/internal/task/engine"
	"templatebot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// reportEnqueueError logs an occurrence that never reached a worker.
// Overlap skips are the chosen policy and are always logged; other causes
// are throttled per job.
func (s *Service) reportEnqueueError(id string, err error) {
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Info("occurrence skipped: previous delivery still running", logx.String("job", id))
		return
	}

	now := s.now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[id]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[id] = now
	s.enqMu.Unlock()

	s.log.Warn("occurrence not dispatched", logx.String("job", id), logx.Err(err))
}
