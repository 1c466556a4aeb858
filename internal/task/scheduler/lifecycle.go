package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"templatebot/pkg/logx"
)

// Start begins triggering every registered job. Jobs added before Start are
// kept and registered now.
func (s *Service) Start(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.startLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

func (s *Service) startLocked() {
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for id, d := range s.jobs {
		s.gen++
		d.gen = s.gen
		d.entryID = s.c.Schedule(d.sched, cron.FuncJob(s.fire(id, d.gen)))
	}
	s.c.Start()
}

// Stop halts triggering and waits for the cron runner to settle. Deliveries
// already handed to the engine are drained by the engine's own Stop.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.jobs {
		d.entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	start := time.Now()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out", logx.Err(ctx.Err()))
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Apply takes a new config. A timezone change restarts the cron runner so
// daily triggers follow the new zone; interval anchors are kept.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if oldTZ == strings.TrimSpace(cfg.Timezone) {
		s.mu.Unlock()
		return
	}
	s.loc = s.loadLocation(cfg.Timezone)
	old := s.c
	if old != nil {
		s.startLocked()
	}
	loc := s.loc
	s.mu.Unlock()

	if old != nil {
		<-old.Stop().Done()
	}
	s.log.Info("scheduler timezone changed", logx.String("tz", loc.String()))
}
