package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"templatebot/internal/task/engine"
	"templatebot/pkg/logx"
)

// recordRunner keeps dispatched tasks without running them.
type recordRunner struct {
	mu    sync.Mutex
	tasks []engine.Task
}

func (r *recordRunner) Enqueue(t engine.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
	return nil
}

func (r *recordRunner) runAll(t *testing.T) {
	t.Helper()
	r.mu.Lock()
	tasks := r.tasks
	r.tasks = nil
	r.mu.Unlock()
	for _, task := range tasks {
		require.NoError(t, task.Run(context.Background()))
	}
}

func (r *recordRunner) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

var march1 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestService(r Runner) *Service {
	s := New(Config{Timezone: "UTC"}, r, logx.Nop(), nil)
	s.now = func() time.Time { return march1 }
	return s
}

func noop(context.Context) error { return nil }

func currentGen(s *Service, id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id].gen
}

func TestUpsertThenCancelLeavesNoJob(t *testing.T) {
	t.Parallel()

	for _, tr := range []Trigger{DailyAt(12, 0), Every(UnitHours, 12), Every(UnitMinutes, 1)} {
		s := newTestService(&recordRunner{})
		require.NoError(t, s.Upsert("template_1", tr, noop))
		assert.Equal(t, Cancelled, s.Cancel("template_1"))
		_, ok := s.Get("template_1")
		assert.False(t, ok)
		assert.Empty(t, s.List())
	}
}

func TestCancelUnknownIsNotFound(t *testing.T) {
	t.Parallel()

	s := newTestService(&recordRunner{})
	assert.Equal(t, NotFound, s.Cancel("template_404"))
}

func TestFailedUpsertKeepsPreviousJob(t *testing.T) {
	t.Parallel()

	s := newTestService(&recordRunner{})
	require.NoError(t, s.Upsert("template_1", Every(UnitHours, 12), noop))

	err := s.Upsert("template_1", Trigger{Kind: TriggerDaily, Hour: 25}, noop)
	require.ErrorIs(t, err, ErrInvalidTrigger)

	j, ok := s.Get("template_1")
	require.True(t, ok)
	assert.Equal(t, Every(UnitHours, 12), j.Trigger)
}

func TestReplaceSilencesOldTrigger(t *testing.T) {
	t.Parallel()

	r := &recordRunner{}
	s := newTestService(r)
	var oldRuns, newRuns atomic.Int32

	require.NoError(t, s.Upsert("template_1", Every(UnitHours, 12), func(context.Context) error {
		oldRuns.Add(1)
		return nil
	}))
	oldFire := s.fire("template_1", currentGen(s, "template_1"))

	require.NoError(t, s.Upsert("template_1", DailyAt(9, 30), func(context.Context) error {
		newRuns.Add(1)
		return nil
	}))

	oldFire()
	assert.Zero(t, r.len(), "replaced registration must not dispatch")

	s.fire("template_1", currentGen(s, "template_1"))()
	r.runAll(t)
	assert.Zero(t, oldRuns.Load())
	assert.EqualValues(t, 1, newRuns.Load())

	jobs := s.List()
	require.Len(t, jobs, 1)
	assert.Equal(t, DailyAt(9, 30), jobs[0].Trigger)
}

func TestQueuedOccurrenceDroppedAfterCancel(t *testing.T) {
	t.Parallel()

	r := &recordRunner{}
	s := newTestService(r)
	var runs atomic.Int32
	require.NoError(t, s.Upsert("template_1", Every(UnitMinutes, 1), func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.fire("template_1", currentGen(s, "template_1"))()
	require.Equal(t, 1, r.len())
	require.Equal(t, Cancelled, s.Cancel("template_1"))

	r.runAll(t)
	assert.Zero(t, runs.Load())
}

func TestFiredTaskUsesSkipIfRunning(t *testing.T) {
	t.Parallel()

	r := &recordRunner{}
	s := New(Config{Timezone: "UTC", Timeout: 7 * time.Second}, r, logx.Nop(), nil)
	require.NoError(t, s.Upsert("template_9", Every(UnitHours, 1), noop))
	s.fire("template_9", currentGen(s, "template_9"))()

	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.tasks, 1)
	task := r.tasks[0]
	assert.Equal(t, "template_9", task.Name)
	assert.Equal(t, 7*time.Second, task.Timeout)
	assert.Equal(t, engine.OverlapSkipIfRunning, task.Opt.Overlap)
	assert.NotNil(t, task.State)
}

func TestDailyNextUsesWallClock(t *testing.T) {
	t.Parallel()

	s := newTestService(&recordRunner{})
	require.NoError(t, s.Upsert("template_1", DailyAt(9, 30), noop))
	require.NoError(t, s.Upsert("template_2", DailyAt(12, 0), noop))

	j1, _ := s.Get("template_1")
	j2, _ := s.Get("template_2")
	assert.Equal(t, time.Date(2025, 3, 2, 9, 30, 0, 0, time.UTC), j1.Next.UTC())
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), j2.Next.UTC())
}

func TestAnchoredScheduleDoesNotDrift(t *testing.T) {
	t.Parallel()

	a, err := newAnchoredSchedule(march1, 12*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, march1.Add(12*time.Hour), a.Next(march1))
	// A slow run finishing five minutes late does not shift the next slot.
	assert.Equal(t, march1.Add(24*time.Hour), a.Next(march1.Add(12*time.Hour+5*time.Minute)))
	assert.Equal(t, march1.Add(36*time.Hour), a.Next(march1.Add(24*time.Hour)))
	assert.Equal(t, march1.Add(12*time.Hour), a.Next(march1.Add(-time.Hour)))

	_, err = newAnchoredSchedule(march1, 0)
	require.ErrorIs(t, err, ErrInvalidTrigger)
}

func TestLiveFiringStopsAfterCancel(t *testing.T) {
	t.Parallel()

	eng := engine.New(engine.Config{Workers: 2}, logx.Nop(), nil)
	eng.Start(context.Background())
	s := New(Config{Timezone: "UTC"}, eng, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Stop(ctx)
	})

	var runs atomic.Int32
	sched, err := newAnchoredSchedule(time.Now(), 30*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, s.install("template_1", Every(UnitMinutes, 1), sched, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, Cancelled, s.Cancel("template_1"))
	time.Sleep(50 * time.Millisecond)
	settled := runs.Load()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, settled, runs.Load())
}

func TestLiveOccurrencesNeverOverlap(t *testing.T) {
	t.Parallel()

	eng := engine.New(engine.Config{Workers: 4}, logx.Nop(), nil)
	eng.Start(context.Background())
	s := New(Config{Timezone: "UTC"}, eng, logx.Nop(), nil)
	s.Start(context.Background())

	var active, maxActive, starts atomic.Int32
	release := make(chan struct{})
	sched, err := newAnchoredSchedule(time.Now(), 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, s.install("template_1", Every(UnitMinutes, 1), sched, func(context.Context) error {
		starts.Add(1)
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		return nil
	}))

	require.Eventually(t, func() bool { return starts.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, starts.Load(), "occurrences during a running delivery are skipped")

	require.Equal(t, Cancelled, s.Cancel("template_1"))
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	eng.Stop(ctx)
	assert.EqualValues(t, 1, maxActive.Load())
}

func TestStartRegistersEarlierJobsAndApplyKeepsThem(t *testing.T) {
	t.Parallel()

	s := New(Config{Timezone: "UTC"}, &recordRunner{}, logx.Nop(), nil)
	require.NoError(t, s.Upsert("template_1", DailyAt(12, 0), noop))
	s.Start(context.Background())

	s.Apply(Config{Timezone: "Local"})
	jobs := s.List()
	require.Len(t, jobs, 1)
	assert.False(t, jobs[0].Next.IsZero())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	_, ok := s.Get("template_1")
	assert.True(t, ok, "jobs survive Stop")
}
