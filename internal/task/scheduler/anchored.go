package scheduler

import (
	"fmt"
	"time"
)

// anchoredSchedule fires at anchor + k*every. Next depends only on the
// anchor, never on when the previous run finished.
type anchoredSchedule struct {
	anchor time.Time
	every  time.Duration
}

func newAnchoredSchedule(anchor time.Time, every time.Duration) (*anchoredSchedule, error) {
	if every <= 0 {
		return nil, fmt.Errorf("%w: non-positive interval %s", ErrInvalidTrigger, every)
	}
	return &anchoredSchedule{anchor: anchor, every: every}, nil
}

// Next returns the first occurrence strictly after t.
func (a *anchoredSchedule) Next(t time.Time) time.Time {
	if t.Before(a.anchor) {
		return a.anchor.Add(a.every).In(t.Location())
	}
	k := t.Sub(a.anchor)/a.every + 1
	return a.anchor.Add(k * a.every).In(t.Location())
}
