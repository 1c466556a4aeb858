package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type TriggerKind int

const (
	TriggerDaily TriggerKind = iota + 1
	TriggerInterval
)

type IntervalUnit int

const (
	UnitMinutes IntervalUnit = iota + 1
	UnitHours
)

func (u IntervalUnit) duration() time.Duration {
	switch u {
	case UnitMinutes:
		return time.Minute
	case UnitHours:
		return time.Hour
	default:
		return 0
	}
}

// Trigger is either Daily{Hour, Minute} or Interval{Unit, Amount}.
type Trigger struct {
	Kind   TriggerKind
	Hour   int
	Minute int
	Unit   IntervalUnit
	Amount int
}

func DailyAt(hour, minute int) Trigger {
	return Trigger{Kind: TriggerDaily, Hour: hour, Minute: minute}
}

func Every(unit IntervalUnit, amount int) Trigger {
	return Trigger{Kind: TriggerInterval, Unit: unit, Amount: amount}
}

var ErrInvalidTrigger = errors.New("invalid trigger")

func (t Trigger) Validate() error {
	switch t.Kind {
	case TriggerDaily:
		if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
			return fmt.Errorf("%w: daily at %02d:%02d", ErrInvalidTrigger, t.Hour, t.Minute)
		}
	case TriggerInterval:
		if t.Unit.duration() == 0 || t.Amount < 1 {
			return fmt.Errorf("%w: interval %d of unit %d", ErrInvalidTrigger, t.Amount, t.Unit)
		}
	default:
		return fmt.Errorf("%w: kind %d", ErrInvalidTrigger, t.Kind)
	}
	return nil
}

// Period is the interval length; zero for daily triggers.
func (t Trigger) Period() time.Duration {
	if t.Kind != TriggerInterval {
		return 0
	}
	return time.Duration(t.Amount) * t.Unit.duration()
}

func (t Trigger) String() string {
	switch t.Kind {
	case TriggerDaily:
		return fmt.Sprintf("daily at %02d:%02d", t.Hour, t.Minute)
	case TriggerInterval:
		unit := "minute"
		if t.Unit == UnitHours {
			unit = "hour"
		}
		if t.Amount == 1 {
			return "every " + unit
		}
		return fmt.Sprintf("every %d %ss", t.Amount, unit)
	default:
		return "unknown"
	}
}

// Job is a read-only view of a registered job.
type Job struct {
	ID      string
	Trigger Trigger
	Next    time.Time
	Prev    time.Time
}

// CancelResult distinguishes a removed job from one that did not exist.
// NotFound is an expected outcome, not a failure.
type CancelResult int

const (
	Cancelled CancelResult = iota + 1
	NotFound
)

func (r CancelResult) String() string {
	if r == Cancelled {
		return "cancelled"
	}
	return "not_found"
}

const jobIDPrefix = "template_"

// JobIDFor derives the job id of a template.
func JobIDFor(templateID int64) string {
	return jobIDPrefix + strconv.FormatInt(templateID, 10)
}

// TemplateIDOf reverses JobIDFor.
func TemplateIDOf(jobID string) (int64, bool) {
	raw, ok := strings.CutPrefix(jobID, jobIDPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

type Config struct {
	Timezone string // IANA name; empty means the host zone
	// Timeout bounds one delivery attempt.
	Timeout time.Duration
}
