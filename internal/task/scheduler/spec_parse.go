package scheduler

import (
	"regexp"
	"strconv"
	"strings"
)

// Menu labels offered to the operator.
const (
	LabelDailyNoon    = "Daily at 12:00"
	LabelEvery12Hours = "Every 12 hours"
	LabelEveryMinute  = "Every minute"
)

var (
	reDaily      = regexp.MustCompile(`^daily at (\d{1,2}):(\d{2})$`)
	reEveryHours = regexp.MustCompile(`^every (\d{1,3}) hours?$`)
)

// ParseLabel maps a schedule label to a Trigger. Matching ignores case and
// surrounding whitespace. Only the closed set of shapes is accepted:
//
//	"daily at HH:MM"  -> DailyAt(HH, MM)
//	"every N hours"   -> Every(UnitHours, N)
//	"every minute"    -> Every(UnitMinutes, 1)
//
// Anything else, including an out-of-range time, reports false.
func ParseLabel(label string) (Trigger, bool) {
	s := strings.Join(strings.Fields(strings.ToLower(label)), " ")

	if s == "every minute" {
		return Every(UnitMinutes, 1), true
	}
	if m := reDaily.FindStringSubmatch(s); m != nil {
		t := DailyAt(atoi(m[1]), atoi(m[2]))
		if t.Validate() != nil {
			return Trigger{}, false
		}
		return t, true
	}
	if m := reEveryHours.FindStringSubmatch(s); m != nil {
		t := Every(UnitHours, atoi(m[1]))
		if t.Validate() != nil {
			return Trigger{}, false
		}
		return t, true
	}
	return Trigger{}, false
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}
