package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Freq is the cadence of a repeating reminder.
type Freq string

const (
	Daily   Freq = "daily"
	Weekly  Freq = "weekly"
	Monthly Freq = "monthly"
	// EveryN repeats every Rule.Days calendar days.
	EveryN Freq = "every"
)

// Rule describes how a repeating reminder advances from one occurrence
// to the next. Days is only meaningful for EveryN.
type Rule struct {
	Freq Freq `json:"freq"`
	Days int  `json:"days,omitempty"`
}

func (r Rule) Validate() error {
	switch r.Freq {
	case Daily, Weekly, Monthly:
		return nil
	case EveryN:
		if r.Days <= 0 {
			return fmt.Errorf("recurrence %q requires a positive day count", r.Freq)
		}
		return nil
	default:
		return fmt.Errorf("unknown recurrence %q", r.Freq)
	}
}

// String renders the rule in its storage form: "daily", "weekly",
// "monthly", or "every:N".
func (r Rule) String() string {
	if r.Freq == EveryN {
		return fmt.Sprintf("%s:%d", EveryN, r.Days)
	}
	return string(r.Freq)
}

// Parse is the inverse of String.
func Parse(s string) (Rule, error) {
	s = strings.TrimSpace(s)
	if kind, n, ok := strings.Cut(s, ":"); ok {
		if Freq(kind) != EveryN {
			return Rule{}, fmt.Errorf("invalid recurrence %q", s)
		}
		days, err := strconv.Atoi(n)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid recurrence %q", s)
		}
		r := Rule{Freq: EveryN, Days: days}
		return r, r.Validate()
	}
	r := Rule{Freq: Freq(s)}
	return r, r.Validate()
}

// Next computes the occurrence following occ under rule. The result
// preserves the wall-clock time of day in occ's location, so daily and
// weekly advancement follows the local calendar across DST shifts
// rather than adding a fixed number of hours. Monthly advancement keeps
// the day of month, clamping to the last day of shorter months
// (Jan 31 -> Feb 28/29). The clamp never re-expands: a reminder that
// lands on Feb 28 continues on the 28th thereafter.
func Next(occ time.Time, rule Rule) time.Time {
	switch rule.Freq {
	case Daily:
		return occ.AddDate(0, 0, 1)
	case Weekly:
		return occ.AddDate(0, 0, 7)
	case Monthly:
		return nextMonth(occ)
	case EveryN:
		return occ.AddDate(0, 0, rule.Days)
	}
	return occ
}

func nextMonth(occ time.Time) time.Time {
	year, month, day := occ.Date()
	hour, min, sec := occ.Clock()
	// First of the following month; time.Date normalizes December+1.
	first := time.Date(year, month+1, 1, hour, min, sec, occ.Nanosecond(), occ.Location())
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, min, sec, occ.Nanosecond(), occ.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
