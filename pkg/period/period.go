package period

import (
	"fmt"
	"time"
)

// Period is a half-open [Start, End) window over which engagement and revenue
// are aggregated into payouts. All bounds are UTC.
type Period struct {
	Start time.Time
	End   time.Time
}

func New(start, end time.Time) Period {
	return Period{Start: start.UTC(), End: end.UTC()}
}

// Label is the stable identifier for the window, used as the payout key and
// the allocation lease key. A calendar month collapses to "2006-01".
func (p Period) Label() string {
	if p.isCalendarMonth() {
		return p.Start.Format("2006-01")
	}
	return fmt.Sprintf("%s_%s", p.Start.Format("20060102"), p.End.Format("20060102"))
}

func (p Period) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(p.Start) && t.Before(p.End)
}

// Validate ensures the window is well-formed and has already closed.
func (p Period) Validate(now time.Time) error {
	if !p.Start.Before(p.End) {
		return fmt.Errorf("period start %s is not before end %s", p.Start, p.End)
	}
	if p.End.After(now.UTC()) {
		return fmt.Errorf("period end %s has not been reached yet", p.End)
	}
	return nil
}

func (p Period) isCalendarMonth() bool {
	return p.Start.Day() == 1 && p.Start.Equal(p.Start.Truncate(24*time.Hour)) &&
		p.End.Equal(p.Start.AddDate(0, 1, 0))
}

// PreviousMonth returns the last fully closed calendar month relative to now.
func PreviousMonth(now time.Time) Period {
	now = now.UTC()
	firstOfThisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: firstOfThisMonth.AddDate(0, -1, 0), End: firstOfThisMonth}
}
