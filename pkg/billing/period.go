package billing

import (
	"errors"
	"fmt"
	"time"
)

// PeriodLayout is the key format of a billing period
const PeriodLayout = "2006-01"

var ErrInvalidPeriod = errors.New("billing: invalid period")

// Period is a calendar-month billing window [Start, End)
type Period struct {
	Key   string    `json:"key"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ParsePeriod parses a YYYY-MM period key into UTC month bounds
func ParsePeriod(key string) (Period, error) {
	start, err := time.Parse(PeriodLayout, key)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q: %v", ErrInvalidPeriod, key, err)
	}
	return MonthOf(start), nil
}

// MonthOf returns the period containing t
func MonthOf(t time.Time) Period {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{
		Key:   start.Format(PeriodLayout),
		Start: start,
		End:   start.AddDate(0, 1, 0),
	}
}

// Previous returns the month before p
func (p Period) Previous() Period {
	return MonthOf(p.Start.AddDate(0, -1, 0))
}

// Contains reports whether t falls inside the period
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// IsClosed reports whether the period ended before now
func (p Period) IsClosed(now time.Time) bool {
	return !now.Before(p.End)
}

func (p Period) String() string {
	return p.Key
}
