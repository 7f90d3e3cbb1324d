package usage

import (
	"fmt"
	"math"
	"time"
)

// Period names a bucket family.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Keys are the bucket keys containing one instant.
type Keys struct {
	Day   string // YYYY-MM-DD, UTC
	Week  string // YYYY-W{n}, in t's location
	Month string // YYYY-MM, UTC
}

// KeysAt computes the bucket keys for t.
//
// Day and month are taken from the UTC date. The week number counts partial
// weeks from January 1st of t's year in t's own location: a year starting on
// a Saturday has a one-day week 1.
func KeysAt(t time.Time) Keys {
	u := t.UTC()
	return Keys{
		Day:   u.Format("2006-01-02"),
		Week:  fmt.Sprintf("%d-W%d", t.Year(), weekNumber(t)),
		Month: u.Format("2006-01"),
	}
}

func weekNumber(t time.Time) int {
	jan1 := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
	pastDays := t.Sub(jan1).Hours() / 24
	return int(math.Ceil((pastDays + float64(jan1.Weekday()) + 1) / 7))
}

func (k Keys) forPeriod(p Period) string {
	switch p {
	case PeriodDay:
		return k.Day
	case PeriodWeek:
		return k.Week
	default:
		return k.Month
	}
}
