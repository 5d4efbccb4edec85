package calendar

import (
	"fmt"
	"time"
)

// DefaultTimezone is the operating timezone of the product.
const DefaultTimezone = "Africa/Addis_Ababa"

const periodLayout = "2006-01-02"

// Period is a civil date in the operating timezone, formatted YYYY-MM-DD.
// The string form sorts chronologically, which the ledger relies on for
// range queries.
type Period string

// ParsePeriod validates s as a YYYY-MM-DD date.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse(periodLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid period %q: %w", s, err)
	}
	return Period(t.Format(periodLayout)), nil
}

// MustParsePeriod is ParsePeriod for constants and tests. Panics on error.
func MustParsePeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Period) String() string {
	return string(p)
}

// date returns the period as midnight UTC. Only used for calendar arithmetic.
func (p Period) date() time.Time {
	t, err := time.Parse(periodLayout, string(p))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Start returns local midnight of the period in loc.
func (p Period) Start(loc *time.Location) time.Time {
	d := p.date()
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

// AddDays shifts the period by n civil days.
func (p Period) AddDays(n int) Period {
	return Period(p.date().AddDate(0, 0, n).Format(periodLayout))
}

// MonthStart returns the first day of the period's month.
func (p Period) MonthStart() Period {
	d := p.date()
	return Period(time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC).Format(periodLayout))
}

// MonthEnd returns the last day of the period's month.
func (p Period) MonthEnd() Period {
	return Period(p.MonthStart().date().AddDate(0, 1, -1).Format(periodLayout))
}

// PreviousMonth returns the first and last day of the month before p.
func (p Period) PreviousMonth() (from, to Period) {
	to = p.MonthStart().AddDays(-1)
	return to.MonthStart(), to
}

// Days returns every period from from to to inclusive. It returns nil when
// to is before from.
func Days(from, to Period) []Period {
	var days []Period
	last := to.date()
	for d := from.date(); !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, Period(d.Format(periodLayout)))
	}
	return days
}

// Calendar resolves instants to periods in a fixed location.
type Calendar struct {
	clock Clock
	loc   *time.Location
}

// New creates a calendar. A nil clock means SystemClock; a nil location
// means UTC.
func New(clock Clock, loc *time.Location) *Calendar {
	if clock == nil {
		clock = SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{clock: clock, loc: loc}
}

// Location returns the operating location.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Now returns the current instant expressed in the operating location.
func (c *Calendar) Now() time.Time {
	return c.clock.Now().In(c.loc)
}

// PeriodKey returns the civil date of t in the operating location.
func (c *Calendar) PeriodKey(t time.Time) Period {
	return Period(t.In(c.loc).Format(periodLayout))
}

// Today returns the period of the current instant.
func (c *Calendar) Today() Period {
	return c.PeriodKey(c.clock.Now())
}

// LoadLocation resolves an IANA zone name. When the host has no tzdata for
// the default zone it falls back to the fixed UTC+3 offset, which is exact
// for East Africa Time (no DST).
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if name == DefaultTimezone {
		return time.FixedZone("EAT", 3*60*60), nil
	}
	return nil, fmt.Errorf("load location %q: %w", name, err)
}
