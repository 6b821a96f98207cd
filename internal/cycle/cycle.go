// Package cycle decides when a user may start a weekly or daily attempt.
// All boundaries are evaluated in a single canonical time zone: weeks run
// Monday 00:00:00 inclusive through the next Monday 00:00:00 exclusive,
// days are calendar days.
package cycle

import "time"

// Calculator is a pure function of its inputs; it holds only the zone.
type Calculator struct {
	loc *time.Location
}

func New(loc *time.Location) Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return Calculator{loc: loc}
}

// WeekStart returns Monday 00:00:00 of t's week in the canonical zone.
func (c Calculator) WeekStart(t time.Time) time.Time {
	t = t.In(c.loc)
	// Monday-anchored: Sunday counts as day 6 of the running week.
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, c.loc)
}

// WeekID is the ISO-form Monday date identifying a week's prize pool.
func (c Calculator) WeekID(t time.Time) string {
	return c.WeekStart(t).Format("2006-01-02")
}

// SameWeek reports whether a and b fall in the same Monday-anchored week.
func (c Calculator) SameWeek(a, b time.Time) bool {
	return c.WeekStart(a).Equal(c.WeekStart(b))
}

// PreviousWeek reports whether a falls in the week immediately before b's.
func (c Calculator) PreviousWeek(a, b time.Time) bool {
	return c.WeekStart(a).AddDate(0, 0, 7).Equal(c.WeekStart(b))
}

// SameDay reports whether a and b fall on the same calendar day.
func (c Calculator) SameDay(a, b time.Time) bool {
	ay, am, ad := a.In(c.loc).Date()
	by, bm, bd := b.In(c.loc).Date()
	return ay == by && am == bm && ad == bd
}

// CanPlayWeekly is false iff the last weekly play is in the same week as
// now. A user who never played is always eligible.
func (c Calculator) CanPlayWeekly(last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	return !c.SameWeek(*last, now)
}

// CanPlayDaily is false iff the last daily play is on the same calendar
// day as now. A user who never played is always eligible.
func (c Calculator) CanPlayDaily(last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	return !c.SameDay(*last, now)
}
