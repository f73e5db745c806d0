package util

import "time"

// DateLayout is the calendar day format persisted in usage records.
const DateLayout = "2006-01-02"

// NowUTC exposes time.Now for deterministic testing.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// DayKey formats t as a calendar day in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// NextDayStart returns the first instant of the day after t in loc.
func NextDayStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// AddCalendarMonths moves t forward by n months. Overflowing days roll into
// the following month, so Jan 31 + 1 month is Mar 2 or Mar 3.
func AddCalendarMonths(t time.Time, n int) time.Time {
	return t.AddDate(0, n, 0)
}
