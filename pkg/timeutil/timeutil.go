// Package timeutil provides academic calendar helpers. An academic year is
// named after the calendar year it starts in and starts on 15 September.
package timeutil

import "time"

// Academic year boundary.
const (
	AcademicYearStartMonth = time.September
	AcademicYearStartDay   = 15
)

// Clock returns the current time. Tests replace it.
type Clock func() time.Time

// Now returns the current time in UTC.
func Now() time.Time {
	return time.Now().UTC()
}

// Date creates a UTC time at midnight on the given date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// AcademicYear returns the academic year containing t: t's year from
// 15 September on, the previous year before.
func AcademicYear(t time.Time) int {
	start := time.Date(t.Year(), AcademicYearStartMonth, AcademicYearStartDay, 0, 0, 0, 0, t.Location())
	if t.Before(start) {
		return t.Year() - 1
	}
	return t.Year()
}

// CurrentAcademicYear returns the academic year of clock(), or of Now when
// clock is nil.
func CurrentAcademicYear(clock Clock) int {
	if clock == nil {
		clock = Now
	}
	return AcademicYear(clock())
}

// AcademicYearStart returns the first day of an academic year.
func AcademicYearStart(year int) time.Time {
	return time.Date(year, AcademicYearStartMonth, AcademicYearStartDay, 0, 0, 0, 0, time.UTC)
}
