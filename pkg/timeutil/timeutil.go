// Package timeutil holds the calendar date arithmetic shared by every view.
//
// All helpers work on the location carried by their arguments, so callers
// convert instants into the viewer's location first. Months passed as ints are
// 0-indexed (January == 0).
package timeutil

import (
	"fmt"
	"math"
	"time"

	"github.com/go-playground/locales"
	"github.com/go-playground/locales/es"
)

// DaysPerWeek is the width of every calendar row.
const DaysPerWeek = 7

// HoursPerDay is the number of hour rows in week and day views.
const HoursPerDay = 24

var translator locales.Translator = es.New()

// StartOfDay returns local midnight for t.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the last representable instant of t's calendar day.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// IsSameCalendarDay compares year, month and day in a's location.
func IsSameCalendarDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// NormalizeMonth folds an out-of-range 0-indexed month into the right year.
func NormalizeMonth(year, month int) (int, int) {
	year += month / 12
	month %= 12
	if month < 0 {
		month += 12
		year--
	}
	return year, month
}

// AdjacentMonth returns the (year, month) pair delta months away.
func AdjacentMonth(year, month, delta int) (int, int) {
	return NormalizeMonth(year, month+delta)
}

// DaysInMonth returns the Gregorian length of a 0-indexed month.
func DaysInMonth(year, month int) int {
	year, month = NormalizeMonth(year, month)
	return time.Date(year, time.Month(month+2), 0, 0, 0, 0, 0, time.UTC).Day()
}

// FirstWeekdayOfMonth returns the weekday of day 1, Sunday == 0.
func FirstWeekdayOfMonth(year, month int) int {
	year, month = NormalizeMonth(year, month)
	return int(time.Date(year, time.Month(month+1), 1, 0, 0, 0, 0, time.UTC).Weekday())
}

// MonthIndex returns t's 0-indexed month.
func MonthIndex(t time.Time) int {
	return int(t.Month()) - 1
}

// Date builds local midnight for a 0-indexed month.
func Date(year, month, day int, loc *time.Location) time.Time {
	year, month = NormalizeMonth(year, month)
	return time.Date(year, time.Month(month+1), day, 0, 0, 0, 0, loc)
}

// StartOfWeek returns the Sunday that opens t's week.
func StartOfWeek(t time.Time) time.Time {
	day := StartOfDay(t)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

// StartOfMonth returns local midnight of day 1 of t's month.
func StartOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// AddMonthsClamped moves t by delta months keeping the day of month when it
// exists in the target month and clamping to its last day otherwise.
func AddMonthsClamped(t time.Time, delta int) time.Time {
	year, month := AdjacentMonth(t.Year(), MonthIndex(t), delta)
	day := t.Day()
	if last := DaysInMonth(year, month); day > last {
		day = last
	}
	hour, min, sec := t.Clock()
	return time.Date(year, time.Month(month+1), day, hour, min, sec, t.Nanosecond(), t.Location())
}

// DaysBetween returns the fractional number of days from a to b.
func DaysBetween(a, b time.Time) float64 {
	return b.Sub(a).Hours() / HoursPerDay
}

// CeilDaysBetween rounds DaysBetween up to whole days.
func CeilDaysBetween(a, b time.Time) int {
	return int(math.Ceil(DaysBetween(a, b)))
}

// FractionalHour returns the hour of day of t including minutes and seconds.
func FractionalHour(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600
}

// MonthName returns the Spanish month name for a 0-indexed month.
func MonthName(month int) string {
	_, month = NormalizeMonth(0, month)
	return translator.MonthWide(time.Month(month + 1))
}

// WeekdayName returns the abbreviated Spanish weekday name.
func WeekdayName(d time.Weekday) string {
	return translator.WeekdayAbbreviated(d)
}

// FormatDate renders t like "viernes, 15 de marzo de 2024".
func FormatDate(t time.Time) string {
	return fmt.Sprintf("%s, %d de %s de %d", translator.WeekdayWide(t.Weekday()), t.Day(), MonthName(MonthIndex(t)), t.Year())
}

// FormatTime renders the 24h clock time of t.
func FormatTime(t time.Time) string {
	return t.Format("15:04")
}

// FormatDateRange renders an event span for humans. Same-day spans collapse
// the date and only repeat the clock time.
func FormatDateRange(start, end time.Time) string {
	if IsSameCalendarDay(start, end) {
		if start.Equal(end) {
			return fmt.Sprintf("%s, %s", FormatDate(start), FormatTime(start))
		}
		return fmt.Sprintf("%s, %s - %s", FormatDate(start), FormatTime(start), FormatTime(end))
	}
	return fmt.Sprintf("%s, %s - %s, %s", FormatDate(start), FormatTime(start), FormatDate(end), FormatTime(end))
}

// MonthTitle renders "marzo 2024" style headings.
func MonthTitle(t time.Time) string {
	return fmt.Sprintf("%s %d", MonthName(MonthIndex(t)), t.Year())
}
