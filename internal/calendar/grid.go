package calendar

import (
	"sort"
	"time"

	"github.com/noah-isme/elearning-calendar-api/internal/models"
	"github.com/noah-isme/elearning-calendar-api/pkg/timeutil"
)

// MinGridCells is the smallest month grid. Grids grow to 42 cells only when
// the month spills into a sixth week.
const MinGridCells = 35

// DefaultOverflowLimit is how many events a month cell shows before the UI
// offers "show more".
const DefaultOverflowLimit = 2

type dayKey struct {
	year  int
	month time.Month
	day   int
}

func keyOf(t time.Time) dayKey {
	y, m, d := t.Date()
	return dayKey{year: y, month: m, day: d}
}

// bucketByStartDay groups placeable events by the local calendar day of their
// start, keeping each bucket ordered by start time.
func bucketByStartDay(events []*models.CalendarEvent, loc *time.Location) map[dayKey][]*models.CalendarEvent {
	buckets := make(map[dayKey][]*models.CalendarEvent)
	for _, event := range events {
		if event == nil || !event.Placeable() {
			continue
		}
		key := keyOf(event.Start.In(loc))
		buckets[key] = append(buckets[key], event)
	}
	for _, bucket := range buckets {
		sortByStart(bucket)
	}
	return buckets
}

func sortByStart(events []*models.CalendarEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
}

// GridCellCount returns how many cells the month grid needs: enough whole
// weeks to hold the leading days and the month itself, never fewer than 35.
func GridCellCount(year, month int) int {
	used := timeutil.FirstWeekdayOfMonth(year, month) + timeutil.DaysInMonth(year, month)
	cells := ((used + timeutil.DaysPerWeek - 1) / timeutil.DaysPerWeek) * timeutil.DaysPerWeek
	if cells < MinGridCells {
		cells = MinGridCells
	}
	return cells
}

// BuildMonthGrid lays out the Sunday-first month grid containing current.
// Cells before day 1 come from the previous month, cells after the last day
// from the next one. Events land in the cell matching the full local date of
// their start.
func BuildMonthGrid(current, now time.Time, events []*models.CalendarEvent) models.MonthGrid {
	loc := current.Location()
	now = now.In(loc)
	year, month := current.Year(), timeutil.MonthIndex(current)

	leading := timeutil.FirstWeekdayOfMonth(year, month)
	days := timeutil.DaysInMonth(year, month)
	total := GridCellCount(year, month)

	prevYear, prevMonth := timeutil.AdjacentMonth(year, month, -1)
	prevDays := timeutil.DaysInMonth(prevYear, prevMonth)
	nextYear, nextMonth := timeutil.AdjacentMonth(year, month, 1)

	buckets := bucketByStartDay(events, loc)
	cells := make([]models.DayCell, 0, total)
	add := func(y, m, d int, inMonth bool) {
		date := timeutil.Date(y, m, d, loc)
		cell := models.DayCell{
			Date:           date,
			Year:           y,
			Month:          m,
			Day:            d,
			IsCurrentMonth: inMonth,
			IsToday:        inMonth && timeutil.IsSameCalendarDay(date, now),
			Events:         buckets[keyOf(date)],
		}
		if cell.Events == nil {
			cell.Events = []*models.CalendarEvent{}
		}
		cells = append(cells, cell)
	}

	for i := leading - 1; i >= 0; i-- {
		add(prevYear, prevMonth, prevDays-i, false)
	}
	for d := 1; d <= days; d++ {
		add(year, month, d, true)
	}
	for d := 1; len(cells) < total; d++ {
		add(nextYear, nextMonth, d, false)
	}

	return models.MonthGrid{
		Year:  year,
		Month: month,
		Title: timeutil.MonthTitle(current),
		Weeks: total / timeutil.DaysPerWeek,
		Cells: cells,
	}
}

// MonthGridRange returns the first and last local day shown by the grid.
func MonthGridRange(current time.Time) models.DateRange {
	loc := current.Location()
	year, month := current.Year(), timeutil.MonthIndex(current)
	first := timeutil.Date(year, month, 1, loc).AddDate(0, 0, -timeutil.FirstWeekdayOfMonth(year, month))
	last := first.AddDate(0, 0, GridCellCount(year, month)-1)
	return models.DateRange{From: first, To: timeutil.EndOfDay(last)}
}
