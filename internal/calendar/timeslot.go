package calendar

import (
	"fmt"
	"time"

	"github.com/noah-isme/elearning-calendar-api/internal/models"
	"github.com/noah-isme/elearning-calendar-api/pkg/timeutil"
)

// BuildWeek lays out the Sunday..Saturday week containing current.
func BuildWeek(current, now time.Time, events []*models.CalendarEvent) []models.DayColumn {
	return BuildDayColumns(timeutil.StartOfWeek(current), now, events, timeutil.DaysPerWeek)
}

// BuildDay lays out the single day containing current.
func BuildDay(current, now time.Time, events []*models.CalendarEvent) []models.DayColumn {
	return BuildDayColumns(timeutil.StartOfDay(current), now, events, 1)
}

// BuildDayColumns builds 24 hour rows for each of count days starting at
// first. An event occupies rows start.hour..end.hour inclusive, clipped to the
// day, so sub-hour events take exactly one row and multi-day events show the
// slice overlapping each day. The now marker only appears in today's column.
func BuildDayColumns(first, now time.Time, events []*models.CalendarEvent, count int) []models.DayColumn {
	loc := first.Location()
	now = now.In(loc)
	first = timeutil.StartOfDay(first)

	placeable := make([]*models.CalendarEvent, 0, len(events))
	for _, event := range events {
		if event != nil && event.Placeable() {
			placeable = append(placeable, event)
		}
	}
	sortByStart(placeable)

	columns := make([]models.DayColumn, 0, count)
	for i := 0; i < count; i++ {
		columns = append(columns, buildColumn(first.AddDate(0, 0, i), now, placeable))
	}
	return columns
}

func buildColumn(day, now time.Time, events []*models.CalendarEvent) models.DayColumn {
	loc := day.Location()
	dayStart := timeutil.StartOfDay(day)
	dayEnd := timeutil.EndOfDay(day)

	column := models.DayColumn{
		Date:       dayStart,
		Label:      fmt.Sprintf("%s %d", timeutil.WeekdayName(dayStart.Weekday()), dayStart.Day()),
		IsToday:    timeutil.IsSameCalendarDay(dayStart, now),
		Rows:       make([]models.TimeSlotRow, timeutil.HoursPerDay),
		Placements: []models.SlotPlacement{},
	}
	for h := range column.Rows {
		column.Rows[h] = models.TimeSlotRow{Hour: h, Events: []*models.CalendarEvent{}}
	}

	for _, event := range events {
		start, end := event.Start.In(loc), event.End.In(loc)
		if start.After(dayEnd) || end.Before(dayStart) {
			continue
		}
		placement := models.SlotPlacement{Event: event}

		segStart, segEnd := start, end
		if start.Before(dayStart) {
			segStart = dayStart
			placement.ContinuesBefore = true
		}
		if end.After(dayEnd) {
			segEnd = dayEnd
			placement.ContinuesAfter = true
		}

		placement.StartRow = segStart.Hour()
		placement.EndRow = segEnd.Hour()
		placement.StartOffset = timeutil.FractionalHour(segStart)
		placement.EndOffset = timeutil.FractionalHour(segEnd)
		if placement.ContinuesAfter {
			placement.EndOffset = timeutil.HoursPerDay
		}

		for h := placement.StartRow; h <= placement.EndRow; h++ {
			column.Rows[h].Events = append(column.Rows[h].Events, event)
		}
		column.Placements = append(column.Placements, placement)
	}

	if column.IsToday {
		offset := timeutil.FractionalHour(now)
		column.NowOffset = &offset
		column.Rows[now.Hour()].HasNowMarker = true
	}
	return column
}

// WeekRange returns the Sunday..Saturday span containing current.
func WeekRange(current time.Time) models.DateRange {
	first := timeutil.StartOfWeek(current)
	return models.DateRange{From: first, To: timeutil.EndOfDay(first.AddDate(0, 0, timeutil.DaysPerWeek-1))}
}

// DayRange returns the local day containing current.
func DayRange(current time.Time) models.DateRange {
	return models.DateRange{From: timeutil.StartOfDay(current), To: timeutil.EndOfDay(current)}
}
