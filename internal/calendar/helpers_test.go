package calendar

import (
	"time"

	"github.com/noah-isme/elearning-calendar-api/internal/models"
)

func strPtr(v string) *string { return &v }

func at(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func newEvent(id string, typ models.EventType, start, end time.Time) *models.CalendarEvent {
	return &models.CalendarEvent{ID: id, Title: id, Type: typ, Start: start, End: end}
}

func withCourse(e *models.CalendarEvent, id, title string) *models.CalendarEvent {
	e.CourseID = strPtr(id)
	e.CourseTitle = strPtr(title)
	return e
}

func ids(events []*models.CalendarEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.ID)
	}
	return out
}
