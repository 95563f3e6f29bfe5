// Package calendar turns a flat list of calendar events into month, week and
// day render models. Everything here is pure apart from LiveClock.
package calendar

import (
	"strings"

	"github.com/noah-isme/elearning-calendar-api/internal/models"
)

// TypeBucket is the filter toggle that governs an event type.
type TypeBucket int

const (
	BucketAssignment TypeBucket = iota
	BucketAnnouncement
)

// BucketOf maps an event type onto its filter bucket. Types other than
// assignment, including ones added after this code was written, fall into
// the announcement bucket.
func BucketOf(t models.EventType) TypeBucket {
	switch models.EventType(strings.ToLower(strings.TrimSpace(string(t)))) {
	case models.EventTypeAssignment:
		return BucketAssignment
	case models.EventTypeAnnouncement:
		return BucketAnnouncement
	default:
		return BucketAnnouncement
	}
}

// KnownType reports whether t is one of the declared event types.
func KnownType(t models.EventType) bool {
	switch models.EventType(strings.ToLower(strings.TrimSpace(string(t)))) {
	case models.EventTypeAssignment, models.EventTypeAnnouncement:
		return true
	default:
		return false
	}
}

func typeVisible(t models.EventType, flags models.EventTypeFilters) bool {
	switch BucketOf(t) {
	case BucketAssignment:
		return flags.Assignment
	default:
		return flags.Announcements
	}
}

// Matches reports whether a single event passes the filters.
func Matches(event *models.CalendarEvent, filters models.FilterState) bool {
	if event == nil {
		return false
	}
	if !typeVisible(event.Type, filters.EventTypes) {
		return false
	}
	if !event.HasCourse() {
		return true
	}
	return filters.CourseVisible(event.CourseKey())
}

// FilterEvents returns the events visible under filters. The result is a new
// slice holding the same event pointers in their original order.
func FilterEvents(events []*models.CalendarEvent, filters models.FilterState) []*models.CalendarEvent {
	out := make([]*models.CalendarEvent, 0, len(events))
	for _, event := range events {
		if Matches(event, filters) {
			out = append(out, event)
		}
	}
	return out
}
