package models

import (
	"strings"
	"time"
)

// EventType classifies a calendar entry.
type EventType string

const (
	EventTypeAssignment   EventType = "assignment"
	EventTypeAnnouncement EventType = "announcement"
)

// CalendarEvent represents an assignment due-date or an announcement placed on the calendar.
// Start decides day placement; End decides whether the event is over.
type CalendarEvent struct {
	ID          string    `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Type        EventType `db:"event_type" json:"type"`
	Start       time.Time `db:"start_at" json:"start"`
	End         time.Time `db:"end_at" json:"end"`
	CourseID    *string   `db:"course_id" json:"course_id,omitempty"`
	CourseTitle *string   `db:"course_title" json:"course_title,omitempty"`
	CourseCode  *string   `db:"course_code" json:"course_code,omitempty"`
	Instructor  *string   `db:"instructor" json:"instructor,omitempty"`
	IsGraded    *bool     `db:"is_graded" json:"is_graded,omitempty"`
	Score       *float64  `db:"score" json:"score,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// HasCourse reports whether the event belongs to a course.
func (e *CalendarEvent) HasCourse() bool {
	return e.CourseKey() != ""
}

// CourseKey returns the stable identifier used by course filters. Events
// loaded without a course id fall back to their course title.
func (e *CalendarEvent) CourseKey() string {
	if e.CourseID != nil && strings.TrimSpace(*e.CourseID) != "" {
		return *e.CourseID
	}
	if e.CourseTitle != nil {
		return strings.TrimSpace(*e.CourseTitle)
	}
	return ""
}

// Placeable reports whether the event carries a usable time span.
func (e *CalendarEvent) Placeable() bool {
	return !e.Start.IsZero() && !e.End.IsZero() && !e.End.Before(e.Start)
}

// CalendarEventFilter narrows down events loaded from storage. When
// RestrictCourses is set only course-less events and events of CourseIDs
// match, even if CourseIDs is empty.
type CalendarEventFilter struct {
	From            *time.Time
	To              *time.Time
	Types           []EventType
	RestrictCourses bool
	CourseIDs       []string
	Page            int
	PageSize        int
}

// ViewMode selects the layout algorithm.
type ViewMode string

const (
	ViewMonth ViewMode = "month"
	ViewWeek  ViewMode = "week"
	ViewDay   ViewMode = "day"
)

// Valid reports whether v is a known view mode.
func (v ViewMode) Valid() bool {
	switch v {
	case ViewMonth, ViewWeek, ViewDay:
		return true
	default:
		return false
	}
}

// ParseViewMode converts user input into a ViewMode.
func ParseViewMode(raw string) (ViewMode, bool) {
	v := ViewMode(strings.ToLower(strings.TrimSpace(raw)))
	return v, v.Valid()
}

// EventTypeFilters toggles visibility per event type bucket.
type EventTypeFilters struct {
	Assignment    bool `json:"assignment"`
	Announcements bool `json:"announcements"`
}

// FilterState holds the type and course visibility toggles. Course keys
// missing from Courses are visible.
type FilterState struct {
	EventTypes EventTypeFilters `json:"event_types"`
	Courses    map[string]bool  `json:"courses"`
}

// DefaultFilterState shows everything.
func DefaultFilterState() FilterState {
	return FilterState{
		EventTypes: EventTypeFilters{Assignment: true, Announcements: true},
		Courses:    map[string]bool{},
	}
}

// CourseVisible reports whether a course key passes the filter.
func (f FilterState) CourseVisible(key string) bool {
	if visible, ok := f.Courses[key]; ok {
		return visible
	}
	return true
}

// Clone returns a deep copy so callers cannot mutate controller state.
func (f FilterState) Clone() FilterState {
	clone := FilterState{EventTypes: f.EventTypes, Courses: make(map[string]bool, len(f.Courses))}
	for k, v := range f.Courses {
		clone.Courses[k] = v
	}
	return clone
}

// DayCell is one square of the month grid. Month is 0-indexed.
type DayCell struct {
	Date           time.Time        `json:"date"`
	Year           int              `json:"year"`
	Month          int              `json:"month"`
	Day            int              `json:"day"`
	IsCurrentMonth bool             `json:"is_current_month"`
	IsToday        bool             `json:"is_today"`
	Events         []*CalendarEvent `json:"events"`
}

// Visible returns at most limit events for compact rendering. A non-positive
// limit returns every event.
func (c DayCell) Visible(limit int) []*CalendarEvent {
	if limit <= 0 || len(c.Events) <= limit {
		return c.Events
	}
	return c.Events[:limit]
}

// Hidden returns how many events Visible(limit) leaves out.
func (c DayCell) Hidden(limit int) int {
	return len(c.Events) - len(c.Visible(limit))
}

// MonthGrid is the month view render model.
type MonthGrid struct {
	Year  int       `json:"year"`
	Month int       `json:"month"`
	Title string    `json:"title"`
	Weeks int       `json:"weeks"`
	Cells []DayCell `json:"cells"`
}

// TimeSlotRow is one hour of one visible day.
type TimeSlotRow struct {
	Hour         int              `json:"hour"`
	Events       []*CalendarEvent `json:"events"`
	HasNowMarker bool             `json:"has_now_marker"`
}

// SlotPlacement locates the portion of an event that overlaps one day.
// Offsets are fractional hours from local midnight.
type SlotPlacement struct {
	Event           *CalendarEvent `json:"event"`
	StartRow        int            `json:"start_row"`
	EndRow          int            `json:"end_row"`
	StartOffset     float64        `json:"start_offset"`
	EndOffset       float64        `json:"end_offset"`
	ContinuesBefore bool           `json:"continues_before"`
	ContinuesAfter  bool           `json:"continues_after"`
}

// DayColumn is one visible day in the week or day view.
type DayColumn struct {
	Date       time.Time       `json:"date"`
	Label      string          `json:"label"`
	IsToday    bool            `json:"is_today"`
	Rows       []TimeSlotRow   `json:"rows"`
	Placements []SlotPlacement `json:"placements"`
	NowOffset  *float64        `json:"now_offset,omitempty"`
}

// EventStatus classifies an event relative to now.
type EventStatus string

const (
	EventStatusPast     EventStatus = "past"
	EventStatusActive   EventStatus = "active"
	EventStatusUpcoming EventStatus = "upcoming"
)

// EventDetail carries the display facts for a selected event.
type EventDetail struct {
	Event         *CalendarEvent `json:"event"`
	Status        EventStatus    `json:"status"`
	IsPast        bool           `json:"is_past"`
	IsActive      bool           `json:"is_active"`
	StatusLabel   string         `json:"status_label"`
	DaysRemaining int            `json:"days_remaining"`
	DateRange     string         `json:"date_range"`
}

// DateRange is an inclusive span of local calendar days.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CalendarView is the complete render model handed to the UI shell.
type CalendarView struct {
	ViewMode    ViewMode         `json:"view_mode"`
	CurrentDate time.Time        `json:"current_date"`
	Title       string           `json:"title"`
	Range       DateRange        `json:"range"`
	Now         time.Time        `json:"now"`
	Filters     FilterState      `json:"filters"`
	Events      []*CalendarEvent `json:"events"`
	Month       *MonthGrid       `json:"month,omitempty"`
	Days        []DayColumn      `json:"days,omitempty"`
	Selected    *EventDetail     `json:"selected,omitempty"`
}
