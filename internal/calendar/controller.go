package calendar

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/elearning-calendar-api/internal/models"
	appErrors "github.com/noah-isme/elearning-calendar-api/pkg/errors"
	"github.com/noah-isme/elearning-calendar-api/pkg/timeutil"
)

// ControllerState is a snapshot of what the controller owns.
type ControllerState struct {
	CurrentDate time.Time          `json:"current_date"`
	ViewMode    models.ViewMode    `json:"view_mode"`
	Filters     models.FilterState `json:"filters"`
	SelectedID  string             `json:"selected_id,omitempty"`
}

// ControllerOption customises a Controller at construction.
type ControllerOption func(*Controller)

// WithLocation sets the calendar location. Defaults to the clock's snapshot location.
func WithLocation(loc *time.Location) ControllerOption {
	return func(c *Controller) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithViewMode sets the initial view.
func WithViewMode(mode models.ViewMode) ControllerOption {
	return func(c *Controller) {
		if mode.Valid() {
			c.viewMode = mode
		}
	}
}

// WithCurrentDate sets the initial focus date.
func WithCurrentDate(date time.Time) ControllerOption {
	return func(c *Controller) {
		if !date.IsZero() {
			c.currentDate = date
		}
	}
}

// WithFilters replaces the default all-visible filters.
func WithFilters(filters models.FilterState) ControllerOption {
	return func(c *Controller) {
		c.filters = filters.Clone()
	}
}

// Controller owns (currentDate, viewMode, filters, selection) for one mounted
// calendar and produces render models on demand. Every entry point runs to
// completion under the controller lock.
type Controller struct {
	mu sync.Mutex

	clock       Clock
	loc         *time.Location
	currentDate time.Time
	viewMode    models.ViewMode
	filters     models.FilterState
	events      []*models.CalendarEvent
	selected    *models.CalendarEvent
}

// NewController builds a month-view controller focused on today.
func NewController(clock Clock, opts ...ControllerOption) *Controller {
	if clock == nil {
		clock = ClockFunc(time.Now)
	}
	now := clock.Now()
	c := &Controller{
		clock:       clock,
		loc:         now.Location(),
		currentDate: now,
		viewMode:    models.ViewMonth,
		filters:     models.DefaultFilterState(),
		events:      []*models.CalendarEvent{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.currentDate = c.currentDate.In(c.loc)
	return c
}

// State returns a copy of the controller state.
func (c *Controller) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := ControllerState{
		CurrentDate: c.currentDate,
		ViewMode:    c.viewMode,
		Filters:     c.filters.Clone(),
	}
	if c.selected != nil {
		state.SelectedID = c.selected.ID
	}
	return state
}

// Navigate moves currentDate one day, week or month depending on the view.
func (c *Controller) Navigate(direction int) error {
	if direction != -1 && direction != 1 {
		return appErrors.Clone(appErrors.ErrValidation, "direction must be -1 or 1")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentDate = Step(c.viewMode, c.currentDate, direction)
	return nil
}

// Step moves current by direction days, weeks or months according to mode.
func Step(mode models.ViewMode, current time.Time, direction int) time.Time {
	switch mode {
	case models.ViewDay:
		return current.AddDate(0, 0, direction)
	case models.ViewWeek:
		return current.AddDate(0, 0, direction*timeutil.DaysPerWeek)
	default:
		return timeutil.AddMonthsClamped(current, direction)
	}
}

// GoTo focuses the controller on date without changing the view.
func (c *Controller) GoTo(date time.Time) {
	if date.IsZero() {
		return
	}
	c.mu.Lock()
	c.currentDate = date.In(c.loc)
	c.mu.Unlock()
}

// Today focuses the controller on the clock's current day.
func (c *Controller) Today() {
	c.GoTo(c.clock.Now())
}

// SetViewMode switches layouts. currentDate is kept.
func (c *Controller) SetViewMode(mode models.ViewMode) error {
	if !mode.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown view mode %q", mode))
	}
	c.mu.Lock()
	c.viewMode = mode
	c.mu.Unlock()
	return nil
}

// SetEvents replaces the event source snapshot. A nil or partial list is
// fine; the next render simply shows what is there.
func (c *Controller) SetEvents(events []*models.CalendarEvent) {
	copied := make([]*models.CalendarEvent, 0, len(events))
	for _, event := range events {
		if event != nil {
			copied = append(copied, event)
		}
	}
	c.mu.Lock()
	c.events = copied
	if c.selected != nil {
		c.selected = findEvent(copied, c.selected.ID, c.selected)
	}
	c.mu.Unlock()
}

// SetCourses seeds course filter keys from the viewer's courses. New courses
// default to visible, existing toggles are kept and keys for courses no
// longer listed are dropped.
func (c *Controller) SetCourses(courses []models.Course) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := make(map[string]bool, len(courses))
	for _, course := range courses {
		key := strings.TrimSpace(course.ID)
		if key == "" {
			key = strings.TrimSpace(course.Title)
		}
		if key == "" {
			continue
		}
		if visible, ok := c.filters.Courses[key]; ok {
			next[key] = visible
			continue
		}
		next[key] = true
	}
	c.filters.Courses = next
}

// SetEventTypeFilter toggles the bucket governing t.
func (c *Controller) SetEventTypeFilter(t models.EventType, visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch BucketOf(t) {
	case BucketAssignment:
		c.filters.EventTypes.Assignment = visible
	default:
		c.filters.EventTypes.Announcements = visible
	}
}

// SetCourseFilter toggles a single course key.
func (c *Controller) SetCourseFilter(key string, visible bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	c.mu.Lock()
	if c.filters.Courses == nil {
		c.filters.Courses = map[string]bool{}
	}
	c.filters.Courses[key] = visible
	c.mu.Unlock()
}

// ReplaceFilters swaps the whole filter state.
func (c *Controller) ReplaceFilters(filters models.FilterState) {
	c.mu.Lock()
	c.filters = filters.Clone()
	c.mu.Unlock()
}

// SelectEvent marks event as selected. The event is not modified.
func (c *Controller) SelectEvent(event *models.CalendarEvent) {
	c.mu.Lock()
	c.selected = event
	c.mu.Unlock()
}

// SelectEventByID selects one of the loaded events.
func (c *Controller) SelectEventByID(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	event := findEvent(c.events, id, nil)
	if event == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "event not found")
	}
	c.selected = event
	return nil
}

// ClearSelection drops the selected event.
func (c *Controller) ClearSelection() {
	c.mu.Lock()
	c.selected = nil
	c.mu.Unlock()
}

// VisibleRange returns the days covered by the active view.
func (c *Controller) VisibleRange() models.DateRange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return RangeFor(c.viewMode, c.currentDate)
}

// AdjacentRanges returns the ranges one step before and after the active one.
func (c *Controller) AdjacentRanges() (prev, next models.DateRange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev = RangeFor(c.viewMode, Step(c.viewMode, c.currentDate, -1))
	next = RangeFor(c.viewMode, Step(c.viewMode, c.currentDate, 1))
	return prev, next
}

// Render builds the render model for the active view using one clock reading.
func (c *Controller) Render() models.CalendarView {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now().In(c.loc)
	filtered := FilterEvents(c.events, c.filters)
	view := models.CalendarView{
		ViewMode:    c.viewMode,
		CurrentDate: c.currentDate,
		Range:       RangeFor(c.viewMode, c.currentDate),
		Now:         now,
		Filters:     c.filters.Clone(),
		Events:      filtered,
	}

	switch c.viewMode {
	case models.ViewDay:
		view.Days = BuildDay(c.currentDate, now, filtered)
		view.Title = timeutil.FormatDate(c.currentDate)
	case models.ViewWeek:
		view.Days = BuildWeek(c.currentDate, now, filtered)
		view.Title = weekTitle(view.Range)
	default:
		grid := BuildMonthGrid(c.currentDate, now, filtered)
		view.Month = &grid
		view.Title = grid.Title
	}

	if c.selected != nil {
		view.Selected = PresentEvent(c.selected, now)
	}
	return view
}

// Render is the stateless counterpart of Controller.Render.
func Render(mode models.ViewMode, current, now time.Time, events []*models.CalendarEvent, filters models.FilterState) models.CalendarView {
	c := NewController(ClockFunc(func() time.Time { return now }),
		WithLocation(current.Location()),
		WithViewMode(mode),
		WithCurrentDate(current),
		WithFilters(filters),
	)
	c.SetEvents(events)
	return c.Render()
}

// RangeFor returns the days a view of mode focused on current covers.
func RangeFor(mode models.ViewMode, current time.Time) models.DateRange {
	switch mode {
	case models.ViewDay:
		return DayRange(current)
	case models.ViewWeek:
		return WeekRange(current)
	default:
		return MonthGridRange(current)
	}
}

func weekTitle(r models.DateRange) string {
	from, to := r.From, r.To
	if from.Month() == to.Month() {
		return fmt.Sprintf("%d - %d de %s %d", from.Day(), to.Day(), timeutil.MonthName(timeutil.MonthIndex(to)), to.Year())
	}
	return fmt.Sprintf("%d de %s - %d de %s %d", from.Day(), timeutil.MonthName(timeutil.MonthIndex(from)), to.Day(), timeutil.MonthName(timeutil.MonthIndex(to)), to.Year())
}

func findEvent(events []*models.CalendarEvent, id string, fallback *models.CalendarEvent) *models.CalendarEvent {
	for _, event := range events {
		if event.ID == id {
			return event
		}
	}
	return fallback
}
