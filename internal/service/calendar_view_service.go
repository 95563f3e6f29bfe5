package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/elearning-calendar-api/internal/calendar"
	"github.com/noah-isme/elearning-calendar-api/internal/models"
	appErrors "github.com/noah-isme/elearning-calendar-api/pkg/errors"
)

type eventSource interface {
	ListRange(ctx context.Context, req RangeRequest) ([]*models.CalendarEvent, error)
	Get(ctx context.Context, id string) (*models.CalendarEvent, error)
}

type courseScoper interface {
	Scope(ctx context.Context, claims *models.JWTClaims) (CourseScope, error)
}

// ViewServiceConfig carries presentation settings.
type ViewServiceConfig struct {
	Location      *time.Location
	OverflowLimit int
}

// ViewRequest describes a one-off render.
type ViewRequest struct {
	View models.ViewMode
	// Date is the focus day; zero means today.
	Date time.Time
	// Types lists the visible event types; nil shows every type.
	Types         []models.EventType
	HiddenCourses []string
	SelectedID    string
}

// Filters converts the request toggles into a filter state.
func (r ViewRequest) Filters() models.FilterState {
	filters := models.DefaultFilterState()
	if r.Types != nil {
		filters.EventTypes = models.EventTypeFilters{}
		for _, t := range r.Types {
			switch calendar.BucketOf(t) {
			case calendar.BucketAssignment:
				filters.EventTypes.Assignment = true
			default:
				filters.EventTypes.Announcements = true
			}
		}
	}
	for _, key := range r.HiddenCourses {
		if key = strings.TrimSpace(key); key != "" {
			filters.Courses[key] = false
		}
	}
	return filters
}

// CalendarViewService renders calendar views without keeping state between
// requests and backs the session and export services with scoped loading.
type CalendarViewService struct {
	events  eventSource
	courses courseScoper
	clock   calendar.Clock
	metrics *MetricsService
	logger  *zap.Logger
	cfg     ViewServiceConfig
}

// NewCalendarViewService constructs the service.
func NewCalendarViewService(events eventSource, courses courseScoper, clock calendar.Clock, metrics *MetricsService, logger *zap.Logger, cfg ViewServiceConfig) *CalendarViewService {
	if clock == nil {
		clock = calendar.ClockFunc(time.Now)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.OverflowLimit <= 0 {
		cfg.OverflowLimit = calendar.DefaultOverflowLimit
	}
	return &CalendarViewService{events: events, courses: courses, clock: clock, metrics: metrics, logger: logger, cfg: cfg}
}

// Location is the calendar's display location.
func (s *CalendarViewService) Location() *time.Location {
	return s.cfg.Location
}

// OverflowLimit is how many events a month cell shows before "more".
func (s *CalendarViewService) OverflowLimit() int {
	return s.cfg.OverflowLimit
}

// Now returns the shared clock reading in the display location.
func (s *CalendarViewService) Now() time.Time {
	return s.clock.Now().In(s.cfg.Location)
}

// Clock exposes the shared clock for controllers built elsewhere.
func (s *CalendarViewService) Clock() calendar.Clock {
	return s.clock
}

// Load returns the viewer's course scope and the events within r.
func (s *CalendarViewService) Load(ctx context.Context, claims *models.JWTClaims, r models.DateRange) ([]*models.CalendarEvent, CourseScope, error) {
	scope, err := s.courses.Scope(ctx, claims)
	if err != nil {
		return nil, CourseScope{}, err
	}
	events, err := s.LoadScoped(ctx, scope, r)
	if err != nil {
		return nil, CourseScope{}, err
	}
	return events, scope, nil
}

// LoadScoped returns the events within r for an already resolved scope.
func (s *CalendarViewService) LoadScoped(ctx context.Context, scope CourseScope, r models.DateRange) ([]*models.CalendarEvent, error) {
	return s.events.ListRange(ctx, RangeRequest{
		From:            r.From,
		To:              r.To,
		RestrictCourses: scope.Restricted,
		CourseIDs:       scope.IDs(),
	})
}

// Render builds a complete render model for req.
func (s *CalendarViewService) Render(ctx context.Context, claims *models.JWTClaims, req ViewRequest) (*models.CalendarView, error) {
	mode := req.View
	if mode == "" {
		mode = models.ViewMonth
	}
	if !mode.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "view must be month, week or day")
	}

	opts := []calendar.ControllerOption{
		calendar.WithLocation(s.cfg.Location),
		calendar.WithViewMode(mode),
		calendar.WithFilters(req.Filters()),
	}
	if !req.Date.IsZero() {
		opts = append(opts, calendar.WithCurrentDate(req.Date))
	}
	controller := calendar.NewController(s.clock, opts...)

	events, scope, err := s.Load(ctx, claims, controller.VisibleRange())
	if err != nil {
		return nil, err
	}
	s.seedCourses(controller, scope, req.HiddenCourses)
	controller.SetEvents(events)

	if req.SelectedID != "" {
		if err := s.selectEvent(ctx, controller, scope, req.SelectedID); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	view := controller.Render()
	s.metrics.ObserveRender(string(mode), time.Since(start))
	return &view, nil
}

// Detail presents one event relative to the shared clock.
func (s *CalendarViewService) Detail(ctx context.Context, claims *models.JWTClaims, id string) (*models.EventDetail, error) {
	scope, err := s.courses.Scope(ctx, claims)
	if err != nil {
		return nil, err
	}
	event, err := s.scopedEvent(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	return calendar.PresentEvent(event, s.Now()), nil
}

func (s *CalendarViewService) seedCourses(controller *calendar.Controller, scope CourseScope, hidden []string) {
	controller.SetCourses(scope.Courses)
	for _, key := range hidden {
		controller.SetCourseFilter(key, false)
	}
}

func (s *CalendarViewService) selectEvent(ctx context.Context, controller *calendar.Controller, scope CourseScope, id string) error {
	if err := controller.SelectEventByID(id); err == nil {
		return nil
	}
	// The selection may sit outside the visible range.
	event, err := s.scopedEvent(ctx, scope, id)
	if err != nil {
		return err
	}
	controller.SelectEvent(event)
	return nil
}

func (s *CalendarViewService) scopedEvent(ctx context.Context, scope CourseScope, id string) (*models.CalendarEvent, error) {
	event, err := s.events.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !scope.Allows(event) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
	}
	return event, nil
}
