package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/elearning-calendar-api/internal/calendar"
	"github.com/noah-isme/elearning-calendar-api/internal/models"
	appErrors "github.com/noah-isme/elearning-calendar-api/pkg/errors"
)

const eventsCachePrefix = "calendar:events:"

type calendarRepository interface {
	ListRange(ctx context.Context, filter models.CalendarEventFilter) ([]models.CalendarEvent, error)
	List(ctx context.Context, filter models.CalendarEventFilter) ([]models.CalendarEvent, int, error)
	GetByID(ctx context.Context, id string) (*models.CalendarEvent, error)
	Create(ctx context.Context, event *models.CalendarEvent) error
	Update(ctx context.Context, event *models.CalendarEvent) error
	Delete(ctx context.Context, id string) error
}

type eventCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

// CalendarServiceConfig tunes range reads.
type CalendarServiceConfig struct {
	CacheTTL     time.Duration
	MaxRangeDays int
	// RangeRowLimit is the repository's cap on range reads; a read that
	// reaches it is reported as truncated.
	RangeRowLimit int
}

// CalendarService is the event source: range reads for the views and CRUD
// for the event store.
type CalendarService struct {
	repo      calendarRepository
	cache     eventCache
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       CalendarServiceConfig
}

// NewCalendarService constructs the service. cache and metrics may be nil.
func NewCalendarService(repo calendarRepository, cache eventCache, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg CalendarServiceConfig) *CalendarService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRangeDays <= 0 {
		cfg.MaxRangeDays = 366
	}
	if cfg.RangeRowLimit <= 0 {
		cfg.RangeRowLimit = 2000
	}
	return &CalendarService{repo: repo, cache: cache, metrics: metrics, validator: validate, logger: logger, cfg: cfg}
}

// RangeRequest selects events overlapping [From, To]. With RestrictCourses
// only course-less events and those of CourseIDs are returned.
type RangeRequest struct {
	From            time.Time
	To              time.Time
	RestrictCourses bool
	CourseIDs       []string
}

// CacheKey identifies the request in the events cache.
func (r RangeRequest) CacheKey() string {
	scope := "all"
	if r.RestrictCourses {
		ids := append([]string(nil), r.CourseIDs...)
		sort.Strings(ids)
		sum := sha256.Sum256([]byte(strings.Join(ids, ",")))
		scope = hex.EncodeToString(sum[:8])
	}
	return fmt.Sprintf("%s%d:%d:%s", eventsCachePrefix, r.From.Unix(), r.To.Unix(), scope)
}

// EventListRequest describes filters for the paginated listing.
type EventListRequest struct {
	From     *time.Time
	To       *time.Time
	Types    []string
	Page     int
	PageSize int
}

// EventPayload is the create/update body.
type EventPayload struct {
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description" validate:"max=5000"`
	Type        string    `json:"type" validate:"required,oneof=assignment announcement"`
	Start       time.Time `json:"start" validate:"required"`
	End         time.Time `json:"end" validate:"required,gtefield=Start"`
	CourseID    *string   `json:"course_id" validate:"omitempty,min=1,max=64"`
	Instructor  *string   `json:"instructor" validate:"omitempty,max=200"`
	IsGraded    *bool     `json:"is_graded"`
	Score       *float64  `json:"score" validate:"omitempty,gte=0"`
}

// ListRange returns the events overlapping the requested span. Events with
// an unusable span or unknown type are kept; the engine decides how to show
// them, and they are only logged here.
func (s *CalendarService) ListRange(ctx context.Context, req RangeRequest) ([]*models.CalendarEvent, error) {
	if req.From.IsZero() || req.To.IsZero() || req.To.Before(req.From) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date range")
	}
	if req.To.Sub(req.From) > time.Duration(s.cfg.MaxRangeDays)*24*time.Hour {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("date range exceeds %d days", s.cfg.MaxRangeDays))
	}

	key := req.CacheKey()
	var cached []models.CalendarEvent
	if s.cache != nil {
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return toPointers(cached), nil
		}
	}

	from, to := req.From, req.To
	start := time.Now()
	events, err := s.repo.ListRange(ctx, models.CalendarEventFilter{
		From:            &from,
		To:              &to,
		RestrictCourses: req.RestrictCourses,
		CourseIDs:       req.CourseIDs,
	})
	s.metrics.ObserveDBQuery("calendar_events.range", time.Since(start))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load calendar events")
	}
	if len(events) >= s.cfg.RangeRowLimit {
		s.metrics.RecordSkippedEvent("truncated")
		s.logger.Warn("calendar range read hit the row limit, later events are missing",
			zap.Time("from", req.From), zap.Time("to", req.To), zap.Int("limit", s.cfg.RangeRowLimit))
	}
	s.inspect(events)

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, events, s.cfg.CacheTTL)
	}
	return toPointers(events), nil
}

func (s *CalendarService) inspect(events []models.CalendarEvent) {
	for i := range events {
		event := &events[i]
		if !event.Placeable() {
			s.metrics.RecordSkippedEvent("span")
			s.logger.Debug("calendar event has no usable time span",
				zap.String("event_id", event.ID), zap.Time("start", event.Start), zap.Time("end", event.End))
		}
		if !calendar.KnownType(event.Type) {
			s.metrics.RecordSkippedEvent("type")
			s.logger.Debug("calendar event has unknown type, shown as announcement",
				zap.String("event_id", event.ID), zap.String("type", string(event.Type)))
		}
	}
}

// List returns a page of events for management screens.
func (s *CalendarService) List(ctx context.Context, req EventListRequest) ([]models.CalendarEvent, *models.Pagination, error) {
	filter := models.CalendarEventFilter{From: req.From, To: req.To, Page: req.Page, PageSize: req.PageSize}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 50
	}
	for _, raw := range req.Types {
		t := models.EventType(strings.ToLower(strings.TrimSpace(raw)))
		if !calendar.KnownType(t) {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown event type %q", raw))
		}
		filter.Types = append(filter.Types, t)
	}
	events, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list calendar events")
	}
	return events, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns a calendar event by id.
func (s *CalendarService) Get(ctx context.Context, id string) (*models.CalendarEvent, error) {
	event, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to get event")
	}
	return event, nil
}

// Create registers a new event.
func (s *CalendarService) Create(ctx context.Context, req EventPayload) (*models.CalendarEvent, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	event := &models.CalendarEvent{}
	applyPayload(event, req)
	if err := s.repo.Create(ctx, event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create event")
	}
	s.invalidate(ctx)
	s.logger.Info("calendar event created", zap.String("event_id", event.ID), zap.String("type", string(event.Type)))
	return event, nil
}

// Update replaces an event's editable fields.
func (s *CalendarService) Update(ctx context.Context, id string, req EventPayload) (*models.CalendarEvent, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	event, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	applyPayload(event, req)
	if err := s.repo.Update(ctx, event); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update event")
	}
	s.invalidate(ctx)
	// Course title and code come from a join, so re-read after a course change.
	return s.Get(ctx, id)
}

// Delete removes a calendar event.
func (s *CalendarService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete event")
	}
	s.invalidate(ctx)
	return nil
}

func (s *CalendarService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Invalidate(ctx, eventsCachePrefix+"*")
}

func applyPayload(event *models.CalendarEvent, req EventPayload) {
	event.Title = strings.TrimSpace(req.Title)
	event.Description = req.Description
	event.Type = models.EventType(req.Type)
	event.Start = req.Start.UTC()
	event.End = req.End.UTC()
	event.CourseID = req.CourseID
	event.Instructor = req.Instructor
	event.IsGraded = req.IsGraded
	event.Score = req.Score
}

func toPointers(events []models.CalendarEvent) []*models.CalendarEvent {
	out := make([]*models.CalendarEvent, len(events))
	for i := range events {
		out[i] = &events[i]
	}
	return out
}
