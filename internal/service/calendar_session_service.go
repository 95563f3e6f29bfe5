package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/elearning-calendar-api/internal/calendar"
	"github.com/noah-isme/elearning-calendar-api/internal/models"
	appErrors "github.com/noah-isme/elearning-calendar-api/pkg/errors"
	"github.com/noah-isme/elearning-calendar-api/pkg/jobs"
	"github.com/noah-isme/elearning-calendar-api/pkg/timeutil"
)

// PrefetchJobType tags adjacent-period cache warm-up jobs.
const PrefetchJobType = "calendar.prefetch"

type prefetcher interface {
	TryEnqueue(job jobs.Job) error
}

type clockSubscriber interface {
	Subscribe() (<-chan time.Time, func())
}

type sessionLoader interface {
	Location() *time.Location
	Clock() calendar.Clock
	LoadScoped(ctx context.Context, scope CourseScope, r models.DateRange) ([]*models.CalendarEvent, error)
}

// SessionConfig tunes session lifetime.
type SessionConfig struct {
	TTL time.Duration
	// Now is the wall clock used for idle tracking; defaults to time.Now.
	Now func() time.Time
}

// MountRequest opens a calendar session.
type MountRequest struct {
	View          string   `json:"view" validate:"omitempty,oneof=month week day"`
	Date          string   `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Types         []string `json:"types" validate:"omitempty,dive,oneof=assignment announcement"`
	HiddenCourses []string `json:"hidden_courses" validate:"omitempty,dive,min=1"`
}

// FilterUpdate changes some toggles and leaves the rest alone.
type FilterUpdate struct {
	Assignment    *bool           `json:"assignment"`
	Announcements *bool           `json:"announcements"`
	Courses       map[string]bool `json:"courses"`
}

// SessionView is what every session operation returns.
type SessionView struct {
	SessionID string                   `json:"session_id"`
	ExpiresAt time.Time                `json:"expires_at"`
	State     calendar.ControllerState `json:"state"`
	View      models.CalendarView      `json:"view"`
}

// NowMarker tells a subscriber where "now" falls in the session's view.
type NowMarker struct {
	Now     time.Time `json:"now"`
	Visible bool      `json:"visible"`
	// DayIndex is the column (week/day) or cell (month) holding today.
	DayIndex int     `json:"day_index"`
	Offset   float64 `json:"offset"`
}

// session guards its controller with mu. lastSeen is atomic: the service
// lock must never wait on mu.
type session struct {
	mu         sync.Mutex
	id         string
	userID     string
	scope      CourseScope
	controller *calendar.Controller
	lastSeen   atomic.Pointer[time.Time]
}

func (sess *session) touch(now time.Time) {
	sess.lastSeen.Store(&now)
}

func (sess *session) seenAt() time.Time {
	return *sess.lastSeen.Load()
}

// CalendarSessionService keeps one controller per mounted calendar.
type CalendarSessionService struct {
	loader    sessionLoader
	courses   courseScoper
	clock     clockSubscriber
	prefetch  prefetcher
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	ttl       time.Duration
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	expired  map[string]time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCalendarSessionService constructs the service. prefetch and clock may be nil.
func NewCalendarSessionService(loader sessionLoader, courses courseScoper, clock clockSubscriber, prefetch prefetcher, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg SessionConfig) *CalendarSessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CalendarSessionService{
		loader:    loader,
		courses:   courses,
		clock:     clock,
		prefetch:  prefetch,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		ttl:       cfg.TTL,
		now:       cfg.Now,
		sessions:  make(map[string]*session),
		expired:   make(map[string]time.Time),
	}
}

// Start runs the idle-session janitor until Stop or ctx ends.
func (s *CalendarSessionService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	interval := s.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	if interval > time.Minute {
		interval = time.Minute
	}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.evictExpired(); n > 0 {
					s.logger.Info("calendar sessions expired", zap.Int("count", n))
				}
			}
		}
	}()
}

// Stop halts the janitor and drops every session.
func (s *CalendarSessionService) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.sessions = make(map[string]*session)
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	s.metrics.SetActiveSessions(0)
}

// Count returns the number of mounted sessions.
func (s *CalendarSessionService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Mount creates a session for the viewer and returns its first render.
func (s *CalendarSessionService) Mount(ctx context.Context, claims *models.JWTClaims, req MountRequest) (*SessionView, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}

	loc := s.loader.Location()
	opts := []calendar.ControllerOption{calendar.WithLocation(loc)}
	if req.View != "" {
		opts = append(opts, calendar.WithViewMode(models.ViewMode(req.View)))
	}
	if req.Date != "" {
		date, err := time.ParseInLocation("2006-01-02", req.Date, loc)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD")
		}
		opts = append(opts, calendar.WithCurrentDate(date))
	}
	viewReq := ViewRequest{HiddenCourses: req.HiddenCourses}
	if req.Types != nil {
		viewReq.Types = make([]models.EventType, len(req.Types))
		for i, t := range req.Types {
			viewReq.Types[i] = models.EventType(t)
		}
	}
	opts = append(opts, calendar.WithFilters(viewReq.Filters()))

	scope, err := s.courses.Scope(ctx, claims)
	if err != nil {
		return nil, err
	}
	sess := &session{
		id:         uuid.NewString(),
		userID:     claims.UserID,
		scope:      scope,
		controller: calendar.NewController(s.loader.Clock(), opts...),
	}
	sess.touch(s.now())
	sess.controller.SetCourses(scope.Courses)
	for _, key := range req.HiddenCourses {
		sess.controller.SetCourseFilter(key, false)
	}
	if err := s.reload(ctx, sess); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	count := len(s.sessions)
	s.mu.Unlock()
	s.metrics.SetActiveSessions(count)
	s.logger.Debug("calendar session mounted", zap.String("session_id", sess.id), zap.String("user_id", sess.userID))

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.render(sess), nil
}

// View re-renders a session with the current clock reading.
func (s *CalendarSessionService) View(ctx context.Context, claims *models.JWTClaims, id string) (*SessionView, error) {
	return s.mutate(ctx, claims, id, nil)
}

// Navigate moves one period back (-1) or forward (+1).
func (s *CalendarSessionService) Navigate(ctx context.Context, claims *models.JWTClaims, id string, direction int) (*SessionView, error) {
	return s.mutate(ctx, claims, id, func(c *calendar.Controller) error {
		return c.Navigate(direction)
	})
}

// Today jumps to the current day.
func (s *CalendarSessionService) Today(ctx context.Context, claims *models.JWTClaims, id string) (*SessionView, error) {
	return s.mutate(ctx, claims, id, func(c *calendar.Controller) error {
		c.Today()
		return nil
	})
}

// GoTo focuses the session on date.
func (s *CalendarSessionService) GoTo(ctx context.Context, claims *models.JWTClaims, id string, date time.Time) (*SessionView, error) {
	if date.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date required")
	}
	return s.mutate(ctx, claims, id, func(c *calendar.Controller) error {
		c.GoTo(date)
		return nil
	})
}

// SetViewMode switches the session layout.
func (s *CalendarSessionService) SetViewMode(ctx context.Context, claims *models.JWTClaims, id string, mode models.ViewMode) (*SessionView, error) {
	return s.mutate(ctx, claims, id, func(c *calendar.Controller) error {
		return c.SetViewMode(mode)
	})
}

// UpdateFilters applies the toggles present in update.
func (s *CalendarSessionService) UpdateFilters(ctx context.Context, claims *models.JWTClaims, id string, update FilterUpdate) (*SessionView, error) {
	return s.mutate(ctx, claims, id, func(c *calendar.Controller) error {
		if update.Assignment != nil {
			c.SetEventTypeFilter(models.EventTypeAssignment, *update.Assignment)
		}
		if update.Announcements != nil {
			c.SetEventTypeFilter(models.EventTypeAnnouncement, *update.Announcements)
		}
		for key, visible := range update.Courses {
			if strings.TrimSpace(key) == "" {
				return appErrors.Clone(appErrors.ErrValidation, "course key must not be empty")
			}
			c.SetCourseFilter(key, visible)
		}
		return nil
	})
}

// Select marks a loaded event as selected.
func (s *CalendarSessionService) Select(ctx context.Context, claims *models.JWTClaims, id, eventID string) (*SessionView, error) {
	return s.mutate(ctx, claims, id, func(c *calendar.Controller) error {
		return c.SelectEventByID(eventID)
	})
}

// ClearSelection closes the detail panel.
func (s *CalendarSessionService) ClearSelection(ctx context.Context, claims *models.JWTClaims, id string) (*SessionView, error) {
	return s.mutate(ctx, claims, id, func(c *calendar.Controller) error {
		c.ClearSelection()
		return nil
	})
}

// Unmount drops a session and leaves a tombstone, so later requests for the
// id get ErrSessionExpired rather than ErrNotFound.
func (s *CalendarSessionService) Unmount(claims *models.JWTClaims, id string) error {
	if _, err := s.lookup(claims, id); err != nil {
		return err
	}
	s.mu.Lock()
	s.expireLocked(id, s.now())
	count := len(s.sessions)
	s.mu.Unlock()
	s.metrics.SetActiveSessions(count)
	return nil
}

// Subscribe returns the live clock feed for a session. The release func must
// be called when the subscriber goes away.
func (s *CalendarSessionService) Subscribe(claims *models.JWTClaims, id string) (<-chan time.Time, func(), error) {
	if _, err := s.lookup(claims, id); err != nil {
		return nil, nil, err
	}
	if s.clock == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnavailable, "live clock not running")
	}
	ch, release := s.clock.Subscribe()
	return ch, release, nil
}

// Marker locates now inside the session's visible range.
func (s *CalendarSessionService) Marker(claims *models.JWTClaims, id string, now time.Time) (NowMarker, error) {
	sess, err := s.lookup(claims, id)
	if err != nil {
		return NowMarker{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.touch(s.now())

	r := sess.controller.VisibleRange()
	now = now.In(r.From.Location())
	marker := NowMarker{Now: now, Offset: timeutil.FractionalHour(now)}
	if !now.Before(r.From) && !now.After(r.To) {
		marker.Visible = true
		marker.DayIndex = int(math.Round(timeutil.DaysBetween(r.From, timeutil.StartOfDay(now))))
	}
	return marker, nil
}

// NewPrefetchHandler returns the jobs handler that warms the events cache.
func NewPrefetchHandler(events interface {
	ListRange(ctx context.Context, req RangeRequest) ([]*models.CalendarEvent, error)
}, metrics *MetricsService, logger *zap.Logger) jobs.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, job jobs.Job) error {
		req, ok := job.Payload.(RangeRequest)
		if !ok {
			metrics.RecordPrefetch("invalid")
			logger.Warn("prefetch job without range payload", zap.String("job_id", job.ID))
			return nil
		}
		if _, err := events.ListRange(ctx, req); err != nil {
			metrics.RecordPrefetch("failed")
			return err
		}
		metrics.RecordPrefetch("done")
		return nil
	}
}

func (s *CalendarSessionService) mutate(ctx context.Context, claims *models.JWTClaims, id string, fn func(*calendar.Controller) error) (*SessionView, error) {
	sess, err := s.lookup(claims, id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.touch(s.now())

	if fn != nil {
		before := sess.controller.State()
		prevRange := sess.controller.VisibleRange()
		if err := fn(sess.controller); err != nil {
			return nil, err
		}
		next := sess.controller.VisibleRange()
		if !next.From.Equal(prevRange.From) || !next.To.Equal(prevRange.To) {
			if err := s.reload(ctx, sess); err != nil {
				sess.controller.GoTo(before.CurrentDate)
				_ = sess.controller.SetViewMode(before.ViewMode)
				return nil, err
			}
		}
	}
	return s.render(sess), nil
}

func (s *CalendarSessionService) reload(ctx context.Context, sess *session) error {
	events, err := s.loader.LoadScoped(ctx, sess.scope, sess.controller.VisibleRange())
	if err != nil {
		return err
	}
	sess.controller.SetEvents(events)
	s.enqueuePrefetch(sess)
	return nil
}

func (s *CalendarSessionService) enqueuePrefetch(sess *session) {
	if s.prefetch == nil {
		return
	}
	prev, next := sess.controller.AdjacentRanges()
	for _, r := range []models.DateRange{prev, next} {
		req := RangeRequest{From: r.From, To: r.To, RestrictCourses: sess.scope.Restricted, CourseIDs: sess.scope.IDs()}
		err := s.prefetch.TryEnqueue(jobs.Job{ID: uuid.NewString(), Key: req.CacheKey(), Type: PrefetchJobType, Payload: req})
		switch {
		case err == nil:
			s.metrics.RecordPrefetch("queued")
		case errors.Is(err, jobs.ErrDuplicate):
			s.metrics.RecordPrefetch("duplicate")
		default:
			s.metrics.RecordPrefetch("dropped")
			s.logger.Debug("prefetch not queued", zap.String("session_id", sess.id), zap.Error(err))
		}
	}
}

func (s *CalendarSessionService) render(sess *session) *SessionView {
	start := time.Now()
	view := sess.controller.Render()
	s.metrics.ObserveRender(string(view.ViewMode), time.Since(start))
	return &SessionView{
		SessionID: sess.id,
		ExpiresAt: sess.seenAt().Add(s.ttl),
		State:     sess.controller.State(),
		View:      view,
	}
}

func (s *CalendarSessionService) lookup(claims *models.JWTClaims, id string) (*session, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		if _, gone := s.expired[id]; gone {
			return nil, appErrors.ErrSessionExpired
		}
		return nil, appErrors.Clone(appErrors.ErrNotFound, "calendar session not found")
	}
	if sess.userID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "calendar session not found")
	}
	if now.Sub(sess.seenAt()) > s.ttl {
		s.expireLocked(id, now)
		return nil, appErrors.ErrSessionExpired
	}
	return sess, nil
}

func (s *CalendarSessionService) evictExpired() int {
	now := s.now()
	s.mu.Lock()
	evicted := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.seenAt()) > s.ttl {
			s.expireLocked(id, now)
			evicted++
		}
	}
	for id, at := range s.expired {
		if now.Sub(at) > s.ttl {
			delete(s.expired, id)
		}
	}
	count := len(s.sessions)
	s.mu.Unlock()
	if evicted > 0 {
		s.metrics.SetActiveSessions(count)
	}
	return evicted
}

func (s *CalendarSessionService) expireLocked(id string, now time.Time) {
	delete(s.sessions, id)
	s.expired[id] = now
}
