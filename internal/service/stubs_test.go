package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/elearning-calendar-api/internal/models"
	appErrors "github.com/noah-isme/elearning-calendar-api/pkg/errors"
	"github.com/noah-isme/elearning-calendar-api/pkg/jobs"
)

func at(year, month, day, hour, minute int) time.Time {
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
}

func strPtr(s string) *string { return &s }

func eventIDs(events []*models.CalendarEvent) []string {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	return ids
}

type eventRepoStub struct {
	mu         sync.Mutex
	events     []models.CalendarEvent
	err        error
	total      int
	rangeCalls int
	lastFilter models.CalendarEventFilter
	saved      *models.CalendarEvent
	deleted    []string
	gate       chan struct{}
	parked     int
	// courses, when set, fills course title and code on reads the way the
	// repository's join does.
	courses map[string]models.Course
}

// hold makes every ListRange wait until the returned release is called.
func (s *eventRepoStub) hold() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
	return func() { close(gate) }
}

func (s *eventRepoStub) waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parked
}

func (s *eventRepoStub) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *eventRepoStub) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rangeCalls
}

func (s *eventRepoStub) ListRange(_ context.Context, filter models.CalendarEventFilter) ([]models.CalendarEvent, error) {
	s.mu.Lock()
	if gate := s.gate; gate != nil {
		s.parked++
		s.mu.Unlock()
		<-gate
		s.mu.Lock()
		s.parked--
	}
	defer s.mu.Unlock()
	s.rangeCalls++
	s.lastFilter = filter
	if s.err != nil {
		return nil, s.err
	}
	allowed := make(map[string]bool, len(filter.CourseIDs))
	for _, id := range filter.CourseIDs {
		allowed[id] = true
	}
	var out []models.CalendarEvent
	for _, e := range s.events {
		if filter.RestrictCourses && e.CourseID != nil && !allowed[*e.CourseID] {
			continue
		}
		end := e.End
		if end.IsZero() {
			end = e.Start
		}
		if filter.From != nil && end.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.Start.After(*filter.To) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *eventRepoStub) List(_ context.Context, filter models.CalendarEventFilter) ([]models.CalendarEvent, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFilter = filter
	if s.err != nil {
		return nil, 0, s.err
	}
	return s.events, s.total, nil
}

func (s *eventRepoStub) GetByID(_ context.Context, id string) (*models.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.ID == id {
			event := e
			if s.courses != nil && event.CourseID != nil {
				course := s.courses[*event.CourseID]
				event.CourseTitle, event.CourseCode = strPtr(course.Title), strPtr(course.Code)
			}
			return &event, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *eventRepoStub) Create(_ context.Context, event *models.CalendarEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if event.ID == "" {
		event.ID = "evt-new"
	}
	saved := *event
	s.saved = &saved
	s.events = append(s.events, saved)
	return nil
}

func (s *eventRepoStub) Update(_ context.Context, event *models.CalendarEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.events {
		if e.ID == event.ID {
			s.events[i] = *event
			saved := *event
			s.saved = &saved
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *eventRepoStub) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.events {
		if e.ID == id {
			s.events = append(s.events[:i], s.events[i+1:]...)
			s.deleted = append(s.deleted, id)
			return nil
		}
	}
	return sql.ErrNoRows
}

type memoryCache struct {
	mu          sync.Mutex
	data        map[string][]byte
	invalidated []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (c *memoryCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.data[key] = raw
	c.mu.Unlock()
	return nil
}

func (c *memoryCache) Invalidate(_ context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range c.data {
		if strings.HasPrefix(key, prefix) {
			delete(c.data, key)
		}
	}
	return nil
}

type courseRepoStub struct {
	all    []models.Course
	byUser map[string][]models.Course
	err    error
	calls  int
}

func (s *courseRepoStub) List(context.Context) ([]models.Course, error) {
	s.calls++
	return s.all, s.err
}

func (s *courseRepoStub) ListByUser(_ context.Context, userID string) ([]models.Course, error) {
	s.calls++
	return s.byUser[userID], s.err
}

type scopeStub struct {
	scope CourseScope
	err   error
}

func (s scopeStub) Scope(_ context.Context, claims *models.JWTClaims) (CourseScope, error) {
	if claims == nil {
		return CourseScope{}, appErrors.ErrUnauthorized
	}
	return s.scope, s.err
}

type prefetchStub struct {
	mu   sync.Mutex
	jobs []jobs.Job
	keys map[string]bool
}

func (p *prefetchStub) TryEnqueue(job jobs.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.keys == nil {
		p.keys = make(map[string]bool)
	}
	if p.keys[job.Key] {
		return jobs.ErrDuplicate
	}
	p.keys[job.Key] = true
	p.jobs = append(p.jobs, job)
	return nil
}

// fixture returns a small term of events around March 2024.
func fixture() []models.CalendarEvent {
	return []models.CalendarEvent{
		{ID: "hw", Title: "Tarea 1", Type: models.EventTypeAssignment, Start: at(2024, 3, 15, 10, 0), End: at(2024, 3, 15, 11, 0), CourseID: strPtr("c1"), CourseTitle: strPtr("Álgebra"), CourseCode: strPtr("MAT101")},
		{ID: "ann", Title: "Feriado", Type: models.EventTypeAnnouncement, Start: at(2024, 3, 20, 9, 0), End: at(2024, 3, 20, 9, 0)},
		{ID: "other", Title: "Laboratorio", Type: models.EventTypeAssignment, Start: at(2024, 3, 15, 12, 0), End: at(2024, 3, 15, 13, 0), CourseID: strPtr("c2"), CourseTitle: strPtr("Física")},
		{ID: "far", Title: "Examen final", Type: models.EventTypeAssignment, Start: at(2024, 6, 1, 9, 0), End: at(2024, 6, 1, 11, 0), CourseID: strPtr("c1"), CourseTitle: strPtr("Álgebra")},
	}
}

func studentScope() CourseScope {
	return CourseScope{Courses: []models.Course{{ID: "c1", Title: "Álgebra", Code: "MAT101"}}, Restricted: true}
}

func student() *models.JWTClaims {
	return &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent}
}
