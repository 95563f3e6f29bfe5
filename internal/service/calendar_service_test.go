package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/elearning-calendar-api/internal/models"
	appErrors "github.com/noah-isme/elearning-calendar-api/pkg/errors"
)

func TestCalendarServiceListRangeValidates(t *testing.T) {
	svc := NewCalendarService(&eventRepoStub{}, nil, nil, nil, nil, CalendarServiceConfig{MaxRangeDays: 10})

	cases := []RangeRequest{
		{To: at(2024, 3, 1, 0, 0)},
		{From: at(2024, 3, 2, 0, 0), To: at(2024, 3, 1, 0, 0)},
		{From: at(2024, 3, 1, 0, 0), To: at(2024, 3, 20, 0, 0)},
	}
	for _, req := range cases {
		_, err := svc.ListRange(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	}
}

func TestCalendarServiceListRangeUsesCache(t *testing.T) {
	repo := &eventRepoStub{events: fixture()}
	cache := newMemoryCache()
	svc := NewCalendarService(repo, cache, nil, nil, nil, CalendarServiceConfig{CacheTTL: time.Minute})

	req := RangeRequest{From: at(2024, 3, 1, 0, 0), To: at(2024, 3, 31, 23, 59), RestrictCourses: true, CourseIDs: []string{"c1"}}
	first, err := svc.ListRange(context.Background(), req)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"hw", "ann"}, eventIDs(first))

	second, err := svc.ListRange(context.Background(), req)
	require.NoError(t, err)
	assert.ElementsMatch(t, eventIDs(first), eventIDs(second))
	assert.Equal(t, 1, repo.calls())
	assert.True(t, repo.lastFilter.RestrictCourses)

	_, err = svc.ListRange(context.Background(), RangeRequest{From: req.From, To: req.To})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls(), "unrestricted scope uses its own key")
}

func TestCalendarServiceListRangeKeepsMalformedEvents(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	repo := &eventRepoStub{events: []models.CalendarEvent{
		{ID: "ok", Type: models.EventTypeAssignment, Start: at(2024, 3, 5, 9, 0), End: at(2024, 3, 5, 10, 0)},
		{ID: "open", Type: models.EventTypeAssignment, Start: at(2024, 3, 6, 9, 0)},
		{ID: "quiz", Type: "quiz", Start: at(2024, 3, 7, 9, 0), End: at(2024, 3, 7, 10, 0)},
	}}
	svc := NewCalendarService(repo, nil, NewMetricsService(), nil, zap.New(core), CalendarServiceConfig{})

	events, err := svc.ListRange(context.Background(), RangeRequest{From: at(2024, 3, 1, 0, 0), To: at(2024, 3, 31, 0, 0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok", "open", "quiz"}, eventIDs(events))
	assert.Equal(t, 1, logs.FilterMessage("calendar event has no usable time span").Len())
	assert.Equal(t, 1, logs.FilterMessage("calendar event has unknown type, shown as announcement").Len())
}

func TestCalendarServiceListRangeWrapsRepositoryErrors(t *testing.T) {
	repo := &eventRepoStub{err: errors.New("db down")}
	svc := NewCalendarService(repo, nil, nil, nil, nil, CalendarServiceConfig{})

	_, err := svc.ListRange(context.Background(), RangeRequest{From: at(2024, 3, 1, 0, 0), To: at(2024, 3, 2, 0, 0)})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestRangeRequestCacheKey(t *testing.T) {
	from, to := at(2024, 3, 1, 0, 0), at(2024, 3, 31, 0, 0)
	a := RangeRequest{From: from, To: to, RestrictCourses: true, CourseIDs: []string{"c2", "c1"}}
	b := RangeRequest{From: from, To: to, RestrictCourses: true, CourseIDs: []string{"c1", "c2"}}
	none := RangeRequest{From: from, To: to, RestrictCourses: true}
	all := RangeRequest{From: from, To: to}

	assert.Equal(t, a.CacheKey(), b.CacheKey())
	assert.NotEqual(t, a.CacheKey(), none.CacheKey())
	assert.NotEqual(t, none.CacheKey(), all.CacheKey())
	assert.Contains(t, all.CacheKey(), eventsCachePrefix)
	assert.Equal(t, []string{"c2", "c1"}, a.CourseIDs, "key computation must not reorder ids")
}

func TestCalendarServiceCreate(t *testing.T) {
	repo := &eventRepoStub{}
	cache := newMemoryCache()
	svc := NewCalendarService(repo, cache, nil, nil, nil, CalendarServiceConfig{})

	_, err := svc.Create(context.Background(), EventPayload{Title: "x", Type: "assignment", Start: at(2024, 3, 2, 0, 0), End: at(2024, 3, 1, 0, 0)})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Create(context.Background(), EventPayload{Title: "x", Type: "quiz", Start: at(2024, 3, 1, 0, 0), End: at(2024, 3, 1, 0, 0)})
	require.Error(t, err)

	event, err := svc.Create(context.Background(), EventPayload{
		Title:    "  Ensayo  ",
		Type:     "assignment",
		Start:    at(2024, 3, 1, 9, 0),
		End:      at(2024, 3, 1, 9, 0),
		CourseID: strPtr("c1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-new", event.ID)
	assert.Equal(t, "Ensayo", repo.saved.Title)
	assert.Equal(t, []string{eventsCachePrefix + "*"}, cache.invalidated)
}

func TestCalendarServiceNotFoundMapping(t *testing.T) {
	repo := &eventRepoStub{events: fixture()}
	svc := NewCalendarService(repo, nil, nil, nil, nil, CalendarServiceConfig{})
	ctx := context.Background()

	_, err := svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	payload := EventPayload{Title: "t", Type: "announcement", Start: at(2024, 3, 1, 0, 0), End: at(2024, 3, 1, 1, 0)}
	_, err = svc.Update(ctx, "missing", payload)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	assert.ErrorIs(t, svc.Delete(ctx, "missing"), appErrors.ErrNotFound)

	updated, err := svc.Update(ctx, "hw", payload)
	require.NoError(t, err)
	assert.Equal(t, models.EventTypeAnnouncement, updated.Type)
	assert.Nil(t, updated.CourseID)

	require.NoError(t, svc.Delete(ctx, "ann"))
	assert.Equal(t, []string{"ann"}, repo.deleted)
}

func TestCalendarServiceUpdateReturnsJoinedCourse(t *testing.T) {
	repo := &eventRepoStub{events: fixture(), courses: map[string]models.Course{
		"c1": {ID: "c1", Title: "Álgebra", Code: "MAT101"},
		"c2": {ID: "c2", Title: "Física", Code: "FIS201"},
	}}
	svc := NewCalendarService(repo, nil, nil, nil, nil, CalendarServiceConfig{})

	updated, err := svc.Update(context.Background(), "hw", EventPayload{
		Title:    "Tarea 1",
		Type:     "assignment",
		Start:    at(2024, 3, 15, 10, 0),
		End:      at(2024, 3, 15, 11, 0),
		CourseID: strPtr("c2"),
	})
	require.NoError(t, err)
	require.NotNil(t, updated.CourseTitle)
	assert.Equal(t, "Física", *updated.CourseTitle)
	assert.Equal(t, "FIS201", *updated.CourseCode)
}

func TestCalendarServiceListRangeReportsRowLimit(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	repo := &eventRepoStub{events: []models.CalendarEvent{
		{ID: "a", Type: models.EventTypeAssignment, Start: at(2024, 3, 5, 9, 0), End: at(2024, 3, 5, 10, 0)},
		{ID: "b", Type: models.EventTypeAssignment, Start: at(2024, 3, 6, 9, 0), End: at(2024, 3, 6, 10, 0)},
	}}
	req := RangeRequest{From: at(2024, 3, 1, 0, 0), To: at(2024, 3, 31, 0, 0)}

	metrics := NewMetricsService()
	svc := NewCalendarService(repo, nil, metrics, nil, zap.New(core), CalendarServiceConfig{RangeRowLimit: 3})
	_, err := svc.ListRange(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, logs.Len())
	assert.Zero(t, testutil.ToFloat64(metrics.skippedEvents.WithLabelValues("truncated")))

	svc = NewCalendarService(repo, nil, metrics, nil, zap.New(core), CalendarServiceConfig{RangeRowLimit: 2})
	events, err := svc.ListRange(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, 1, logs.FilterMessage("calendar range read hit the row limit, later events are missing").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.skippedEvents.WithLabelValues("truncated")))
}

func TestCalendarServiceList(t *testing.T) {
	repo := &eventRepoStub{events: fixture(), total: 4}
	svc := NewCalendarService(repo, nil, nil, nil, nil, CalendarServiceConfig{})

	events, page, err := svc.List(context.Background(), EventListRequest{Types: []string{" Assignment "}})
	require.NoError(t, err)
	assert.Len(t, events, 4)
	assert.Equal(t, &models.Pagination{Page: 1, PageSize: 50, TotalCount: 4}, page)
	assert.Equal(t, []models.EventType{models.EventTypeAssignment}, repo.lastFilter.Types)

	_, _, err = svc.List(context.Background(), EventListRequest{Types: []string{"quiz"}})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
