package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/elearning-calendar-api/internal/calendar"
	"github.com/noah-isme/elearning-calendar-api/internal/models"
	appErrors "github.com/noah-isme/elearning-calendar-api/pkg/errors"
)

func newViewService(t *testing.T, now time.Time) (*CalendarViewService, *eventRepoStub) {
	t.Helper()
	repo := &eventRepoStub{events: fixture()}
	events := NewCalendarService(repo, nil, nil, nil, nil, CalendarServiceConfig{})
	svc := NewCalendarViewService(events, scopeStub{scope: studentScope()}, calendar.NewFixedClock(now), NewMetricsService(), nil, ViewServiceConfig{Location: time.UTC})
	return svc, repo
}

func TestCalendarViewServiceRenderMonth(t *testing.T) {
	svc, repo := newViewService(t, at(2024, 3, 15, 10, 0))

	view, err := svc.Render(context.Background(), student(), ViewRequest{})
	require.NoError(t, err)
	require.NotNil(t, view.Month)
	assert.Equal(t, models.ViewMonth, view.ViewMode)
	assert.Len(t, view.Month.Cells, 42)
	assert.ElementsMatch(t, []string{"hw", "ann"}, eventIDs(view.Events))

	assert.Equal(t, at(2024, 2, 25, 0, 0), *repo.lastFilter.From)
	assert.Equal(t, []string{"c1"}, repo.lastFilter.CourseIDs)
	assert.Equal(t, map[string]bool{"c1": true}, view.Filters.Courses)
}

func TestCalendarViewServiceRenderFilters(t *testing.T) {
	svc, _ := newViewService(t, at(2024, 3, 15, 10, 0))
	ctx := context.Background()

	view, err := svc.Render(ctx, student(), ViewRequest{Types: []models.EventType{models.EventTypeAnnouncement}})
	require.NoError(t, err)
	assert.Equal(t, []string{"ann"}, eventIDs(view.Events))

	view, err = svc.Render(ctx, student(), ViewRequest{Types: []models.EventType{}})
	require.NoError(t, err)
	assert.Empty(t, view.Events)

	view, err = svc.Render(ctx, student(), ViewRequest{HiddenCourses: []string{"c1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"ann"}, eventIDs(view.Events))
	assert.False(t, view.Filters.Courses["c1"])
}

func TestCalendarViewServiceRenderWeekAndDay(t *testing.T) {
	svc, _ := newViewService(t, at(2024, 3, 15, 10, 30))

	view, err := svc.Render(context.Background(), student(), ViewRequest{View: models.ViewWeek, Date: at(2024, 3, 14, 0, 0)})
	require.NoError(t, err)
	require.Len(t, view.Days, 7)
	assert.True(t, view.Days[5].IsToday)
	require.Len(t, view.Days[5].Placements, 1)
	assert.Equal(t, "hw", view.Days[5].Placements[0].Event.ID)

	view, err = svc.Render(context.Background(), student(), ViewRequest{View: models.ViewDay, Date: at(2024, 3, 20, 0, 0)})
	require.NoError(t, err)
	require.Len(t, view.Days, 1)
	assert.Equal(t, []string{"ann"}, eventIDs(view.Events))

	_, err = svc.Render(context.Background(), student(), ViewRequest{View: "year"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestCalendarViewServiceSelection(t *testing.T) {
	svc, _ := newViewService(t, at(2024, 3, 15, 10, 30))
	ctx := context.Background()

	view, err := svc.Render(ctx, student(), ViewRequest{SelectedID: "hw"})
	require.NoError(t, err)
	require.NotNil(t, view.Selected)
	assert.True(t, view.Selected.IsActive)

	view, err = svc.Render(ctx, student(), ViewRequest{SelectedID: "far"})
	require.NoError(t, err, "selection outside the visible range is fetched")
	require.NotNil(t, view.Selected)
	assert.Equal(t, models.EventStatusUpcoming, view.Selected.Status)

	_, err = svc.Render(ctx, student(), ViewRequest{SelectedID: "other"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = svc.Render(ctx, student(), ViewRequest{SelectedID: "missing"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestCalendarViewServiceDetail(t *testing.T) {
	svc, _ := newViewService(t, at(2024, 3, 15, 12, 0))

	detail, err := svc.Detail(context.Background(), student(), "hw")
	require.NoError(t, err)
	assert.True(t, detail.IsPast)
	assert.Equal(t, calendar.LabelFinished, detail.StatusLabel)

	_, err = svc.Detail(context.Background(), student(), "other")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = svc.Detail(context.Background(), nil, "hw")
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
