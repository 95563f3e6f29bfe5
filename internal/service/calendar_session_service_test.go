package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/elearning-calendar-api/internal/calendar"
	"github.com/noah-isme/elearning-calendar-api/internal/models"
	appErrors "github.com/noah-isme/elearning-calendar-api/pkg/errors"
	"github.com/noah-isme/elearning-calendar-api/pkg/jobs"
)

type wallClock struct {
	mu  sync.Mutex
	now time.Time
}

func (w *wallClock) Now() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now
}

func (w *wallClock) Advance(d time.Duration) {
	w.mu.Lock()
	w.now = w.now.Add(d)
	w.mu.Unlock()
}

type sessionFixture struct {
	svc      *CalendarSessionService
	repo     *eventRepoStub
	prefetch *prefetchStub
	wall     *wallClock
	live     *calendar.LiveClock
}

func newSessionFixture(t *testing.T) sessionFixture {
	t.Helper()
	repo := &eventRepoStub{events: fixture()}
	events := NewCalendarService(repo, nil, nil, nil, nil, CalendarServiceConfig{})
	source := calendar.NewFixedClock(at(2024, 3, 15, 10, 30))
	live := calendar.NewLiveClock(calendar.ClockConfig{Source: source.Now, Location: time.UTC})
	scopes := scopeStub{scope: studentScope()}
	views := NewCalendarViewService(events, scopes, live, nil, nil, ViewServiceConfig{Location: time.UTC})
	prefetch := &prefetchStub{}
	wall := &wallClock{now: at(2024, 3, 15, 10, 30)}
	svc := NewCalendarSessionService(views, scopes, live, prefetch, NewMetricsService(), nil, nil, SessionConfig{TTL: 10 * time.Minute, Now: wall.Now})
	return sessionFixture{svc: svc, repo: repo, prefetch: prefetch, wall: wall, live: live}
}

func TestCalendarSessionMount(t *testing.T) {
	f := newSessionFixture(t)

	view, err := f.svc.Mount(context.Background(), student(), MountRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, view.SessionID)
	assert.Equal(t, models.ViewMonth, view.State.ViewMode)
	assert.ElementsMatch(t, []string{"hw", "ann"}, eventIDs(view.View.Events))
	assert.Equal(t, at(2024, 3, 15, 10, 40), view.ExpiresAt)
	assert.Equal(t, 1, f.svc.Count())

	require.Len(t, f.prefetch.jobs, 2)
	for _, job := range f.prefetch.jobs {
		assert.Equal(t, PrefetchJobType, job.Type)
		req, ok := job.Payload.(RangeRequest)
		require.True(t, ok)
		assert.True(t, req.RestrictCourses)
		assert.Equal(t, req.CacheKey(), job.Key)
	}
	prev := f.prefetch.jobs[0].Payload.(RangeRequest)
	assert.Equal(t, at(2024, 1, 28, 0, 0), prev.From)
}

func TestCalendarSessionMountOptions(t *testing.T) {
	f := newSessionFixture(t)

	view, err := f.svc.Mount(context.Background(), student(), MountRequest{View: "day", Date: "2024-03-20", Types: []string{"announcement"}})
	require.NoError(t, err)
	assert.Equal(t, models.ViewDay, view.State.ViewMode)
	assert.Equal(t, 20, view.State.CurrentDate.Day())
	assert.Equal(t, []string{"ann"}, eventIDs(view.View.Events))
	assert.False(t, view.State.Filters.EventTypes.Assignment)

	for _, req := range []MountRequest{{View: "year"}, {Date: "20/03/2024"}, {Types: []string{"quiz"}}} {
		_, err := f.svc.Mount(context.Background(), student(), req)
		assert.ErrorIs(t, err, appErrors.ErrValidation)
	}
	_, err = f.svc.Mount(context.Background(), nil, MountRequest{})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestCalendarSessionNavigateReloadsOnRangeChange(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	mounted, err := f.svc.Mount(ctx, student(), MountRequest{})
	require.NoError(t, err)
	id := mounted.SessionID
	loads := f.repo.calls()

	view, err := f.svc.Navigate(ctx, student(), id, 1)
	require.NoError(t, err)
	assert.Equal(t, at(2024, 4, 15, 10, 30), view.State.CurrentDate)
	assert.Equal(t, loads+1, f.repo.calls())

	_, err = f.svc.Navigate(ctx, student(), id, 3)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	view, err = f.svc.Today(ctx, student(), id)
	require.NoError(t, err)
	assert.Equal(t, at(2024, 3, 15, 10, 30), view.State.CurrentDate)

	view, err = f.svc.GoTo(ctx, student(), id, at(2024, 6, 1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"far"}, eventIDs(view.View.Events))

	_, err = f.svc.GoTo(ctx, student(), id, time.Time{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	view, err = f.svc.SetViewMode(ctx, student(), id, models.ViewWeek)
	require.NoError(t, err)
	assert.Len(t, view.View.Days, 7)
}

func TestCalendarSessionFiltersDoNotReload(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	mounted, err := f.svc.Mount(ctx, student(), MountRequest{})
	require.NoError(t, err)
	loads := f.repo.calls()

	off := false
	view, err := f.svc.UpdateFilters(ctx, student(), mounted.SessionID, FilterUpdate{Assignment: &off})
	require.NoError(t, err)
	assert.Equal(t, []string{"ann"}, eventIDs(view.View.Events))
	assert.True(t, view.State.Filters.EventTypes.Announcements)

	on := true
	view, err = f.svc.UpdateFilters(ctx, student(), mounted.SessionID, FilterUpdate{Assignment: &on, Courses: map[string]bool{"c1": false}})
	require.NoError(t, err)
	assert.Equal(t, []string{"ann"}, eventIDs(view.View.Events))
	assert.Equal(t, loads, f.repo.calls())

	_, err = f.svc.UpdateFilters(ctx, student(), mounted.SessionID, FilterUpdate{Courses: map[string]bool{" ": true}})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestCalendarSessionSelection(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	mounted, err := f.svc.Mount(ctx, student(), MountRequest{})
	require.NoError(t, err)

	view, err := f.svc.Select(ctx, student(), mounted.SessionID, "hw")
	require.NoError(t, err)
	require.NotNil(t, view.View.Selected)
	assert.True(t, view.View.Selected.IsActive)
	assert.Equal(t, "hw", view.State.SelectedID)

	_, err = f.svc.Select(ctx, student(), mounted.SessionID, "other")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	view, err = f.svc.ClearSelection(ctx, student(), mounted.SessionID)
	require.NoError(t, err)
	assert.Nil(t, view.View.Selected)
}

func TestCalendarSessionRollsBackOnLoadFailure(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	mounted, err := f.svc.Mount(ctx, student(), MountRequest{})
	require.NoError(t, err)

	f.repo.setErr(errors.New("db down"))
	_, err = f.svc.Navigate(ctx, student(), mounted.SessionID, 1)
	require.Error(t, err)
	f.repo.setErr(nil)

	view, err := f.svc.View(ctx, student(), mounted.SessionID)
	require.NoError(t, err)
	assert.Equal(t, at(2024, 3, 15, 10, 30), view.State.CurrentDate)
	assert.ElementsMatch(t, []string{"hw", "ann"}, eventIDs(view.View.Events))
}

func TestCalendarSessionOwnershipAndExpiry(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	mounted, err := f.svc.Mount(ctx, student(), MountRequest{})
	require.NoError(t, err)
	id := mounted.SessionID

	_, err = f.svc.View(ctx, &models.JWTClaims{UserID: "someone-else"}, id)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	_, err = f.svc.View(ctx, student(), "unknown")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	f.wall.Advance(9 * time.Minute)
	view, err := f.svc.View(ctx, student(), id)
	require.NoError(t, err, "activity keeps the session alive")
	assert.Equal(t, at(2024, 3, 15, 10, 49), view.ExpiresAt)

	f.wall.Advance(11 * time.Minute)
	_, err = f.svc.View(ctx, student(), id)
	assert.ErrorIs(t, err, appErrors.ErrSessionExpired)
	_, err = f.svc.Navigate(ctx, student(), id, 1)
	assert.ErrorIs(t, err, appErrors.ErrSessionExpired)
	assert.Zero(t, f.svc.Count())
}

func TestCalendarSessionJanitorEvicts(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	a, err := f.svc.Mount(ctx, student(), MountRequest{})
	require.NoError(t, err)
	f.wall.Advance(8 * time.Minute)
	b, err := f.svc.Mount(ctx, student(), MountRequest{})
	require.NoError(t, err)

	f.wall.Advance(3 * time.Minute)
	assert.Equal(t, 1, f.svc.evictExpired())
	assert.Equal(t, 1, f.svc.Count())

	_, err = f.svc.View(ctx, student(), a.SessionID)
	assert.ErrorIs(t, err, appErrors.ErrSessionExpired)
	_, err = f.svc.View(ctx, student(), b.SessionID)
	assert.NoError(t, err)

	// Tombstones are forgotten after another ttl.
	f.wall.Advance(11 * time.Minute)
	f.svc.evictExpired()
	_, err = f.svc.View(ctx, student(), a.SessionID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestCalendarSessionUnmount(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	mounted, err := f.svc.Mount(ctx, student(), MountRequest{})
	require.NoError(t, err)

	require.NoError(t, f.svc.Unmount(student(), mounted.SessionID))
	assert.Zero(t, f.svc.Count())
	_, err = f.svc.View(ctx, student(), mounted.SessionID)
	assert.ErrorIs(t, err, appErrors.ErrSessionExpired)
	assert.ErrorIs(t, f.svc.Unmount(student(), mounted.SessionID), appErrors.ErrSessionExpired)
}

func TestCalendarSessionSlowReloadDoesNotStallOtherSessions(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	a, err := f.svc.Mount(ctx, student(), MountRequest{})
	require.NoError(t, err)
	b, err := f.svc.Mount(ctx, student(), MountRequest{})
	require.NoError(t, err)

	release := f.repo.hold()
	navigated := make(chan error, 1)
	go func() {
		_, err := f.svc.Navigate(ctx, student(), a.SessionID, 1)
		navigated <- err
	}()
	require.Eventually(t, func() bool { return f.repo.waiting() == 1 }, time.Second, 5*time.Millisecond)

	// A second request on the same session queues behind the reload.
	queued := make(chan error, 1)
	go func() {
		_, err := f.svc.View(ctx, student(), a.SessionID)
		queued <- err
	}()
	time.Sleep(20 * time.Millisecond)

	other := make(chan error, 1)
	go func() {
		_, err := f.svc.View(ctx, student(), b.SessionID)
		other <- err
	}()
	select {
	case err := <-other:
		assert.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		release()
		t.Fatal("view of an idle session waited on another session's reload")
	}
	assert.Equal(t, 2, f.svc.Count())

	release()
	require.NoError(t, <-navigated)
	require.NoError(t, <-queued)
}

func TestCalendarSessionMarkerAndSubscribe(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	mounted, err := f.svc.Mount(ctx, student(), MountRequest{})
	require.NoError(t, err)

	marker, err := f.svc.Marker(student(), mounted.SessionID, at(2024, 3, 15, 10, 30))
	require.NoError(t, err)
	assert.True(t, marker.Visible)
	assert.Equal(t, 19, marker.DayIndex)
	assert.InDelta(t, 10.5, marker.Offset, 1e-9)

	marker, err = f.svc.Marker(student(), mounted.SessionID, at(2024, 5, 1, 0, 0))
	require.NoError(t, err)
	assert.False(t, marker.Visible)

	ch, release, err := f.svc.Subscribe(student(), mounted.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.live.Subscribers())
	f.live.Tick()
	select {
	case <-ch:
	default:
		t.Fatal("expected a tick")
	}
	release()
	assert.Zero(t, f.live.Subscribers())

	_, _, err = f.svc.Subscribe(student(), "unknown")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestCalendarSessionStartStop(t *testing.T) {
	f := newSessionFixture(t)
	f.svc.Start(context.Background())
	f.svc.Start(context.Background())
	_, err := f.svc.Mount(context.Background(), student(), MountRequest{})
	require.NoError(t, err)
	f.svc.Stop()
	f.svc.Stop()
	assert.Zero(t, f.svc.Count())
}

func TestPrefetchHandler(t *testing.T) {
	repo := &eventRepoStub{events: fixture()}
	cache := newMemoryCache()
	events := NewCalendarService(repo, cache, nil, nil, nil, CalendarServiceConfig{})
	handler := NewPrefetchHandler(events, nil, nil)

	req := RangeRequest{From: at(2024, 4, 1, 0, 0), To: at(2024, 4, 30, 0, 0)}
	require.NoError(t, handler(context.Background(), jobs.Job{ID: "1", Key: req.CacheKey(), Payload: req}))
	_, err := events.ListRange(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.calls(), "second read is served from the warmed cache")

	assert.NoError(t, handler(context.Background(), jobs.Job{ID: "2", Payload: "nope"}))

	repo.setErr(errors.New("db down"))
	bad := RangeRequest{From: at(2024, 5, 1, 0, 0), To: at(2024, 5, 2, 0, 0)}
	assert.Error(t, handler(context.Background(), jobs.Job{ID: "3", Payload: bad}))
}
