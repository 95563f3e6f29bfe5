package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/elearning-calendar-api/internal/models"
	appErrors "github.com/noah-isme/elearning-calendar-api/pkg/errors"
)

func newTestController(now time.Time, opts ...ControllerOption) (*Controller, *FixedClock) {
	clock := NewFixedClock(now)
	return NewController(clock, opts...), clock
}

func TestControllerDefaults(t *testing.T) {
	c, _ := newTestController(at(2024, 3, 15, 10, 0))
	state := c.State()
	assert.Equal(t, models.ViewMonth, state.ViewMode)
	assert.Equal(t, at(2024, 3, 15, 10, 0), state.CurrentDate)
	assert.True(t, state.Filters.EventTypes.Assignment)
	assert.True(t, state.Filters.EventTypes.Announcements)
	assert.Empty(t, state.SelectedID)
}

func TestControllerNavigatePerViewMode(t *testing.T) {
	c, _ := newTestController(at(2024, 1, 31, 10, 0))

	require.NoError(t, c.Navigate(1))
	assert.Equal(t, at(2024, 2, 29, 10, 0), c.State().CurrentDate)

	require.NoError(t, c.SetViewMode(models.ViewWeek))
	assert.Equal(t, at(2024, 2, 29, 10, 0), c.State().CurrentDate, "switching view keeps the date")
	require.NoError(t, c.Navigate(1))
	assert.Equal(t, at(2024, 3, 7, 10, 0), c.State().CurrentDate)

	require.NoError(t, c.SetViewMode(models.ViewDay))
	require.NoError(t, c.Navigate(-1))
	assert.Equal(t, at(2024, 3, 6, 10, 0), c.State().CurrentDate)
}

func TestControllerNavigateAcrossYears(t *testing.T) {
	c, _ := newTestController(at(2024, 12, 15, 0, 0))
	require.NoError(t, c.Navigate(1))
	assert.Equal(t, at(2025, 1, 15, 0, 0), c.State().CurrentDate)
	require.NoError(t, c.Navigate(-1))
	require.NoError(t, c.Navigate(-1))
	assert.Equal(t, at(2024, 11, 15, 0, 0), c.State().CurrentDate)
}

func TestControllerRejectsInvalidInput(t *testing.T) {
	c, _ := newTestController(at(2024, 3, 15, 10, 0))
	err := c.Navigate(2)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	err = c.SetViewMode("year")
	require.Error(t, err)
	assert.Equal(t, models.ViewMonth, c.State().ViewMode)
}

func TestControllerRenderEmptySource(t *testing.T) {
	c, _ := newTestController(at(2024, 3, 15, 10, 0))

	view := c.Render()
	require.NotNil(t, view.Month)
	assert.Len(t, view.Month.Cells, 42)
	assert.Empty(t, view.Events)

	c.SetEvents(nil)
	require.NoError(t, c.SetViewMode(models.ViewWeek))
	view = c.Render()
	assert.Nil(t, view.Month)
	assert.Len(t, view.Days, 7)

	require.NoError(t, c.SetViewMode(models.ViewDay))
	view = c.Render()
	assert.Len(t, view.Days, 1)
	assert.Len(t, view.Days[0].Rows, 24)
}

func TestControllerScenarioB(t *testing.T) {
	event := newEvent("hw", models.EventTypeAssignment, at(2024, 3, 15, 10, 0), at(2024, 3, 15, 11, 0))
	c, _ := newTestController(at(2024, 3, 1, 8, 0))
	c.SetEvents([]*models.CalendarEvent{event})

	c.SetEventTypeFilter(models.EventTypeAssignment, false)
	view := c.Render()
	assert.Empty(t, view.Events)
	for _, cell := range view.Month.Cells {
		assert.Empty(t, cell.Events)
	}

	c.SetEventTypeFilter(models.EventTypeAssignment, true)
	view = c.Render()
	assert.Equal(t, []string{"hw"}, ids(view.Events))
	hits := 0
	for _, cell := range view.Month.Cells {
		if len(cell.Events) > 0 {
			hits++
			assert.Equal(t, 15, cell.Day)
			assert.Equal(t, 2, cell.Month)
		}
	}
	assert.Equal(t, 1, hits)
}

func TestControllerSelectionScenarioCAndD(t *testing.T) {
	event := newEvent("hw", models.EventTypeAssignment, at(2024, 3, 15, 10, 0), at(2024, 3, 15, 11, 0))
	c, clock := newTestController(at(2024, 3, 15, 10, 30))
	c.SetEvents([]*models.CalendarEvent{event})

	require.NoError(t, c.SelectEventByID("hw"))
	assert.Equal(t, "hw", c.State().SelectedID)

	view := c.Render()
	require.NotNil(t, view.Selected)
	assert.True(t, view.Selected.IsActive)
	assert.False(t, view.Selected.IsPast)

	clock.Set(at(2024, 3, 15, 12, 0))
	view = c.Render()
	assert.True(t, view.Selected.IsPast)
	assert.Equal(t, "Finalizado", view.Selected.StatusLabel)

	c.ClearSelection()
	assert.Nil(t, c.Render().Selected)

	err := c.SelectEventByID("missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestControllerSetCoursesSeedsAndKeepsToggles(t *testing.T) {
	c, _ := newTestController(at(2024, 3, 15, 10, 0))
	c.SetCourses([]models.Course{{ID: "c1", Title: "Álgebra"}, {ID: "c2", Title: "Física"}})
	c.SetCourseFilter("c1", false)

	c.SetCourses([]models.Course{{ID: "c1", Title: "Álgebra"}, {ID: "c3", Title: "Química"}, {Title: "Sin id"}, {}})
	courses := c.State().Filters.Courses
	assert.Equal(t, map[string]bool{"c1": false, "c3": true, "Sin id": true}, courses)

	event := withCourse(newEvent("x", models.EventTypeAssignment, at(2024, 3, 15, 10, 0), at(2024, 3, 15, 11, 0)), "c1", "Álgebra")
	c.SetEvents([]*models.CalendarEvent{event})
	assert.Empty(t, c.Render().Events)
}

func TestControllerStateIsACopy(t *testing.T) {
	c, _ := newTestController(at(2024, 3, 15, 10, 0))
	state := c.State()
	state.Filters.Courses["leak"] = false
	assert.NotContains(t, c.State().Filters.Courses, "leak")
}

func TestControllerVisibleRange(t *testing.T) {
	c, _ := newTestController(at(2024, 3, 15, 10, 0))
	assert.Equal(t, at(2024, 2, 25, 0, 0), c.VisibleRange().From)

	require.NoError(t, c.SetViewMode(models.ViewWeek))
	assert.Equal(t, at(2024, 3, 10, 0, 0), c.VisibleRange().From)

	require.NoError(t, c.SetViewMode(models.ViewDay))
	r := c.VisibleRange()
	assert.Equal(t, at(2024, 3, 15, 0, 0), r.From)
	assert.Equal(t, 15, r.To.Day())
}

func TestRenderStateless(t *testing.T) {
	event := newEvent("late", models.EventTypeAssignment, at(2024, 3, 15, 23, 0), at(2024, 3, 16, 1, 0))
	view := Render(models.ViewWeek, at(2024, 3, 15, 0, 0), at(2024, 3, 15, 23, 30), []*models.CalendarEvent{event}, models.DefaultFilterState())
	require.Len(t, view.Days, 7)
	assert.Equal(t, []int{23}, rowsWith(view.Days[5], "late"))
	assert.Equal(t, []int{0, 1}, rowsWith(view.Days[6], "late"))
	assert.True(t, view.Days[5].Rows[23].HasNowMarker)
	assert.Equal(t, "10 - 16 de marzo 2024", view.Title)
}

func TestControllerAdjacentRanges(t *testing.T) {
	c, _ := newTestController(at(2024, 3, 15, 10, 0), WithViewMode(models.ViewWeek))
	prev, next := c.AdjacentRanges()
	assert.Equal(t, at(2024, 3, 3, 0, 0), prev.From)
	assert.Equal(t, at(2024, 3, 17, 0, 0), next.From)

	assert.Equal(t, at(2024, 2, 29, 10, 0), Step(models.ViewMonth, at(2024, 3, 31, 10, 0), -1))
	assert.Equal(t, at(2024, 3, 16, 10, 0), Step(models.ViewDay, at(2024, 3, 15, 10, 0), 1))
}
