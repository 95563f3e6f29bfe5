package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/elearning-calendar-api/internal/models"
)

var eventRowColumns = []string{"id", "title", "description", "event_type", "start_at", "end_at", "course_id",
	"course_title", "course_code", "instructor", "is_graded", "score", "created_at", "updated_at"}

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestCalendarRepositoryListRange(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCalendarRepository(db)

	from := time.Date(2024, 2, 25, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 4, 6, 23, 59, 59, 0, time.UTC)
	start := time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC)
	now := time.Now()

	rows := sqlmock.NewRows(eventRowColumns).
		AddRow("e1", "Tarea 1", "Resolver ejercicios", "assignment", start, start.Add(time.Hour), "c1", "Álgebra", "MAT101", "Ana", true, 18.5, now, now).
		AddRow("e2", "Aviso", nil, "announcement", start, nil, nil, nil, nil, nil, nil, nil, now, now)

	mock.ExpectQuery(`(?s)SELECT e\.id, .* FROM calendar_events e LEFT JOIN courses c ON c\.id = e\.course_id WHERE 1=1 AND COALESCE\(e\.end_at, e\.start_at\) >= \$1 AND e\.start_at <= \$2 AND e\.event_type = ANY\(\$3\) AND \(e\.course_id IS NULL OR e\.course_id = ANY\(\$4\)\) ORDER BY e\.start_at ASC NULLS LAST, e\.id ASC LIMIT 2000`).
		WithArgs(from, to, pq.Array([]string{"assignment", "announcement"}), pq.Array([]string{"c1"})).
		WillReturnRows(rows)

	events, err := repo.ListRange(context.Background(), models.CalendarEventFilter{
		From:            &from,
		To:              &to,
		Types:           []models.EventType{models.EventTypeAssignment, models.EventTypeAnnouncement},
		RestrictCourses: true,
		CourseIDs:       []string{"c1"},
	})
	require.NoError(t, err)
	require.Len(t, events, 2)

	first := events[0]
	assert.Equal(t, models.EventTypeAssignment, first.Type)
	require.NotNil(t, first.CourseID)
	assert.Equal(t, "c1", *first.CourseID)
	assert.Equal(t, "Álgebra", *first.CourseTitle)
	require.NotNil(t, first.Score)
	assert.InDelta(t, 18.5, *first.Score, 1e-9)
	assert.True(t, first.Placeable())

	second := events[1]
	assert.Nil(t, second.CourseID)
	assert.True(t, second.End.IsZero())
	assert.False(t, second.Placeable())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCalendarRepositoryListPaginates(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCalendarRepository(db)

	mock.ExpectQuery(`(?s)SELECT e\.id, .* WHERE 1=1 ORDER BY e\.start_at ASC NULLS LAST, e\.id ASC LIMIT 10 OFFSET 10`).
		WillReturnRows(sqlmock.NewRows(eventRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM calendar_events e LEFT JOIN courses c ON c.id = e.course_id WHERE 1=1")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	events, total, err := repo.List(context.Background(), models.CalendarEventFilter{Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, 12, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCalendarRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCalendarRepository(db)

	mock.ExpectQuery(`(?s)SELECT e\.id, .* WHERE e\.id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCalendarRepositoryCreateUpdateDelete(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCalendarRepository(db)

	start := time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC)
	event := &models.CalendarEvent{Title: "Examen", Type: models.EventTypeAssignment, Start: start, End: start.Add(2 * time.Hour)}

	mock.ExpectExec("INSERT INTO calendar_events").
		WithArgs(sqlmock.AnyArg(), "Examen", "", "assignment", start, start.Add(2*time.Hour), nil, nil, nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, repo.Create(context.Background(), event))
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.CreatedAt.IsZero())

	mock.ExpectExec("UPDATE calendar_events SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Update(context.Background(), event), sql.ErrNoRows)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM calendar_events WHERE id = $1")).
		WithArgs(event.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), event.ID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryListAndListByUser(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, code, created_at FROM courses ORDER BY title ASC, id ASC")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "code", "created_at"}).
			AddRow("c1", "Álgebra", "MAT101", now).
			AddRow("c2", "Física", "FIS101", now))

	courses, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, courses, 2)
	assert.Equal(t, "Física", courses[1].Title)

	mock.ExpectQuery(`(?s)SELECT DISTINCT c\.id, .* FROM courses c JOIN course_members m ON m\.course_id = c\.id\s+WHERE m\.user_id = \$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "code", "created_at"}).AddRow("c1", "Álgebra", "MAT101", now))

	mine, err := repo.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, nil)
	var dest []string
	assert.Error(t, repo.Get(context.Background(), "calendar:x", &dest))
	assert.NoError(t, repo.Set(context.Background(), "calendar:x", []string{"a"}, time.Minute))
	assert.NoError(t, repo.DeleteByPattern(context.Background(), "calendar:*"))
	assert.NoError(t, repo.Ping(context.Background()))
	assert.NoError(t, repo.Close())
}
