package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/elearning-calendar-api/internal/models"
)

// MaxRangeRows caps unpaginated range reads. A read that returns exactly this
// many rows may have been cut short.
const MaxRangeRows = 2000

const eventColumns = `e.id, e.title, e.description, e.event_type, e.start_at, e.end_at, e.course_id,
c.title AS course_title, c.code AS course_code, e.instructor, e.is_graded, e.score, e.created_at, e.updated_at`

const eventFrom = `FROM calendar_events e LEFT JOIN courses c ON c.id = e.course_id`

// eventRow tolerates NULL timestamps so incomplete rows reach the service
// layer as zero times instead of failing the whole scan.
type eventRow struct {
	ID          string          `db:"id"`
	Title       string          `db:"title"`
	Description sql.NullString  `db:"description"`
	Type        string          `db:"event_type"`
	Start       sql.NullTime    `db:"start_at"`
	End         sql.NullTime    `db:"end_at"`
	CourseID    sql.NullString  `db:"course_id"`
	CourseTitle sql.NullString  `db:"course_title"`
	CourseCode  sql.NullString  `db:"course_code"`
	Instructor  sql.NullString  `db:"instructor"`
	IsGraded    sql.NullBool    `db:"is_graded"`
	Score       sql.NullFloat64 `db:"score"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func (r eventRow) toModel() models.CalendarEvent {
	event := models.CalendarEvent{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description.String,
		Type:        models.EventType(r.Type),
		CourseID:    nullString(r.CourseID),
		CourseTitle: nullString(r.CourseTitle),
		CourseCode:  nullString(r.CourseCode),
		Instructor:  nullString(r.Instructor),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.Start.Valid {
		event.Start = r.Start.Time
	}
	if r.End.Valid {
		event.End = r.End.Time
	}
	if r.IsGraded.Valid {
		graded := r.IsGraded.Bool
		event.IsGraded = &graded
	}
	if r.Score.Valid {
		score := r.Score.Float64
		event.Score = &score
	}
	return event
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// CalendarRepository persists calendar events.
type CalendarRepository struct {
	db *sqlx.DB
}

// NewCalendarRepository constructs a calendar repository.
func NewCalendarRepository(db *sqlx.DB) *CalendarRepository {
	return &CalendarRepository{db: db}
}

func buildEventWhere(filter models.CalendarEventFilter) (string, []interface{}) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.From != nil {
		where = append(where, fmt.Sprintf("COALESCE(e.end_at, e.start_at) >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		where = append(where, fmt.Sprintf("e.start_at <= $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		where = append(where, fmt.Sprintf("e.event_type = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(types))
	}
	if filter.RestrictCourses {
		where = append(where, fmt.Sprintf("(e.course_id IS NULL OR e.course_id = ANY($%d))", len(args)+1))
		ids := filter.CourseIDs
		if ids == nil {
			ids = []string{}
		}
		args = append(args, pq.Array(ids))
	}
	return strings.Join(where, " AND "), args
}

// ListRange returns every event overlapping [From, To], ordered by start.
func (r *CalendarRepository) ListRange(ctx context.Context, filter models.CalendarEventFilter) ([]models.CalendarEvent, error) {
	whereClause, args := buildEventWhere(filter)
	query := fmt.Sprintf("SELECT %s %s WHERE %s ORDER BY e.start_at ASC NULLS LAST, e.id ASC LIMIT %d",
		eventColumns, eventFrom, whereClause, MaxRangeRows)

	var rows []eventRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list calendar range: %w", err)
	}
	return toModels(rows), nil
}

// List returns a page of events matching filter plus the total count.
func (r *CalendarRepository) List(ctx context.Context, filter models.CalendarEventFilter) ([]models.CalendarEvent, int, error) {
	whereClause, args := buildEventWhere(filter)

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s WHERE %s ORDER BY e.start_at ASC NULLS LAST, e.id ASC LIMIT %d OFFSET %d",
		eventColumns, eventFrom, whereClause, size, offset)
	var rows []eventRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list calendar events: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", eventFrom, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count calendar events: %w", err)
	}
	return toModels(rows), total, nil
}

// GetByID fetches a calendar event. It returns sql.ErrNoRows when absent.
func (r *CalendarRepository) GetByID(ctx context.Context, id string) (*models.CalendarEvent, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE e.id = $1", eventColumns, eventFrom)
	var row eventRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	event := row.toModel()
	return &event, nil
}

// Create inserts a calendar event.
func (r *CalendarRepository) Create(ctx context.Context, event *models.CalendarEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now
	const query = `INSERT INTO calendar_events (id, title, description, event_type, start_at, end_at, course_id, instructor, is_graded, score, created_at, updated_at)
VALUES (:id, :title, :description, :event_type, :start_at, :end_at, :course_id, :instructor, :is_graded, :score, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("create calendar event: %w", err)
	}
	return nil
}

// Update modifies an event.
func (r *CalendarRepository) Update(ctx context.Context, event *models.CalendarEvent) error {
	event.UpdatedAt = time.Now().UTC()
	const query = `UPDATE calendar_events SET title = :title, description = :description, event_type = :event_type, start_at = :start_at,
end_at = :end_at, course_id = :course_id, instructor = :instructor, is_graded = :is_graded, score = :score, updated_at = :updated_at
WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, event)
	if err != nil {
		return fmt.Errorf("update calendar event: %w", err)
	}
	return expectAffected(res)
}

// Delete removes an event. It returns sql.ErrNoRows when nothing matched.
func (r *CalendarRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM calendar_events WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete calendar event: %w", err)
	}
	return expectAffected(res)
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func toModels(rows []eventRow) []models.CalendarEvent {
	events := make([]models.CalendarEvent, len(rows))
	for i, row := range rows {
		events[i] = row.toModel()
	}
	return events
}
