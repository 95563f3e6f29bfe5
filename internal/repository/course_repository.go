package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/elearning-calendar-api/internal/models"
)

// CourseRepository reads the course catalogue.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs a course repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// List returns every course ordered by title.
func (r *CourseRepository) List(ctx context.Context) ([]models.Course, error) {
	const query = `SELECT id, title, code, created_at FROM courses ORDER BY title ASC, id ASC`
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query); err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return courses, nil
}

// ListByUser returns the courses a user is enrolled in or teaches.
func (r *CourseRepository) ListByUser(ctx context.Context, userID string) ([]models.Course, error) {
	const query = `SELECT DISTINCT c.id, c.title, c.code, c.created_at
FROM courses c JOIN course_members m ON m.course_id = c.id
WHERE m.user_id = $1 ORDER BY c.title ASC, c.id ASC`
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, userID); err != nil {
		return nil, fmt.Errorf("list courses for user: %w", err)
	}
	return courses, nil
}
