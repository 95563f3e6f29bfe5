package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/elearning-calendar-api/internal/models"
	appErrors "github.com/noah-isme/elearning-calendar-api/pkg/errors"
)

const coursesCachePrefix = "calendar:courses:"

type courseRepository interface {
	List(ctx context.Context) ([]models.Course, error)
	ListByUser(ctx context.Context, userID string) ([]models.Course, error)
}

// CourseScope is the set of courses a viewer may see on the calendar.
type CourseScope struct {
	Courses []models.Course
	// Restricted is false for admins, who see every course's events.
	Restricted bool
}

// IDs returns the course ids in scope.
func (s CourseScope) IDs() []string {
	ids := make([]string, 0, len(s.Courses))
	for _, course := range s.Courses {
		if course.ID != "" {
			ids = append(ids, course.ID)
		}
	}
	return ids
}

// Allows reports whether an event is visible within the scope.
func (s CourseScope) Allows(event *models.CalendarEvent) bool {
	if !s.Restricted || event == nil || event.CourseID == nil || *event.CourseID == "" {
		return true
	}
	for _, course := range s.Courses {
		if course.ID == *event.CourseID {
			return true
		}
	}
	return false
}

// CourseService lists the courses used to seed course filters.
type CourseService struct {
	repo     courseRepository
	cache    eventCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewCourseService constructs the service. cache may be nil.
func NewCourseService(repo courseRepository, cache eventCache, cacheTTL time.Duration, logger *zap.Logger) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

// List returns the viewer's courses: all of them for admins, memberships otherwise.
func (s *CourseService) List(ctx context.Context, claims *models.JWTClaims) ([]models.Course, error) {
	scope, err := s.Scope(ctx, claims)
	if err != nil {
		return nil, err
	}
	return scope.Courses, nil
}

// Scope resolves the viewer's course scope.
func (s *CourseService) Scope(ctx context.Context, claims *models.JWTClaims) (CourseScope, error) {
	if claims == nil {
		return CourseScope{}, appErrors.ErrUnauthorized
	}
	restricted := claims.Role != models.RoleAdmin
	key := coursesCachePrefix + "all"
	if restricted {
		key = coursesCachePrefix + claims.UserID
	}

	var courses []models.Course
	if s.cache != nil {
		if hit, _ := s.cache.Get(ctx, key, &courses); hit {
			return CourseScope{Courses: courses, Restricted: restricted}, nil
		}
	}

	var err error
	if restricted {
		courses, err = s.repo.ListByUser(ctx, claims.UserID)
	} else {
		courses, err = s.repo.List(ctx)
	}
	if err != nil {
		return CourseScope{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	if courses == nil {
		courses = []models.Course{}
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, courses, s.cacheTTL)
	}
	return CourseScope{Courses: courses, Restricted: restricted}, nil
}
