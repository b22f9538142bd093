package insights

import (
	"context"
	"errors"
	"fmt"
	"time"

	"metalearn/api/internal/store"
)

var ErrCourseNotFound = errors.New("Course not found")

type Store interface {
	GetCourse(ctx context.Context, courseID string) (store.Course, error)
	CountModules(ctx context.Context, courseID string) (int, error)
	ListEnrollments(ctx context.Context, courseID string, newestFirst bool) ([]store.Enrollment, error)
	ListModuleProgress(ctx context.Context, courseID, userID string) ([]store.ModuleProgress, error)
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(s Store) *Service {
	return &Service{store: s, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Snapshot loads and aggregates the course roster.
func (s *Service) Snapshot(ctx context.Context, courseID string) (Snapshot, error) {
	course, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		if store.IsNotFound(err) {
			return Snapshot{}, ErrCourseNotFound
		}
		return Snapshot{}, fmt.Errorf("load course: %w", err)
	}
	totalModules, enrollments, rows, err := s.load(ctx, courseID)
	if err != nil {
		return Snapshot{}, err
	}
	return Build(course, totalModules, enrollments, rows, s.now()), nil
}

type ProgressReport struct {
	Learners     []LearnerProgress `json:"learners"`
	TotalModules int               `json:"totalModules"`
}

func (s *Service) CourseProgress(ctx context.Context, courseID string) (ProgressReport, error) {
	totalModules, enrollments, rows, err := s.load(ctx, courseID)
	if err != nil {
		return ProgressReport{}, err
	}
	return ProgressReport{Learners: Progress(totalModules, enrollments, rows), TotalModules: totalModules}, nil
}

func (s *Service) load(ctx context.Context, courseID string) (int, []store.Enrollment, []store.ModuleProgress, error) {
	totalModules, err := s.store.CountModules(ctx, courseID)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("count modules: %w", err)
	}
	enrollments, err := s.store.ListEnrollments(ctx, courseID, false)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("load enrollments: %w", err)
	}
	rows, err := s.store.ListModuleProgress(ctx, courseID, "")
	if err != nil {
		return 0, nil, nil, fmt.Errorf("load progress: %w", err)
	}
	return totalModules, enrollments, rows, nil
}
