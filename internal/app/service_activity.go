package app

import (
	"context"

	"metalearn/api/internal/activity"
	"metalearn/api/internal/auth"
	"metalearn/api/internal/httpx"
	"metalearn/api/internal/rbac"
	"metalearn/api/internal/store"
	"metalearn/api/internal/util"
)

var errNotCourseTutor = httpx.Forbidden("Tutor is not assigned to this course")

func (s *Service) RecordActivity(ctx context.Context, principal auth.Principal, event activity.Event) (map[string]any, error) {
	saved, err := s.activity.Record(ctx, principal.UserID, event)
	if err != nil {
		if store.IsForeignKeyViolation(err) {
			return nil, errCourseNotFound
		}
		return nil, mapServiceError(err)
	}
	return map[string]any{"event": saved}, nil
}

// requireCourseStaff lets admins into any existing course and tutors into
// the courses they are assigned to. Other tutors get 403 whether or not the
// course exists.
func (s *Service) requireCourseStaff(ctx context.Context, principal auth.Principal, courseID string) error {
	if rbac.Normalize(principal.Role) == rbac.RoleAdmin {
		_, err := s.requireCourse(ctx, courseID)
		return err
	}
	if !util.IsID(courseID) {
		return errNotCourseTutor
	}
	assigned, err := s.store.IsActiveTutor(ctx, principal.UserID, courseID)
	if err != nil {
		return err
	}
	if !assigned {
		return errNotCourseTutor
	}
	return nil
}

func (s *Service) CourseActivity(ctx context.Context, principal auth.Principal, courseID string) (activity.CourseActivity, error) {
	if err := s.requireCourseStaff(ctx, principal, courseID); err != nil {
		return activity.CourseActivity{}, err
	}
	return s.activity.CourseLearners(ctx, courseID)
}

func (s *Service) LearnerHistory(ctx context.Context, principal auth.Principal, courseID, userID string, limit int) (map[string]any, error) {
	if err := s.requireCourseStaff(ctx, principal, courseID); err != nil {
		return nil, err
	}
	if !util.IsID(userID) {
		return nil, errLearnerNotFound
	}
	events, err := s.activity.History(ctx, userID, courseID, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"events": events}, nil
}
