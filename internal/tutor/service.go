// Package tutor is the tutor-facing API: rosters, progress, learner
// activity and the analytics assistant.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"metalearn/api/internal/activity"
	"metalearn/api/internal/applications"
	"metalearn/api/internal/auth"
	"metalearn/api/internal/authpw"
	"metalearn/api/internal/httpx"
	"metalearn/api/internal/insights"
	"metalearn/api/internal/llm"
	"metalearn/api/internal/metrics"
	"metalearn/api/internal/rbac"
	"metalearn/api/internal/session"
	"metalearn/api/internal/store"
	"metalearn/api/internal/util"
	"metalearn/api/internal/validation"
)

var (
	errTutorAccountRequired = httpx.Forbidden("Tutor account required")
	errNotCourseTutor       = httpx.Forbidden("Tutor is not assigned to this course")
	errCourseNotFound       = httpx.NotFound("Course not found")
	errLearnerNotFound      = httpx.NotFound("Learner not found")
)

type dataStore interface {
	Ping(ctx context.Context) error
	GetTutorAccountByEmail(ctx context.Context, email string) (store.TutorAccount, error)
	GetCourse(ctx context.Context, courseID string) (store.Course, error)
	IsActiveTutor(ctx context.Context, userID, courseID string) (bool, error)
	ListTutorCourses(ctx context.Context, userID string) ([]store.TutorCourse, error)

	insights.Store
	activity.Store
	applications.Store
}

// Copilot answers a tutor question from a roster prompt.
type Copilot interface {
	TutorCopilotAnswer(ctx context.Context, prompt string) (string, error)
}

type Deps struct {
	Store    dataStore
	Sessions *session.Manager
	Copilot  Copilot
	Mail     applications.Mailer
}

type Service struct {
	store        dataStore
	sessions     *session.Manager
	copilot      Copilot
	insights     *insights.Service
	activity     *activity.Service
	applications *applications.Service
}

func NewService(deps Deps) *Service {
	return &Service{
		store:        deps.Store,
		sessions:     deps.Sessions,
		copilot:      deps.Copilot,
		insights:     insights.NewService(deps.Store),
		activity:     activity.NewService(deps.Store),
		applications: applications.NewService(deps.Store, deps.Mail),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Verify(ctx context.Context, accessToken string) (auth.Principal, error) {
	return s.sessions.Verify(ctx, accessToken)
}

// Login signs in a tutor or admin. Learners are refused before the password
// is checked.
func (s *Service) Login(ctx context.Context, email, password string) (map[string]any, error) {
	email = authpw.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, httpx.BadRequest(authpw.ErrMissingCredentials.Error())
	}

	account, err := s.store.GetTutorAccountByEmail(ctx, email)
	if err != nil {
		if store.IsNotFound(err) {
			metrics.RecordAuthEvent("login", errTutorAccountRequired)
			return nil, errTutorAccountRequired
		}
		return nil, err
	}
	if !rbac.IsStaff(account.Role) {
		metrics.RecordAuthEvent("login", errTutorAccountRequired)
		return nil, errTutorAccountRequired
	}
	if !authpw.VerifyPassword(password, account.PasswordHash) {
		metrics.RecordAuthEvent("login", authpw.ErrInvalidCredentials)
		return nil, httpx.Unauthorized(authpw.ErrInvalidCredentials.Error())
	}

	tokens, err := s.sessions.Create(ctx, account.ID, account.Role)
	metrics.RecordAuthEvent("login", err)
	if err != nil {
		return nil, err
	}

	displayName := account.FullName
	if account.DisplayName != nil && strings.TrimSpace(*account.DisplayName) != "" {
		displayName = *account.DisplayName
	}
	return map[string]any{
		"user": map[string]any{
			"id":          account.ID,
			"email":       account.Email,
			"fullName":    account.FullName,
			"role":        account.Role,
			"tutorId":     account.TutorID,
			"displayName": displayName,
		},
		"session": sessionPayload(tokens),
	}, nil
}

func sessionPayload(tokens session.Tokens) map[string]any {
	return map[string]any{
		"accessToken":           tokens.AccessToken,
		"accessTokenExpiresAt":  httpx.ISOTime(tokens.AccessTokenExpiresAt),
		"refreshToken":          tokens.RefreshToken,
		"refreshTokenExpiresAt": httpx.ISOTime(tokens.RefreshTokenExpiresAt),
		"sessionId":             tokens.SessionID,
	}
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (map[string]any, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, httpx.BadRequest("refreshToken is required")
	}
	tokens, err := s.sessions.Refresh(ctx, refreshToken)
	metrics.RecordAuthEvent("refresh", err)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
			return nil, httpx.Unauthorized("Invalid or expired refresh token")
		}
		return nil, err
	}
	return map[string]any{"session": sessionPayload(tokens)}, nil
}

func (s *Service) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	principal, err := s.sessions.Verify(ctx, accessToken)
	if err != nil {
		return nil
	}
	err = s.sessions.Revoke(ctx, principal.SessionID)
	metrics.RecordAuthEvent("logout", err)
	return err
}

// requireCourseTutor lets admins into any existing course and tutors into
// the courses they actively teach. Tutors learn nothing about courses they
// are not assigned to, including whether they exist.
func (s *Service) requireCourseTutor(ctx context.Context, principal auth.Principal, courseID string) error {
	if rbac.Normalize(principal.Role) != rbac.RoleAdmin {
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
	if !util.IsID(courseID) {
		return errCourseNotFound
	}
	if _, err := s.store.GetCourse(ctx, courseID); err != nil {
		if store.IsNotFound(err) {
			return errCourseNotFound
		}
		return fmt.Errorf("load course: %w", err)
	}
	return nil
}

func (s *Service) MyCourses(ctx context.Context, principal auth.Principal) (map[string]any, error) {
	courses, err := s.store.ListTutorCourses(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(courses))
	for _, course := range courses {
		items = append(items, map[string]any{
			"courseId":    course.ID,
			"slug":        course.Slug,
			"title":       course.Title,
			"description": course.Description,
			"role":        course.Role,
		})
	}
	return map[string]any{"courses": items}, nil
}

func (s *Service) Enrollments(ctx context.Context, principal auth.Principal, courseID string) (map[string]any, error) {
	if err := s.requireCourseTutor(ctx, principal, courseID); err != nil {
		return nil, err
	}
	enrollments, err := s.store.ListEnrollments(ctx, courseID, true)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(enrollments))
	for _, e := range enrollments {
		items = append(items, map[string]any{
			"enrollmentId": e.ID,
			"enrolledAt":   httpx.ISOTime(e.EnrolledAt),
			"status":       e.Status,
			"userId":       e.UserID,
			"fullName":     e.FullName,
			"email":        e.Email,
		})
	}
	return map[string]any{"enrollments": items}, nil
}

func (s *Service) Progress(ctx context.Context, principal auth.Principal, courseID string) (insights.ProgressReport, error) {
	if err := s.requireCourseTutor(ctx, principal, courseID); err != nil {
		return insights.ProgressReport{}, err
	}
	return s.insights.CourseProgress(ctx, courseID)
}

func (s *Service) Activity(ctx context.Context, principal auth.Principal, courseID string) (activity.CourseActivity, error) {
	if err := s.requireCourseTutor(ctx, principal, courseID); err != nil {
		return activity.CourseActivity{}, err
	}
	return s.activity.CourseLearners(ctx, courseID)
}

func (s *Service) LearnerHistory(ctx context.Context, principal auth.Principal, courseID, userID string, limit int) (map[string]any, error) {
	if err := s.requireCourseTutor(ctx, principal, courseID); err != nil {
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

// AskAssistant answers a tutor question over the course roster snapshot.
func (s *Service) AskAssistant(ctx context.Context, principal auth.Principal, courseID, question string) (map[string]any, error) {
	courseID = strings.TrimSpace(courseID)
	question = strings.TrimSpace(question)
	if courseID == "" {
		return nil, httpx.BadRequest("courseId is required")
	}
	if question == "" {
		return nil, httpx.BadRequest("question is required")
	}
	if err := s.requireCourseTutor(ctx, principal, courseID); err != nil {
		return nil, err
	}

	snapshot, err := s.insights.Snapshot(ctx, courseID)
	if err != nil {
		if errors.Is(err, insights.ErrCourseNotFound) {
			return nil, errCourseNotFound
		}
		return nil, err
	}
	if s.copilot == nil {
		return nil, httpx.Unavailable(llm.ErrUnavailable.Error())
	}
	answer, err := s.copilot.TutorCopilotAnswer(ctx, insights.Prompt(snapshot, question))
	if err != nil {
		if errors.Is(err, llm.ErrUnavailable) {
			return nil, httpx.Unavailable(llm.ErrUnavailable.Error())
		}
		return nil, httpx.NewError(http.StatusInternalServerError, "ASSISTANT_ERROR", err.Error(), nil)
	}
	return map[string]any{"answer": answer}, nil
}

func (s *Service) SubmitApplication(ctx context.Context, in applications.Input) (map[string]any, error) {
	app, err := s.applications.Submit(ctx, in)
	if err != nil {
		var verr *validation.Errors
		if errors.As(err, &verr) {
			return nil, httpx.NewError(http.StatusBadRequest, "VALIDATION_ERROR", applications.InvalidPayloadMessage, verr)
		}
		return nil, err
	}
	return map[string]any{"application": applications.Receipt(app)}, nil
}
