// Package app is the learner-facing course platform API.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"metalearn/api/internal/activity"
	"metalearn/api/internal/applications"
	"metalearn/api/internal/auth"
	"metalearn/api/internal/authpw"
	"metalearn/api/internal/contentrepo"
	"metalearn/api/internal/export"
	"metalearn/api/internal/httpx"
	"metalearn/api/internal/media"
	"metalearn/api/internal/rbac"
	"metalearn/api/internal/search"
	"metalearn/api/internal/session"
	"metalearn/api/internal/store"
	"metalearn/api/internal/util"
)

type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(ctx context.Context, userID string) (store.User, error)

	ListCourses(ctx context.Context, publishedOnly bool) ([]store.Course, error)
	GetCourse(ctx context.Context, courseID string) (store.Course, error)
	GetCourseBySlug(ctx context.Context, slug string) (store.Course, error)
	CreateCourse(ctx context.Context, course store.Course) (store.Course, error)
	UpdateCourse(ctx context.Context, course store.Course) (store.Course, error)
	IsActiveTutor(ctx context.Context, userID, courseID string) (bool, error)
	AssignTutor(ctx context.Context, courseID, tutorID, role string) (store.CourseTutor, error)
	ListTopics(ctx context.Context, courseID string) ([]store.Topic, error)
	GetTopic(ctx context.Context, topicID string) (store.Topic, error)
	CreateTopic(ctx context.Context, topic store.Topic) (store.Topic, error)
	CountModules(ctx context.Context, courseID string) (int, error)

	Enroll(ctx context.Context, courseID, userID string) (store.Enrollment, error)
	IsEnrolled(ctx context.Context, userID, courseID string) (bool, error)
	ListModuleProgress(ctx context.Context, courseID, userID string) ([]store.ModuleProgress, error)
	UpsertModuleProgress(ctx context.Context, progress store.ModuleProgress) (store.ModuleProgress, error)
	ListQuizQuestions(ctx context.Context, courseID string, moduleNo int) ([]store.QuizQuestion, error)
	CreateQuizQuestion(ctx context.Context, question store.QuizQuestion, sortOrder int) (store.QuizQuestion, error)
	ListCart(ctx context.Context, userID string) ([]store.CartItem, error)
	AddToCart(ctx context.Context, userID, courseID string) error
	RemoveFromCart(ctx context.Context, userID, courseID string) error
	Checkout(ctx context.Context, userID string) ([]store.Enrollment, error)
	ListCourseCompletions(ctx context.Context, userID string) ([]store.CourseCompletion, error)
	GetCourseCompletion(ctx context.Context, userID, courseID string) (store.CourseCompletion, error)

	activity.Store
	applications.Store
}

// Assistant answers learner questions about a lesson.
type Assistant interface {
	AssistantAnswer(ctx context.Context, lessonContext, question string) (string, error)
}

// Mailer is the subset of *email.Service the API sends through.
type Mailer = applications.Mailer

// Deps wires the service. Search, Media, Assistant and Mail may be nil.
type Deps struct {
	Store     dataStore
	Sessions  *session.Manager
	Search    *search.Service
	Content   *contentrepo.Service
	Media     *media.Service
	Assistant Assistant
	Mail      Mailer
}

type Service struct {
	store        dataStore
	sessions     *session.Manager
	accounts     *authpw.Service
	activity     *activity.Service
	applications *applications.Service
	search       *search.Service
	content      *contentrepo.Service
	media        *media.Service
	certificates *export.Service
	assistant    Assistant
	now          func() time.Time
}

func NewService(deps Deps) *Service {
	return &Service{
		store:        deps.Store,
		sessions:     deps.Sessions,
		accounts:     authpw.NewService(deps.Store),
		activity:     activity.NewService(deps.Store),
		applications: applications.NewService(deps.Store, deps.Mail),
		search:       deps.Search,
		content:      deps.Content,
		media:        deps.Media,
		certificates: export.NewService(deps.Store),
		assistant:    deps.Assistant,
		now:          time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Verify makes the service usable as the auth middleware's verifier.
func (s *Service) Verify(ctx context.Context, accessToken string) (auth.Principal, error) {
	return s.sessions.Verify(ctx, accessToken)
}

func (s *Service) requireCourse(ctx context.Context, courseID string) (store.Course, error) {
	if !util.IsID(courseID) {
		return store.Course{}, errCourseNotFound
	}
	course, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Course{}, errCourseNotFound
		}
		return store.Course{}, fmt.Errorf("load course: %w", err)
	}
	return course, nil
}

func (s *Service) requireTopic(ctx context.Context, topicID string) (store.Topic, error) {
	if !util.IsID(topicID) {
		return store.Topic{}, errTopicNotFound
	}
	topic, err := s.store.GetTopic(ctx, topicID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Topic{}, errTopicNotFound
		}
		return store.Topic{}, fmt.Errorf("load topic: %w", err)
	}
	return topic, nil
}

// canAccessCourse reports whether the principal may see every lesson of the
// course: admins, the course's active tutors and enrolled learners.
func (s *Service) canAccessCourse(ctx context.Context, principal *auth.Principal, courseID string) (bool, error) {
	if principal == nil {
		return false, nil
	}
	switch rbac.Normalize(principal.Role) {
	case rbac.RoleAdmin:
		return true, nil
	case rbac.RoleTutor:
		assigned, err := s.store.IsActiveTutor(ctx, principal.UserID, courseID)
		if err != nil || assigned {
			return assigned, err
		}
	}
	return s.store.IsEnrolled(ctx, principal.UserID, courseID)
}

// mapServiceError turns sentinel errors of the domain packages into
// HTTP-shaped errors.
func mapServiceError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, authpw.ErrMissingCredentials),
		errors.Is(err, authpw.ErrWeakPassword),
		errors.Is(err, authpw.ErrMissingName):
		return httpx.BadRequest(err.Error())
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return httpx.Unauthorized(err.Error())
	case errors.Is(err, authpw.ErrEmailTaken):
		return httpx.Conflict(err.Error())
	case errors.Is(err, activity.ErrUnknownEvent),
		errors.Is(err, activity.ErrMissingCourseID),
		errors.Is(err, activity.ErrInvalidPayload),
		errors.Is(err, applications.ErrInvalidStatus):
		return httpx.BadRequest(err.Error())
	case errors.Is(err, applications.ErrNotFound):
		return httpx.NotFound(err.Error())
	case errors.Is(err, applications.ErrAlreadyDecided):
		return errApplicationSeen
	case errors.Is(err, export.ErrNotCompleted):
		return errNotCompleted
	case errors.Is(err, export.ErrNotEnrolled):
		return errNotEnrolled
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return errExportDown
	case errors.Is(err, contentrepo.ErrInvalidID):
		return httpx.BadRequest(err.Error())
	}
	return err
}
