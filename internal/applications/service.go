// Package applications takes tutor applications from the public form and
// turns approved ones into tutor accounts.
package applications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"metalearn/api/internal/authpw"
	"metalearn/api/internal/email"
	"metalearn/api/internal/httpx"
	"metalearn/api/internal/logging"
	"metalearn/api/internal/rbac"
	"metalearn/api/internal/store"
	"metalearn/api/internal/util"
	"metalearn/api/internal/validation"
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

var (
	ErrNotFound       = errors.New("Tutor application not found")
	ErrAlreadyDecided = errors.New("Tutor application was already reviewed")
	ErrInvalidStatus  = errors.New("status must be pending, approved or rejected")
)

// Store is the persistence the workflow needs.
type Store interface {
	CreateTutorApplication(ctx context.Context, app store.TutorApplication) (store.TutorApplication, error)
	ListTutorApplications(ctx context.Context, status string) ([]store.TutorApplication, error)
	GetTutorApplication(ctx context.Context, id string) (store.TutorApplication, error)
	SetTutorApplicationStatus(ctx context.Context, id, status string) (store.TutorApplication, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	SetUserRole(ctx context.Context, userID, role string) error
	EnsureTutorProfile(ctx context.Context, userID, displayName, headline string) (string, error)
}

// Mailer is satisfied by *email.Service.
type Mailer interface {
	SendApplicationReceived(ctx context.Context, to, fullName, courseTitle string) error
	SendApplicationDecision(ctx context.Context, to string, data email.ApplicationData) error
}

// Input is the public application form.
type Input struct {
	FullName          string  `json:"fullName" validate:"min=3,max=200"`
	Email             string  `json:"email" validate:"required,email,max=320"`
	Phone             *string `json:"phone" validate:"omitnil,min=10,max=30"`
	Headline          string  `json:"headline" validate:"min=4,max=240"`
	CourseTitle       string  `json:"courseTitle" validate:"min=4,max=200"`
	CourseDescription string  `json:"courseDescription" validate:"min=16,max=4000"`
	TargetAudience    string  `json:"targetAudience" validate:"min=4,max=2000"`
	ExpertiseArea     string  `json:"expertiseArea" validate:"min=2,max=200"`
	ExperienceYears   *int    `json:"experienceYears" validate:"omitnil,min=0,max=60"`
	Availability      string  `json:"availability" validate:"min=3,max=200"`
}

// Decision is the outcome of approving an application.
type Decision struct {
	Application store.TutorApplication
	UserID      string
	TutorID     string
	// CreatedAccount is true when approval had to create the user.
	CreatedAccount bool
}

type Service struct {
	store Store
	mail  Mailer
}

func NewService(s Store, mail Mailer) *Service {
	return &Service{store: s, mail: mail}
}

// Submit validates and stores an application. The acknowledgement email is
// best effort.
func (s *Service) Submit(ctx context.Context, in Input) (store.TutorApplication, error) {
	if err := validation.Struct(in); err != nil {
		return store.TutorApplication{}, err
	}

	app, err := s.store.CreateTutorApplication(ctx, store.TutorApplication{
		FullName:          in.FullName,
		Email:             in.Email,
		Phone:             in.Phone,
		Headline:          in.Headline,
		CourseTitle:       in.CourseTitle,
		CourseDescription: in.CourseDescription,
		TargetAudience:    in.TargetAudience,
		ExpertiseArea:     in.ExpertiseArea,
		ExperienceYears:   in.ExperienceYears,
		Availability:      in.Availability,
	})
	if err != nil {
		return store.TutorApplication{}, err
	}

	if s.mail != nil {
		if err := s.mail.SendApplicationReceived(ctx, app.Email, app.FullName, app.CourseTitle); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("application_id", app.ID).Msg("application acknowledgement failed")
		}
	}
	return app, nil
}

func (s *Service) List(ctx context.Context, status string) ([]store.TutorApplication, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", StatusPending, StatusApproved, StatusRejected:
	default:
		return nil, ErrInvalidStatus
	}
	return s.store.ListTutorApplications(ctx, status)
}

// Approve promotes the applicant to tutor, creating the account with a
// temporary password when the email is not registered yet.
func (s *Service) Approve(ctx context.Context, id string) (Decision, error) {
	app, err := s.pending(ctx, id)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{}
	temporaryPassword := ""
	emailAddr := authpw.NormalizeEmail(app.Email)
	user, err := s.store.GetUserByEmail(ctx, emailAddr)
	switch {
	case store.IsNotFound(err):
		temporaryPassword = util.RandomHex(6)
		hash, hashErr := authpw.HashPassword(temporaryPassword)
		if hashErr != nil {
			return Decision{}, hashErr
		}
		user = store.User{ID: util.NewID(), Email: emailAddr, FullName: app.FullName, PasswordHash: hash, Role: string(rbac.RoleTutor)}
		if err := s.store.CreateUser(ctx, user); err != nil {
			return Decision{}, err
		}
		decision.CreatedAccount = true
	case err != nil:
		return Decision{}, fmt.Errorf("lookup applicant: %w", err)
	case !rbac.IsStaff(user.Role):
		if err := s.store.SetUserRole(ctx, user.ID, string(rbac.RoleTutor)); err != nil {
			return Decision{}, err
		}
	}

	tutorID, err := s.store.EnsureTutorProfile(ctx, user.ID, app.FullName, app.Headline)
	if err != nil {
		return Decision{}, err
	}
	updated, err := s.store.SetTutorApplicationStatus(ctx, app.ID, StatusApproved)
	if err != nil {
		return Decision{}, err
	}
	decision.Application = updated
	decision.UserID = user.ID
	decision.TutorID = tutorID

	s.notify(ctx, updated, temporaryPassword)
	logging.Ctx(ctx).Info().Str("application_id", app.ID).Str("tutor_id", tutorID).Bool("new_account", decision.CreatedAccount).Msg("tutor application approved")
	return decision, nil
}

func (s *Service) Reject(ctx context.Context, id string) (store.TutorApplication, error) {
	app, err := s.pending(ctx, id)
	if err != nil {
		return store.TutorApplication{}, err
	}
	updated, err := s.store.SetTutorApplicationStatus(ctx, app.ID, StatusRejected)
	if err != nil {
		return store.TutorApplication{}, err
	}
	s.notify(ctx, updated, "")
	return updated, nil
}

func (s *Service) pending(ctx context.Context, id string) (store.TutorApplication, error) {
	if !util.IsID(id) {
		return store.TutorApplication{}, ErrNotFound
	}
	app, err := s.store.GetTutorApplication(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return store.TutorApplication{}, ErrNotFound
		}
		return store.TutorApplication{}, err
	}
	if app.Status != StatusPending {
		return store.TutorApplication{}, ErrAlreadyDecided
	}
	return app, nil
}

func (s *Service) notify(ctx context.Context, app store.TutorApplication, temporaryPassword string) {
	if s.mail == nil {
		return
	}
	err := s.mail.SendApplicationDecision(ctx, app.Email, email.ApplicationData{
		FullName:          app.FullName,
		CourseTitle:       app.CourseTitle,
		Status:            app.Status,
		TemporaryPassword: temporaryPassword,
	})
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("application_id", app.ID).Msg("application decision email failed")
	}
}

// InvalidPayloadMessage is the error message for a rejected form.
const InvalidPayloadMessage = "Invalid tutor application payload"

// Receipt is the public view of a freshly submitted application.
func Receipt(app store.TutorApplication) map[string]any {
	return map[string]any{
		"id":          app.ID,
		"status":      app.Status,
		"submittedAt": httpx.ISOTime(app.CreatedAt),
	}
}

// Detail is the reviewer's view of an application.
func Detail(app store.TutorApplication) map[string]any {
	var reviewedAt any
	if app.ReviewedAt != nil {
		reviewedAt = httpx.ISOTime(*app.ReviewedAt)
	}
	return map[string]any{
		"id":                app.ID,
		"fullName":          app.FullName,
		"email":             app.Email,
		"phone":             app.Phone,
		"headline":          app.Headline,
		"courseTitle":       app.CourseTitle,
		"courseDescription": app.CourseDescription,
		"targetAudience":    app.TargetAudience,
		"expertiseArea":     app.ExpertiseArea,
		"experienceYears":   app.ExperienceYears,
		"availability":      app.Availability,
		"status":            app.Status,
		"submittedAt":       httpx.ISOTime(app.CreatedAt),
		"reviewedAt":        reviewedAt,
	}
}
