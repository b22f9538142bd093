package applications

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"metalearn/api/internal/authpw"
	"metalearn/api/internal/email"
	"metalearn/api/internal/store"
	"metalearn/api/internal/util"
	"metalearn/api/internal/validation"
)

type fakeStore struct {
	apps     map[string]store.TutorApplication
	users    map[string]store.User
	profiles map[string]string
	roles    map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		apps:     map[string]store.TutorApplication{},
		users:    map[string]store.User{},
		profiles: map[string]string{},
		roles:    map[string]string{},
	}
}

func (f *fakeStore) CreateTutorApplication(_ context.Context, app store.TutorApplication) (store.TutorApplication, error) {
	app.ID = util.NewID()
	app.Status = StatusPending
	app.CreatedAt = time.Now()
	f.apps[app.ID] = app
	return app, nil
}

func (f *fakeStore) ListTutorApplications(_ context.Context, status string) ([]store.TutorApplication, error) {
	out := []store.TutorApplication{}
	for _, app := range f.apps {
		if status == "" || app.Status == status {
			out = append(out, app)
		}
	}
	return out, nil
}

func (f *fakeStore) GetTutorApplication(_ context.Context, id string) (store.TutorApplication, error) {
	app, ok := f.apps[id]
	if !ok {
		return store.TutorApplication{}, fmt.Errorf("get tutor application: %w", sql.ErrNoRows)
	}
	return app, nil
}

func (f *fakeStore) SetTutorApplicationStatus(_ context.Context, id, status string) (store.TutorApplication, error) {
	app := f.apps[id]
	app.Status = status
	now := time.Now()
	app.ReviewedAt = &now
	f.apps[id] = app
	return app, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, emailAddr string) (store.User, error) {
	user, ok := f.users[emailAddr]
	if !ok {
		return store.User{}, fmt.Errorf("get user: %w", sql.ErrNoRows)
	}
	return user, nil
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.users[user.Email] = user
	return nil
}

func (f *fakeStore) SetUserRole(_ context.Context, userID, role string) error {
	f.roles[userID] = role
	return nil
}

func (f *fakeStore) EnsureTutorProfile(_ context.Context, userID, _, _ string) (string, error) {
	if id, ok := f.profiles[userID]; ok {
		return id, nil
	}
	f.profiles[userID] = util.NewID()
	return f.profiles[userID], nil
}

type recordingMailer struct {
	received  []string
	decisions []email.ApplicationData
	fail      bool
}

func (m *recordingMailer) SendApplicationReceived(_ context.Context, to, _, _ string) error {
	m.received = append(m.received, to)
	if m.fail {
		return errors.New("smtp down")
	}
	return nil
}

func (m *recordingMailer) SendApplicationDecision(_ context.Context, _ string, data email.ApplicationData) error {
	m.decisions = append(m.decisions, data)
	return nil
}

func validInput() Input {
	years := 4
	return Input{
		FullName:          "Grace Hopper",
		Email:             "Grace@Example.com",
		Headline:          "Compiler pioneer",
		CourseTitle:       "Intro to COBOL",
		CourseDescription: "Learn the language that runs the banks.",
		TargetAudience:    "Curious engineers",
		ExpertiseArea:     "Compilers",
		ExperienceYears:   &years,
		Availability:      "Weekends",
	}
}

func TestSubmitValidates(t *testing.T) {
	svc := NewService(newFakeStore(), nil)
	in := validInput()
	in.FullName = "Al"
	short := "123"
	in.Phone = &short

	_, err := svc.Submit(context.Background(), in)
	var verr *validation.Errors
	if !errors.As(err, &verr) {
		t.Fatalf("Submit() error = %v, want validation errors", err)
	}
	for _, field := range []string{"fullName", "phone"} {
		if len(verr.FieldErrors[field]) == 0 {
			t.Errorf("missing field error for %s: %+v", field, verr.FieldErrors)
		}
	}
}

func TestSubmitSurvivesMailFailure(t *testing.T) {
	mailer := &recordingMailer{fail: true}
	svc := NewService(newFakeStore(), mailer)
	app, err := svc.Submit(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if app.Status != StatusPending || len(mailer.received) != 1 {
		t.Fatalf("unexpected result %+v, mails %v", app, mailer.received)
	}
}

func TestApproveCreatesAccount(t *testing.T) {
	fs := newFakeStore()
	mailer := &recordingMailer{}
	svc := NewService(fs, mailer)
	app, err := svc.Submit(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	decision, err := svc.Approve(context.Background(), app.ID)
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if !decision.CreatedAccount || decision.TutorID == "" || decision.Application.Status != StatusApproved {
		t.Fatalf("unexpected decision %+v", decision)
	}
	user, ok := fs.users["grace@example.com"]
	if !ok || user.Role != "tutor" {
		t.Fatalf("created user = %+v", user)
	}
	if len(mailer.decisions) != 1 || mailer.decisions[0].TemporaryPassword == "" {
		t.Fatalf("decision emails = %+v", mailer.decisions)
	}
	if !authpw.VerifyPassword(mailer.decisions[0].TemporaryPassword, user.PasswordHash) {
		t.Fatal("temporary password does not match stored hash")
	}

	if _, err := svc.Approve(context.Background(), app.ID); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("second Approve() error = %v", err)
	}
}

func TestApprovePromotesExistingLearner(t *testing.T) {
	fs := newFakeStore()
	fs.users["grace@example.com"] = store.User{ID: "u-1", Email: "grace@example.com", Role: "learner"}
	mailer := &recordingMailer{}
	svc := NewService(fs, mailer)
	app, _ := svc.Submit(context.Background(), validInput())

	decision, err := svc.Approve(context.Background(), app.ID)
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if decision.CreatedAccount || fs.roles["u-1"] != "tutor" {
		t.Fatalf("decision %+v roles %v", decision, fs.roles)
	}
	if mailer.decisions[0].TemporaryPassword != "" {
		t.Fatal("existing accounts should not get a temporary password")
	}
}

func TestRejectAndNotFound(t *testing.T) {
	svc := NewService(newFakeStore(), nil)
	app, _ := svc.Submit(context.Background(), validInput())

	rejected, err := svc.Reject(context.Background(), app.ID)
	if err != nil || rejected.Status != StatusRejected {
		t.Fatalf("Reject() = %+v, %v", rejected, err)
	}
	if _, err := svc.Reject(context.Background(), util.NewID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Reject(unknown) error = %v", err)
	}
	if _, err := svc.Approve(context.Background(), "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Approve(bad id) error = %v", err)
	}
	if _, err := svc.List(context.Background(), "archived"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("List(archived) error = %v", err)
	}
}
