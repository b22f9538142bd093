package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"metalearn/api/internal/session"
	"metalearn/api/internal/util"
)

func openTestStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	return NewPostgresStore(db), ctx
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	s, ctx := openTestStore(t)

	rolled, err := RollbackMigrations(ctx, s.DB(), migrationsDir, 100)
	if err != nil {
		t.Fatalf("RollbackMigrations() error = %v", err)
	}
	if len(rolled) == 0 {
		t.Fatal("expected migrations to roll back")
	}
	applied, err := ApplyMigrations(ctx, s.DB(), migrationsDir)
	if err != nil {
		t.Fatalf("ApplyMigrations() second pass error = %v", err)
	}
	if len(applied) != len(rolled) {
		t.Fatalf("applied %d migrations, rolled back %d", len(applied), len(rolled))
	}
	again, err := ApplyMigrations(ctx, s.DB(), migrationsDir)
	if err != nil || len(again) != 0 {
		t.Fatalf("ApplyMigrations() idempotent pass = %v, %v", again, err)
	}
}

func seedCourse(t *testing.T, s *PostgresStore, ctx context.Context, slug string) (User, Course) {
	t.Helper()
	user := User{ID: util.NewID(), Email: slug + "@example.com", FullName: "Learner " + slug, Role: "learner"}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	course, err := s.CreateCourse(ctx, Course{Slug: slug, Title: "Course " + slug, PriceCents: 1000, IsPublished: true})
	if err != nil {
		t.Fatalf("CreateCourse() error = %v", err)
	}
	return user, course
}

func TestUserEmailIsUnique(t *testing.T) {
	s, ctx := openTestStore(t)
	user, _ := seedCourse(t, s, ctx, "unique")

	err := s.CreateUser(ctx, User{ID: util.NewID(), Email: user.Email, FullName: "Dup", Role: "learner"})
	if !IsUniqueViolation(err) {
		t.Fatalf("CreateUser() duplicate error = %v, want unique violation", err)
	}
	if _, err := s.GetUserByEmail(ctx, "missing@example.com"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("GetUserByEmail() missing error = %v", err)
	}
}

func TestProgressAndCompletion(t *testing.T) {
	s, ctx := openTestStore(t)
	user, course := seedCourse(t, s, ctx, "progress")

	for _, moduleNo := range []int{0, 1, 1, 2} {
		if _, err := s.CreateTopic(ctx, Topic{CourseID: course.ID, ModuleNo: moduleNo, TopicName: "t", TopicNumber: 1}); err != nil {
			t.Fatalf("CreateTopic() error = %v", err)
		}
	}
	total, err := s.CountModules(ctx, course.ID)
	if err != nil || total != 2 {
		t.Fatalf("CountModules() = %d, %v; want 2", total, err)
	}

	if _, err := s.Enroll(ctx, course.ID, user.ID); err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if _, err := s.UpsertModuleProgress(ctx, ModuleProgress{CourseID: course.ID, UserID: user.ID, ModuleNo: 1, QuizPassed: true, QuizScore: 90}); err != nil {
		t.Fatalf("UpsertModuleProgress() error = %v", err)
	}
	saved, err := s.UpsertModuleProgress(ctx, ModuleProgress{CourseID: course.ID, UserID: user.ID, ModuleNo: 1, QuizPassed: false, QuizScore: 20})
	if err != nil {
		t.Fatalf("UpsertModuleProgress() retry error = %v", err)
	}
	if !saved.QuizPassed || saved.QuizScore != 90 {
		t.Fatalf("expected pass and best score to stick, got %+v", saved)
	}

	completion, err := s.GetCourseCompletion(ctx, user.ID, course.ID)
	if err != nil {
		t.Fatalf("GetCourseCompletion() error = %v", err)
	}
	if completion.CompletedModules != 1 || completion.TotalModules != 2 {
		t.Fatalf("unexpected completion: %+v", completion)
	}
}

func TestLatestActivityBreaksTiesByEventID(t *testing.T) {
	s, ctx := openTestStore(t)
	user, course := seedCourse(t, s, ctx, "activity")

	for _, eventType := range []string{"topic_started", "video_paused", "topic_completed"} {
		if _, err := s.InsertActivityEvent(ctx, ActivityEvent{
			UserID: user.ID, CourseID: course.ID, EventType: eventType, Payload: json.RawMessage(`{"k":1}`),
		}); err != nil {
			t.Fatalf("InsertActivityEvent() error = %v", err)
		}
	}
	// Collapse timestamps so ordering depends on event_id alone.
	if _, err := s.DB().ExecContext(ctx, `UPDATE learner_activity_events SET created_at = NOW()`); err != nil {
		t.Fatalf("align timestamps: %v", err)
	}

	latest, err := s.LatestActivityByLearner(ctx, course.ID)
	if err != nil {
		t.Fatalf("LatestActivityByLearner() error = %v", err)
	}
	if len(latest) != 1 || latest[0].EventType != "topic_completed" {
		t.Fatalf("unexpected latest events: %+v", latest)
	}

	history, err := s.ListActivityHistory(ctx, course.ID, user.ID, 2)
	if err != nil {
		t.Fatalf("ListActivityHistory() error = %v", err)
	}
	if len(history) != 2 || history[0].EventType != "topic_completed" || history[1].EventType != "video_paused" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestSessionRotationCompareAndSwap(t *testing.T) {
	s, ctx := openTestStore(t)
	user, _ := seedCourse(t, s, ctx, "session")

	now := time.Now().UTC().Truncate(time.Millisecond)
	record := session.Record{
		ID: util.NewID(), UserID: user.ID, Role: "learner", JWTID: util.NewID(),
		RefreshTokenHash: "hash-1", ExpiresAt: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateSession(ctx, record); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	next := record
	next.JWTID = util.NewID()
	next.RefreshTokenHash = "hash-2"
	if err := s.RotateSession(ctx, record.ID, record.JWTID, next); err != nil {
		t.Fatalf("RotateSession() error = %v", err)
	}
	if err := s.RotateSession(ctx, record.ID, record.JWTID, next); !errors.Is(err, session.ErrConflict) {
		t.Fatalf("RotateSession() stale error = %v, want ErrConflict", err)
	}

	got, err := s.GetSession(ctx, record.ID)
	if err != nil || got.RefreshTokenHash != "hash-2" {
		t.Fatalf("GetSession() = %+v, %v", got, err)
	}
	if err := s.DeleteSession(ctx, record.ID); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, err := s.GetSession(ctx, record.ID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("GetSession() after delete error = %v", err)
	}
}
