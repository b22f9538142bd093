package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Enroll is idempotent; enrolling twice returns the existing row.
func (s *PostgresStore) Enroll(ctx context.Context, courseID, userID string) (Enrollment, error) {
	var enrollment Enrollment
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO enrollments (course_id, user_id, status)
		VALUES ($1, $2, 'active')
		ON CONFLICT (course_id, user_id) DO UPDATE SET status = 'active'
		RETURNING enrollment_id::text, course_id::text, user_id::text, status, enrolled_at
	`, courseID, userID).Scan(&enrollment.ID, &enrollment.CourseID, &enrollment.UserID, &enrollment.Status, &enrollment.EnrolledAt)
	if err != nil {
		return Enrollment{}, fmt.Errorf("enroll: %w", err)
	}
	return enrollment, nil
}

func (s *PostgresStore) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM enrollments WHERE course_id = $1 AND user_id = $2 AND status = 'active')
	`, courseID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return exists, nil
}

// ListEnrollments returns the course roster with learner names, ordered by
// enrollment time.
func (s *PostgresStore) ListEnrollments(ctx context.Context, courseID string, newestFirst bool) ([]Enrollment, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.enrollment_id::text, e.course_id::text, e.user_id::text, e.status, e.enrolled_at, u.full_name, u.email
		FROM enrollments e
		JOIN users u ON u.user_id = e.user_id
		WHERE e.course_id = $1
		ORDER BY e.enrolled_at `+order, courseID)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	items := make([]Enrollment, 0)
	for rows.Next() {
		var item Enrollment
		if err := rows.Scan(&item.ID, &item.CourseID, &item.UserID, &item.Status, &item.EnrolledAt, &item.FullName, &item.Email); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrollments: %w", err)
	}
	return items, nil
}

// ListModuleProgress returns progress rows for a course. An empty userID
// returns rows for every learner.
func (s *PostgresStore) ListModuleProgress(ctx context.Context, courseID, userID string) ([]ModuleProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT course_id::text, user_id::text, module_no, quiz_passed, quiz_score, updated_at
		FROM module_progress
		WHERE course_id = $1 AND ($2 = '' OR user_id::text = $2)
		ORDER BY user_id, module_no
	`, courseID, userID)
	if err != nil {
		return nil, fmt.Errorf("list module progress: %w", err)
	}
	defer rows.Close()

	items := make([]ModuleProgress, 0)
	for rows.Next() {
		var item ModuleProgress
		if err := rows.Scan(&item.CourseID, &item.UserID, &item.ModuleNo, &item.QuizPassed, &item.QuizScore, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan module progress: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate module progress: %w", err)
	}
	return items, nil
}

// UpsertModuleProgress records a quiz attempt. A module once passed stays
// passed and the best score is kept.
func (s *PostgresStore) UpsertModuleProgress(ctx context.Context, progress ModuleProgress) (ModuleProgress, error) {
	var saved ModuleProgress
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO module_progress (course_id, user_id, module_no, quiz_passed, quiz_score, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (course_id, user_id, module_no) DO UPDATE SET
			quiz_passed = module_progress.quiz_passed OR EXCLUDED.quiz_passed,
			quiz_score = GREATEST(module_progress.quiz_score, EXCLUDED.quiz_score),
			updated_at = NOW()
		RETURNING course_id::text, user_id::text, module_no, quiz_passed, quiz_score, updated_at
	`, progress.CourseID, progress.UserID, progress.ModuleNo, progress.QuizPassed, progress.QuizScore).Scan(
		&saved.CourseID, &saved.UserID, &saved.ModuleNo, &saved.QuizPassed, &saved.QuizScore, &saved.UpdatedAt,
	)
	if err != nil {
		return ModuleProgress{}, fmt.Errorf("upsert module progress: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) ListQuizQuestions(ctx context.Context, courseID string, moduleNo int) ([]QuizQuestion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT question_id::text, course_id::text, module_no, prompt, options, correct_option
		FROM quiz_questions
		WHERE course_id = $1 AND module_no = $2
		ORDER BY sort_order ASC, question_id ASC
	`, courseID, moduleNo)
	if err != nil {
		return nil, fmt.Errorf("list quiz questions: %w", err)
	}
	defer rows.Close()

	items := make([]QuizQuestion, 0)
	for rows.Next() {
		var item QuizQuestion
		var options []byte
		if err := rows.Scan(&item.ID, &item.CourseID, &item.ModuleNo, &item.Prompt, &options, &item.CorrectOption); err != nil {
			return nil, fmt.Errorf("scan quiz question: %w", err)
		}
		if err := json.Unmarshal(options, &item.Options); err != nil {
			return nil, fmt.Errorf("decode quiz options %s: %w", item.ID, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quiz questions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateQuizQuestion(ctx context.Context, question QuizQuestion, sortOrder int) (QuizQuestion, error) {
	options, err := json.Marshal(question.Options)
	if err != nil {
		return QuizQuestion{}, fmt.Errorf("encode quiz options: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO quiz_questions (course_id, module_no, prompt, options, correct_option, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING question_id::text
	`, question.CourseID, question.ModuleNo, question.Prompt, options, question.CorrectOption, sortOrder).Scan(&question.ID)
	if err != nil {
		return QuizQuestion{}, fmt.Errorf("insert quiz question: %w", err)
	}
	return question, nil
}

func (s *PostgresStore) ListCart(ctx context.Context, userID string) ([]CartItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.course_id::text, c.slug, c.course_name, c.price_cents, ci.added_at
		FROM cart_items ci
		JOIN courses c ON c.course_id = ci.course_id
		WHERE ci.user_id = $1
		ORDER BY ci.added_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}
	defer rows.Close()

	items := make([]CartItem, 0)
	for rows.Next() {
		var item CartItem
		if err := rows.Scan(&item.CourseID, &item.Slug, &item.Title, &item.PriceCents, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AddToCart(ctx context.Context, userID, courseID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_items (user_id, course_id) VALUES ($1, $2)
		ON CONFLICT (user_id, course_id) DO NOTHING
	`, userID, courseID)
	if err != nil {
		return fmt.Errorf("add to cart: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveFromCart(ctx context.Context, userID, courseID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1 AND course_id = $2`, userID, courseID); err != nil {
		return fmt.Errorf("remove from cart: %w", err)
	}
	return nil
}

// Checkout enrolls the user in every course in the cart and empties it in
// one transaction.
func (s *PostgresStore) Checkout(ctx context.Context, userID string) ([]Enrollment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin checkout tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		INSERT INTO enrollments (course_id, user_id, status)
		SELECT course_id, user_id, 'active' FROM cart_items WHERE user_id = $1
		ON CONFLICT (course_id, user_id) DO UPDATE SET status = 'active'
		RETURNING enrollment_id::text, course_id::text, user_id::text, status, enrolled_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("checkout enroll: %w", err)
	}
	enrollments := make([]Enrollment, 0)
	for rows.Next() {
		var item Enrollment
		if err := rows.Scan(&item.ID, &item.CourseID, &item.UserID, &item.Status, &item.EnrolledAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan checkout enrollment: %w", err)
		}
		enrollments = append(enrollments, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkout enrollments: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return nil, fmt.Errorf("clear cart: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit checkout: %w", err)
	}
	return enrollments, nil
}

// ListCourseCompletions returns every active enrollment of a user with
// passed and total module counts.
func (s *PostgresStore) ListCourseCompletions(ctx context.Context, userID string) ([]CourseCompletion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.course_id::text, c.slug, c.course_name, c.description, c.price_cents, c.is_published,
			c.created_at, c.updated_at, e.enrolled_at,
			(SELECT COUNT(*) FROM module_progress mp
				WHERE mp.course_id = e.course_id AND mp.user_id = e.user_id AND mp.quiz_passed),
			(SELECT COUNT(DISTINCT t.module_no) FROM topics t
				WHERE t.course_id = e.course_id AND t.module_no > 0)
		FROM enrollments e
		JOIN courses c ON c.course_id = e.course_id
		WHERE e.user_id = $1 AND e.status = 'active'
		ORDER BY e.enrolled_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list course completions: %w", err)
	}
	defer rows.Close()

	items := make([]CourseCompletion, 0)
	for rows.Next() {
		var item CourseCompletion
		c := &item.Course
		if err := rows.Scan(
			&c.ID, &c.Slug, &c.Title, &c.Description, &c.PriceCents, &c.IsPublished, &c.CreatedAt, &c.UpdatedAt,
			&item.EnrolledAt, &item.CompletedModules, &item.TotalModules,
		); err != nil {
			return nil, fmt.Errorf("scan course completion: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate course completions: %w", err)
	}
	return items, nil
}

// GetCourseCompletion returns one enrollment row of the dashboard, or
// sql.ErrNoRows when the user is not enrolled.
func (s *PostgresStore) GetCourseCompletion(ctx context.Context, userID, courseID string) (CourseCompletion, error) {
	items, err := s.ListCourseCompletions(ctx, userID)
	if err != nil {
		return CourseCompletion{}, err
	}
	for _, item := range items {
		if item.Course.ID == courseID {
			return item, nil
		}
	}
	return CourseCompletion{}, fmt.Errorf("get course completion: %w", sql.ErrNoRows)
}
