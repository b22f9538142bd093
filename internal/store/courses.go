package store

import (
	"context"
	"fmt"
)

const courseColumns = `course_id::text, slug, course_name, description, price_cents, is_published, created_at, updated_at`

func scanCourse(row interface{ Scan(...any) error }) (Course, error) {
	var course Course
	err := row.Scan(
		&course.ID, &course.Slug, &course.Title, &course.Description,
		&course.PriceCents, &course.IsPublished, &course.CreatedAt, &course.UpdatedAt,
	)
	return course, err
}

func (s *PostgresStore) ListCourses(ctx context.Context, publishedOnly bool) ([]Course, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+courseColumns+`
		FROM courses
		WHERE is_published OR NOT $1
		ORDER BY created_at DESC
	`, publishedOnly)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	items := make([]Course, 0)
	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		items = append(items, course)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate courses: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCourse(ctx context.Context, courseID string) (Course, error) {
	course, err := scanCourse(s.db.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE course_id = $1`, courseID))
	if err != nil {
		return Course{}, fmt.Errorf("get course: %w", err)
	}
	return course, nil
}

func (s *PostgresStore) GetCourseBySlug(ctx context.Context, slug string) (Course, error) {
	course, err := scanCourse(s.db.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE slug = $1`, slug))
	if err != nil {
		return Course{}, fmt.Errorf("get course by slug: %w", err)
	}
	return course, nil
}

func (s *PostgresStore) CreateCourse(ctx context.Context, course Course) (Course, error) {
	created, err := scanCourse(s.db.QueryRowContext(ctx, `
		INSERT INTO courses (slug, course_name, description, price_cents, is_published)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+courseColumns,
		course.Slug, course.Title, course.Description, course.PriceCents, course.IsPublished,
	))
	if err != nil {
		return Course{}, fmt.Errorf("insert course: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateCourse(ctx context.Context, course Course) (Course, error) {
	updated, err := scanCourse(s.db.QueryRowContext(ctx, `
		UPDATE courses
		SET slug = $2, course_name = $3, description = $4, price_cents = $5, is_published = $6, updated_at = NOW()
		WHERE course_id = $1
		RETURNING `+courseColumns,
		course.ID, course.Slug, course.Title, course.Description, course.PriceCents, course.IsPublished,
	))
	if err != nil {
		return Course{}, fmt.Errorf("update course: %w", err)
	}
	return updated, nil
}

// IsActiveTutor reports whether userID holds an active assignment on courseID.
func (s *PostgresStore) IsActiveTutor(ctx context.Context, userID, courseID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1
			FROM course_tutors ct
			JOIN tutor_profiles tp ON tp.tutor_id = ct.tutor_id
			WHERE ct.course_id = $1 AND ct.is_active AND tp.user_id = $2
		)
	`, courseID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check tutor assignment: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListTutorCourses(ctx context.Context, userID string) ([]TutorCourse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.course_id::text, c.slug, c.course_name, c.description, c.price_cents, c.is_published,
			c.created_at, c.updated_at, ct.role
		FROM course_tutors ct
		JOIN tutor_profiles tp ON tp.tutor_id = ct.tutor_id
		JOIN courses c ON c.course_id = ct.course_id
		WHERE ct.is_active AND tp.user_id = $1
		ORDER BY c.course_name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tutor courses: %w", err)
	}
	defer rows.Close()

	items := make([]TutorCourse, 0)
	for rows.Next() {
		var item TutorCourse
		if err := rows.Scan(
			&item.ID, &item.Slug, &item.Title, &item.Description, &item.PriceCents, &item.IsPublished,
			&item.CreatedAt, &item.UpdatedAt, &item.Role,
		); err != nil {
			return nil, fmt.Errorf("scan tutor course: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tutor courses: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AssignTutor(ctx context.Context, courseID, tutorID, role string) (CourseTutor, error) {
	var assignment CourseTutor
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO course_tutors (course_id, tutor_id, role, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (course_id, tutor_id) DO UPDATE SET role = EXCLUDED.role, is_active = TRUE
		RETURNING course_tutor_id::text, course_id::text, tutor_id::text, role, is_active
	`, courseID, tutorID, role).Scan(&assignment.ID, &assignment.CourseID, &assignment.TutorID, &assignment.Role, &assignment.IsActive)
	if err != nil {
		return CourseTutor{}, fmt.Errorf("assign tutor: %w", err)
	}
	return assignment, nil
}

const topicColumns = `topic_id::text, course_id::text, module_no, module_name, topic_number, topic_name, video_url, media_key, is_preview`

func scanTopic(row interface{ Scan(...any) error }) (Topic, error) {
	var topic Topic
	err := row.Scan(
		&topic.ID, &topic.CourseID, &topic.ModuleNo, &topic.ModuleName, &topic.TopicNumber,
		&topic.TopicName, &topic.VideoURL, &topic.MediaKey, &topic.IsPreview,
	)
	return topic, err
}

func (s *PostgresStore) ListTopics(ctx context.Context, courseID string) ([]Topic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+topicColumns+`
		FROM topics
		WHERE course_id = $1
		ORDER BY module_no ASC, topic_number ASC
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	items := make([]Topic, 0)
	for rows.Next() {
		topic, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		items = append(items, topic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTopic(ctx context.Context, topicID string) (Topic, error) {
	topic, err := scanTopic(s.db.QueryRowContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE topic_id = $1`, topicID))
	if err != nil {
		return Topic{}, fmt.Errorf("get topic: %w", err)
	}
	return topic, nil
}

func (s *PostgresStore) CreateTopic(ctx context.Context, topic Topic) (Topic, error) {
	created, err := scanTopic(s.db.QueryRowContext(ctx, `
		INSERT INTO topics (course_id, module_no, module_name, topic_number, topic_name, video_url, media_key, is_preview)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+topicColumns,
		topic.CourseID, topic.ModuleNo, topic.ModuleName, topic.TopicNumber, topic.TopicName,
		topic.VideoURL, topic.MediaKey, topic.IsPreview,
	))
	if err != nil {
		return Topic{}, fmt.Errorf("insert topic: %w", err)
	}
	return created, nil
}

// CountModules counts the distinct positive module numbers of a course.
func (s *PostgresStore) CountModules(ctx context.Context, courseID string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT module_no) FROM topics WHERE course_id = $1 AND module_no > 0
	`, courseID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count modules: %w", err)
	}
	return total, nil
}
