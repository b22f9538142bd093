package store

import (
	"context"
	"fmt"
)

const applicationColumns = `application_id::text, full_name, email, phone, headline, course_title, course_description,
	target_audience, expertise_area, experience_years, availability, status, reviewed_at, created_at`

func scanApplication(row interface{ Scan(...any) error }) (TutorApplication, error) {
	var app TutorApplication
	err := row.Scan(
		&app.ID, &app.FullName, &app.Email, &app.Phone, &app.Headline, &app.CourseTitle, &app.CourseDescription,
		&app.TargetAudience, &app.ExpertiseArea, &app.ExperienceYears, &app.Availability, &app.Status,
		&app.ReviewedAt, &app.CreatedAt,
	)
	return app, err
}

func (s *PostgresStore) CreateTutorApplication(ctx context.Context, app TutorApplication) (TutorApplication, error) {
	created, err := scanApplication(s.db.QueryRowContext(ctx, `
		INSERT INTO tutor_applications
			(full_name, email, phone, headline, course_title, course_description, target_audience,
			 expertise_area, experience_years, availability)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+applicationColumns,
		app.FullName, app.Email, app.Phone, app.Headline, app.CourseTitle, app.CourseDescription,
		app.TargetAudience, app.ExpertiseArea, app.ExperienceYears, app.Availability,
	))
	if err != nil {
		return TutorApplication{}, fmt.Errorf("insert tutor application: %w", err)
	}
	return created, nil
}

// ListTutorApplications filters by status unless status is empty.
func (s *PostgresStore) ListTutorApplications(ctx context.Context, status string) ([]TutorApplication, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+applicationColumns+`
		FROM tutor_applications
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list tutor applications: %w", err)
	}
	defer rows.Close()

	items := make([]TutorApplication, 0)
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tutor application: %w", err)
		}
		items = append(items, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tutor applications: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTutorApplication(ctx context.Context, id string) (TutorApplication, error) {
	app, err := scanApplication(s.db.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM tutor_applications WHERE application_id = $1`, id))
	if err != nil {
		return TutorApplication{}, fmt.Errorf("get tutor application: %w", err)
	}
	return app, nil
}

func (s *PostgresStore) SetTutorApplicationStatus(ctx context.Context, id, status string) (TutorApplication, error) {
	app, err := scanApplication(s.db.QueryRowContext(ctx, `
		UPDATE tutor_applications
		SET status = $2, reviewed_at = NOW()
		WHERE application_id = $1
		RETURNING `+applicationColumns, id, status))
	if err != nil {
		return TutorApplication{}, fmt.Errorf("set tutor application status: %w", err)
	}
	return app, nil
}
