package store

import (
	"context"
	"fmt"
)

const activityColumns = `ev.event_id::text, ev.user_id::text, ev.course_id::text, ev.module_no, ev.topic_id::text,
	t.topic_name, ev.event_type, ev.payload, ev.derived_status, ev.status_reason, ev.created_at`

func scanActivity(row interface{ Scan(...any) error }) (ActivityEvent, error) {
	var event ActivityEvent
	var payload []byte
	err := row.Scan(
		&event.ID, &event.UserID, &event.CourseID, &event.ModuleNo, &event.TopicID,
		&event.TopicTitle, &event.EventType, &payload, &event.DerivedStatus, &event.StatusReason, &event.CreatedAt,
	)
	if err != nil {
		return ActivityEvent{}, err
	}
	event.Payload = payload
	return event, nil
}

func (s *PostgresStore) InsertActivityEvent(ctx context.Context, event ActivityEvent) (ActivityEvent, error) {
	payload := []byte(event.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	saved, err := scanActivity(s.db.QueryRowContext(ctx, `
		WITH ev AS (
			INSERT INTO learner_activity_events
				(user_id, course_id, module_no, topic_id, event_type, payload, derived_status, status_reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING *
		)
		SELECT `+activityColumns+`
		FROM ev
		LEFT JOIN topics t ON t.topic_id = ev.topic_id
	`, event.UserID, event.CourseID, event.ModuleNo, event.TopicID, event.EventType, payload, event.DerivedStatus, event.StatusReason))
	if err != nil {
		return ActivityEvent{}, fmt.Errorf("insert activity event: %w", err)
	}
	return saved, nil
}

// LatestActivityByLearner returns the newest event of every learner in a
// course. Ties on created_at fall back to the higher event id.
func (s *PostgresStore) LatestActivityByLearner(ctx context.Context, courseID string) ([]ActivityEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (ev.user_id) `+activityColumns+`
		FROM learner_activity_events ev
		LEFT JOIN topics t ON t.topic_id = ev.topic_id
		WHERE ev.course_id = $1
		ORDER BY ev.user_id, ev.created_at DESC, ev.event_id DESC
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("latest activity: %w", err)
	}
	defer rows.Close()
	return collectActivity(rows)
}

// ListActivityHistory returns one learner's events in a course, newest first.
func (s *PostgresStore) ListActivityHistory(ctx context.Context, courseID, userID string, limit int) ([]ActivityEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM learner_activity_events ev
		LEFT JOIN topics t ON t.topic_id = ev.topic_id
		WHERE ev.course_id = $1 AND ev.user_id = $2
		ORDER BY ev.created_at DESC, ev.event_id DESC
		LIMIT $3
	`, courseID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("activity history: %w", err)
	}
	defer rows.Close()
	return collectActivity(rows)
}

type scannableRows interface {
	Next() bool
	Scan(...any) error
	Err() error
}

func collectActivity(rows scannableRows) ([]ActivityEvent, error) {
	items := make([]ActivityEvent, 0)
	for rows.Next() {
		event, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity event: %w", err)
		}
		items = append(items, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity events: %w", err)
	}
	return items, nil
}
