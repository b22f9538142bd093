package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"metalearn/api/internal/metrics"
	"metalearn/api/internal/store"
)

const (
	DefaultHistoryLimit = 40
	MaxHistoryLimit     = 200
)

var (
	ErrUnknownEvent    = errors.New("unknown activity event type")
	ErrMissingCourseID = errors.New("courseId is required")
	ErrInvalidPayload  = errors.New("payload must be a JSON object")
)

type Store interface {
	InsertActivityEvent(ctx context.Context, event store.ActivityEvent) (store.ActivityEvent, error)
	LatestActivityByLearner(ctx context.Context, courseID string) ([]store.ActivityEvent, error)
	ListActivityHistory(ctx context.Context, courseID, userID string, limit int) ([]store.ActivityEvent, error)
}

// Event is a telemetry event as submitted by a learner client.
type Event struct {
	CourseID  string          `json:"courseId"`
	ModuleNo  *int            `json:"moduleNo"`
	TopicID   *string         `json:"topicId"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

// LearnerEvent is the wire form of a stored event.
type LearnerEvent struct {
	EventID       string          `json:"eventId"`
	UserID        string          `json:"userId"`
	CourseID      string          `json:"courseId"`
	ModuleNo      *int            `json:"moduleNo"`
	TopicID       *string         `json:"topicId"`
	TopicTitle    *string         `json:"topicTitle"`
	EventType     string          `json:"eventType"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	DerivedStatus *string         `json:"derivedStatus"`
	StatusReason  *string         `json:"statusReason"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type Summary struct {
	Engaged         int `json:"engaged"`
	AttentionDrift  int `json:"attention_drift"`
	ContentFriction int `json:"content_friction"`
	Unknown         int `json:"unknown"`
}

type CourseActivity struct {
	Learners []LearnerEvent `json:"learners"`
	Summary  Summary        `json:"summary"`
}

type Service struct {
	store Store
}

func NewService(s Store) *Service {
	return &Service{store: s}
}

// Record validates an event, derives its status and stores it.
func (s *Service) Record(ctx context.Context, userID string, event Event) (LearnerEvent, error) {
	event.CourseID = strings.TrimSpace(event.CourseID)
	event.EventType = strings.TrimSpace(event.EventType)
	if event.CourseID == "" {
		return LearnerEvent{}, ErrMissingCourseID
	}
	if !IsKnownEvent(event.EventType) {
		return LearnerEvent{}, fmt.Errorf("%w: %q", ErrUnknownEvent, event.EventType)
	}
	payload := event.Payload
	if len(payload) == 0 || string(payload) == "null" {
		payload = json.RawMessage("{}")
	} else if !isObject(payload) {
		return LearnerEvent{}, ErrInvalidPayload
	}
	if event.TopicID != nil && strings.TrimSpace(*event.TopicID) == "" {
		event.TopicID = nil
	}

	status, reason := Derive(event.EventType, payload)
	row := store.ActivityEvent{
		UserID:        userID,
		CourseID:      event.CourseID,
		ModuleNo:      event.ModuleNo,
		TopicID:       event.TopicID,
		EventType:     event.EventType,
		Payload:       []byte(payload),
		DerivedStatus: &status,
	}
	if reason != "" {
		row.StatusReason = &reason
	}

	saved, err := s.store.InsertActivityEvent(ctx, row)
	if err != nil {
		return LearnerEvent{}, fmt.Errorf("record activity: %w", err)
	}
	metrics.RecordActivityEvent(event.EventType)
	return toLearnerEvent(saved), nil
}

// CourseLearners returns each learner's latest event with a status summary.
func (s *Service) CourseLearners(ctx context.Context, courseID string) (CourseActivity, error) {
	rows, err := s.store.LatestActivityByLearner(ctx, courseID)
	if err != nil {
		return CourseActivity{}, fmt.Errorf("load course activity: %w", err)
	}
	out := CourseActivity{Learners: make([]LearnerEvent, 0, len(rows))}
	for _, row := range rows {
		event := toLearnerEvent(row)
		event.Payload = nil
		out.Learners = append(out.Learners, event)
		status := StatusUnknown
		if row.DerivedStatus != nil {
			status = *row.DerivedStatus
		}
		switch status {
		case StatusEngaged:
			out.Summary.Engaged++
		case StatusAttentionDrift:
			out.Summary.AttentionDrift++
		case StatusContentFriction:
			out.Summary.ContentFriction++
		default:
			out.Summary.Unknown++
		}
	}
	return out, nil
}

// History returns a learner's events newest first.
func (s *Service) History(ctx context.Context, userID, courseID string, limit int) ([]LearnerEvent, error) {
	rows, err := s.store.ListActivityHistory(ctx, courseID, userID, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("load activity history: %w", err)
	}
	events := make([]LearnerEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, toLearnerEvent(row))
	}
	return events, nil
}

// ClampLimit applies the default for non-positive limits and caps the rest.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return min(limit, MaxHistoryLimit)
}

func toLearnerEvent(row store.ActivityEvent) LearnerEvent {
	return LearnerEvent{
		EventID:       row.ID,
		UserID:        row.UserID,
		CourseID:      row.CourseID,
		ModuleNo:      row.ModuleNo,
		TopicID:       row.TopicID,
		TopicTitle:    row.TopicTitle,
		EventType:     row.EventType,
		Payload:       []byte(row.Payload),
		DerivedStatus: row.DerivedStatus,
		StatusReason:  row.StatusReason,
		CreatedAt:     row.CreatedAt,
	}
}

func isObject(raw json.RawMessage) bool {
	var object map[string]any
	return json.Unmarshal(raw, &object) == nil
}
