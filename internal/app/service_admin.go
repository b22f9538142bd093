package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"metalearn/api/internal/auth"
	"metalearn/api/internal/contentrepo"
	"metalearn/api/internal/httpx"
	"metalearn/api/internal/search"
	"metalearn/api/internal/store"
	"metalearn/api/internal/validation"
)

const defaultHistoryLimit = 20

type CourseInput struct {
	Slug        string  `json:"slug" validate:"required,min=3,max=120"`
	Title       string  `json:"title" validate:"required,notblank,max=200"`
	Description *string `json:"description" validate:"omitnil,max=4000"`
	PriceCents  int     `json:"priceCents" validate:"min=0"`
	IsPublished bool    `json:"isPublished"`
}

// CoursePatch holds the fields of a partial course update.
type CoursePatch struct {
	Slug        *string `json:"slug" validate:"omitnil,min=3,max=120"`
	Title       *string `json:"title" validate:"omitnil,notblank,max=200"`
	Description *string `json:"description" validate:"omitnil,max=4000"`
	PriceCents  *int    `json:"priceCents" validate:"omitnil,min=0"`
	IsPublished *bool   `json:"isPublished"`
}

type TopicInput struct {
	ModuleNo    int    `json:"moduleNo" validate:"min=0"`
	ModuleName  string `json:"moduleName" validate:"required,max=200"`
	TopicNumber int    `json:"topicNumber" validate:"min=1"`
	TopicName   string `json:"topicName" validate:"required,notblank,max=200"`
	VideoURL    string `json:"videoUrl" validate:"omitempty,url"`
	MediaKey    string `json:"mediaKey" validate:"max=512"`
	IsPreview   bool   `json:"isPreview"`
}

type TopicContentInput struct {
	Title     string          `json:"title" validate:"required,notblank,max=200"`
	Summary   string          `json:"summary" validate:"max=1000"`
	Markdown  string          `json:"markdown" validate:"required"`
	Resources []string        `json:"resources" validate:"dive,url"`
	Meta      json.RawMessage `json:"meta"`
	Message   string          `json:"message" validate:"max=200"`
}

type QuestionInput struct {
	Prompt        string   `json:"prompt" validate:"required,notblank"`
	Options       []string `json:"options" validate:"min=2,max=8,dive,required"`
	CorrectOption int      `json:"correctOption" validate:"min=0"`
	SortOrder     int      `json:"sortOrder"`
}

type AssignTutorInput struct {
	TutorID string `json:"tutorId" validate:"required,uuid"`
	Role    string `json:"role" validate:"omitempty,oneof=lead assistant"`
}

func validationError(err error) error {
	var verr *validation.Errors
	if errors.As(err, &verr) {
		return invalidPayload("Invalid request payload", verr)
	}
	return err
}

func (s *Service) CreateCourse(ctx context.Context, in CourseInput) (map[string]any, error) {
	in.Slug = slugify(in.Slug)
	in.Title = strings.TrimSpace(in.Title)
	if err := validation.Struct(in); err != nil {
		return nil, validationError(err)
	}
	course, err := s.store.CreateCourse(ctx, store.Course{
		Slug:        in.Slug,
		Title:       in.Title,
		Description: in.Description,
		PriceCents:  in.PriceCents,
		IsPublished: in.IsPublished,
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, httpx.Conflict("A course with this slug already exists")
		}
		return nil, err
	}
	s.reindex(course)
	return map[string]any{"course": coursePayload(course)}, nil
}

func (s *Service) UpdateCourse(ctx context.Context, courseID string, patch CoursePatch) (map[string]any, error) {
	if err := validation.Struct(patch); err != nil {
		return nil, validationError(err)
	}
	course, err := s.requireCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if patch.Slug != nil {
		course.Slug = slugify(*patch.Slug)
	}
	if patch.Title != nil {
		course.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		course.Description = patch.Description
	}
	if patch.PriceCents != nil {
		course.PriceCents = *patch.PriceCents
	}
	if patch.IsPublished != nil {
		course.IsPublished = *patch.IsPublished
	}
	updated, err := s.store.UpdateCourse(ctx, course)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, httpx.Conflict("A course with this slug already exists")
		}
		return nil, err
	}
	s.reindex(updated)
	return map[string]any{"course": coursePayload(updated)}, nil
}

// slugify lowercases and joins words with hyphens, dropping anything that
// is not a letter or digit.
func slugify(value string) string {
	fields := strings.FieldsFunc(strings.ToLower(value), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return strings.Join(fields, "-")
}

func (s *Service) reindex(course store.Course) {
	if s.search != nil {
		s.search.IndexCourse(search.RecordFromCourse(course))
	}
}

func (s *Service) CreateTopic(ctx context.Context, courseID string, in TopicInput) (map[string]any, error) {
	if err := validation.Struct(in); err != nil {
		return nil, validationError(err)
	}
	if _, err := s.requireCourse(ctx, courseID); err != nil {
		return nil, err
	}
	topic, err := s.store.CreateTopic(ctx, store.Topic{
		CourseID:    courseID,
		ModuleNo:    in.ModuleNo,
		ModuleName:  strings.TrimSpace(in.ModuleName),
		TopicNumber: in.TopicNumber,
		TopicName:   strings.TrimSpace(in.TopicName),
		VideoURL:    in.VideoURL,
		MediaKey:    strings.TrimSpace(in.MediaKey),
		IsPreview:   in.IsPreview,
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, httpx.Conflict("Topic number already used in this module")
		}
		return nil, err
	}
	return map[string]any{"topic": topicPayload(topic)}, nil
}

func (s *Service) CreateQuestion(ctx context.Context, courseID string, moduleNo int, in QuestionInput) (map[string]any, error) {
	if err := validation.Struct(in); err != nil {
		return nil, validationError(err)
	}
	if in.CorrectOption >= len(in.Options) {
		return nil, invalidPayload("Invalid request payload", map[string]any{
			"formErrors":  []string{},
			"fieldErrors": map[string][]string{"correctOption": {"correctOption must point at one of the options"}},
		})
	}
	if _, err := s.requireCourse(ctx, courseID); err != nil {
		return nil, err
	}
	question, err := s.store.CreateQuizQuestion(ctx, store.QuizQuestion{
		CourseID:      courseID,
		ModuleNo:      moduleNo,
		Prompt:        strings.TrimSpace(in.Prompt),
		Options:       in.Options,
		CorrectOption: in.CorrectOption,
	}, in.SortOrder)
	if err != nil {
		return nil, err
	}
	return map[string]any{"question": map[string]any{
		"questionId":    question.ID,
		"moduleNo":      question.ModuleNo,
		"prompt":        question.Prompt,
		"options":       question.Options,
		"correctOption": question.CorrectOption,
	}}, nil
}

// SaveTopicContent commits a new version of a lesson body, authored by the
// admin making the change.
func (s *Service) SaveTopicContent(ctx context.Context, principal auth.Principal, topicID string, in TopicContentInput) (map[string]any, error) {
	if err := validation.Struct(in); err != nil {
		return nil, validationError(err)
	}
	if len(in.Meta) > 0 && !json.Valid(in.Meta) {
		return nil, httpx.BadRequest("meta must be valid JSON")
	}
	topic, err := s.requireTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}

	author := "MetaLearn Admin"
	if user, err := s.store.GetUserByID(ctx, principal.UserID); err == nil && user.FullName != "" {
		author = user.FullName
	}

	next := contentrepo.Content{
		Title:     strings.TrimSpace(in.Title),
		Summary:   strings.TrimSpace(in.Summary),
		Markdown:  in.Markdown,
		Resources: in.Resources,
		Meta:      in.Meta,
	}
	previous, _, err := s.content.TopicHead(topic.CourseID, topic.ID)
	if err != nil && !errors.Is(err, contentrepo.ErrNotFound) {
		return nil, mapServiceError(err)
	}
	changes := contentrepo.DiffFields(previous, next)

	message := strings.TrimSpace(in.Message)
	if message == "" {
		message = fmt.Sprintf("Update %s", topic.TopicName)
	}
	commit, err := s.content.SaveTopic(topic.CourseID, topic.ID, next, author, message)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return map[string]any{
		"topic":   topicPayload(topic),
		"version": commitPayload(commit),
		"changes": changes,
	}, nil
}

func (s *Service) TopicHistory(ctx context.Context, topicID string, limit int) (map[string]any, error) {
	topic, err := s.requireTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	commits, err := s.content.TopicHistory(topic.CourseID, topic.ID, limit)
	if err != nil && !errors.Is(err, contentrepo.ErrNotFound) {
		return nil, mapServiceError(err)
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, commitPayload(commit))
	}
	return map[string]any{"topicId": topic.ID, "history": items}, nil
}

func (s *Service) AssignTutor(ctx context.Context, courseID string, in AssignTutorInput) (map[string]any, error) {
	if err := validation.Struct(in); err != nil {
		return nil, validationError(err)
	}
	if _, err := s.requireCourse(ctx, courseID); err != nil {
		return nil, err
	}
	role := in.Role
	if role == "" {
		role = "lead"
	}
	assignment, err := s.store.AssignTutor(ctx, courseID, in.TutorID, role)
	if err != nil {
		if store.IsForeignKeyViolation(err) {
			return nil, httpx.NotFound("Tutor not found")
		}
		return nil, err
	}
	return map[string]any{"assignment": map[string]any{
		"courseTutorId": assignment.ID,
		"courseId":      assignment.CourseID,
		"tutorId":       assignment.TutorID,
		"role":          assignment.Role,
		"isActive":      assignment.IsActive,
	}}, nil
}
