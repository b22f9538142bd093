package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"metalearn/api/internal/auth"
	"metalearn/api/internal/contentrepo"
	"metalearn/api/internal/httpx"
	"metalearn/api/internal/llm"
	"metalearn/api/internal/store"
)

const maxLessonContext = 6000

func (s *Service) ListTopics(ctx context.Context, courseID string) (map[string]any, error) {
	if _, err := s.requireCourse(ctx, courseID); err != nil {
		return nil, err
	}
	topics, err := s.store.ListTopics(ctx, courseID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(topics))
	for _, topic := range topics {
		items = append(items, map[string]any{
			"topicId":    topic.ID,
			"topicName":  topic.TopicName,
			"moduleNo":   topic.ModuleNo,
			"moduleName": topic.ModuleName,
		})
	}
	return map[string]any{"topics": items}, nil
}

// unlockTopic loads a topic the principal is allowed to open.
func (s *Service) unlockTopic(ctx context.Context, principal *auth.Principal, topicID string) (store.Topic, error) {
	topic, err := s.requireTopic(ctx, topicID)
	if err != nil {
		return store.Topic{}, err
	}
	if topic.IsPreview {
		return topic, nil
	}
	ok, err := s.canAccessCourse(ctx, principal, topic.CourseID)
	if err != nil {
		return store.Topic{}, err
	}
	if !ok {
		return store.Topic{}, errLessonLocked
	}
	return topic, nil
}

func topicPayload(topic store.Topic) map[string]any {
	return map[string]any{
		"topicId":     topic.ID,
		"courseId":    topic.CourseID,
		"moduleNo":    topic.ModuleNo,
		"moduleName":  topic.ModuleName,
		"topicNumber": topic.TopicNumber,
		"topicName":   topic.TopicName,
		"isPreview":   topic.IsPreview,
	}
}

func commitPayload(commit contentrepo.Commit) map[string]any {
	return map[string]any{
		"hash":      commit.Hash,
		"message":   commit.Message,
		"author":    commit.Author,
		"createdAt": httpx.ISOTime(commit.CreatedAt),
	}
}

// TopicContent returns the published lesson body.
func (s *Service) TopicContent(ctx context.Context, principal *auth.Principal, topicID string) (map[string]any, error) {
	topic, err := s.unlockTopic(ctx, principal, topicID)
	if err != nil {
		return nil, err
	}
	content, commit, err := s.content.TopicHead(topic.CourseID, topic.ID)
	if err != nil {
		if errors.Is(err, contentrepo.ErrNotFound) {
			return nil, errContentMissing
		}
		return nil, mapServiceError(err)
	}
	return map[string]any{
		"topic":   topicPayload(topic),
		"content": content,
		"version": commitPayload(commit),
	}, nil
}

func (s *Service) TopicMedia(ctx context.Context, principal *auth.Principal, topicID string) (map[string]any, error) {
	topic, err := s.unlockTopic(ctx, principal, topicID)
	if err != nil {
		return nil, err
	}
	link, err := s.media.TopicLink(ctx, topic)
	if err != nil {
		return nil, err
	}
	if link.URL == "" {
		return nil, httpx.NotFound("This lesson has no video")
	}
	return map[string]any{"media": link}, nil
}

// AskAssistant answers a learner question grounded in the lesson they are
// looking at.
func (s *Service) AskAssistant(ctx context.Context, principal *auth.Principal, topicID, question string) (map[string]any, error) {
	question = strings.TrimSpace(question)
	if strings.TrimSpace(topicID) == "" {
		return nil, httpx.BadRequest("topicId is required")
	}
	if question == "" {
		return nil, httpx.BadRequest("question is required")
	}
	if s.assistant == nil {
		return nil, httpx.Unavailable(llm.ErrUnavailable.Error())
	}

	topic, err := s.unlockTopic(ctx, principal, topicID)
	if err != nil {
		return nil, err
	}

	answer, err := s.assistant.AssistantAnswer(ctx, s.lessonContext(ctx, topic), question)
	if err != nil {
		if errors.Is(err, llm.ErrUnavailable) {
			return nil, httpx.Unavailable(llm.ErrUnavailable.Error())
		}
		return nil, fmt.Errorf("assistant answer: %w", err)
	}
	return map[string]any{"answer": answer}, nil
}

func (s *Service) lessonContext(ctx context.Context, topic store.Topic) string {
	var b strings.Builder
	if course, err := s.store.GetCourse(ctx, topic.CourseID); err == nil {
		fmt.Fprintf(&b, "Course: %s\n", course.Title)
	}
	fmt.Fprintf(&b, "Module %d: %s\nTopic %d: %s\n", topic.ModuleNo, topic.ModuleName, topic.TopicNumber, topic.TopicName)

	if s.content != nil {
		if content, _, err := s.content.TopicHead(topic.CourseID, topic.ID); err == nil {
			if content.Summary != "" {
				fmt.Fprintf(&b, "Summary: %s\n", content.Summary)
			}
			body := content.Markdown
			if len(body) > maxLessonContext {
				body = body[:maxLessonContext]
			}
			if body != "" {
				b.WriteString("\n")
				b.WriteString(body)
			}
		}
	}
	return strings.TrimSpace(b.String())
}
