package app

import (
	"context"
	"fmt"
	"sort"

	"metalearn/api/internal/auth"
	"metalearn/api/internal/export"
	"metalearn/api/internal/httpx"
	"metalearn/api/internal/rbac"
	"metalearn/api/internal/search"
	"metalearn/api/internal/store"
	"metalearn/api/internal/util"
)

func coursePayload(course store.Course) map[string]any {
	description := ""
	if course.Description != nil {
		description = *course.Description
	}
	return map[string]any{
		"courseId":    course.ID,
		"slug":        course.Slug,
		"title":       course.Title,
		"description": description,
		"priceCents":  course.PriceCents,
		"isPublished": course.IsPublished,
		"createdAt":   httpx.ISOTime(course.CreatedAt),
		"updatedAt":   httpx.ISOTime(course.UpdatedAt),
	}
}

func isStaff(principal *auth.Principal) bool {
	return principal != nil && rbac.IsStaff(principal.Role)
}

func (s *Service) ListCourses(ctx context.Context, principal *auth.Principal) (map[string]any, error) {
	courses, err := s.store.ListCourses(ctx, !isStaff(principal))
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(courses))
	for _, course := range courses {
		items = append(items, coursePayload(course))
	}
	return map[string]any{"courses": items}, nil
}

// CourseDetail resolves a course by id or slug and groups its topics into
// modules. Unpublished courses are hidden from learners.
func (s *Service) CourseDetail(ctx context.Context, principal *auth.Principal, idOrSlug string) (map[string]any, error) {
	var (
		course store.Course
		err    error
	)
	if util.IsID(idOrSlug) {
		course, err = s.store.GetCourse(ctx, idOrSlug)
	} else {
		course, err = s.store.GetCourseBySlug(ctx, idOrSlug)
	}
	if err != nil {
		if store.IsNotFound(err) {
			return nil, errCourseNotFound
		}
		return nil, err
	}
	if !course.IsPublished && !isStaff(principal) {
		return nil, errCourseNotFound
	}

	topics, err := s.store.ListTopics(ctx, course.ID)
	if err != nil {
		return nil, err
	}
	unlocked, err := s.canAccessCourse(ctx, principal, course.ID)
	if err != nil {
		return nil, err
	}

	enrolled := false
	if principal != nil {
		if enrolled, err = s.store.IsEnrolled(ctx, principal.UserID, course.ID); err != nil {
			return nil, err
		}
	}

	return map[string]any{
		"course":   coursePayload(course),
		"modules":  groupModules(topics, unlocked),
		"enrolled": enrolled,
	}, nil
}

func groupModules(topics []store.Topic, unlocked bool) []map[string]any {
	byModule := map[int][]map[string]any{}
	names := map[int]string{}
	for _, topic := range topics {
		names[topic.ModuleNo] = topic.ModuleName
		byModule[topic.ModuleNo] = append(byModule[topic.ModuleNo], map[string]any{
			"topicId":     topic.ID,
			"topicName":   topic.TopicName,
			"topicNumber": topic.TopicNumber,
			"isPreview":   topic.IsPreview,
			"locked":      !unlocked && !topic.IsPreview,
		})
	}
	moduleNos := make([]int, 0, len(byModule))
	for no := range byModule {
		moduleNos = append(moduleNos, no)
	}
	sort.Ints(moduleNos)

	modules := make([]map[string]any, 0, len(moduleNos))
	for _, no := range moduleNos {
		modules = append(modules, map[string]any{
			"moduleNo":   no,
			"moduleName": names[no],
			"topics":     byModule[no],
		})
	}
	return modules
}

func (s *Service) Enroll(ctx context.Context, userID, courseID string) (map[string]any, error) {
	course, err := s.requireCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !course.IsPublished {
		return nil, errCourseNotFound
	}
	enrollment, err := s.store.Enroll(ctx, course.ID, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"enrollment": map[string]any{
			"enrollmentId": enrollment.ID,
			"courseId":     enrollment.CourseID,
			"status":       enrollment.Status,
			"enrolledAt":   httpx.ISOTime(enrollment.EnrolledAt),
		},
	}, nil
}

func (s *Service) SearchCourses(ctx context.Context, principal *auth.Principal, text string, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(ctx, search.Query{
		Text:          text,
		PublishedOnly: !isStaff(principal),
		Limit:         limit,
		Offset:        offset,
	})
}

// Certificate prints the completion certificate for a finished course.
func (s *Service) Certificate(ctx context.Context, userID, courseID string) (*export.Result, error) {
	if _, err := s.requireCourse(ctx, courseID); err != nil {
		return nil, err
	}
	result, err := s.certificates.Export(ctx, export.Request{UserID: userID, CourseID: courseID})
	if err != nil {
		return nil, fmt.Errorf("certificate: %w", mapServiceError(err))
	}
	return result, nil
}
