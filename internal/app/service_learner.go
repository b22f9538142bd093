package app

import (
	"context"

	"metalearn/api/internal/httpx"
	"metalearn/api/internal/insights"
	"metalearn/api/internal/util"
)

func (s *Service) Cart(ctx context.Context, userID string) (map[string]any, error) {
	items, err := s.store.ListCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	total := 0
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		total += item.PriceCents
		out = append(out, map[string]any{
			"courseId":   item.CourseID,
			"slug":       item.Slug,
			"title":      item.Title,
			"priceCents": item.PriceCents,
			"addedAt":    httpx.ISOTime(item.AddedAt),
		})
	}
	return map[string]any{"items": out, "totalCents": total}, nil
}

func (s *Service) AddToCart(ctx context.Context, userID, courseID string) (map[string]any, error) {
	course, err := s.requireCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !course.IsPublished {
		return nil, errCourseNotFound
	}
	enrolled, err := s.store.IsEnrolled(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	if enrolled {
		return nil, httpx.Conflict("Already enrolled in this course")
	}
	if err := s.store.AddToCart(ctx, userID, courseID); err != nil {
		return nil, err
	}
	return s.Cart(ctx, userID)
}

func (s *Service) RemoveFromCart(ctx context.Context, userID, courseID string) (map[string]any, error) {
	if !util.IsID(courseID) {
		return s.Cart(ctx, userID)
	}
	if err := s.store.RemoveFromCart(ctx, userID, courseID); err != nil {
		return nil, err
	}
	return s.Cart(ctx, userID)
}

// Checkout enrolls the learner in every course in the cart.
func (s *Service) Checkout(ctx context.Context, userID string) (map[string]any, error) {
	items, err := s.store.ListCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, httpx.BadRequest("Cart is empty")
	}
	enrollments, err := s.store.Checkout(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(enrollments))
	for _, e := range enrollments {
		out = append(out, map[string]any{
			"enrollmentId": e.ID,
			"courseId":     e.CourseID,
			"status":       e.Status,
			"enrolledAt":   httpx.ISOTime(e.EnrolledAt),
		})
	}
	return map[string]any{"enrollments": out}, nil
}

// Dashboard lists the learner's courses with completion percentages.
func (s *Service) Dashboard(ctx context.Context, userID string) (map[string]any, error) {
	completions, err := s.store.ListCourseCompletions(ctx, userID)
	if err != nil {
		return nil, err
	}
	courses := make([]map[string]any, 0, len(completions))
	completed := 0
	for _, c := range completions {
		percent := insights.CompletionPercent(c.CompletedModules, c.TotalModules)
		if percent == 100 {
			completed++
		}
		courses = append(courses, map[string]any{
			"courseId":         c.Course.ID,
			"slug":             c.Course.Slug,
			"title":            c.Course.Title,
			"enrolledAt":       httpx.ISOTime(c.EnrolledAt),
			"completedModules": c.CompletedModules,
			"totalModules":     c.TotalModules,
			"percent":          percent,
			"certificateReady": c.TotalModules > 0 && percent == 100,
		})
	}
	return map[string]any{
		"courses": courses,
		"stats": map[string]any{
			"enrolled":  len(completions),
			"completed": completed,
		},
	}, nil
}
