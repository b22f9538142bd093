package app

import (
	"context"
	"errors"

	"metalearn/api/internal/applications"
	"metalearn/api/internal/validation"
)

func applicationError(err error) error {
	var verr *validation.Errors
	if errors.As(err, &verr) {
		return invalidPayload(applications.InvalidPayloadMessage, verr)
	}
	return mapServiceError(err)
}

func (s *Service) SubmitApplication(ctx context.Context, in applications.Input) (map[string]any, error) {
	app, err := s.applications.Submit(ctx, in)
	if err != nil {
		return nil, applicationError(err)
	}
	return map[string]any{"application": applications.Receipt(app)}, nil
}

func (s *Service) ListApplications(ctx context.Context, status string) (map[string]any, error) {
	apps, err := s.applications.List(ctx, status)
	if err != nil {
		return nil, mapServiceError(err)
	}
	items := make([]map[string]any, 0, len(apps))
	for _, app := range apps {
		items = append(items, applications.Detail(app))
	}
	return map[string]any{"applications": items}, nil
}

func (s *Service) ApproveApplication(ctx context.Context, id string) (map[string]any, error) {
	decision, err := s.applications.Approve(ctx, id)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return map[string]any{
		"application":    applications.Detail(decision.Application),
		"userId":         decision.UserID,
		"tutorId":        decision.TutorID,
		"createdAccount": decision.CreatedAccount,
	}, nil
}

func (s *Service) RejectApplication(ctx context.Context, id string) (map[string]any, error) {
	app, err := s.applications.Reject(ctx, id)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return map[string]any{"application": applications.Detail(app)}, nil
}
