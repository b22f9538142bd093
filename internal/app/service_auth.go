package app

import (
	"context"
	"errors"
	"strings"

	"metalearn/api/internal/auth"
	"metalearn/api/internal/authpw"
	"metalearn/api/internal/httpx"
	"metalearn/api/internal/metrics"
	"metalearn/api/internal/session"
	"metalearn/api/internal/store"
)

var errRefreshRejected = httpx.Unauthorized("Invalid or expired refresh token")

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":        user.ID,
		"email":     user.Email,
		"fullName":  user.FullName,
		"role":      user.Role,
		"createdAt": httpx.ISOTime(user.CreatedAt),
	}
}

func sessionPayload(tokens session.Tokens) map[string]any {
	return map[string]any{
		"accessToken":           tokens.AccessToken,
		"accessTokenExpiresAt":  httpx.ISOTime(tokens.AccessTokenExpiresAt),
		"refreshToken":          tokens.RefreshToken,
		"refreshTokenExpiresAt": httpx.ISOTime(tokens.RefreshTokenExpiresAt),
		"sessionId":             tokens.SessionID,
	}
}

func (s *Service) Register(ctx context.Context, req authpw.SignUpRequest) (map[string]any, error) {
	user, err := s.accounts.SignUp(ctx, req)
	metrics.RecordAuthEvent("register", err)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return s.startSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, email, password string) (map[string]any, error) {
	user, err := s.accounts.SignIn(ctx, email, password)
	metrics.RecordAuthEvent("login", err)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return s.startSession(ctx, user)
}

func (s *Service) startSession(ctx context.Context, user store.User) (map[string]any, error) {
	tokens, err := s.sessions.Create(ctx, user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"user":    userPayload(user),
		"session": sessionPayload(tokens),
	}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (map[string]any, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, httpx.BadRequest("refreshToken is required")
	}
	tokens, err := s.sessions.Refresh(ctx, refreshToken)
	metrics.RecordAuthEvent("refresh", err)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
			return nil, errRefreshRejected
		}
		return nil, err
	}
	return map[string]any{"session": sessionPayload(tokens)}, nil
}

// Logout revokes the caller's session. Calling it without a valid access
// token is not an error.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	principal, err := s.sessions.Verify(ctx, accessToken)
	if err != nil {
		return nil
	}
	err = s.sessions.Revoke(ctx, principal.SessionID)
	metrics.RecordAuthEvent("logout", err)
	return err
}

func (s *Service) Me(ctx context.Context, userID string) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, httpx.NotFound("User not found")
		}
		return nil, err
	}
	return map[string]any{"user": userPayload(user)}, nil
}
