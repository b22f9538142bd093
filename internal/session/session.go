// Package session issues, verifies, rotates and revokes login sessions.
//
// A session is one row (or Redis key) holding the hash of the current
// refresh token and the jwt id shared by the current access/refresh pair.
// Refreshing rotates both in place, so the session id is stable for the
// lifetime of a login while every earlier token stops working.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"metalearn/api/internal/auth"
	"metalearn/api/internal/logging"
	"metalearn/api/internal/util"
)

var (
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned by Store.Rotate when the stored jwt id no
	// longer matches, i.e. another refresh won the race.
	ErrConflict = errors.New("session rotated concurrently")
)

type Record struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	Role             string    `json:"role"`
	JWTID            string    `json:"jwtId"`
	RefreshTokenHash string    `json:"refreshToken"`
	ExpiresAt        time.Time `json:"expiresAt"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type Store interface {
	CreateSession(ctx context.Context, record Record) error
	GetSession(ctx context.Context, sessionID string) (Record, error)
	RotateSession(ctx context.Context, sessionID, previousJWTID string, next Record) error
	DeleteSession(ctx context.Context, sessionID string) error
}

type Tokens struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	SessionID             string
}

type Manager struct {
	issuer *auth.Issuer
	store  Store
	now    func() time.Time
}

func NewManager(issuer *auth.Issuer, store Store) *Manager {
	return &Manager{issuer: issuer, store: store, now: time.Now}
}

// WithClock replaces the manager's time source. The issuer keeps its own.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) Create(ctx context.Context, userID, role string) (Tokens, error) {
	sessionID := util.NewID()
	jwtID := util.NewID()

	tokens, err := m.issue(userID, sessionID, jwtID, role)
	if err != nil {
		return Tokens{}, err
	}

	now := m.now()
	record := Record{
		ID:               sessionID,
		UserID:           userID,
		Role:             role,
		JWTID:            jwtID,
		RefreshTokenHash: auth.HashToken(tokens.RefreshToken),
		ExpiresAt:        tokens.RefreshTokenExpiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.store.CreateSession(ctx, record); err != nil {
		return Tokens{}, fmt.Errorf("create session: %w", err)
	}
	return tokens, nil
}

// Verify authenticates an access token. Besides the signature and expiry,
// the session must still exist and still be on the token's jwt id.
func (m *Manager) Verify(ctx context.Context, accessToken string) (auth.Principal, error) {
	claims, err := m.issuer.ParseAccess(accessToken)
	if err != nil {
		return auth.Principal{}, err
	}

	record, err := m.store.GetSession(ctx, claims.SessionID)
	if errors.Is(err, ErrNotFound) {
		return auth.Principal{}, fmt.Errorf("%w: session revoked", auth.ErrInvalidToken)
	}
	if err != nil {
		return auth.Principal{}, fmt.Errorf("load session: %w", err)
	}
	if record.JWTID != claims.ID || record.UserID != claims.Subject {
		return auth.Principal{}, fmt.Errorf("%w: token superseded", auth.ErrInvalidToken)
	}
	if !record.ExpiresAt.After(m.now()) {
		return auth.Principal{}, auth.ErrExpiredToken
	}

	return auth.Principal{
		UserID:    claims.Subject,
		SessionID: claims.SessionID,
		Role:      claims.Role,
		JTI:       claims.ID,
	}, nil
}

// Refresh exchanges a refresh token for a new token pair on the same
// session. Presenting a refresh token that is not the current one revokes
// the session.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	claims, err := m.issuer.ParseRefresh(refreshToken)
	if err != nil {
		return Tokens{}, err
	}

	record, err := m.store.GetSession(ctx, claims.SessionID)
	if errors.Is(err, ErrNotFound) {
		return Tokens{}, fmt.Errorf("%w: session revoked", auth.ErrInvalidToken)
	}
	if err != nil {
		return Tokens{}, fmt.Errorf("load session: %w", err)
	}
	if record.UserID != claims.Subject {
		return Tokens{}, auth.ErrInvalidToken
	}
	if record.RefreshTokenHash != auth.HashToken(refreshToken) || record.JWTID != claims.ID {
		if err := m.store.DeleteSession(ctx, record.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return Tokens{}, fmt.Errorf("revoke reused session: %w", err)
		}
		return Tokens{}, fmt.Errorf("%w: refresh token reused", auth.ErrInvalidToken)
	}
	if !record.ExpiresAt.After(m.now()) {
		if err := m.store.DeleteSession(ctx, record.ID); err != nil && !errors.Is(err, ErrNotFound) {
			logging.Warn().Err(err).Str("session_id", record.ID).Msg("delete expired session")
		}
		return Tokens{}, auth.ErrExpiredToken
	}

	nextJWTID := util.NewID()
	tokens, err := m.issue(record.UserID, record.ID, nextJWTID, record.Role)
	if err != nil {
		return Tokens{}, err
	}

	next := record
	next.JWTID = nextJWTID
	next.RefreshTokenHash = auth.HashToken(tokens.RefreshToken)
	next.ExpiresAt = tokens.RefreshTokenExpiresAt
	next.UpdatedAt = m.now()
	if err := m.store.RotateSession(ctx, record.ID, record.JWTID, next); err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return Tokens{}, fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
		}
		return Tokens{}, fmt.Errorf("rotate session: %w", err)
	}
	return tokens, nil
}

// Revoke deletes the session. Revoking an unknown session is not an error.
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	if err := m.store.DeleteSession(ctx, sessionID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (m *Manager) issue(userID, sessionID, jwtID, role string) (Tokens, error) {
	accessToken, accessExpiresAt, err := m.issuer.IssueAccess(userID, sessionID, jwtID, role)
	if err != nil {
		return Tokens{}, err
	}
	refreshToken, refreshExpiresAt, err := m.issuer.IssueRefresh(userID, sessionID, jwtID)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{
		AccessToken:           accessToken,
		AccessTokenExpiresAt:  accessExpiresAt,
		RefreshToken:          refreshToken,
		RefreshTokenExpiresAt: refreshExpiresAt,
		SessionID:             sessionID,
	}, nil
}
