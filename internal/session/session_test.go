package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"metalearn/api/internal/auth"
	"metalearn/api/internal/logging"
)

func newTestManager(now *time.Time) (*Manager, *MemoryStore) {
	clock := func() time.Time { return *now }
	issuer := auth.NewIssuer(
		"access-secret-access-secret-0000",
		"refresh-secret-refresh-secret-00",
		15*time.Minute,
		30*24*time.Hour,
	).WithClock(clock)
	store := NewMemoryStore()
	return NewManager(issuer, store).WithClock(clock), store
}

func TestCreateAndVerify(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	manager, store := newTestManager(&now)
	ctx := context.Background()

	tokens, err := manager.Create(ctx, "user-1", "tutor")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if tokens.SessionID == "" || tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("incomplete tokens: %+v", tokens)
	}
	if !tokens.AccessTokenExpiresAt.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("AccessTokenExpiresAt = %v", tokens.AccessTokenExpiresAt)
	}
	if !tokens.RefreshTokenExpiresAt.Equal(now.Add(30 * 24 * time.Hour)) {
		t.Fatalf("RefreshTokenExpiresAt = %v", tokens.RefreshTokenExpiresAt)
	}

	record, err := store.GetSession(ctx, tokens.SessionID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if record.RefreshTokenHash != auth.HashToken(tokens.RefreshToken) {
		t.Fatal("stored refresh token must be hashed")
	}

	principal, err := manager.Verify(ctx, tokens.AccessToken)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if principal.UserID != "user-1" || principal.Role != "tutor" || principal.SessionID != tokens.SessionID {
		t.Fatalf("unexpected principal: %+v", principal)
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	manager, _ := newTestManager(&now)
	ctx := context.Background()

	first, err := manager.Create(ctx, "user-1", "learner")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	now = now.Add(14 * time.Minute)
	second, err := manager.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("session id changed: %s -> %s", first.SessionID, second.SessionID)
	}
	if second.RefreshToken == first.RefreshToken || second.AccessToken == first.AccessToken {
		t.Fatal("expected new token pair")
	}

	if _, err := manager.Verify(ctx, first.AccessToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("Verify(old access) error = %v, want ErrInvalidToken", err)
	}
	if _, err := manager.Verify(ctx, second.AccessToken); err != nil {
		t.Fatalf("Verify(new access) error = %v", err)
	}
}

func TestRefreshReuseRevokesSession(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	manager, store := newTestManager(&now)
	ctx := context.Background()

	first, err := manager.Create(ctx, "user-1", "learner")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	second, err := manager.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if _, err := manager.Refresh(ctx, first.RefreshToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("Refresh(reused) error = %v, want ErrInvalidToken", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected session to be revoked, %d records left", store.Len())
	}
	if _, err := manager.Refresh(ctx, second.RefreshToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("Refresh(after revoke) error = %v, want ErrInvalidToken", err)
	}
}

func TestRevokeInvalidatesAccessToken(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	manager, _ := newTestManager(&now)
	ctx := context.Background()

	tokens, err := manager.Create(ctx, "user-1", "admin")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := manager.Revoke(ctx, tokens.SessionID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if err := manager.Revoke(ctx, tokens.SessionID); err != nil {
		t.Fatalf("Revoke() twice error = %v", err)
	}
	if _, err := manager.Verify(ctx, tokens.AccessToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	manager, _ := newTestManager(&now)

	tokens, err := manager.Create(context.Background(), "user-1", "learner")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := manager.Refresh(context.Background(), tokens.AccessToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("Refresh(access token) error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyExpiredAccessToken(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	manager, _ := newTestManager(&now)

	tokens, err := manager.Create(context.Background(), "user-1", "learner")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	now = now.Add(16 * time.Minute)
	if _, err := manager.Verify(context.Background(), tokens.AccessToken); !errors.Is(err, auth.ErrExpiredToken) {
		t.Fatalf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

// expiringStore reports every session as already expired and fails deletes.
type expiringStore struct {
	*MemoryStore
	now time.Time
}

func (s expiringStore) GetSession(ctx context.Context, sessionID string) (Record, error) {
	record, err := s.MemoryStore.GetSession(ctx, sessionID)
	record.ExpiresAt = s.now.Add(-time.Minute)
	return record, err
}

func (s expiringStore) DeleteSession(context.Context, string) error {
	return errors.New("store offline")
}

func TestRefreshExpiredSessionLogsDeleteFailure(t *testing.T) {
	var buf bytes.Buffer
	logging.Init(logging.Config{Level: "warn", Format: "json", Output: &buf})
	t.Cleanup(func() { logging.Init(logging.DefaultConfig()) })

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	issuer := auth.NewIssuer(
		"access-secret-access-secret-0000",
		"refresh-secret-refresh-secret-00",
		15*time.Minute,
		30*24*time.Hour,
	).WithClock(clock)
	manager := NewManager(issuer, expiringStore{MemoryStore: NewMemoryStore(), now: now}).WithClock(clock)

	tokens, err := manager.Create(context.Background(), "user-1", "learner")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := manager.Refresh(context.Background(), tokens.RefreshToken); !errors.Is(err, auth.ErrExpiredToken) {
		t.Fatalf("Refresh() error = %v, want ErrExpiredToken", err)
	}
	if out := buf.String(); !strings.Contains(out, "delete expired session") || !strings.Contains(out, "store offline") {
		t.Fatalf("log output = %q", out)
	}
}
