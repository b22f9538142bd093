package sessionclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const requestTimeout = 15 * time.Second

var (
	ErrRefreshExpired = errors.New("refresh token expired")
	ErrRefreshFailed  = errors.New("session refresh failed")
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return e.Message
}

// Client talks to the tutor API on behalf of a stored session.
type Client struct {
	baseURL string
	http    *http.Client
	storage Storage
	now     func() time.Time
}

func NewClient(baseURL string, storage Storage) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
		storage: storage,
		now:     time.Now,
	}
}

func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.http = client
	return c
}

// WithClock replaces the clock used for expiry checks. Keepers built from
// the client share it.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

func (c *Client) Storage() Storage { return c.storage }

type sessionPayload struct {
	AccessToken           string `json:"accessToken"`
	AccessTokenExpiresAt  string `json:"accessTokenExpiresAt"`
	RefreshToken          string `json:"refreshToken"`
	RefreshTokenExpiresAt string `json:"refreshTokenExpiresAt"`
	SessionID             string `json:"sessionId"`
}

type userPayload struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

type authResponse struct {
	User    *userPayload    `json:"user"`
	Session *sessionPayload `json:"session"`
}

// Refresh exchanges the stored refresh token for a new access token and
// writes the merged session to storage.
func (c *Client) Refresh(ctx context.Context, s StoredSession) (*StoredSession, error) {
	if IsRefreshExpired(s, c.now()) {
		return nil, ErrRefreshExpired
	}

	var resp authResponse
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": s.RefreshToken}, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	refreshed := resp.Session
	if refreshed == nil || refreshed.AccessToken == "" || refreshed.AccessTokenExpiresAt == "" {
		return nil, fmt.Errorf("%w: response is missing the access token", ErrRefreshFailed)
	}

	next := s
	next.AccessToken = refreshed.AccessToken
	next.AccessTokenExpiresAt = refreshed.AccessTokenExpiresAt
	if refreshed.RefreshToken != "" {
		next.RefreshToken = refreshed.RefreshToken
	}
	if refreshed.RefreshTokenExpiresAt != "" {
		next.RefreshTokenExpiresAt = refreshed.RefreshTokenExpiresAt
	}
	if refreshed.SessionID != "" {
		next.SessionID = refreshed.SessionID
	}
	if err := c.storage.Write(next); err != nil {
		return nil, err
	}
	return &next, nil
}

// Login signs a tutor in and stores the new session.
func (c *Client) Login(ctx context.Context, email, password string) (*StoredSession, error) {
	var resp authResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/tutors/login", "", body, &resp); err != nil {
		return nil, err
	}
	if resp.Session == nil || resp.Session.AccessToken == "" {
		return nil, errors.New("login response is missing the session")
	}
	s := StoredSession{
		AccessToken:           resp.Session.AccessToken,
		AccessTokenExpiresAt:  resp.Session.AccessTokenExpiresAt,
		RefreshToken:          resp.Session.RefreshToken,
		RefreshTokenExpiresAt: resp.Session.RefreshTokenExpiresAt,
		SessionID:             resp.Session.SessionID,
	}
	if resp.User != nil {
		s.UserID = resp.User.ID
		s.Email = resp.User.Email
		s.FullName = resp.User.FullName
		s.Role = resp.User.Role
	}
	if err := c.storage.Write(s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Logout revokes the session server-side. Storage is left to the caller.
func (c *Client) Logout(ctx context.Context, s StoredSession) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", s.AccessToken, map[string]string{"refreshToken": s.RefreshToken}, nil)
}

// Get performs an authenticated GET and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, s StoredSession, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, s.AccessToken, nil, out)
}

// Post performs an authenticated POST with a JSON body.
func (c *Client) Post(ctx context.Context, s StoredSession, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, s.AccessToken, body, out)
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Message = payload.Message
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
