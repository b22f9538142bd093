// Package sessionclient keeps a stored login session alive from the client
// side by refreshing the access token shortly before it expires.
package sessionclient

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

const (
	RefreshBuffer   = 60 * time.Second
	MinRefreshDelay = 15 * time.Second
)

// StoredSession is the persisted client view of a session. Timestamps are
// kept as RFC 3339 strings exactly as the server sent them.
type StoredSession struct {
	AccessToken           string `json:"accessToken"`
	AccessTokenExpiresAt  string `json:"accessTokenExpiresAt"`
	RefreshToken          string `json:"refreshToken"`
	RefreshTokenExpiresAt string `json:"refreshTokenExpiresAt"`
	SessionID             string `json:"sessionId"`
	Role                  string `json:"role,omitempty"`
	UserID                string `json:"userId,omitempty"`
	Email                 string `json:"email,omitempty"`
	FullName              string `json:"fullName,omitempty"`
}

// Storage persists a single session. Read returns nil when nothing is stored.
type Storage interface {
	Read() (*StoredSession, error)
	Write(session StoredSession) error
	Clear() error
}

func parseTimestamp(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ShouldRefresh reports whether the access token expires within buffer.
func ShouldRefresh(s StoredSession, now time.Time, buffer time.Duration) bool {
	expiry, ok := parseTimestamp(s.AccessTokenExpiresAt)
	if !ok {
		return false
	}
	return expiry.Sub(now) <= buffer
}

func IsRefreshExpired(s StoredSession, now time.Time) bool {
	expiry, ok := parseTimestamp(s.RefreshTokenExpiresAt)
	if !ok {
		return false
	}
	return !expiry.After(now)
}

// ComputeRefreshDelay returns how long to wait before the next refresh. ok
// is false when no refresh can be scheduled at all.
func ComputeRefreshDelay(s StoredSession, now time.Time, buffer time.Duration) (delay time.Duration, ok bool) {
	accessExpiry, okAccess := parseTimestamp(s.AccessTokenExpiresAt)
	refreshExpiry, okRefresh := parseTimestamp(s.RefreshTokenExpiresAt)
	if !okAccess || !okRefresh {
		return 0, false
	}

	refreshDeadline := refreshExpiry.Sub(now) - buffer
	if refreshDeadline <= 0 {
		return 0, false
	}
	accessDeadline := accessExpiry.Sub(now) - buffer
	if accessDeadline <= 0 {
		return 0, true
	}
	return max(min(accessDeadline, refreshDeadline), MinRefreshDelay), true
}

// FileStorage keeps the session as a JSON file readable only by the owner.
type FileStorage struct {
	path string
	mu   sync.Mutex
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// DefaultPath is ~/.metalearn/session.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".metalearn", "session.json"), nil
}

func (f *FileStorage) Read() (*StoredSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var s StoredSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	return &s, nil
}

func (f *FileStorage) Write(session StoredSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

func (f *FileStorage) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

type MemoryStorage struct {
	mu      sync.Mutex
	session *StoredSession
}

func NewMemoryStorage(initial *StoredSession) *MemoryStorage {
	m := &MemoryStorage{}
	if initial != nil {
		copied := *initial
		m.session = &copied
	}
	return m
}

func (m *MemoryStorage) Read() (*StoredSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	copied := *m.session
	return &copied, nil
}

func (m *MemoryStorage) Write(session StoredSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = &session
	return nil
}

func (m *MemoryStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}
