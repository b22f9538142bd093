package sessionclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func stamp(t time.Time) string { return t.Format(time.RFC3339) }

func sessionExpiring(access, refresh time.Duration) StoredSession {
	return StoredSession{
		AccessToken:           "access",
		AccessTokenExpiresAt:  stamp(base.Add(access)),
		RefreshToken:          "refresh",
		RefreshTokenExpiresAt: stamp(base.Add(refresh)),
		SessionID:             "sid",
	}
}

func TestShouldRefresh(t *testing.T) {
	tests := []struct {
		name string
		s    StoredSession
		want bool
	}{
		{"far from expiry", sessionExpiring(10*time.Minute, time.Hour), false},
		{"inside buffer", sessionExpiring(30*time.Second, time.Hour), true},
		{"exactly at buffer", sessionExpiring(RefreshBuffer, time.Hour), true},
		{"already expired", sessionExpiring(-time.Minute, time.Hour), true},
		{"missing expiry", StoredSession{}, false},
		{"garbage expiry", StoredSession{AccessTokenExpiresAt: "tomorrow"}, false},
	}
	for _, tt := range tests {
		if got := ShouldRefresh(tt.s, base, RefreshBuffer); got != tt.want {
			t.Fatalf("%s: ShouldRefresh() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsRefreshExpired(t *testing.T) {
	if IsRefreshExpired(sessionExpiring(0, time.Second), base) {
		t.Fatal("refresh token with time left reported expired")
	}
	if !IsRefreshExpired(sessionExpiring(0, 0), base) {
		t.Fatal("refresh token expiring now should be expired")
	}
	if IsRefreshExpired(StoredSession{RefreshTokenExpiresAt: "nope"}, base) {
		t.Fatal("unparsable expiry should not count as expired")
	}
}

func TestComputeRefreshDelay(t *testing.T) {
	tests := []struct {
		name   string
		s      StoredSession
		delay  time.Duration
		wantOK bool
	}{
		{"access deadline first", sessionExpiring(10*time.Minute, time.Hour), 9 * time.Minute, true},
		{"refresh deadline first", sessionExpiring(time.Hour, 10*time.Minute), 9 * time.Minute, true},
		{"clamped to minimum", sessionExpiring(65*time.Second, time.Hour), MinRefreshDelay, true},
		{"access already due", sessionExpiring(30*time.Second, time.Hour), 0, true},
		{"refresh within buffer", sessionExpiring(time.Hour, 30*time.Second), 0, false},
		{"unparsable", StoredSession{AccessTokenExpiresAt: stamp(base)}, 0, false},
	}
	for _, tt := range tests {
		delay, ok := ComputeRefreshDelay(tt.s, base, RefreshBuffer)
		if ok != tt.wantOK || delay != tt.delay {
			t.Fatalf("%s: ComputeRefreshDelay() = %v, %v; want %v, %v", tt.name, delay, ok, tt.delay, tt.wantOK)
		}
	}
}

func TestFileStorage(t *testing.T) {
	storage := NewFileStorage(filepath.Join(t.TempDir(), "nested", "session.json"))

	got, err := storage.Read()
	if err != nil || got != nil {
		t.Fatalf("Read() on empty storage = %v, %v", got, err)
	}

	want := sessionExpiring(time.Minute, time.Hour)
	want.Email = "tutor@example.com"
	if err := storage.Write(want); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, err = storage.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got == nil || *got != want {
		t.Fatalf("Read() = %+v, want %+v", got, want)
	}

	if err := storage.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if err := storage.Clear(); err != nil {
		t.Fatalf("second Clear() error = %v", err)
	}
	if got, _ := storage.Read(); got != nil {
		t.Fatalf("expected cleared storage, got %+v", got)
	}
}

func refreshServer(t *testing.T, status int, session map[string]string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.URL.Path != "/auth/refresh" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["refreshToken"] == "" {
			t.Errorf("request is missing refreshToken: %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"session": session})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func liveSession(access time.Duration) StoredSession {
	now := time.Now()
	return StoredSession{
		AccessToken:           "old-access",
		AccessTokenExpiresAt:  stamp(now.Add(access)),
		RefreshToken:          "old-refresh",
		RefreshTokenExpiresAt: stamp(now.Add(time.Hour)),
		SessionID:             "sid-1",
		Role:                  "tutor",
		Email:                 "tutor@example.com",
	}
}

func TestClientRefreshMergesSession(t *testing.T) {
	var hits int32
	newExpiry := stamp(time.Now().Add(15 * time.Minute))
	srv := refreshServer(t, http.StatusOK, map[string]string{"accessToken": "new-access", "accessTokenExpiresAt": newExpiry}, &hits)
	storage := NewMemoryStorage(nil)
	client := NewClient(srv.URL, storage)

	old := liveSession(10 * time.Second)
	got, err := client.Refresh(context.Background(), old)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got.AccessToken != "new-access" || got.AccessTokenExpiresAt != newExpiry {
		t.Fatalf("access fields not updated: %+v", got)
	}
	if got.RefreshToken != old.RefreshToken || got.RefreshTokenExpiresAt != old.RefreshTokenExpiresAt || got.SessionID != old.SessionID {
		t.Fatalf("expected refresh fields to fall back to old session: %+v", got)
	}
	if got.Role != "tutor" || got.Email != "tutor@example.com" {
		t.Fatalf("profile fields lost: %+v", got)
	}
	stored, _ := storage.Read()
	if stored == nil || *stored != *got {
		t.Fatalf("storage = %+v, want %+v", stored, got)
	}
}

func TestClientRefreshFailures(t *testing.T) {
	t.Run("non 2xx", func(t *testing.T) {
		var hits int32
		srv := refreshServer(t, http.StatusUnauthorized, nil, &hits)
		if _, err := NewClient(srv.URL, NewMemoryStorage(nil)).Refresh(context.Background(), liveSession(0)); !errors.Is(err, ErrRefreshFailed) {
			t.Fatalf("Refresh() error = %v, want ErrRefreshFailed", err)
		}
	})
	t.Run("missing access token", func(t *testing.T) {
		var hits int32
		srv := refreshServer(t, http.StatusOK, map[string]string{"accessTokenExpiresAt": stamp(time.Now())}, &hits)
		if _, err := NewClient(srv.URL, NewMemoryStorage(nil)).Refresh(context.Background(), liveSession(0)); !errors.Is(err, ErrRefreshFailed) {
			t.Fatalf("Refresh() error = %v, want ErrRefreshFailed", err)
		}
	})
	t.Run("expired refresh token skips the request", func(t *testing.T) {
		var hits int32
		srv := refreshServer(t, http.StatusOK, nil, &hits)
		s := liveSession(0)
		s.RefreshTokenExpiresAt = stamp(time.Now().Add(-time.Minute))
		if _, err := NewClient(srv.URL, NewMemoryStorage(nil)).Refresh(context.Background(), s); !errors.Is(err, ErrRefreshExpired) {
			t.Fatalf("Refresh() error = %v, want ErrRefreshExpired", err)
		}
		if atomic.LoadInt32(&hits) != 0 {
			t.Fatal("expired refresh token must not reach the server")
		}
	})
}

type fakeRefresher struct {
	calls int32
	next  *StoredSession
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context, s StoredSession) (*StoredSession, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return f.next, nil
}

func receive(t *testing.T, ch <-chan *StoredSession) *StoredSession {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session notification")
		return nil
	}
}

func newTestKeeper(r refresher, storage Storage) *Keeper {
	k := newKeeper(r, storage)
	k.now = func() time.Time { return base }
	return k
}

func TestKeeperSubscribeBootstrapsWithoutRefresh(t *testing.T) {
	stored := sessionExpiring(10*time.Minute, time.Hour)
	refresher := &fakeRefresher{}
	keeper := newTestKeeper(refresher, NewMemoryStorage(&stored))

	updates := make(chan *StoredSession, 4)
	unsubscribe := keeper.Subscribe(func(s *StoredSession) { updates <- s })
	defer unsubscribe()

	if first := receive(t, updates); first == nil || first.AccessToken != "access" {
		t.Fatalf("immediate notification = %+v", first)
	}
	if boot := receive(t, updates); boot == nil || boot.SessionID != "sid" {
		t.Fatalf("bootstrap notification = %+v", boot)
	}
	if atomic.LoadInt32(&refresher.calls) != 0 {
		t.Fatal("no refresh should happen while the access token is fresh")
	}
}

func TestKeeperRefreshFailureLogsOut(t *testing.T) {
	stored := sessionExpiring(10*time.Second, time.Hour)
	storage := NewMemoryStorage(&stored)
	keeper := newTestKeeper(&fakeRefresher{err: ErrRefreshFailed}, storage)

	updates := make(chan *StoredSession, 4)
	defer keeper.Subscribe(func(s *StoredSession) { updates <- s })()

	receive(t, updates)
	if got := receive(t, updates); got != nil {
		t.Fatalf("expected nil after failed refresh, got %+v", got)
	}
	if s, _ := storage.Read(); s != nil {
		t.Fatalf("storage should be cleared, got %+v", s)
	}
}

func TestKeeperMissingSessionNotifiesNil(t *testing.T) {
	keeper := newTestKeeper(&fakeRefresher{}, NewMemoryStorage(nil))
	updates := make(chan *StoredSession, 4)
	defer keeper.Subscribe(func(s *StoredSession) { updates <- s })()

	if got := receive(t, updates); got != nil {
		t.Fatalf("immediate notification = %+v, want nil", got)
	}
	if got := receive(t, updates); got != nil {
		t.Fatalf("bootstrap notification = %+v, want nil", got)
	}
}

func TestKeeperEnsureFresh(t *testing.T) {
	refreshed := sessionExpiring(15*time.Minute, time.Hour)
	refreshed.AccessToken = "rotated"
	refresher := &fakeRefresher{next: &refreshed}
	keeper := newTestKeeper(refresher, NewMemoryStorage(nil))

	fresh := sessionExpiring(10*time.Minute, time.Hour)
	got, err := keeper.EnsureFresh(context.Background(), &fresh)
	if err != nil || got != &fresh {
		t.Fatalf("EnsureFresh(fresh) = %v, %v; want the same session", got, err)
	}

	due := sessionExpiring(5*time.Second, time.Hour)
	got, err = keeper.EnsureFresh(context.Background(), &due)
	if err != nil || got.AccessToken != "rotated" {
		t.Fatalf("EnsureFresh(due) = %+v, %v", got, err)
	}
	if atomic.LoadInt32(&refresher.calls) != 1 {
		t.Fatalf("refresh calls = %d, want 1", refresher.calls)
	}

	if got, err := keeper.EnsureFresh(context.Background(), nil); got != nil || err != nil {
		t.Fatalf("EnsureFresh(nil) = %v, %v", got, err)
	}
}

func TestKeeperRecoversPanickingListener(t *testing.T) {
	stored := sessionExpiring(10*time.Minute, time.Hour)
	keeper := newTestKeeper(&fakeRefresher{}, NewMemoryStorage(&stored))

	defer keeper.Subscribe(func(*StoredSession) { panic("boom") })()
	updates := make(chan *StoredSession, 4)
	defer keeper.Subscribe(func(s *StoredSession) { updates <- s })()

	receive(t, updates)
	keeper.Logout()
	for {
		if s := receive(t, updates); s == nil {
			break
		}
	}
}

// rotatingRefresher behaves like the server: each refresh token works once,
// and the rotated session is written to storage before returning.
type rotatingRefresher struct {
	storage Storage
	started chan struct{}
	release chan struct{}

	mu    sync.Mutex
	used  map[string]bool
	calls int
}

func (r *rotatingRefresher) Refresh(_ context.Context, s StoredSession) (*StoredSession, error) {
	r.mu.Lock()
	r.calls++
	first := r.calls == 1
	reused := r.used[s.RefreshToken]
	r.used[s.RefreshToken] = true
	r.mu.Unlock()

	if first {
		close(r.started)
		<-r.release
	}
	if reused {
		return nil, fmt.Errorf("%w: refresh token reused", ErrRefreshFailed)
	}
	next := sessionExpiring(15*time.Minute, time.Hour)
	next.AccessToken = "rotated-access"
	next.RefreshToken = "rotated-" + s.RefreshToken
	if err := r.storage.Write(next); err != nil {
		return nil, err
	}
	return &next, nil
}

func TestKeeperResetDuringRefreshKeepsSession(t *testing.T) {
	stored := sessionExpiring(10*time.Second, time.Hour)
	storage := NewMemoryStorage(&stored)
	refresher := &rotatingRefresher{
		storage: storage,
		started: make(chan struct{}),
		release: make(chan struct{}),
		used:    map[string]bool{},
	}
	keeper := newTestKeeper(refresher, storage)

	updates := make(chan *StoredSession, 8)
	defer keeper.Subscribe(func(s *StoredSession) { updates <- s })()
	receive(t, updates)

	select {
	case <-refresher.started:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat never started a refresh")
	}
	keeper.Reset()
	time.Sleep(50 * time.Millisecond)
	close(refresher.release)

	for {
		got := receive(t, updates)
		if got == nil {
			t.Fatal("keeper logged out after a reset overlapped a refresh")
		}
		if got.AccessToken == "rotated-access" {
			break
		}
	}
	if s, _ := storage.Read(); s == nil || s.RefreshToken != "rotated-refresh" {
		t.Fatalf("storage = %+v, want the rotated session", s)
	}
	refresher.mu.Lock()
	calls := refresher.calls
	refresher.mu.Unlock()
	if calls != 1 {
		t.Fatalf("refresh calls = %d, want 1", calls)
	}
}

func TestClientRefreshUsesInjectedClock(t *testing.T) {
	var hits int32
	srv := refreshServer(t, http.StatusOK, map[string]string{"accessToken": "new-access", "accessTokenExpiresAt": stamp(base.Add(15 * time.Minute))}, &hits)
	s := sessionExpiring(0, time.Hour)

	late := NewClient(srv.URL, NewMemoryStorage(nil)).WithClock(func() time.Time { return base.Add(2 * time.Hour) })
	if _, err := late.Refresh(context.Background(), s); !errors.Is(err, ErrRefreshExpired) {
		t.Fatalf("Refresh() error = %v, want ErrRefreshExpired", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatal("refresh past the injected clock's expiry reached the server")
	}

	onTime := NewClient(srv.URL, NewMemoryStorage(nil)).WithClock(func() time.Time { return base })
	got, err := onTime.Refresh(context.Background(), s)
	if err != nil || got.AccessToken != "new-access" {
		t.Fatalf("Refresh() = %+v, %v", got, err)
	}
	if k := NewKeeper(onTime); !k.now().Equal(base) {
		t.Fatalf("keeper clock = %v, want the client's", k.now())
	}
}
