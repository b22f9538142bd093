package sessionclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"metalearn/api/internal/logging"
)

// Listener receives the current session, or nil once the user is logged out.
type Listener func(*StoredSession)

type refresher interface {
	Refresh(ctx context.Context, s StoredSession) (*StoredSession, error)
}

// Keeper runs the refresh heartbeat for as long as it has listeners.
type Keeper struct {
	client  refresher
	storage Storage
	buffer  time.Duration
	now     func() time.Time
	// flight collapses concurrent refreshes of the same refresh token;
	// the server revokes a session whose refresh token is presented twice.
	flight singleflight.Group

	mu         sync.Mutex
	listeners  map[int]Listener
	nextID     int
	active     bool
	timer      *time.Timer
	generation uint64
}

func NewKeeper(client *Client) *Keeper {
	k := newKeeper(client, client.Storage())
	k.now = client.now
	return k
}

func newKeeper(client refresher, storage Storage) *Keeper {
	return &Keeper{
		client:    client,
		storage:   storage,
		buffer:    RefreshBuffer,
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
}

// EnsureFresh returns s unchanged unless its access token is about to
// expire, in which case it is refreshed. A failed refresh logs the user out.
func (k *Keeper) EnsureFresh(ctx context.Context, s *StoredSession) (*StoredSession, error) {
	if s == nil {
		return nil, nil
	}
	fresh, err := k.ensureFresh(ctx, s)
	if err != nil {
		k.Logout()
	}
	return fresh, err
}

func (k *Keeper) ensureFresh(ctx context.Context, s *StoredSession) (*StoredSession, error) {
	if s == nil {
		return nil, errors.New("no stored session")
	}
	if !ShouldRefresh(*s, k.now(), k.buffer) {
		return s, nil
	}
	current := *s
	v, err, _ := k.flight.Do(current.RefreshToken, func() (any, error) {
		return k.client.Refresh(ctx, current)
	})
	if err != nil {
		return nil, err
	}
	refreshed := *v.(*StoredSession)
	return &refreshed, nil
}

// Subscribe calls listener with the stored session right away and on every
// later change. The first subscriber starts the heartbeat.
func (k *Keeper) Subscribe(listener Listener) (unsubscribe func()) {
	k.mu.Lock()
	id := k.nextID
	k.nextID++
	k.listeners[id] = listener
	first := len(k.listeners) == 1
	k.mu.Unlock()

	k.call(listener, k.read())
	if first {
		go k.bootstrap()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			delete(k.listeners, id)
			empty := len(k.listeners) == 0
			k.mu.Unlock()
			if empty {
				k.stop()
			}
		})
	}
}

// Reset restarts the heartbeat, e.g. after a fresh login.
func (k *Keeper) Reset() {
	k.stop()
	k.mu.Lock()
	hasListeners := len(k.listeners) > 0
	k.mu.Unlock()
	if hasListeners {
		go k.bootstrap()
	}
}

// Logout clears the stored session and tells every listener.
func (k *Keeper) Logout() {
	if err := k.storage.Clear(); err != nil {
		logging.Warn().Err(err).Msg("clear stored session")
	}
	k.notify(nil)
	k.stop()
}

func (k *Keeper) bootstrap() {
	k.mu.Lock()
	if k.active {
		k.mu.Unlock()
		return
	}
	k.active = true
	gen := k.generation
	k.mu.Unlock()

	k.run(gen)
}

func (k *Keeper) tick(gen uint64) {
	k.mu.Lock()
	if gen != k.generation {
		k.mu.Unlock()
		return
	}
	k.timer = nil
	k.mu.Unlock()

	k.run(gen)
}

func (k *Keeper) run(gen uint64) {
	stored := k.read()
	if stored == nil {
		k.endSession(gen)
		return
	}

	fresh, err := k.ensureFresh(context.Background(), stored)
	if err != nil {
		logging.Warn().Err(err).Msg("session heartbeat refresh failed")
		k.endSession(gen)
		return
	}
	if !k.current(gen) {
		return
	}
	k.notify(fresh)
	k.schedule(gen, *fresh)
}

func (k *Keeper) endSession(gen uint64) {
	if !k.current(gen) {
		return
	}
	if err := k.storage.Clear(); err != nil {
		logging.Warn().Err(err).Msg("clear stored session")
	}
	k.notify(nil)
	k.stop()
}

func (k *Keeper) schedule(gen uint64, s StoredSession) {
	delay, ok := ComputeRefreshDelay(s, k.now(), k.buffer)
	if !ok {
		k.stop()
		return
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if gen != k.generation {
		return
	}
	k.timer = time.AfterFunc(delay, func() { k.tick(gen) })
}

func (k *Keeper) stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.timer != nil {
		k.timer.Stop()
		k.timer = nil
	}
	k.active = false
	k.generation++
}

func (k *Keeper) current(gen uint64) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return gen == k.generation
}

func (k *Keeper) read() *StoredSession {
	s, err := k.storage.Read()
	if err != nil {
		logging.Warn().Err(err).Msg("read stored session")
		return nil
	}
	return s
}

func (k *Keeper) notify(s *StoredSession) {
	k.mu.Lock()
	listeners := make([]Listener, 0, len(k.listeners))
	for _, l := range k.listeners {
		listeners = append(listeners, l)
	}
	k.mu.Unlock()

	for _, l := range listeners {
		k.call(l, s)
	}
}

func (k *Keeper) call(l Listener, s *StoredSession) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Msg("session listener panicked")
		}
	}()
	var copied *StoredSession
	if s != nil {
		v := *s
		copied = &v
	}
	l(copied)
}
