package hosttest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/dgnsrekt/window_titler/internal/event"
	"github.com/dgnsrekt/window_titler/internal/host"
)

// ErrStoreUnavailable is returned by a SessionStore set to fail.
var ErrStoreUnavailable = errors.New("hosttest: session store unavailable")

type sessionKey struct {
	windowID host.WindowID
	key      string
}

// SessionStore is an in-memory host.SessionStore.
type SessionStore struct {
	mu      sync.Mutex
	values  map[sessionKey]json.RawMessage
	failing bool
	sets    int
	removes int
	changed event.Event[host.WindowValueChanged]
}

var _ host.SessionStore = (*SessionStore)(nil)

// NewSessionStore returns an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{values: make(map[sessionKey]json.RawMessage)}
}

// SetFailing makes every call return ErrStoreUnavailable.
func (s *SessionStore) SetFailing(failing bool) {
	s.mu.Lock()
	s.failing = failing
	s.mu.Unlock()
}

// Raw returns the stored bytes for a key.
func (s *SessionStore) Raw(windowID host.WindowID, key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[sessionKey{windowID, key}]
	return v, ok
}

// Seed stores a value without firing change notifications.
func (s *SessionStore) Seed(windowID host.WindowID, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	s.values[sessionKey{windowID, key}] = raw
	s.mu.Unlock()
}

// PushExternal stores a value as if another process wrote it and notifies
// listeners. A nil value removes the key.
func (s *SessionStore) PushExternal(windowID host.WindowID, key string, value any) {
	var raw json.RawMessage
	if value != nil {
		b, err := json.Marshal(value)
		if err != nil {
			panic(err)
		}
		raw = b
	}
	s.mu.Lock()
	if raw == nil {
		delete(s.values, sessionKey{windowID, key})
	} else {
		s.values[sessionKey{windowID, key}] = raw
	}
	s.mu.Unlock()
	s.changed.Fire(host.WindowValueChanged{WindowID: windowID, Key: key, Value: raw, External: true})
}

// Sets reports how many SetWindowValue calls succeeded.
func (s *SessionStore) Sets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

// Removes reports how many RemoveWindowValue calls succeeded.
func (s *SessionStore) Removes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removes
}

func (s *SessionStore) GetWindowValue(ctx context.Context, windowID host.WindowID, key string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, false, ErrStoreUnavailable
	}
	v, ok := s.values[sessionKey{windowID, key}]
	return v, ok, nil
}

func (s *SessionStore) SetWindowValue(ctx context.Context, windowID host.WindowID, key string, value json.RawMessage) error {
	s.mu.Lock()
	if s.failing {
		s.mu.Unlock()
		return ErrStoreUnavailable
	}
	s.values[sessionKey{windowID, key}] = value
	s.sets++
	s.mu.Unlock()
	s.changed.Fire(host.WindowValueChanged{WindowID: windowID, Key: key, Value: value})
	return nil
}

func (s *SessionStore) RemoveWindowValue(ctx context.Context, windowID host.WindowID, key string) error {
	s.mu.Lock()
	if s.failing {
		s.mu.Unlock()
		return ErrStoreUnavailable
	}
	delete(s.values, sessionKey{windowID, key})
	s.removes++
	s.mu.Unlock()
	s.changed.Fire(host.WindowValueChanged{WindowID: windowID, Key: key})
	return nil
}

func (s *SessionStore) OnWindowValueChanged(fn func(host.WindowValueChanged)) func() {
	return s.changed.Subscribe(fn)
}
