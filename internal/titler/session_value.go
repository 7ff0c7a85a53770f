package titler

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dgnsrekt/window_titler/internal/event"
	"github.com/dgnsrekt/window_titler/internal/host"
)

// Session keys.
const (
	KeyWindowName     = "window_name"
	KeyWindowSettings = "window_settings"
	KeyRestored       = "restored"
)

// PrefixFormat overrides the global title format for one window.
type PrefixFormat struct {
	Override bool   `json:"override,omitempty"`
	Value    string `json:"value,omitempty"`
}

// WindowSettings are the per-window options kept in the session store.
type WindowSettings struct {
	WindowPrefixFormat PrefixFormat `json:"window_prefix_format,omitzero"`
}

// HasOverride reports whether the window uses its own format.
func (s WindowSettings) HasOverride() bool {
	return s.WindowPrefixFormat.Override
}

// SessionValue mirrors one session store key for one window. The zero value
// of T is the stored default: setting it removes the key.
type SessionValue[T comparable] struct {
	windowID host.WindowID
	key      string
	store    host.SessionStore

	mu       sync.Mutex
	value    T
	loaded   bool
	localSet bool
	disposed bool

	writeMu sync.Mutex
	changed event.Event[T]
	unsub   func()
}

// NewSessionValue creates a monitor for key. A nil store keeps the value in
// memory only.
func NewSessionValue[T comparable](store host.SessionStore, windowID host.WindowID, key string) *SessionValue[T] {
	v := &SessionValue[T]{windowID: windowID, key: key, store: store}
	v.changed.SetName("session_value:" + key)
	if store != nil {
		v.unsub = store.OnWindowValueChanged(v.onStoreChanged)
	}
	return v
}

// Get returns the cached value.
func (v *SessionValue[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

// Loaded reports whether the first load finished.
func (v *SessionValue[T]) Loaded() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loaded
}

// OnChanged registers fn for value changes.
func (v *SessionValue[T]) OnChanged(fn func(T)) func() {
	return v.changed.Subscribe(fn)
}

// Load reads the stored value. When nothing is stored and firstTime is set,
// firstDefault is applied and written back. A value set locally before the
// load completes wins over the stored one.
func (v *SessionValue[T]) Load(ctx context.Context, firstTime bool, firstDefault T) {
	stored, found, _ := v.read(ctx)

	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return
	}
	v.loaded = true
	if v.localSet {
		v.mu.Unlock()
		return
	}
	v.mu.Unlock()

	var zero T
	switch {
	case found:
		v.apply(stored)
	case firstTime && firstDefault != zero:
		v.Set(ctx, firstDefault)
	}
}

// Reload re-reads the stored value, replacing the cached one. The cached
// value stays when the store cannot be read.
func (v *SessionValue[T]) Reload(ctx context.Context) {
	stored, _, err := v.read(ctx)
	if err != nil {
		return
	}
	v.apply(stored)
}

// Set changes the value locally and writes it through to the store. Storing
// the zero value removes the key.
func (v *SessionValue[T]) Set(ctx context.Context, value T) {
	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return
	}
	v.localSet = true
	changed := v.value != value
	v.value = value
	v.mu.Unlock()

	if changed {
		v.changed.Fire(value)
	}
	v.write(ctx)
}

// Dispose stops listening to the store. Further calls are ignored.
func (v *SessionValue[T]) Dispose() {
	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return
	}
	v.disposed = true
	unsub := v.unsub
	v.unsub = nil
	v.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	v.changed.Clear()
}

func (v *SessionValue[T]) apply(value T) {
	v.mu.Lock()
	if v.disposed || v.value == value {
		v.mu.Unlock()
		return
	}
	v.value = value
	v.mu.Unlock()
	v.changed.Fire(value)
}

// read returns the stored value. A malformed value reads as absent; a store
// failure is returned and logged.
func (v *SessionValue[T]) read(ctx context.Context) (T, bool, error) {
	var out T
	if v.store == nil {
		return out, false, nil
	}
	raw, found, err := v.store.GetWindowValue(ctx, v.windowID, v.key)
	if err != nil {
		slog.Warn("titler session read failed", "window_id", v.windowID, "key", v.key, "error", err)
		return out, false, err
	}
	if !found || len(raw) == 0 {
		return out, false, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		slog.Warn("titler session value malformed", "window_id", v.windowID, "key", v.key, "error", err)
		var zero T
		return zero, false, nil
	}
	return out, true, nil
}

// write stores the current value. writeMu keeps writes ordered so the store
// ends with the latest value.
func (v *SessionValue[T]) write(ctx context.Context) {
	if v.store == nil {
		return
	}
	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	value := v.Get()
	var zero T
	var err error
	if value == zero {
		err = v.store.RemoveWindowValue(ctx, v.windowID, v.key)
	} else {
		var raw []byte
		raw, err = json.Marshal(value)
		if err == nil {
			err = v.store.SetWindowValue(ctx, v.windowID, v.key, raw)
		}
	}
	if err != nil {
		slog.Warn("titler session write failed", "window_id", v.windowID, "key", v.key, "error", err)
	}
}

func (v *SessionValue[T]) onStoreChanged(ev host.WindowValueChanged) {
	if !ev.External || ev.WindowID != v.windowID || ev.Key != v.key {
		return
	}
	var value T
	if len(ev.Value) > 0 {
		if err := json.Unmarshal(ev.Value, &value); err != nil {
			slog.Warn("titler session push malformed", "window_id", v.windowID, "key", v.key, "error", err)
			return
		}
	}
	v.apply(value)
}
