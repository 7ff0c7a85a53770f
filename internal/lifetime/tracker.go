// Package lifetime groups cancelable resources so they can be released together.
package lifetime

import (
	"log/slog"
	"sync"
)

// Disposable is anything with a release operation. Implementations must be
// comparable so a Tracker can untrack them.
type Disposable interface {
	Dispose()
}

// Disposer adapts a func to Disposable and runs it at most once.
type Disposer struct {
	once sync.Once
	fn   func()
}

// NewDisposer wraps fn. A nil fn is allowed.
func NewDisposer(fn func()) *Disposer {
	return &Disposer{fn: fn}
}

// Dispose runs the wrapped func the first time it is called.
func (d *Disposer) Dispose() {
	d.once.Do(func() {
		if d.fn != nil {
			d.fn()
		}
	})
}

// Tracker owns a dynamic set of Disposables. Disposing the tracker disposes
// every tracked resource exactly once; resources tracked afterwards are
// disposed immediately. A Tracker is itself a Disposable so trackers nest.
type Tracker struct {
	mu        sync.Mutex
	items     []Disposable
	disposed  bool
	onDispose []func()
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Track adds d to the group and returns it for chaining.
func (t *Tracker) Track(d Disposable) Disposable {
	if d == nil {
		return nil
	}
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		safeDispose(d)
		return d
	}
	t.items = append(t.items, d)
	t.mu.Unlock()
	return d
}

// TrackFunc tracks fn as a Disposer.
func (t *Tracker) TrackFunc(fn func()) *Disposer {
	d := NewDisposer(fn)
	t.Track(d)
	return d
}

// Untrack removes d from the group without disposing it. It reports whether
// d was tracked.
func (t *Tracker) Untrack(d Disposable) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, item := range t.items {
		if item == d {
			t.items = append(t.items[:i:i], t.items[i+1:]...)
			return true
		}
	}
	return false
}

// Len reports how many resources are currently tracked.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// IsDisposed reports whether Dispose has been called.
func (t *Tracker) IsDisposed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disposed
}

// OnDisposed registers fn to run once after the tracker is disposed. If the
// tracker is already disposed fn runs immediately.
func (t *Tracker) OnDisposed(fn func()) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		fn()
		return
	}
	t.onDispose = append(t.onDispose, fn)
	t.mu.Unlock()
}

// Dispose releases every tracked resource and then runs the OnDisposed
// callbacks. Only the first call has an effect.
func (t *Tracker) Dispose() {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	t.disposed = true
	items := t.items
	callbacks := t.onDispose
	t.items = nil
	t.onDispose = nil
	t.mu.Unlock()

	for _, d := range items {
		safeDispose(d)
	}
	for _, fn := range callbacks {
		safeCall(fn)
	}
}

func safeDispose(d Disposable) {
	safeCall(d.Dispose)
}

func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("lifetime dispose panicked", "panic", r)
		}
	}()
	fn()
}
