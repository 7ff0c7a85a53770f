package lifetime

import (
	"context"
	"sync"
	"time"
)

// Timer is a Disposable time.AfterFunc.
type Timer struct {
	t *time.Timer
}

// AfterFunc runs fn after d unless the returned Timer is disposed first.
func AfterFunc(d time.Duration, fn func()) *Timer {
	return &Timer{t: time.AfterFunc(d, fn)}
}

// Dispose stops the timer.
func (t *Timer) Dispose() {
	t.t.Stop()
}

// Signal is a one-shot flag that can be resolved once and awaited many times.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal returns an unresolved signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Resolve marks the signal done. Later calls do nothing.
func (s *Signal) Resolve() {
	s.once.Do(func() { close(s.ch) })
}

// Dispose resolves the signal so waiters are released.
func (s *Signal) Dispose() {
	s.Resolve()
}

// Done is closed once the signal is resolved.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Resolved reports whether Resolve has been called.
func (s *Signal) Resolved() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// WaitOrTimeout races sig against a timer of length d. It returns true when the
// signal won, false when the timer fired, and ctx.Err() when ctx ended first.
// The timer is always stopped before returning.
func WaitOrTimeout(ctx context.Context, sig *Signal, d time.Duration) (bool, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-sig.Done():
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
