// Package debounce coalesces bursts of update requests into single runs that
// are spaced at least a block period apart.
package debounce

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Work is one unit of scheduled work. It receives the latest argument passed to
// Invalidate or ForceUpdate. Returning true ends the block period early, for
// runs that did nothing worth rate limiting.
type Work[T any] func(ctx context.Context, arg T) (keepUnblocked bool)

// Options configure a Scheduler.
type Options struct {
	// BlockTime is read at the start of every run. Nil or non-positive
	// durations disable blocking.
	BlockTime func() time.Duration
	// Simultaneous allows ForceUpdate to start a run while another is in flight.
	Simultaneous bool
	// Name is attached to log records.
	Name string
}

// Fixed returns a BlockTime accessor for a constant duration.
func Fixed(d time.Duration) func() time.Duration {
	return func() time.Duration { return d }
}

// Scheduler runs Work at most once per block period, with at most one run in
// flight unless Options.Simultaneous is set and the run was forced.
type Scheduler[T any] struct {
	work Work[T]
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	arg         T
	invalidated bool
	forced      bool
	running     int
	blocked     bool
	blockGen    uint64
	blockTimer  *time.Timer
	disposed    bool
	wg          sync.WaitGroup
}

// New creates a scheduler. The parent context bounds every run.
func New[T any](parent context.Context, work Work[T], opts Options) *Scheduler[T] {
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler[T]{work: work, opts: opts, ctx: ctx, cancel: cancel}
}

// Invalidate requests a run with arg, replacing any queued argument. The run
// starts now when the scheduler is idle and unblocked, otherwise as soon as
// the current run finishes and the block period ends.
func (s *Scheduler[T]) Invalidate(arg T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.arg = arg
	s.invalidated = true
	s.tryStartLocked()
}

// ForceUpdate runs now regardless of the block period. Without Simultaneous
// it still waits for an in-flight run to finish first.
func (s *Scheduler[T]) ForceUpdate(arg T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.arg = arg
	s.invalidated = true
	if s.running > 0 && !s.opts.Simultaneous {
		s.forced = true
		return
	}
	s.startLocked()
}

// Unblock ends the current block period and starts a queued run if any.
func (s *Scheduler[T]) Unblock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.unblockLocked()
	s.tryStartLocked()
}

// IsInvalidated reports whether a run is queued.
func (s *Scheduler[T]) IsInvalidated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidated
}

// IsRunning reports whether a run is in flight.
func (s *Scheduler[T]) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running > 0
}

// IsBlocked reports whether the block period is active.
func (s *Scheduler[T]) IsBlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked
}

// IsDisposed reports whether Dispose was called.
func (s *Scheduler[T]) IsDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Dispose stops future runs, cancels the block timer and cancels the context
// passed to an in-flight run. It does not wait for that run to return.
func (s *Scheduler[T]) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.invalidated = false
	s.forced = false
	s.stopTimerLocked()
	s.mu.Unlock()
	s.cancel()
}

// Wait blocks until no run is in flight. Intended for shutdown and tests.
func (s *Scheduler[T]) Wait() {
	s.wg.Wait()
}

func (s *Scheduler[T]) tryStartLocked() {
	if !s.invalidated || s.disposed {
		return
	}
	if s.running > 0 {
		return
	}
	if s.blocked && !s.forced {
		return
	}
	s.startLocked()
}

func (s *Scheduler[T]) startLocked() {
	arg := s.arg
	var zero T
	s.arg = zero
	s.invalidated = false
	s.forced = false
	s.running++
	s.blockLocked()

	s.wg.Add(1)
	go s.run(arg)
}

func (s *Scheduler[T]) run(arg T) {
	defer s.wg.Done()
	keep := s.call(arg)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running--
	if s.disposed {
		return
	}
	if keep {
		s.unblockLocked()
	}
	s.tryStartLocked()
}

func (s *Scheduler[T]) call(arg T) bool {
	if s.ctx.Err() != nil {
		slog.Debug("debounce run skipped after dispose", "scheduler", s.opts.Name)
		return false
	}
	return s.work(s.ctx, arg)
}

func (s *Scheduler[T]) blockLocked() {
	s.stopTimerLocked()
	var d time.Duration
	if s.opts.BlockTime != nil {
		d = s.opts.BlockTime()
	}
	if d <= 0 {
		s.blocked = false
		return
	}
	s.blocked = true
	s.blockGen++
	gen := s.blockGen
	s.blockTimer = time.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.blockGen || s.disposed {
			return
		}
		s.blocked = false
		s.blockTimer = nil
		s.tryStartLocked()
	})
}

func (s *Scheduler[T]) unblockLocked() {
	s.stopTimerLocked()
	s.blocked = false
}

func (s *Scheduler[T]) stopTimerLocked() {
	if s.blockTimer != nil {
		s.blockTimer.Stop()
		s.blockTimer = nil
	}
	s.blockGen++
}
