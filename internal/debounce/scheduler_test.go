package debounce

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

type recorder struct {
	mu   sync.Mutex
	args []int
}

func (r *recorder) add(v int) {
	r.mu.Lock()
	r.args = append(r.args, v)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.args...)
}

func TestInvalidateRunsImmediatelyWhenIdle(t *testing.T) {
	var rec recorder
	s := New(context.Background(), func(ctx context.Context, v int) bool {
		rec.add(v)
		return false
	}, Options{BlockTime: Fixed(time.Hour)})
	t.Cleanup(s.Dispose)

	s.Invalidate(7)
	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 1 })
	if got := rec.snapshot()[0]; got != 7 {
		t.Fatalf("run arg = %d; want 7", got)
	}
}

func TestInvalidateCoalescesDuringBlock(t *testing.T) {
	var rec recorder
	s := New(context.Background(), func(ctx context.Context, v int) bool {
		rec.add(v)
		return false
	}, Options{BlockTime: Fixed(40 * time.Millisecond)})
	t.Cleanup(s.Dispose)

	s.Invalidate(1)
	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 1 })
	s.Invalidate(2)
	s.Invalidate(3)
	s.Invalidate(4)

	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 2 })
	time.Sleep(80 * time.Millisecond)
	got := rec.snapshot()
	if len(got) != 2 || got[1] != 4 {
		t.Fatalf("runs = %v; want [1 4]", got)
	}
}

func TestRunsAreSerialized(t *testing.T) {
	var inFlight, maxInFlight, runs atomic.Int32
	release := make(chan struct{})
	s := New(context.Background(), func(ctx context.Context, _ struct{}) bool {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		if runs.Add(1) == 1 {
			<-release
		}
		inFlight.Add(-1)
		return true
	}, Options{})
	t.Cleanup(s.Dispose)

	s.Invalidate(struct{}{})
	waitFor(t, time.Second, func() bool { return runs.Load() == 1 })
	s.Invalidate(struct{}{})
	s.ForceUpdate(struct{}{})
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs while first in flight = %d; want 1", got)
	}
	close(release)

	waitFor(t, time.Second, func() bool { return runs.Load() == 2 })
	s.Wait()
	if got := maxInFlight.Load(); got != 1 {
		t.Fatalf("max concurrent runs = %d; want 1", got)
	}
}

func TestForceUpdateBypassesBlock(t *testing.T) {
	var runs atomic.Int32
	s := New(context.Background(), func(ctx context.Context, _ int) bool {
		runs.Add(1)
		return false
	}, Options{BlockTime: Fixed(time.Hour)})
	t.Cleanup(s.Dispose)

	s.Invalidate(0)
	waitFor(t, time.Second, func() bool { return runs.Load() == 1 && !s.IsRunning() })
	s.Invalidate(0)
	time.Sleep(10 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs during block = %d; want 1", got)
	}
	s.ForceUpdate(0)
	waitFor(t, time.Second, func() bool { return runs.Load() == 2 })
}

func TestUnblockStartsQueuedRun(t *testing.T) {
	var runs atomic.Int32
	s := New(context.Background(), func(ctx context.Context, _ int) bool {
		runs.Add(1)
		return false
	}, Options{BlockTime: Fixed(time.Hour)})
	t.Cleanup(s.Dispose)

	s.Invalidate(0)
	waitFor(t, time.Second, func() bool { return runs.Load() == 1 && !s.IsRunning() })
	s.Invalidate(0)
	if !s.IsBlocked() || !s.IsInvalidated() {
		t.Fatalf("blocked=%v invalidated=%v; want both true", s.IsBlocked(), s.IsInvalidated())
	}
	s.Unblock()
	waitFor(t, time.Second, func() bool { return runs.Load() == 2 })
}

func TestKeepUnblockedSkipsBlockPeriod(t *testing.T) {
	var runs atomic.Int32
	s := New(context.Background(), func(ctx context.Context, _ int) bool {
		runs.Add(1)
		return true
	}, Options{BlockTime: Fixed(time.Hour)})
	t.Cleanup(s.Dispose)

	s.Invalidate(0)
	waitFor(t, time.Second, func() bool { return runs.Load() == 1 && !s.IsRunning() })
	s.Invalidate(0)
	waitFor(t, time.Second, func() bool { return runs.Load() == 2 })
}

func TestDynamicBlockTimeIsReadPerRun(t *testing.T) {
	var blockNanos atomic.Int64
	blockNanos.Store(int64(time.Hour))
	var runs atomic.Int32
	s := New(context.Background(), func(ctx context.Context, _ int) bool {
		runs.Add(1)
		return false
	}, Options{BlockTime: func() time.Duration { return time.Duration(blockNanos.Load()) }})
	t.Cleanup(s.Dispose)

	blockNanos.Store(0)
	s.Invalidate(0)
	waitFor(t, time.Second, func() bool { return runs.Load() == 1 && !s.IsRunning() })
	if s.IsBlocked() {
		t.Fatalf("IsBlocked() = true with zero block time")
	}
	s.Invalidate(0)
	waitFor(t, time.Second, func() bool { return runs.Load() == 2 })
}

func TestDisposeStopsPendingRuns(t *testing.T) {
	var runs atomic.Int32
	s := New(context.Background(), func(ctx context.Context, _ int) bool {
		runs.Add(1)
		return false
	}, Options{BlockTime: Fixed(20 * time.Millisecond)})

	s.Invalidate(0)
	waitFor(t, time.Second, func() bool { return runs.Load() == 1 && !s.IsRunning() })
	s.Invalidate(0)
	s.Dispose()
	s.Dispose()
	s.ForceUpdate(0)
	time.Sleep(60 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs after dispose = %d; want 1", got)
	}
	if !s.IsDisposed() {
		t.Fatalf("IsDisposed() = false; want true")
	}
}

func TestDisposeCancelsInFlightContext(t *testing.T) {
	started := make(chan struct{})
	done := make(chan error, 1)
	s := New(context.Background(), func(ctx context.Context, _ int) bool {
		close(started)
		<-ctx.Done()
		done <- ctx.Err()
		return false
	}, Options{})

	s.Invalidate(0)
	<-started
	s.Dispose()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("in-flight ctx err = nil; want cancellation")
		}
	case <-time.After(time.Second):
		t.Fatalf("in-flight run did not observe cancellation")
	}
	s.Wait()
}

func TestSimultaneousForceUpdate(t *testing.T) {
	release := make(chan struct{})
	var inFlight, peak atomic.Int32
	s := New(context.Background(), func(ctx context.Context, _ int) bool {
		n := inFlight.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		<-release
		inFlight.Add(-1)
		return false
	}, Options{Simultaneous: true})
	t.Cleanup(s.Dispose)

	s.Invalidate(0)
	waitFor(t, time.Second, func() bool { return inFlight.Load() == 1 })
	s.ForceUpdate(0)
	waitFor(t, time.Second, func() bool { return inFlight.Load() == 2 })
	close(release)
	s.Wait()
	if got := peak.Load(); got != 2 {
		t.Fatalf("peak concurrent runs = %d; want 2", got)
	}
}
