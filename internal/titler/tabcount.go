package titler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgnsrekt/window_titler/internal/host"
	"github.com/dgnsrekt/window_titler/internal/lifetime"
)

type recountRequest struct {
	// force queries even when the recount ceiling forbids it.
	force bool
}

// TabCount returns the number of tabs, never less than one.
func (w *Wrapper) TabCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.displayCountLocked()
}

func (w *Wrapper) displayCountLocked() int {
	return max(len(w.tabs), 1)
}

// reconcileAllowedLocked applies the recount ceiling to the current count.
func (w *Wrapper) reconcileAllowedLocked() bool {
	ceiling := w.deps.options().RecountTabsWhenEqualOrLessThan
	switch {
	case ceiling < 0:
		return true
	case ceiling == 0:
		return false
	default:
		return len(w.tabs) <= ceiling
	}
}

// stopTrackingLocked forgets recently removed ids once the count leaves the
// recount range.
func (w *Wrapper) stopTrackingLocked() {
	w.tracking = false
	for id, t := range w.ignored {
		t.Dispose()
		w.tracker.Untrack(t)
		delete(w.ignored, id)
	}
}

// TabAdded records a tab that appeared in this window.
func (w *Wrapper) TabAdded(id host.TabID) {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	if _, ok := w.tabs[id]; ok {
		w.mu.Unlock()
		return
	}
	old := w.displayCountLocked()
	w.tabs[id] = struct{}{}
	if t, ok := w.ignored[id]; ok {
		t.Dispose()
		w.tracker.Untrack(t)
		delete(w.ignored, id)
	}
	if w.querying {
		w.queryAdded[id] = struct{}{}
		delete(w.queryRemoved, id)
	}
	allowed := w.reconcileAllowedLocked()
	if !allowed && w.tracking {
		w.stopTrackingLocked()
	}
	now := w.displayCountLocked()
	w.mu.Unlock()

	if old != now {
		w.tabCountChanged.Fire(TabCountChange{Window: w, Old: old, New: now})
	}
	if allowed {
		w.tabSched.Invalidate(recountRequest{})
	}
}

// TabRemoved records a tab that closed or left this window.
func (w *Wrapper) TabRemoved(id host.TabID) {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	old := w.displayCountLocked()
	delete(w.tabs, id)
	if w.querying {
		w.queryRemoved[id] = struct{}{}
		delete(w.queryAdded, id)
	}
	if w.tracking {
		w.ignoreLocked(id)
	}
	allowed := w.reconcileAllowedLocked()
	now := w.displayCountLocked()
	w.mu.Unlock()

	if old != now {
		w.tabCountChanged.Fire(TabCountChange{Window: w, Old: old, New: now})
	}
	if allowed {
		w.tabSched.Invalidate(recountRequest{})
	}
}

// ignoreLocked hides id from reconciliation results for the removal grace
// period.
func (w *Wrapper) ignoreLocked(id host.TabID) {
	if prev, ok := w.ignored[id]; ok {
		prev.Dispose()
		w.tracker.Untrack(prev)
	}
	var timer *lifetime.Timer
	timer = lifetime.AfterFunc(w.deps.options().TabRemovalGrace, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if cur, ok := w.ignored[id]; ok && cur == timer {
			delete(w.ignored, id)
		}
		w.tracker.Untrack(timer)
	})
	w.ignored[id] = timer
	w.tracker.Track(timer)
}

// RecountTabs schedules a reconciliation. With force it runs right away and
// ignores the recount ceiling; used when tab tracking starts late.
func (w *Wrapper) RecountTabs(force bool) {
	if force {
		w.tabSched.ForceUpdate(recountRequest{force: true})
		return
	}
	w.tabSched.Invalidate(recountRequest{})
}

// reconcileTabs replaces the incremental count with an authoritative query,
// filtering ids known to be gone and keeping ids that changed mid-query.
func (w *Wrapper) reconcileTabs(ctx context.Context, req recountRequest) bool {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return true
	}
	if w.reconciling {
		w.mu.Unlock()
		panic(fmt.Sprintf("titler: overlapping tab reconciliation for window %d", w.id))
	}
	if !req.force && !w.reconcileAllowedLocked() {
		w.mu.Unlock()
		return true
	}
	w.reconciling = true
	startedTracking := !w.tracking
	w.tracking = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.reconciling = false
		w.mu.Unlock()
	}()

	if startedTracking {
		// Removals from before tracking began may still show up in queries.
		if err := lifetime.Sleep(ctx, w.deps.options().TabRemovalGrace); err != nil {
			return true
		}
		if w.tabSched.IsInvalidated() {
			return true
		}
		w.mu.Lock()
		stop := w.disposed || (!req.force && !w.reconcileAllowedLocked())
		w.mu.Unlock()
		if stop {
			return true
		}
	}

	w.mu.Lock()
	w.querying = true
	w.queryAdded = make(map[host.TabID]struct{})
	w.queryRemoved = make(map[host.TabID]struct{})
	w.mu.Unlock()

	tabs, err := w.deps.dir.Tabs(ctx, w.id)

	w.mu.Lock()
	added, removed := w.queryAdded, w.queryRemoved
	w.querying = false
	w.queryAdded, w.queryRemoved = nil, nil
	if w.disposed {
		w.mu.Unlock()
		return true
	}
	if err != nil {
		w.mu.Unlock()
		logHostError("titler tab query failed", w.id, err)
		return false
	}

	next := make(map[host.TabID]struct{}, len(tabs)+len(added))
	for _, t := range tabs {
		if _, gone := w.ignored[t.ID]; gone {
			continue
		}
		if _, gone := removed[t.ID]; gone {
			continue
		}
		next[t.ID] = struct{}{}
	}
	for id := range added {
		next[id] = struct{}{}
	}
	old := w.displayCountLocked()
	drift := len(next) - len(w.tabs)
	w.tabs = next
	if !w.reconcileAllowedLocked() {
		w.stopTrackingLocked()
	}
	now := w.displayCountLocked()
	w.mu.Unlock()

	if drift != 0 {
		slog.Debug("titler tab count corrected", "window_id", w.id, "drift", drift, "tab_count", now)
	}
	if old != now {
		w.tabCountChanged.Fire(TabCountChange{Window: w, Old: old, New: now})
	}
	return false
}
