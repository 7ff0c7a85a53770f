package titler

import (
	"context"
	"testing"
	"time"

	"github.com/dgnsrekt/window_titler/internal/host"
	"github.com/dgnsrekt/window_titler/internal/host/hosttest"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.BlockTime = 0
	opts.TabRemovalGrace = 50 * time.Millisecond
	opts.NewTabFix.LoadWait = 200 * time.Millisecond
	return opts
}

type fixture struct {
	browser *hosttest.Browser
	store   *hosttest.SessionStore
	coll    *Collection
}

func newFixture(t *testing.T, opts Options, setup func(b *hosttest.Browser, s *hosttest.SessionStore)) *fixture {
	t.Helper()
	b := hosttest.NewBrowser()
	s := hosttest.NewSessionStore()
	if setup != nil {
		setup(b, s)
	}
	c := New(context.Background(), Config{Browser: b, Session: s, Options: opts})
	t.Cleanup(c.Dispose)
	c.Start()
	return &fixture{browser: b, store: s, coll: c}
}

func (f *fixture) waitTitle(t *testing.T, id host.WindowID, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.browser.Title(id) == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("title of window %d = %q; want %q", id, f.browser.Title(id), want)
}

func (f *fixture) waitTracked(t *testing.T, n int) {
	t.Helper()
	waitFor(t, 2*time.Second, func() bool { return len(f.coll.Wrappers()) == n })
}

func (f *fixture) wrapper(t *testing.T, id host.WindowID) *Wrapper {
	t.Helper()
	var w *Wrapper
	waitFor(t, 2*time.Second, func() bool {
		var ok bool
		w, ok = f.coll.Wrapper(id)
		return ok
	})
	return w
}

// newTestWrapper builds a standalone wrapper over the fake browser.
func newTestWrapper(t *testing.T, b *hosttest.Browser, store host.SessionStore, id host.WindowID, opts Options, seedTabs bool) *Wrapper {
	t.Helper()
	win := host.Window{ID: id, Type: host.WindowNormal}
	if seedTabs {
		for i, tid := range b.TabIDs(id) {
			win.Tabs = append(win.Tabs, host.Tab{ID: tid, WindowID: id, Index: i})
		}
	}
	w := newWrapper(context.Background(), win, wrapperDeps{
		dir:     b,
		writer:  b,
		store:   store,
		options: func() *Options { return &opts },
	})
	t.Cleanup(w.Dispose)
	return w
}
