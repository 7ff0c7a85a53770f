package titler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/window_titler/internal/host"
	"github.com/dgnsrekt/window_titler/internal/lifetime"
)

func (c *Collection) registerWindowListeners(t *lifetime.Tracker) {
	t.TrackFunc(c.browser.OnWindowCreated(func(ev host.WindowCreated) {
		w, ok := c.addWindow(ev.Window)
		if !ok {
			return
		}
		slog.Debug("titler window created", "window_id", w.id)
		c.onWindowSetChanged(w)
	}))
	t.TrackFunc(c.browser.OnWindowRemoved(func(ev host.WindowRemoved) {
		c.removeWindow(ev.WindowID)
		slog.Debug("titler window removed", "window_id", ev.WindowID)
		c.onWindowSetChanged(nil)
	}))
}

func (c *Collection) registerTabListeners(t *lifetime.Tracker) {
	t.TrackFunc(c.browser.OnTabCreated(func(ev host.TabCreated) {
		if w, ok := c.Wrapper(ev.Tab.WindowID); ok {
			w.TabAdded(ev.Tab.ID)
		}
	}))
	t.TrackFunc(c.browser.OnTabRemoved(func(ev host.TabRemoved) {
		if ev.IsWindowClosing {
			return
		}
		if w, ok := c.Wrapper(ev.WindowID); ok {
			w.TabRemoved(ev.TabID)
		}
	}))
	t.TrackFunc(c.browser.OnTabAttached(func(ev host.TabAttached) {
		if w, ok := c.Wrapper(ev.NewWindowID); ok {
			w.TabAdded(ev.TabID)
		}
	}))
	t.TrackFunc(c.browser.OnTabDetached(func(ev host.TabDetached) {
		if w, ok := c.Wrapper(ev.OldWindowID); ok {
			w.TabRemoved(ev.TabID)
		}
	}))
}

// registerActiveListeners re-checks the active tab on every event that can
// shift tab indexes.
func (c *Collection) registerActiveListeners(t *lifetime.Tracker) {
	check := func(id host.WindowID) {
		if w, ok := c.Wrapper(id); ok {
			w.CheckActiveTab()
		}
	}
	t.TrackFunc(c.browser.OnTabActivated(func(ev host.TabActivated) { check(ev.WindowID) }))
	t.TrackFunc(c.browser.OnTabMoved(func(ev host.TabMoved) { check(ev.WindowID) }))
	t.TrackFunc(c.browser.OnTabCreated(func(ev host.TabCreated) { check(ev.Tab.WindowID) }))
	t.TrackFunc(c.browser.OnTabRemoved(func(ev host.TabRemoved) {
		if !ev.IsWindowClosing {
			check(ev.WindowID)
		}
	}))
	t.TrackFunc(c.browser.OnTabAttached(func(ev host.TabAttached) { check(ev.NewWindowID) }))
	t.TrackFunc(c.browser.OnTabDetached(func(ev host.TabDetached) { check(ev.OldWindowID) }))
}

// registerNewTabFixListeners waits for new tab pages to finish loading and
// then rewrites the window prefix, which the page load may have dropped.
func (c *Collection) registerNewTabFixListeners(t *lifetime.Tracker) {
	ctx, cancel := context.WithCancel(c.ctx)
	t.TrackFunc(cancel)

	var mu sync.Mutex
	pending := make(map[host.TabID]*lifetime.Signal)

	t.TrackFunc(c.browser.OnTabCreated(func(ev host.TabCreated) {
		opts := c.options()
		if !opts.isNewTabURL(ev.Tab.URL) {
			return
		}
		sig := lifetime.NewSignal()
		mu.Lock()
		pending[ev.Tab.ID] = sig
		mu.Unlock()

		go func(tab host.Tab, wait time.Duration) {
			defer func() {
				mu.Lock()
				if pending[tab.ID] == sig {
					delete(pending, tab.ID)
				}
				mu.Unlock()
			}()
			loaded, err := lifetime.WaitOrTimeout(ctx, sig, wait)
			if err != nil {
				return
			}
			if w, ok := c.Wrapper(tab.WindowID); ok {
				slog.Debug("titler new tab fix", "window_id", tab.WindowID, "tab_id", tab.ID, "loaded", loaded)
				w.ForceSetTitlePrefix(true)
			}
		}(ev.Tab, opts.NewTabFix.LoadWait)
	}))
	t.TrackFunc(c.browser.OnTabUpdated(func(ev host.TabUpdated) {
		if ev.Status != host.TabStatusComplete {
			return
		}
		mu.Lock()
		sig := pending[ev.TabID]
		mu.Unlock()
		if sig != nil {
			sig.Resolve()
		}
	}))
}

func (c *Collection) registerFocusListeners(t *lifetime.Tracker) {
	t.TrackFunc(c.browser.OnWindowFocusChanged(func(ev host.WindowFocusChanged) {
		if ev.WindowID == host.NoWindow {
			return
		}
		if w, ok := c.Wrapper(ev.WindowID); ok {
			w.ForceSetTitlePrefix(false)
		}
	}))
}
