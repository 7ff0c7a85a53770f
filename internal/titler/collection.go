// Package titler keeps a title prefix on every browser window, derived from
// per-window tab counts, names and settings and a user format string.
package titler

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/window_titler/internal/format"
	"github.com/dgnsrekt/window_titler/internal/host"
	"github.com/dgnsrekt/window_titler/internal/lifetime"
)

// ErrWindowNotTracked is returned by operations addressing an unknown window.
var ErrWindowNotTracked = errors.New("titler: window not tracked")

// Config wires a Collection to its host.
type Config struct {
	Browser host.Browser
	// Session may be nil, in which case names and settings live in memory.
	Session host.SessionStore
	Options Options
}

// needs are the listener groups the current format and settings require.
type needs struct {
	windows   bool
	tabs      bool
	active    bool
	newTabFix bool
	focus     bool
}

// Collection owns one Wrapper per tracked window and keeps their prefixes
// up to date.
type Collection struct {
	browser host.Browser
	session host.SessionStore
	opts    atomic.Pointer[Options]

	ctx    context.Context
	cancel context.CancelFunc

	// renderMu serializes title passes.
	renderMu sync.Mutex

	mu           sync.Mutex
	disposed     bool
	wrappers     []*Wrapper
	byID         map[host.WindowID]*Wrapper
	unsubs       map[host.WindowID]func()
	info         *format.Info
	enumerating  bool
	removedEarly map[host.WindowID]struct{}

	windowGroup    listenerGroup
	tabGroup       listenerGroup
	activeGroup    listenerGroup
	newTabFixGroup listenerGroup
	focusGroup     listenerGroup
}

// New creates a collection. Nothing is tracked until Start.
func New(parent context.Context, cfg Config) *Collection {
	ctx, cancel := context.WithCancel(parent)
	c := &Collection{
		browser:        cfg.Browser,
		session:        cfg.Session,
		ctx:            ctx,
		cancel:         cancel,
		byID:           make(map[host.WindowID]*Wrapper),
		unsubs:         make(map[host.WindowID]func()),
		windowGroup:    listenerGroup{name: "windows"},
		tabGroup:       listenerGroup{name: "tabs"},
		activeGroup:    listenerGroup{name: "active_tab"},
		newTabFixGroup: listenerGroup{name: "new_tab_fix"},
		focusGroup:     listenerGroup{name: "focus"},
	}
	opts := cfg.Options
	c.opts.Store(&opts)
	return c
}

// Options returns the options in effect.
func (c *Collection) Options() Options {
	return *c.opts.Load()
}

func (c *Collection) options() *Options {
	return c.opts.Load()
}

// Start subscribes to what the format needs and discovers existing windows.
func (c *Collection) Start() {
	c.startNeededListeners()
}

// IsDisposed reports whether Dispose was called.
func (c *Collection) IsDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// Dispose stops every listener group and disposes every wrapper once.
func (c *Collection) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.stopAllGroupsLocked()
	wrappers := c.detachAllLocked()
	c.mu.Unlock()

	for _, w := range wrappers {
		w.Dispose()
	}
	c.cancel()
	slog.Info("titler collection disposed", "windows", len(wrappers))
}

// Wrappers returns the tracked wrappers sorted by window id.
func (c *Collection) Wrappers() []*Wrapper {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.wrappers)
}

// Wrapper returns the wrapper of id.
func (c *Collection) Wrapper(id host.WindowID) (*Wrapper, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.byID[id]
	return w, ok
}

// computeNeedsLocked derives the listener groups from the effective format.
func (c *Collection) computeNeedsLocked() needs {
	opts := c.options()
	info := c.formatInfoLocked()
	var n needs
	n.windows = format.NewInfo(opts.TitleFormat).HasText() || opts.WindowData.Enabled
	if !n.windows {
		return n
	}
	n.tabs = info.HasAny(format.KindTabCount, format.KindTotalTabCount)
	n.active = info.Has(format.KindActiveTabIndex)
	n.newTabFix = opts.NewTabFix.Enabled
	n.focus = n.newTabFix && opts.NewTabFix.RefreshOnFocus
	return n
}

// startNeededListeners starts and stops listener groups to match what the
// current format and settings need.
func (c *Collection) startNeededListeners() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	n := c.computeNeedsLocked()

	var dropped []*Wrapper
	startedWindows := false
	if n.windows {
		startedWindows = c.windowGroup.start(c.registerWindowListeners)
	} else if c.windowGroup.active() {
		c.windowGroup.stop()
		dropped = c.detachAllLocked()
	}
	startedTabs := c.toggleLocked(&c.tabGroup, n.tabs, c.registerTabListeners)
	startedActive := c.toggleLocked(&c.activeGroup, n.active, c.registerActiveListeners)
	c.toggleLocked(&c.newTabFixGroup, n.newTabFix, c.registerNewTabFixListeners)
	c.toggleLocked(&c.focusGroup, n.focus, c.registerFocusListeners)
	existing := slices.Clone(c.wrappers)
	c.mu.Unlock()

	for _, w := range dropped {
		w.Dispose()
	}
	if startedWindows {
		slog.Debug("titler listeners started", "tabs", n.tabs, "active", n.active, "new_tab_fix", n.newTabFix, "focus", n.focus)
		go c.loadWindows()
		return
	}
	for _, w := range existing {
		if startedTabs {
			w.RecountTabs(true)
		}
		if startedActive {
			w.CheckActiveTab()
		}
	}
}

func (c *Collection) toggleLocked(g *listenerGroup, want bool, register func(*lifetime.Tracker)) bool {
	if want {
		return g.start(register)
	}
	g.stop()
	return false
}

func (c *Collection) stopAllGroupsLocked() {
	c.focusGroup.stop()
	c.newTabFixGroup.stop()
	c.activeGroup.stop()
	c.tabGroup.stop()
	c.windowGroup.stop()
}

// detachAllLocked forgets every wrapper and returns them for disposal.
func (c *Collection) detachAllLocked() []*Wrapper {
	wrappers := c.wrappers
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.wrappers = nil
	c.byID = make(map[host.WindowID]*Wrapper)
	c.unsubs = make(map[host.WindowID]func())
	c.info = nil
	return wrappers
}

// loadWindows enumerates the existing windows and wraps every one not already
// known. Windows removed during the enumeration are skipped.
func (c *Collection) loadWindows() {
	c.mu.Lock()
	c.enumerating = true
	c.removedEarly = make(map[host.WindowID]struct{})
	c.mu.Unlock()

	windows, err := c.browser.Windows(c.ctx, true)

	c.mu.Lock()
	removed := c.removedEarly
	c.enumerating = false
	c.removedEarly = nil
	c.mu.Unlock()

	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Error("titler window enumeration failed", "error", err)
		}
		return
	}

	var added []*Wrapper
	for _, win := range windows {
		if _, gone := removed[win.ID]; gone {
			continue
		}
		if w, ok := c.addWindow(win); ok {
			added = append(added, w)
		}
	}
	slog.Info("titler windows discovered", "windows", len(windows), "tracked", len(added))
	c.updateWindowTitles(nil)
}

// addWindow wraps win unless it is already tracked or the collection stopped
// tracking windows.
func (c *Collection) addWindow(win host.Window) (*Wrapper, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || !c.windowGroup.active() {
		return nil, false
	}
	if _, ok := c.byID[win.ID]; ok {
		return nil, false
	}

	var store host.SessionStore
	if c.options().WindowData.Enabled {
		store = c.session
	}
	w := newWrapper(c.ctx, win, wrapperDeps{
		dir:     c.browser,
		writer:  c.browser,
		store:   store,
		options: c.options,
	})

	unsubs := []func(){
		w.OnTabCountChanged(func(ev TabCountChange) { c.onWrapperChanged(ev.Window, categoryTabCount) }),
		w.OnActiveTabChanged(func(ev ActiveTabChange) { c.onWrapperChanged(ev.Window, categoryActiveTab) }),
		w.OnWindowDataChanged(c.onWindowDataChanged),
	}
	c.unsubs[w.id] = func() {
		for _, u := range unsubs {
			u()
		}
	}

	i, _ := slices.BinarySearchFunc(c.wrappers, w.id, func(x *Wrapper, id host.WindowID) int {
		return compareIDs(x.id, id)
	})
	c.wrappers = slices.Insert(c.wrappers, i, w)
	c.byID[w.id] = w
	c.info = nil

	if win.Tabs == nil && c.tabGroup.active() {
		w.RecountTabs(false)
	}
	if c.activeGroup.active() {
		w.CheckActiveTab()
	}
	return w, true
}

// removeWindow drops the wrapper of id and disposes it.
func (c *Collection) removeWindow(id host.WindowID) {
	c.mu.Lock()
	if c.enumerating {
		c.removedEarly[id] = struct{}{}
	}
	w, ok := c.byID[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.byID, id)
	if unsub, ok := c.unsubs[id]; ok {
		unsub()
		delete(c.unsubs, id)
	}
	c.wrappers = slices.DeleteFunc(c.wrappers, func(x *Wrapper) bool { return x == w })
	c.info = nil
	c.mu.Unlock()

	w.Dispose()
}

func compareIDs(a, b host.WindowID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// listenerGroup is a set of host subscriptions started and stopped together.
type listenerGroup struct {
	name    string
	tracker *lifetime.Tracker
}

func (g *listenerGroup) active() bool { return g.tracker != nil }

// start registers the group once. It reports whether it started now.
func (g *listenerGroup) start(register func(*lifetime.Tracker)) bool {
	if g.tracker != nil {
		return false
	}
	g.tracker = lifetime.NewTracker()
	register(g.tracker)
	return true
}

func (g *listenerGroup) stop() {
	if g.tracker == nil {
		return
	}
	g.tracker.Dispose()
	g.tracker = nil
}
