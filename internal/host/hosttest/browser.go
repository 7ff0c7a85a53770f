// Package hosttest provides in-memory host implementations for tests.
package hosttest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dgnsrekt/window_titler/internal/event"
	"github.com/dgnsrekt/window_titler/internal/host"
)

// TitleWrite records one SetTitlePreface call.
type TitleWrite struct {
	WindowID host.WindowID
	Preface  string
}

type fakeWindow struct {
	id        host.WindowID
	typ       host.WindowType
	incognito bool
	tabs      []host.TabID
	active    host.TabID
}

type ghost struct {
	windowID host.WindowID
	until    time.Time
}

// Browser is a scriptable in-memory browser. Mutators fire the matching
// events synchronously on the calling goroutine, after releasing the lock.
type Browser struct {
	mu        sync.Mutex
	nextWin   host.WindowID
	nextTab   int
	windows   map[host.WindowID]*fakeWindow
	order     []host.WindowID
	tabs      map[host.TabID]*host.Tab
	focused   host.WindowID
	titles    map[host.WindowID]string
	writes    []TitleWrite
	queries   map[host.WindowID]int
	ghosts    map[host.TabID]ghost
	lag       time.Duration
	delay     time.Duration
	tabsHook  func(host.WindowID)
	activeQs  int
	windowsQs int

	windowCreated event.Event[host.WindowCreated]
	windowRemoved event.Event[host.WindowRemoved]
	focusChanged  event.Event[host.WindowFocusChanged]
	tabCreated    event.Event[host.TabCreated]
	tabRemoved    event.Event[host.TabRemoved]
	tabAttached   event.Event[host.TabAttached]
	tabDetached   event.Event[host.TabDetached]
	tabUpdated    event.Event[host.TabUpdated]
	tabActivated  event.Event[host.TabActivated]
	tabMoved      event.Event[host.TabMoved]
}

var _ host.Browser = (*Browser)(nil)

// NewBrowser returns an empty browser.
func NewBrowser() *Browser {
	return &Browser{
		nextWin: 1,
		windows: make(map[host.WindowID]*fakeWindow),
		tabs:    make(map[host.TabID]*host.Tab),
		focused: host.NoWindow,
		titles:  make(map[host.WindowID]string),
		queries: make(map[host.WindowID]int),
		ghosts:  make(map[host.TabID]ghost),
	}
}

// SetRemovalLag makes removed or moved tabs keep showing up in Tabs results
// of their old window for d.
func (b *Browser) SetRemovalLag(d time.Duration) {
	b.mu.Lock()
	b.lag = d
	b.mu.Unlock()
}

// SetQueryDelay delays every directory query by d.
func (b *Browser) SetQueryDelay(d time.Duration) {
	b.mu.Lock()
	b.delay = d
	b.mu.Unlock()
}

// SetTabsHook runs fn after each Tabs query has taken its snapshot and
// before it returns, so events can land while the query is in flight.
func (b *Browser) SetTabsHook(fn func(host.WindowID)) {
	b.mu.Lock()
	b.tabsHook = fn
	b.mu.Unlock()
}

// AddWindow creates a window holding n tabs (at least one) and fires
// window-created followed by tab-created for each tab.
func (b *Browser) AddWindow(typ host.WindowType, incognito bool, n int) host.WindowID {
	if n < 1 {
		n = 1
	}
	b.mu.Lock()
	w := &fakeWindow{id: b.nextWin, typ: typ, incognito: incognito}
	b.nextWin++
	b.windows[w.id] = w
	b.order = append(b.order, w.id)
	created := make([]host.Tab, 0, n)
	for i := 0; i < n; i++ {
		created = append(created, b.newTabLocked(w, "about:blank"))
	}
	w.active = created[0].ID
	b.tabs[w.active].Active = true
	snapshot := b.windowLocked(w, false)
	b.mu.Unlock()

	b.windowCreated.Fire(host.WindowCreated{Window: snapshot})
	for _, t := range created {
		b.tabCreated.Fire(host.TabCreated{Tab: t})
	}
	return w.id
}

// AddTab appends a tab to windowID and fires tab-created.
func (b *Browser) AddTab(windowID host.WindowID, url string) host.TabID {
	b.mu.Lock()
	w, ok := b.windows[windowID]
	if !ok {
		b.mu.Unlock()
		panic(fmt.Sprintf("hosttest: unknown window %d", windowID))
	}
	t := b.newTabLocked(w, url)
	b.mu.Unlock()

	b.tabCreated.Fire(host.TabCreated{Tab: t})
	return t.ID
}

// RemoveTab closes a tab and fires tab-removed.
func (b *Browser) RemoveTab(id host.TabID) {
	b.mu.Lock()
	t, ok := b.tabs[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	windowID := t.WindowID
	b.detachLocked(id)
	delete(b.tabs, id)
	b.mu.Unlock()

	b.tabRemoved.Fire(host.TabRemoved{TabID: id, WindowID: windowID})
}

// MoveTab moves a tab to another window and fires detached then attached.
func (b *Browser) MoveTab(id host.TabID, to host.WindowID) {
	b.mu.Lock()
	t, ok := b.tabs[id]
	dst, dstOK := b.windows[to]
	if !ok || !dstOK {
		b.mu.Unlock()
		return
	}
	from := t.WindowID
	oldPos := b.detachLocked(id)
	dst.tabs = append(dst.tabs, id)
	t.WindowID = to
	t.Active = false
	newPos := len(dst.tabs) - 1
	b.reindexLocked(dst)
	b.mu.Unlock()

	b.tabDetached.Fire(host.TabDetached{TabID: id, OldWindowID: from, OldPosition: oldPos})
	b.tabAttached.Fire(host.TabAttached{TabID: id, NewWindowID: to, NewPosition: newPos})
}

// ReorderTab moves a tab within its window and fires tab-moved.
func (b *Browser) ReorderTab(id host.TabID, to int) {
	b.mu.Lock()
	t, ok := b.tabs[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	w := b.windows[t.WindowID]
	from := slices.Index(w.tabs, id)
	w.tabs = slices.Delete(w.tabs, from, from+1)
	to = min(max(to, 0), len(w.tabs))
	w.tabs = slices.Insert(w.tabs, to, id)
	b.reindexLocked(w)
	windowID := w.id
	b.mu.Unlock()

	b.tabMoved.Fire(host.TabMoved{TabID: id, WindowID: windowID, FromIndex: from, ToIndex: to})
}

// RemoveWindow closes a window, firing tab-removed for each tab with
// IsWindowClosing set and then window-removed.
func (b *Browser) RemoveWindow(id host.WindowID) {
	b.mu.Lock()
	w, ok := b.windows[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	tabIDs := slices.Clone(w.tabs)
	for _, tid := range tabIDs {
		delete(b.tabs, tid)
	}
	delete(b.windows, id)
	b.order = slices.DeleteFunc(b.order, func(x host.WindowID) bool { return x == id })
	if b.focused == id {
		b.focused = host.NoWindow
	}
	b.mu.Unlock()

	for _, tid := range tabIDs {
		b.tabRemoved.Fire(host.TabRemoved{TabID: tid, WindowID: id, IsWindowClosing: true})
	}
	b.windowRemoved.Fire(host.WindowRemoved{WindowID: id})
}

// Activate makes a tab the active one of its window.
func (b *Browser) Activate(id host.TabID) {
	b.mu.Lock()
	t, ok := b.tabs[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	w := b.windows[t.WindowID]
	if prev, ok := b.tabs[w.active]; ok {
		prev.Active = false
	}
	w.active = id
	t.Active = true
	windowID := w.id
	b.mu.Unlock()

	b.tabActivated.Fire(host.TabActivated{TabID: id, WindowID: windowID})
}

// Focus gives a window focus, or clears focus for host.NoWindow.
func (b *Browser) Focus(id host.WindowID) {
	b.mu.Lock()
	b.focused = id
	b.mu.Unlock()
	b.focusChanged.Fire(host.WindowFocusChanged{WindowID: id})
}

// CompleteLoad marks a tab loaded and fires tab-updated.
func (b *Browser) CompleteLoad(id host.TabID) {
	b.mu.Lock()
	t, ok := b.tabs[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	t.Status = host.TabStatusComplete
	ev := host.TabUpdated{TabID: id, WindowID: t.WindowID, Status: host.TabStatusComplete, URL: t.URL}
	b.mu.Unlock()
	b.tabUpdated.Fire(ev)
}

// TabCount reports how many tabs windowID really has.
func (b *Browser) TabCount(windowID host.WindowID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.windows[windowID]; ok {
		return len(w.tabs)
	}
	return 0
}

// TabIDs lists the tabs of windowID in order.
func (b *Browser) TabIDs(windowID host.WindowID) []host.TabID {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.windows[windowID]; ok {
		return slices.Clone(w.tabs)
	}
	return nil
}

// Title returns the preface last written for windowID.
func (b *Browser) Title(windowID host.WindowID) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.titles[windowID]
}

// Writes returns every preface write so far.
func (b *Browser) Writes() []TitleWrite {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.writes)
}

// WritesFor returns the preface writes made for windowID.
func (b *Browser) WritesFor(windowID host.WindowID) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, w := range b.writes {
		if w.WindowID == windowID {
			out = append(out, w.Preface)
		}
	}
	return out
}

// TabQueries reports how many Tabs queries were made for windowID.
func (b *Browser) TabQueries(windowID host.WindowID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queries[windowID]
}

// ActiveTabQueries reports how many ActiveTab queries were made.
func (b *Browser) ActiveTabQueries() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeQs
}

// ListenerCount reports the total number of registered event listeners.
func (b *Browser) ListenerCount() int {
	return b.windowCreated.Len() + b.windowRemoved.Len() + b.focusChanged.Len() +
		b.tabCreated.Len() + b.tabRemoved.Len() + b.tabAttached.Len() + b.tabDetached.Len() +
		b.tabUpdated.Len() + b.tabActivated.Len() + b.tabMoved.Len()
}

// TabListenerCount reports listeners on tab-created.
func (b *Browser) TabListenerCount() int { return b.tabCreated.Len() }

// ActivatedListenerCount reports listeners on tab-activated.
func (b *Browser) ActivatedListenerCount() int { return b.tabActivated.Len() }

// FocusListenerCount reports listeners on window-focus-changed.
func (b *Browser) FocusListenerCount() int { return b.focusChanged.Len() }

// WindowListenerCount reports listeners on window-created.
func (b *Browser) WindowListenerCount() int { return b.windowCreated.Len() }

func (b *Browser) Windows(ctx context.Context, includeTabs bool) ([]host.Window, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.windowsQs++
	out := make([]host.Window, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.windowLocked(b.windows[id], includeTabs))
	}
	return out, nil
}

func (b *Browser) Tabs(ctx context.Context, windowID host.WindowID) ([]host.Tab, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.queries[windowID]++
	w, ok := b.windows[windowID]
	if !ok {
		b.mu.Unlock()
		return nil, host.ErrNotFound
	}
	out := b.tabsLocked(w)
	now := time.Now()
	for id, g := range b.ghosts {
		if now.After(g.until) {
			delete(b.ghosts, id)
			continue
		}
		if g.windowID == windowID {
			out = append(out, host.Tab{ID: id, WindowID: windowID, Index: len(out)})
		}
	}
	hook := b.tabsHook
	b.mu.Unlock()

	if hook != nil {
		hook(windowID)
	}
	return out, nil
}

func (b *Browser) ActiveTab(ctx context.Context, windowID host.WindowID) (host.Tab, error) {
	if err := b.wait(ctx); err != nil {
		return host.Tab{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeQs++
	w, ok := b.windows[windowID]
	if !ok {
		return host.Tab{}, host.ErrNotFound
	}
	t, ok := b.tabs[w.active]
	if !ok {
		return host.Tab{}, host.ErrNotFound
	}
	return *t, nil
}

func (b *Browser) LastFocusedWindow(ctx context.Context) (host.Window, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.windows[b.focused]
	if !ok {
		return host.Window{}, host.ErrNotFound
	}
	return b.windowLocked(w, false), nil
}

func (b *Browser) SetTitlePreface(ctx context.Context, windowID host.WindowID, preface string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.windows[windowID]; !ok {
		return host.ErrNotFound
	}
	b.titles[windowID] = preface
	b.writes = append(b.writes, TitleWrite{WindowID: windowID, Preface: preface})
	return nil
}

func (b *Browser) OnWindowCreated(fn func(host.WindowCreated)) func() {
	return b.windowCreated.Subscribe(fn)
}

func (b *Browser) OnWindowRemoved(fn func(host.WindowRemoved)) func() {
	return b.windowRemoved.Subscribe(fn)
}

func (b *Browser) OnWindowFocusChanged(fn func(host.WindowFocusChanged)) func() {
	return b.focusChanged.Subscribe(fn)
}

func (b *Browser) OnTabCreated(fn func(host.TabCreated)) func() { return b.tabCreated.Subscribe(fn) }

func (b *Browser) OnTabRemoved(fn func(host.TabRemoved)) func() { return b.tabRemoved.Subscribe(fn) }

func (b *Browser) OnTabAttached(fn func(host.TabAttached)) func() {
	return b.tabAttached.Subscribe(fn)
}

func (b *Browser) OnTabDetached(fn func(host.TabDetached)) func() {
	return b.tabDetached.Subscribe(fn)
}

func (b *Browser) OnTabUpdated(fn func(host.TabUpdated)) func() { return b.tabUpdated.Subscribe(fn) }

func (b *Browser) OnTabActivated(fn func(host.TabActivated)) func() {
	return b.tabActivated.Subscribe(fn)
}

func (b *Browser) OnTabMoved(fn func(host.TabMoved)) func() { return b.tabMoved.Subscribe(fn) }

func (b *Browser) wait(ctx context.Context) error {
	b.mu.Lock()
	d := b.delay
	b.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Browser) newTabLocked(w *fakeWindow, url string) host.Tab {
	b.nextTab++
	t := &host.Tab{
		ID:       host.TabID(fmt.Sprintf("tab-%d", b.nextTab)),
		WindowID: w.id,
		Index:    len(w.tabs),
		URL:      url,
		Status:   host.TabStatusLoading,
	}
	b.tabs[t.ID] = t
	w.tabs = append(w.tabs, t.ID)
	return *t
}

func (b *Browser) detachLocked(id host.TabID) int {
	t := b.tabs[id]
	w := b.windows[t.WindowID]
	pos := slices.Index(w.tabs, id)
	if pos >= 0 {
		w.tabs = slices.Delete(w.tabs, pos, pos+1)
	}
	if b.lag > 0 {
		b.ghosts[id] = ghost{windowID: w.id, until: time.Now().Add(b.lag)}
	}
	if w.active == id {
		w.active = ""
		if len(w.tabs) > 0 {
			w.active = w.tabs[0]
			b.tabs[w.active].Active = true
		}
	}
	b.reindexLocked(w)
	return pos
}

func (b *Browser) reindexLocked(w *fakeWindow) {
	for i, id := range w.tabs {
		b.tabs[id].Index = i
	}
}

func (b *Browser) tabsLocked(w *fakeWindow) []host.Tab {
	out := make([]host.Tab, 0, len(w.tabs))
	for _, id := range w.tabs {
		out = append(out, *b.tabs[id])
	}
	return out
}

func (b *Browser) windowLocked(w *fakeWindow, includeTabs bool) host.Window {
	out := host.Window{ID: w.id, Type: w.typ, Incognito: w.incognito, Focused: b.focused == w.id}
	if includeTabs {
		out.Tabs = b.tabsLocked(w)
	}
	return out
}
