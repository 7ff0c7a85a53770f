package titler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/window_titler/internal/debounce"
	"github.com/dgnsrekt/window_titler/internal/event"
	"github.com/dgnsrekt/window_titler/internal/format"
	"github.com/dgnsrekt/window_titler/internal/host"
	"github.com/dgnsrekt/window_titler/internal/lifetime"
)

// DataField names the session value behind a WindowDataChange.
type DataField string

const (
	FieldName     DataField = "name"
	FieldSettings DataField = "settings"
)

// TabCountChange is fired when a window's displayed tab count changes.
type TabCountChange struct {
	Window   *Wrapper
	Old, New int
}

// ActiveTabChange is fired when the index of the active tab changes.
type ActiveTabChange struct {
	Window   *Wrapper
	Old, New int
}

// WindowDataChange is fired when the window name or settings change.
type WindowDataChange struct {
	Window *Wrapper
	Field  DataField
}

type wrapperDeps struct {
	dir     host.Directory
	writer  host.TitleWriter
	store   host.SessionStore
	options func() *Options
}

// Wrapper tracks one browser window: its tab count, active tab, session data
// and the title prefix last written for it. After Dispose every method is a
// no-op.
type Wrapper struct {
	id        host.WindowID
	typ       host.WindowType
	incognito bool
	deps      wrapperDeps

	ctx     context.Context
	cancel  context.CancelFunc
	tracker *lifetime.Tracker

	tabSched    *debounce.Scheduler[recountRequest]
	activeSched *debounce.Scheduler[struct{}]
	titleSched  *debounce.Scheduler[struct{}]

	name     *SessionValue[string]
	settings *SessionValue[WindowSettings]

	sessionReady chan struct{}

	mu           sync.Mutex
	disposed     bool
	restored     bool
	tabs         map[host.TabID]struct{}
	ignored      map[host.TabID]*lifetime.Timer
	tracking     bool
	querying     bool
	queryAdded   map[host.TabID]struct{}
	queryRemoved map[host.TabID]struct{}
	reconciling  bool
	activeIndex  int
	wantedTitle  string
	forceTitle   bool
	lastTitle    string
	hasLastTitle bool
	countPrefix  string
	nameInfo     format.Info
	overrideInfo format.Info
	hasOverride  bool

	tabCountChanged   event.Event[TabCountChange]
	activeTabChanged  event.Event[ActiveTabChange]
	windowDataChanged event.Event[WindowDataChange]
	disposedEv        event.Event[*Wrapper]
}

func newWrapper(parent context.Context, win host.Window, deps wrapperDeps) *Wrapper {
	ctx, cancel := context.WithCancel(parent)
	w := &Wrapper{
		id:           win.ID,
		typ:          win.Type,
		incognito:    win.Incognito,
		deps:         deps,
		ctx:          ctx,
		cancel:       cancel,
		tracker:      lifetime.NewTracker(),
		sessionReady: make(chan struct{}),
		tabs:         make(map[host.TabID]struct{}, len(win.Tabs)),
		ignored:      make(map[host.TabID]*lifetime.Timer),
	}
	for _, t := range win.Tabs {
		w.tabs[t.ID] = struct{}{}
		if t.Active {
			w.activeIndex = t.Index
		}
	}
	w.tracking = w.reconcileAllowedLocked()
	w.tabCountChanged.SetName("tab_count_changed")
	w.activeTabChanged.SetName("active_tab_changed")
	w.windowDataChanged.SetName("window_data_changed")
	w.disposedEv.SetName("wrapper_disposed")

	blockTime := func() time.Duration { return deps.options().BlockTime }
	w.tabSched = debounce.New(ctx, w.reconcileTabs, debounce.Options{BlockTime: blockTime, Name: "tab_count"})
	w.activeSched = debounce.New(ctx, w.queryActiveTab, debounce.Options{BlockTime: blockTime, Name: "active_tab"})
	w.titleSched = debounce.New(ctx, w.writeTitle, debounce.Options{BlockTime: blockTime, Name: "title"})
	w.tracker.Track(w.tabSched)
	w.tracker.Track(w.activeSched)
	w.tracker.Track(w.titleSched)

	w.name = NewSessionValue[string](deps.store, w.id, KeyWindowName)
	w.settings = NewSessionValue[WindowSettings](deps.store, w.id, KeyWindowSettings)
	w.tracker.Track(w.name)
	w.tracker.Track(w.settings)
	w.name.OnChanged(func(name string) {
		w.mu.Lock()
		w.nameInfo = format.NewInfo(name)
		w.mu.Unlock()
		w.fireDataChanged(FieldName)
	})
	w.settings.OnChanged(func(s WindowSettings) {
		w.mu.Lock()
		w.overrideInfo = overrideInfo(s)
		w.hasOverride = s.HasOverride()
		w.mu.Unlock()
		w.fireDataChanged(FieldSettings)
	})

	if deps.store != nil {
		go w.loadSession(ctx)
	} else {
		close(w.sessionReady)
	}
	return w
}

func overrideInfo(s WindowSettings) format.Info {
	if !s.HasOverride() {
		return format.Info{}
	}
	return format.NewInfo(s.WindowPrefixFormat.Value)
}

// ID returns the window id.
func (w *Wrapper) ID() host.WindowID { return w.id }

// Type returns the window type reported at discovery.
func (w *Wrapper) Type() host.WindowType { return w.typ }

// Incognito reports whether the window is private.
func (w *Wrapper) Incognito() bool { return w.incognito }

// IsDisposed reports whether the wrapper was disposed.
func (w *Wrapper) IsDisposed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.disposed
}

// IsRestored reports whether the window had been seen before in this browser
// session. It is only meaningful after SessionReady is closed.
func (w *Wrapper) IsRestored() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.restored
}

// SessionReady is closed once the session values finished loading.
func (w *Wrapper) SessionReady() <-chan struct{} { return w.sessionReady }

// ActiveTabIndex returns the zero based index of the active tab.
func (w *Wrapper) ActiveTabIndex() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeIndex
}

// Name returns the window name.
func (w *Wrapper) Name() string { return w.name.Get() }

// Settings returns the window settings.
func (w *Wrapper) Settings() WindowSettings { return w.settings.Get() }

// SetName changes the window name and persists it.
func (w *Wrapper) SetName(ctx context.Context, name string) {
	if w.IsDisposed() {
		return
	}
	w.name.Set(ctx, name)
}

// SetSettings changes the window settings and persists them.
func (w *Wrapper) SetSettings(ctx context.Context, s WindowSettings) {
	if w.IsDisposed() {
		return
	}
	w.settings.Set(ctx, s)
}

// ReloadSessionData re-reads name and settings from the session store.
func (w *Wrapper) ReloadSessionData(ctx context.Context) {
	if w.IsDisposed() {
		return
	}
	w.name.Reload(ctx)
	w.settings.Reload(ctx)
}

// LastTitlePrefix returns the prefix last written to the host.
func (w *Wrapper) LastTitlePrefix() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastTitle
}

// OnTabCountChanged registers fn for tab count changes.
func (w *Wrapper) OnTabCountChanged(fn func(TabCountChange)) func() {
	return w.tabCountChanged.Subscribe(fn)
}

// OnActiveTabChanged registers fn for active tab index changes.
func (w *Wrapper) OnActiveTabChanged(fn func(ActiveTabChange)) func() {
	return w.activeTabChanged.Subscribe(fn)
}

// OnWindowDataChanged registers fn for name and settings changes.
func (w *Wrapper) OnWindowDataChanged(fn func(WindowDataChange)) func() {
	return w.windowDataChanged.Subscribe(fn)
}

// OnDisposed registers fn to run when the wrapper is disposed.
func (w *Wrapper) OnDisposed(fn func(*Wrapper)) func() {
	return w.disposedEv.Subscribe(fn)
}

// CheckActiveTab schedules a query for the active tab.
func (w *Wrapper) CheckActiveTab() {
	w.activeSched.Invalidate(struct{}{})
}

func (w *Wrapper) queryActiveTab(ctx context.Context, _ struct{}) bool {
	tab, err := w.deps.dir.ActiveTab(ctx, w.id)
	if err != nil {
		logHostError("titler active tab query failed", w.id, err)
		return true
	}

	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return true
	}
	old := w.activeIndex
	w.activeIndex = tab.Index
	w.mu.Unlock()

	if old != tab.Index {
		w.activeTabChanged.Fire(ActiveTabChange{Window: w, Old: old, New: tab.Index})
	}
	return false
}

// SetTitlePrefix schedules a write of value. Repeated values collapse into
// one host write.
func (w *Wrapper) SetTitlePrefix(value string) {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	w.wantedTitle = value
	w.mu.Unlock()
	w.titleSched.Invalidate(struct{}{})
}

// ForceSetTitlePrefix makes the next write unconditional. With immediate the
// write also skips the block period.
func (w *Wrapper) ForceSetTitlePrefix(immediate bool) {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	w.forceTitle = true
	w.mu.Unlock()
	if immediate {
		w.titleSched.ForceUpdate(struct{}{})
		return
	}
	w.titleSched.Invalidate(struct{}{})
}

// ClearTitlePrefix writes an empty prefix right away, bypassing the scheduler.
func (w *Wrapper) ClearTitlePrefix(ctx context.Context) error {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return nil
	}
	w.wantedTitle = ""
	w.mu.Unlock()

	if err := w.writePreface(ctx, ""); err != nil {
		return err
	}
	w.mu.Lock()
	w.lastTitle = ""
	w.hasLastTitle = true
	w.mu.Unlock()
	return nil
}

func (w *Wrapper) writeTitle(ctx context.Context, _ struct{}) bool {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return true
	}
	value := w.wantedTitle
	force := w.forceTitle
	if !force && w.hasLastTitle && value == w.lastTitle {
		w.mu.Unlock()
		return true
	}
	w.forceTitle = false
	w.mu.Unlock()

	if err := w.writePreface(ctx, value); err != nil {
		logHostError("titler title write failed", w.id, err)
		return false
	}

	w.mu.Lock()
	w.lastTitle = value
	w.hasLastTitle = true
	w.mu.Unlock()
	slog.Debug("titler title written", "window_id", w.id, "prefix", value, "forced", force)
	return false
}

// writePreface clears with a space first since the host may ignore a change
// straight to the empty string.
func (w *Wrapper) writePreface(ctx context.Context, value string) error {
	if value == "" {
		if err := w.deps.writer.SetTitlePreface(ctx, w.id, " "); err != nil {
			return err
		}
	}
	return w.deps.writer.SetTitlePreface(ctx, w.id, value)
}

func (w *Wrapper) countPrefixValue() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.countPrefix
}

func (w *Wrapper) setCountPrefix(v string) {
	w.mu.Lock()
	w.countPrefix = v
	w.mu.Unlock()
}

// formatInfos returns the info of the window name and of the override format.
// ok is false when there is no override.
func (w *Wrapper) formatInfos() (name, override format.Info, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nameInfo, w.overrideInfo, w.hasOverride
}

func (w *Wrapper) loadSession(ctx context.Context) {
	defer close(w.sessionReady)

	restored := w.checkRestored(ctx)
	w.mu.Lock()
	w.restored = restored
	w.mu.Unlock()

	defaultName := w.deps.options().WindowData.DefaultName
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.name.Load(gctx, !restored, defaultName)
		return nil
	})
	g.Go(func() error {
		w.settings.Load(gctx, !restored, WindowSettings{})
		return nil
	})
	_ = g.Wait()
}

// checkRestored looks for the restored marker and sets it when missing.
// Failing to write the marker is ignored.
func (w *Wrapper) checkRestored(ctx context.Context) bool {
	store := w.deps.store
	_, found, err := store.GetWindowValue(ctx, w.id, KeyRestored)
	if err != nil {
		slog.Warn("titler restored marker read failed", "window_id", w.id, "error", err)
		return false
	}
	if found {
		return true
	}
	if err := store.SetWindowValue(ctx, w.id, KeyRestored, []byte("true")); err != nil {
		slog.Debug("titler restored marker write failed", "window_id", w.id, "error", err)
	}
	return false
}

func (w *Wrapper) fireDataChanged(field DataField) {
	if w.IsDisposed() {
		return
	}
	w.windowDataChanged.Fire(WindowDataChange{Window: w, Field: field})
}

// Dispose stops all scheduled work and timers and fires the disposed event.
func (w *Wrapper) Dispose() {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	w.disposed = true
	w.ignored = make(map[host.TabID]*lifetime.Timer)
	w.mu.Unlock()

	w.tracker.Dispose()
	w.cancel()
	w.disposedEv.Fire(w)

	w.tabCountChanged.Clear()
	w.activeTabChanged.Clear()
	w.windowDataChanged.Clear()
	w.disposedEv.Clear()
}

// Wait blocks until no scheduled work is running. Used on shutdown and in tests.
func (w *Wrapper) Wait() {
	w.tabSched.Wait()
	w.activeSched.Wait()
	w.titleSched.Wait()
}

func logHostError(msg string, windowID host.WindowID, err error) {
	switch {
	case errors.Is(err, host.ErrNotFound), errors.Is(err, context.Canceled):
		slog.Debug(msg, "window_id", windowID, "error", err)
	default:
		slog.Warn(msg, "window_id", windowID, "error", err)
	}
}
