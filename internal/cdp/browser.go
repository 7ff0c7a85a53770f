package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cdptypes "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/window_titler/internal/event"
	"github.com/dgnsrekt/window_titler/internal/host"
)

const defaultCallTimeout = 5 * time.Second

// Config configures the connection to the browser.
type Config struct {
	// HTTPBase is the DevTools HTTP endpoint, e.g. http://127.0.0.1:9222.
	HTTPBase string
	// PollInterval paces the active tab and focus poller.
	PollInterval time.Duration
	// CallTimeout bounds every command sent on behalf of an event.
	CallTimeout time.Duration
}

type tabState struct {
	id        host.TabID
	windowID  host.WindowID
	url       string
	title     string
	status    string
	sessionID string
	scriptID  string
}

type windowState struct {
	id         host.WindowID
	typ        host.WindowType
	incognito  bool
	tabs       []host.TabID
	active     host.TabID
	preface    string
	hasPreface bool
}

// Browser is a host.Browser backed by one browser-level CDP connection.
// Windows and tabs are derived from page targets.
type Browser struct {
	conn        *conn
	info        VersionInfo
	interval    time.Duration
	callTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	unsubs []func()

	mu       sync.Mutex
	windows  map[host.WindowID]*windowState
	order    []host.WindowID
	tabs     map[host.TabID]*tabState
	contexts map[cdptypes.BrowserContextID]bool
	focused  host.WindowID

	pollMu     sync.Mutex
	pollCancel context.CancelFunc
	pollDone   chan struct{}

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

// Connect attaches to the browser at cfg.HTTPBase, loads the current page
// targets and starts target discovery.
func Connect(ctx context.Context, cfg Config) (*Browser, error) {
	c := newConn(cfg.HTTPBase)
	info, err := c.version(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.dial(ctx, info.WebSocketURL); err != nil {
		return nil, err
	}

	bctx, cancel := context.WithCancel(context.Background())
	b := &Browser{
		conn:        c,
		info:        info,
		interval:    cfg.PollInterval,
		callTimeout: cfg.CallTimeout,
		ctx:         bctx,
		cancel:      cancel,
		windows:     make(map[host.WindowID]*windowState),
		tabs:        make(map[host.TabID]*tabState),
		contexts:    make(map[cdptypes.BrowserContextID]bool),
		focused:     host.NoWindow,
	}
	b.nameEvents()
	if b.callTimeout <= 0 {
		b.callTimeout = defaultCallTimeout
	}
	if b.interval <= 0 {
		b.interval = time.Second
	}

	b.unsubs = append(b.unsubs,
		c.on("Target.targetCreated", b.handleTargetCreated),
		c.on("Target.targetDestroyed", b.handleTargetDestroyed),
		c.on("Target.targetInfoChanged", b.handleTargetInfoChanged),
		c.on("Target.detachedFromTarget", b.handleDetached),
	)

	if err := b.refreshContexts(ctx); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.loadTargets(ctx); err != nil {
		b.Close()
		return nil, err
	}
	if _, err := c.send(ctx, "", "Target.setDiscoverTargets", &target.SetDiscoverTargetsParams{Discover: true}); err != nil {
		b.Close()
		return nil, fmt.Errorf("cdp: discover targets: %w", err)
	}

	version, build := info.Version()
	b.mu.Lock()
	windows, tabs := len(b.windows), len(b.tabs)
	b.mu.Unlock()
	slog.Info("cdp connect ok", "browser", info.Browser, "version", version, "build", build, "windows", windows, "tabs", tabs)
	return b, nil
}

func (b *Browser) nameEvents() {
	b.windowCreated.SetName("window_created")
	b.windowRemoved.SetName("window_removed")
	b.focusChanged.SetName("window_focus_changed")
	b.tabCreated.SetName("tab_created")
	b.tabRemoved.SetName("tab_removed")
	b.tabAttached.SetName("tab_attached")
	b.tabDetached.SetName("tab_detached")
	b.tabUpdated.SetName("tab_updated")
	b.tabActivated.SetName("tab_activated")
	b.tabMoved.SetName("tab_moved")
}

// Info returns the browser description.
func (b *Browser) Info() VersionInfo { return b.info }

// Environment returns the browser placeholder values.
func (b *Browser) Environment() host.Environment {
	version, build := b.info.Version()
	return host.Environment{BrowserVersion: version, BrowserBuild: build}
}

// Done is closed when the connection to the browser is lost.
func (b *Browser) Done() <-chan struct{} { return b.conn.done() }

// Close stops the poller and closes the connection.
func (b *Browser) Close() {
	b.cancel()
	b.stopPoller()
	for _, u := range b.unsubs {
		u()
	}
	b.conn.close()
}

func (b *Browser) call(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	return b.conn.send(ctx, sessionID, method, params)
}

func (b *Browser) OnWindowCreated(fn func(host.WindowCreated)) func() {
	return b.windowCreated.Subscribe(fn)
}

func (b *Browser) OnWindowRemoved(fn func(host.WindowRemoved)) func() {
	return b.windowRemoved.Subscribe(fn)
}

// OnWindowFocusChanged also keeps the poller running while subscribed.
func (b *Browser) OnWindowFocusChanged(fn func(host.WindowFocusChanged)) func() {
	unsub := b.focusChanged.Subscribe(fn)
	b.syncPoller()
	return func() {
		unsub()
		b.syncPoller()
	}
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

// OnTabActivated also keeps the poller running while subscribed.
func (b *Browser) OnTabActivated(fn func(host.TabActivated)) func() {
	unsub := b.tabActivated.Subscribe(fn)
	b.syncPoller()
	return func() {
		unsub()
		b.syncPoller()
	}
}

// OnTabMoved never fires: page targets carry no tab strip position.
func (b *Browser) OnTabMoved(fn func(host.TabMoved)) func() { return b.tabMoved.Subscribe(fn) }
