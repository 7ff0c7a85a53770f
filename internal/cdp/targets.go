package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/tidwall/gjson"

	"github.com/dgnsrekt/window_titler/internal/host"
)

// pending collects events under b.mu for firing once it is released.
type pending []func()

func (p pending) fire() {
	for _, f := range p {
		f()
	}
}

func isPage(info *target.Info) bool {
	return info != nil && info.Type == "page"
}

func windowType(info *target.Info) host.WindowType {
	switch {
	case strings.HasPrefix(info.URL, "devtools://"):
		return host.WindowDevTools
	case info.OpenerID != "" && info.CanAccessOpener:
		return host.WindowPopup
	default:
		return host.WindowNormal
	}
}

// refreshContexts records which browser contexts are private. Every context
// created through Target.createBrowserContext is listed; the default one is
// not.
func (b *Browser) refreshContexts(ctx context.Context) error {
	res, err := b.call(ctx, "", "Target.getBrowserContexts", &target.GetBrowserContextsParams{})
	if err != nil {
		return fmt.Errorf("cdp: browser contexts: %w", err)
	}
	var out target.GetBrowserContextsReturns
	if err := json.Unmarshal(res, &out); err != nil {
		return fmt.Errorf("cdp: browser contexts: %w", err)
	}
	b.mu.Lock()
	for _, id := range out.BrowserContextIDs {
		b.contexts[id] = true
	}
	b.mu.Unlock()
	return nil
}

func (b *Browser) isPrivate(ctx context.Context, info *target.Info) bool {
	if info.BrowserContextID == "" {
		return false
	}
	b.mu.Lock()
	private, known := b.contexts[info.BrowserContextID]
	b.mu.Unlock()
	if known {
		return private
	}
	if err := b.refreshContexts(ctx); err != nil {
		slog.Debug("cdp context refresh failed", "error", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	private = b.contexts[info.BrowserContextID]
	b.contexts[info.BrowserContextID] = private
	return private
}

// windowFor resolves the window hosting a page target.
func (b *Browser) windowFor(ctx context.Context, id target.ID) (host.WindowID, error) {
	res, err := b.call(ctx, "", "Browser.getWindowForTarget", &browser.GetWindowForTargetParams{TargetID: id})
	if err != nil {
		return host.NoWindow, translate(err)
	}
	return host.WindowID(gjson.GetBytes(res, "windowId").Int()), nil
}

func (b *Browser) pageTargets(ctx context.Context) ([]*target.Info, error) {
	res, err := b.call(ctx, "", "Target.getTargets", &target.GetTargetsParams{})
	if err != nil {
		return nil, fmt.Errorf("cdp: targets: %w", err)
	}
	var out target.GetTargetsReturns
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("cdp: targets: %w", err)
	}
	return slices.DeleteFunc(out.TargetInfos, func(t *target.Info) bool { return !isPage(t) }), nil
}

func (b *Browser) loadTargets(ctx context.Context) error {
	infos, err := b.pageTargets(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		b.addTarget(ctx, info)
	}
	return nil
}

// addTarget registers a page target, creating its window on first sight.
func (b *Browser) addTarget(ctx context.Context, info *target.Info) {
	id := host.TabID(info.TargetID)
	b.mu.Lock()
	_, known := b.tabs[id]
	b.mu.Unlock()
	if known {
		return
	}

	windowID, err := b.windowFor(ctx, info.TargetID)
	if err != nil {
		slog.Debug("cdp window lookup failed", "target_id", info.TargetID, "error", err)
		return
	}
	private := b.isPrivate(ctx, info)

	var events pending
	b.mu.Lock()
	if _, ok := b.tabs[id]; ok {
		b.mu.Unlock()
		return
	}
	w := b.windows[windowID]
	if w == nil {
		w = &windowState{id: windowID, typ: windowType(info), incognito: private}
		b.windows[windowID] = w
		b.order = append(b.order, windowID)
		snapshot := b.windowLocked(w, false)
		events = append(events, func() { b.windowCreated.Fire(host.WindowCreated{Window: snapshot}) })
	}
	t := &tabState{id: id, windowID: windowID, url: info.URL, title: info.Title, status: host.TabStatusLoading}
	b.tabs[id] = t
	w.tabs = append(w.tabs, id)
	if w.active == "" {
		w.active = id
	}
	tab := b.tabLocked(t)
	preface, hasPreface := w.preface, w.hasPreface
	b.mu.Unlock()

	events = append(events, func() { b.tabCreated.Fire(host.TabCreated{Tab: tab}) })
	events.fire()
	if hasPreface {
		if err := b.applyPreface(ctx, id, preface); err != nil {
			slog.Debug("cdp preface on new tab failed", "tab_id", id, "error", err)
		}
	}
}

// removeTarget forgets a page target, closing its window when it was the last.
func (b *Browser) removeTarget(id host.TabID) {
	var events pending
	b.mu.Lock()
	t, ok := b.tabs[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.tabs, id)
	w := b.windows[t.windowID]
	if w != nil {
		w.tabs = slices.DeleteFunc(w.tabs, func(x host.TabID) bool { return x == id })
		if w.active == id {
			w.active = ""
			if len(w.tabs) > 0 {
				w.active = w.tabs[0]
			}
		}
	}
	windowID := t.windowID
	closing := w != nil && len(w.tabs) == 0
	events = append(events, func() {
		b.tabRemoved.Fire(host.TabRemoved{TabID: id, WindowID: windowID, IsWindowClosing: closing})
	})
	if closing {
		events = append(events, b.dropWindowLocked(windowID)...)
	}
	b.mu.Unlock()
	events.fire()
}

func (b *Browser) dropWindowLocked(id host.WindowID) pending {
	delete(b.windows, id)
	b.order = slices.DeleteFunc(b.order, func(x host.WindowID) bool { return x == id })
	events := pending{func() { b.windowRemoved.Fire(host.WindowRemoved{WindowID: id}) }}
	if b.focused == id {
		b.focused = host.NoWindow
		events = append(events, func() { b.focusChanged.Fire(host.WindowFocusChanged{WindowID: host.NoWindow}) })
	}
	return events
}

// moveTarget reports a tab that now lives in another window.
func (b *Browser) moveTarget(ctx context.Context, id host.TabID, to host.WindowID, info *target.Info) {
	private := b.isPrivate(ctx, info)

	var events pending
	b.mu.Lock()
	t, ok := b.tabs[id]
	if !ok || t.windowID == to {
		b.mu.Unlock()
		return
	}
	from := b.windows[t.windowID]
	oldPos := -1
	if from != nil {
		oldPos = slices.Index(from.tabs, id)
		from.tabs = slices.DeleteFunc(from.tabs, func(x host.TabID) bool { return x == id })
		if from.active == id {
			from.active = ""
			if len(from.tabs) > 0 {
				from.active = from.tabs[0]
			}
		}
	}
	oldWindow := t.windowID
	events = append(events, func() {
		b.tabDetached.Fire(host.TabDetached{TabID: id, OldWindowID: oldWindow, OldPosition: oldPos})
	})

	dst := b.windows[to]
	if dst == nil {
		dst = &windowState{id: to, typ: windowType(info), incognito: private}
		b.windows[to] = dst
		b.order = append(b.order, to)
		snapshot := b.windowLocked(dst, false)
		events = append(events, func() { b.windowCreated.Fire(host.WindowCreated{Window: snapshot}) })
	}
	dst.tabs = append(dst.tabs, id)
	if dst.active == "" {
		dst.active = id
	}
	t.windowID = to
	newPos := len(dst.tabs) - 1
	events = append(events, func() {
		b.tabAttached.Fire(host.TabAttached{TabID: id, NewWindowID: to, NewPosition: newPos})
	})
	if from != nil && len(from.tabs) == 0 {
		events = append(events, b.dropWindowLocked(oldWindow)...)
	}
	preface, hasPreface := dst.preface, dst.hasPreface
	b.mu.Unlock()

	events.fire()
	if hasPreface {
		if err := b.applyPreface(ctx, id, preface); err != nil {
			slog.Debug("cdp preface on moved tab failed", "tab_id", id, "error", err)
		}
	}
}

func (b *Browser) handleTargetCreated(_ string, params json.RawMessage) {
	var ev target.EventTargetCreated
	if err := json.Unmarshal(params, &ev); err != nil || !isPage(ev.TargetInfo) {
		return
	}
	b.addTarget(b.ctx, ev.TargetInfo)
}

func (b *Browser) handleTargetDestroyed(_ string, params json.RawMessage) {
	id := gjson.GetBytes(params, "targetId").String()
	if id == "" {
		return
	}
	b.removeTarget(host.TabID(id))
}

// handleTargetInfoChanged turns url and title changes into tab updates and
// notices tabs dragged into another window.
func (b *Browser) handleTargetInfoChanged(_ string, params json.RawMessage) {
	var ev target.EventTargetInfoChanged
	if err := json.Unmarshal(params, &ev); err != nil || !isPage(ev.TargetInfo) {
		return
	}
	info := ev.TargetInfo
	id := host.TabID(info.TargetID)

	b.mu.Lock()
	t, ok := b.tabs[id]
	if !ok {
		b.mu.Unlock()
		b.addTarget(b.ctx, info)
		return
	}
	status := ""
	switch {
	case t.url != info.URL:
		status = host.TabStatusLoading
	case t.title != info.Title && t.status == host.TabStatusLoading:
		status = host.TabStatusComplete
	}
	t.url, t.title = info.URL, info.Title
	if status != "" {
		t.status = status
	}
	windowID := t.windowID
	b.mu.Unlock()

	if to, err := b.windowFor(b.ctx, info.TargetID); err == nil && to != windowID {
		b.moveTarget(b.ctx, id, to, info)
		windowID = to
	}
	if status != "" {
		b.tabUpdated.Fire(host.TabUpdated{TabID: id, WindowID: windowID, Status: status, URL: info.URL})
	}
}

func (b *Browser) handleDetached(_ string, params json.RawMessage) {
	sessionID := gjson.GetBytes(params, "sessionId").String()
	targetID := host.TabID(gjson.GetBytes(params, "targetId").String())
	b.mu.Lock()
	if t, ok := b.tabs[targetID]; ok && t.sessionID == sessionID {
		t.sessionID = ""
		t.scriptID = ""
	}
	b.mu.Unlock()
}

func (b *Browser) tabLocked(t *tabState) host.Tab {
	tab := host.Tab{ID: t.id, WindowID: t.windowID, Index: -1, URL: t.url, Title: t.title, Status: t.status}
	if w := b.windows[t.windowID]; w != nil {
		tab.Index = slices.Index(w.tabs, t.id)
		tab.Active = w.active == t.id
	}
	return tab
}

func (b *Browser) windowLocked(w *windowState, includeTabs bool) host.Window {
	out := host.Window{ID: w.id, Type: w.typ, Incognito: w.incognito, Focused: b.focused == w.id}
	if includeTabs {
		out.Tabs = make([]host.Tab, 0, len(w.tabs))
		for _, id := range w.tabs {
			if t, ok := b.tabs[id]; ok {
				out.Tabs = append(out.Tabs, b.tabLocked(t))
			}
		}
	}
	return out
}

// translate maps "target is gone" replies onto host.ErrNotFound.
func translate(err error) error {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		msg := strings.ToLower(pe.Message)
		if strings.Contains(msg, "no target") || strings.Contains(msg, "not found") ||
			strings.Contains(msg, "no session") || strings.Contains(msg, "no window") {
			return fmt.Errorf("%w: %s", host.ErrNotFound, pe.Message)
		}
	}
	return err
}
