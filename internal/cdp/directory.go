package cdp

import (
	"context"
	"slices"
	"sync"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/window_titler/internal/host"
)

const probeScript = `[document.visibilityState, document.hasFocus()]`

func (b *Browser) Windows(ctx context.Context, includeTabs bool) ([]host.Window, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]host.Window, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.windowLocked(b.windows[id], includeTabs))
	}
	return out, nil
}

// Tabs asks the browser which page targets live in windowID rather than
// trusting the tracked state.
func (b *Browser) Tabs(ctx context.Context, windowID host.WindowID) ([]host.Tab, error) {
	infos, err := b.pageTargets(ctx)
	if err != nil {
		return nil, err
	}

	windows := make([]host.WindowID, len(infos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, info := range infos {
		g.Go(func() error {
			id, err := b.windowFor(gctx, info.TargetID)
			if err != nil {
				// Closed while we asked.
				id = host.NoWindow
			}
			windows[i] = id
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var out []host.Tab
	for i, info := range infos {
		if windows[i] != windowID {
			continue
		}
		out = append(out, b.snapshotTarget(info, windowID))
	}
	if len(out) == 0 {
		if _, ok := b.windows[windowID]; !ok {
			return nil, host.ErrNotFound
		}
	}
	w := b.windows[windowID]
	slices.SortStableFunc(out, func(x, y host.Tab) int {
		return position(w, x.ID) - position(w, y.ID)
	})
	for i := range out {
		out[i].Index = i
	}
	return out, nil
}

func position(w *windowState, id host.TabID) int {
	if w == nil {
		return 0
	}
	if i := slices.Index(w.tabs, id); i >= 0 {
		return i
	}
	return len(w.tabs)
}

func (b *Browser) snapshotTarget(info *target.Info, windowID host.WindowID) host.Tab {
	if t, ok := b.tabs[host.TabID(info.TargetID)]; ok && t.windowID == windowID {
		return b.tabLocked(t)
	}
	return host.Tab{ID: host.TabID(info.TargetID), WindowID: windowID, URL: info.URL, Title: info.Title}
}

// ActiveTab probes the window's tabs for the visible one.
func (b *Browser) ActiveTab(ctx context.Context, windowID host.WindowID) (host.Tab, error) {
	b.mu.Lock()
	w, ok := b.windows[windowID]
	if !ok {
		b.mu.Unlock()
		return host.Tab{}, host.ErrNotFound
	}
	tabs := slices.Clone(w.tabs)
	b.mu.Unlock()

	if active, _, err := b.probeWindow(ctx, tabs); err == nil && active != "" {
		b.setActive(windowID, active)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok = b.windows[windowID]
	if !ok || w.active == "" {
		return host.Tab{}, host.ErrNotFound
	}
	t, ok := b.tabs[w.active]
	if !ok {
		return host.Tab{}, host.ErrNotFound
	}
	return b.tabLocked(t), nil
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

// probeWindow evaluates the visibility probe in every tab and returns the
// visible tab and whether it has focus.
func (b *Browser) probeWindow(ctx context.Context, tabs []host.TabID) (active host.TabID, focused bool, err error) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range tabs {
		g.Go(func() error {
			res, err := b.evaluate(gctx, id, probeScript)
			if err != nil {
				return nil
			}
			value := gjson.GetBytes(res, "result.value")
			if value.Get("0").String() != "visible" {
				return nil
			}
			mu.Lock()
			if active == "" {
				active = id
				focused = value.Get("1").Bool()
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return active, focused, ctx.Err()
}

// setActive records the active tab and reports whether it changed.
func (b *Browser) setActive(windowID host.WindowID, id host.TabID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.windows[windowID]
	if !ok || w.active == id {
		return false
	}
	if _, ok := b.tabs[id]; !ok {
		return false
	}
	w.active = id
	return true
}

func (b *Browser) evaluate(ctx context.Context, id host.TabID, expression string) ([]byte, error) {
	sessionID, err := b.session(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := b.call(ctx, sessionID, "Runtime.evaluate", &runtime.EvaluateParams{Expression: expression, ReturnByValue: true})
	if err != nil {
		return nil, translate(err)
	}
	return res, nil
}

// session returns the flat session attached to a tab, attaching on first use.
func (b *Browser) session(ctx context.Context, id host.TabID) (string, error) {
	b.mu.Lock()
	t, ok := b.tabs[id]
	if !ok {
		b.mu.Unlock()
		return "", host.ErrNotFound
	}
	if t.sessionID != "" {
		s := t.sessionID
		b.mu.Unlock()
		return s, nil
	}
	b.mu.Unlock()

	res, err := b.call(ctx, "", "Target.attachToTarget", &target.AttachToTargetParams{TargetID: target.ID(id), Flatten: true})
	if err != nil {
		return "", translate(err)
	}
	sessionID := gjson.GetBytes(res, "sessionId").String()

	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok = b.tabs[id]
	if !ok {
		return "", host.ErrNotFound
	}
	if t.sessionID == "" {
		t.sessionID = sessionID
	}
	return t.sessionID, nil
}
