package titler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgnsrekt/window_titler/internal/host"
)

// WindowState is a read-only view of one tracked window.
type WindowState struct {
	WindowID        host.WindowID   `json:"window_id"`
	Type            host.WindowType `json:"type"`
	Incognito       bool            `json:"incognito"`
	TabCount        int             `json:"tab_count"`
	ActiveTabIndex  int             `json:"active_tab_index"`
	Name            string          `json:"name"`
	Settings        WindowSettings  `json:"settings"`
	Restored        bool            `json:"restored"`
	LastTitlePrefix string          `json:"last_title_prefix"`
}

// Windows returns the state of every tracked window, sorted by id.
func (c *Collection) Windows() []WindowState {
	wrappers := c.Wrappers()
	out := make([]WindowState, 0, len(wrappers))
	for _, w := range wrappers {
		out = append(out, w.State())
	}
	return out
}

// State snapshots the wrapper.
func (w *Wrapper) State() WindowState {
	return WindowState{
		WindowID:        w.id,
		Type:            w.typ,
		Incognito:       w.incognito,
		TabCount:        w.TabCount(),
		ActiveTabIndex:  w.ActiveTabIndex(),
		Name:            w.Name(),
		Settings:        w.Settings(),
		Restored:        w.IsRestored(),
		LastTitlePrefix: w.LastTitlePrefix(),
	}
}

// ApplyOptions swaps in new options, adjusts the listeners and recomputes
// every prefix.
func (c *Collection) ApplyOptions(opts Options) {
	if c.IsDisposed() {
		return
	}
	c.opts.Store(&opts)
	c.mu.Lock()
	c.info = nil
	c.mu.Unlock()

	c.startNeededListeners()
	c.updateWindowTitles(nil)
}

// ClearAllPrefixes writes an empty prefix to every window now.
func (c *Collection) ClearAllPrefixes(ctx context.Context) error {
	var errs []error
	for _, w := range c.Wrappers() {
		if err := w.ClearTitlePrefix(ctx); err != nil && !errors.Is(err, host.ErrNotFound) {
			errs = append(errs, fmt.Errorf("window %d: %w", w.id, err))
		}
	}
	return errors.Join(errs...)
}

// ForceReapply recomputes every prefix and writes it even if unchanged.
func (c *Collection) ForceReapply() {
	wrappers := c.Wrappers()
	for _, w := range wrappers {
		w.ForceSetTitlePrefix(false)
	}
	c.updateWindowTitles(nil)
}

// WindowDataChanged reloads the session data of one window after another
// process changed it.
func (c *Collection) WindowDataChanged(ctx context.Context, id host.WindowID) error {
	w, ok := c.Wrapper(id)
	if !ok {
		return ErrWindowNotTracked
	}
	w.ReloadSessionData(ctx)
	return nil
}

// ClearAllWindowData resets the name and settings of every window, which
// removes them from the session store.
func (c *Collection) ClearAllWindowData(ctx context.Context) {
	for _, w := range c.Wrappers() {
		w.SetName(ctx, "")
		w.SetSettings(ctx, WindowSettings{})
	}
	slog.Info("titler window data cleared")
}

// ApplyNameToAll gives every window the same name.
func (c *Collection) ApplyNameToAll(ctx context.Context, name string) {
	for _, w := range c.Wrappers() {
		w.SetName(ctx, name)
	}
}

// SetWindowName names one window.
func (c *Collection) SetWindowName(ctx context.Context, id host.WindowID, name string) error {
	w, ok := c.Wrapper(id)
	if !ok {
		return ErrWindowNotTracked
	}
	w.SetName(ctx, name)
	return nil
}

// SetWindowSettings replaces the settings of one window.
func (c *Collection) SetWindowSettings(ctx context.Context, id host.WindowID, s WindowSettings) error {
	w, ok := c.Wrapper(id)
	if !ok {
		return ErrWindowNotTracked
	}
	w.SetSettings(ctx, s)
	return nil
}

// Preview renders titleFormat for one window without writing anything.
// %Count% always renders as 1.
func (c *Collection) Preview(id host.WindowID, titleFormat string) (string, error) {
	w, ok := c.Wrapper(id)
	if !ok {
		return "", ErrWindowNotTracked
	}
	opts := *c.options()
	opts.TitleFormat = titleFormat
	wrappers := c.Wrappers()
	total := func() int {
		n := 0
		for _, x := range wrappers {
			if opts.countsTowardTotal(x) {
				n += x.TabCount()
			}
		}
		return n
	}
	prefix, _ := render(w, titleFormat, opts.WindowData.Enabled, &opts, total, map[string]bool{})
	return prefix, nil
}
