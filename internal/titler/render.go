package titler

import (
	"slices"

	"github.com/dgnsrekt/window_titler/internal/format"
)

// onWrapperChanged recomputes the prefixes affected by a change of origin.
func (c *Collection) onWrapperChanged(origin *Wrapper, cat category) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	targets := slices.Clone(c.affectedLocked(origin, cat))
	c.mu.Unlock()

	if len(targets) > 0 {
		c.updateWindowTitles(targets)
	}
}

// onWindowDataChanged refreshes the cached format info, which may change the
// listeners needed, before recomputing prefixes.
func (c *Collection) onWindowDataChanged(ev WindowDataChange) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.info = nil
	c.mu.Unlock()

	c.startNeededListeners()
	c.onWrapperChanged(ev.Window, categoryWindowData)
}

// onWindowSetChanged handles a window appearing or going away. The new
// window, if any, always renders; other windows render when the format
// couples windows together.
func (c *Collection) onWindowSetChanged(added *Wrapper) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.info = nil
	info := c.formatInfoLocked()
	var targets []*Wrapper
	if info.HasAny(format.KindTotalTabCount, format.KindCount) {
		targets = slices.Clone(c.wrappers)
	} else if added != nil {
		targets = []*Wrapper{added}
	}
	c.mu.Unlock()

	if len(targets) > 0 {
		c.updateWindowTitles(targets)
	}
}

// updateWindowTitles renders the prefix of every wrapper in targets, or of
// every wrapper when targets is nil, and schedules the host writes.
func (c *Collection) updateWindowTitles(targets []*Wrapper) {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	wrappers := slices.Clone(c.wrappers)
	c.mu.Unlock()
	if targets == nil {
		targets = wrappers
	}
	if len(targets) == 0 {
		return
	}
	opts := c.options()

	inTarget := make(map[*Wrapper]bool, len(targets))
	for _, w := range targets {
		inTarget[w] = true
	}

	total := -1
	totalTabs := func() int {
		if total < 0 {
			total = 0
			for _, w := range wrappers {
				if opts.countsTowardTotal(w) {
					total += w.TabCount()
				}
			}
		}
		return total
	}

	allowed := make(map[*Wrapper]bool, len(wrappers))
	for _, w := range wrappers {
		allowed[w] = opts.allowsTitle(w)
	}

	used := make(map[string]bool)
	for _, w := range wrappers {
		if allowed[w] && !inTarget[w] {
			if p := w.countPrefixValue(); p != "" {
				used[p] = true
			}
		}
	}

	for _, w := range wrappers {
		if !inTarget[w] || w.IsDisposed() {
			continue
		}
		if !allowed[w] {
			w.setCountPrefix("")
			w.SetTitlePrefix("")
			continue
		}
		base, namesEnabled := baseFormat(w, opts)
		prefix, countPrefix := render(w, base, namesEnabled, opts, totalTabs, used)
		w.setCountPrefix(countPrefix)
		w.SetTitlePrefix(prefix)
	}
}

// baseFormat picks the window override when set, else the global format.
// Names always apply to overrides and follow the window data setting
// otherwise.
func baseFormat(w *Wrapper, opts *Options) (string, bool) {
	if s := w.Settings(); s.HasOverride() {
		return s.WindowPrefixFormat.Value, true
	}
	return opts.TitleFormat, opts.WindowData.Enabled
}

// render produces the prefix of w from base. Prefixes using %Count% take the
// lowest number that does not collide with an entry of used; used is updated
// and the numbered text is returned as countPrefix.
func render(w *Wrapper, base string, namesEnabled bool, opts *Options, totalTabs func() int, used map[string]bool) (prefix, countPrefix string) {
	name := ""
	if namesEnabled {
		name = w.Name()
	}

	values := format.Values{
		TabCount:       w.TabCount(),
		ActiveTabIndex: w.ActiveTabIndex(),
		OS:             opts.Environment.OS,
		Arch:           opts.Environment.Arch,
		BrowserVersion: opts.Environment.BrowserVersion,
		BrowserBuild:   opts.Environment.BrowserBuild,
	}

	text := format.ApplyIfWindowName(base, name != "")
	text = format.ApplyWindowName(text, name)
	text = format.ApplyIfRegexMatch(text, func(arg string) string {
		if format.TotalTabCount.Test(arg) {
			values.TotalTabCount = totalTabs()
		}
		return format.ApplyValues(arg, values)
	})

	if format.Count.Test(text) {
		n := 1
		candidate := format.ApplyCount(text, n)
		for used[candidate] {
			n++
			candidate = format.ApplyCount(text, n)
		}
		used[candidate] = true
		countPrefix = candidate
		text = candidate
	}

	if format.TotalTabCount.Test(text) {
		values.TotalTabCount = totalTabs()
	}
	return format.ApplyValues(text, values), countPrefix
}
