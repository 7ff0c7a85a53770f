package titler

import (
	"github.com/dgnsrekt/window_titler/internal/format"
)

// category groups the wrapper events that share a targeting rule.
type category int

const (
	categoryTabCount category = iota
	categoryActiveTab
	categoryWindowData
)

func (c category) String() string {
	switch c {
	case categoryTabCount:
		return "tab_count"
	case categoryActiveTab:
		return "active_tab"
	default:
		return "window_data"
	}
}

// local reports whether a format rendering info changes for the window whose
// state changed.
func (c category) local(info format.Info) bool {
	switch c {
	case categoryTabCount:
		return info.Has(format.KindTabCount)
	case categoryActiveTab:
		return info.Has(format.KindActiveTabIndex)
	default:
		return info.UsesWindowName()
	}
}

// cross reports whether a format rendering info changes for other windows.
// %Count% couples windows whose rendered prefix depends on the changed state.
func (c category) cross(info format.Info) bool {
	switch c {
	case categoryTabCount:
		return info.Has(format.KindTotalTabCount) ||
			(info.Has(format.KindCount) && info.Has(format.KindTabCount))
	case categoryActiveTab:
		return info.Has(format.KindCount) && info.Has(format.KindActiveTabIndex)
	default:
		return info.Has(format.KindCount)
	}
}

// formatInfoLocked returns the cached effective format info: the global
// format combined with every override format and, where a format refers to
// window names, every window name.
func (c *Collection) formatInfoLocked() format.Info {
	if c.info != nil {
		return *c.info
	}
	global := format.NewInfo(c.options().TitleFormat)
	infos := []format.Info{global}
	for _, w := range c.wrappers {
		name, override, hasOverride := w.formatInfos()
		if hasOverride {
			infos = append(infos, override)
			if override.UsesWindowName() {
				infos = append(infos, name)
			}
		} else if global.UsesWindowName() {
			infos = append(infos, name)
		}
	}
	info := format.Combine(infos...)
	c.info = &info
	return info
}

// FormatInfo returns the effective format info.
func (c *Collection) FormatInfo() format.Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.formatInfoLocked()
}

// ownInfo is the info of the format that renders w.
func ownInfo(global format.Info, w *Wrapper) format.Info {
	name, override, hasOverride := w.formatInfos()
	if hasOverride {
		if override.UsesWindowName() {
			return format.Combine(override, name)
		}
		return override
	}
	if global.UsesWindowName() {
		return format.Combine(global, name)
	}
	return global
}

// affectedLocked picks the wrappers whose prefix must be recomputed after
// origin changed in cat.
func (c *Collection) affectedLocked(origin *Wrapper, cat category) []*Wrapper {
	global := format.NewInfo(c.options().TitleFormat)

	for _, w := range c.wrappers {
		if _, _, ok := w.formatInfos(); ok && cat.cross(ownInfo(global, w)) {
			return c.wrappers
		}
	}
	if cat.cross(global) {
		return c.wrappers
	}

	originLocal := false
	if origin != nil {
		originLocal = cat == categoryWindowData || cat.local(ownInfo(global, origin))
	}

	if global.UsesWindowName() {
		var out []*Wrapper
		for _, w := range c.wrappers {
			if w == origin {
				if originLocal || cat.cross(ownInfo(global, w)) {
					out = append(out, w)
				}
				continue
			}
			if _, _, hasOverride := w.formatInfos(); hasOverride {
				continue
			}
			name, _, _ := w.formatInfos()
			if cat.cross(name) {
				out = append(out, w)
			}
		}
		return out
	}
	if originLocal {
		return []*Wrapper{origin}
	}
	return nil
}
