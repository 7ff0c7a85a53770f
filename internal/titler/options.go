package titler

import (
	"slices"
	"time"

	"github.com/dgnsrekt/window_titler/internal/host"
)

// DefaultTitleFormat is used when no format is configured.
const DefaultTitleFormat = "[%TabCount%] %IfWindowName(%WindowName% | ,)%"

// NewTabFix rewrites a window's prefix after a new tab page finishes loading.
type NewTabFix struct {
	Enabled        bool
	URLs           []string
	LoadWait       time.Duration
	RefreshOnFocus bool
}

// WindowData controls per-window names and settings.
type WindowData struct {
	Enabled     bool
	DefaultName string
}

// Options are the live settings the collection reads. They are replaced as a
// whole and never mutated in place.
type Options struct {
	TitleFormat string
	BlockTime   time.Duration

	IgnorePrivateWindows bool
	IgnorePopupWindows   bool

	ExcludePrivateFromTotal bool
	ExcludePopupFromTotal   bool

	// RecountTabsWhenEqualOrLessThan: negative always reconciles, zero never
	// does, N reconciles while the window has at most N tabs.
	RecountTabsWhenEqualOrLessThan int
	TabRemovalGrace                time.Duration

	NewTabFix  NewTabFix
	WindowData WindowData

	Environment host.Environment
}

// DefaultOptions mirrors the defaults of the settings file.
func DefaultOptions() Options {
	return Options{
		TitleFormat:                    DefaultTitleFormat,
		BlockTime:                      time.Second,
		RecountTabsWhenEqualOrLessThan: -1,
		TabRemovalGrace:                2 * time.Second,
		NewTabFix: NewTabFix{
			URLs:     []string{"chrome://newtab/", "about:blank"},
			LoadWait: 5 * time.Second,
		},
		WindowData: WindowData{Enabled: true},
	}
}

func (o *Options) allowsTitle(w *Wrapper) bool {
	if o.IgnorePrivateWindows && w.incognito {
		return false
	}
	if o.IgnorePopupWindows && w.typ == host.WindowPopup {
		return false
	}
	return true
}

func (o *Options) countsTowardTotal(w *Wrapper) bool {
	if o.ExcludePrivateFromTotal && w.incognito {
		return false
	}
	if o.ExcludePopupFromTotal && w.typ == host.WindowPopup {
		return false
	}
	return true
}

func (o *Options) isNewTabURL(url string) bool {
	if url == "" {
		return true
	}
	return slices.Contains(o.NewTabFix.URLs, url)
}
