// Package host declares what the title engine needs from the browser it runs
// against: a window/tab directory, change events, a title preface writer and
// a per-window session store.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
)

// ErrNotFound reports that a window or tab vanished between discovery and use.
var ErrNotFound = errors.New("host: window or tab not found")

// WindowID identifies a browser window for its lifetime.
type WindowID int64

// NoWindow is reported by focus events when no browser window has focus.
const NoWindow WindowID = -1

func (id WindowID) String() string { return strconv.FormatInt(int64(id), 10) }

// TabID identifies a tab.
type TabID string

// WindowType classifies a window.
type WindowType string

const (
	WindowNormal   WindowType = "normal"
	WindowPopup    WindowType = "popup"
	WindowApp      WindowType = "app"
	WindowDevTools WindowType = "devtools"
)

// Tab status values reported by TabUpdated.
const (
	TabStatusLoading  = "loading"
	TabStatusComplete = "complete"
)

// Tab is a snapshot of one tab.
type Tab struct {
	ID       TabID    `json:"id"`
	WindowID WindowID `json:"window_id"`
	Index    int      `json:"index"`
	Active   bool     `json:"active"`
	URL      string   `json:"url,omitempty"`
	Title    string   `json:"title,omitempty"`
	Status   string   `json:"status,omitempty"`
}

// Window is a snapshot of one window. Tabs is nil when tabs were not requested
// or are unknown.
type Window struct {
	ID        WindowID   `json:"id"`
	Type      WindowType `json:"type"`
	Incognito bool       `json:"incognito"`
	Focused   bool       `json:"focused"`
	Tabs      []Tab      `json:"tabs,omitempty"`
}

// Directory answers point-in-time questions about windows and tabs.
type Directory interface {
	Windows(ctx context.Context, includeTabs bool) ([]Window, error)
	Tabs(ctx context.Context, windowID WindowID) ([]Tab, error)
	ActiveTab(ctx context.Context, windowID WindowID) (Tab, error)
	LastFocusedWindow(ctx context.Context) (Window, error)
}

// Event payloads.
type (
	WindowCreated struct {
		Window Window
	}
	WindowRemoved struct {
		WindowID WindowID
	}
	WindowFocusChanged struct {
		WindowID WindowID
	}
	TabCreated struct {
		Tab Tab
	}
	TabRemoved struct {
		TabID           TabID
		WindowID        WindowID
		IsWindowClosing bool
	}
	TabAttached struct {
		TabID       TabID
		NewWindowID WindowID
		NewPosition int
	}
	TabDetached struct {
		TabID       TabID
		OldWindowID WindowID
		OldPosition int
	}
	TabUpdated struct {
		TabID    TabID
		WindowID WindowID
		Status   string
		URL      string
		// Discarded is nil when unchanged.
		Discarded *bool
	}
	TabActivated struct {
		TabID    TabID
		WindowID WindowID
	}
	TabMoved struct {
		TabID     TabID
		WindowID  WindowID
		FromIndex int
		ToIndex   int
	}
)

// EventSource delivers window and tab changes in the order they happen.
// Every On method returns a function that removes the listener.
type EventSource interface {
	OnWindowCreated(fn func(WindowCreated)) func()
	OnWindowRemoved(fn func(WindowRemoved)) func()
	OnWindowFocusChanged(fn func(WindowFocusChanged)) func()
	OnTabCreated(fn func(TabCreated)) func()
	OnTabRemoved(fn func(TabRemoved)) func()
	OnTabAttached(fn func(TabAttached)) func()
	OnTabDetached(fn func(TabDetached)) func()
	OnTabUpdated(fn func(TabUpdated)) func()
	OnTabActivated(fn func(TabActivated)) func()
	OnTabMoved(fn func(TabMoved)) func()
}

// TitleWriter sets the text shown before a window's title. Writing the same
// value twice is not guaranteed to be cheap or a no-op.
type TitleWriter interface {
	SetTitlePreface(ctx context.Context, windowID WindowID, preface string) error
}

// Browser is the full host surface.
type Browser interface {
	Directory
	EventSource
	TitleWriter
}

// WindowValueChanged reports a session value change. Value is nil when the key
// was removed. External is set when another process made the change.
type WindowValueChanged struct {
	WindowID WindowID
	Key      string
	Value    json.RawMessage
	External bool
}

// SessionStore keeps small JSON values per window for the browser session.
type SessionStore interface {
	GetWindowValue(ctx context.Context, windowID WindowID, key string) (json.RawMessage, bool, error)
	SetWindowValue(ctx context.Context, windowID WindowID, key string, value json.RawMessage) error
	RemoveWindowValue(ctx context.Context, windowID WindowID, key string) error
	OnWindowValueChanged(fn func(WindowValueChanged)) func()
}

// Environment carries the values of the platform and browser placeholders.
type Environment struct {
	OS             string `json:"os"`
	Arch           string `json:"arch"`
	BrowserVersion string `json:"browser_version"`
	BrowserBuild   string `json:"browser_build"`
}
