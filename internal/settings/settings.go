// Package settings stores the user settings in a YAML file.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/window_titler/internal/event"
	"github.com/dgnsrekt/window_titler/internal/host"
	"github.com/dgnsrekt/window_titler/internal/titler"
)

const maxLoadWaitMS = 60000

// NewTabFix is the new_tab_fix section.
type NewTabFix struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	URLs           []string `yaml:"urls" json:"urls,omitempty"`
	LoadWaitMS     int      `yaml:"load_wait_ms" json:"load_wait_ms"`
	RefreshOnFocus bool     `yaml:"refresh_on_focus" json:"refresh_on_focus"`
}

// WindowData is the window_data section.
type WindowData struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	DefaultName string `yaml:"default_name" json:"default_name"`
}

// Settings is the content of the settings file.
type Settings struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	TitleFormat string `yaml:"title_format" json:"title_format"`
	BlockTimeMS int    `yaml:"block_time_ms" json:"block_time_ms"`

	IgnorePrivateWindows    bool `yaml:"ignore_private_windows" json:"ignore_private_windows"`
	IgnorePopupWindows      bool `yaml:"ignore_popup_windows" json:"ignore_popup_windows"`
	ExcludePrivateFromTotal bool `yaml:"exclude_private_from_total" json:"exclude_private_from_total"`
	ExcludePopupFromTotal   bool `yaml:"exclude_popup_from_total" json:"exclude_popup_from_total"`

	RecountTabsWhenEqualOrLessThan int `yaml:"recount_tabs_when_equal_or_less_than" json:"recount_tabs_when_equal_or_less_than"`
	TabRemovalGraceMS              int `yaml:"tab_removal_grace_ms" json:"tab_removal_grace_ms"`

	NewTabFix  NewTabFix  `yaml:"new_tab_fix" json:"new_tab_fix"`
	WindowData WindowData `yaml:"window_data" json:"window_data"`
}

// Default returns the settings written to a new file.
func Default() Settings {
	d := titler.DefaultOptions()
	return Settings{
		Enabled:                        true,
		TitleFormat:                    d.TitleFormat,
		BlockTimeMS:                    int(d.BlockTime / time.Millisecond),
		RecountTabsWhenEqualOrLessThan: d.RecountTabsWhenEqualOrLessThan,
		TabRemovalGraceMS:              int(d.TabRemovalGrace / time.Millisecond),
		NewTabFix: NewTabFix{
			Enabled:    d.NewTabFix.Enabled,
			URLs:       slices.Clone(d.NewTabFix.URLs),
			LoadWaitMS: int(d.NewTabFix.LoadWait / time.Millisecond),
		},
		WindowData: WindowData{Enabled: d.WindowData.Enabled},
	}
}

// Normalize clamps out-of-range durations.
func (s *Settings) Normalize() {
	s.BlockTimeMS = max(s.BlockTimeMS, 0)
	s.TabRemovalGraceMS = max(s.TabRemovalGraceMS, 0)
	s.NewTabFix.LoadWaitMS = min(max(s.NewTabFix.LoadWaitMS, 0), maxLoadWaitMS)
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	s.NewTabFix.URLs = slices.Clone(s.NewTabFix.URLs)
	return s
}

// Options converts the settings into collection options.
func (s Settings) Options(env host.Environment) titler.Options {
	return titler.Options{
		TitleFormat:                    s.TitleFormat,
		BlockTime:                      time.Duration(s.BlockTimeMS) * time.Millisecond,
		IgnorePrivateWindows:           s.IgnorePrivateWindows,
		IgnorePopupWindows:             s.IgnorePopupWindows,
		ExcludePrivateFromTotal:        s.ExcludePrivateFromTotal,
		ExcludePopupFromTotal:          s.ExcludePopupFromTotal,
		RecountTabsWhenEqualOrLessThan: s.RecountTabsWhenEqualOrLessThan,
		TabRemovalGrace:                time.Duration(s.TabRemovalGraceMS) * time.Millisecond,
		NewTabFix: titler.NewTabFix{
			Enabled:        s.NewTabFix.Enabled,
			URLs:           slices.Clone(s.NewTabFix.URLs),
			LoadWait:       time.Duration(s.NewTabFix.LoadWaitMS) * time.Millisecond,
			RefreshOnFocus: s.NewTabFix.RefreshOnFocus,
		},
		WindowData: titler.WindowData{
			Enabled:     s.WindowData.Enabled,
			DefaultName: s.WindowData.DefaultName,
		},
		Environment: env,
	}
}

// Change is fired after the settings were replaced.
type Change struct {
	Old, New Settings
}

// Store keeps the settings file and the in-memory copy in sync.
type Store struct {
	path string

	mu      sync.Mutex
	current Settings

	changed event.Event[Change]
}

// Open loads path, creating it with defaults when it does not exist.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	s.changed.SetName("settings_changed")
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.current = Default()
		if err := s.save(s.current); err != nil {
			return nil, err
		}
		slog.Info("settings file created", "path", path)
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("settings: %w", err)
	}

	// Fields missing from the file keep their defaults.
	cur := Default()
	if err := yaml.Unmarshal(data, &cur); err != nil {
		return nil, fmt.Errorf("settings: %s: %w", path, err)
	}
	cur.Normalize()
	s.current = cur
	slog.Info("settings loaded", "path", path, "enabled", cur.Enabled)
	return s, nil
}

// Path returns the settings file location.
func (s *Store) Path() string { return s.path }

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Replace normalizes and persists next, then notifies subscribers.
func (s *Store) Replace(next Settings) (Settings, error) {
	return s.Update(func(cur *Settings) { *cur = next.Clone() })
}

// Update applies fn to a copy of the current settings, persists the result
// and notifies subscribers. Nothing changes when the write fails.
func (s *Store) Update(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	old := s.current.Clone()
	next := s.current.Clone()
	fn(&next)
	next.Normalize()
	if err := s.save(next); err != nil {
		s.mu.Unlock()
		return old, err
	}
	s.current = next
	s.mu.Unlock()

	s.changed.Fire(Change{Old: old, New: next.Clone()})
	return next.Clone(), nil
}

// Subscribe registers fn for settings changes.
func (s *Store) Subscribe(fn func(Change)) func() {
	return s.changed.Subscribe(fn)
}

// save writes via a temporary file so readers never see a partial file.
func (s *Store) save(v Settings) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("settings: %w", err)
	}
	return nil
}
