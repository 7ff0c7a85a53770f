// Package controller ties the title engine's lifecycle to the user settings
// and exposes its runtime operations.
package controller

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/dgnsrekt/window_titler/internal/host"
	"github.com/dgnsrekt/window_titler/internal/relay"
	"github.com/dgnsrekt/window_titler/internal/settings"
	"github.com/dgnsrekt/window_titler/internal/titler"
)

// Deps are the collaborators of a Service.
type Deps struct {
	Browser host.Browser
	// Session may be nil, in which case window data lives in memory.
	Session     host.SessionStore
	Settings    *settings.Store
	Environment host.Environment
	// Events, when set, receives title writes and lifecycle changes.
	Events *relay.Broker
}

// Status summarizes the engine for health checks.
type Status struct {
	Enabled        bool             `json:"enabled"`
	TrackedWindows int              `json:"tracked_windows"`
	Environment    host.Environment `json:"environment"`
}

// Service runs a titler.Collection while the settings enable it.
type Service struct {
	browser  host.Browser
	session  host.SessionStore
	settings *settings.Store
	env      host.Environment
	events   *relay.Broker

	mu      sync.Mutex
	ctx     context.Context
	coll    *titler.Collection
	unsubs  []func()
	started bool
}

func NewService(d Deps) *Service {
	s := &Service{browser: d.Browser, session: d.Session, settings: d.Settings, env: d.Environment, events: d.Events}
	if d.Events != nil {
		s.browser = publishingBrowser{Browser: d.Browser, events: d.Events}
	}
	return s
}

// Start follows the settings from now on and starts the collection when
// enabled. ctx bounds the lifetime of the collection.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx = ctx
	s.unsubs = append(s.unsubs, s.settings.Subscribe(s.onSettingsChanged))
	if s.session != nil && s.events != nil {
		s.unsubs = append(s.unsubs, s.session.OnWindowValueChanged(s.publishWindowValue))
	}
	s.mu.Unlock()

	cur := s.settings.Get()
	if cur.Enabled {
		s.startCollection(cur)
	}
	slog.Info("controller started", "enabled", cur.Enabled, "settings_file", s.settings.Path())
	return nil
}

// Stop removes every prefix and releases the collection.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	err := s.stopCollection(ctx)
	slog.Info("controller stopped")
	return err
}

func (s *Service) onSettingsChanged(ch settings.Change) {
	s.mu.Lock()
	running := s.coll != nil
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	s.events.PublishJSON(relay.FeedSettings, ch.New)

	switch {
	case ch.New.Enabled && !running:
		s.startCollection(ch.New)
	case !ch.New.Enabled && running:
		if err := s.stopCollection(s.ctx); err != nil {
			slog.Warn("controller clear prefixes failed", "error", err)
		}
	case !ch.New.Enabled:
	case ch.Old.WindowData.Enabled != ch.New.WindowData.Enabled:
		slog.Info("controller restarting collection", "window_data_enabled", ch.New.WindowData.Enabled)
		s.restartCollection(ch.New)
	default:
		if c := s.collection(); c != nil {
			c.ApplyOptions(ch.New.Options(s.env))
		}
	}
}

func (s *Service) newCollection(cur settings.Settings) *titler.Collection {
	return titler.New(s.ctx, titler.Config{
		Browser: s.browser,
		Session: s.session,
		Options: cur.Options(s.env),
	})
}

func (s *Service) startCollection(cur settings.Settings) {
	c := s.newCollection(cur)
	s.mu.Lock()
	if s.coll != nil || !s.started {
		s.mu.Unlock()
		c.Dispose()
		return
	}
	s.coll = c
	s.mu.Unlock()
	c.Start()
	s.publishLifecycle("started")
	slog.Info("controller collection started")
}

func (s *Service) restartCollection(cur settings.Settings) {
	next := s.newCollection(cur)
	s.mu.Lock()
	prev := s.coll
	s.coll = next
	s.mu.Unlock()
	if prev != nil {
		prev.Dispose()
	}
	next.Start()
	s.publishLifecycle("restarted")
}

func (s *Service) stopCollection(ctx context.Context) error {
	s.mu.Lock()
	c := s.coll
	s.coll = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	err := c.ClearAllPrefixes(ctx)
	c.Dispose()
	s.publishLifecycle("stopped")
	slog.Info("controller collection stopped")
	return err
}

func (s *Service) collection() *titler.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coll
}

func (s *Service) requireCollection() (*titler.Collection, error) {
	c := s.collection()
	if c == nil {
		return nil, newError(CodeDisabled, "window titles are disabled", nil)
	}
	return c, nil
}

// requireWindowData is requireCollection for operations on names and
// settings.
func (s *Service) requireWindowData() (*titler.Collection, error) {
	c, err := s.requireCollection()
	if err != nil {
		return nil, err
	}
	if !c.Options().WindowData.Enabled {
		return nil, newError(CodeDisabled, "window data is disabled", nil)
	}
	return c, nil
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	st := Status{Environment: s.env}
	if c := s.collection(); c != nil {
		st.Enabled = true
		st.TrackedWindows = len(c.Wrappers())
	}
	return st, nil
}

func (s *Service) ListWindows(ctx context.Context) ([]titler.WindowState, error) {
	c := s.collection()
	if c == nil {
		return []titler.WindowState{}, nil
	}
	return c.Windows(), nil
}

func (s *Service) SetWindowName(ctx context.Context, id host.WindowID, name string) error {
	c, err := s.requireWindowData()
	if err != nil {
		return err
	}
	return windowErr(id, c.SetWindowName(ctx, id, strings.TrimSpace(name)))
}

func (s *Service) SetWindowSettings(ctx context.Context, id host.WindowID, ws titler.WindowSettings) error {
	c, err := s.requireWindowData()
	if err != nil {
		return err
	}
	if !ws.WindowPrefixFormat.Override && ws.WindowPrefixFormat.Value != "" {
		return newError(CodeValidation, "value is only used with override", nil)
	}
	return windowErr(id, c.SetWindowSettings(ctx, id, ws))
}

func (s *Service) WindowDataChanged(ctx context.Context, id host.WindowID) error {
	c, err := s.requireWindowData()
	if err != nil {
		return err
	}
	return windowErr(id, c.WindowDataChanged(ctx, id))
}

func (s *Service) ClearPrefixes(ctx context.Context) error {
	c, err := s.requireCollection()
	if err != nil {
		return err
	}
	if err := c.ClearAllPrefixes(ctx); err != nil {
		return newError(CodeCDPUnavailable, "clear prefixes", err)
	}
	return nil
}

func (s *Service) ReapplyPrefixes(ctx context.Context) error {
	c, err := s.requireCollection()
	if err != nil {
		return err
	}
	c.ForceReapply()
	return nil
}

func (s *Service) ClearWindowData(ctx context.Context) error {
	c, err := s.requireWindowData()
	if err != nil {
		return err
	}
	c.ClearAllWindowData(ctx)
	return nil
}

func (s *Service) NameAllWindows(ctx context.Context, name string) error {
	c, err := s.requireWindowData()
	if err != nil {
		return err
	}
	c.ApplyNameToAll(ctx, strings.TrimSpace(name))
	return nil
}

func (s *Service) GetSettings(ctx context.Context) (settings.Settings, error) {
	return s.settings.Get(), nil
}

func (s *Service) PutSettings(ctx context.Context, next settings.Settings) (settings.Settings, error) {
	saved, err := s.settings.Replace(next)
	if err != nil {
		return settings.Settings{}, newError(CodeStorageFailure, "save settings", err)
	}
	return saved, nil
}

func (s *Service) PreviewFormat(ctx context.Context, id host.WindowID, titleFormat string) (string, error) {
	c, err := s.requireCollection()
	if err != nil {
		return "", err
	}
	prefix, err := c.Preview(id, titleFormat)
	if err != nil {
		return "", windowErr(id, err)
	}
	return prefix, nil
}
