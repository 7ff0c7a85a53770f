package controller

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/window_titler/internal/host"
	"github.com/dgnsrekt/window_titler/internal/host/hosttest"
	"github.com/dgnsrekt/window_titler/internal/relay"
	"github.com/dgnsrekt/window_titler/internal/settings"
	"github.com/dgnsrekt/window_titler/internal/titler"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

type fixture struct {
	browser  *hosttest.Browser
	store    *hosttest.SessionStore
	settings *settings.Store
	svc      *Service
	window   host.WindowID
}

func newFixture(t *testing.T, edit func(*settings.Settings)) *fixture {
	t.Helper()
	return newFixtureWithEvents(t, edit, nil)
}

func newFixtureWithEvents(t *testing.T, edit func(*settings.Settings), events *relay.Broker) *fixture {
	t.Helper()
	st, err := settings.Open(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatalf("settings.Open() error = %v", err)
	}
	if _, err := st.Update(func(s *settings.Settings) {
		s.BlockTimeMS = 0
		s.TabRemovalGraceMS = 50
		if edit != nil {
			edit(s)
		}
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	b := hosttest.NewBrowser()
	id := b.AddWindow(host.WindowNormal, false, 2)
	store := hosttest.NewSessionStore()
	store.Seed(id, titler.KeyRestored, true)

	svc := NewService(Deps{
		Browser:     b,
		Session:     store,
		Settings:    st,
		Environment: host.Environment{OS: "linux", Arch: "x86-64"},
		Events:      events,
	})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })
	return &fixture{browser: b, store: store, settings: st, svc: svc, window: id}
}

func (f *fixture) waitTitle(t *testing.T, want string) {
	t.Helper()
	waitFor(t, 2*time.Second, func() bool { return f.browser.Title(f.window) == want })
}

func codeOf(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

func TestStartAppliesPrefix(t *testing.T) {
	f := newFixture(t, nil)
	f.waitTitle(t, "[2] ")

	st, err := f.svc.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !st.Enabled || st.TrackedWindows != 1 {
		t.Fatalf("Status() = %+v; want enabled with 1 window", st)
	}
}

func TestDisableClearsPrefixesAndEnableRestores(t *testing.T) {
	f := newFixture(t, nil)
	f.waitTitle(t, "[2] ")

	if _, err := f.settings.Update(func(s *settings.Settings) { s.Enabled = false }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	f.waitTitle(t, "")
	windows, err := f.svc.ListWindows(context.Background())
	if err != nil || len(windows) != 0 {
		t.Fatalf("ListWindows() = %v, %v; want empty", windows, err)
	}
	if err := f.svc.ReapplyPrefixes(context.Background()); codeOf(err) != CodeDisabled {
		t.Fatalf("ReapplyPrefixes() error = %v; want %s", err, CodeDisabled)
	}

	if _, err := f.settings.Update(func(s *settings.Settings) { s.Enabled = true }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	f.waitTitle(t, "[2] ")
}

func TestFormatChangeAppliesLive(t *testing.T) {
	f := newFixture(t, nil)
	f.waitTitle(t, "[2] ")

	next := f.settings.Get()
	next.TitleFormat = "%OS%/%Arch% %TabCount% "
	if _, err := f.svc.PutSettings(context.Background(), next); err != nil {
		t.Fatalf("PutSettings() error = %v", err)
	}
	f.waitTitle(t, "linux/x86-64 2 ")
}

func TestWindowNameOperations(t *testing.T) {
	f := newFixture(t, nil)
	f.waitTitle(t, "[2] ")
	ctx := context.Background()

	if err := f.svc.SetWindowName(ctx, f.window, "  Research "); err != nil {
		t.Fatalf("SetWindowName() error = %v", err)
	}
	f.waitTitle(t, "[2] Research | ")

	if err := f.svc.NameAllWindows(ctx, "All"); err != nil {
		t.Fatalf("NameAllWindows() error = %v", err)
	}
	f.waitTitle(t, "[2] All | ")

	if err := f.svc.ClearWindowData(ctx); err != nil {
		t.Fatalf("ClearWindowData() error = %v", err)
	}
	f.waitTitle(t, "[2] ")

	if err := f.svc.SetWindowName(ctx, 999, "x"); codeOf(err) != CodeWindowNotFound {
		t.Fatalf("SetWindowName(999) error = %v; want %s", err, CodeWindowNotFound)
	}
}

func TestWindowSettingsOverride(t *testing.T) {
	f := newFixture(t, nil)
	f.waitTitle(t, "[2] ")
	ctx := context.Background()

	ws := titler.WindowSettings{WindowPrefixFormat: titler.PrefixFormat{Value: "ignored"}}
	if err := f.svc.SetWindowSettings(ctx, f.window, ws); codeOf(err) != CodeValidation {
		t.Fatalf("SetWindowSettings() error = %v; want %s", err, CodeValidation)
	}

	ws.WindowPrefixFormat.Override = true
	ws.WindowPrefixFormat.Value = "<%TabCount%> "
	if err := f.svc.SetWindowSettings(ctx, f.window, ws); err != nil {
		t.Fatalf("SetWindowSettings() error = %v", err)
	}
	f.waitTitle(t, "<2> ")
}

func TestWindowDataDisabledRejectsNames(t *testing.T) {
	f := newFixture(t, func(s *settings.Settings) { s.WindowData.Enabled = false })
	f.waitTitle(t, "[2] ")

	err := f.svc.SetWindowName(context.Background(), f.window, "x")
	if got, want := codeOf(err), CodeDisabled; got != want {
		t.Fatalf("SetWindowName() code = %q; want %q", got, want)
	}

	if _, err := f.settings.Update(func(s *settings.Settings) { s.WindowData.Enabled = true }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return f.svc.SetWindowName(context.Background(), f.window, "Back") == nil
	})
	f.waitTitle(t, "[2] Back | ")
}

func TestPreviewFormat(t *testing.T) {
	f := newFixture(t, nil)
	f.waitTitle(t, "[2] ")

	got, err := f.svc.PreviewFormat(context.Background(), f.window, "%TabCount%-%Count%")
	if err != nil {
		t.Fatalf("PreviewFormat() error = %v", err)
	}
	if want := "2-1"; got != want {
		t.Fatalf("PreviewFormat() = %q; want %q", got, want)
	}
	if _, err := f.svc.PreviewFormat(context.Background(), 999, "x"); codeOf(err) != CodeWindowNotFound {
		t.Fatalf("PreviewFormat(999) error = %v; want %s", err, CodeWindowNotFound)
	}
}

func TestStopClearsPrefixes(t *testing.T) {
	f := newFixture(t, nil)
	f.waitTitle(t, "[2] ")
	if err := f.svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := f.browser.Title(f.window); got != "" {
		t.Fatalf("Title() = %q after Stop; want empty", got)
	}
}

func TestEventsArePublished(t *testing.T) {
	events := relay.NewBroker()
	id, ch := events.Subscribe()
	defer events.Unsubscribe(id)

	f := newFixtureWithEvents(t, nil, events)
	f.waitTitle(t, "[2] ")
	if err := f.svc.SetWindowName(context.Background(), f.window, "Docs"); err != nil {
		t.Fatalf("SetWindowName() error = %v", err)
	}
	f.waitTitle(t, "[2] Docs | ")

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for !(seen["lifecycle"] && seen["title"] && seen["window_data"]) {
		select {
		case evt := <-ch:
			switch {
			case evt.Feed == relay.FeedLifecycle && strings.Contains(evt.Payload, `"started"`):
				seen["lifecycle"] = true
			case evt.Feed == relay.FeedTitles && strings.Contains(evt.Payload, `"prefix":"[2] Docs | "`):
				seen["title"] = true
			case evt.Feed == relay.FeedWindowData && strings.Contains(evt.Payload, `"key":"`+titler.KeyWindowName+`"`):
				seen["window_data"] = true
			}
		case <-deadline:
			t.Fatalf("events seen = %v; want lifecycle, title and window_data", seen)
		}
	}
}
