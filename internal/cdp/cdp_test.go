package cdp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/window_titler/internal/host"
)

func TestVersionInfo(t *testing.T) {
	v := VersionInfo{
		Browser:      "Chrome/120.0.6099.109",
		WebSocketURL: "ws://127.0.0.1:9222/devtools/browser/4a1c0a3e-1d6b-4f5e-9a55-1f0f0d2c6f11",
	}
	if got, want := v.SessionID(), "4a1c0a3e-1d6b-4f5e-9a55-1f0f0d2c6f11"; got != want {
		t.Fatalf("SessionID() = %q; want %q", got, want)
	}
	version, build := v.Version()
	if version != "120.0.6099.109" || build != "6099" {
		t.Fatalf("Version() = %q, %q; want 120.0.6099.109, 6099", version, build)
	}

	version, build = VersionInfo{Browser: "HeadlessChrome"}.Version()
	if version != "HeadlessChrome" || build != "" {
		t.Fatalf("Version() = %q, %q; want HeadlessChrome, empty", version, build)
	}
}

func TestConnVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Browser":"Chrome/121.0.6167.85","Protocol-Version":"1.3","webSocketDebuggerUrl":"ws://x/devtools/browser/abc"}`))
	}))
	defer srv.Close()

	info, err := newConn(srv.URL + "/").version(context.Background())
	if err != nil {
		t.Fatalf("version() error = %v", err)
	}
	if got, want := info.ProtocolVersion, "1.3"; got != want {
		t.Fatalf("ProtocolVersion = %q; want %q", got, want)
	}
	if got, want := info.SessionID(), "abc"; got != want {
		t.Fatalf("SessionID() = %q; want %q", got, want)
	}
}

func TestConnVersionHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := newConn(srv.URL).version(context.Background()); err == nil {
		t.Fatal("version() error = nil; want HTTP error")
	}
}

func TestSendAfterClose(t *testing.T) {
	c := newConn("http://127.0.0.1:0")
	c.close()
	if _, err := c.send(context.Background(), "", "Browser.getVersion", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("send() error = %v; want ErrClosed", err)
	}
}

func TestTranslate(t *testing.T) {
	for _, tc := range []struct {
		msg      string
		notFound bool
	}{
		{"No target with given id found", true},
		{"No session with given id", true},
		{"Browser window not found", true},
		{"Internal error", false},
	} {
		err := translate(&ProtocolError{Method: "Target.attachToTarget", Code: -32602, Message: tc.msg})
		if got := errors.Is(err, host.ErrNotFound); got != tc.notFound {
			t.Fatalf("translate(%q) is ErrNotFound = %v; want %v", tc.msg, got, tc.notFound)
		}
	}
}

func TestWindowType(t *testing.T) {
	for _, tc := range []struct {
		info target.Info
		want host.WindowType
	}{
		{target.Info{URL: "https://example.com"}, host.WindowNormal},
		{target.Info{URL: "devtools://devtools/bundled/inspector.html"}, host.WindowDevTools},
		{target.Info{URL: "https://example.com/login", OpenerID: "A1", CanAccessOpener: true}, host.WindowPopup},
		{target.Info{URL: "https://example.com", OpenerID: "A1"}, host.WindowNormal},
	} {
		if got := windowType(&tc.info); got != tc.want {
			t.Fatalf("windowType(%q) = %v; want %v", tc.info.URL, got, tc.want)
		}
	}
}

func TestPrefaceSourceQuotesPreface(t *testing.T) {
	src := prefaceSource(`[2] "Work" </script>`)
	if !strings.HasSuffix(src, `)("[2] \"Work\" \u003c/script\u003e")`) {
		t.Fatalf("prefaceSource() tail = %q", src[len(src)-40:])
	}
}
