package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/tidwall/gjson"

	"github.com/dgnsrekt/window_titler/internal/host"
)

// prefaceScript keeps document.title equal to the preface followed by the
// title the page itself last set. It is installed for new documents and run
// in the current one.
const prefaceScript = `(function (preface) {
  var key = "__windowTitlerPreface";
  var st = window[key];
  if (!st) {
    st = window[key] = { preface: "", base: null, last: null, observed: null };
    st.observe = function () {
      var el = document.querySelector("title");
      if (!el || st.observed === el) return;
      st.observed = el;
      new MutationObserver(st.apply).observe(el, { childList: true, characterData: true, subtree: true });
    };
    st.apply = function () {
      var t = document.title;
      if (st.last === null || t !== st.last) st.base = t;
      st.last = st.preface + st.base;
      if (t !== st.last) document.title = st.last;
      st.observe();
    };
    if (document.readyState === "loading") {
      document.addEventListener("DOMContentLoaded", function () { st.apply(); });
    }
  }
  st.preface = preface;
  st.apply();
})(%s)`

func prefaceSource(preface string) string {
	arg, _ := json.Marshal(preface)
	return fmt.Sprintf(prefaceScript, arg)
}

// SetTitlePreface applies preface to every tab of the window. Tabs that join
// the window later get it when they are discovered.
func (b *Browser) SetTitlePreface(ctx context.Context, windowID host.WindowID, preface string) error {
	b.mu.Lock()
	w, ok := b.windows[windowID]
	if !ok {
		b.mu.Unlock()
		return host.ErrNotFound
	}
	w.preface = preface
	w.hasPreface = true
	tabs := slices.Clone(w.tabs)
	b.mu.Unlock()

	var errs []error
	applied := 0
	for _, id := range tabs {
		err := b.applyPreface(ctx, id, preface)
		switch {
		case err == nil:
			applied++
		case errors.Is(err, host.ErrNotFound):
		default:
			errs = append(errs, fmt.Errorf("tab %s: %w", id, err))
		}
	}
	if applied == 0 && len(errs) == 0 && len(tabs) > 0 {
		return host.ErrNotFound
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("cdp: set title preface for window %d: %w", windowID, err)
	}
	return nil
}

func (b *Browser) applyPreface(ctx context.Context, id host.TabID, preface string) error {
	sessionID, err := b.session(ctx, id)
	if err != nil {
		return err
	}
	source := prefaceSource(preface)

	b.mu.Lock()
	var oldScript string
	if t, ok := b.tabs[id]; ok {
		oldScript = t.scriptID
	}
	b.mu.Unlock()

	if oldScript != "" {
		if _, err := b.call(ctx, sessionID, "Page.removeScriptToEvaluateOnNewDocument",
			&page.RemoveScriptToEvaluateOnNewDocumentParams{Identifier: page.ScriptIdentifier(oldScript)}); err != nil {
			slog.Debug("cdp preface script removal failed", "tab_id", id, "error", err)
		}
	}
	res, err := b.call(ctx, sessionID, "Page.addScriptToEvaluateOnNewDocument",
		&page.AddScriptToEvaluateOnNewDocumentParams{Source: source})
	if err != nil {
		return translate(err)
	}
	scriptID := gjson.GetBytes(res, "identifier").String()

	b.mu.Lock()
	if t, ok := b.tabs[id]; ok && t.sessionID == sessionID {
		t.scriptID = scriptID
	}
	b.mu.Unlock()

	res, err = b.call(ctx, sessionID, "Runtime.evaluate", &runtime.EvaluateParams{Expression: source})
	if err != nil {
		return translate(err)
	}
	if ex := gjson.GetBytes(res, "exceptionDetails.text"); ex.Exists() {
		return fmt.Errorf("cdp: preface script: %s", ex.String())
	}
	return nil
}
