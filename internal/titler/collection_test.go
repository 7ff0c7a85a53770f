package titler

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/dgnsrekt/window_titler/internal/host"
	"github.com/dgnsrekt/window_titler/internal/host/hosttest"
)

func TestDefaultFormatRendersCountAndName(t *testing.T) {
	var id host.WindowID
	f := newFixture(t, testOptions(), func(b *hosttest.Browser, s *hosttest.SessionStore) {
		id = b.AddWindow(host.WindowNormal, false, 3)
		s.Seed(id, KeyRestored, true)
		s.Seed(id, KeyWindowName, "Work")
	})
	f.waitTitle(t, id, "[3] Work | ")

	f.coll.SetWindowName(context.Background(), id, "")
	f.waitTitle(t, id, "[3] ")
}

func TestNewWindowIsTracked(t *testing.T) {
	f := newFixture(t, testOptions(), nil)
	id := f.browser.AddWindow(host.WindowNormal, false, 2)
	f.waitTitle(t, id, "[2] ")

	f.browser.RemoveWindow(id)
	f.waitTracked(t, 0)
}

func TestTabMoveUpdatesBothWindows(t *testing.T) {
	var a, b host.WindowID
	opts := testOptions()
	opts.TitleFormat = "[%TabCount%]"
	f := newFixture(t, opts, func(br *hosttest.Browser, _ *hosttest.SessionStore) {
		a = br.AddWindow(host.WindowNormal, false, 2)
		b = br.AddWindow(host.WindowNormal, false, 1)
	})
	f.waitTitle(t, a, "[2]")
	f.waitTitle(t, b, "[1]")

	f.browser.MoveTab(f.browser.TabIDs(a)[1], b)
	f.waitTitle(t, a, "[1]")
	f.waitTitle(t, b, "[2]")
}

func TestTabCountSettlesUnderChurn(t *testing.T) {
	var id, other host.WindowID
	opts := testOptions()
	opts.TitleFormat = "%TabCount%"
	opts.TabRemovalGrace = 80 * time.Millisecond
	f := newFixture(t, opts, func(b *hosttest.Browser, _ *hosttest.SessionStore) {
		b.SetRemovalLag(30 * time.Millisecond)
		id = b.AddWindow(host.WindowNormal, false, 2)
		other = b.AddWindow(host.WindowNormal, false, 1)
	})
	f.waitTitle(t, id, "2")

	var added []host.TabID
	for i := 0; i < 4; i++ {
		added = append(added, f.browser.AddTab(id, "https://example.com"))
	}
	f.browser.RemoveTab(added[0])
	f.browser.RemoveTab(added[2])
	f.browser.MoveTab(added[3], other)
	f.browser.AddTab(id, "https://example.org")

	want := f.browser.TabCount(id)
	w := f.wrapper(t, id)
	waitFor(t, 2*time.Second, func() bool { return w.TabCount() == want })
	time.Sleep(150 * time.Millisecond)

	if got := w.TabCount(); got != want {
		t.Fatalf("TabCount() = %d; want %d", got, want)
	}
	if got := f.browser.TabQueries(id); got == 0 {
		t.Fatal("TabQueries() = 0; want reconciliation queries")
	}
	f.waitTitle(t, id, "4")
	f.waitTitle(t, other, "2")
}

func TestZeroCeilingNeverQueriesTabs(t *testing.T) {
	var id host.WindowID
	opts := testOptions()
	opts.TitleFormat = "[%TabCount%]"
	opts.RecountTabsWhenEqualOrLessThan = 0
	f := newFixture(t, opts, func(b *hosttest.Browser, _ *hosttest.SessionStore) {
		id = b.AddWindow(host.WindowNormal, false, 3)
	})
	f.waitTitle(t, id, "[3]")

	f.browser.AddTab(id, "")
	f.browser.AddTab(id, "")
	f.browser.RemoveTab(f.browser.TabIDs(id)[0])
	f.waitTitle(t, id, "[4]")

	late := f.browser.AddWindow(host.WindowNormal, false, 2)
	f.waitTitle(t, late, "[2]")

	if got := f.browser.TabQueries(id) + f.browser.TabQueries(late); got != 0 {
		t.Fatalf("TabQueries() = %d; want 0", got)
	}
}

func TestCountPlaceholderIsUnique(t *testing.T) {
	var a, b host.WindowID
	opts := testOptions()
	opts.TitleFormat = "W%Count% "
	f := newFixture(t, opts, func(br *hosttest.Browser, _ *hosttest.SessionStore) {
		a = br.AddWindow(host.WindowNormal, false, 1)
		b = br.AddWindow(host.WindowNormal, false, 1)
	})
	waitFor(t, 2*time.Second, func() bool {
		got := []string{f.browser.Title(a), f.browser.Title(b)}
		slices.Sort(got)
		return slices.Equal(got, []string{"W1 ", "W2 "})
	})

	c := f.browser.AddWindow(host.WindowNormal, false, 1)
	f.waitTitle(t, c, "W3 ")
}

func TestCountSkipsCollidingPrefixesOnly(t *testing.T) {
	var a, b host.WindowID
	opts := testOptions()
	opts.TitleFormat = "%IfWindowName(%WindowName%,W%Count%)% "
	f := newFixture(t, opts, func(br *hosttest.Browser, s *hosttest.SessionStore) {
		a = br.AddWindow(host.WindowNormal, false, 1)
		b = br.AddWindow(host.WindowNormal, false, 1)
		s.Seed(a, KeyRestored, true)
		s.Seed(b, KeyRestored, true)
		s.Seed(a, KeyWindowName, "Work")
	})
	f.waitTitle(t, a, "Work ")
	f.waitTitle(t, b, "W1 ")
}

func TestTotalTabCount(t *testing.T) {
	var a, b, private host.WindowID
	opts := testOptions()
	opts.TitleFormat = "%TabCount%/%TotalTabCount%"
	opts.ExcludePrivateFromTotal = true
	f := newFixture(t, opts, func(br *hosttest.Browser, _ *hosttest.SessionStore) {
		a = br.AddWindow(host.WindowNormal, false, 2)
		b = br.AddWindow(host.WindowNormal, false, 3)
		private = br.AddWindow(host.WindowNormal, true, 4)
	})
	f.waitTitle(t, a, "2/5")
	f.waitTitle(t, b, "3/5")
	f.waitTitle(t, private, "4/5")

	f.browser.AddTab(a, "")
	f.waitTitle(t, a, "3/6")
	f.waitTitle(t, b, "3/6")
}

func TestIgnoredWindowsGetEmptyPrefix(t *testing.T) {
	var normal, private, popup host.WindowID
	opts := testOptions()
	opts.IgnorePrivateWindows = true
	opts.IgnorePopupWindows = true
	f := newFixture(t, opts, func(br *hosttest.Browser, _ *hosttest.SessionStore) {
		normal = br.AddWindow(host.WindowNormal, false, 1)
		private = br.AddWindow(host.WindowNormal, true, 1)
		popup = br.AddWindow(host.WindowPopup, false, 1)
	})
	f.waitTitle(t, normal, "[1] ")
	for _, id := range []host.WindowID{private, popup} {
		waitFor(t, time.Second, func() bool { return len(f.browser.WritesFor(id)) > 0 })
		f.waitTitle(t, id, "")
		for _, wr := range f.browser.WritesFor(id) {
			if wr != "" && wr != " " {
				t.Fatalf("window %d got write %q; want only empty prefix", id, wr)
			}
		}
	}
}

func TestActiveTabIndex(t *testing.T) {
	var id host.WindowID
	opts := testOptions()
	opts.TitleFormat = "%ActiveTabIndex%/%TabCount%"
	f := newFixture(t, opts, func(b *hosttest.Browser, _ *hosttest.SessionStore) {
		id = b.AddWindow(host.WindowNormal, false, 3)
	})
	f.waitTitle(t, id, "1/3")

	f.browser.Activate(f.browser.TabIDs(id)[1])
	f.waitTitle(t, id, "2/3")

	f.browser.ReorderTab(f.browser.TabIDs(id)[1], 2)
	f.waitTitle(t, id, "3/3")
}

func TestInvalidRegexRendersElseBranch(t *testing.T) {
	var id host.WindowID
	opts := testOptions()
	opts.TitleFormat = "%IfRegexMatch(abc,[,,yes,no)%"
	f := newFixture(t, opts, func(b *hosttest.Browser, _ *hosttest.SessionStore) {
		id = b.AddWindow(host.WindowNormal, false, 1)
	})
	f.waitTitle(t, id, "no")
}

func TestRegexMatchesRenderedCount(t *testing.T) {
	var id host.WindowID
	opts := testOptions()
	opts.TitleFormat = "%IfRegexMatch(%TabCount%,^[3-9]$,,many ,)%"
	f := newFixture(t, opts, func(b *hosttest.Browser, _ *hosttest.SessionStore) {
		id = b.AddWindow(host.WindowNormal, false, 2)
	})
	waitFor(t, 2*time.Second, func() bool { return len(f.browser.WritesFor(id)) > 0 })
	f.waitTitle(t, id, "")

	f.browser.AddTab(id, "")
	f.waitTitle(t, id, "many ")
}

func TestExternalNameChangeRerenders(t *testing.T) {
	var id host.WindowID
	f := newFixture(t, testOptions(), func(b *hosttest.Browser, s *hosttest.SessionStore) {
		id = b.AddWindow(host.WindowNormal, false, 1)
		s.Seed(id, KeyRestored, true)
	})
	f.waitTitle(t, id, "[1] ")

	f.store.PushExternal(id, KeyWindowName, "Ext")
	f.waitTitle(t, id, "[1] Ext | ")

	f.store.PushExternal(id, KeyWindowName, nil)
	f.waitTitle(t, id, "[1] ")
}

func TestWindowDataChangedReloads(t *testing.T) {
	var id host.WindowID
	f := newFixture(t, testOptions(), func(b *hosttest.Browser, s *hosttest.SessionStore) {
		id = b.AddWindow(host.WindowNormal, false, 1)
		s.Seed(id, KeyRestored, true)
	})
	w := f.wrapper(t, id)
	<-w.SessionReady()
	f.waitTitle(t, id, "[1] ")

	f.store.Seed(id, KeyWindowSettings, WindowSettings{WindowPrefixFormat: PrefixFormat{Override: true, Value: "custom "}})
	if err := f.coll.WindowDataChanged(context.Background(), id); err != nil {
		t.Fatalf("WindowDataChanged() error = %v", err)
	}
	f.waitTitle(t, id, "custom ")

	if err := f.coll.WindowDataChanged(context.Background(), 999); !errors.Is(err, ErrWindowNotTracked) {
		t.Fatalf("WindowDataChanged(999) error = %v; want %v", err, ErrWindowNotTracked)
	}
}

func TestOverrideFormatAlwaysUsesName(t *testing.T) {
	var id host.WindowID
	opts := testOptions()
	opts.WindowData.Enabled = false
	f := newFixture(t, opts, func(b *hosttest.Browser, _ *hosttest.SessionStore) {
		id = b.AddWindow(host.WindowNormal, false, 2)
	})
	f.waitTitle(t, id, "[2] ")

	ctx := context.Background()
	f.coll.SetWindowName(ctx, id, "Named")
	time.Sleep(20 * time.Millisecond)
	f.waitTitle(t, id, "[2] ")

	f.coll.SetWindowSettings(ctx, id, WindowSettings{WindowPrefixFormat: PrefixFormat{Override: true, Value: "%WindowName%: "}})
	f.waitTitle(t, id, "Named: ")
}

func TestApplyNameToAllAndClear(t *testing.T) {
	var a, b host.WindowID
	f := newFixture(t, testOptions(), func(br *hosttest.Browser, s *hosttest.SessionStore) {
		a = br.AddWindow(host.WindowNormal, false, 1)
		b = br.AddWindow(host.WindowNormal, false, 1)
		s.Seed(a, KeyRestored, true)
		s.Seed(b, KeyRestored, true)
	})
	f.waitTracked(t, 2)
	for _, w := range f.coll.Wrappers() {
		<-w.SessionReady()
	}

	ctx := context.Background()
	f.coll.ApplyNameToAll(ctx, "Team")
	f.waitTitle(t, a, "[1] Team | ")
	f.waitTitle(t, b, "[1] Team | ")

	f.coll.ClearAllWindowData(ctx)
	f.waitTitle(t, a, "[1] ")
	f.waitTitle(t, b, "[1] ")
	if _, ok := f.store.Raw(a, KeyWindowName); ok {
		t.Fatal("name still stored after ClearAllWindowData")
	}
}

func TestNewTabFixRewritesAfterLoad(t *testing.T) {
	var id host.WindowID
	opts := testOptions()
	opts.TitleFormat = "[%TabCount%]"
	opts.NewTabFix.Enabled = true
	f := newFixture(t, opts, func(b *hosttest.Browser, _ *hosttest.SessionStore) {
		id = b.AddWindow(host.WindowNormal, false, 1)
	})
	f.waitTitle(t, id, "[1]")

	tab := f.browser.AddTab(id, "about:blank")
	f.waitTitle(t, id, "[2]")
	f.browser.CompleteLoad(tab)

	waitFor(t, time.Second, func() bool {
		n := 0
		for _, wr := range f.browser.WritesFor(id) {
			if wr == "[2]" {
				n++
			}
		}
		return n >= 2
	})
}

func TestFocusRefreshRewritesPrefix(t *testing.T) {
	var id host.WindowID
	opts := testOptions()
	opts.NewTabFix.Enabled = true
	opts.NewTabFix.RefreshOnFocus = true
	f := newFixture(t, opts, func(b *hosttest.Browser, _ *hosttest.SessionStore) {
		id = b.AddWindow(host.WindowNormal, false, 1)
	})
	f.waitTitle(t, id, "[1] ")
	before := len(f.browser.WritesFor(id))

	f.browser.Focus(id)
	waitFor(t, time.Second, func() bool { return len(f.browser.WritesFor(id)) > before })
}

func TestListenersFollowFormat(t *testing.T) {
	var id host.WindowID
	opts := testOptions()
	opts.TitleFormat = "static "
	f := newFixture(t, opts, func(b *hosttest.Browser, _ *hosttest.SessionStore) {
		id = b.AddWindow(host.WindowNormal, false, 2)
	})
	f.waitTitle(t, id, "static ")

	if got := f.browser.TabListenerCount(); got != 0 {
		t.Fatalf("TabListenerCount() = %d; want 0", got)
	}
	if got := f.browser.ActivatedListenerCount(); got != 0 {
		t.Fatalf("ActivatedListenerCount() = %d; want 0", got)
	}
	if got, want := f.browser.WindowListenerCount(), 1; got != want {
		t.Fatalf("WindowListenerCount() = %d; want %d", got, want)
	}

	next := opts
	next.TitleFormat = "%ActiveTabIndex% "
	f.coll.ApplyOptions(next)
	if got, want := f.browser.ActivatedListenerCount(), 1; got != want {
		t.Fatalf("ActivatedListenerCount() = %d; want %d", got, want)
	}
	f.waitTitle(t, id, "1 ")

	next.TitleFormat = "%TabCount% "
	f.coll.ApplyOptions(next)
	if got := f.browser.ActivatedListenerCount(); got != 0 {
		t.Fatalf("ActivatedListenerCount() = %d; want 0", got)
	}
	f.waitTitle(t, id, "2 ")
	f.browser.AddTab(id, "")
	f.waitTitle(t, id, "3 ")
}

func TestNameWithPlaceholdersNeedsListeners(t *testing.T) {
	var id host.WindowID
	opts := testOptions()
	opts.TitleFormat = "%WindowName%"
	f := newFixture(t, opts, func(b *hosttest.Browser, s *hosttest.SessionStore) {
		id = b.AddWindow(host.WindowNormal, false, 2)
		s.Seed(id, KeyRestored, true)
	})
	w := f.wrapper(t, id)
	<-w.SessionReady()
	if got := f.browser.TabListenerCount(); got != 0 {
		t.Fatalf("TabListenerCount() = %d; want 0", got)
	}

	f.coll.SetWindowName(context.Background(), id, "%TabCount% tabs")
	waitFor(t, time.Second, func() bool { return f.browser.TabListenerCount() == 1 })
	f.waitTitle(t, id, "2 tabs")
	f.browser.AddTab(id, "")
	f.waitTitle(t, id, "3 tabs")
}

func TestNoListenersWhenNothingToRender(t *testing.T) {
	opts := testOptions()
	opts.TitleFormat = ""
	opts.WindowData.Enabled = false
	f := newFixture(t, opts, func(b *hosttest.Browser, _ *hosttest.SessionStore) {
		b.AddWindow(host.WindowNormal, false, 1)
	})
	time.Sleep(20 * time.Millisecond)
	if got := f.browser.ListenerCount(); got != 0 {
		t.Fatalf("ListenerCount() = %d; want 0", got)
	}
	if got := len(f.coll.Wrappers()); got != 0 {
		t.Fatalf("len(Wrappers()) = %d; want 0", got)
	}
}

func TestDisposeReleasesEverything(t *testing.T) {
	var id host.WindowID
	opts := testOptions()
	opts.TitleFormat = "%ActiveTabIndex% %TabCount%"
	opts.NewTabFix.Enabled = true
	opts.NewTabFix.RefreshOnFocus = true
	f := newFixture(t, opts, func(b *hosttest.Browser, _ *hosttest.SessionStore) {
		id = b.AddWindow(host.WindowNormal, false, 2)
		b.AddWindow(host.WindowPopup, false, 1)
	})
	f.waitTitle(t, id, "1 2")
	wrappers := f.coll.Wrappers()

	disposed := make(map[*Wrapper]int)
	for _, w := range wrappers {
		w.OnDisposed(func(w *Wrapper) { disposed[w]++ })
	}
	f.coll.Dispose()
	f.coll.Dispose()

	if got := f.browser.ListenerCount(); got != 0 {
		t.Fatalf("ListenerCount() = %d; want 0", got)
	}
	for _, w := range wrappers {
		if !w.IsDisposed() {
			t.Fatalf("wrapper %d not disposed", w.ID())
		}
		if got := disposed[w]; got != 1 {
			t.Fatalf("wrapper %d disposed %d times; want 1", w.ID(), got)
		}
	}
	if !f.coll.IsDisposed() {
		t.Fatal("IsDisposed() = false; want true")
	}
	f.coll.ApplyOptions(opts)
	f.coll.ForceReapply()
	if got := f.browser.ListenerCount(); got != 0 {
		t.Fatalf("ListenerCount() after use = %d; want 0", got)
	}
}

func TestClearAllPrefixes(t *testing.T) {
	var id host.WindowID
	f := newFixture(t, testOptions(), func(b *hosttest.Browser, _ *hosttest.SessionStore) {
		id = b.AddWindow(host.WindowNormal, false, 1)
	})
	f.waitTitle(t, id, "[1] ")

	if err := f.coll.ClearAllPrefixes(context.Background()); err != nil {
		t.Fatalf("ClearAllPrefixes() error = %v", err)
	}
	if got := f.browser.Title(id); got != "" {
		t.Fatalf("Title() = %q; want empty", got)
	}

	f.coll.ForceReapply()
	f.waitTitle(t, id, "[1] ")
}

func TestPreview(t *testing.T) {
	var id host.WindowID
	f := newFixture(t, testOptions(), func(b *hosttest.Browser, _ *hosttest.SessionStore) {
		id = b.AddWindow(host.WindowNormal, false, 3)
	})
	f.waitTitle(t, id, "[3] ")
	writes := len(f.browser.Writes())

	got, err := f.coll.Preview(id, "%TabCount%-%Count%-%ActiveTabIndex%")
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if want := "3-1-1"; got != want {
		t.Fatalf("Preview() = %q; want %q", got, want)
	}
	if _, err := f.coll.Preview(999, "x"); !errors.Is(err, ErrWindowNotTracked) {
		t.Fatalf("Preview(999) error = %v; want %v", err, ErrWindowNotTracked)
	}
	if got := len(f.browser.Writes()); got != writes {
		t.Fatalf("Preview wrote titles: %d writes; want %d", got, writes)
	}
}

func TestWindowsSnapshot(t *testing.T) {
	var a, b host.WindowID
	f := newFixture(t, testOptions(), func(br *hosttest.Browser, _ *hosttest.SessionStore) {
		b = br.AddWindow(host.WindowPopup, false, 2)
		a = br.AddWindow(host.WindowNormal, true, 1)
	})
	f.waitTitle(t, a, "[1] ")
	f.waitTitle(t, b, "[2] ")

	got := f.coll.Windows()
	if len(got) != 2 {
		t.Fatalf("len(Windows()) = %d; want 2", len(got))
	}
	if got[0].WindowID != b || got[1].WindowID != a {
		t.Fatalf("Windows() order = %d,%d; want %d,%d", got[0].WindowID, got[1].WindowID, b, a)
	}
	if got[0].Type != host.WindowPopup || got[0].TabCount != 2 || got[0].LastTitlePrefix != "[2] " {
		t.Fatalf("Windows()[0] = %+v", got[0])
	}
	if !got[1].Incognito {
		t.Fatalf("Windows()[1].Incognito = false; want true")
	}
}
