package event

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestFireCallsListenersInOrder(t *testing.T) {
	var e Event[int]
	var got []int
	e.Subscribe(func(v int) { got = append(got, v) })
	e.Subscribe(func(v int) { got = append(got, v*10) })

	e.Fire(2)

	if len(got) != 2 || got[0] != 2 || got[1] != 20 {
		t.Fatalf("Fire() calls = %v; want [2 20]", got)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	var e Event[string]
	calls := 0
	unsub := e.Subscribe(func(string) { calls++ })
	other := e.Subscribe(func(string) {})

	unsub()
	unsub()
	e.Fire("x")

	if calls != 0 {
		t.Fatalf("listener calls after unsubscribe = %d; want 0", calls)
	}
	if got, want := e.Len(), 1; got != want {
		t.Fatalf("Len() = %d; want %d", got, want)
	}
	other()
	if got := e.Len(); got != 0 {
		t.Fatalf("Len() = %d; want 0", got)
	}
}

func TestPanickingListenerDoesNotStopOthers(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	var e Event[int]
	e.SetName("tab_count_changed")
	reached := false
	e.Subscribe(func(int) { panic("boom") })
	e.Subscribe(func(int) { reached = true })

	e.Fire(1)

	if !reached {
		t.Fatalf("second listener was not called after a panic")
	}
	if !strings.Contains(buf.String(), "event listener panicked") || !strings.Contains(buf.String(), "tab_count_changed") {
		t.Fatalf("log = %q; want panic record naming the event", buf.String())
	}
}

func TestSubscribeDuringFireTakesEffectNextTime(t *testing.T) {
	var e Event[int]
	late := 0
	e.Subscribe(func(int) {
		e.Subscribe(func(int) { late++ })
	})

	e.Fire(1)
	if late != 0 {
		t.Fatalf("listener added during Fire was called %d times; want 0", late)
	}
	e.Fire(2)
	if late != 1 {
		t.Fatalf("late listener calls = %d; want 1", late)
	}
}
