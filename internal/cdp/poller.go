package cdp

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/dgnsrekt/window_titler/internal/host"
)

// syncPoller runs the active tab and focus poller while anyone listens for
// those events, which CDP does not deliver.
func (b *Browser) syncPoller() {
	want := b.tabActivated.Len()+b.focusChanged.Len() > 0

	b.pollMu.Lock()
	defer b.pollMu.Unlock()
	running := b.pollCancel != nil
	switch {
	case want && !running:
		ctx, cancel := context.WithCancel(b.ctx)
		b.pollCancel = cancel
		b.pollDone = make(chan struct{})
		go b.poll(ctx, b.pollDone)
		slog.Debug("cdp poller started", "interval", b.interval)
	case !want && running:
		b.pollCancel()
		b.pollCancel = nil
		slog.Debug("cdp poller stopped")
	}
}

func (b *Browser) stopPoller() {
	b.pollMu.Lock()
	cancel, done := b.pollCancel, b.pollDone
	b.pollCancel = nil
	b.pollMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (b *Browser) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		b.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *Browser) pollOnce(ctx context.Context) {
	type windowTabs struct {
		id   host.WindowID
		tabs []host.TabID
	}
	b.mu.Lock()
	snapshot := make([]windowTabs, 0, len(b.order))
	for _, id := range b.order {
		snapshot = append(snapshot, windowTabs{id: id, tabs: slices.Clone(b.windows[id].tabs)})
	}
	b.mu.Unlock()

	focused := host.NoWindow
	for _, w := range snapshot {
		active, hasFocus, err := b.probeWindow(ctx, w.tabs)
		if err != nil {
			return
		}
		if active == "" {
			continue
		}
		if hasFocus {
			focused = w.id
		}
		if b.setActive(w.id, active) {
			b.tabActivated.Fire(host.TabActivated{TabID: active, WindowID: w.id})
		}
	}

	b.mu.Lock()
	changed := b.focused != focused
	b.focused = focused
	b.mu.Unlock()
	if changed {
		b.focusChanged.Fire(host.WindowFocusChanged{WindowID: focused})
	}
}
