package relay

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBrokerDropsForSlowClients(t *testing.T) {
	b := NewBroker()
	id, ch := b.Subscribe()
	for i := 0; i < subscriberBufSize+5; i++ {
		b.Publish(Event{Feed: FeedTitles, Payload: "{}"})
	}
	if got, want := len(ch), subscriberBufSize; got != want {
		t.Fatalf("buffered = %d; want %d", got, want)
	}
	if got, want := b.Dropped(), int64(5); got != want {
		t.Fatalf("Dropped() = %d; want %d", got, want)
	}

	b.Unsubscribe(id)
	if got := b.ClientCount(); got != 0 {
		t.Fatalf("ClientCount() = %d; want 0", got)
	}
}

func TestNilBrokerDiscards(t *testing.T) {
	var b *Broker
	b.Publish(Event{Feed: FeedSettings})
	b.PublishJSON(FeedSettings, map[string]int{"a": 1})
}

func TestSSEHandlerFiltersFeeds(t *testing.T) {
	b := NewBroker()
	srv := httptest.NewServer(SSEHandler(b))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?feeds=titles", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if got, want := resp.Header.Get("Content-Type"), "text/event-stream"; got != want {
		t.Fatalf("Content-Type = %q; want %q", got, want)
	}

	b.PublishJSON(FeedSettings, map[string]bool{"enabled": true})
	b.PublishJSON(FeedTitles, map[string]any{"window_id": 3, "prefix": "[2] "})

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			lines = append(lines, line)
		}
		if len(lines) == 2 {
			break
		}
	}
	if len(lines) != 2 {
		t.Fatalf("read %q; want one event", lines)
	}
	if lines[0] != "event: titles" {
		t.Fatalf("event line = %q; want titles", lines[0])
	}
	if !strings.Contains(lines[1], `"prefix":"[2] "`) {
		t.Fatalf("data line = %q", lines[1])
	}
}
