package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgnsrekt/window_titler/internal/relay"
)

func readLines(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	var out []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		out = append(out, r)
	}
	return out
}

func TestWriterRotatesByDate(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	w := NewJSONLWriter(dir, "sess", 16, 10)
	w.now = func() time.Time { return day }

	if err := w.Write(Record{Feed: relay.FeedTitles, Data: json.RawMessage(`{"n":1}`)}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	// Flush the first record before moving the clock.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(filepath.Join(dir, "2026-03-01", "sess.jsonl")); err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	w.mu.Lock()
	w.now = func() time.Time { return day.Add(2 * time.Minute) }
	w.mu.Unlock()
	if err := w.Write(Record{Feed: relay.FeedTitles, Data: json.RawMessage(`{"n":2}`)}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := readLines(t, filepath.Join(dir, "2026-03-01", "sess.jsonl")); len(got) != 1 || string(got[0].Data) != `{"n":1}` {
		t.Fatalf("day one = %+v", got)
	}
	if got := readLines(t, filepath.Join(dir, "2026-03-02", "sess.jsonl")); len(got) != 1 || string(got[0].Data) != `{"n":2}` {
		t.Fatalf("day two = %+v", got)
	}
	if err := w.Write(Record{}); err != ErrWriterClosed {
		t.Fatalf("Write() after Close error = %v; want ErrWriterClosed", err)
	}
}

func TestFollowJournalsBrokerEvents(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLWriter(dir, "sess", 16, 10)
	broker := relay.NewBroker()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Follow(ctx, broker, w)
		close(done)
	}()
	for broker.ClientCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	broker.PublishJSON(relay.FeedTitles, map[string]any{"window_id": 4, "prefix": "[1] "})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		matches, _ := filepath.Glob(filepath.Join(dir, "*", "sess.jsonl"))
		if len(matches) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*", "sess.jsonl"))
	if len(matches) != 1 {
		t.Fatalf("journal files = %v; want 1", matches)
	}
	got := readLines(t, matches[0])
	if len(got) != 1 || got[0].Feed != relay.FeedTitles {
		t.Fatalf("records = %+v", got)
	}
}
