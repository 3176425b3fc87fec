package diagnostics

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCollectorAggregates(t *testing.T) {
	var buf bytes.Buffer
	c := NewCollector(zerolog.New(&buf), 10)
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	c.Report(Event{Component: "oof", Message: "fold skipped"})
	c.Report(Event{Component: "oof", Message: "fold skipped"})
	c.Report(Event{Component: "meta", Severity: SeverityError, Message: "single class", Fields: map[string]string{"rows": "12"}})

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	if snap[0].Component != "oof" || snap[0].Count != 2 || snap[0].Severity != SeverityWarn {
		t.Fatalf("unexpected first entry %+v", snap[0])
	}
	if !snap[0].LastSeen.After(snap[0].FirstSeen) {
		t.Fatal("expected last seen to advance")
	}
	if strings.Count(buf.String(), "\n") != 3 {
		t.Fatalf("expected every event mirrored to the log, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), `"rows":"12"`) {
		t.Fatalf("expected fields in the log, got %q", buf.String())
	}
}

func TestCollectorLimit(t *testing.T) {
	c := NewCollector(zerolog.Nop(), 2)
	for _, m := range []string{"a", "b", "c", "a"} {
		c.Report(Event{Component: "x", Message: m})
	}
	if len(c.Snapshot()) != 2 || c.Dropped() != 1 {
		t.Fatalf("unexpected state entries=%d dropped=%d", len(c.Snapshot()), c.Dropped())
	}
	c.Reset()
	if len(c.Snapshot()) != 0 || c.Dropped() != 0 {
		t.Fatal("expected reset to clear the collector")
	}
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector(zerolog.Nop(), 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Report(Event{Component: "quantile", Message: "fit failed"})
			}
		}()
	}
	wg.Wait()
	if snap := c.Snapshot(); len(snap) != 1 || snap[0].Count != 800 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	Discard.Report(Event{})
}
