// Package diagnostics collects degradation events raised while a pipeline
// run falls back to sentinel values.
package diagnostics

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

type Event struct {
	Component string            `json:"component"`
	Severity  Severity          `json:"severity"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Report(Event)
}

type discard struct{}

func (discard) Report(Event) {}

// Discard drops every event.
var Discard Sink = discard{}

type Entry struct {
	Event
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Collector aggregates events by component, severity and message, keeps at
// most Limit distinct entries and mirrors every event to the logger.
type Collector struct {
	log   zerolog.Logger
	limit int
	now   func() time.Time

	mu      sync.Mutex
	entries map[key]*Entry
	dropped int
}

type key struct {
	component string
	severity  Severity
	message   string
}

const DefaultLimit = 256

func NewCollector(log zerolog.Logger, limit int) *Collector {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Collector{
		log:     log,
		limit:   limit,
		now:     time.Now,
		entries: make(map[key]*Entry),
	}
}

func (c *Collector) Report(e Event) {
	if e.Severity == "" {
		e.Severity = SeverityWarn
	}
	c.logEvent(e)

	now := c.now()
	k := key{component: e.Component, severity: e.Severity, message: e.Message}

	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[k]; ok {
		entry.Count++
		entry.LastSeen = now
		return
	}
	if len(c.entries) >= c.limit {
		c.dropped++
		return
	}
	c.entries[k] = &Entry{Event: e, Count: 1, FirstSeen: now, LastSeen: now}
}

func (c *Collector) logEvent(e Event) {
	var ev *zerolog.Event
	switch e.Severity {
	case SeverityInfo:
		ev = c.log.Info()
	case SeverityError:
		ev = c.log.Error()
	default:
		ev = c.log.Warn()
	}
	ev = ev.Str("component", e.Component)
	for k, v := range e.Fields {
		ev = ev.Str(k, v)
	}
	ev.Msg(e.Message)
}

// Snapshot returns the aggregated entries ordered by first appearance.
func (c *Collector) Snapshot() []Entry {
	c.mu.Lock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	c.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].FirstSeen.Before(out[j].FirstSeen)
		}
		if out[i].Component != out[j].Component {
			return out[i].Component < out[j].Component
		}
		return out[i].Message < out[j].Message
	})
	return out
}

// Dropped is the number of events refused once the limit was reached.
func (c *Collector) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Collector) Reset() {
	c.mu.Lock()
	c.entries = make(map[key]*Entry)
	c.dropped = 0
	c.mu.Unlock()
}
