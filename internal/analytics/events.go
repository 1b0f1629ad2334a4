package analytics

import "time"

// EventType tags every published event so consumers can decode it without
// guessing.
type EventType string

const (
	EventSearch EventType = "search"
	EventIndex  EventType = "index"
)

// Event is anything the collector can publish.
type Event interface {
	Kind() EventType
}

// SearchEvent describes one answered (or failed) search request.
type SearchEvent struct {
	Type       EventType `json:"type"`
	Query      string    `json:"query"`
	Terms      []string  `json:"terms"`
	Limit      int       `json:"limit"`
	Returned   int       `json:"returned"`
	Evaluated  int       `json:"evaluated"`
	BlockSkips int       `json:"block_skips"`
	LatencyMs  float64   `json:"latency_ms"`
	CacheHit   bool      `json:"cache_hit"`
	IndexID    string    `json:"index_id"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
}

func (SearchEvent) Kind() EventType { return EventSearch }

// Index operations reported in IndexEvent.Operation.
const (
	OpFit    = "fit"
	OpLoad   = "load"
	OpReload = "reload"
)

// IndexEvent announces that an index was fitted, saved or loaded.
type IndexEvent struct {
	Type       EventType `json:"type"`
	Operation  string    `json:"operation"`
	IndexID    string    `json:"index_id"`
	Path       string    `json:"path,omitempty"`
	Documents  int       `json:"documents"`
	Terms      int       `json:"terms"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

func (IndexEvent) Kind() EventType { return EventIndex }
