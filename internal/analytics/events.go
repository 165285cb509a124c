package analytics

import "time"

type EventType string

const (
	EventSearch     EventType = "search"
	EventZeroResult EventType = "zero_result"
	EventInvalid    EventType = "invalid_query"
	EventIndexDoc   EventType = "index_document"
	EventDeleteDoc  EventType = "delete_document"
)

// SearchEvent describes one executed search. Query holds the request body
// or the /books query text.
type SearchEvent struct {
	Type       EventType `json:"type"`
	Index      string    `json:"index"`
	Kind       string    `json:"kind"`
	Query      string    `json:"query"`
	TotalHits  int       `json:"total_hits"`
	Returned   int       `json:"returned"`
	LatencyMs  int64     `json:"latency_ms"`
	CacheHit   bool      `json:"cache_hit"`
	Generation uint64    `json:"generation"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
}

// IndexEvent describes one write applied to a collection.
type IndexEvent struct {
	Type       EventType `json:"type"`
	Index      string    `json:"index"`
	DocumentID string    `json:"document_id"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e SearchEvent) key() string { return e.Index }
func (e IndexEvent) key() string  { return e.Index }

// Event is implemented by SearchEvent and IndexEvent.
type Event interface {
	key() string
}
