package progress

import (
	"errors"
	"fmt"
	"time"
)

// State is a crawl worker state.
type State string

// Worker states. A worker cycles WAIT_FOR_URL through RESCHEDULE_LINKS and
// may enter CANCELLED from any of them.
const (
	StateWaitForURL      State = "WAIT_FOR_URL"
	StateFetching        State = "FETCHING"
	StateParsing         State = "PARSING"
	StateDedupCheck      State = "DEDUP_CHECK"
	StatePersistIndex    State = "PERSIST_INDEX"
	StateRescheduleLinks State = "RESCHEDULE_LINKS"
	StateCancelled       State = "CANCELLED"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Status classes reported for finished fetches.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event records a worker entering State. Events emitted when leaving
// FETCHING carry the fetch outcome in Status, Bytes and Dur.
type Event struct {
	CrawlID string
	Worker  int
	TS      time.Time
	State   State
	URL     string
	Status  int
	Bytes   int
	Dur     time.Duration
	Note    string
}

// Validate rejects events sinks cannot label.
func (e Event) Validate() error {
	if e.CrawlID == "" {
		return errors.New("crawl id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.State {
	case StateWaitForURL, StateFetching, StateParsing, StateDedupCheck,
		StatePersistIndex, StateRescheduleLinks, StateCancelled:
	default:
		return fmt.Errorf("unknown state %q", e.State)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// HasFetch reports whether the event carries a fetch outcome.
func (e Event) HasFetch() bool {
	return e.Status != 0
}

// ClassifyStatus groups HTTP status codes.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
