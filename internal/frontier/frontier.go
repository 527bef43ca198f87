// Package frontier schedules URLs for crawling in priority order without
// ever scheduling the same normalized URL twice.
package frontier

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-search-crawler/internal/fingerprint"
)

var (
	// ErrDrained is returned by Next once nothing is pending or in flight.
	ErrDrained = errors.New("frontier drained")
	// ErrClosed is returned by Next after Close.
	ErrClosed = errors.New("frontier closed")
)

// Entry is a scheduled URL handed out by Next.
type Entry struct {
	URL          string
	URLHash      string
	Domain       string
	Priority     int
	DiscoveredAt time.Time
}

// Stats is a point-in-time view of the frontier.
type Stats struct {
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
	Seen     int `json:"seen"`
	Admitted int `json:"admitted"`
}

// Config tunes a Frontier.
type Config struct {
	// MaxPages caps how many URLs may ever be admitted. Zero is unlimited.
	MaxPages int
	// Now stamps Entry.DiscoveredAt. Defaults to time.Now.
	Now func() time.Time
}

// Frontier is safe for concurrent use. All state lives in the instance, so
// independent crawls never share a seen-set.
type Frontier struct {
	mu       sync.Mutex
	queue    entryHeap
	seen     map[string]struct{}
	seq      uint64
	inflight int
	admitted int
	maxPages int
	closed   bool
	changed  chan struct{}
	now      func() time.Time
}

// New creates an empty Frontier.
func New(cfg Config) *Frontier {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Frontier{
		seen:     make(map[string]struct{}),
		maxPages: cfg.MaxPages,
		changed:  make(chan struct{}),
		now:      now,
	}
}

// Add normalizes rawURL and schedules it at priority. It returns false when the
// URL is not http(s), was already seen, the page budget is spent, or the
// frontier is closed. The seen check and the insert happen under one lock.
func (f *Frontier) Add(rawURL string, priority int) bool {
	normalized := fingerprint.Normalize(rawURL)
	if !fingerprint.IsHTTP(normalized) {
		return false
	}
	if priority < 0 {
		priority = 0
	}
	hash := fingerprint.URLHash(normalized)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	if _, ok := f.seen[hash]; ok {
		return false
	}
	if f.maxPages > 0 && f.admitted >= f.maxPages {
		return false
	}
	f.seen[hash] = struct{}{}
	f.admitted++
	f.seq++
	heap.Push(&f.queue, &item{
		seq: f.seq,
		entry: Entry{
			URL:          normalized,
			URLHash:      hash,
			Domain:       fingerprint.Domain(normalized),
			Priority:     priority,
			DiscoveredAt: f.now(),
		},
	})
	f.broadcastLocked()
	return true
}

// Admit applies the same checks as Add and charges the page budget but does
// not schedule the URL. Pipelines that hand URLs to another stage use it as
// their seen-set.
func (f *Frontier) Admit(rawURL string) (Entry, bool) {
	normalized := fingerprint.Normalize(rawURL)
	if !fingerprint.IsHTTP(normalized) {
		return Entry{}, false
	}
	hash := fingerprint.URLHash(normalized)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return Entry{}, false
	}
	if _, ok := f.seen[hash]; ok {
		return Entry{}, false
	}
	if f.maxPages > 0 && f.admitted >= f.maxPages {
		return Entry{}, false
	}
	f.seen[hash] = struct{}{}
	f.admitted++
	return Entry{
		URL:          normalized,
		URLHash:      hash,
		Domain:       fingerprint.Domain(normalized),
		DiscoveredAt: f.now(),
	}, true
}

// Next blocks until an entry is available and returns the lowest priority,
// earliest added one. Each returned entry must be released with TaskDone.
// Next returns ErrDrained when the schedule is empty and nothing is in
// flight, ErrClosed after Close, or the context error.
func (f *Frontier) Next(ctx context.Context) (Entry, error) {
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return Entry{}, ErrClosed
		}
		if f.queue.Len() > 0 {
			it, _ := heap.Pop(&f.queue).(*item)
			f.inflight++
			f.mu.Unlock()
			return it.entry, nil
		}
		if f.inflight == 0 {
			f.mu.Unlock()
			return Entry{}, ErrDrained
		}
		wait := f.changed
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return Entry{}, fmt.Errorf("frontier next: %w", ctx.Err())
		case <-wait:
		}
	}
}

// TaskDone marks one entry returned by Next as finished.
func (f *Frontier) TaskDone() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inflight == 0 {
		panic("frontier: TaskDone called more times than Next")
	}
	f.inflight--
	f.broadcastLocked()
}

// Rehydrate marks url hashes as already seen without scheduling them. It
// returns how many hashes were new to the seen-set.
func (f *Frontier) Rehydrate(hashes []string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	added := 0
	for _, h := range hashes {
		if _, ok := f.seen[h]; ok {
			continue
		}
		f.seen[h] = struct{}{}
		added++
	}
	return added
}

// Seen reports whether the normalized form of rawURL has been admitted or
// rehydrated.
func (f *Frontier) Seen(rawURL string) bool {
	hash := fingerprint.URLHash(fingerprint.Normalize(rawURL))
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.seen[hash]
	return ok
}

// Idle reports whether nothing is pending or in flight.
func (f *Frontier) Idle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue.Len() == 0 && f.inflight == 0
}

// Stats returns current counters.
func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Pending:  f.queue.Len(),
		InFlight: f.inflight,
		Seen:     len(f.seen),
		Admitted: f.admitted,
	}
}

// Close wakes every blocked Next call with ErrClosed and rejects further Adds.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.broadcastLocked()
}

func (f *Frontier) broadcastLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}
