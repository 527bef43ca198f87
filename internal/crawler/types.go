package crawler

import (
	"net/http"
	"time"
)

// Status codes synthesized by the fetcher when no HTTP response exists.
const (
	StatusRobotsDenied   = http.StatusForbidden
	StatusTimeout        = http.StatusRequestTimeout
	StatusTransportError = http.StatusInternalServerError
)

// FetchResult describes one fetch attempt. It is produced for every attempt,
// including denied and failed ones, and is never mutated afterwards.
type FetchResult struct {
	URL        string        `json:"url"`
	FinalURL   string        `json:"final_url,omitempty"`
	HTML       string        `json:"-"`
	IsHTML     bool          `json:"is_html"`
	StatusCode int           `json:"status_code"`
	Headers    http.Header   `json:"headers,omitempty"`
	Size       int           `json:"size_bytes"`
	FetchTime  time.Duration `json:"fetch_time"`
	FetchedAt  time.Time     `json:"fetched_at"`
	Err        error         `json:"-"`
}

// FetchTimeMS returns the attempt duration in whole milliseconds.
func (r FetchResult) FetchTimeMS() int64 {
	return r.FetchTime.Milliseconds()
}

// OK reports whether the attempt produced an HTML body with status 200.
func (r FetchResult) OK() bool {
	return r.StatusCode == http.StatusOK && r.IsHTML
}

// Link is an absolute outbound link discovered on a page.
type Link struct {
	URL    string `json:"url"`
	Anchor string `json:"anchor,omitempty"`
}

// Image is an image reference discovered on a page.
type Image struct {
	URL         string `json:"url"`
	PageURL     string `json:"page_url"`
	Description string `json:"description"`
}

// ParsedPage is the parser's view of an HTML document. A zero value means the
// document could not be parsed.
type ParsedPage struct {
	Title        string
	Text         string
	CanonicalURL string
	Language     string
	ThumbnailURL string
	PageType     string
	Links        []Link
	Images       []Image
}

// PageRecord is the persisted metadata row for a crawled page, keyed by URLHash.
type PageRecord struct {
	URLHash       string    `json:"url_hash"`
	URL           string    `json:"url"`
	Domain        string    `json:"domain"`
	Title         string    `json:"title"`
	CanonicalURL  string    `json:"canonical_url,omitempty"`
	ContentHash   string    `json:"content_hash"`
	Language      string    `json:"language,omitempty"`
	ThumbnailURL  string    `json:"thumbnail_url,omitempty"`
	PageType      string    `json:"page_type,omitempty"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastCrawledAt time.Time `json:"last_crawled_at"`
}

// FetchLog records one fetch attempt for observability.
type FetchLog struct {
	ID           string    `json:"log_id"`
	URLHash      string    `json:"url_hash"`
	FetchTimeMS  int64     `json:"fetch_time_ms"`
	HTTPStatus   int       `json:"http_status"`
	ResponseSize int       `json:"response_size_bytes"`
	CrawledAt    time.Time `json:"crawled_at"`
}

// LinkEdge is one edge of the discovered link graph.
type LinkEdge struct {
	SourceURLHash string `json:"source_url_hash"`
	TargetURLHash string `json:"target_url_hash"`
	AnchorText    string `json:"anchor_text,omitempty"`
}

// Document is the unit handed to the full-text indexer.
type Document struct {
	URLHash string `json:"url_hash"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Text    string `json:"text"`
}

// RawPage is an unprocessed HTML body kept by the ingestion pipeline.
type RawPage struct {
	URL     string            `json:"url"`
	HTML    string            `json:"html"`
	Headers map[string]string `json:"headers"`
	SavedAt time.Time         `json:"saved_at"`
}

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// JobParameters are the knobs of one crawl job.
type JobParameters struct {
	Seeds          []string `json:"seeds"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
	MaxPages       int      `json:"max_pages"`
	Workers        int      `json:"workers"`
}

// Job is a crawl submitted through the API.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
}

// JobCounters tracks per-crawl outcomes.
type JobCounters struct {
	Fetched    int `json:"fetched"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`
	Indexed    int `json:"indexed"`
	Links      int `json:"links_scheduled"`
}

// Add returns the element-wise sum of two counter sets.
func (c JobCounters) Add(o JobCounters) JobCounters {
	return JobCounters{
		Fetched:    c.Fetched + o.Fetched,
		Failed:     c.Failed + o.Failed,
		Duplicates: c.Duplicates + o.Duplicates,
		Indexed:    c.Indexed + o.Indexed,
		Links:      c.Links + o.Links,
	}
}

// Terminal reports whether no further transitions follow s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}
