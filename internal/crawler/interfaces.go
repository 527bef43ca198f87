package crawler

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/JakeFAU/realtime-search-crawler/internal/fingerprint"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Fetcher performs politeness-gated HTTP fetches. Fetch never fails: every
// outcome, including denial and transport errors, is a FetchResult.
type Fetcher interface {
	Fetch(ctx context.Context, url string) FetchResult
	Close()
}

// Parser extracts text, metadata and links from HTML. Unparseable input
// yields a zero ParsedPage.
type Parser interface {
	Parse(html string, baseURL string) ParsedPage
}

// PageStore persists crawl results. Every write is an idempotent upsert.
type PageStore interface {
	SavePage(ctx context.Context, page PageRecord) error
	SaveFetchLog(ctx context.Context, entry FetchLog) error
	SaveLinkEdges(ctx context.Context, edges []LinkEdge) error
	// CheckDuplicateFingerprint reports the url hash of a stored page, other
	// than exclude, whose fingerprint is within threshold bits of fp. The zero
	// fingerprint never matches.
	CheckDuplicateFingerprint(
		ctx context.Context,
		fp fingerprint.Fingerprint,
		exclude string,
		threshold int,
	) (string, bool, error)
	ListURLHashes(ctx context.Context) ([]string, error)
	Close() error
}

// Indexer adds documents to the full-text index.
type Indexer interface {
	IndexDocument(ctx context.Context, doc Document) error
}

// RawStore keeps raw HTML and image metadata for the ingestion pipeline.
type RawStore interface {
	SaveHTML(ctx context.Context, page RawPage) error
	SaveImage(ctx context.Context, image Image) error
}

// JobStore tracks API-submitted crawl jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher forwards bus messages to an external broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time and sleeps (swappable in tests).
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
