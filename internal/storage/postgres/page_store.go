// Package postgres provides a Postgres-backed crawler.PageStore.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-search-crawler/internal/fingerprint"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PageStore writes crawl results into Postgres.
type PageStore struct {
	pool pool
}

var _ crawler.PageStore = (*PageStore)(nil)

// NewPageStore connects a pool using cfg.
func NewPageStore(ctx context.Context, cfg Config) (*PageStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres_dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PageStore{pool: p}, nil
}

// NewPageStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPageStoreWithPool(p pool) (*PageStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PageStore{pool: p}, nil
}

// Schema is applied by Migrate. bit_count over bit(64) needs Postgres 14+.
const Schema = `
CREATE TABLE IF NOT EXISTS pages (
	url_hash TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	domain TEXT NOT NULL,
	title TEXT,
	canonical_url TEXT,
	content_hash TEXT,
	language TEXT,
	thumbnail_url TEXT,
	page_type TEXT,
	first_seen_at TIMESTAMPTZ NOT NULL,
	last_crawled_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pages_content_hash ON pages(content_hash);
CREATE TABLE IF NOT EXISTS crawl_logs (
	log_id UUID PRIMARY KEY,
	url_hash TEXT NOT NULL,
	fetch_time_ms BIGINT,
	http_status INT,
	response_size_bytes BIGINT,
	crawled_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS discovered_links (
	source_url_hash TEXT NOT NULL,
	target_url_hash TEXT NOT NULL,
	anchor_text TEXT,
	PRIMARY KEY (source_url_hash, target_url_hash)
);`

// Migrate creates the schema if it does not exist.
func (s *PageStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *PageStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

const upsertPage = `
INSERT INTO pages (
	url_hash, url, domain, title, canonical_url, content_hash,
	language, thumbnail_url, page_type, first_seen_at, last_crawled_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (url_hash) DO UPDATE SET
	url = EXCLUDED.url,
	domain = EXCLUDED.domain,
	title = EXCLUDED.title,
	canonical_url = EXCLUDED.canonical_url,
	content_hash = EXCLUDED.content_hash,
	language = EXCLUDED.language,
	thumbnail_url = EXCLUDED.thumbnail_url,
	page_type = EXCLUDED.page_type,
	last_crawled_at = EXCLUDED.last_crawled_at`

// SavePage upserts a page row; first_seen_at keeps its original value.
func (s *PageStore) SavePage(ctx context.Context, p crawler.PageRecord) error {
	if p.URLHash == "" {
		return fmt.Errorf("page url hash is required")
	}
	_, err := s.pool.Exec(ctx, upsertPage,
		p.URLHash, p.URL, p.Domain, p.Title, p.CanonicalURL, p.ContentHash,
		p.Language, p.ThumbnailURL, p.PageType, p.FirstSeenAt, p.LastCrawledAt,
	)
	if err != nil {
		return fmt.Errorf("upsert page: %w", err)
	}
	return nil
}

const upsertFetchLog = `
INSERT INTO crawl_logs (log_id, url_hash, fetch_time_ms, http_status, response_size_bytes, crawled_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (log_id) DO NOTHING`

// SaveFetchLog inserts a fetch log row once per id.
func (s *PageStore) SaveFetchLog(ctx context.Context, e crawler.FetchLog) error {
	if e.ID == "" {
		return fmt.Errorf("fetch log id is required")
	}
	_, err := s.pool.Exec(ctx, upsertFetchLog,
		e.ID, e.URLHash, e.FetchTimeMS, e.HTTPStatus, e.ResponseSize, e.CrawledAt)
	if err != nil {
		return fmt.Errorf("insert fetch log: %w", err)
	}
	return nil
}

const upsertLink = `
INSERT INTO discovered_links (source_url_hash, target_url_hash, anchor_text)
VALUES ($1,$2,$3)
ON CONFLICT (source_url_hash, target_url_hash) DO UPDATE SET anchor_text = EXCLUDED.anchor_text`

// SaveLinkEdges upserts each edge. A failure leaves earlier edges written,
// which is safe because every write is idempotent.
func (s *PageStore) SaveLinkEdges(ctx context.Context, edges []crawler.LinkEdge) error {
	for _, e := range edges {
		if _, err := s.pool.Exec(ctx, upsertLink, e.SourceURLHash, e.TargetURLHash, e.AnchorText); err != nil {
			return fmt.Errorf("upsert link edge %s->%s: %w", e.SourceURLHash, e.TargetURLHash, err)
		}
	}
	return nil
}

const nearestFingerprint = `
SELECT url_hash
FROM pages
WHERE content_hash ~ '^[0-9a-f]{16}$'
	AND content_hash <> '0000000000000000'
	AND url_hash <> $2
	AND bit_count(('x' || content_hash)::bit(64) # ('x' || $1)::bit(64)) <= $3
ORDER BY bit_count(('x' || content_hash)::bit(64) # ('x' || $1)::bit(64)), url_hash
LIMIT 1`

// CheckDuplicateFingerprint finds the nearest stored fingerprint within
// threshold bits, computing the Hamming distance in SQL.
func (s *PageStore) CheckDuplicateFingerprint(
	ctx context.Context,
	fp fingerprint.Fingerprint,
	exclude string,
	threshold int,
) (string, bool, error) {
	if fp.IsZero() {
		return "", false, nil
	}
	if threshold < 0 {
		threshold = 0
	}
	var hash string
	err := s.pool.QueryRow(ctx, nearestFingerprint, fp.String(), exclude, threshold).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query fingerprint: %w", err)
	}
	return hash, true, nil
}

// ListURLHashes returns every stored page hash.
func (s *PageStore) ListURLHashes(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT url_hash FROM pages ORDER BY url_hash`)
	if err != nil {
		return nil, fmt.Errorf("query url hashes: %w", err)
	}
	hashes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect url hashes: %w", err)
	}
	return hashes, nil
}
