package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-search-crawler/internal/fingerprint"
)

// SavePage upserts a page row. first_seen_at keeps its original value.
func (s *Store) SavePage(ctx context.Context, p crawler.PageRecord) error {
	if p.URLHash == "" {
		return fmt.Errorf("page url hash is required")
	}
	const query = `
INSERT INTO pages (
	url_hash, url, domain, title, canonical_url, content_hash,
	language, thumbnail_url, page_type, first_seen_at, last_crawled_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(url_hash) DO UPDATE SET
	url = excluded.url,
	domain = excluded.domain,
	title = excluded.title,
	canonical_url = excluded.canonical_url,
	content_hash = excluded.content_hash,
	language = excluded.language,
	thumbnail_url = excluded.thumbnail_url,
	page_type = excluded.page_type,
	last_crawled_at = excluded.last_crawled_at`
	_, err := s.db.ExecContext(ctx, query,
		p.URLHash, p.URL, p.Domain, p.Title, p.CanonicalURL, p.ContentHash,
		p.Language, p.ThumbnailURL, p.PageType,
		formatTime(p.FirstSeenAt), formatTime(p.LastCrawledAt),
	)
	if err != nil {
		return fmt.Errorf("upsert page: %w", err)
	}
	return nil
}

// GetPage loads one page by url hash.
func (s *Store) GetPage(ctx context.Context, urlHash string) (crawler.PageRecord, error) {
	const query = `
SELECT url_hash, url, domain, COALESCE(title, ''), COALESCE(canonical_url, ''),
	COALESCE(content_hash, ''), COALESCE(language, ''), COALESCE(thumbnail_url, ''),
	COALESCE(page_type, ''), first_seen_at, last_crawled_at
FROM pages WHERE url_hash = ?`
	var (
		p                   crawler.PageRecord
		firstSeen, lastSeen string
	)
	err := s.db.QueryRowContext(ctx, query, urlHash).Scan(
		&p.URLHash, &p.URL, &p.Domain, &p.Title, &p.CanonicalURL,
		&p.ContentHash, &p.Language, &p.ThumbnailURL, &p.PageType,
		&firstSeen, &lastSeen,
	)
	if err != nil {
		return crawler.PageRecord{}, notFound(err, "page "+urlHash)
	}
	if p.FirstSeenAt, err = parseTime(firstSeen); err != nil {
		return crawler.PageRecord{}, err
	}
	if p.LastCrawledAt, err = parseTime(lastSeen); err != nil {
		return crawler.PageRecord{}, err
	}
	return p, nil
}

// SaveFetchLog upserts a fetch log row by id.
func (s *Store) SaveFetchLog(ctx context.Context, entry crawler.FetchLog) error {
	if entry.ID == "" {
		return fmt.Errorf("fetch log id is required")
	}
	const query = `
INSERT INTO crawl_logs (log_id, url_hash, fetch_time_ms, http_status, response_size_bytes, crawled_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(log_id) DO UPDATE SET
	fetch_time_ms = excluded.fetch_time_ms,
	http_status = excluded.http_status,
	response_size_bytes = excluded.response_size_bytes,
	crawled_at = excluded.crawled_at`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.URLHash, entry.FetchTimeMS, entry.HTTPStatus, entry.ResponseSize,
		formatTime(entry.CrawledAt),
	)
	if err != nil {
		return fmt.Errorf("upsert fetch log: %w", err)
	}
	return nil
}

// CountFetchLogs returns how many fetch attempts were logged for urlHash.
func (s *Store) CountFetchLogs(ctx context.Context, urlHash string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM crawl_logs WHERE url_hash = ?`, urlHash).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count fetch logs: %w", err)
	}
	return n, nil
}

// SaveLinkEdges upserts all edges in one transaction.
func (s *Store) SaveLinkEdges(ctx context.Context, edges []crawler.LinkEdge) error {
	if len(edges) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin link tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO discovered_links (source_url_hash, target_url_hash, anchor_text)
VALUES (?, ?, ?)
ON CONFLICT(source_url_hash, target_url_hash) DO UPDATE SET anchor_text = excluded.anchor_text`)
	if err != nil {
		return fmt.Errorf("prepare link upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range edges {
		if _, err := stmt.ExecContext(ctx, e.SourceURLHash, e.TargetURLHash, e.AnchorText); err != nil {
			return fmt.Errorf("upsert link edge: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit link tx: %w", err)
	}
	return nil
}

// ListLinkEdges returns the outbound edges of source.
func (s *Store) ListLinkEdges(ctx context.Context, source string) ([]crawler.LinkEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT source_url_hash, target_url_hash, COALESCE(anchor_text, '')
FROM discovered_links WHERE source_url_hash = ? ORDER BY target_url_hash`, source)
	if err != nil {
		return nil, fmt.Errorf("query link edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []crawler.LinkEdge
	for rows.Next() {
		var e crawler.LinkEdge
		if err := rows.Scan(&e.SourceURLHash, &e.TargetURLHash, &e.AnchorText); err != nil {
			return nil, fmt.Errorf("scan link edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CheckDuplicateFingerprint compares fp against every stored, non-zero
// content hash. Hamming distance is computed in Go since SQLite has no
// popcount.
func (s *Store) CheckDuplicateFingerprint(
	ctx context.Context,
	fp fingerprint.Fingerprint,
	exclude string,
	threshold int,
) (string, bool, error) {
	if fp.IsZero() {
		return "", false, nil
	}
	if threshold <= 0 {
		var hash string
		err := s.db.QueryRowContext(ctx, `
SELECT url_hash FROM pages WHERE content_hash = ? AND url_hash <> ?
ORDER BY url_hash LIMIT 1`, fp.String(), exclude).Scan(&hash)
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("query exact fingerprint: %w", err)
		}
		return hash, true, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT url_hash, content_hash FROM pages
WHERE content_hash IS NOT NULL AND content_hash <> '' AND url_hash <> ?`, exclude)
	if err != nil {
		return "", false, fmt.Errorf("query fingerprints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	m := fingerprint.Matcher{Target: fp, Threshold: threshold}
	for rows.Next() {
		var hash, hex string
		if err := rows.Scan(&hash, &hex); err != nil {
			return "", false, fmt.Errorf("scan fingerprint: %w", err)
		}
		m.Offer(hash, hex)
	}
	if err := rows.Err(); err != nil {
		return "", false, fmt.Errorf("iterate fingerprints: %w", err)
	}
	hash, ok := m.Result()
	return hash, ok, nil
}

// ListURLHashes returns every stored page hash.
func (s *Store) ListURLHashes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url_hash FROM pages ORDER BY url_hash`)
	if err != nil {
		return nil, fmt.Errorf("query url hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan url hash: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// SaveHTML upserts a raw page.
func (s *Store) SaveHTML(ctx context.Context, page crawler.RawPage) error {
	if page.URL == "" {
		return fmt.Errorf("raw page url is required")
	}
	headers, err := json.Marshal(page.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO raw_pages (url, html, headers, saved_at) VALUES (?, ?, ?, ?)
ON CONFLICT(url) DO UPDATE SET html = excluded.html, headers = excluded.headers, saved_at = excluded.saved_at`,
		page.URL, page.HTML, string(headers), formatTime(page.SavedAt))
	if err != nil {
		return fmt.Errorf("upsert raw page: %w", err)
	}
	return nil
}

// GetRawPage loads a raw page by URL.
func (s *Store) GetRawPage(ctx context.Context, url string) (crawler.RawPage, error) {
	var (
		page           crawler.RawPage
		headers, stamp string
	)
	err := s.db.QueryRowContext(ctx, `SELECT url, html, COALESCE(headers, '{}'), saved_at FROM raw_pages WHERE url = ?`, url).
		Scan(&page.URL, &page.HTML, &headers, &stamp)
	if err != nil {
		return crawler.RawPage{}, notFound(err, "raw page "+url)
	}
	if err := json.Unmarshal([]byte(headers), &page.Headers); err != nil {
		return crawler.RawPage{}, fmt.Errorf("decode headers: %w", err)
	}
	if page.SavedAt, err = parseTime(stamp); err != nil {
		return crawler.RawPage{}, err
	}
	return page, nil
}

// ListRawPages streams every stored raw page to fn in URL order.
func (s *Store) ListRawPages(ctx context.Context, fn func(crawler.RawPage) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT url FROM raw_pages ORDER BY url`)
	if err != nil {
		return fmt.Errorf("query raw pages: %w", err)
	}
	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan raw page url: %w", err)
		}
		urls = append(urls, u)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("close raw page rows: %w", err)
	}
	// Rows are drained first: the single connection must be free for GetRawPage.
	for _, u := range urls {
		page, err := s.GetRawPage(ctx, u)
		if err != nil {
			return err
		}
		if err := fn(page); err != nil {
			return err
		}
	}
	return nil
}

// SaveImage upserts image metadata.
func (s *Store) SaveImage(ctx context.Context, img crawler.Image) error {
	if img.URL == "" {
		return fmt.Errorf("image url is required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO images (url, page_url, description) VALUES (?, ?, ?)
ON CONFLICT(url) DO UPDATE SET page_url = excluded.page_url, description = excluded.description`,
		img.URL, img.PageURL, img.Description)
	if err != nil {
		return fmt.Errorf("upsert image: %w", err)
	}
	return nil
}

// CountImages returns the number of stored images.
func (s *Store) CountImages(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return n, nil
}
