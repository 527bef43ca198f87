// Package sqlite persists crawl results in a single SQLite file using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
)

const timeLayout = time.RFC3339Nano

// Store implements crawler.PageStore, crawler.RawStore and crawler.JobStore.
type Store struct {
	db *sql.DB
}

var (
	_ crawler.PageStore = (*Store)(nil)
	_ crawler.RawStore  = (*Store)(nil)
	_ crawler.JobStore  = (*Store)(nil)
)

// Open opens or creates the database at path and applies the schema. The
// special path ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = path + "?mode=rwc&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; a single connection also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
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
	first_seen_at TEXT NOT NULL,
	last_crawled_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pages_domain ON pages(domain);

CREATE TABLE IF NOT EXISTS crawl_logs (
	log_id TEXT PRIMARY KEY,
	url_hash TEXT NOT NULL,
	fetch_time_ms INTEGER,
	http_status INTEGER,
	response_size_bytes INTEGER,
	crawled_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crawl_logs_url_hash ON crawl_logs(url_hash);

CREATE TABLE IF NOT EXISTS discovered_links (
	source_url_hash TEXT NOT NULL,
	target_url_hash TEXT NOT NULL,
	anchor_text TEXT,
	PRIMARY KEY (source_url_hash, target_url_hash)
);

CREATE TABLE IF NOT EXISTS raw_pages (
	url TEXT PRIMARY KEY,
	html TEXT NOT NULL,
	headers TEXT,
	saved_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS images (
	url TEXT PRIMARY KEY,
	page_url TEXT,
	description TEXT
);

CREATE TABLE IF NOT EXISTS crawl_jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	submitted_at TEXT NOT NULL,
	started_at TEXT,
	finished_at TEXT,
	error_text TEXT,
	parameters TEXT NOT NULL,
	counters TEXT NOT NULL
);
`

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
