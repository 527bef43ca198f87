// Package blob implements crawler.RawStore on top of any crawler.BlobStore,
// so raw HTML and image metadata can land in a local directory or a GCS
// bucket.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-search-crawler/internal/hash/sha256"
)

// RawStore writes raw/<hh>/<hash>.html, raw/<hh>/<hash>.json and
// images/<hh>/<hash>.json, where hash is the sha256 of the URL.
type RawStore struct {
	blobs  crawler.BlobStore
	hasher sha256.Hasher
}

var _ crawler.RawStore = (*RawStore)(nil)

// New wraps blobs.
func New(blobs crawler.BlobStore) *RawStore {
	return &RawStore{blobs: blobs}
}

type rawMeta struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	SavedAt string            `json:"saved_at"`
	HTMLURI string            `json:"html_uri"`
}

// SaveHTML stores the HTML body and a JSON sidecar with headers.
func (s *RawStore) SaveHTML(ctx context.Context, page crawler.RawPage) error {
	if page.URL == "" {
		return fmt.Errorf("raw page url is required")
	}
	base := s.objectPath("raw", page.URL)
	uri, err := s.blobs.PutObject(ctx, base+".html", "text/html; charset=utf-8", strings.NewReader(page.HTML))
	if err != nil {
		return fmt.Errorf("put raw html: %w", err)
	}
	meta := rawMeta{
		URL:     page.URL,
		Headers: page.Headers,
		SavedAt: page.SavedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		HTMLURI: uri,
	}
	return s.putJSON(ctx, base+".json", meta)
}

// SaveImage stores image metadata as JSON.
func (s *RawStore) SaveImage(ctx context.Context, image crawler.Image) error {
	if image.URL == "" {
		return fmt.Errorf("image url is required")
	}
	return s.putJSON(ctx, s.objectPath("images", image.URL)+".json", image)
}

func (s *RawStore) putJSON(ctx context.Context, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if _, err := s.blobs.PutObject(ctx, path, "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	return nil
}

func (s *RawStore) objectPath(kind, url string) string {
	h := s.hasher.Hash([]byte(url))
	return kind + "/" + h[:2] + "/" + h
}
