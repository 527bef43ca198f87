package pipeline

import (
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/realtime-search-crawler/internal/bus"
)

// CrawlTarget asks the crawl stage to fetch URL.
type CrawlTarget struct {
	URL string `json:"url"`
}

// RawHTML is a fetched 200 HTML page.
type RawHTML struct {
	URL       string            `json:"url"`
	RawHTML   string            `json:"raw_html"`
	Headers   map[string]string `json:"headers"`
	Timestamp time.Time         `json:"timestamp"`
}

// DocMetadata travels with cleaned documents and their chunks.
type DocMetadata struct {
	Title string `json:"title"`
}

// CleanDoc is the main text of a page. Hash is the hex SHA-256 of CleanText.
type CleanDoc struct {
	CleanText string      `json:"clean_text"`
	Metadata  DocMetadata `json:"metadata"`
	URL       string      `json:"url"`
	Hash      string      `json:"hash"`
}

// Chunk is one paragraph-bounded slice of a CleanDoc.
type Chunk struct {
	ChunkText  string `json:"chunk_text"`
	ChunkIndex int    `json:"chunk_index"`
	URL        string `json:"url"`
	Title      string `json:"title"`
}

// ExtractedLinks are the unresolved hrefs found on BaseURL.
type ExtractedLinks struct {
	BaseURL string   `json:"base_url"`
	Links   []string `json:"links"`
}

// ImageRef is an image discovered on PageURL.
type ImageRef struct {
	URL         string `json:"url"`
	PageURL     string `json:"page_url"`
	Description string `json:"description"`
}

// Pipeline topics.
var (
	CrawlTargets = bus.NewTopic[CrawlTarget]("crawl_targets")
	RawHTMLQueue = bus.NewTopic[RawHTML]("raw_html_queue")
	CleanQueue   = bus.NewTopic[CleanDoc]("clean_queue")
	ChunkQueue   = bus.NewTopic[Chunk]("chunk_queue")
	LinksQueue   = bus.NewTopic[ExtractedLinks]("extracted_links_queue")
	ImageQueue   = bus.NewTopic[ImageRef]("image_queue")
)

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}
