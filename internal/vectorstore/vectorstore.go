// Package vectorstore keeps embedded chunks for nearest-neighbor retrieval.
package vectorstore

import (
	"context"
	"errors"
)

// Metadata keys written with every record.
const (
	MetaURL        = "url"
	MetaTitle      = "title"
	MetaChunkID    = "chunk_id"
	MetaChunkIndex = "chunk_index"
)

// ErrDimension is returned when a vector does not match the store's width.
var ErrDimension = errors.New("vector dimension mismatch")

// Record is one chunk to upsert. Stores that embed server-side use Text and
// ignore Vector.
type Record struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata map[string]string
}

// Query asks for the K nearest records to Vector (or Text).
type Query struct {
	Text   string
	Vector []float32
	K      int
}

// Match is a retrieved record, best first.
type Match struct {
	ID       string
	Text     string
	Score    float64
	Metadata map[string]string
}

// Store is implemented by Memory and Chroma.
type Store interface {
	Upsert(ctx context.Context, records []Record) error
	Query(ctx context.Context, q Query) ([]Match, error)
	Count(ctx context.Context) (int, error)
}
