// Package uuid generates crawl, fetch-log and message identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
)

// Generator creates time-ordered UUID v7 strings.
type Generator struct{}

var _ crawler.IDGenerator = Generator{}

// New creates a Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUID v7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Valid reports whether s is a canonical UUID string.
func Valid(s string) bool {
	id, err := uuid.Parse(s)
	return err == nil && id.String() == s
}
