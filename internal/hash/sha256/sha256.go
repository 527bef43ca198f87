// Package sha256 provides the content digests used by the ingestion pipeline.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Hasher digests cleaned page text.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChunkID derives the vector-store id of one chunk of a page. The id depends
// only on the source URL and chunk position, so re-indexing upserts in place.
func (h *Hasher) ChunkID(sourceURL string, index int) string {
	return h.Hash([]byte(sourceURL + "_" + strconv.Itoa(index)))
}
