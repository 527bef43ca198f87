// Package embedding turns text into dense vectors.
package embedding

import (
	"context"
	"crypto/md5" //nolint:gosec // seeding, not security
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
)

// DefaultDimensions matches the all-MiniLM-L6-v2 sentence model.
const DefaultDimensions = 384

// Embedder encodes texts into vectors of a fixed width.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Hash is a deterministic offline embedder: each text maps to a unit vector
// drawn from a generator seeded by the text's MD5 digest. Equal texts embed
// equally; different texts are unrelated.
type Hash struct {
	dim int
}

var _ Embedder = (*Hash)(nil)

// NewHash creates a Hash embedder. Non-positive dim uses DefaultDimensions.
func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = DefaultDimensions
	}
	return &Hash{dim: dim}
}

// Dimensions returns the vector width.
func (h *Hash) Dimensions() int {
	return h.dim
}

// Embed encodes every text.
func (h *Hash) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("embed: %w", err)
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *Hash) vector(text string) []float32 {
	sum := md5.Sum([]byte(text)) //nolint:gosec // see import
	rng := rand.New(rand.NewPCG(binary.BigEndian.Uint64(sum[:8]), binary.BigEndian.Uint64(sum[8:])))
	vec := make([]float32, h.dim)
	var norm float64
	for i := range vec {
		x := rng.Float64()*2 - 1
		vec[i] = float32(x)
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
