package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Memory is an exact cosine-similarity store. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	dim     int
	records map[string]Record
}

var _ Store = (*Memory)(nil)

// NewMemory creates a store for vectors of width dim. A zero dim adopts the
// width of the first upserted vector.
func NewMemory(dim int) *Memory {
	return &Memory{dim: dim, records: make(map[string]Record)}
}

// Upsert replaces records by ID.
func (m *Memory) Upsert(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if r.ID == "" {
			return errors.New("upsert record: empty id")
		}
		if m.dim == 0 {
			m.dim = len(r.Vector)
		}
		if len(r.Vector) != m.dim {
			return fmt.Errorf("upsert %s: %w (got %d, want %d)", r.ID, ErrDimension, len(r.Vector), m.dim)
		}
		r.Vector = append([]float32(nil), r.Vector...)
		r.Metadata = copyMeta(r.Metadata)
		m.records[r.ID] = r
	}
	return nil
}

// Query returns up to q.K records ordered by cosine similarity, ties broken
// by ID.
func (m *Memory) Query(ctx context.Context, q Query) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	if q.K <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.records) == 0 {
		return nil, nil
	}
	if len(q.Vector) != m.dim {
		return nil, fmt.Errorf("query vectors: %w (got %d, want %d)", ErrDimension, len(q.Vector), m.dim)
	}
	out := make([]Match, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, Match{
			ID:       r.ID,
			Text:     r.Text,
			Score:    cosine(q.Vector, r.Vector),
			Metadata: copyMeta(r.Metadata),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > q.K {
		out = out[:q.K]
	}
	return out, nil
}

// Count returns the number of stored records.
func (m *Memory) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
