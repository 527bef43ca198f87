package vectorstore

import (
	"context"
	"errors"
	"fmt"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
)

// ChromaConfig locates a Chroma collection.
type ChromaConfig struct {
	BaseURL    string
	Collection string
	// Embedder computes vectors inside the client from record text.
	Embedder embeddings.EmbeddingFunction
}

// collection is the part of chroma.Collection the store calls.
type collection interface {
	Upsert(ctx context.Context, opts ...chroma.CollectionUpdateOption) error
	Query(ctx context.Context, opts ...chroma.CollectionQueryOption) (chroma.QueryResult, error)
	Count(ctx context.Context) (int, error)
}

// queryResult is the part of chroma.QueryResult the store reads.
type queryResult interface {
	GetDocumentsGroups() []chroma.Documents
	GetMetadatasGroups() []chroma.DocumentMetadatas
	GetDistancesGroups() []embeddings.Distances
}

// Chroma stores chunks in a Chroma collection. Vectors are computed by the
// collection's embedding function, so Record.Vector and Query.Vector are
// ignored.
type Chroma struct {
	client chroma.Client
	col    collection
}

var _ Store = (*Chroma)(nil)

// OpenChroma connects to cfg.BaseURL and gets or creates the collection.
func OpenChroma(ctx context.Context, cfg ChromaConfig) (*Chroma, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("chroma base url is required")
	}
	if cfg.Collection == "" {
		return nil, errors.New("chroma collection is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("chroma embedding function is required")
	}
	client, err := chroma.NewHTTPClient(chroma.WithBaseURL(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("create chroma client: %w", err)
	}
	col, err := client.GetOrCreateCollection(ctx, cfg.Collection,
		chroma.WithEmbeddingFunctionCreate(cfg.Embedder),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("get chroma collection %q: %w", cfg.Collection, err)
	}
	return &Chroma{client: client, col: col}, nil
}

// Upsert writes records with their metadata.
func (c *Chroma) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]chroma.DocumentID, 0, len(records))
	texts := make([]string, 0, len(records))
	metas := make([]chroma.DocumentMetadata, 0, len(records))
	for _, r := range records {
		ids = append(ids, chroma.DocumentID(r.ID))
		texts = append(texts, r.Text)
		metas = append(metas, documentMetadata(r))
	}
	err := c.col.Upsert(ctx,
		chroma.WithIDs(ids...),
		chroma.WithTexts(texts...),
		chroma.WithMetadatas(metas...),
	)
	if err != nil {
		return fmt.Errorf("upsert %d chunks: %w", len(records), err)
	}
	return nil
}

// Query retrieves the q.K nearest chunks to q.Text.
func (c *Chroma) Query(ctx context.Context, q Query) ([]Match, error) {
	if q.K <= 0 || q.Text == "" {
		return nil, nil
	}
	r, err := c.col.Query(ctx,
		chroma.WithQueryTexts(q.Text),
		chroma.WithNResults(q.K),
	)
	if err != nil {
		return nil, fmt.Errorf("query chroma: %w", err)
	}
	if r == nil {
		return nil, nil
	}
	return matchesFrom(r), nil
}

// Count returns the collection size.
func (c *Chroma) Count(ctx context.Context) (int, error) {
	n, err := c.col.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count chroma: %w", err)
	}
	return n, nil
}

// Close releases the HTTP client.
func (c *Chroma) Close() error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close chroma client: %w", err)
	}
	return nil
}

// documentMetadata keeps the well-known keys; other metadata is not sent.
func documentMetadata(r Record) chroma.DocumentMetadata {
	return chroma.NewDocumentMetadata(
		chroma.NewStringAttribute(MetaChunkID, r.ID),
		chroma.NewStringAttribute(MetaURL, r.Metadata[MetaURL]),
		chroma.NewStringAttribute(MetaTitle, r.Metadata[MetaTitle]),
		chroma.NewStringAttribute(MetaChunkIndex, r.Metadata[MetaChunkIndex]),
	)
}

// matchesFrom flattens the first result group. Chroma reports cosine
// distance; Score is 1 - distance so larger is better.
func matchesFrom(r queryResult) []Match {
	docGroups := r.GetDocumentsGroups()
	if len(docGroups) == 0 {
		return nil
	}
	docs := docGroups[0]
	var metas chroma.DocumentMetadatas
	if g := r.GetMetadatasGroups(); len(g) > 0 {
		metas = g[0]
	}
	var dists embeddings.Distances
	if g := r.GetDistancesGroups(); len(g) > 0 {
		dists = g[0]
	}
	out := make([]Match, 0, len(docs))
	for i, doc := range docs {
		m := Match{Text: doc.ContentString(), Metadata: map[string]string{}}
		if i < len(dists) {
			m.Score = 1 - float64(dists[i])
		}
		if i < len(metas) && metas[i] != nil {
			for _, key := range []string{MetaChunkID, MetaURL, MetaTitle, MetaChunkIndex} {
				if v, ok := metas[i].GetString(key); ok {
					m.Metadata[key] = v
				}
			}
			m.ID = m.Metadata[MetaChunkID]
		}
		out = append(out, m)
	}
	return out
}
