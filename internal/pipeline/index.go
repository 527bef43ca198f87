package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-search-crawler/internal/embedding"
	"github.com/JakeFAU/realtime-search-crawler/internal/vectorstore"
)

// DefaultIndexBatchSize is the number of chunks embedded per upsert.
const DefaultIndexBatchSize = 10

// ChunkIDer derives deterministic chunk ids.
type ChunkIDer interface {
	ChunkID(sourceURL string, index int) string
}

// Indexer buffers chunks and upserts them in batches. Chunks still buffered
// when the pipeline goes idle are written by Flush. A batch that fails to
// embed or upsert goes back into the buffer for the next write.
type Indexer struct {
	embedder embedding.Embedder
	store    vectorstore.Store
	ids      ChunkIDer
	size     int
	logger   *zap.Logger

	mu      sync.Mutex
	batch   []Chunk
	written map[string]struct{}
}

// NewIndexer creates an Indexer. size <= 0 uses DefaultIndexBatchSize.
func NewIndexer(e embedding.Embedder, s vectorstore.Store, ids ChunkIDer, size int, logger *zap.Logger) *Indexer {
	if size <= 0 {
		size = DefaultIndexBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		embedder: e,
		store:    s,
		ids:      ids,
		size:     size,
		logger:   logger.Named("indexer"),
		written:  make(map[string]struct{}),
	}
}

// Handle buffers c and writes the batch once it is full.
func (x *Indexer) Handle(ctx context.Context, c Chunk) error {
	x.mu.Lock()
	x.batch = append(x.batch, c)
	var ready []Chunk
	if len(x.batch) >= x.size {
		ready, x.batch = x.batch, nil
	}
	x.mu.Unlock()
	if ready == nil {
		return nil
	}
	return x.write(ctx, ready)
}

// Flush writes whatever is buffered.
func (x *Indexer) Flush(ctx context.Context) error {
	x.mu.Lock()
	ready := x.batch
	x.batch = nil
	x.mu.Unlock()
	if len(ready) == 0 {
		return nil
	}
	return x.write(ctx, ready)
}

// Buffered returns the number of chunks awaiting a write.
func (x *Indexer) Buffered() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.batch)
}

// Indexed returns the number of distinct chunk ids written so far.
func (x *Indexer) Indexed() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.written)
}

func (x *Indexer) write(ctx context.Context, batch []Chunk) error {
	if err := x.upsert(ctx, batch); err != nil {
		x.mu.Lock()
		x.batch = append(batch, x.batch...)
		x.mu.Unlock()
		x.logger.Warn("batch requeued", zap.Int("chunks", len(batch)), zap.Error(err))
		return err
	}
	return nil
}

func (x *Indexer) upsert(ctx context.Context, batch []Chunk) error {
	seen := make(map[string]struct{}, len(batch))
	records := make([]vectorstore.Record, 0, len(batch))
	texts := make([]string, 0, len(batch))
	for _, c := range batch {
		id := x.ids.ChunkID(c.URL, c.ChunkIndex)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		texts = append(texts, c.ChunkText)
		records = append(records, vectorstore.Record{
			ID:   id,
			Text: c.ChunkText,
			Metadata: map[string]string{
				vectorstore.MetaURL:        c.URL,
				vectorstore.MetaTitle:      c.Title,
				vectorstore.MetaChunkID:    id,
				vectorstore.MetaChunkIndex: strconv.Itoa(c.ChunkIndex),
			},
		})
	}

	vectors, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %d chunks: %w", len(texts), err)
	}
	if len(vectors) != len(records) {
		return fmt.Errorf("embed %d chunks: got %d vectors", len(texts), len(vectors))
	}
	for i := range records {
		records[i].Vector = vectors[i]
	}
	if err := x.store.Upsert(ctx, records); err != nil {
		return fmt.Errorf("upsert %d chunks: %w", len(records), err)
	}

	x.mu.Lock()
	for _, r := range records {
		x.written[r.ID] = struct{}{}
	}
	x.mu.Unlock()
	x.logger.Info("batch upserted", zap.Int("chunks", len(records)), zap.Int("received", len(batch)))
	return nil
}

// DocumentIndexer splits whole pages into chunks for an Indexer, letting the
// worker pool write to the same vector store as the pipeline.
type DocumentIndexer struct {
	chunker Chunker
	chunks  *Indexer
}

var _ crawler.Indexer = (*DocumentIndexer)(nil)

// NewDocumentIndexer wraps chunks.
func NewDocumentIndexer(chunker Chunker, chunks *Indexer) *DocumentIndexer {
	return &DocumentIndexer{chunker: chunker, chunks: chunks}
}

// IndexDocument chunks doc.Text and flushes, so every chunk of the page is
// stored when it returns.
func (d *DocumentIndexer) IndexDocument(ctx context.Context, doc crawler.Document) error {
	for i, text := range d.chunker.Split(doc.Text) {
		c := Chunk{ChunkText: text, ChunkIndex: i, URL: doc.URL, Title: doc.Title}
		if err := d.chunks.Handle(ctx, c); err != nil {
			return fmt.Errorf("index %s: %w", doc.URL, err)
		}
	}
	if err := d.chunks.Flush(ctx); err != nil {
		return fmt.Errorf("index %s: %w", doc.URL, err)
	}
	return nil
}
