// Package ranker fuses dense retrieval with cross-encoder and BM25 scores.
package ranker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-search-crawler/internal/embedding"
	"github.com/JakeFAU/realtime-search-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-search-crawler/internal/vectorstore"
)

// Ranking modes reported on results and in metrics.
const (
	ModeHybrid   = "hybrid"
	ModeDegraded = "vector"
)

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New("empty query")

// Scorer assigns one relevance score per text for query.
type Scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// Config weights the two normalized signals.
type Config struct {
	SemanticWeight float64
	LexicalWeight  float64
}

// DefaultConfig returns the 0.7 semantic / 0.3 lexical split.
func DefaultConfig() Config {
	return Config{SemanticWeight: 0.7, LexicalWeight: 0.3}
}

// Result is one ranked chunk.
type Result struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	URL   string  `json:"url,omitempty"`
	Title string  `json:"title,omitempty"`
	Score float64 `json:"combined_score"`
}

// Ranker answers queries against a vector store.
type Ranker struct {
	embedder embedding.Embedder
	store    vectorstore.Store
	semantic Scorer
	lexical  Scorer
	cfg      Config
	logger   *zap.Logger
}

// Option customizes a Ranker.
type Option func(*Ranker)

// WithSemantic sets the cross-encoder stage.
func WithSemantic(s Scorer) Option {
	return func(r *Ranker) { r.semantic = s }
}

// WithLexical replaces the BM25 stage.
func WithLexical(s Scorer) Option {
	return func(r *Ranker) { r.lexical = s }
}

// WithConfig sets the fusion weights.
func WithConfig(cfg Config) Option {
	return func(r *Ranker) { r.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Ranker) {
		if l != nil {
			r.logger = l
		}
	}
}

// New builds a Ranker. Without WithSemantic every query degrades to vector order.
func New(embedder embedding.Embedder, store vectorstore.Store, opts ...Option) *Ranker {
	r := &Ranker{
		embedder: embedder,
		store:    store,
		lexical:  NewBM25(),
		cfg:      DefaultConfig(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("ranker")
	return r
}

// Retrieve returns at most k results for query, best first, and the mode
// that produced them.
func (r *Ranker) Retrieve(ctx context.Context, query string, k int) ([]Result, string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, "", ErrEmptyQuery
	}
	if k <= 0 {
		return []Result{}, ModeHybrid, nil
	}
	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, "", fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, "", fmt.Errorf("embed query: got %d vectors", len(vecs))
	}
	matches, err := r.store.Query(ctx, vectorstore.Query{Text: query, Vector: vecs[0], K: 2 * k})
	if err != nil {
		return nil, "", fmt.Errorf("vector search: %w", err)
	}
	candidates := dedupeText(matches)
	if len(candidates) == 0 {
		metrics.ObserveQuery(ModeHybrid)
		return []Result{}, ModeHybrid, nil
	}

	texts := make([]string, len(candidates))
	for i, m := range candidates {
		texts[i] = m.Text
	}
	combined, err := r.fuse(ctx, query, texts)
	if err != nil {
		r.logger.Warn("reranking unavailable, using vector order", zap.Error(err))
		metrics.ObserveQuery(ModeDegraded)
		out := make([]Result, 0, min(k, len(candidates)))
		for _, m := range candidates[:min(k, len(candidates))] {
			out = append(out, toResult(m, m.Score))
		}
		return out, ModeDegraded, nil
	}

	out := make([]Result, len(candidates))
	for i, m := range candidates {
		out[i] = toResult(m, combined[i])
	}
	slices.SortStableFunc(out, func(a, b Result) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	metrics.ObserveQuery(ModeHybrid)
	return out[:min(k, len(out))], ModeHybrid, nil
}

// fuse returns the weighted sum of the normalized semantic and lexical scores.
func (r *Ranker) fuse(ctx context.Context, query string, texts []string) ([]float64, error) {
	if r.semantic == nil {
		return nil, fmt.Errorf("semantic stage: %w", ErrUnavailable)
	}
	if r.lexical == nil {
		return nil, fmt.Errorf("lexical stage: %w", ErrUnavailable)
	}
	sem, err := r.semantic.Score(ctx, query, texts)
	if err != nil {
		return nil, fmt.Errorf("semantic stage: %w", err)
	}
	lex, err := r.lexical.Score(ctx, query, texts)
	if err != nil {
		return nil, fmt.Errorf("lexical stage: %w", err)
	}
	if len(sem) != len(texts) || len(lex) != len(texts) {
		return nil, fmt.Errorf("score count mismatch: %d texts, %d semantic, %d lexical", len(texts), len(sem), len(lex))
	}
	return Fuse(MinMax(sem), MinMax(lex), r.cfg), nil
}

// Fuse combines two normalized score vectors of equal length.
func Fuse(semantic, lexical []float64, cfg Config) []float64 {
	out := make([]float64, len(semantic))
	for i := range semantic {
		out[i] = cfg.SemanticWeight*semantic[i] + cfg.LexicalWeight*lexical[i]
	}
	return out
}

func dedupeText(matches []vectorstore.Match) []vectorstore.Match {
	seen := make(map[string]struct{}, len(matches))
	out := make([]vectorstore.Match, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m.Text]; ok {
			continue
		}
		seen[m.Text] = struct{}{}
		out = append(out, m)
	}
	return out
}

func toResult(m vectorstore.Match, score float64) Result {
	return Result{
		ID:    m.ID,
		Text:  m.Text,
		URL:   m.Metadata[vectorstore.MetaURL],
		Title: m.Metadata[vectorstore.MetaTitle],
		Score: score,
	}
}
