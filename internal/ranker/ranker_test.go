package ranker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-search-crawler/internal/vectorstore"
)

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (fakeEmbedder) Dimensions() int { return 2 }

type fakeStore struct {
	matches []vectorstore.Match
	lastK   int
}

func (f *fakeStore) Upsert(context.Context, []vectorstore.Record) error { return nil }

func (f *fakeStore) Query(_ context.Context, q vectorstore.Query) ([]vectorstore.Match, error) {
	f.lastK = q.K
	return f.matches, nil
}

func (f *fakeStore) Count(context.Context) (int, error) { return len(f.matches), nil }

type scorerFunc func(query string, texts []string) ([]float64, error)

func (f scorerFunc) Score(_ context.Context, query string, texts []string) ([]float64, error) {
	return f(query, texts)
}

func constant(v float64) Scorer {
	return scorerFunc(func(_ string, texts []string) ([]float64, error) {
		out := make([]float64, len(texts))
		for i := range out {
			out[i] = v
		}
		return out, nil
	})
}

func ids(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func TestRetrieveLexicalDrivesOrderWhenSemanticTies(t *testing.T) {
	t.Parallel()

	store := &fakeStore{matches: []vectorstore.Match{
		{ID: "a", Text: "weather report for tuesday", Score: 0.9},
		{ID: "b", Text: "golang channels and goroutines", Score: 0.8},
		{ID: "c", Text: "golang generics", Score: 0.7},
	}}
	r := New(fakeEmbedder{}, store, WithSemantic(constant(2)))

	got, mode, err := r.Retrieve(context.Background(), "golang goroutines", 3)
	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, mode)
	assert.Equal(t, 6, store.lastK)
	assert.Equal(t, []string{"b", "c", "a"}, ids(got))
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)
	assert.InDelta(t, 0.7, got[2].Score, 1e-9)
}

func TestRetrieveFusesWeights(t *testing.T) {
	t.Parallel()

	store := &fakeStore{matches: []vectorstore.Match{
		{ID: "a", Text: "alpha"},
		{ID: "b", Text: "beta"},
	}}
	sem := scorerFunc(func(string, []string) ([]float64, error) { return []float64{0, 10}, nil })
	lex := scorerFunc(func(string, []string) ([]float64, error) { return []float64{5, 1}, nil })
	r := New(fakeEmbedder{}, store, WithSemantic(sem), WithLexical(lex))

	got, _, err := r.Retrieve(context.Background(), "q", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.InDelta(t, 0.7, got[0].Score, 1e-9)
	assert.InDelta(t, 0.3, got[1].Score, 1e-9)
}

func TestRetrieveDedupesAndTruncates(t *testing.T) {
	t.Parallel()

	store := &fakeStore{matches: []vectorstore.Match{
		{ID: "a", Text: "same text", Metadata: map[string]string{vectorstore.MetaURL: "https://a.example"}},
		{ID: "b", Text: "same text"},
		{ID: "c", Text: "other text"},
		{ID: "d", Text: "third text"},
	}}
	r := New(fakeEmbedder{}, store, WithSemantic(constant(1)), WithLexical(constant(1)))

	got, _, err := r.Retrieve(context.Background(), "text", 2)
	require.NoError(t, err)
	// every score ties, so candidate order is kept
	assert.Equal(t, []string{"a", "c"}, ids(got))
	assert.Equal(t, "https://a.example", got[0].URL)
}

func TestRetrieveEmptyCandidates(t *testing.T) {
	t.Parallel()

	r := New(fakeEmbedder{}, &fakeStore{}, WithSemantic(constant(1)))
	got, _, err := r.Retrieve(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestRetrieveDegradesToVectorOrder(t *testing.T) {
	t.Parallel()

	matches := []vectorstore.Match{
		{ID: "a", Text: "one", Score: 0.9},
		{ID: "b", Text: "two", Score: 0.5},
		{ID: "c", Text: "three", Score: 0.1},
	}
	failing := scorerFunc(func(string, []string) ([]float64, error) { return nil, errors.New("boom") })
	short := scorerFunc(func(string, []string) ([]float64, error) { return []float64{1}, nil })

	tests := []struct {
		name string
		opts []Option
	}{
		{name: "no cross-encoder"},
		{name: "cross-encoder error", opts: []Option{WithSemantic(failing)}},
		{name: "lexical error", opts: []Option{WithSemantic(constant(1)), WithLexical(failing)}},
		{name: "score count mismatch", opts: []Option{WithSemantic(short)}},
		{name: "unset cross-encoder url", opts: []Option{WithSemantic(NewCrossEncoder("", 0))}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := New(fakeEmbedder{}, &fakeStore{matches: matches}, tc.opts...)
			got, mode, err := r.Retrieve(context.Background(), "q", 2)
			require.NoError(t, err)
			assert.Equal(t, ModeDegraded, mode)
			assert.Equal(t, []string{"a", "b"}, ids(got))
			assert.InDelta(t, 0.9, got[0].Score, 1e-9)
		})
	}
}

func TestRetrieveErrors(t *testing.T) {
	t.Parallel()

	r := New(fakeEmbedder{}, &fakeStore{})
	_, _, err := r.Retrieve(context.Background(), "   ", 3)
	require.ErrorIs(t, err, ErrEmptyQuery)

	r = New(fakeEmbedder{err: errors.New("no model")}, &fakeStore{})
	_, _, err = r.Retrieve(context.Background(), "q", 3)
	require.ErrorContains(t, err, "embed query")

	got, _, err := r.Retrieve(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMinMax(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{name: "empty", in: nil, want: []float64{}},
		{name: "single", in: []float64{4}, want: []float64{1}},
		{name: "equal", in: []float64{2, 2, 2}, want: []float64{1, 1, 1}},
		{name: "spread", in: []float64{-1, 0, 3}, want: []float64{0, 0.25, 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := MinMax(tc.in)
			require.Len(t, got, len(tc.want))
			for i := range got {
				assert.InDelta(t, tc.want[i], got[i], 1e-9)
			}
		})
	}
}
