package ranker

import (
	"context"
	"math"

	"github.com/JakeFAU/realtime-search-crawler/internal/index"
)

// BM25 parameters, as in the Okapi variant.
const (
	DefaultK1      = 1.5
	DefaultB       = 0.75
	DefaultEpsilon = 0.25
)

// BM25 scores a query against a corpus built from the texts of one call.
// Terms whose idf would be negative (present in more than half the corpus)
// get Epsilon times the mean idf instead.
type BM25 struct {
	K1      float64
	B       float64
	Epsilon float64
}

var _ Scorer = BM25{}

// NewBM25 returns a BM25 scorer with the default parameters.
func NewBM25() BM25 {
	return BM25{K1: DefaultK1, B: DefaultB, Epsilon: DefaultEpsilon}
}

// Score returns one score per text.
func (m BM25) Score(_ context.Context, query string, texts []string) ([]float64, error) {
	scores := make([]float64, len(texts))
	if len(texts) == 0 {
		return scores, nil
	}
	docs := make([]map[string]int, len(texts))
	lengths := make([]int, len(texts))
	df := map[string]int{}
	total := 0
	for i, t := range texts {
		tokens := index.Tokenize(t)
		lengths[i] = len(tokens)
		total += len(tokens)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for tok := range tf {
			df[tok]++
		}
		docs[i] = tf
	}
	avgdl := float64(total) / float64(len(texts))
	idf := m.idf(df, len(texts))

	for _, q := range index.Tokenize(query) {
		w, ok := idf[q]
		if !ok {
			continue
		}
		for i, tf := range docs {
			f := float64(tf[q])
			if f == 0 {
				continue
			}
			norm := 1.0
			if avgdl > 0 {
				norm = 1 - m.B + m.B*float64(lengths[i])/avgdl
			}
			scores[i] += w * f * (m.K1 + 1) / (f + m.K1*norm)
		}
	}
	return scores, nil
}

func (m BM25) idf(df map[string]int, n int) map[string]float64 {
	out := make(map[string]float64, len(df))
	var sum float64
	var negative []string
	for term, freq := range df {
		v := math.Log((float64(n-freq) + 0.5) / (float64(freq) + 0.5))
		out[term] = v
		sum += v
		if v < 0 {
			negative = append(negative, term)
		}
	}
	if len(df) == 0 {
		return out
	}
	floor := m.Epsilon * sum / float64(len(df))
	for _, term := range negative {
		out[term] = floor
	}
	return out
}
