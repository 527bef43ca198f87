package ranker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable is returned by a Scorer that cannot serve requests.
var ErrUnavailable = errors.New("scorer unavailable")

const defaultCrossEncoderTimeout = 10 * time.Second

// CrossEncoder calls a remote reranking service:
//
//	POST {BaseURL}/rerank {"query": "...", "texts": ["..."]}
//	-> [{"index": 0, "score": 1.7}, ...]
type CrossEncoder struct {
	baseURL string
	client  *http.Client
}

var _ Scorer = (*CrossEncoder)(nil)

// NewCrossEncoder returns a client for baseURL. A zero timeout uses 10s. An
// empty baseURL yields a client whose Score always fails with ErrUnavailable.
func NewCrossEncoder(baseURL string, timeout time.Duration) *CrossEncoder {
	if timeout <= 0 {
		timeout = defaultCrossEncoderTimeout
	}
	return &CrossEncoder{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Score returns one relevance score per text, in input order.
func (c *CrossEncoder) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if c == nil || c.baseURL == "" {
		return nil, ErrUnavailable
	}
	if len(texts) == 0 {
		return []float64{}, nil
	}
	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("encode rerank request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call cross-encoder: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("cross-encoder status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var scored []rerankScore
	if err := json.NewDecoder(resp.Body).Decode(&scored); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	out := make([]float64, len(texts))
	filled := make([]bool, len(texts))
	for _, s := range scored {
		if s.Index < 0 || s.Index >= len(texts) {
			return nil, fmt.Errorf("cross-encoder returned index %d for %d texts", s.Index, len(texts))
		}
		out[s.Index] = s.Score
		filled[s.Index] = true
	}
	for i, ok := range filled {
		if !ok {
			return nil, fmt.Errorf("cross-encoder omitted text %d", i)
		}
	}
	return out, nil
}
