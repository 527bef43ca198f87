// Package index is the in-memory full-text index fed by the crawl workers.
// Documents are keyed by url hash; scoring is length-normalized TF-IDF.
package index

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
)

// Hit is one search result.
type Hit struct {
	URLHash string  `json:"url_hash"`
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Score   float64 `json:"score"`
}

type docMeta struct {
	url    string
	title  string
	length int
}

// Index is safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	postings map[string]map[string]int // term -> url hash -> count
	docs     map[string]docMeta
}

var _ crawler.Indexer = (*Index)(nil)

// New returns an empty index.
func New() *Index {
	return &Index{
		postings: make(map[string]map[string]int),
		docs:     make(map[string]docMeta),
	}
}

// Tokenize splits on whitespace and punctuation, lower-cases, and drops
// single-character tokens.
func Tokenize(text string) []string {
	var tokens []string
	split := func(c rune) bool {
		return unicode.IsSpace(c) || unicode.IsPunct(c)
	}
	for _, token := range strings.FieldsFunc(text, split) {
		t := strings.ToLower(token)
		if len([]rune(t)) >= 2 {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// IndexDocument adds or replaces doc. Title terms are indexed with the body.
func (i *Index) IndexDocument(_ context.Context, doc crawler.Document) error {
	terms := Tokenize(doc.Title + " " + doc.Text)

	i.mu.Lock()
	defer i.mu.Unlock()
	if _, replace := i.docs[doc.URLHash]; replace {
		i.removeLocked(doc.URLHash)
	}
	i.docs[doc.URLHash] = docMeta{url: doc.URL, title: doc.Title, length: len(terms)}
	for _, term := range terms {
		p, ok := i.postings[term]
		if !ok {
			p = make(map[string]int)
			i.postings[term] = p
		}
		p[doc.URLHash]++
	}
	return nil
}

// Remove drops a document. Unknown hashes are ignored.
func (i *Index) Remove(urlHash string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.removeLocked(urlHash)
}

func (i *Index) removeLocked(urlHash string) {
	if _, ok := i.docs[urlHash]; !ok {
		return
	}
	delete(i.docs, urlHash)
	for term, p := range i.postings {
		delete(p, urlHash)
		if len(p) == 0 {
			delete(i.postings, term)
		}
	}
}

// Len reports the number of indexed documents.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.docs)
}

// Search returns the top k documents for query, best first. Ties sort by
// url hash. k <= 0 returns every match.
func (i *Index) Search(query string, k int) []Hit {
	terms := Tokenize(query)

	i.mu.RLock()
	defer i.mu.RUnlock()
	if len(terms) == 0 || len(i.docs) == 0 {
		return nil
	}

	n := float64(len(i.docs))
	scores := make(map[string]float64)
	for _, term := range terms {
		p := i.postings[term]
		if len(p) == 0 {
			continue
		}
		idf := math.Log((n+1)/(float64(len(p))+1)) + 1
		for hash, count := range p {
			dl := i.docs[hash].length
			if dl == 0 {
				continue
			}
			scores[hash] += float64(count) / float64(dl) * idf
		}
	}

	hits := make([]Hit, 0, len(scores))
	for hash, score := range scores {
		meta := i.docs[hash]
		hits = append(hits, Hit{URLHash: hash, URL: meta.url, Title: meta.title, Score: score})
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Score == hits[b].Score {
			return hits[a].URLHash < hits[b].URLHash
		}
		return hits[a].Score > hits[b].Score
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
