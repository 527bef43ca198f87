package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunker sizes, in characters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 150
)

// Chunker packs paragraphs into chunks of at most Size characters. Each
// chunk after the first starts with up to Overlap trailing characters of the
// previous one, cut at a word boundary.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker clamps size and overlap to usable values.
func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return Chunker{Size: size, Overlap: overlap}
}

// Split returns the chunks of text in order. Blank text has no chunks.
func (c Chunker) Split(text string) []string {
	var (
		chunks []string
		cur    string
		fresh  bool
	)
	for _, p := range c.pieces(text) {
		if fresh && runes(cur)+1+runes(p) > c.Size {
			chunks = append(chunks, cur)
			cur = tail(cur, c.Overlap)
			fresh = false
		}
		if !fresh && cur != "" && runes(cur)+1+runes(p) > c.Size {
			cur = ""
		}
		if cur == "" {
			cur = p
		} else {
			cur += "\n" + p
		}
		fresh = true
	}
	if fresh {
		chunks = append(chunks, cur)
	}
	return chunks
}

// pieces splits text into trimmed paragraphs no longer than Size.
func (c Chunker) pieces(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if runes(line) <= c.Size {
			out = append(out, line)
			continue
		}
		out = append(out, c.splitWords(line)...)
	}
	return out
}

func (c Chunker) splitWords(line string) []string {
	var (
		out []string
		cur string
	)
	for _, w := range strings.Fields(line) {
		for runes(w) > c.Size {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			r := []rune(w)
			out = append(out, string(r[:c.Size]))
			w = string(r[c.Size:])
		}
		switch {
		case cur == "":
			cur = w
		case runes(cur)+1+runes(w) > c.Size:
			out = append(out, cur)
			cur = w
		default:
			cur += " " + w
		}
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	t := r[len(r)-n:]
	if unicode.IsSpace(r[len(r)-n-1]) {
		return strings.TrimSpace(string(t))
	}
	for i, ch := range t {
		if unicode.IsSpace(ch) {
			return strings.TrimSpace(string(t[i:]))
		}
	}
	return string(t)
}

func runes(s string) int {
	return utf8.RuneCountInString(s)
}
