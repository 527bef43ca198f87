package pipeline

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestChunkerSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		size    int
		overlap int
		text    string
		want    []string
	}{
		{name: "blank", size: 20, text: " \n\n ", want: nil},
		{name: "single", size: 20, text: "short text", want: []string{"short text"}},
		{
			name: "packs paragraphs",
			size: 20,
			text: "aaaa aaaa\nbbbb bbbb\n\ncccc cccc",
			want: []string{"aaaa aaaa\nbbbb bbbb", "cccc cccc"},
		},
		{
			name:    "carries overlap",
			size:    20,
			overlap: 9,
			text:    "aaaa aaaa\nbbbb bbbb\ncccc cccc",
			want:    []string{"aaaa aaaa\nbbbb bbbb", "bbbb bbbb\ncccc cccc"},
		},
		{
			name:    "overlap cut at word boundary",
			size:    20,
			overlap: 7,
			text:    "aaaa aaaa\nbbbb bbbb\ncccc cccc",
			want:    []string{"aaaa aaaa\nbbbb bbbb", "bbbb\ncccc cccc"},
		},
		{
			name: "splits long paragraph on whitespace",
			size: 10,
			text: "one two three four five",
			want: []string{"one two", "three four", "five"},
		},
		{
			name: "hard cuts long words",
			size: 4,
			text: "abcdefghij",
			want: []string{"abcd", "efgh", "ij"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := NewChunker(tc.size, tc.overlap).Split(tc.text)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestChunkerRespectsSize(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < 400; i++ {
		b.WriteString("lorem ipsum dolor sit amet, consectetur adipiscing elit ")
		if i%7 == 0 {
			b.WriteString("\n")
		}
	}
	c := NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	chunks := c.Split(b.String())
	assert.Greater(t, len(chunks), 10)
	for i, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch), DefaultChunkSize, "chunk %d", i)
	}
}

func TestNewChunkerClamps(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Chunker{Size: DefaultChunkSize, Overlap: 0}, NewChunker(0, -1))
	assert.Equal(t, Chunker{Size: 100, Overlap: 50}, NewChunker(100, 100))
}
