package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "host case and www", in: "http://WWW.A.com/p?b=2&a=1", want: "http://a.com/p?a=1&b=2"},
		{name: "already sorted", in: "http://a.com/p?a=1&b=2", want: "http://a.com/p?a=1&b=2"},
		{name: "fragment dropped", in: "https://Example.com/docs#intro", want: "https://example.com/docs"},
		{name: "scheme lowered", in: "HTTPS://example.com/", want: "https://example.com/"},
		{name: "port kept", in: "http://www.example.com:8080/a", want: "http://example.com:8080/a"},
		{name: "empty query tokens", in: "http://a.com/?b=1&&a=2", want: "http://a.com/?a=2&b=1"},
		{name: "repeated www", in: "http://www.www.a.com/", want: "http://a.com/"},
		{name: "escaped path kept", in: "http://a.com/x%2Fy", want: "http://a.com/x%2Fy"},
		{name: "relative returned as is", in: "/just/a/path", want: "/just/a/path"},
		{name: "malformed returned as is", in: "http://[::1", want: "http://[::1"},
		{name: "opaque returned as is", in: "mailto:someone@example.com", want: "mailto:someone@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"http://WWW.A.com/p?b=2&a=1",
		"https://www.www.example.org/a b?z=1&y=2#frag",
		"http://user:pw@Example.com:81/x%2Fy?q=a%20b",
		"http://www./",
		"garbage",
		"",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestURLHash(t *testing.T) {
	t.Parallel()

	a := URLHash(Normalize("http://WWW.A.com/p?b=2&a=1"))
	b := URLHash(Normalize("http://a.com/p?a=1&b=2"))
	require.Len(t, a, 64)
	require.Equal(t, a, b)
	require.NotEqual(t, a, URLHash("http://a.com/q"))
}

func TestDomain(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "example.com", Domain("https://www.Example.com:8443/a"))
	assert.Equal(t, "docs.example.com", Domain("http://docs.example.com"))
	assert.Equal(t, "", Domain("/relative"))
}

func TestIsHTTP(t *testing.T) {
	t.Parallel()

	assert.True(t, IsHTTP("http://a.com"))
	assert.True(t, IsHTTP("https://a.com/x"))
	assert.False(t, IsHTTP("ftp://a.com/file"))
	assert.False(t, IsHTTP("javascript:void(0)"))
	assert.False(t, IsHTTP("/relative"))
}
