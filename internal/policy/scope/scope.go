// Package scope decides which hosts a crawl may visit.
package scope

import (
	"strings"

	"github.com/JakeFAU/realtime-search-crawler/internal/fingerprint"
)

// Policy admits URLs whose host equals, or is a subdomain of, an allowed
// domain and matches no blocked pattern. An empty allow list admits every
// http(s) URL that is not blocked.
type Policy struct {
	allowed []string
	blocked *blocklist
}

// Option customizes a Policy.
type Option func(*Policy)

// WithBlocked denies hosts matching patterns. "example.com" blocks that exact
// host; "*.example.com" and ".example.com" block every subdomain as well.
func WithBlocked(patterns ...string) Option {
	return func(p *Policy) {
		p.blocked = newBlocklist(patterns)
	}
}

// New builds a Policy. Domains are compared lower-cased without "www.".
func New(domains []string, opts ...Option) *Policy {
	p := &Policy{}
	for _, d := range domains {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if !strings.Contains(d, "://") {
			d = "http://" + d
		}
		if host := fingerprint.Domain(d); host != "" {
			p.allowed = append(p.allowed, host)
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AllowFetch reports whether rawURL is in scope.
func (p *Policy) AllowFetch(rawURL string) bool {
	if !fingerprint.IsHTTP(rawURL) {
		return false
	}
	if p == nil {
		return true
	}
	host := fingerprint.Domain(rawURL)
	if p.blocked.match(host) {
		return false
	}
	if len(p.allowed) == 0 {
		return true
	}
	for _, d := range p.allowed {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Domains returns the normalized allow list.
func (p *Policy) Domains() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.allowed...)
}

// blocklist stores exact hosts and suffix wildcards.
type blocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

func newBlocklist(patterns []string) *blocklist {
	b := &blocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimPrefix(strings.TrimSpace(strings.ToLower(raw)), "www.")
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			b.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			b.addSuffix(strings.TrimPrefix(value, "."))
		default:
			b.exact[value] = struct{}{}
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 {
		return nil
	}
	return b
}

func (b *blocklist) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

func (b *blocklist) match(host string) bool {
	if b == nil || host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, s := range b.suffixes {
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}
