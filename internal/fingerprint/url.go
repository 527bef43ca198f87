package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Normalize canonicalizes a URL so equivalent spellings share one dedup key.
// The host is lower-cased with any leading "www." removed, the fragment is
// dropped and raw query tokens are sorted lexicographically. Input that cannot
// be parsed as an absolute URL is returned unchanged.
func Normalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" || u.Opaque != "" {
		return raw
	}

	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	if u.User != nil {
		b.WriteString(u.User.String())
		b.WriteByte('@')
	}
	b.WriteString(stripWWW(strings.ToLower(u.Host)))
	b.WriteString(u.EscapedPath())
	if q := sortQuery(u.RawQuery); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String()
}

// URLHash returns the hex SHA-256 digest of an already normalized URL.
func URLHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Domain returns the lower-cased hostname of raw without port or leading
// "www.". It returns "" when raw has no host.
func Domain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return stripWWW(strings.ToLower(u.Hostname()))
}

// IsHTTP reports whether raw is an absolute http or https URL.
func IsHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// stripWWW removes every leading "www." label so normalization stays
// idempotent for hosts like "www.www.example.com".
func stripWWW(host string) string {
	for strings.HasPrefix(host, "www.") && len(host) > len("www.") {
		host = host[len("www."):]
	}
	return host
}

func sortQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	sort.Strings(kept)
	return strings.Join(kept, "&")
}
