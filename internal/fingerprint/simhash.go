package fingerprint

import (
	"crypto/md5" //nolint:gosec // token hashing, not security
	"encoding/binary"
	"fmt"
	"math/bits"
	"regexp"
	"strconv"
	"strings"
)

// Bits is the width of a Fingerprint.
const Bits = 64

// Fingerprint is a 64-bit SimHash value.
type Fingerprint uint64

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// SimHash fingerprints text. Tokens are case-folded words taken as a set, so
// repeats and word order do not move the result. Empty text yields zero.
func SimHash(text string) Fingerprint {
	tokens := Tokens(text)
	if len(tokens) == 0 {
		return 0
	}
	var acc [Bits]int
	for tok := range tokens {
		h := tokenHash(tok)
		for i := 0; i < Bits; i++ {
			if h&(1<<uint(i)) != 0 {
				acc[i]++
			} else {
				acc[i]--
			}
		}
	}
	var fp Fingerprint
	for i := 0; i < Bits; i++ {
		if acc[i] > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// Tokens returns the distinct lower-cased word tokens of text.
func Tokens(text string) map[string]struct{} {
	words := tokenPattern.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// tokenHash takes the leading 64 bits of the token's MD5 digest.
func tokenHash(token string) uint64 {
	sum := md5.Sum([]byte(token)) //nolint:gosec // see import
	return binary.BigEndian.Uint64(sum[:8])
}

// Distance is the Hamming distance between two fingerprints.
func Distance(a, b Fingerprint) int {
	return bits.OnesCount64(uint64(a ^ b))
}

// DistanceHex compares two hex-encoded fingerprints. Anything that does not
// decode counts as the maximal distance.
func DistanceHex(a, b string) int {
	fa, err := Parse(a)
	if err != nil {
		return Bits
	}
	fb, err := Parse(b)
	if err != nil {
		return Bits
	}
	return Distance(fa, fb)
}

// Near reports whether two fingerprints are within threshold bits. A zero
// threshold is exact matching.
func Near(a, b Fingerprint, threshold int) bool {
	return Distance(a, b) <= threshold
}

// String encodes the fingerprint as 16 lower-case hex digits.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x", uint64(f))
}

// IsZero reports whether f is the empty-text fingerprint.
func (f Fingerprint) IsZero() bool {
	return f == 0
}

// Parse decodes a hex fingerprint produced by String.
func Parse(s string) (Fingerprint, error) {
	if s == "" || len(s) > 16 {
		return 0, fmt.Errorf("invalid fingerprint %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse fingerprint: %w", err)
	}
	return Fingerprint(v), nil
}
