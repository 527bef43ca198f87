// Package fingerprint canonicalizes URLs into dedup keys and computes 64-bit
// SimHash fingerprints of page text.
//
// Everything here is a pure function; callers own any state built on top.
package fingerprint
