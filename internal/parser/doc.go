// Package parser turns fetched HTML into text, metadata, links and images.
//
// Documents are parsed with golang.org/x/net/html and queried with goquery.
// Boilerplate elements are removed before text extraction. Parsing never
// fails: malformed input yields an empty result so callers keep going.
package parser
