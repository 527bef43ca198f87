// Package progress carries crawl worker state transitions from the workers to
// pluggable sinks. Workers emit onto a Hub without blocking; the Hub batches
// events on one goroutine and hands each batch to every sink in turn.
package progress
