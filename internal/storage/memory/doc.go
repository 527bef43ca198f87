// Package memory keeps crawl results, jobs and blobs in process memory. It
// backs single-run crawls, the default server configuration and tests.
package memory
