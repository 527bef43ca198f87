// Package crawler defines the records and collaborator interfaces shared by
// the crawl worker pool, the ingestion pipeline and the storage backends.
package crawler
