// Package cmd defines the realtime-search-crawler CLI.
//
// Architecture overview:
//   - crawl: runs one worker-pool crawl in the foreground. Each worker pulls from a private frontier, fetches
//     through the politeness gate and the global rate limiter, fingerprints the page, persists it to the page
//     store and indexes it into both the full-text index and the vector store.
//   - ingest: runs the bus pipeline (crawl, clean, chunk, index, frontier and image stages) from the seeds until
//     the bus is idle. Raw HTML and image metadata land in the configured raw store; messages can be mirrored
//     to Pub/Sub.
//   - serve: exposes the HTTP API. POST /v1/crawls starts independent crawl jobs; GET /v1/search runs the
//     hybrid ranker. SIGINT/SIGTERM drains requests and cancels running jobs.
//   - search: ranks stored chunks from the command line.
//
// Configuration comes from the --config YAML file and CRAWLER_* environment variables (for example
// CRAWLER_CRAWLER_WORKERS or CRAWLER_STORAGE_BACKEND). Command flags override the crawler section.
package cmd
