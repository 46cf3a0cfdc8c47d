// Package downloader orchestrates catalog-to-disk sync runs: it filters
// a provider's items against the ledger, fetches the remainder under a
// bounded worker pool with pacing and retries, and aggregates a run
// outcome.
package downloader
