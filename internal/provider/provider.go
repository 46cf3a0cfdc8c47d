package provider

import (
	"context"

	"setupsync/internal/tracks"
)

// Item is one downloadable setup bundle advertised by a provider's
// catalog. Immutable once fetched for a given poll.
type Item struct {
	ID           string
	Name         string
	Car          string
	Track        string
	CategoryHint string
	Series       string
	Season       string
	UpdateTime   string
	DownloadURL  string
}

// Duplicate describes a payload file that was skipped because identical
// content already exists on disk.
type Duplicate struct {
	IntendedPath string
	ExistingPath string
	Hash         string
	Size         int64
}

// MaterializeResult reports what a Materialize call produced: files
// newly written plus payload entries skipped as duplicates of existing
// content. Renamed counts files whose standardized name needed spaces
// sanitized out of the metadata.
type MaterializeResult struct {
	FilePaths  []string
	Duplicates []Duplicate
	Renamed    int
}

// Empty reports whether the payload yielded neither new files nor
// recognized duplicates, which indicates a parsing problem upstream.
func (r *MaterializeResult) Empty() bool {
	return len(r.FilePaths) == 0 && len(r.Duplicates) == 0
}

// LedgerPaths returns the paths to record for idempotency: the written
// files, or when everything deduplicated away, the existing canonical
// paths that carry the content.
func (r *MaterializeResult) LedgerPaths() []string {
	if len(r.FilePaths) > 0 {
		return r.FilePaths
	}
	paths := make([]string, 0, len(r.Duplicates))
	for _, dup := range r.Duplicates {
		paths = append(paths, dup.ExistingPath)
	}
	return paths
}

// BytesSaved sums the payload bytes that deduplication avoided writing.
func (r *MaterializeResult) BytesSaved() int64 {
	var total int64
	for _, dup := range r.Duplicates {
		total += dup.Size
	}
	return total
}

// TrackMatcher resolves a provider track label to an iRacing directory
// path. *tracks.Matcher satisfies it; nil disables track placement.
type TrackMatcher interface {
	Match(trackName, categoryHint string) tracks.MatchResult
}

// Provider is a setup source adapter. Implementations own their own
// transport, authentication, and payload decoding; the downloader only
// sees Items going in and MaterializeResults coming out.
type Provider interface {
	// Name returns the stable lowercase provider name used as the
	// ledger's source key.
	Name() string
	// FetchItems lists the setups currently available to the account.
	FetchItems(ctx context.Context) ([]Item, error)
	// Materialize downloads one item's payload and decodes it into setup
	// files under targetDir.
	Materialize(ctx context.Context, item Item, targetDir string) (*MaterializeResult, error)
	// Close releases transport resources.
	Close() error
}
