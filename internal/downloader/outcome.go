package downloader

import (
	"sync"

	"setupsync/internal/provider"
)

// ItemError pairs a failed item with its final error message.
type ItemError struct {
	ItemID  string
	Message string
}

// Outcome aggregates one run. Counters are commutative: completion
// order varies run to run and is not part of the contract. Mutation is
// serialized internally; reads are safe once Run has returned.
type Outcome struct {
	// RunID identifies the run in logs and in the history store.
	RunID             string
	Total             int
	Skipped           int
	Downloaded        int
	Failed            int
	DuplicatesSkipped int
	Renamed           int
	BytesSaved        int64
	// WouldDownload is only populated by dry runs.
	WouldDownload int
	Errors        []ItemError

	mu sync.Mutex
}

func (o *Outcome) noteSuccess(result *provider.MaterializeResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Downloaded++
	o.DuplicatesSkipped += len(result.Duplicates)
	o.Renamed += result.Renamed
	o.BytesSaved += result.BytesSaved()
}

func (o *Outcome) noteFailure(itemID string, err error) {
	message := "unknown error"
	if err != nil {
		message = err.Error()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Failed++
	o.Errors = append(o.Errors, ItemError{ItemID: itemID, Message: message})
}
