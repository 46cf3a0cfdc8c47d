package reorganizer

import "fmt"

// Action describes what happened, or would happen, to one setup file.
type Action struct {
	Source       string
	Destination  string
	TrackName    string
	CarFolder    string
	TrackDirPath string
	Confidence   float64

	Skipped    bool
	SkipReason string
	Err        string

	IsDuplicate      bool
	DuplicateOf      string
	DuplicateDeleted bool
	CompanionsMoved  int
}

// WillMove reports whether executing this action changes the file's
// location.
func (a *Action) WillMove() bool {
	return !a.Skipped && a.Destination != "" && a.Source != a.Destination
}

// Result aggregates one reorganize pass.
type Result struct {
	TotalFiles        int
	Organized         int
	Skipped           int
	Failed            int
	DuplicatesFound   int
	DuplicatesDeleted int
	BytesSaved        int64
	CompanionsMoved   int
	Actions           []Action
}

// Summary renders the counters as a one-line report.
func (r *Result) Summary() string {
	base := fmt.Sprintf("Total: %d, Organized: %d, Skipped: %d, Failed: %d",
		r.TotalFiles, r.Organized, r.Skipped, r.Failed)
	if r.DuplicatesFound > 0 {
		base += fmt.Sprintf(", Duplicates: %d", r.DuplicatesFound)
	}
	if r.CompanionsMoved > 0 {
		base += fmt.Sprintf(", Companion files: %d", r.CompanionsMoved)
	}
	return base
}
