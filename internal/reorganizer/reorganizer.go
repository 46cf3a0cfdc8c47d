package reorganizer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"setupsync/internal/dedup"
	"setupsync/internal/fileutil"
	"setupsync/internal/logging"
	"setupsync/internal/services"
	"setupsync/internal/tracks"
)

// Matcher resolves a track label to an iRacing directory path.
type Matcher interface {
	Match(trackName, categoryHint string) tracks.MatchResult
}

// Hasher produces content hashes for duplicate comparison.
type Hasher interface {
	Hash(path string) (string, error)
}

// suspiciousFolders are container names that are unlikely to be iRacing
// car folders. Files under them still get organized, with a warning.
var suspiciousFolders = map[string]struct{}{
	"setups":    {},
	"setup":     {},
	"downloads": {},
	"download":  {},
	"backup":    {},
	"backups":   {},
	"old":       {},
	"new":       {},
	"temp":      {},
	"tmp":       {},
}

// companionExtensions are telemetry, lap, and replay files that travel
// with a setup file of the same stem.
var companionExtensions = []string{".blap", ".ld", ".ldx", ".olap", ".rpy"}

// Options modify one reorganize pass.
type Options struct {
	// OutputDir is where organized files land. Empty means organize in
	// place under the source directory.
	OutputDir string
	// DryRun plans actions without touching the filesystem.
	DryRun bool
	// Copy duplicates files into place instead of moving them. Copying
	// never deletes duplicate sources.
	Copy bool
	// CategoryHint biases track disambiguation, e.g. "GT3" or "NASCAR".
	CategoryHint string
	// DetectDuplicates enables binary duplicate handling when an index
	// is available.
	DetectDuplicates bool
}

// Reorganizer scans a directory tree for setup files and sorts them into
// car/track folders.
type Reorganizer struct {
	matcher Matcher
	index   *dedup.Index
	hasher  Hasher
	logger  *slog.Logger
}

// New creates a reorganizer. index and hasher may be nil, which disables
// duplicate detection.
func New(matcher Matcher, index *dedup.Index, hasher Hasher, logger *slog.Logger) *Reorganizer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reorganizer{
		matcher: matcher,
		index:   index,
		hasher:  hasher,
		logger:  logging.NewComponentLogger(logger, "reorganizer"),
	}
}

// Reorganize plans and, unless opts.DryRun, executes the reorganization
// of every .sto file under sourceDir. Per-file problems are recorded in
// the result; only an unusable source directory or cancellation fail the
// pass as a whole.
func (r *Reorganizer) Reorganize(ctx context.Context, sourceDir string, opts Options) (*Result, error) {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "reorganizer", "scan",
			fmt.Sprintf("source path not found: %s", sourceDir), err)
	}
	if !info.IsDir() {
		return nil, services.Wrap(services.ErrValidation, "reorganizer", "scan",
			fmt.Sprintf("source path is not a directory: %s", sourceDir), nil)
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = sourceDir
	}

	detect := opts.DetectDuplicates && r.index != nil
	if detect {
		r.logger.Info("building duplicate index", logging.String("dir", outputDir))
		if _, err := r.index.BuildIndex(outputDir); err != nil {
			return nil, err
		}
	}

	var files []string
	err = filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && dedup.IsSetupFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", sourceDir, err)
	}

	result := &Result{TotalFiles: len(files)}
	r.logger.Info("found setup files",
		logging.Int("count", len(files)),
		logging.String("dir", sourceDir))

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		action := r.planFile(file, sourceDir, outputDir, opts.CategoryHint, detect)
		result.Actions = append(result.Actions, action)
		last := &result.Actions[len(result.Actions)-1]

		if last.IsDuplicate {
			result.DuplicatesFound++
		}
		if last.Skipped {
			result.Skipped++
			if last.IsDuplicate && !opts.DryRun && !opts.Copy {
				r.deleteDuplicate(last, sourceDir, result)
			}
			continue
		}
		if last.Err != "" {
			result.Failed++
			continue
		}
		if !last.WillMove() {
			continue
		}

		if opts.DryRun {
			last.CompanionsMoved = len(findCompanions(file))
			result.CompanionsMoved += last.CompanionsMoved
			result.Organized++
			continue
		}

		if err := r.execute(last, sourceDir, opts.Copy); err != nil {
			last.Err = err.Error()
			result.Failed++
			r.logger.Error("failed to organize file",
				logging.String("path", file),
				logging.Error(err))
			continue
		}
		result.CompanionsMoved += last.CompanionsMoved
		result.Organized++
		if detect {
			if err := r.index.Add(last.Destination); err != nil {
				r.logger.Warn("failed to index organized file",
					logging.String("path", last.Destination),
					logging.Error(err))
			}
		}
	}

	return result, nil
}

// planFile decides where one setup file belongs without touching it.
func (r *Reorganizer) planFile(path, sourceRoot, outputRoot, categoryHint string, detect bool) Action {
	action := Action{Source: path}

	rel, err := filepath.Rel(sourceRoot, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		action.Skipped = true
		action.SkipReason = "file not under source directory"
		return action
	}
	parts := strings.Split(rel, string(filepath.Separator))

	if len(parts) >= 2 {
		action.CarFolder = parts[0]
		if _, ok := suspiciousFolders[strings.ToLower(action.CarFolder)]; ok {
			r.logger.Warn("car folder looks like a container directory; consider organizing the parent",
				logging.String("car_folder", action.CarFolder),
				logging.String("file", filepath.Base(path)))
		}
	}

	trackName := r.extractTrackFromFilename(filepath.Base(path), categoryHint)
	if trackName == "" && len(parts) >= 2 {
		trackName = r.extractTrackFromPath(parts, categoryHint)
	}
	if trackName == "" {
		action.Skipped = true
		action.SkipReason = "could not determine track name"
		return action
	}
	action.TrackName = trackName

	match := r.matcher.Match(trackName, categoryHint)
	if match.DirPath == "" {
		action.Skipped = true
		action.SkipReason = fmt.Sprintf("no iRacing path for track %q", trackName)
		return action
	}
	action.TrackDirPath = match.DirPath
	action.Confidence = match.Confidence

	if action.CarFolder == "" {
		action.Skipped = true
		action.SkipReason = "could not determine car folder"
		return action
	}

	// Track dirpaths from iRacing use backslash separators.
	trackSubdir := filepath.FromSlash(strings.ReplaceAll(match.DirPath, `\`, "/"))
	destination := filepath.Join(outputRoot, action.CarFolder, trackSubdir, filepath.Base(path))
	action.Destination = destination

	if path == destination {
		action.Skipped = true
		action.SkipReason = "already in correct location"
		return action
	}

	if _, err := os.Stat(destination); err == nil {
		if detect && r.sameContent(path, destination) {
			action.IsDuplicate = true
			action.DuplicateOf = destination
			action.Skipped = true
			action.SkipReason = fmt.Sprintf("binary duplicate of existing: %s", filepath.Base(destination))
			return action
		}
		action.Skipped = true
		action.SkipReason = fmt.Sprintf("destination already exists: %s", destination)
		return action
	}

	if detect {
		if existing, ok, err := r.index.FindDuplicate(path); err == nil && ok {
			action.IsDuplicate = true
			action.DuplicateOf = existing
			action.Skipped = true
			action.SkipReason = fmt.Sprintf("binary duplicate of existing: %s", filepath.Base(existing))
		}
	}
	return action
}

// sameContent reports whether two files hash identically. Hash failures
// count as different, which degrades to the safe "destination exists"
// skip.
func (r *Reorganizer) sameContent(a, b string) bool {
	if r.hasher == nil {
		return false
	}
	hashA, err := r.hasher.Hash(a)
	if err != nil {
		return false
	}
	hashB, err := r.hasher.Hash(b)
	if err != nil {
		return false
	}
	return hashA == hashB
}

// execute moves or copies the planned file plus its companions, creating
// the destination tree and pruning emptied source directories.
func (r *Reorganizer) execute(action *Action, sourceRoot string, copyMode bool) error {
	if err := os.MkdirAll(filepath.Dir(action.Destination), 0o755); err != nil {
		return err
	}

	companions := findCompanions(action.Source)

	if copyMode {
		if err := fileutil.CopyFileVerified(action.Source, action.Destination); err != nil {
			return err
		}
		r.logger.Info("copied setup",
			logging.String("from", action.Source),
			logging.String("to", action.Destination))
	} else {
		if err := fileutil.MoveFile(action.Source, action.Destination); err != nil {
			return err
		}
		r.logger.Info("moved setup",
			logging.String("from", action.Source),
			logging.String("to", action.Destination))
	}

	destDir := filepath.Dir(action.Destination)
	for _, companion := range companions {
		companionDest := filepath.Join(destDir, filepath.Base(companion))
		if _, err := os.Stat(companionDest); err == nil {
			r.logger.Warn("companion already exists at destination",
				logging.String("file", filepath.Base(companion)))
			continue
		}
		var err error
		if copyMode {
			err = fileutil.CopyFile(companion, companionDest)
		} else {
			err = fileutil.MoveFile(companion, companionDest)
		}
		if err != nil {
			r.logger.Warn("failed to move companion file",
				logging.String("file", companion),
				logging.Error(err))
			continue
		}
		action.CompanionsMoved++
	}

	if !copyMode {
		fileutil.RemoveEmptyDirs(filepath.Dir(action.Source), sourceRoot)
	}
	return nil
}

// deleteDuplicate removes a source file (and its companions) that is a
// byte-for-byte copy of something already organized.
func (r *Reorganizer) deleteDuplicate(action *Action, sourceRoot string, result *Result) {
	for _, companion := range findCompanions(action.Source) {
		info, err := os.Stat(companion)
		if err != nil {
			continue
		}
		if err := os.Remove(companion); err != nil {
			r.logger.Warn("failed to delete duplicate companion",
				logging.String("file", companion),
				logging.Error(err))
			continue
		}
		result.BytesSaved += info.Size()
		r.logger.Info("deleted duplicate companion", logging.String("file", filepath.Base(companion)))
	}

	info, err := os.Stat(action.Source)
	if err != nil {
		return
	}
	if err := os.Remove(action.Source); err != nil {
		r.logger.Warn("failed to delete duplicate",
			logging.String("file", action.Source),
			logging.Error(err))
		return
	}
	action.DuplicateDeleted = true
	result.DuplicatesDeleted++
	result.BytesSaved += info.Size()
	r.logger.Info("deleted duplicate",
		logging.String("file", action.Source),
		logging.String("identical_to", action.DuplicateOf))
	if r.index != nil {
		r.index.Remove(action.Source)
	}
	fileutil.RemoveEmptyDirs(filepath.Dir(action.Source), sourceRoot)
}

// findCompanions returns existing sibling files sharing the setup's stem
// with a known companion extension.
func findCompanions(stoFile string) []string {
	stem := strings.TrimSuffix(filepath.Base(stoFile), filepath.Ext(stoFile))
	dir := filepath.Dir(stoFile)

	var companions []string
	for _, ext := range companionExtensions {
		candidate := filepath.Join(dir, stem+ext)
		if _, err := os.Stat(candidate); err == nil {
			companions = append(companions, candidate)
		}
	}
	return companions
}
