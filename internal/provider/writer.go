package provider

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"setupsync/internal/dedup"
	"setupsync/internal/hashcache"
	"setupsync/internal/logging"
)

// Writer lands decoded payload files on disk, skipping writes whose
// content already exists somewhere in the tree. With a nil index it
// degrades to plain writes.
type Writer struct {
	index  *dedup.Index
	logger *slog.Logger
}

// NewWriter creates a writer that checks content against index before
// writing. index may be nil.
func NewWriter(index *dedup.Index, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Writer{index: index, logger: logger}
}

// Write puts data at destPath unless identical content is already on
// disk. The content hash is claimed in the index before the write, so
// two concurrent workers holding identical payloads cannot both land a
// file; the loser gets the winner's path back as a duplicate.
func (w *Writer) Write(destPath string, data []byte) (bool, *Duplicate, error) {
	hash := hashcache.HashBytes(data)

	if w.index != nil {
		canonical, claimed := w.index.Reserve(hash, destPath)
		if !claimed {
			w.logger.Debug("skipping duplicate content",
				logging.String("path", destPath),
				logging.String("existing", canonical))
			return false, &Duplicate{
				IntendedPath: destPath,
				ExistingPath: canonical,
				Hash:         hash,
				Size:         int64(len(data)),
			}, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		w.release(hash, destPath)
		return false, nil, fmt.Errorf("create directory for %s: %w", destPath, err)
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		w.release(hash, destPath)
		return false, nil, fmt.Errorf("write %s: %w", destPath, err)
	}
	return true, nil, nil
}

func (w *Writer) release(hash, path string) {
	if w.index != nil {
		w.index.Release(hash, path)
	}
}

// SanitizeArchivePath normalizes an archive entry path and rejects
// anything that could escape the extraction root.
func SanitizeArchivePath(name string) (string, bool) {
	normalized := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(normalized, "/") || strings.Contains(normalized, "..") {
		return "", false
	}
	return normalized, true
}

// SetupTypeFrom extracts the setup-type token from an original payload
// filename: the last word of the stem, with underscores treated as
// spaces. "GO 26S1 NextGen Daytona500 Qualifying.sto" yields
// "Qualifying".
func SetupTypeFrom(filename string) string {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	fields := strings.Fields(strings.ReplaceAll(stem, "_", " "))
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// BuildFileName assembles the standardized setup filename
// <creator>_<series>_<season>_<track>_<type>.sto, dropping empty
// components and squeezing whitespace and repeated underscores. The
// second return reports whether any spaces had to be sanitized away.
func BuildFileName(creator, series, season, track, setupType string) (string, bool) {
	components := []string{creator, series, season, strings.ReplaceAll(track, " ", ""), setupType}
	nonEmpty := make([]string, 0, len(components))
	for _, c := range components {
		if c != "" {
			nonEmpty = append(nonEmpty, c)
		}
	}
	name := strings.Join(nonEmpty, "_")
	renamed := strings.Contains(name, " ") || strings.Contains(track, " ")
	name = strings.ReplaceAll(name, " ", "_")
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	name = strings.Trim(name, "_")
	if name == "" {
		return "setup.sto", renamed
	}
	return name + ".sto", renamed
}

// TrackSubdir resolves the directory fragment a matched track places
// files under. An empty return means no match; callers fall back to a
// flat layout under the car folder.
func TrackSubdir(matcher TrackMatcher, track, categoryHint string, logger *slog.Logger) string {
	if matcher == nil || track == "" {
		return ""
	}
	result := matcher.Match(track, categoryHint)
	if result.DirPath == "" {
		logger.Warn("no track match; using flat layout", logging.String("track", track))
		return ""
	}
	logger.Debug("matched track",
		logging.String("track", track),
		logging.String("dirpath", result.DirPath),
		logging.Float64("confidence", result.Confidence),
		logging.Bool("ambiguous", result.Ambiguous))
	return filepath.FromSlash(result.DirPath)
}
