package dedup

import (
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"setupsync/internal/logging"
)

// SetupFilePattern matches iRacing setup exports when scanning a tree.
const SetupFilePattern = "*.sto"

// Hasher supplies content hashes. *hashcache.Cache satisfies it.
type Hasher interface {
	Hash(path string) (string, error)
	ScanDirectory(dir, pattern string) (map[string][]string, error)
}

// Index maps content hashes to the canonical path holding that content.
// When a hash has several physical paths the lexicographically smallest
// one is canonical, which keeps rebuilds reproducible. Safe for
// concurrent use.
type Index struct {
	hasher Hasher
	logger *slog.Logger

	mu    sync.Mutex
	paths map[string]string // hash -> canonical path
}

// NewIndex returns an empty index that hashes through hasher.
func NewIndex(hasher Hasher, logger *slog.Logger) *Index {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Index{
		hasher: hasher,
		logger: logging.NewComponentLogger(logger, "dedup"),
		paths:  make(map[string]string),
	}
}

// BuildIndex discards any prior state, scans dir for setup files, and
// indexes every hash under its lexicographically smallest path. It
// returns the number of files scanned.
func (i *Index) BuildIndex(dir string) (int, error) {
	groups, err := i.hasher.ScanDirectory(dir, SetupFilePattern)
	if err != nil {
		return 0, err
	}

	count := 0
	fresh := make(map[string]string, len(groups))
	for hash, paths := range groups {
		count += len(paths)
		sort.Strings(paths)
		fresh[hash] = paths[0]
	}

	i.mu.Lock()
	i.paths = fresh
	i.mu.Unlock()

	i.logger.Debug("built duplicate index",
		logging.Int("files", count),
		logging.Int("distinct_hashes", len(fresh)))
	return count, nil
}

// FindDuplicate hashes the file at path and returns the canonical path
// holding the same content, if any. A file is never reported as its own
// duplicate.
func (i *Index) FindDuplicate(path string) (string, bool, error) {
	hash, err := i.hasher.Hash(path)
	if err != nil {
		return "", false, err
	}
	existing, ok := i.FindDuplicateByHash(hash)
	if !ok || existing == path {
		return "", false, nil
	}
	return existing, true, nil
}

// FindDuplicateByHash returns the canonical path for hash if one is
// indexed. Callers use this to check payload content before writing it.
func (i *Index) FindDuplicateByHash(hash string) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	existing, ok := i.paths[hash]
	return existing, ok
}

// Add hashes path and registers it as canonical for its content. A hash
// that is already claimed keeps its existing claim, matching BuildIndex's
// first-wins tie-break.
func (i *Index) Add(path string) error {
	hash, err := i.hasher.Hash(path)
	if err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.paths[hash]; !ok {
		i.paths[hash] = path
	}
	return nil
}

// Remove drops path's claim on its hash, if it holds one. The file may be
// gone already, so the hash comes from the cache or a rehash attempt; an
// unhashable path is treated as not indexed.
func (i *Index) Remove(path string) {
	hash, err := i.hasher.Hash(path)
	if err != nil {
		// Fall back to a linear sweep for files deleted out from under us.
		i.mu.Lock()
		for h, p := range i.paths {
			if p == path {
				delete(i.paths, h)
			}
		}
		i.mu.Unlock()
		return
	}
	i.mu.Lock()
	if existing, ok := i.paths[hash]; ok && existing == path {
		delete(i.paths, hash)
	}
	i.mu.Unlock()
}

// Reserve atomically claims hash for path. If the hash was free the claim
// succeeds and Reserve returns (path, true); otherwise it returns the
// existing canonical path and false. Writers call this before writing a
// file so two concurrent downloads of identical content cannot both land
// on disk.
func (i *Index) Reserve(hash, path string) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if existing, ok := i.paths[hash]; ok {
		return existing, existing == path
	}
	i.paths[hash] = path
	return path, true
}

// Release drops the claim for hash if path holds it, used when a reserved
// write fails before the file lands.
func (i *Index) Release(hash, path string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if existing, ok := i.paths[hash]; ok && existing == path {
		delete(i.paths, hash)
	}
}

// Len returns the number of distinct hashes indexed.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.paths)
}

// IsSetupFile reports whether path looks like an iRacing setup export.
func IsSetupFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".sto")
}
