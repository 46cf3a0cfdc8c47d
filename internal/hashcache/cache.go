package hashcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"setupsync/internal/logging"
	"setupsync/internal/services"
)

// Version identifies the on-disk cache format. Files written by a newer
// release are discarded rather than misread.
const Version = 1

const chunkSize = 64 * 1024

// Entry records the content hash of a file together with the stat fields
// that validate it. A cached hash is trusted only while both mtime and
// size still match the file on disk.
type Entry struct {
	Hash    string `json:"hash"`
	MtimeNS int64  `json:"mtime_ns"`
	Size    int64  `json:"size"`
}

// The cache file is a flat JSON object: a "version" key next to one key
// per absolute path. Paths always start with a separator, so they can
// never collide with the version key.
const versionKey = "version"

// Cache memoizes SHA-256 file hashes keyed by absolute path. All methods
// are safe for concurrent use. Changes accumulate in memory until Save.
type Cache struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]Entry
	dirty   bool
}

// New creates a cache backed by the file at path. A missing file yields an
// empty cache; a file that is present but unparseable is an error, since
// silently starting cold would force a full re-hash of the tree.
func New(path string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "hashcache")

	c := &Cache{
		path:    path,
		logger:  logger,
		entries: make(map[string]Entry),
	}

	if path == "" {
		return c, nil
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Hash returns the SHA-256 hex digest of the file at path, reusing the
// cached value when the file's mtime and size are unchanged.
func (c *Cache) Hash(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", services.Wrap(services.ErrNotFound, "hashcache", "hash", path, err)
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("hash %s: is a directory", path)
	}

	mtimeNS := info.ModTime().UnixNano()
	size := info.Size()

	c.mu.Lock()
	if entry, ok := c.entries[path]; ok && entry.MtimeNS == mtimeNS && entry.Size == size {
		c.mu.Unlock()
		return entry.Hash, nil
	}
	c.mu.Unlock()

	digest, err := hashFile(path)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[path] = Entry{Hash: digest, MtimeNS: mtimeNS, Size: size}
	c.dirty = true
	c.mu.Unlock()

	return digest, nil
}

// HashBytes returns the SHA-256 hex digest of an in-memory buffer. Used to
// check payload content before anything is written to disk.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ScanDirectory recursively hashes every file under dir whose name matches
// pattern (a filepath.Match pattern against the base name; empty matches
// everything), grouping paths by hash. Unreadable files are logged and
// skipped.
func (c *Cache) ScanDirectory(dir, pattern string) (map[string][]string, error) {
	groups := make(map[string][]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			c.logger.Warn("skipping unreadable entry", logging.String("path", path), logging.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if pattern != "" {
			matched, err := filepath.Match(pattern, d.Name())
			if err != nil {
				return fmt.Errorf("match pattern %q: %w", pattern, err)
			}
			if !matched {
				return nil
			}
		}
		hash, err := c.Hash(path)
		if err != nil {
			c.logger.Warn("skipping unhashable file", logging.String("path", path), logging.Error(err))
			return nil
		}
		groups[hash] = append(groups[hash], path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// Invalidate drops the cached entry for path, typically after the file was
// moved or deleted.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[path]; ok {
		delete(c.entries, path)
		c.dirty = true
	}
}

// CleanupStale drops entries whose files no longer exist on disk,
// returning the number removed.
func (c *Cache) CleanupStale() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for path := range c.entries {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			delete(c.entries, path)
			removed++
		}
	}
	if removed > 0 {
		c.dirty = true
		c.logger.Debug("removed stale hash cache entries", logging.Int("removed", removed))
	}
	return removed
}

// Clear drops every cached entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) > 0 {
		c.entries = make(map[string]Entry)
		c.dirty = true
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Save persists the cache if anything changed since load. Saving an
// unchanged cache is a no-op so read-only runs never touch the file.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty || c.path == "" {
		return nil
	}

	payload := make(map[string]any, len(c.entries)+1)
	payload[versionKey] = Version
	for path, entry := range c.entries {
		payload[path] = entry
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal hash cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	c.dirty = false
	c.logger.Debug("saved hash cache",
		logging.Int("entry_count", len(c.entries)),
		logging.String("path", c.path))
	return nil
}

func (c *Cache) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read cache file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return services.Wrap(services.ErrCorruptState, "hashcache", "load", c.path, err)
	}

	fileVersion := 0
	if raw, ok := payload[versionKey]; ok {
		if err := json.Unmarshal(raw, &fileVersion); err != nil {
			return services.Wrap(services.ErrCorruptState, "hashcache", "load", c.path, err)
		}
		delete(payload, versionKey)
	}
	if fileVersion > Version {
		c.logger.Warn("hash cache written by newer version; starting empty",
			logging.Int("file_version", fileVersion),
			logging.Int("supported_version", Version))
		return nil
	}

	c.entries = make(map[string]Entry, len(payload))
	for path, raw := range payload {
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			c.logger.Warn("dropping malformed hash cache entry", logging.String("path", path))
			continue
		}
		if strings.TrimSpace(path) == "" || entry.Hash == "" || entry.Size < 0 {
			c.logger.Warn("dropping malformed hash cache entry", logging.String("path", path))
			continue
		}
		c.entries[path] = entry
	}

	c.logger.Debug("loaded hash cache",
		logging.Int("entry_count", len(c.entries)),
		logging.String("path", c.path))
	return nil
}

func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(hasher, file, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
