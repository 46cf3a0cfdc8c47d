package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"setupsync/internal/logging"
	"setupsync/internal/services"
)

// Record describes one successfully materialized setup. A record is only
// written after its files are durably on disk; a record with zero paths
// is unusable and treated as absent.
type Record struct {
	UpdatedDate string   `json:"updated_date"`
	FilePaths   []string `json:"file_paths"`
}

// Ledger is the idempotency record of which (provider, setup id) pairs
// have already been downloaded. It is loaded once at process start,
// mutated in memory as downloads succeed, and persisted explicitly.
// Mutations are serialized internally so concurrent workers may record
// completions directly.
type Ledger struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	loaded  bool
	records map[string]map[string]Record // provider -> setup id -> record
}

// New creates a ledger backed by the file at path. Call Load before
// recording anything.
func New(path string, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Ledger{
		path:    path,
		logger:  logging.NewComponentLogger(logger, "ledger"),
		records: make(map[string]map[string]Record),
	}
}

// Load reads the ledger file. A missing file is an empty ledger. A file
// that exists but is not valid JSON is fatal, since silently starting
// empty would re-download the entire catalog. Individual records that
// fail structural validation are dropped with a warning instead.
func (l *Ledger) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.loaded = true
			return nil
		}
		return fmt.Errorf("read ledger: %w", err)
	}

	var providers map[string]json.RawMessage
	if len(data) > 0 {
		if err := json.Unmarshal(data, &providers); err != nil {
			return services.Wrap(services.ErrCorruptState, "ledger", "load", l.path, err)
		}
	}

	l.records = make(map[string]map[string]Record, len(providers))
	for provider, raw := range providers {
		var items map[string]json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			l.logger.Warn("dropping malformed ledger section",
				logging.String(logging.FieldProvider, provider),
				logging.Error(err))
			continue
		}
		for id, rawRecord := range items {
			var record Record
			if err := json.Unmarshal(rawRecord, &record); err != nil {
				l.logger.Warn("dropping malformed ledger record",
					logging.String(logging.FieldProvider, provider),
					logging.String("setup_id", id),
					logging.Error(err))
				continue
			}
			if strings.TrimSpace(record.UpdatedDate) == "" {
				l.logger.Warn("dropping ledger record without update time",
					logging.String(logging.FieldProvider, provider),
					logging.String("setup_id", id))
				continue
			}
			if l.records[provider] == nil {
				l.records[provider] = make(map[string]Record)
			}
			l.records[provider][id] = record
		}
	}

	l.loaded = true
	l.logger.Debug("loaded ledger",
		logging.Int("providers", len(l.records)),
		logging.String("path", l.path))
	return nil
}

// Loaded reports whether Load has completed.
func (l *Ledger) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// IsCurrent reports whether the (provider, id) pair is already done. It is
// false when the pair is absent, when the stored update time differs from
// updateTime (the source changed the content), or when none of the
// recorded files still exist on disk. That last check makes the ledger
// self-healing: deleting the files invites a re-download.
func (l *Ledger) IsCurrent(provider, id, updateTime string) bool {
	l.mu.Lock()
	record, ok := l.records[provider][id]
	l.mu.Unlock()

	if !ok {
		return false
	}
	if record.UpdatedDate != updateTime {
		return false
	}
	if len(record.FilePaths) == 0 {
		return false
	}
	for _, path := range record.FilePaths {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}

// Record overwrites the record for (provider, id). Paths are stored in
// absolute form. Calling Record before Load is a caller-ordering bug.
func (l *Ledger) Record(provider, id, updateTime string, filePaths []string) error {
	if strings.TrimSpace(provider) == "" || strings.TrimSpace(id) == "" {
		return services.Wrap(services.ErrValidation, "ledger", "record", "provider and id are required", nil)
	}

	absPaths := make([]string, 0, len(filePaths))
	for _, path := range filePaths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve path %q: %w", path, err)
		}
		absPaths = append(absPaths, abs)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded {
		return services.Wrap(services.ErrNotReady, "ledger", "record", "ledger not loaded", nil)
	}

	if l.records[provider] == nil {
		l.records[provider] = make(map[string]Record)
	}
	l.records[provider][id] = Record{UpdatedDate: updateTime, FilePaths: absPaths}
	return nil
}

// Forget removes the record for (provider, id) if present, reporting
// whether anything was removed.
func (l *Ledger) Forget(provider, id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	items, ok := l.records[provider]
	if !ok {
		return false
	}
	if _, ok := items[id]; !ok {
		return false
	}
	delete(items, id)
	if len(items) == 0 {
		delete(l.records, provider)
	}
	return true
}

// Save writes the ledger back to disk as indented JSON with sorted keys,
// creating parent directories as needed. Saving before Load is a no-op so
// error paths that never loaded cannot clobber the file.
func (l *Ledger) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded || l.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(l.records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	tmpPath := l.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	l.logger.Debug("saved ledger", logging.String("path", l.path))
	return nil
}

// Stats returns the number of recorded setups per provider, omitting
// providers with zero records.
func (l *Ledger) Stats() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := make(map[string]int, len(l.records))
	for provider, items := range l.records {
		if len(items) > 0 {
			stats[provider] = len(items)
		}
	}
	return stats
}

// Entry pairs a setup id with its record for listing.
type Entry struct {
	Provider string
	SetupID  string
	Record   Record
}

// Entries returns all records, optionally filtered to one provider,
// sorted by provider then setup id.
func (l *Ledger) Entries(provider string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var entries []Entry
	for name, items := range l.records {
		if provider != "" && name != provider {
			continue
		}
		for id, record := range items {
			entries = append(entries, Entry{Provider: name, SetupID: id, Record: record})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Provider != entries[j].Provider {
			return entries[i].Provider < entries[j].Provider
		}
		return entries[i].SetupID < entries[j].SetupID
	})
	return entries
}
