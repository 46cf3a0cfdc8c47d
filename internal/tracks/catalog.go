package tracks

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"setupsync/internal/logging"
	"setupsync/internal/services"
)

// Bundled catalog used when no tracks data file is configured or present.
//
//go:embed tracks.json
var bundledCatalog []byte

// Track is one physical configuration of an iRacing track. Several
// entries may share a display name and differ only by configuration.
type Track struct {
	ID       int64  `json:"track_id"`
	Name     string `json:"track_name"`
	DirPath  string `json:"track_dirpath"`
	Config   string `json:"config_name"`
	Category string `json:"category"`
	Retired  bool   `json:"retired"`
	IsOval   bool   `json:"is_oval"`
	IsDirt   bool   `json:"is_dirt"`
}

// MatchResult reports where a provider's track label resolved to. An
// empty DirPath means no match; Confidence is in [0,1].
type MatchResult struct {
	DirPath       string
	Confidence    float64
	Ambiguous     bool
	MatchedName   string
	MatchedConfig string
}

// Matcher resolves free-text track labels from providers to iRacing
// directory paths. Load once, then Match from any goroutine; the indices
// are immutable after loading.
type Matcher struct {
	dataPath string
	logger   *slog.Logger

	mu        sync.Mutex
	loaded    bool
	tracks    []*Track
	nameIndex map[string][]*Track
	indexKeys []string // sorted, for deterministic substring scans
}

// NewMatcher creates a matcher reading from dataPath, or the bundled
// catalog when dataPath is empty or missing.
func NewMatcher(dataPath string, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Matcher{
		dataPath: dataPath,
		logger:   logging.NewComponentLogger(logger, "tracks"),
	}
}

// Load parses and indexes the track catalog. Safe to call more than
// once; subsequent calls are no-ops.
func (m *Matcher) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded {
		return nil
	}

	data, source, err := m.readCatalog()
	if err != nil {
		return err
	}

	entries, err := decodeCatalog(data)
	if err != nil {
		return services.Wrap(services.ErrCorruptState, "tracks", "load", source, err)
	}

	m.tracks = m.tracks[:0]
	for _, raw := range entries {
		var track Track
		if err := json.Unmarshal(raw, &track); err != nil {
			m.logger.Warn("skipping malformed track entry", logging.Error(err))
			continue
		}
		if strings.TrimSpace(track.Name) == "" || strings.TrimSpace(track.DirPath) == "" {
			continue
		}
		track.DirPath = strings.ReplaceAll(track.DirPath, "\\", "/")
		t := track
		m.tracks = append(m.tracks, &t)
	}

	m.buildIndex()
	m.loaded = true
	m.logger.Info("loaded track catalog",
		logging.Int("configurations", len(m.tracks)),
		logging.String("source", source))
	return nil
}

// Tracks returns the loaded catalog entries.
func (m *Matcher) Tracks() []*Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracks
}

func (m *Matcher) readCatalog() ([]byte, string, error) {
	if m.dataPath != "" {
		data, err := os.ReadFile(m.dataPath)
		if err == nil {
			return data, m.dataPath, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("read tracks data: %w", err)
		}
		m.logger.Debug("tracks data file absent; using bundled catalog",
			logging.String("path", m.dataPath))
	}
	return bundledCatalog, "bundled", nil
}

// decodeCatalog accepts both a bare JSON array and the wrapped
// {"data": [...]} export format.
func decodeCatalog(data []byte) ([]json.RawMessage, error) {
	var wrapped struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Data != nil {
		return wrapped.Data, nil
	}

	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("unexpected tracks data format: %w", err)
	}
	return list, nil
}

// buildIndex maps normalized names to their configurations. Each track is
// indexed under its base display name, its full display name, and the
// first segment of its directory path, which catches the short names
// providers commonly use.
func (m *Matcher) buildIndex() {
	m.nameIndex = make(map[string][]*Track)

	add := func(key string, track *Track) {
		if key == "" {
			return
		}
		for _, existing := range m.nameIndex[key] {
			if existing == track {
				return
			}
		}
		m.nameIndex[key] = append(m.nameIndex[key], track)
	}

	for _, track := range m.tracks {
		base := normalizeName(extractBaseName(track.Name))
		add(base, track)

		full := normalizeName(track.Name)
		if full != base {
			add(full, track)
		}

		if segments := strings.Split(track.DirPath, "/"); len(segments) > 0 {
			add(strings.ToLower(segments[0]), track)
		}
	}

	m.indexKeys = make([]string, 0, len(m.nameIndex))
	for key := range m.nameIndex {
		m.indexKeys = append(m.indexKeys, key)
	}
	sort.Strings(m.indexKeys)
}
