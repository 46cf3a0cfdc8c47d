package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and data file configuration.
type Paths struct {
	SetupsDir      string `toml:"setups_dir"`
	LedgerPath     string `toml:"ledger_path"`
	HashCachePath  string `toml:"hash_cache_path"`
	HistoryDBPath  string `toml:"history_db_path"`
	TracksDataPath string `toml:"tracks_data_path"`
	LockPath       string `toml:"lock_path"`
}

// Download contains pacing and concurrency settings for download runs.
type Download struct {
	MaxConcurrent  int     `toml:"max_concurrent"`
	MinDelay       float64 `toml:"min_delay"`
	MaxDelay       float64 `toml:"max_delay"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	MaxRetries     int     `toml:"max_retries"`
}

// GoFast contains credentials for the GoFast provider.
type GoFast struct {
	Token string `toml:"token"`
}

// CDA contains credentials for the Coach Dave Academy provider.
type CDA struct {
	SessionID string `toml:"session_id"`
	CSRFToken string `toml:"csrf_token"`
}

// TrackTitan contains credentials for the Track Titan provider.
type TrackTitan struct {
	AccessToken string `toml:"access_token"`
	UserID      string `toml:"user_id"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	File   string `toml:"file"`
}

// Config encapsulates all configuration values for setupsync.
//
// Configuration sections by subsystem:
//   - Paths: target tree and persisted state locations
//   - Download: concurrency, pacing, retry policy
//   - GoFast / CDA / TrackTitan: per-provider credentials
//   - Logging: log format, level, optional file
type Config struct {
	Paths      Paths      `toml:"paths"`
	Download   Download   `toml:"download"`
	GoFast     GoFast     `toml:"gofast"`
	CDA        CDA        `toml:"cda"`
	TrackTitan TrackTitan `toml:"tracktitan"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/setupsync/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. A missing file is not
// an error; defaults (plus environment credentials) apply.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("setupsync.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories that persisted state lives in.
// The setups tree itself is created on a best-effort basis so read-only
// commands keep working when the target volume is offline.
func (c *Config) EnsureDirectories() error {
	for _, path := range []string{c.Paths.LedgerPath, c.Paths.HashCachePath, c.Paths.HistoryDBPath, c.Paths.LockPath} {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", filepath.Dir(path), err)
		}
	}
	if strings.TrimSpace(c.Paths.SetupsDir) != "" {
		_ = os.MkdirAll(c.Paths.SetupsDir, 0o755)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
