package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"setupsync/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp paths per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.SetupsDir = filepath.Join(base, "setups")
	cfgVal.Paths.LedgerPath = filepath.Join(base, "state", "ledger.json")
	cfgVal.Paths.HashCachePath = filepath.Join(base, "state", "hashes.json")
	cfgVal.Paths.HistoryDBPath = filepath.Join(base, "state", "history.db")
	cfgVal.Paths.LockPath = filepath.Join(base, "state", "setupsync.lock")
	cfgVal.Download.MinDelay = 0
	cfgVal.Download.MaxDelay = 0

	if err := os.MkdirAll(cfgVal.Paths.SetupsDir, 0o755); err != nil {
		t.Fatalf("mkdir setups dir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(base, "state"), 0o755); err != nil {
		t.Fatalf("mkdir state dir: %v", err)
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithGoFastToken sets the GoFast API token on the test config.
func WithGoFastToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.GoFast.Token = token
	}
}

// WithCDACredentials sets the Coach Dave Academy session cookie and CSRF
// token on the test config.
func WithCDACredentials(sessionID, csrfToken string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.CDA.SessionID = sessionID
		b.cfg.CDA.CSRFToken = csrfToken
	}
}

// WithTrackTitanCredentials sets the Track Titan access token and user
// id on the test config.
func WithTrackTitanCredentials(accessToken, userID string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.TrackTitan.AccessToken = accessToken
		b.cfg.TrackTitan.UserID = userID
	}
}

// WithMaxConcurrent overrides the download concurrency on the test config.
func WithMaxConcurrent(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Download.MaxConcurrent = n
	}
}

// WithTracksData points the test config at a custom track catalog file.
func WithTracksData(path string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.TracksDataPath = path
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.SetupsDir)
}
