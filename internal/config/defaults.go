package config

const (
	defaultSetupsDir      = "~/iracing-setups"
	defaultLedgerPath     = "~/.local/share/setupsync/ledger.json"
	defaultHashCachePath  = "~/.cache/setupsync/hash_cache.json"
	defaultHistoryDBPath  = "~/.local/share/setupsync/history.db"
	defaultTracksDataPath = "~/.local/share/setupsync/tracks.json"
	defaultLockPath       = "~/.local/share/setupsync/setupsync.lock"

	defaultMaxConcurrent  = 5
	defaultMinDelay       = 0.5
	defaultMaxDelay       = 1.5
	defaultTimeoutSeconds = 30
	defaultMaxRetries     = 3

	defaultLogFormat = "pretty"
	defaultLogLevel  = "info"

	// MaxConcurrentCeiling bounds the worker pool regardless of configuration.
	MaxConcurrentCeiling = 20
)

// Default returns the built-in configuration used when no file is present.
func Default() Config {
	return Config{
		Paths: Paths{
			SetupsDir:      defaultSetupsDir,
			LedgerPath:     defaultLedgerPath,
			HashCachePath:  defaultHashCachePath,
			HistoryDBPath:  defaultHistoryDBPath,
			TracksDataPath: defaultTracksDataPath,
			LockPath:       defaultLockPath,
		},
		Download: Download{
			MaxConcurrent:  defaultMaxConcurrent,
			MinDelay:       defaultMinDelay,
			MaxDelay:       defaultMaxDelay,
			TimeoutSeconds: defaultTimeoutSeconds,
			MaxRetries:     defaultMaxRetries,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
