package config

import (
	"fmt"
	"strings"
)

// ValidationError describes configuration problems keyed by field name.
type ValidationError struct {
	Problems map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return "configuration invalid"
	}
	parts := make([]string, 0, len(e.Problems))
	for field, problem := range e.Problems {
		parts = append(parts, fmt.Sprintf("%s: %s", field, problem))
	}
	return "configuration invalid: " + strings.Join(parts, "; ")
}

// Validate checks that the configuration is internally consistent. Path
// existence is deliberately not checked here; EnsureDirectories and the
// preflight checks own that.
func (c *Config) Validate() error {
	problems := make(map[string]string)

	if strings.TrimSpace(c.Paths.SetupsDir) == "" {
		problems["paths.setups_dir"] = "must not be empty"
	}
	if strings.TrimSpace(c.Paths.LedgerPath) == "" {
		problems["paths.ledger_path"] = "must not be empty"
	}
	if strings.TrimSpace(c.Paths.HashCachePath) == "" {
		problems["paths.hash_cache_path"] = "must not be empty"
	}

	switch c.Logging.Format {
	case "pretty", "json":
	default:
		problems["logging.format"] = fmt.Sprintf("unsupported format %q (expected pretty or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems["logging.level"] = fmt.Sprintf("unsupported level %q", c.Logging.Level)
	}

	if c.Download.MaxDelay < c.Download.MinDelay {
		problems["download.max_delay"] = "must be at least download.min_delay"
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
