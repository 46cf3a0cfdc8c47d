package config

import (
	"os"
	"strings"
)

// normalize expands all path fields, clamps numeric settings into their
// supported ranges, and fills provider credentials from the environment
// when the file left them empty.
func (c *Config) normalize() error {
	pathFields := []*string{
		&c.Paths.SetupsDir,
		&c.Paths.LedgerPath,
		&c.Paths.HashCachePath,
		&c.Paths.HistoryDBPath,
		&c.Paths.TracksDataPath,
		&c.Paths.LockPath,
		&c.Logging.File,
	}
	for _, field := range pathFields {
		trimmed := strings.TrimSpace(*field)
		if trimmed == "" {
			*field = ""
			continue
		}
		expanded, err := expandPath(trimmed)
		if err != nil {
			return err
		}
		*field = expanded
	}

	if c.Download.MaxConcurrent <= 0 {
		c.Download.MaxConcurrent = defaultMaxConcurrent
	}
	if c.Download.MaxConcurrent > MaxConcurrentCeiling {
		c.Download.MaxConcurrent = MaxConcurrentCeiling
	}
	if c.Download.MinDelay < 0 {
		c.Download.MinDelay = 0
	}
	if c.Download.MaxDelay < c.Download.MinDelay {
		c.Download.MaxDelay = c.Download.MinDelay
	}
	if c.Download.TimeoutSeconds <= 0 {
		c.Download.TimeoutSeconds = defaultTimeoutSeconds
	}
	if c.Download.MaxRetries < 0 {
		c.Download.MaxRetries = 0
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}

	c.GoFast.Token = strings.TrimSpace(c.GoFast.Token)
	if c.GoFast.Token == "" {
		c.GoFast.Token = strings.TrimSpace(os.Getenv("GOFAST_TOKEN"))
	}
	// The GoFast API wants the full header value; accept tokens pasted
	// with or without the scheme.
	if c.GoFast.Token != "" && !strings.HasPrefix(c.GoFast.Token, "Bearer ") {
		c.GoFast.Token = "Bearer " + c.GoFast.Token
	}
	c.CDA.SessionID = strings.TrimSpace(c.CDA.SessionID)
	if c.CDA.SessionID == "" {
		c.CDA.SessionID = strings.TrimSpace(os.Getenv("CDA_SESSION_ID"))
	}
	c.CDA.CSRFToken = strings.TrimSpace(c.CDA.CSRFToken)
	if c.CDA.CSRFToken == "" {
		c.CDA.CSRFToken = strings.TrimSpace(os.Getenv("CDA_CSRF_TOKEN"))
	}
	c.TrackTitan.AccessToken = strings.TrimSpace(c.TrackTitan.AccessToken)
	if c.TrackTitan.AccessToken == "" {
		c.TrackTitan.AccessToken = strings.TrimSpace(os.Getenv("TT_ACCESS_TOKEN"))
	}
	c.TrackTitan.UserID = strings.TrimSpace(c.TrackTitan.UserID)
	if c.TrackTitan.UserID == "" {
		c.TrackTitan.UserID = strings.TrimSpace(os.Getenv("TT_USER_ID"))
	}

	return nil
}
