package preflight

import (
	"context"
	"os"

	"setupsync/internal/config"
	"setupsync/internal/provider/cda"
	"setupsync/internal/provider/gofast"
	"setupsync/internal/provider/tracktitan"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Provider checks only run when the corresponding credentials are set.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Setups directory", cfg.Paths.SetupsDir))
	results = append(results, CheckStateFile("Ledger", cfg.Paths.LedgerPath))
	results = append(results, CheckStateFile("Hash cache", cfg.Paths.HashCachePath))
	results = append(results, CheckStateFile("History database", cfg.Paths.HistoryDBPath))

	if cfg.Paths.TracksDataPath != "" {
		results = append(results, checkTracksData(cfg.Paths.TracksDataPath))
	}

	if cfg.GoFast.Token != "" {
		results = append(results, CheckEndpointAuth(ctx, "GoFast", gofast.DefaultEndpoint, map[string]string{
			"Authorization": cfg.GoFast.Token,
		}))
	}
	if cfg.CDA.SessionID != "" {
		results = append(results, CheckEndpointAuth(ctx, "Coach Dave Academy", cda.DefaultCatalogEndpoint, map[string]string{
			"Cookie":            "PHPSESSID=" + cfg.CDA.SessionID,
			"x-elle-csrf-token": cfg.CDA.CSRFToken,
		}))
	}
	if cfg.TrackTitan.AccessToken != "" {
		results = append(results, CheckEndpointAuth(ctx, "Track Titan", tracktitan.DefaultEndpoint+"?page=1&limit=1", map[string]string{
			"Authorization": cfg.TrackTitan.AccessToken,
			"x-consumer-id": "trackTitan",
			"x-user-device": "desktop",
			"x-user-id":     cfg.TrackTitan.UserID,
		}))
	}

	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, result := range results {
		if !result.Passed {
			return false
		}
	}
	return true
}

func checkTracksData(path string) Result {
	const name = "Track catalog"
	info, err := os.Stat(path)
	if err != nil {
		return Result{Name: name, Detail: path + " (error: not readable)"}
	}
	if info.IsDir() {
		return Result{Name: name, Detail: path + " (error: is a directory)"}
	}
	return Result{Name: name, Passed: true, Detail: path}
}
