package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"setupsync/internal/config"
	"setupsync/internal/dedup"
	"setupsync/internal/downloader"
	"setupsync/internal/hashcache"
	"setupsync/internal/ledger"
	"setupsync/internal/tracks"
)

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// newProgressBar builds a terminal progress bar for total items, or nil
// when stdout is not a terminal.
func newProgressBar(total int, description string) *progressbar.ProgressBar {
	if !stdoutIsTerminal() || total <= 0 {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer: "=", SaucerHead: ">", SaucerPadding: " ", BarStart: "[", BarEnd: "]",
		}),
	)
}

// loadMatcher builds the track matcher from config. A missing catalog is
// reported but not fatal; unmatched tracks fall back to flat layout.
func loadMatcher(cfg *config.Config, logger *slog.Logger) *tracks.Matcher {
	matcher := tracks.NewMatcher(cfg.Paths.TracksDataPath, logger)
	if err := matcher.Load(); err != nil {
		logger.Warn("could not load track catalog; track folder organization disabled",
			slog.Any("error", err))
	}
	return matcher
}

// loadLedger opens and loads the idempotency ledger.
func loadLedger(cfg *config.Config, logger *slog.Logger) (*ledger.Ledger, error) {
	lgr := ledger.New(cfg.Paths.LedgerPath, logger)
	if err := lgr.Load(); err != nil {
		return nil, err
	}
	return lgr, nil
}

// loadDedupStack opens the persistent hash cache and wraps it in a
// duplicate index.
func loadDedupStack(cfg *config.Config, logger *slog.Logger) (*dedup.Index, *hashcache.Cache, error) {
	cache, err := hashcache.New(cfg.Paths.HashCachePath, logger)
	if err != nil {
		return nil, nil, err
	}
	return dedup.NewIndex(cache, logger), cache, nil
}

// downloadSettings converts config values to downloader settings.
func downloadSettings(cfg *config.Config) downloader.Settings {
	return downloader.Settings{
		MaxConcurrent: cfg.Download.MaxConcurrent,
		MinDelay:      time.Duration(cfg.Download.MinDelay * float64(time.Second)),
		MaxDelay:      time.Duration(cfg.Download.MaxDelay * float64(time.Second)),
		MaxRetries:    cfg.Download.MaxRetries,
	}
}
