package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"setupsync/internal/config"
	"setupsync/internal/downloader"
	"setupsync/internal/history"
	"setupsync/internal/provider"
	"setupsync/internal/provider/cda"
	"setupsync/internal/provider/gofast"
	"setupsync/internal/provider/tracktitan"
	"setupsync/internal/services"
)

const providerArgHelp = "provider must be one of: gofast, cda, tracktitan"

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var (
		dryRun        bool
		limit         int
		maxConcurrent int
	)

	cmd := &cobra.Command{
		Use:   "download <gofast|cda|tracktitan>",
		Short: "Download new setups from a provider",
		Long: `Download fetches the provider's catalog, skips setups already
recorded in the ledger, and downloads the rest into the setups directory.
Identical files already on disk are detected by content hash and not
written twice.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLock(func() error {
				return runDownload(ctx, args[0], dryRun, limit, maxConcurrent)
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be downloaded without downloading")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Maximum number of new setups to download")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "Override configured parallel download count")
	return cmd
}

func runDownload(cmdCtx *commandContext, providerName string, dryRun bool, limit, maxConcurrent int) error {
	cfg, err := cmdCtx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := cmdCtx.ensureLogger()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	matcher := loadMatcher(cfg, logger)

	var writer *provider.Writer
	index, cache, err := loadDedupStack(cfg, logger)
	if err != nil {
		return err
	}
	if !dryRun {
		if _, err := index.BuildIndex(cfg.Paths.SetupsDir); err != nil {
			return fmt.Errorf("build duplicate index: %w", err)
		}
		writer = provider.NewWriter(index, logger)
	}

	source, err := newProvider(providerName, cfg, matcher, writer, logger)
	if err != nil {
		return err
	}
	defer source.Close()

	lgr, err := loadLedger(cfg, logger)
	if err != nil {
		return err
	}

	items, err := source.FetchItems(ctx)
	if err != nil {
		return describeProviderError(providerName, err)
	}

	settings := downloadSettings(cfg)
	if maxConcurrent > 0 {
		settings.MaxConcurrent = maxConcurrent
	}

	opts := downloader.Options{DryRun: dryRun, Limit: limit}
	bar := newProgressBar(len(items), "Downloading")
	if bar != nil && !dryRun {
		opts.OnItemDone = func(string, bool) { _ = bar.Add(1) }
	}

	startedAt := time.Now().UTC()
	dl := downloader.New(source, lgr, settings, logger)
	outcome, runErr := dl.Run(ctx, items, cfg.Paths.SetupsDir, opts)
	if bar != nil {
		_ = bar.Finish()
	}

	if !dryRun && outcome != nil {
		if err := lgr.Save(); err != nil {
			return fmt.Errorf("save ledger: %w", err)
		}
		if err := cache.Save(); err != nil {
			logger.Warn("could not save hash cache", slog.Any("error", err))
		}
		recordHistory(cfg, logger, source.Name(), startedAt, outcome, runErr, dryRun)
	}

	if outcome != nil {
		printOutcome(outcome, dryRun)
	}
	if runErr != nil {
		return describeProviderError(providerName, runErr)
	}
	return nil
}

func newProvider(name string, cfg *config.Config, matcher provider.TrackMatcher, writer *provider.Writer, logger *slog.Logger) (provider.Provider, error) {
	timeout := time.Duration(cfg.Download.TimeoutSeconds) * time.Second
	switch name {
	case "gofast":
		if cfg.GoFast.Token == "" {
			return nil, errors.New("GoFast token is required: set gofast.token in config or the GOFAST_TOKEN environment variable")
		}
		return gofast.New(gofast.Options{
			Token:   cfg.GoFast.Token,
			Timeout: timeout,
			Matcher: matcher,
			Writer:  writer,
			Logger:  logger,
		}), nil
	case "cda":
		if cfg.CDA.SessionID == "" || cfg.CDA.CSRFToken == "" {
			return nil, errors.New("CDA credentials are required: set cda.session_id and cda.csrf_token in config or the CDA_SESSION_ID / CDA_CSRF_TOKEN environment variables")
		}
		return cda.New(cda.Options{
			SessionID: cfg.CDA.SessionID,
			CSRFToken: cfg.CDA.CSRFToken,
			Timeout:   timeout,
			Matcher:   matcher,
			Writer:    writer,
			Logger:    logger,
		}), nil
	case "tracktitan":
		if cfg.TrackTitan.AccessToken == "" || cfg.TrackTitan.UserID == "" {
			return nil, errors.New("Track Titan credentials are required: set tracktitan.access_token and tracktitan.user_id in config or the TT_ACCESS_TOKEN / TT_USER_ID environment variables")
		}
		return tracktitan.New(tracktitan.Options{
			AccessToken: cfg.TrackTitan.AccessToken,
			UserID:      cfg.TrackTitan.UserID,
			Timeout:     timeout,
			Matcher:     matcher,
			Writer:      writer,
			Logger:      logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q: %s", name, providerArgHelp)
	}
}

func describeProviderError(providerName string, err error) error {
	switch {
	case errors.Is(err, services.ErrAuthentication):
		return fmt.Errorf("%w\nhint: check that your %s credentials are valid; they can be refreshed from browser developer tools while logged in", err, providerName)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return err
	}
}

func printOutcome(outcome *downloader.Outcome, dryRun bool) {
	rows := [][]string{
		{"Total available", fmt.Sprintf("%d", outcome.Total)},
	}
	if dryRun {
		rows = append(rows, []string{"Would download", fmt.Sprintf("%d", outcome.WouldDownload)})
	} else {
		rows = append(rows, []string{"Downloaded", fmt.Sprintf("%d", outcome.Downloaded)})
	}
	rows = append(rows, []string{"Skipped", fmt.Sprintf("%d", outcome.Skipped)})
	if outcome.Failed > 0 {
		rows = append(rows, []string{"Failed", fmt.Sprintf("%d", outcome.Failed)})
	}
	if outcome.DuplicatesSkipped > 0 {
		rows = append(rows, []string{"Duplicates skipped", fmt.Sprintf("%d", outcome.DuplicatesSkipped)})
		if outcome.BytesSaved > 0 {
			rows = append(rows, []string{"Space saved", formatBytes(outcome.BytesSaved)})
		}
	}
	if outcome.Renamed > 0 {
		rows = append(rows, []string{"Files renamed", fmt.Sprintf("%d", outcome.Renamed)})
	}
	fmt.Println(renderCounts(rows))

	if len(outcome.Errors) > 0 {
		fmt.Println("Errors:")
		for _, itemErr := range outcome.Errors {
			fmt.Printf("  - setup %s: %s\n", itemErr.ItemID, itemErr.Message)
		}
	}
}

func recordHistory(cfg *config.Config, logger *slog.Logger, providerName string, startedAt time.Time, outcome *downloader.Outcome, runErr error, dryRun bool) {
	store, err := history.Open(cfg.Paths.HistoryDBPath)
	if err != nil {
		logger.Warn("could not open history database", slog.Any("error", err))
		return
	}
	defer store.Close()

	status := history.StatusCompleted
	switch {
	case errors.Is(runErr, context.Canceled):
		status = history.StatusCancelled
	case runErr != nil:
		status = history.StatusFailed
	}

	failures := make([]history.ItemFailure, 0, len(outcome.Errors))
	for _, itemErr := range outcome.Errors {
		failures = append(failures, history.ItemFailure{ItemID: itemErr.ItemID, Message: itemErr.Message})
	}

	runID := outcome.RunID
	if runID == "" {
		runID = fmt.Sprintf("%s-%d", providerName, startedAt.UnixNano())
	}

	run := history.Run{
		RunID:             runID,
		Provider:          providerName,
		Status:            status,
		DryRun:            dryRun,
		StartedAt:         startedAt,
		FinishedAt:        time.Now().UTC(),
		Total:             outcome.Total,
		Skipped:           outcome.Skipped,
		Downloaded:        outcome.Downloaded,
		Failed:            outcome.Failed,
		DuplicatesSkipped: outcome.DuplicatesSkipped,
		BytesSaved:        outcome.BytesSaved,
	}
	if err := store.RecordRun(context.Background(), run, failures); err != nil {
		logger.Warn("could not record run history", slog.Any("error", err))
	}
}
