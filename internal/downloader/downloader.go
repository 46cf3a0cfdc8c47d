package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"setupsync/internal/ledger"
	"setupsync/internal/logging"
	"setupsync/internal/provider"
	"setupsync/internal/services"
)

// Settings bounds a run's concurrency, pacing, and retry behavior.
type Settings struct {
	MaxConcurrent int
	// MinDelay and MaxDelay bound the uniform random pause taken before
	// every fetch attempt, independent of retry backoff, to avoid
	// bursting the upstream service.
	MinDelay time.Duration
	MaxDelay time.Duration
	// MaxRetries counts additional attempts after the first failure.
	MaxRetries int
}

// Options modify a single run.
type Options struct {
	// DryRun reports what would be downloaded without any I/O or ledger
	// mutation.
	DryRun bool
	// Limit, when positive, truncates the pending list to its first
	// Limit items so a first-time sync can be bounded.
	Limit int
	// OnItemDone, when non-nil, is invoked after each item completes,
	// successfully or not. Used to drive progress display.
	OnItemDone func(itemID string, success bool)
}

// Downloader drives bounded-concurrency materialization of a provider's
// items, recording successes in the ledger.
type Downloader struct {
	source   provider.Provider
	ledger   *ledger.Ledger
	settings Settings
	logger   *slog.Logger
}

// New creates a downloader for one provider.
func New(source provider.Provider, lgr *ledger.Ledger, settings Settings, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = logging.NewNop()
	}
	if settings.MaxConcurrent <= 0 {
		settings.MaxConcurrent = 1
	}
	if settings.MaxDelay < settings.MinDelay {
		settings.MaxDelay = settings.MinDelay
	}
	return &Downloader{
		source:   source,
		ledger:   lgr,
		settings: settings,
		logger:   logging.NewComponentLogger(logger, "downloader"),
	}
}

// Run filters items against the ledger and materializes the remainder
// under bounded concurrency. The returned outcome is always usable, even
// when err reports cancellation or an authentication failure that
// aborted the run early. Calling Run before the ledger is loaded is a
// caller-ordering bug.
func (d *Downloader) Run(ctx context.Context, items []provider.Item, targetDir string, opts Options) (*Outcome, error) {
	if !d.ledger.Loaded() {
		return nil, services.Wrap(services.ErrNotReady, "downloader", "run", "ledger not loaded", nil)
	}

	runID := uuid.NewString()
	ctx = services.WithRunID(ctx, runID)
	logger := d.logger.With(logging.String(logging.FieldRunID, runID))

	outcome := &Outcome{RunID: runID, Total: len(items)}

	source := d.source.Name()
	pending := make([]provider.Item, 0, len(items))
	for _, item := range items {
		if d.ledger.IsCurrent(source, item.ID, item.UpdateTime) {
			outcome.Skipped++
			continue
		}
		pending = append(pending, item)
	}
	if opts.Limit > 0 && len(pending) > opts.Limit {
		pending = pending[:opts.Limit]
	}

	if opts.DryRun {
		outcome.WouldDownload = len(pending)
		logger.Info("dry run",
			logging.Int("total", outcome.Total),
			logging.Int("skipped", outcome.Skipped),
			logging.Int("would_download", outcome.WouldDownload))
		return outcome, nil
	}

	logger.Info("starting run",
		logging.String(logging.FieldProvider, source),
		logging.Int("total", outcome.Total),
		logging.Int("skipped", outcome.Skipped),
		logging.Int("pending", len(pending)),
		logging.Int("max_concurrent", d.settings.MaxConcurrent))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg        sync.WaitGroup
		fatalOnce sync.Once
		fatalErr  error
	)
	abort := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			cancel()
		})
	}

	semaphore := make(chan struct{}, d.settings.MaxConcurrent)
	for _, item := range pending {
		// Stop admitting new items once cancelled; in-flight attempts
		// observe cancellation at their next suspension point.
		select {
		case <-runCtx.Done():
		case semaphore <- struct{}{}:
			wg.Add(1)
			go func(item provider.Item) {
				defer wg.Done()
				defer func() { <-semaphore }()
				success := d.fetchOne(runCtx, logger, item, targetDir, outcome, abort)
				if opts.OnItemDone != nil {
					opts.OnItemDone(item.ID, success)
				}
			}(item)
		}
		if runCtx.Err() != nil {
			break
		}
	}
	wg.Wait()

	if fatalErr != nil {
		return outcome, fatalErr
	}
	if err := ctx.Err(); err != nil {
		logger.Warn("run cancelled",
			logging.Int("downloaded", outcome.Downloaded),
			logging.Int("failed", outcome.Failed))
		return outcome, err
	}

	logger.Info("run complete",
		logging.Int("downloaded", outcome.Downloaded),
		logging.Int("failed", outcome.Failed),
		logging.Int("duplicates_skipped", outcome.DuplicatesSkipped),
		logging.String("bytes_saved", fmt.Sprintf("%d", outcome.BytesSaved)))
	return outcome, nil
}

// fetchOne materializes a single item with pacing and retries. The
// ledger is only touched on confirmed success, so a failed or cancelled
// item stays eligible on the next run.
func (d *Downloader) fetchOne(ctx context.Context, logger *slog.Logger, item provider.Item, targetDir string, outcome *Outcome, abort func(error)) bool {
	ctx = services.WithProvider(ctx, d.source.Name())
	itemLogger := logger.With(logging.String(logging.FieldSetupID, item.ID))

	attempts := 1 + d.settings.MaxRetries
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := d.pace(ctx); err != nil {
			return false
		}

		result, err := d.source.Materialize(ctx, item, targetDir)
		if err == nil {
			err = verifyFiles(result.FilePaths)
		}
		if err == nil {
			if recordErr := d.ledger.Record(d.source.Name(), item.ID, item.UpdateTime, result.LedgerPaths()); recordErr != nil {
				abort(recordErr)
				return false
			}
			outcome.noteSuccess(result)
			itemLogger.Info("downloaded",
				logging.Int("files", len(result.FilePaths)),
				logging.Int("duplicates", len(result.Duplicates)))
			return true
		}

		lastErr = err
		if ctx.Err() != nil {
			// Cancelled mid-item; not a permanent failure, so the
			// outcome records nothing and the ledger stays untouched.
			return false
		}
		if errors.Is(err, services.ErrAuthentication) {
			abort(err)
			return false
		}
		if !services.Retriable(err) {
			break
		}
		if attempt < attempts {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			itemLogger.Warn("attempt failed; backing off",
				logging.Int("attempt", attempt),
				logging.Duration("backoff", backoff),
				logging.Error(err))
			if sleepErr := sleepContext(ctx, backoff); sleepErr != nil {
				return false
			}
		}
	}

	outcome.noteFailure(item.ID, lastErr)
	itemLogger.Error("giving up on item", logging.Error(lastErr))
	return false
}

// pace sleeps a uniformly random duration within the configured delay
// bounds, honoring cancellation.
func (d *Downloader) pace(ctx context.Context) error {
	span := d.settings.MaxDelay - d.settings.MinDelay
	delay := d.settings.MinDelay
	if span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}
	if delay <= 0 {
		return ctx.Err()
	}
	return sleepContext(ctx, delay)
}

func verifyFiles(paths []string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			return services.Wrap(services.ErrTransient, "downloader", "verify",
				fmt.Sprintf("claimed output missing: %s", path), err)
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
