package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"setupsync/internal/ledger"
	"setupsync/internal/provider"
	"setupsync/internal/services"
)

// fakeSource is a scriptable provider.Provider for orchestration tests.
type fakeSource struct {
	mu          sync.Mutex
	calls       map[string]int
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	// fail maps item id to how many leading attempts should fail.
	fail map[string]int
	// failForever marks items that never succeed.
	failForever map[string]error
	// started, when non-nil, receives one signal per materialize call.
	started chan struct{}
	// release, when non-nil, blocks materialize until closed.
	release chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		calls:       make(map[string]int),
		fail:        make(map[string]int),
		failForever: make(map[string]error),
	}
}

func (f *fakeSource) Name() string { return "fake" }
func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) FetchItems(context.Context) ([]provider.Item, error) {
	return nil, nil
}

func (f *fakeSource) Materialize(ctx context.Context, item provider.Item, targetDir string) (*provider.MaterializeResult, error) {
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxInFlight.Load()
		if current <= max || f.maxInFlight.CompareAndSwap(max, current) {
			break
		}
	}

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.calls[item.ID]++
	attempt := f.calls[item.ID]
	f.mu.Unlock()

	if err, ok := f.failForever[item.ID]; ok {
		return nil, err
	}
	if failures := f.fail[item.ID]; attempt <= failures {
		return nil, services.Wrap(services.ErrTransient, "fake", "materialize",
			fmt.Sprintf("scripted failure %d for %s", attempt, item.ID), nil)
	}

	path := filepath.Join(targetDir, "car", item.ID+".sto")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte("setup "+item.ID), 0o644); err != nil {
		return nil, err
	}
	return &provider.MaterializeResult{FilePaths: []string{path}}, nil
}

func (f *fakeSource) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func newTestDownloader(t *testing.T, source provider.Provider, settings Settings) (*Downloader, *ledger.Ledger, string) {
	t.Helper()
	dir := t.TempDir()
	lgr := ledger.New(filepath.Join(dir, "ledger.json"), nil)
	if err := lgr.Load(); err != nil {
		t.Fatal(err)
	}
	return New(source, lgr, settings, nil), lgr, dir
}

func items(ids ...string) []provider.Item {
	out := make([]provider.Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, provider.Item{ID: id, UpdateTime: "t1"})
	}
	return out
}

func TestRunRequiresLoadedLedger(t *testing.T) {
	lgr := ledger.New(filepath.Join(t.TempDir(), "ledger.json"), nil)
	d := New(newFakeSource(), lgr, Settings{MaxConcurrent: 1}, nil)

	_, err := d.Run(context.Background(), items("1"), t.TempDir(), Options{})
	if !errors.Is(err, services.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestRunDownloadsAndRecords(t *testing.T) {
	source := newFakeSource()
	d, lgr, dir := newTestDownloader(t, source, Settings{MaxConcurrent: 2})

	outcome, err := d.Run(context.Background(), items("1", "2"), dir, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Downloaded != 2 || outcome.Failed != 0 || outcome.Skipped != 0 {
		t.Fatalf("outcome = %+v", outcome)
	}
	for _, id := range []string{"1", "2"} {
		if !lgr.IsCurrent("fake", id, "t1") {
			t.Errorf("item %s not recorded", id)
		}
	}
}

func TestIdempotentSecondRunSkips(t *testing.T) {
	source := newFakeSource()
	d, _, dir := newTestDownloader(t, source, Settings{MaxConcurrent: 2})

	if _, err := d.Run(context.Background(), items("1"), dir, Options{}); err != nil {
		t.Fatal(err)
	}
	outcome, err := d.Run(context.Background(), items("1"), dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Skipped != 1 || outcome.Downloaded != 0 {
		t.Fatalf("second run = %+v", outcome)
	}
	if source.callCount("1") != 1 {
		t.Fatalf("expected zero fetches on second run, total calls = %d", source.callCount("1"))
	}
}

func TestStalenessTriggersRefetch(t *testing.T) {
	source := newFakeSource()
	d, _, dir := newTestDownloader(t, source, Settings{MaxConcurrent: 1})

	if _, err := d.Run(context.Background(), items("1"), dir, Options{}); err != nil {
		t.Fatal(err)
	}

	stale := []provider.Item{{ID: "1", UpdateTime: "t2"}}
	outcome, err := d.Run(context.Background(), stale, dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Downloaded != 1 {
		t.Fatalf("changed update time should re-download, outcome = %+v", outcome)
	}
}

func TestDryRunPerformsNoIO(t *testing.T) {
	source := newFakeSource()
	d, lgr, dir := newTestDownloader(t, source, Settings{MaxConcurrent: 2})

	outcome, err := d.Run(context.Background(), items("1", "2", "3"), dir, Options{DryRun: true, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Total != 3 || outcome.WouldDownload != 2 || outcome.Downloaded != 0 {
		t.Fatalf("dry run outcome = %+v", outcome)
	}
	if source.callCount("1") != 0 {
		t.Fatal("dry run must not materialize")
	}
	if len(lgr.Entries("")) != 0 {
		t.Fatal("dry run must not mutate the ledger")
	}
}

func TestLimitTruncatesStably(t *testing.T) {
	source := newFakeSource()
	d, lgr, dir := newTestDownloader(t, source, Settings{MaxConcurrent: 1})

	outcome, err := d.Run(context.Background(), items("a", "b", "c"), dir, Options{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Downloaded != 2 {
		t.Fatalf("outcome = %+v", outcome)
	}
	if !lgr.IsCurrent("fake", "a", "t1") || !lgr.IsCurrent("fake", "b", "t1") {
		t.Fatal("limit must keep the first items in input order")
	}
	if lgr.IsCurrent("fake", "c", "t1") {
		t.Fatal("item beyond limit must not run")
	}
}

func TestConcurrencyBound(t *testing.T) {
	source := newFakeSource()
	source.release = make(chan struct{})
	source.started = make(chan struct{}, 16)

	d, _, dir := newTestDownloader(t, source, Settings{MaxConcurrent: 2})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := d.Run(context.Background(), items("1", "2", "3", "4", "5"), dir, Options{}); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	// Two items enter materialize, then everything else waits on the
	// semaphore.
	<-source.started
	<-source.started
	close(source.release)
	for i := 0; i < 3; i++ {
		<-source.started
	}
	<-done

	if max := source.maxInFlight.Load(); max > 2 {
		t.Fatalf("max in-flight = %d, want <= 2", max)
	}
}

func TestRetryThenSuccess(t *testing.T) {
	source := newFakeSource()
	source.fail["1"] = 1

	d, lgr, dir := newTestDownloader(t, source, Settings{MaxConcurrent: 1, MaxRetries: 2})

	outcome, err := d.Run(context.Background(), items("1"), dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Downloaded != 1 || outcome.Failed != 0 {
		t.Fatalf("outcome = %+v", outcome)
	}
	if source.callCount("1") != 2 {
		t.Fatalf("calls = %d, want failure then success", source.callCount("1"))
	}
	if !lgr.IsCurrent("fake", "1", "t1") {
		t.Fatal("recovered item should be recorded")
	}
}

func TestEndToEndPartialFailure(t *testing.T) {
	source := newFakeSource()
	source.failForever["2"] = services.Wrap(services.ErrTransient, "fake", "materialize", "upstream broken", nil)

	d, lgr, dir := newTestDownloader(t, source, Settings{MaxConcurrent: 1, MaxRetries: 0})

	outcome, err := d.Run(context.Background(), items("1", "2"), dir, Options{})
	if err != nil {
		t.Fatalf("per-item failures must not fail the run: %v", err)
	}
	if outcome.Downloaded != 1 || outcome.Failed != 1 {
		t.Fatalf("outcome = %+v", outcome)
	}
	if len(outcome.Errors) != 1 || outcome.Errors[0].ItemID != "2" ||
		!strings.Contains(outcome.Errors[0].Message, "upstream broken") {
		t.Fatalf("errors = %+v", outcome.Errors)
	}
	if !lgr.IsCurrent("fake", "1", "t1") {
		t.Fatal("successful item missing from ledger")
	}
	if lgr.IsCurrent("fake", "2", "t1") {
		t.Fatal("failed item must stay out of the ledger")
	}
}

func TestAuthenticationFailureAbortsRun(t *testing.T) {
	source := newFakeSource()
	source.failForever["1"] = services.Wrap(services.ErrAuthentication, "fake", "materialize", "token expired", nil)

	d, _, dir := newTestDownloader(t, source, Settings{MaxConcurrent: 1, MaxRetries: 3})

	_, err := d.Run(context.Background(), items("1", "2", "3"), dir, Options{})
	if !errors.Is(err, services.ErrAuthentication) {
		t.Fatalf("expected auth error to propagate, got %v", err)
	}
	if source.callCount("1") != 1 {
		t.Fatalf("auth failure must not be retried, calls = %d", source.callCount("1"))
	}
}

func TestCancellationLeavesNoPartialRecords(t *testing.T) {
	source := newFakeSource()
	source.release = make(chan struct{})
	source.started = make(chan struct{}, 16)

	d, lgr, dir := newTestDownloader(t, source, Settings{MaxConcurrent: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *Outcome, 1)
	go func() {
		outcome, _ := d.Run(ctx, items("1", "2", "3"), dir, Options{})
		done <- outcome
	}()

	<-source.started
	cancel()
	outcome := <-done

	if outcome.Downloaded != 0 {
		t.Fatalf("outcome = %+v", outcome)
	}
	if entries := lgr.Entries(""); len(entries) != 0 {
		t.Fatalf("cancelled run left ledger records: %+v", entries)
	}
}

func TestOnItemDoneCallback(t *testing.T) {
	source := newFakeSource()
	source.failForever["2"] = errors.New("boom")

	d, _, dir := newTestDownloader(t, source, Settings{MaxConcurrent: 1})

	var mu sync.Mutex
	results := make(map[string]bool)
	_, err := d.Run(context.Background(), items("1", "2"), dir, Options{
		OnItemDone: func(itemID string, success bool) {
			mu.Lock()
			results[itemID] = success
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !results["1"] || results["2"] {
		t.Fatalf("callback results = %v", results)
	}
}
