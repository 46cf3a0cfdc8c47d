package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"setupsync/internal/logging"
	"setupsync/internal/testsupport"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func requireContains(t *testing.T, output, want string) {
	t.Helper()
	if !strings.Contains(output, want) {
		t.Fatalf("output %q does not contain %q", output, want)
	}
}

func TestConfigInitWritesSample(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	target := filepath.Join(t.TempDir(), "config.toml")

	out, err := runCLI(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	target := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(target, []byte("# existing"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := runCLI(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected error without --overwrite")
	}

	if _, err := runCLI(t, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigValidateWithDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	out, err := runCLI(t, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "defaults were used")
}

func TestNewProviderValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	if _, err := newProvider("gofast", cfg, nil, nil, logging.NewNop()); err == nil {
		t.Fatal("expected error without a GoFast token")
	}
	if _, err := newProvider("cda", cfg, nil, nil, logging.NewNop()); err == nil {
		t.Fatal("expected error without CDA credentials")
	}
	if _, err := newProvider("tracktitan", cfg, nil, nil, logging.NewNop()); err == nil {
		t.Fatal("expected error without Track Titan credentials")
	}
	if _, err := newProvider("bogus", cfg, nil, nil, logging.NewNop()); err == nil || !strings.Contains(err.Error(), "unknown provider") {
		t.Fatalf("expected unknown provider error, got %v", err)
	}

	cfg = testsupport.NewConfig(t,
		testsupport.WithGoFastToken("token"),
		testsupport.WithTrackTitanCredentials("cognito-jwt", "user-1"))
	for _, name := range []string{"gofast", "tracktitan"} {
		source, err := newProvider(name, cfg, nil, nil, logging.NewNop())
		if err != nil {
			t.Fatalf("newProvider(%s): %v", name, err)
		}
		if source.Name() != name {
			t.Fatalf("name = %q, want %q", source.Name(), name)
		}
		source.Close()
	}
}

func TestDownloadSettingsConversion(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxConcurrent(3))
	cfg.Download.MinDelay = 0.5
	cfg.Download.MaxDelay = 2
	cfg.Download.MaxRetries = 4

	settings := downloadSettings(cfg)
	if settings.MaxConcurrent != 3 {
		t.Fatalf("max concurrent = %d", settings.MaxConcurrent)
	}
	if settings.MinDelay != 500*time.Millisecond || settings.MaxDelay != 2*time.Second {
		t.Fatalf("delays = %v..%v", settings.MinDelay, settings.MaxDelay)
	}
	if settings.MaxRetries != 4 {
		t.Fatalf("retries = %d", settings.MaxRetries)
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"Name", "Count"}, [][]string{{"only-name"}}, 2)
	requireContains(t, out, "only-name")
	requireContains(t, out, "Count")
}

func TestRenderCountsSharesLayout(t *testing.T) {
	out := renderCounts([][]string{{"Downloaded", "3"}})
	requireContains(t, out, "Result")
	requireContains(t, out, "Downloaded")
}
