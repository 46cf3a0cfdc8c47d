package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(buf *bytes.Buffer, level string) *slog.Logger {
	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLevel(level))
	return slog.New(newPrettyHandler(buf, levelVar))
}

func TestPrettyHandlerHoistsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewComponentLogger(newTestLogger(&buf, "info"), "downloader")

	logger.Info("fetch complete", Int("count", 3))

	line := buf.String()
	if !strings.Contains(line, "INFO downloader: fetch complete") {
		t.Fatalf("unexpected log line: %q", line)
	}
	if !strings.Contains(line, "count=3") {
		t.Fatalf("missing attribute in log line: %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should not appear as key=value: %q", line)
	}
}

func TestPrettyHandlerQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, "info")

	logger.Info("matched", String("track", "Road America"))

	if !strings.Contains(buf.String(), `track="Road America"`) {
		t.Fatalf("expected quoted value, got %q", buf.String())
	}
}

func TestPrettyHandlerHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, "warn")

	logger.Info("should be dropped")
	logger.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should be dropped") {
		t.Fatalf("info record leaked past warn level: %q", out)
	}
	if !strings.Contains(out, "WARN should appear") {
		t.Fatalf("warn record missing: %q", out)
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	for _, input := range []string{"", "bogus", "INFO"} {
		if got := parseLevel(input); got != slog.LevelInfo {
			t.Errorf("parseLevel(%q) = %v, want info", input, got)
		}
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNop()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("nop logger should report disabled at every level")
	}
}
