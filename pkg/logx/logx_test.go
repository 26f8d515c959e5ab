package logx

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setupTestLogger redirects log output into a buffer for the duration of the test.
func setupTestLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })
	return &buf
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("pipeline")
	if logger.GetComponent() != "pipeline" {
		t.Errorf("Expected component 'pipeline', got '%s'", logger.GetComponent())
	}
	if other := logger.WithComponent("llm"); other.GetComponent() != "llm" {
		t.Errorf("Expected component 'llm', got '%s'", other.GetComponent())
	}
}

func TestLogFormat(t *testing.T) {
	buf := setupTestLogger(t)

	NewLogger("review").Info("Test message with %s", "formatting")

	output := buf.String()
	if !strings.Contains(output, "[review]") {
		t.Errorf("Expected component in output, got: %s", output)
	}
	if !strings.Contains(output, "INFO") {
		t.Errorf("Expected log level in output, got: %s", output)
	}
	if !strings.Contains(output, "Test message with formatting") {
		t.Errorf("Expected formatted message in output, got: %s", output)
	}
	if !strings.Contains(output, "T") || !strings.Contains(output, "Z") {
		t.Errorf("Expected ISO timestamp in output, got: %s", output)
	}
}

func TestDebugRespectsGlobalSwitch(t *testing.T) {
	buf := setupTestLogger(t)
	SetDebug(false)
	t.Cleanup(func() { SetDebug(false) })

	logger := NewLogger("pipeline")
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("Expected no output with debug disabled, got: %s", buf.String())
	}

	SetDebug(true)
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "DEBUG: visible") {
		t.Errorf("Expected debug line, got: %s", buf.String())
	}
}

func TestDebugDomainFiltering(t *testing.T) {
	buf := setupTestLogger(t)
	SetDebug(true)
	SetDebugDomains([]string{"pipeline"})
	t.Cleanup(func() {
		SetDebug(false)
		SetDebugDomains(nil)
	})

	ctx := WithStage(WithRunID(context.Background(), "0123456789abcdef"), "review")
	Debug(ctx, "llm", "filtered out")
	Debug(ctx, "pipeline", "verdict %s", "approved")

	output := buf.String()
	if strings.Contains(output, "filtered out") {
		t.Errorf("Expected llm domain to be filtered, got: %s", output)
	}
	if !strings.Contains(output, "[pipeline] verdict approved") {
		t.Errorf("Expected pipeline debug line, got: %s", output)
	}
	if !strings.Contains(output, "(run 01234567)") {
		t.Errorf("Expected shortened run ID, got: %s", output)
	}
	if !strings.Contains(output, "[review]") {
		t.Errorf("Expected stage as component, got: %s", output)
	}
}

func TestContextHelpers(t *testing.T) {
	if RunIDFrom(context.Background()) != "" {
		t.Error("Expected empty run ID")
	}
	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithStage(ctx, "testing")
	if RunIDFrom(ctx) != "run-1" {
		t.Errorf("Expected run-1, got %s", RunIDFrom(ctx))
	}
	if StageFrom(ctx) != "testing" {
		t.Errorf("Expected testing, got %s", StageFrom(ctx))
	}
}

func TestInMemoryBufferFiltersByRun(t *testing.T) {
	setupTestLogger(t)
	SetDebug(true)
	t.Cleanup(func() { SetDebug(false) })

	start := time.Now().Add(-time.Second)
	Debug(WithRunID(context.Background(), "run-a"), "pipeline", "from a")
	Debug(WithRunID(context.Background(), "run-b"), "pipeline", "from b")

	entries := GetRecentLogEntries("run-a", start)
	if len(entries) == 0 {
		t.Fatal("Expected buffered entries for run-a")
	}
	for _, e := range entries {
		if e.RunID != "run-a" {
			t.Errorf("Unexpected entry for run %s", e.RunID)
		}
	}
}

func TestBufferTrimsToMaxSize(t *testing.T) {
	b := &InMemoryLogBuffer{maxSize: 3}
	for i := 0; i < 5; i++ {
		b.AddLogEntry(&LogEntry{Message: string(rune('a' + i))})
	}
	entries := b.GetLogEntries("", time.Time{})
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	if entries[0].Message != "c" {
		t.Errorf("Expected oldest kept entry 'c', got %q", entries[0].Message)
	}
}

func TestWrap(t *testing.T) {
	setupTestLogger(t)

	if Wrap(nil, "noop") != nil {
		t.Error("Expected nil for nil error")
	}
	base := errors.New("boom")
	err := Wrap(base, "load config")
	if !errors.Is(err, base) {
		t.Error("Expected wrapped error to unwrap to base")
	}
	if err.Error() != "load config: boom" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}

func TestInitializeLogFile(t *testing.T) {
	dir := t.TempDir()
	if err := InitializeLogFile(dir, false); err != nil {
		t.Fatalf("InitializeLogFile failed: %v", err)
	}
	NewLogger("cli").Info("written to file")
	if err := CloseLogFile(); err != nil {
		t.Fatalf("CloseLogFile failed: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "specforge-*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("Expected one log file, got %v (%v)", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("Expected message in log file, got: %s", data)
	}
}
