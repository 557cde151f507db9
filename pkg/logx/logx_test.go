package logx

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupTestLogger() *bytes.Buffer {
	var buf bytes.Buffer
	logWriterLock.Lock()
	logWriter = &buf
	logWriterLock.Unlock()
	return &buf
}

func resetTestLogger() {
	logWriterLock.Lock()
	logWriter = nil
	logWriterLock.Unlock()
	SetDebug(false)
}

func TestLogFormat(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	logger := NewLogger("applier")
	logger.Info("applied %d files", 2)

	output := buf.String()
	if !strings.Contains(output, "[applier]") {
		t.Errorf("Expected component in output, got: %s", output)
	}
	if !strings.Contains(output, "INFO: applied 2 files") {
		t.Errorf("Expected level and message in output, got: %s", output)
	}
	if !strings.HasPrefix(output, "[") || !strings.Contains(output, "Z]") {
		t.Errorf("Expected ISO timestamp prefix, got: %s", output)
	}
}

func TestLogLevels(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()
	SetDebug(true)

	logger := NewLogger("codec")
	tests := []struct {
		logFunc  func(string, ...any)
		expected string
	}{
		{logger.Debug, "DEBUG"},
		{logger.Info, "INFO"},
		{logger.Warn, "WARN"},
		{logger.Error, "ERROR"},
	}

	for _, tt := range tests {
		buf.Reset()
		tt.logFunc("message")
		if !strings.Contains(buf.String(), tt.expected+": message") {
			t.Errorf("Expected %s line, got: %s", tt.expected, buf.String())
		}
	}
}

func TestDebugSuppressedWhenDisabled(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()
	SetDebug(false)

	NewLogger("x").Debug("hidden")
	Debug(context.Background(), "codec", "hidden too")

	if buf.Len() != 0 {
		t.Errorf("Expected no output, got: %s", buf.String())
	}
}

func TestDebugDomainFiltering(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()
	SetDebug(true, "codec")

	ctx := context.WithValue(context.Background(), ContextKeyComponent, "session-1")
	Debug(ctx, "codec", "parsed %d edits", 3)
	Debug(ctx, "applier", "should not appear")

	output := buf.String()
	if !strings.Contains(output, "[session-1]") || !strings.Contains(output, "[codec] parsed 3 edits") {
		t.Errorf("Expected codec debug line, got: %s", output)
	}
	if strings.Contains(output, "should not appear") {
		t.Errorf("Expected applier domain to be filtered, got: %s", output)
	}
}

func TestRecentEntries(t *testing.T) {
	setupTestLogger()
	defer resetTestLogger()

	logger := NewLogger("ring")
	logger.Warn("first")
	logger.Info("second")
	logger.Warn("third")

	warns := RecentEntries(2, LevelWarn)
	if len(warns) != 2 {
		t.Fatalf("Expected 2 warn entries, got %d", len(warns))
	}
	if warns[0].Message != "first" || warns[1].Message != "third" {
		t.Errorf("Expected oldest-first order, got %+v", warns)
	}
}

func TestWrap(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	if Wrap(nil, "noop") != nil {
		t.Error("Expected nil for nil error")
	}

	base := errors.New("boom")
	err := Wrap(base, "open session")
	if !errors.Is(err, base) {
		t.Errorf("Expected wrapped error to match base")
	}
	if !strings.Contains(buf.String(), "open session: boom") {
		t.Errorf("Expected logged error, got: %s", buf.String())
	}
}

func TestInitializeLogFile(t *testing.T) {
	dir := t.TempDir()
	defer resetTestLogger()

	path, err := InitializeLogFile(dir, 1, false)
	if err != nil {
		t.Fatalf("InitializeLogFile: %v", err)
	}
	NewLogger("file").Info("to disk")
	if err := Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("Expected log under %s, got %s", dir, path)
	}
	if !strings.Contains(string(data), "[file] INFO: to disk") {
		t.Errorf("Expected line in log file, got: %s", data)
	}
}
