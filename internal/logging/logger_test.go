package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetup_FansOutToFile(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	path := filepath.Join(t.TempDir(), "import.log")
	closer, err := Setup("info", "text", path)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	slog.Info("file import complete", "file_id", "f-1")
	slog.Debug("below level")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, `"msg":"file import complete"`) || !strings.Contains(out, `"file_id":"f-1"`) {
		t.Errorf("log file missing record: %s", out)
	}
	if strings.Contains(out, "below level") {
		t.Errorf("debug record written at info level: %s", out)
	}
}

func TestSetup_BadFile(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	if _, err := Setup("info", "json", filepath.Join(t.TempDir(), "missing", "x.log")); err == nil {
		t.Fatal("Setup() expected error for unwritable log file")
	}
}

func TestFromContext_RequestID(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var b strings.Builder
	slog.SetDefault(slog.New(slog.NewJSONHandler(&b, nil)))

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	WithFields(ctx, "job_id", "j-1").Info("import scheduled")

	if !strings.Contains(b.String(), `"request_id":"req-42"`) || !strings.Contains(b.String(), `"job_id":"j-1"`) {
		t.Errorf("missing fields: %s", b.String())
	}
}
