package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestNewFormats(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("wrote cryptfile", slog.String("path", "drm.xml"))
	logger.Debug("hidden")

	// a buffer is not a terminal so the default is JSON
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "wrote cryptfile" || entry["path"] != "drm.xml" {
		t.Fatalf("entry %v", entry)
	}

	buf.Reset()
	logger, err = New(Options{Level: "debug", Format: "text", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("visible", "track", 1)
	if out := buf.String(); !strings.Contains(out, "level=DEBUG") || !strings.Contains(out, "track=1") {
		t.Fatalf("text output %q", out)
	}
}

func TestOptionErrors(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
	if _, err := New(Options{Level: "verbose"}); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
	for in, want := range map[string]slog.Level{"": slog.LevelInfo, "WARN": slog.LevelWarn, " error ": slog.LevelError} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
}
