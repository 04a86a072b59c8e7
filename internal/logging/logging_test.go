package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewFallsBackToInfoOnInvalidLevel(t *testing.T) {
	New(Options{Level: "not-a-level", Format: "json"})
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info fallback, got %s", zerolog.GlobalLevel())
	}
}

func TestOpenLogFileCreatesDirectoryAndDatedFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	f := openLogFile(dir)
	if f == nil {
		t.Fatal("expected a log file handle")
	}
	defer f.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log file, got %d", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "bingx-refresh-") || !strings.HasSuffix(name, ".log") {
		t.Fatalf("unexpected log file name %q", name)
	}
}

func TestOpenLogFileReturnsNilOnUnwritablePath(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if f := openLogFile(filepath.Join(blocker, "logs")); f != nil {
		f.Close()
		t.Fatal("expected nil for a path under a regular file")
	}
}
