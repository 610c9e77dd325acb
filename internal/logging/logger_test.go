package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var entries []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("invalid JSON line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNewLogger(t *testing.T) {
	t.Run("creates log file in directory", func(t *testing.T) {
		dir := t.TempDir()
		logger, err := NewLogger(dir, LevelDebug)
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		defer logger.Close()

		if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
			t.Errorf("log file was not created: %v", err)
		}
	})

	t.Run("writes to stderr when dir is empty", func(t *testing.T) {
		logger, err := NewLogger("", LevelInfo)
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		if logger.closer != nil {
			t.Error("expected no closer for stderr logger")
		}
	})
}

func TestContextAttributes(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, LevelDebug)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	child := logger.WithComponent("fulfillment").WithSession("s-1").WithOrder("SO1002").WithUser("alice")
	child.Info("scan accepted", "sku", "SKU-1")
	logger.Info("root message")
	logger.Close()

	entries := readEntries(t, filepath.Join(dir, FileName))
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	first := entries[0]
	for key, want := range map[string]string{
		"component":    "fulfillment",
		"session_id":   "s-1",
		"order_number": "SO1002",
		"user_id":      "alice",
		"sku":          "SKU-1",
		"msg":          "scan accepted",
	} {
		if first[key] != want {
			t.Errorf("entry[%q] = %v, want %q", key, first[key], want)
		}
	}

	if _, ok := entries[1]["session_id"]; ok {
		t.Error("child attributes leaked into parent logger")
	}
}

func TestSetLevelAppliesToChildren(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, LevelWarn)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	child := logger.WithComponent("realtime")

	child.Info("dropped")
	logger.SetLevel("debug")
	child.Debug("kept")
	logger.Close()

	entries := readEntries(t, filepath.Join(dir, FileName))
	if len(entries) != 1 || entries[0]["msg"] != "kept" {
		t.Fatalf("entries = %v, want only 'kept'", entries)
	}
	if logger.Level() != LevelDebug {
		t.Errorf("Level() = %q, want DEBUG", logger.Level())
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Info("nothing happens")
	if err := l.Close(); err != nil {
		t.Errorf("Close on nil logger: %v", err)
	}
	if OrNop(nil) == nil {
		t.Error("OrNop(nil) returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug": LevelDebug,
		"WARN":  LevelWarn,
		"Error": LevelError,
		"bogus": LevelInfo,
		"":      LevelInfo,
		"info":  LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRotatingWriter(t *testing.T) {
	t.Run("rotates past limit and keeps backups", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), FileName)
		rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		defer rw.Close()

		chunk := []byte(strings.Repeat("x", 600*1024))
		for i := 0; i < 4; i++ {
			if _, err := rw.Write(chunk); err != nil {
				t.Fatalf("write %d: %v", i, err)
			}
		}

		for _, p := range []string{path + ".1", path + ".2"} {
			if _, err := os.Stat(p); err != nil {
				t.Errorf("expected backup %s: %v", p, err)
			}
		}
		if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
			t.Error("backup beyond MaxBackups should not exist")
		}
		if rw.Size() != int64(len(chunk)) {
			t.Errorf("Size() = %d, want %d", rw.Size(), len(chunk))
		}
	})

	t.Run("compresses backups", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), FileName)
		rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 1, Compress: true})
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		defer rw.Close()

		chunk := []byte(strings.Repeat("y", 700*1024))
		_, _ = rw.Write(chunk)
		_, _ = rw.Write(chunk)

		if _, err := os.Stat(path + ".1.gz"); err != nil {
			t.Errorf("expected compressed backup: %v", err)
		}
		if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
			t.Error("uncompressed backup should be removed")
		}
	})

	t.Run("write after close fails", func(t *testing.T) {
		rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), FileName), DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		if err := rw.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := rw.Close(); err != nil {
			t.Errorf("second Close should be a no-op, got %v", err)
		}
		if _, err := rw.Write([]byte("x")); err == nil {
			t.Error("expected error writing to closed writer")
		}
	})
}
