package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestNewLevels(t *testing.T) {
	cases := []struct {
		cfg   string
		level slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, c := range cases {
		if got := (Config{Level: c.cfg}).level(); got != c.level {
			t.Fatalf("level(%q) = %v, want %v", c.cfg, got, c.level)
		}
	}
}

func TestNewWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.log")
	log := Config{Level: "info", Path: path}.New()
	log.Info("hello", "k", "v")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("log file is empty")
	}
}

func TestCaptureWriterNilWithoutDir(t *testing.T) {
	if w := (CaptureConfig{}).Writer("srv1"); w != nil {
		t.Fatal("expected nil writer when capture dir unset")
	}
}

func TestCaptureWriterPathAndDefaults(t *testing.T) {
	dir := t.TempDir()
	w := CaptureConfig{Dir: dir}.Writer("srv1")
	if w == nil {
		t.Fatal("expected writer when Dir is set")
	}
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("writer is not lumberjack.Logger: %T", w)
	}
	want := filepath.Join(dir, "srv1.log")
	if l.Filename != want {
		t.Fatalf("unexpected filename %q, want %q", l.Filename, want)
	}
	if l.MaxSize != DefaultMaxSizeMB || l.MaxBackups != DefaultMaxBackups || l.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", l.MaxSize, l.MaxBackups, l.MaxAge)
	}
	if _, err := w.Write([]byte("line\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_ = w.Close()
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("capture file not created: %v", err)
	}
}

func TestCaptureWriterOverrides(t *testing.T) {
	dir := t.TempDir()
	cfg := CaptureConfig{Dir: dir, MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}
	l := cfg.Writer("n").(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 11 || !l.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t",
			l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
	}
	_ = l.Close()
}
