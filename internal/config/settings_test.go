package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSettings(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
}

func TestLoadSettings_MissingFileUsesDefaults(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.CoreMetricsDebounceSeconds != DefaultDebounceSeconds {
		t.Errorf("expected default debounce, got %d", s.CoreMetricsDebounceSeconds)
	}
	if s.DebounceWindow() != 10*time.Second {
		t.Errorf("expected 10s window, got %s", s.DebounceWindow())
	}
	if s.StopOnSessionEnd {
		t.Error("stop_on_session_end should default to false")
	}
}

func TestLoadSettings_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	writeSettings(t, path, "stop_on_session_end = true\n")

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.StopOnSessionEnd {
		t.Error("expected stop_on_session_end true")
	}
	if s.CoreMetricsDebounceSeconds != DefaultDebounceSeconds {
		t.Errorf("expected default debounce, got %d", s.CoreMetricsDebounceSeconds)
	}
}

func TestLoadSettings_RejectsUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	writeSettings(t, path, "core_metrics_debounce = 3\n")

	if _, err := LoadSettings(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadSettings_RejectsNegativeDebounce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	writeSettings(t, path, "core_metrics_debounce_seconds = -1\n")

	if _, err := LoadSettings(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestHolder_Update(t *testing.T) {
	h := NewHolder(DefaultSettings(), "/tmp/settings.toml")
	h.Update(Settings{CoreMetricsDebounceSeconds: 3})

	if got := h.Settings().CoreMetricsDebounceSeconds; got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
	if h.Path() != "/tmp/settings.toml" {
		t.Errorf("unexpected path %q", h.Path())
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.toml")
	writeSettings(t, path, "core_metrics_debounce_seconds = 10\n")

	h := NewHolder(DefaultSettings(), path)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Watch(ctx, h, slog.Default()) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeSettings(t, path, "core_metrics_debounce_seconds = 2\n")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.Settings().CoreMetricsDebounceSeconds == 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := h.Settings().CoreMetricsDebounceSeconds; got != 2 {
		t.Fatalf("expected reloaded debounce 2, got %d", got)
	}

	// A broken file keeps the last good settings. Replace it atomically so
	// the watcher never observes a truncated file.
	tmp := filepath.Join(dir, "settings.toml.tmp")
	writeSettings(t, tmp, "core_metrics_debounce_seconds = \"oops\"\n")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if got := h.Settings().CoreMetricsDebounceSeconds; got != 2 {
		t.Errorf("expected previous settings kept, got %d", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("watch returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}
