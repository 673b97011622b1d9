package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultDebounceSeconds is the quiet period before a changed session is recomputed.
const DefaultDebounceSeconds = 10

// Settings are the operator-tunable values that may change while the
// service is running. They are re-read from disk on every change.
type Settings struct {
	CoreMetricsDebounceSeconds int  `toml:"core_metrics_debounce_seconds"`
	StopOnSessionEnd           bool `toml:"stop_on_session_end"`
}

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() Settings {
	return Settings{
		CoreMetricsDebounceSeconds: DefaultDebounceSeconds,
	}
}

// DebounceWindow converts the configured seconds to a duration.
func (s Settings) DebounceWindow() time.Duration {
	return time.Duration(s.CoreMetricsDebounceSeconds) * time.Second
}

// LoadSettings decodes a TOML settings file. A missing file yields defaults.
// Keys absent from the file keep their default values.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()

	md, err := toml.DecodeFile(ExpandHome(path), &s)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return DefaultSettings(), fmt.Errorf("decode settings %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return DefaultSettings(), fmt.Errorf("unknown settings key %q in %s", undecoded[0].String(), path)
	}

	if err := s.Validate(); err != nil {
		return DefaultSettings(), err
	}
	return s, nil
}

// Validate rejects values the scheduler cannot use.
func (s Settings) Validate() error {
	if s.CoreMetricsDebounceSeconds < 0 {
		return fmt.Errorf("core_metrics_debounce_seconds must be >= 0, got %d", s.CoreMetricsDebounceSeconds)
	}
	return nil
}

// ExpandHome resolves a leading "~/" against the user's home directory.
func ExpandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
