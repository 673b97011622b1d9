package config

import "sync"

// Holder provides thread-safe access to the live Settings. The scheduler
// reads through it on every event, so a reload takes effect on the next
// update without a restart.
type Holder struct {
	mu       sync.RWMutex
	settings Settings
	path     string // immutable after construction
}

// NewHolder creates a Holder with the initial settings and file path.
func NewHolder(s Settings, path string) *Holder {
	return &Holder{settings: s, path: path}
}

// Settings returns the current snapshot.
func (h *Holder) Settings() Settings {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.settings
}

// Path returns the settings file path.
func (h *Holder) Path() string {
	return h.path
}

// Update replaces the settings.
func (h *Holder) Update(s Settings) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.settings = s
}
