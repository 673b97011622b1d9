// Package content loads raw session transcripts, from local disk first and
// from Chronicle when the file is gone.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

// ErrUnavailable is returned when neither disk nor Chronicle has the transcript.
var ErrUnavailable = errors.New("transcript unavailable")

// maxBytes caps how much of a transcript is read into memory.
const maxBytes = 64 << 20

type Fetcher struct {
	chronicleURL string
	client       *http.Client
	logger       *slog.Logger
}

// New creates a fetcher. chronicleURL may be empty to disable the fallback.
func New(chronicleURL string, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		chronicleURL: chronicleURL,
		client:       &http.Client{Timeout: 30 * time.Second},
		logger:       logger,
	}
}

// FetchContent returns the transcript for a session.
func (f *Fetcher) FetchContent(ctx context.Context, provider, filePath, sessionID string) (string, error) {
	if filePath != "" {
		data, err := readFile(filePath)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read %s: %w", filePath, err)
		}
		f.logger.Debug("transcript not on disk", "session_id", sessionID, "provider", provider, "path", filePath)
	}

	if f.chronicleURL == "" {
		return "", fmt.Errorf("%w: %s not on disk and CHRONICLE_URL not configured", ErrUnavailable, sessionID)
	}
	return f.fetchChronicle(ctx, sessionID)
}

func readFile(path string) (string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer fh.Close()

	data, err := io.ReadAll(io.LimitReader(fh, maxBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (f *Fetcher) fetchChronicle(ctx context.Context, sessionID string) (string, error) {
	u := fmt.Sprintf("%s/api/v1/events?trace_id=%s", f.chronicleURL, url.QueryEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("build chronicle request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chronicle request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: chronicle has no events for %s", ErrUnavailable, sessionID)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chronicle returned %d for session %s", resp.StatusCode, sessionID)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return "", fmt.Errorf("read chronicle response: %w", err)
	}

	var events []json.RawMessage
	if err := json.Unmarshal(body, &events); err != nil {
		return "", fmt.Errorf("parse chronicle events: %w", err)
	}
	if len(events) == 0 {
		return "", fmt.Errorf("%w: no events found in chronicle for session %s", ErrUnavailable, sessionID)
	}

	// One event per line, the same shape as the on-disk JSONL.
	var out []byte
	for _, e := range events {
		out = append(out, e...)
		out = append(out, '\n')
	}
	return string(out), nil
}
