// Package summarizer writes the AI assessment of a session.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/tempo/internal/anthropic"
	"github.com/MikeSquared-Agency/tempo/internal/transcript"
)

const (
	maxTokens = 1024
	// Long sessions keep their head and tail; the middle is elided.
	maxTranscriptChars = 120_000
)

// ErrEmptyTranscript is returned when there is nothing to summarize.
var ErrEmptyTranscript = errors.New("transcript has no messages")

// Completer is the model client.
type Completer interface {
	Complete(ctx context.Context, system string, messages []anthropic.Message, maxTokens int) (*anthropic.Completion, error)
	HasKey() bool
	Model() string
}

// Writer stores the produced summary, replacing any earlier one.
type Writer interface {
	UpsertSummary(ctx context.Context, sessionID, model, text string) error
}

type Summarizer struct {
	llm    Completer
	w      Writer
	logger *slog.Logger
}

func New(llm Completer, w Writer, logger *slog.Logger) *Summarizer {
	return &Summarizer{llm: llm, w: w, logger: logger}
}

// HasCredential reports whether an API key is configured.
func (s *Summarizer) HasCredential() bool {
	return s != nil && s.llm != nil && s.llm.HasKey()
}

// ComputeAISummary asks the model for an assessment of msgs and stores it.
func (s *Summarizer) ComputeAISummary(ctx context.Context, sessionID string, msgs []transcript.Message) error {
	if len(msgs) == 0 {
		return ErrEmptyTranscript
	}

	text := clip(transcript.Format(msgs), maxTranscriptChars)
	prompt := fmt.Sprintf(summaryUserPrompt, sessionID, len(msgs), text)

	s.logger.Info("summarizing session",
		"session_id", sessionID,
		"messages", len(msgs),
		"transcript_len", len(text),
	)

	out, err := s.llm.Complete(ctx, systemPrompt, []anthropic.Message{{Role: "user", Content: prompt}}, maxTokens)
	if err != nil {
		return fmt.Errorf("llm summary: %w", err)
	}

	summary := strings.TrimSpace(out.Text)
	if summary == "" {
		return fmt.Errorf("llm summary: empty text")
	}
	if err := s.w.UpsertSummary(ctx, sessionID, s.llm.Model(), summary); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}

	s.logger.Info("summary stored",
		"session_id", sessionID,
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
	)
	return nil
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	half := limit / 2
	return s[:half] + "\n\n[... transcript truncated ...]\n\n" + s[len(s)-half:]
}
