package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type textBlock = struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func TestComplete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("expected x-api-key test-key, got %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != "2023-06-01" {
			t.Errorf("expected anthropic-version 2023-06-01, got %q", r.Header.Get("anthropic-version"))
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("expected model test-model, got %q", req.Model)
		}
		if req.System != "summarize" {
			t.Errorf("expected system prompt, got %q", req.System)
		}
		if req.MaxTokens != 100 {
			t.Errorf("expected max_tokens 100, got %d", req.MaxTokens)
		}

		resp := response{
			Content:    []textBlock{{Type: "text", Text: "first"}, {Type: "tool_use"}, {Type: "text", Text: "second"}},
			StopReason: "end_turn",
		}
		resp.Usage.InputTokens = 42
		resp.Usage.OutputTokens = 7
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := NewClient("test-key", "test-model")
	c.SetBaseURL(server.URL)

	got, err := c.Complete(context.Background(), "summarize", []Message{{Role: "user", Content: "hello"}}, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "first\nsecond" {
		t.Errorf("text = %q", got.Text)
	}
	if got.InputTokens != 42 || got.OutputTokens != 7 || got.StopReason != "end_turn" {
		t.Errorf("unexpected accounting: %+v", got)
	}
}

func TestComplete_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"type":    "rate_limit_error",
				"message": "slow down",
			},
		})
	}))
	defer server.Close()

	c := NewClient("test-key", "test-model")
	c.SetBaseURL(server.URL)

	_, err := c.Complete(context.Background(), "", []Message{{Role: "user", Content: "hi"}}, 100)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests || apiErr.Type != "rate_limit_error" {
		t.Errorf("unexpected api error: %+v", apiErr)
	}
}

func TestComplete_EmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(response{StopReason: "end_turn"})
	}))
	defer server.Close()

	c := NewClient("test-key", "test-model")
	c.SetBaseURL(server.URL)

	if _, err := c.Complete(context.Background(), "", []Message{{Role: "user", Content: "hi"}}, 100); err == nil {
		t.Fatal("expected error for empty content response")
	}
}

func TestComplete_NoKey(t *testing.T) {
	c := NewClient("", "test-model")
	if c.HasKey() {
		t.Error("client without key should report no key")
	}
	if _, err := c.Complete(context.Background(), "", nil, 10); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}
