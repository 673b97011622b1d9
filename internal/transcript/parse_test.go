package transcript

import (
	"strings"
	"testing"
	"time"
)

func TestParse_BasicConversation(t *testing.T) {
	content := strings.Join([]string{
		`{"type":"user","uuid":"aaa","parentUuid":null,"sessionId":"s1","timestamp":"2026-02-11T10:00:00Z","message":{"role":"user","content":"Hello, deploy the service"}}`,
		`{"type":"assistant","uuid":"bbb","parentUuid":"aaa","sessionId":"s1","timestamp":"2026-02-11T10:00:05Z","message":{"role":"assistant","content":[{"type":"text","text":"I'll deploy the service now."}]}}`,
		`{"type":"user","uuid":"ccc","parentUuid":"bbb","sessionId":"s1","timestamp":"2026-02-11T10:00:10Z","message":{"role":"user","content":"Great, thanks"}}`,
	}, "\n")

	tr, err := ParseString(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tr.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(tr.Messages))
	}
	if tr.Messages[0].Role != "user" || tr.Messages[0].Text != "Hello, deploy the service" {
		t.Errorf("msg[0] = %q %q", tr.Messages[0].Role, tr.Messages[0].Text)
	}
	if tr.Messages[1].Role != "assistant" || tr.Messages[1].Text != "I'll deploy the service now." {
		t.Errorf("msg[1] = %q %q", tr.Messages[1].Role, tr.Messages[1].Text)
	}

	first, last := tr.Span()
	if last.Sub(first) != 10*time.Second {
		t.Errorf("expected 10s span, got %s", last.Sub(first))
	}
}

func TestParse_CountsToolBlocks(t *testing.T) {
	content := strings.Join([]string{
		`{"type":"user","uuid":"aaa","parentUuid":null,"timestamp":"2026-02-11T10:00:00Z","message":{"role":"user","content":"List files"}}`,
		`{"type":"assistant","uuid":"bbb","parentUuid":"aaa","timestamp":"2026-02-11T10:00:01Z","message":{"role":"assistant","content":[{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"ls"}}]}}`,
		`{"type":"user","uuid":"ccc","parentUuid":"bbb","timestamp":"2026-02-11T10:00:02Z","message":{"role":"user","content":[{"tool_use_id":"toolu_1","type":"tool_result","content":"file1\nfile2"}]}}`,
		`{"type":"assistant","uuid":"ddd","parentUuid":"ccc","timestamp":"2026-02-11T10:00:03Z","message":{"role":"assistant","content":[{"type":"text","text":"I found file1 and file2."}]}}`,
	}, "\n")

	tr, err := ParseString(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tr.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(tr.Messages))
	}
	if tr.ToolCalls != 1 || tr.ToolResults != 1 {
		t.Errorf("expected 1 tool call and 1 result, got %d/%d", tr.ToolCalls, tr.ToolResults)
	}
}

func TestParse_SkipsMalformedAndOtherTypes(t *testing.T) {
	content := strings.Join([]string{
		`not json`,
		`{"type":"summary","summary":"ignored"}`,
		``,
		`{"type":"user","uuid":"aaa","parentUuid":null,"timestamp":"2026-02-11T10:00:00Z","message":{"role":"user","content":"hi"}}`,
	}, "\n")

	tr, err := ParseString(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tr.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(tr.Messages))
	}
	if tr.Malformed != 1 {
		t.Errorf("expected 1 malformed line, got %d", tr.Malformed)
	}
}

func TestParse_OrphansAppendedInOrder(t *testing.T) {
	content := strings.Join([]string{
		`{"type":"user","uuid":"aaa","parentUuid":null,"message":{"role":"user","content":"root"}}`,
		`{"type":"assistant","uuid":"zzz","parentUuid":"missing","message":{"role":"assistant","content":"orphan one"}}`,
		`{"type":"assistant","uuid":"yyy","parentUuid":"gone","message":{"role":"assistant","content":"orphan two"}}`,
	}, "\n")

	tr, err := ParseString(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tr.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(tr.Messages))
	}
	if tr.Messages[1].Text != "orphan one" || tr.Messages[2].Text != "orphan two" {
		t.Errorf("orphans out of order: %q, %q", tr.Messages[1].Text, tr.Messages[2].Text)
	}
}

func TestParse_Empty(t *testing.T) {
	tr, err := ParseString("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tr.Messages) != 0 {
		t.Errorf("expected no messages, got %d", len(tr.Messages))
	}
}

func TestFormat(t *testing.T) {
	out := Format([]Message{
		{Role: "user", Text: "hi"},
		{Role: "assistant", Text: "hello", Timestamp: time.Date(2026, 2, 11, 10, 0, 0, 0, time.UTC)},
	})
	if !strings.Contains(out, "User: hi") {
		t.Errorf("missing user line: %q", out)
	}
	if !strings.Contains(out, "[2026-02-11T10:00:00Z] Assistant: hello") {
		t.Errorf("missing assistant line: %q", out)
	}
}
