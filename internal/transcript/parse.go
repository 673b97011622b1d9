// Package transcript parses agent session JSONL transcripts into an ordered
// list of conversation turns.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Message is a single user or assistant turn.
type Message struct {
	Role      string // "user" or "assistant"
	Text      string
	Timestamp time.Time
}

// Transcript is a parsed session.
type Transcript struct {
	Messages    []Message
	ToolCalls   int // tool_use blocks emitted by the assistant
	ToolResults int // tool_result blocks returned to the assistant
	Malformed   int // lines that could not be decoded
}

// line is one record of a JSONL transcript.
type line struct {
	Type       string  `json:"type"`
	UUID       string  `json:"uuid"`
	ParentUUID *string `json:"parentUuid"`
	Timestamp  string  `json:"timestamp"`
	Message    struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ParseString parses transcript content already held in memory.
func ParseString(content string) (*Transcript, error) {
	return Parse(strings.NewReader(content))
}

// Parse reads a JSONL transcript. Lines are ordered by following the
// parentUuid chain; orphans are appended after the chain.
func Parse(r io.Reader) (*Transcript, error) {
	t := &Transcript{}

	byUUID := make(map[string]*line)
	var order []string // first-seen order, used for orphans
	var roots []string
	children := make(map[string]string) // parentUUID -> childUUID

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}

		var l line
		if err := json.Unmarshal(raw, &l); err != nil {
			t.Malformed++
			continue
		}
		if l.Type != "user" && l.Type != "assistant" {
			continue
		}
		if l.UUID == "" {
			l.UUID = fmt.Sprintf("line-%d", len(order))
		}

		byUUID[l.UUID] = &l
		order = append(order, l.UUID)

		if l.ParentUUID == nil || *l.ParentUUID == "" {
			roots = append(roots, l.UUID)
		} else {
			children[*l.ParentUUID] = l.UUID
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}

	if len(byUUID) == 0 {
		return t, nil
	}

	var ordered []*line
	visited := make(map[string]bool, len(byUUID))
	for _, rootID := range roots {
		for current := rootID; current != "" && !visited[current]; current = children[current] {
			if l, ok := byUUID[current]; ok {
				ordered = append(ordered, l)
				visited[current] = true
			}
		}
	}
	for _, id := range order {
		if !visited[id] {
			ordered = append(ordered, byUUID[id])
			visited[id] = true
		}
	}

	for _, l := range ordered {
		text, uses, results := extractText(l)
		t.ToolCalls += uses
		t.ToolResults += results
		if results > 0 || text == "" {
			continue
		}

		ts, _ := time.Parse(time.RFC3339Nano, l.Timestamp)
		t.Messages = append(t.Messages, Message{
			Role:      l.Type,
			Text:      text,
			Timestamp: ts,
		})
	}

	return t, nil
}

// extractText returns the text of a message along with its tool_use and
// tool_result block counts.
func extractText(l *line) (text string, toolUses, toolResults int) {
	if l.Message.Content == nil {
		return "", 0, 0
	}

	var plain string
	if err := json.Unmarshal(l.Message.Content, &plain); err == nil {
		return plain, 0, 0
	}

	var blocks []contentBlock
	if err := json.Unmarshal(l.Message.Content, &blocks); err != nil {
		return "", 0, 0
	}

	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "tool_use":
			toolUses++
		case "tool_result":
			toolResults++
		case "text":
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
	}
	return strings.Join(parts, "\n"), toolUses, toolResults
}

// Format renders messages as a plain-text transcript for model input.
func Format(msgs []Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		role := "User"
		if m.Role == "assistant" {
			role = "Assistant"
		}
		if !m.Timestamp.IsZero() {
			fmt.Fprintf(&sb, "[%s] ", m.Timestamp.UTC().Format(time.RFC3339))
		}
		fmt.Fprintf(&sb, "%s: %s\n\n", role, m.Text)
	}
	return sb.String()
}

// Span returns the first and last non-zero timestamps.
func (t *Transcript) Span() (first, last time.Time) {
	for _, m := range t.Messages {
		if m.Timestamp.IsZero() {
			continue
		}
		if first.IsZero() || m.Timestamp.Before(first) {
			first = m.Timestamp
		}
		if m.Timestamp.After(last) {
			last = m.Timestamp
		}
	}
	return first, last
}
