//go:build integration

package hermes

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

func skipWithoutNATS(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	return url
}

func TestIntegration_PubSub(t *testing.T) {
	natsURL := skipWithoutNATS(t)
	ctx := context.Background()

	client, err := NewClient(ctx, natsURL, os.Getenv("NATS_TOKEN"), slog.Default())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	received := make(chan map[string]string, 1)

	err = client.Subscribe("tempo.test.>", func(subject string, data []byte) {
		var msg map[string]string
		json.Unmarshal(data, &msg)
		received <- msg
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// Give subscription time to propagate
	time.Sleep(100 * time.Millisecond)

	err = client.Publish("tempo.test.ping", map[string]string{
		"message": "hello from integration test",
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-received:
		if msg["message"] != "hello from integration test" {
			t.Errorf("expected hello message, got %v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestIntegration_RequestReply(t *testing.T) {
	natsURL := skipWithoutNATS(t)
	ctx := context.Background()

	client, err := NewClient(ctx, natsURL, os.Getenv("NATS_TOKEN"), slog.Default())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	err = client.Respond("tempo.test.echo", func(data []byte) (any, error) {
		var req map[string]string
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		if req["fail"] != "" {
			return nil, errors.New(req["fail"])
		}
		return map[string]string{"echo": req["say"]}, nil
	})
	if err != nil {
		t.Fatalf("respond failed: %v", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var resp map[string]string
	if err := client.Request(reqCtx, "tempo.test.echo", map[string]string{"say": "hi"}, &resp); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp["echo"] != "hi" {
		t.Errorf("expected echo hi, got %v", resp)
	}

	if err := client.Request(reqCtx, "tempo.test.echo", map[string]string{"fail": "boom"}, nil); err == nil {
		t.Error("expected error reply to surface as error")
	}
}
