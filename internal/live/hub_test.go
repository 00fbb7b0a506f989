package live

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := hub.Start(); err != nil {
		t.Fatalf("start hub: %v", err)
	}
	t.Cleanup(func() { hub.Stop() })
	return hub
}

func TestHubStartStop(t *testing.T) {
	hub := NewHub(0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := hub.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if hub.Addr() == "" {
		t.Fatal("hub address is empty")
	}
	if err := hub.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestClientReceivesPublishedEvents(t *testing.T) {
	hub := newTestHub(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+hub.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Connection registration races the dial return.
	deadline := time.After(2 * time.Second)
	for hub.ClientCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	hub.Publish(EventPushComplete, map[string]any{"acked": 3})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Event != EventPushComplete {
		t.Fatalf("event = %q, want %q", ev.Event, EventPushComplete)
	}
	if got, ok := ev.Data["acked"].(float64); !ok || got != 3 {
		t.Fatalf("acked = %v", ev.Data["acked"])
	}
	if ev.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}
}

func TestPublishAfterStopDoesNotBlock(t *testing.T) {
	hub := NewHub(0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := hub.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := hub.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	done := make(chan struct{})
	go func() {
		hub.Publish(EventSyncFailed, map[string]any{"stage": "push"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked after stop")
	}
}
