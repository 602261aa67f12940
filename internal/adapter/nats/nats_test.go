package nats

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/resflow/toolplane/internal/port/eventlog"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Sink {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	s, err := Connect(context.Background(), url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		eventType string
		want      string
	}{
		{"tool.executed", "tools.executed"},
		{"tool.denied", "tools.denied"},
		{"approval.created", "approvals.created"},
		{"approval.rejected", "approvals.rejected"},
		{"unknown", "tools.other"},
		{"", "tools.other"},
	}
	for _, tt := range tests {
		if got := subjectFor(tt.eventType); got != tt.want {
			t.Errorf("subjectFor(%q) = %q, want %q", tt.eventType, got, tt.want)
		}
	}
}

func TestSink_Emit(t *testing.T) {
	s := testConnect(t)
	ctx := context.Background()

	consumer, err := s.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: "tools.executed",
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		t.Fatalf("create consumer: %v", err)
	}

	var (
		mu       sync.Mutex
		received *eventlog.Event
		done     = make(chan struct{})
		once     sync.Once
	)
	sub, err := consumer.Consume(func(msg jetstream.Msg) {
		var ev eventlog.Event
		if err := json.Unmarshal(msg.Data(), &ev); err == nil {
			mu.Lock()
			received = &ev
			mu.Unlock()
			once.Do(func() { close(done) })
		}
		_ = msg.Ack()
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	defer sub.Stop()

	want := eventlog.Event{
		Type:      "tool.executed",
		RequestID: "req-nats-" + t.Name(),
		Tool:      "tenant.inspect",
		Outcome:   "ok",
	}
	if err := s.Emit(ctx, want); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	mu.Lock()
	defer mu.Unlock()
	if received.RequestID != want.RequestID {
		t.Errorf("requestId = %q, want %q", received.RequestID, want.RequestID)
	}
	if received.At.IsZero() {
		t.Error("Emit did not stamp At")
	}
}

func TestSink_KeyValue(t *testing.T) {
	s := testConnect(t)

	bucket := "test-kv-" + t.Name()
	ctx := context.Background()

	kv, err := s.KeyValue(ctx, bucket, 30*time.Second)
	if err != nil {
		t.Fatalf("KeyValue: %v", err)
	}

	if _, err := kv.Put(ctx, "greeting", []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entry, err := kv.Get(ctx, "greeting")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(entry.Value()) != "hello" {
		t.Errorf("value = %q, want %q", string(entry.Value()), "hello")
	}

	if err := kv.Delete(ctx, "greeting"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := kv.Get(ctx, "greeting"); err == nil {
		t.Error("expected error after delete, got nil")
	}
}

func TestSink_IsConnected(t *testing.T) {
	s := testConnect(t)

	if !s.IsConnected() {
		t.Error("IsConnected() = false after Connect, want true")
	}
}
