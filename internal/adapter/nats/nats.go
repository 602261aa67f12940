// Package nats implements the event log port using NATS JetStream.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/resflow/toolplane/internal/port/eventlog"
)

const streamName = "TOOLPLANE"

// Sink publishes execution events to a JetStream stream. It also hands
// out KeyValue buckets backed by the same connection.
type Sink struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string) (*Sink, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	// Ensure the stream exists with subjects matching our event types.
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"tools.>", "approvals.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Sink{nc: nc, js: js}, nil
}

// Emit publishes one event to the stream. The subject is derived from
// the event type, so "tool.executed" lands on "tools.executed" and
// "approval.created" on "approvals.created".
func (s *Sink) Emit(ctx context.Context, ev eventlog.Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Type, err)
	}
	if _, err := s.js.Publish(ctx, subjectFor(ev.Type), data); err != nil {
		return fmt.Errorf("nats publish %s: %w", ev.Type, err)
	}
	return nil
}

func subjectFor(eventType string) string {
	switch {
	case len(eventType) > 5 && eventType[:5] == "tool.":
		return "tools." + eventType[5:]
	case len(eventType) > 9 && eventType[:9] == "approval.":
		return "approvals." + eventType[9:]
	default:
		return "tools.other"
	}
}

// KeyValue returns (creating if needed) a KV bucket with the given TTL.
func (s *Sink) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := s.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream kv bucket %s: %w", bucket, err)
	}
	return kv, nil
}

// IsConnected reports whether the underlying connection is live.
func (s *Sink) IsConnected() bool {
	return s.nc != nil && s.nc.IsConnected()
}

// Close shuts down the NATS connection.
func (s *Sink) Close() error {
	s.nc.Close()
	return nil
}

var _ eventlog.Sink = (*Sink)(nil)
