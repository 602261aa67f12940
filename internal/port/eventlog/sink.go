// Package eventlog defines the port for the non-blocking execution event log.
package eventlog

import (
	"context"
	"time"
)

// Event is one structured record of an execution attempt, published
// alongside (but decoupled from) the durable audit trail.
type Event struct {
	Type      string         `json:"type"` // "tool.executed", "tool.denied", "approval.created", ...
	RequestID string         `json:"requestId,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Outcome   string         `json:"outcome,omitempty"`
	At        time.Time      `json:"at"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Sink publishes events to a durable stream. Implementations must not
// block the request path longer than a publish ack.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}
