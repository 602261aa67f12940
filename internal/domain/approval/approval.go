// Package approval defines the time-boxed approval request record and its
// state machine. Every transition is validated against an explicit table;
// nothing outside the table is reachable.
package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/resflow/toolplane/internal/domain"
)

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExecuted Status = "executed"
	StatusExpired  Status = "expired"
)

// transitions is the complete state machine:
// pending → approved → executed, with rejected and expired as terminal exits.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusExpired},
	StatusApproved: {StatusExecuted, StatusExpired},
	StatusRejected: {},
	StatusExecuted: {},
	StatusExpired:  {},
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an INVALID_TRANSITION error naming the current
// status when from → to is not allowed.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return domain.E(domain.CodeInvalidTransition,
			"cannot transition approval request from %q to %q", from, to)
	}
	return nil
}

// Request is a persisted gate in front of a high-risk tool execution.
type Request struct {
	ID          string         `json:"id"`
	RequestID   string         `json:"requestId"`
	Tool        string         `json:"tool"`
	Payload     map[string]any `json:"payload"`
	PayloadHash string         `json:"payloadHash"`
	Status      Status         `json:"status"`
	RequestedBy string         `json:"requestedBy"`
	ApprovedBy  string         `json:"approvedBy,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	ApprovedAt  time.Time      `json:"approvedAt,omitzero"`
	ExecutedAt  time.Time      `json:"executedAt,omitzero"`
	ExpiresAt   time.Time      `json:"expiresAt"`
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// ExpiredAt reports whether the request's review window has closed.
// Terminal states never expire retroactively.
func (r *Request) ExpiredAt(now time.Time) bool {
	if r.Status != StatusPending && r.Status != StatusApproved {
		return false
	}
	return now.After(r.ExpiresAt)
}

// VerifyPayload recomputes the payload hash and compares it to the stored
// hash. A mismatch means the payload changed after approval.
func (r *Request) VerifyPayload() error {
	h, err := HashPayload(r.Payload)
	if err != nil {
		return domain.E(domain.CodeIntegrityError, "hash payload: %v", err)
	}
	if h != r.PayloadHash {
		return domain.E(domain.CodeIntegrityError,
			"payload hash mismatch for approval request %s", r.ID).
			WithHelp("the payload changed after approval; create a new approval request")
	}
	return nil
}

// HashPayload computes the deterministic content hash of a payload.
// encoding/json sorts map keys, so equal payloads always produce equal
// hashes regardless of insertion order.
func HashPayload(payload map[string]any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
