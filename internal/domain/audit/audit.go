// Package audit defines the append-only execution audit record.
package audit

import (
	"strings"
	"time"
)

// Outcome classifies how an execution attempt ended.
type Outcome string

const (
	OutcomeOK               Outcome = "ok"
	OutcomeError            Outcome = "error"
	OutcomeDenied           Outcome = "denied"
	OutcomeApprovalRequired Outcome = "approval_required"
)

// Entry is one immutable line of the audit trail. Args are redacted before
// the entry is ever constructed; raw secrets never reach this type.
type Entry struct {
	ID         int64          `json:"id,omitempty"`
	RequestID  string         `json:"requestId"`
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args,omitempty"`
	Actor      string         `json:"actor"`
	Outcome    Outcome        `json:"outcome"`
	Summary    string         `json:"summary,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"durationMs"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Masked replaces redacted values.
const Masked = "[REDACTED]"

// sensitiveFragments are matched case-insensitively against field names.
var sensitiveFragments = []string{
	"secret", "token", "password", "passwd", "apikey", "api_key",
	"credential", "authorization", "private",
}

func sensitive(field string) bool {
	f := strings.ToLower(field)
	for _, frag := range sensitiveFragments {
		if strings.Contains(f, frag) {
			return true
		}
	}
	return false
}

// Redact returns a deep copy of args with sensitive values masked.
// The input is never modified.
func Redact(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if sensitive(k) {
			out[k] = Masked
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Redact(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}
