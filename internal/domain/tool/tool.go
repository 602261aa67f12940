// Package tool defines the tool catalog types and the execution
// request/response shapes shared by the registry, executor, and HTTP layer.
package tool

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/resflow/toolplane/internal/domain"
)

// Risk classifies the blast radius of a tool.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Mode selects between simulating and running a tool.
type Mode string

const (
	ModePlan    Mode = "plan"
	ModeExecute Mode = "execute"
)

// Actor identifies who (or what) triggered an execution.
type Actor struct {
	Type string `json:"type"` // "service", "operator", "scheduler"
	ID   string `json:"id"`
}

func (a Actor) String() string {
	if a.Type == "" && a.ID == "" {
		return "unknown"
	}
	return a.Type + ":" + a.ID
}

// StepSpec declares one step of a tool's execution for plan synthesis.
// SkipOption names a boolean payload field that disables the step.
type StepSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	SkipOption  string `json:"skipOption,omitempty"`
	External    string `json:"external,omitempty"` // external dependency the step talks to
	EstimateMs  int64  `json:"estimateMs"`
}

// Definition is the immutable catalog entry for one invocable operation.
// Definitions are registered once at process start and never mutated.
type Definition struct {
	Name             string         `json:"name"` // dotted namespace, e.g. "tenant.provision"
	Category         string         `json:"category"`
	Description      string         `json:"description"`
	Mutates          bool           `json:"mutates"`
	Risk             Risk           `json:"risk"`
	RequiresApproval bool           `json:"requiresApproval"`
	RequiredScope    string         `json:"requiredScope,omitempty"`
	InputSchema      map[string]any `json:"inputSchema,omitempty"`
	OutputSchema     map[string]any `json:"outputSchema,omitempty"`
	Deprecated       bool           `json:"deprecated,omitempty"`
	ReplacedBy       string         `json:"replacedBy,omitempty"`
	Steps            []StepSpec     `json:"steps,omitempty"`
	RequiredSecrets  []string       `json:"requiredSecrets,omitempty"`
	Dependencies     []string       `json:"dependencies,omitempty"`
}

// DefaultScope is the catch-all scope required when a definition does not
// declare its own.
const DefaultScope = "tools.execute"

// Scope returns the scope required to invoke the tool.
func (d Definition) Scope() string {
	if d.RequiredScope != "" {
		return d.RequiredScope
	}
	return DefaultScope
}

// Validate checks a definition at registration time.
func (d Definition) Validate() error {
	if d.Name == "" {
		return errors.New("tool name is required")
	}
	if !strings.Contains(d.Name, ".") {
		return fmt.Errorf("tool name %q must be namespaced (ns.operation)", d.Name)
	}
	switch d.Risk {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		return fmt.Errorf("tool %s: invalid risk %q", d.Name, d.Risk)
	}
	if d.RequiresApproval && d.Risk != RiskHigh {
		return fmt.Errorf("tool %s: requiresApproval is reserved for high-risk tools", d.Name)
	}
	if d.Deprecated && d.ReplacedBy == "" {
		return fmt.Errorf("tool %s: deprecated tools must name a replacement", d.Name)
	}
	return nil
}

// ExecutionRequest is the normalized form of an inbound invocation,
// independent of which request envelope it arrived in.
type ExecutionRequest struct {
	RequestID     string         `json:"requestId"`
	Tool          string         `json:"tool"`
	Payload       map[string]any `json:"payload"`
	Mode          Mode           `json:"mode"`
	DryRun        bool           `json:"dryRun"`
	Approved      bool           `json:"approved"`
	ApprovalToken string         `json:"approvalToken,omitempty"`
	Actor         Actor          `json:"actor"`
}

// Meta carries response metadata.
type Meta struct {
	Cached  bool   `json:"cached"`
	Version string `json:"version"`
}

// Response is the execute-mode response envelope. It is cached verbatim
// against the requestId, so a retried call replays an identical body.
type Response struct {
	OK         bool          `json:"ok"`
	RequestID  string        `json:"requestId"`
	Tool       string        `json:"tool"`
	DryRun     bool          `json:"dryRun"`
	Result     any           `json:"result"`
	Error      *domain.Error `json:"error"`
	ExecutedAt time.Time     `json:"executedAt"`
	DurationMs int64         `json:"durationMs"`
	Meta       Meta          `json:"_meta"`
}
