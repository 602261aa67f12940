package tool

import "time"

// PlanStep is one entry of a synthesized execution plan.
type PlanStep struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	WillExecute bool   `json:"willExecute"`
	SkipReason  string `json:"skipReason,omitempty"`
	External    string `json:"external,omitempty"`
	EstimateMs  int64  `json:"estimateMs"`
}

// DependencyStatus reports whether an external dependency a plan needs is
// configured.
type DependencyStatus struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
}

// PlanTiming summarizes the expected duration of the executable steps.
type PlanTiming struct {
	EstimatedMs int64 `json:"estimatedMs"`
}

// PlanReadiness reports whether the tool could run right now.
type PlanReadiness struct {
	Ready   bool     `json:"ready"`
	Missing []string `json:"missing,omitempty"`
}

// Plan is a read-only simulation of what an execution would do.
type Plan struct {
	Steps           []PlanStep         `json:"steps"`
	SideEffects     []string           `json:"sideEffects"`
	RequiredSecrets []string           `json:"requiredSecrets"`
	Dependencies    []DependencyStatus `json:"dependencies"`
	Risk            Risk               `json:"risk"`
	Timing          PlanTiming         `json:"timing"`
	Readiness       PlanReadiness      `json:"readiness"`
}

// PlanResponse is the plan-mode response envelope.
type PlanResponse struct {
	OK          bool      `json:"ok"`
	Tool        string    `json:"tool"`
	Mode        Mode      `json:"mode"`
	Plan        *Plan     `json:"plan"`
	GeneratedAt time.Time `json:"generatedAt"`
	DurationMs  int64     `json:"durationMs"`
}
