package service

import (
	"context"
	"fmt"
	"time"

	"github.com/resflow/toolplane/internal/domain"
	"github.com/resflow/toolplane/internal/domain/tool"
	"github.com/resflow/toolplane/internal/registry"
)

// plan synthesizes a deterministic, read-only simulation of the
// execution: ordered steps with willExecute flags honoring any skip
// options in the payload, timing, and dependency readiness. No
// persistent write happens on this path. An invalid payload yields the
// same coded failure envelope as any other pre-execution rejection.
func (e *Executor) plan(ctx context.Context, req tool.ExecutionRequest, t *registry.Tool, start time.Time) any {
	if err := e.registry.ValidateInput(req.Tool, req.Payload); err != nil {
		return e.deny(ctx, req, start, domain.AsError(err))
	}

	p := &tool.Plan{
		SideEffects:     []string{},
		RequiredSecrets: t.RequiredSecrets,
		Risk:            t.Risk,
	}

	var totalMs int64
	for _, spec := range t.Steps {
		step := tool.PlanStep{
			Name:        spec.Name,
			Description: spec.Description,
			WillExecute: true,
			External:    spec.External,
			EstimateMs:  spec.EstimateMs,
		}
		if spec.SkipOption != "" {
			if skip, ok := req.Payload[spec.SkipOption].(bool); ok && skip {
				step.WillExecute = false
				step.SkipReason = fmt.Sprintf("payload option %q is set", spec.SkipOption)
			}
		}
		if step.WillExecute {
			totalMs += step.EstimateMs
			if t.Mutates {
				p.SideEffects = append(p.SideEffects, step.Name)
			}
		}
		p.Steps = append(p.Steps, step)
	}
	p.Timing = tool.PlanTiming{EstimatedMs: totalMs}

	var missing []string
	for _, dep := range t.Dependencies {
		configured := e.cfg.Dependencies[dep]
		p.Dependencies = append(p.Dependencies, tool.DependencyStatus{Name: dep, Configured: configured})
		if !configured {
			missing = append(missing, "dependency:"+dep)
		}
	}
	for _, secret := range t.RequiredSecrets {
		if !e.cfg.Secrets[secret] {
			missing = append(missing, "secret:"+secret)
		}
	}
	p.Readiness = tool.PlanReadiness{Ready: len(missing) == 0, Missing: missing}

	end := e.now()
	return &tool.PlanResponse{
		OK:          true,
		Tool:        req.Tool,
		Mode:        tool.ModePlan,
		Plan:        p,
		GeneratedAt: end.UTC(),
		DurationMs:  end.Sub(start).Milliseconds(),
	}
}
