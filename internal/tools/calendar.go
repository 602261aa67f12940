package tools

import (
	"context"
	"errors"

	"github.com/resflow/toolplane/internal/domain"
	"github.com/resflow/toolplane/internal/domain/tool"
	"github.com/resflow/toolplane/internal/registry"
)

func registerCalendarTools(reg *registry.Registry, _ Deps) error {
	resyncInput := map[string]any{
		"type":     "object",
		"required": []any{"slug"},
		"properties": map[string]any{
			"slug": map[string]any{"type": "string"},
			"full": map[string]any{"type": "boolean"},
		},
		"additionalProperties": false,
	}
	resyncOutput := map[string]any{
		"type":     "object",
		"required": []any{"tenantSlug"},
		"properties": map[string]any{
			"tenantSlug":   map[string]any{"type": "string"},
			"eventsPushed": map[string]any{"type": "integer"},
			"eventsPulled": map[string]any{"type": "integer"},
			"conflicts":    map[string]any{"type": "integer"},
		},
	}
	resyncSteps := []tool.StepSpec{
		{Name: "resolve-tenant", Description: "look up the tenant record", EstimateMs: 20},
		{Name: "trigger-resync", Description: "ask the calendar service to resync", External: "calendar-sync", EstimateMs: 1500},
	}

	if err := reg.Register(tool.Definition{
		Name:          "calendar.resync",
		Category:      "calendar",
		Description:   "Triggers a calendar resync for one tenant.",
		Mutates:       true,
		Risk:          tool.RiskMedium,
		RequiredScope: "booking.write",
		InputSchema:   resyncInput,
		OutputSchema:  resyncOutput,
		Steps:         resyncSteps,
		Dependencies:  []string{"postgres", "calendar-sync"},
	}, resyncCalendar); err != nil {
		return err
	}

	// Kept for callers still on the old name; same handler underneath.
	return reg.Register(tool.Definition{
		Name:          "booking.resync",
		Category:      "calendar",
		Description:   "Triggers a calendar resync for one tenant (old name).",
		Mutates:       true,
		Risk:          tool.RiskMedium,
		RequiredScope: "booking.write",
		Deprecated:    true,
		ReplacedBy:    "calendar.resync",
		InputSchema:   resyncInput,
		OutputSchema:  resyncOutput,
		Steps:         resyncSteps,
		Dependencies:  []string{"postgres", "calendar-sync"},
	}, resyncCalendar)
}

func resyncCalendar(ctx context.Context, ec registry.ExecContext, payload map[string]any) (any, error) {
	slug, _ := payload["slug"].(string)
	full, _ := payload["full"].(bool)

	t, err := ec.Store.GetTenantBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.E(domain.CodeExecutionError, "tenant %q not found", slug)
		}
		return nil, err
	}
	if !t.Enabled {
		return nil, domain.E(domain.CodeExecutionError, "tenant %q is disabled", slug)
	}

	if ec.DryRun {
		return map[string]any{"tenantSlug": slug, "full": full, "dryRun": true}, nil
	}

	report, err := ec.Calendar.Resync(ctx, slug, full)
	if err != nil {
		return nil, domain.E(domain.CodeExecutionError, "calendar resync for %s failed: %v", slug, err)
	}
	ec.Log.Info("calendar resync completed",
		"slug", slug, "full", full,
		"pushed", report.EventsPushed, "pulled", report.EventsPulled,
		"conflicts", report.Conflicts, "requestId", ec.RequestID)
	return report, nil
}
