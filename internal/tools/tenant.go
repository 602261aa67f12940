package tools

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/resflow/toolplane/internal/domain"
	"github.com/resflow/toolplane/internal/domain/tenant"
	"github.com/resflow/toolplane/internal/domain/tool"
	"github.com/resflow/toolplane/internal/registry"
)

func registerTenantTools(reg *registry.Registry, _ Deps) error {
	if err := reg.Register(tool.Definition{
		Name:             "tenant.provision",
		Category:         "tenant",
		Description:      "Creates a tenant account with its default settings.",
		Mutates:          true,
		Risk:             tool.RiskHigh,
		RequiresApproval: true,
		RequiredScope:    "tenant.write",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"slug", "name"},
			"properties": map[string]any{
				"slug":       map[string]any{"type": "string", "pattern": "^[a-z][a-z0-9-]{1,62}[a-z0-9]$"},
				"name":       map[string]any{"type": "string", "minLength": 1, "maxLength": 200},
				"plan":       map[string]any{"type": "string", "enum": []any{"starter", "growth", "enterprise"}},
				"skipSeed":   map[string]any{"type": "boolean"},
				"skipNotify": map[string]any{"type": "boolean"},
			},
			"additionalProperties": false,
		},
		OutputSchema: map[string]any{
			"type":     "object",
			"required": []any{"tenantId", "slug"},
			"properties": map[string]any{
				"tenantId": map[string]any{"type": "string"},
				"slug":     map[string]any{"type": "string"},
				"seeded":   map[string]any{"type": "boolean"},
				"notified": map[string]any{"type": "boolean"},
			},
		},
		Steps: []tool.StepSpec{
			{Name: "validate-slug", Description: "check slug format and availability", EstimateMs: 10},
			{Name: "insert-tenant", Description: "create the tenant row", EstimateMs: 50},
			{Name: "seed-defaults", Description: "seed plan default settings", SkipOption: "skipSeed", EstimateMs: 80},
			{Name: "notify-ops", Description: "announce the new tenant", SkipOption: "skipNotify", External: "event-stream", EstimateMs: 40},
		},
		Dependencies: []string{"postgres", "event-stream"},
	}, provisionTenant); err != nil {
		return err
	}

	if err := reg.Register(tool.Definition{
		Name:             "tenant.deactivate",
		Category:         "tenant",
		Description:      "Disables a tenant account; bookings stop immediately.",
		Mutates:          true,
		Risk:             tool.RiskHigh,
		RequiresApproval: true,
		RequiredScope:    "tenant.write",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"slug"},
			"properties": map[string]any{
				"slug": map[string]any{"type": "string"},
			},
			"additionalProperties": false,
		},
		Steps: []tool.StepSpec{
			{Name: "disable-tenant", Description: "flip the enabled flag off", EstimateMs: 50},
		},
		Dependencies: []string{"postgres"},
	}, deactivateTenant); err != nil {
		return err
	}

	return reg.Register(tool.Definition{
		Name:          "tenant.inspect",
		Category:      "tenant",
		Description:   "Returns a tenant's account record and settings.",
		Risk:          tool.RiskLow,
		RequiredScope: "tenant.read",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"slug"},
			"properties": map[string]any{
				"slug": map[string]any{"type": "string"},
			},
			"additionalProperties": false,
		},
		Dependencies: []string{"postgres"},
	}, inspectTenant)
}

func provisionTenant(ctx context.Context, ec registry.ExecContext, payload map[string]any) (any, error) {
	slug, _ := payload["slug"].(string)
	name, _ := payload["name"].(string)
	plan, _ := payload["plan"].(string)
	if plan == "" {
		plan = "starter"
	}
	skipSeed, _ := payload["skipSeed"].(bool)
	skipNotify, _ := payload["skipNotify"].(bool)

	if err := tenant.ValidateSlug(slug); err != nil {
		return nil, domain.E(domain.CodeExecutionError, "%v", err)
	}

	if ec.DryRun {
		return map[string]any{
			"tenantId": "",
			"slug":     slug,
			"seeded":   !skipSeed,
			"notified": !skipNotify,
			"dryRun":   true,
		}, nil
	}

	t := &tenant.Tenant{
		ID:      uuid.NewString(),
		Name:    name,
		Slug:    slug,
		Plan:    plan,
		Enabled: true,
	}
	if err := ec.Store.CreateTenant(ctx, t); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.E(domain.CodeExecutionError, "tenant slug %q is already taken", slug)
		}
		return nil, err
	}

	if !skipSeed {
		if err := ec.Store.SeedTenantDefaults(ctx, t.ID, planDefaults(plan)); err != nil {
			return nil, err
		}
	}
	if !skipNotify {
		ec.Log.Info("tenant provisioned", "slug", slug, "plan", plan, "requestId", ec.RequestID, "actor", ec.Actor.String())
	}

	return map[string]any{
		"tenantId": t.ID,
		"slug":     t.Slug,
		"seeded":   !skipSeed,
		"notified": !skipNotify,
	}, nil
}

// planDefaults are the settings seeded for a fresh tenant.
func planDefaults(plan string) map[string]string {
	defaults := map[string]string{
		"timezone":          "UTC",
		"currency":          "EUR",
		"bookingWindowDays": "30",
	}
	if plan == "enterprise" {
		defaults["bookingWindowDays"] = "365"
	}
	return defaults
}

func deactivateTenant(ctx context.Context, ec registry.ExecContext, payload map[string]any) (any, error) {
	slug, _ := payload["slug"].(string)

	t, err := ec.Store.GetTenantBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.E(domain.CodeExecutionError, "tenant %q not found", slug)
		}
		return nil, err
	}

	if ec.DryRun {
		return map[string]any{"slug": slug, "wasEnabled": t.Enabled, "dryRun": true}, nil
	}

	if err := ec.Store.SetTenantEnabled(ctx, slug, false); err != nil {
		return nil, err
	}
	ec.Log.Info("tenant deactivated", "slug", slug, "requestId", ec.RequestID, "actor", ec.Actor.String())
	return map[string]any{"slug": slug, "wasEnabled": t.Enabled, "enabled": false}, nil
}

func inspectTenant(ctx context.Context, ec registry.ExecContext, payload map[string]any) (any, error) {
	slug, _ := payload["slug"].(string)

	t, err := ec.Store.GetTenantBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.E(domain.CodeExecutionError, "tenant %q not found", slug)
		}
		return nil, err
	}
	return map[string]any{
		"id":        t.ID,
		"name":      t.Name,
		"slug":      t.Slug,
		"plan":      t.Plan,
		"enabled":   t.Enabled,
		"settings":  t.Settings,
		"createdAt": t.CreatedAt.Format(time.RFC3339),
		"updatedAt": t.UpdatedAt.Format(time.RFC3339),
	}, nil
}
