package tools

import (
	"context"

	"github.com/resflow/toolplane/internal/domain/tool"
	"github.com/resflow/toolplane/internal/registry"
)

func registerSystemTools(reg *registry.Registry, deps Deps) error {
	return reg.Register(tool.Definition{
		Name:          "system.health",
		Category:      "system",
		Description:   "Reports connectivity of the control plane's backing services.",
		Risk:          tool.RiskLow,
		RequiredScope: "system.read",
		OutputSchema: map[string]any{
			"type":     "object",
			"required": []any{"status", "checks"},
			"properties": map[string]any{
				"status": map[string]any{"type": "string", "enum": []any{"ok", "degraded"}},
				"checks": map[string]any{
					"type":                 "object",
					"additionalProperties": map[string]any{"type": "string"},
				},
			},
		},
		Dependencies: []string{"postgres", "event-stream"},
	}, healthHandler(deps))
}

func healthHandler(deps Deps) registry.Handler {
	return func(ctx context.Context, ec registry.ExecContext, _ map[string]any) (any, error) {
		checks := map[string]string{}
		status := "ok"

		if err := ec.Store.Ping(ctx); err != nil {
			checks["postgres"] = err.Error()
			status = "degraded"
		} else {
			checks["postgres"] = "ok"
		}

		if deps.NATSConnected != nil && !deps.NATSConnected() {
			checks["nats"] = "disconnected"
			status = "degraded"
		} else {
			checks["nats"] = "ok"
		}

		if ec.Calendar != nil {
			if err := ec.Calendar.Ping(ctx); err != nil {
				checks["calendar"] = err.Error()
				status = "degraded"
			} else {
				checks["calendar"] = "ok"
			}
		}

		return map[string]any{"status": status, "checks": checks}, nil
	}
}
