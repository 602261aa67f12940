package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/resflow/toolplane/internal/domain"
	"github.com/resflow/toolplane/internal/domain/tool"
	"github.com/resflow/toolplane/internal/registry"
)

// settingsSchema constrains the per-tenant settings document that
// config.validate checks and config.apply writes.
var settingsSchema = mustCompileSettings(map[string]any{
	"type": "object",
	"properties": map[string]any{
		"timezone":          map[string]any{"type": "string", "minLength": 1},
		"currency":          map[string]any{"type": "string", "pattern": "^[A-Z]{3}$"},
		"bookingWindowDays": map[string]any{"type": "string", "pattern": "^[0-9]{1,4}$"},
		"reminderHours":     map[string]any{"type": "string", "pattern": "^[0-9]{1,3}$"},
		"cancellationFee":   map[string]any{"type": "string", "pattern": "^[0-9]+(\\.[0-9]{1,2})?$"},
	},
	"additionalProperties": false,
})

var settingsPrinter = message.NewPrinter(language.English)

func mustCompileSettings(doc map[string]any) *jsonschema.Schema {
	raw, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("settings schema: %v", err))
	}
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("settings schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("settings.json", parsed); err != nil {
		panic(fmt.Sprintf("settings schema: %v", err))
	}
	s, err := c.Compile("settings.json")
	if err != nil {
		panic(fmt.Sprintf("settings schema: %v", err))
	}
	return s
}

func registerConfigTools(reg *registry.Registry, _ Deps) error {
	settingsInput := map[string]any{
		"type":     "object",
		"required": []any{"slug", "settings"},
		"properties": map[string]any{
			"slug": map[string]any{"type": "string"},
			"settings": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
		},
		"additionalProperties": false,
	}

	if err := reg.Register(tool.Definition{
		Name:          "config.validate",
		Category:      "config",
		Description:   "Checks a tenant settings document without writing it.",
		Risk:          tool.RiskLow,
		RequiredScope: "config.read",
		InputSchema:   settingsInput,
		OutputSchema: map[string]any{
			"type":     "object",
			"required": []any{"valid"},
			"properties": map[string]any{
				"valid":      map[string]any{"type": "boolean"},
				"violations": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
		},
	}, validateConfig); err != nil {
		return err
	}

	return reg.Register(tool.Definition{
		Name:          "config.apply",
		Category:      "config",
		Description:   "Validates and writes a tenant settings document.",
		Mutates:       true,
		Risk:          tool.RiskMedium,
		RequiredScope: "config.write",
		InputSchema:   settingsInput,
		Steps: []tool.StepSpec{
			{Name: "validate-settings", Description: "check the document against the settings schema", EstimateMs: 10},
			{Name: "apply-settings", Description: "merge the settings into the tenant record", EstimateMs: 60},
		},
		Dependencies: []string{"postgres"},
	}, applyConfig)
}

func settingsFromPayload(payload map[string]any) map[string]string {
	raw, _ := payload["settings"].(map[string]any)
	settings := make(map[string]string, len(raw))
	for k, v := range raw {
		s, _ := v.(string)
		settings[k] = s
	}
	return settings
}

// checkSettings runs the settings schema and flattens the result into one
// operator-readable violation string per offending key.
func checkSettings(settings map[string]string) []string {
	doc := make(map[string]any, len(settings))
	for k, v := range settings {
		doc[k] = v
	}
	err := settingsSchema.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []string{err.Error()}
	}
	violations := flattenSettings(verr)
	sort.Strings(violations)
	return violations
}

func flattenSettings(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.ErrorKind.LocalizedString(settingsPrinter))}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, flattenSettings(cause)...)
	}
	return out
}

func validateConfig(_ context.Context, _ registry.ExecContext, payload map[string]any) (any, error) {
	violations := checkSettings(settingsFromPayload(payload))
	if violations == nil {
		violations = []string{}
	}
	return map[string]any{
		"valid":      len(violations) == 0,
		"violations": violations,
	}, nil
}

func applyConfig(ctx context.Context, ec registry.ExecContext, payload map[string]any) (any, error) {
	slug, _ := payload["slug"].(string)
	settings := settingsFromPayload(payload)

	if violations := checkSettings(settings); len(violations) > 0 {
		return nil, domain.E(domain.CodeExecutionError, "settings document is invalid").
			WithDetails(map[string]any{"violations": violations}).
			WithHelp("run config.validate for the full report")
	}

	if ec.DryRun {
		return map[string]any{"slug": slug, "applied": false, "keys": settingsKeys(settings), "dryRun": true}, nil
	}

	if err := ec.Store.UpdateTenantSettings(ctx, slug, settings); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.E(domain.CodeExecutionError, "tenant %q not found", slug)
		}
		return nil, err
	}
	ec.Log.Info("tenant settings applied", "slug", slug, "keys", len(settings), "requestId", ec.RequestID)
	return map[string]any{"slug": slug, "applied": true, "keys": settingsKeys(settings)}, nil
}

func settingsKeys(settings map[string]string) []string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
