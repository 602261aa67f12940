package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/resflow/toolplane/internal/domain"
	"github.com/resflow/toolplane/internal/domain/tool"
)

// envelopeKeys are the legacy top-level fields that are never treated as
// payload when flat fields are collected.
var envelopeKeys = map[string]bool{
	"tool": true, "requestId": true, "dryRun": true,
	"args": true, "input": true, "actor": true,
}

type canonicalEnvelope struct {
	Tool    string         `json:"tool"`
	Payload map[string]any `json:"payload"`
	Meta    *canonicalMeta `json:"meta"`
}

type canonicalMeta struct {
	RequestID     string      `json:"requestId"`
	DryRun        bool        `json:"dryRun"`
	Mode          string      `json:"mode"`
	Approved      bool        `json:"approved"`
	ApprovalToken string      `json:"approvalToken"`
	Actor         *tool.Actor `json:"actor"`
}

type legacyEnvelope struct {
	Tool      string         `json:"tool"`
	RequestID string         `json:"requestId"`
	DryRun    bool           `json:"dryRun"`
	Args      map[string]any `json:"args"`
	Input     map[string]any `json:"input"`
	Actor     *tool.Actor    `json:"actor"`
}

// parseEnvelope normalizes a request body into an ExecutionRequest. Two
// shapes are accepted for compatibility, tried strictest first: the
// canonical {tool, payload, meta} form, then the legacy flat form where
// payload comes from args, input, or the leftover top-level fields.
func parseEnvelope(body []byte) (tool.ExecutionRequest, *domain.Error) {
	if req, ok := parseCanonical(body); ok {
		return validateEnvelope(req)
	}
	req, derr := parseLegacy(body)
	if derr != nil {
		return tool.ExecutionRequest{}, derr
	}
	return validateEnvelope(req)
}

func parseCanonical(body []byte) (tool.ExecutionRequest, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var env canonicalEnvelope
	if err := dec.Decode(&env); err != nil {
		return tool.ExecutionRequest{}, false
	}
	if env.Meta == nil {
		return tool.ExecutionRequest{}, false
	}

	req := tool.ExecutionRequest{
		Tool:          env.Tool,
		Payload:       env.Payload,
		RequestID:     env.Meta.RequestID,
		DryRun:        env.Meta.DryRun,
		Mode:          tool.Mode(env.Meta.Mode),
		Approved:      env.Meta.Approved,
		ApprovalToken: env.Meta.ApprovalToken,
	}
	if env.Meta.Actor != nil {
		req.Actor = *env.Meta.Actor
	}
	return req, true
}

func parseLegacy(body []byte) (tool.ExecutionRequest, *domain.Error) {
	var env legacyEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return tool.ExecutionRequest{}, domain.E(domain.CodeInvalidBody, "request body is not valid JSON: %v", err).
			WithHelp("send {tool, payload, meta:{requestId}} as application/json")
	}

	// Payload priority: nested args, then nested input, then every
	// top-level field outside the envelope.
	payload := env.Args
	if payload == nil {
		payload = env.Input
	}
	if payload == nil {
		var raw map[string]any
		if err := json.Unmarshal(body, &raw); err == nil {
			flat := make(map[string]any)
			for k, v := range raw {
				if !envelopeKeys[k] {
					flat[k] = v
				}
			}
			if len(flat) > 0 {
				payload = flat
			}
		}
	}

	req := tool.ExecutionRequest{
		Tool:      env.Tool,
		Payload:   payload,
		RequestID: env.RequestID,
		DryRun:    env.DryRun,
		Mode:      tool.ModeExecute,
	}
	if env.Actor != nil {
		req.Actor = *env.Actor
	}
	return req, nil
}

// validateEnvelope checks the normalized request and reports every
// offending field at once.
func validateEnvelope(req tool.ExecutionRequest) (tool.ExecutionRequest, *domain.Error) {
	if req.Mode == "" {
		req.Mode = tool.ModeExecute
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}

	var fields []string
	if req.Tool == "" {
		fields = append(fields, "tool: required")
	}
	switch req.Mode {
	case tool.ModePlan, tool.ModeExecute:
	default:
		fields = append(fields, fmt.Sprintf("meta.mode: must be %q or %q", tool.ModePlan, tool.ModeExecute))
	}
	if req.Mode == tool.ModeExecute && req.RequestID == "" {
		fields = append(fields, "meta.requestId: required for execute mode")
	}
	if len(req.RequestID) > 128 {
		fields = append(fields, "meta.requestId: too long (max 128 chars)")
	}

	if len(fields) > 0 {
		sort.Strings(fields)
		return req, domain.E(domain.CodeInvalidBody, "request body failed validation").
			WithDetails(map[string]any{"fields": fields}).
			WithHelp("send {tool, payload, meta:{requestId}} as application/json")
	}
	return req, nil
}
