// Package registry is the canonical catalog of invocable tools. A tool
// absent from the registry cannot be executed; there is no side-channel
// allow-list.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/resflow/toolplane/internal/domain"
	"github.com/resflow/toolplane/internal/domain/tool"
	"github.com/resflow/toolplane/internal/port/calendar"
	"github.com/resflow/toolplane/internal/port/database"
)

// ExecContext carries the per-invocation dependencies handed to a tool.
type ExecContext struct {
	Store     database.Store
	Calendar  calendar.Client
	DryRun    bool
	RequestID string
	Actor     tool.Actor
	Log       *slog.Logger
}

// Handler runs one tool invocation.
type Handler func(ctx context.Context, ec ExecContext, payload map[string]any) (any, error)

// Tool pairs a catalog definition with its handler and compiled schemas.
type Tool struct {
	tool.Definition
	Handler Handler

	inputSchema  *jsonschema.Schema
	outputSchema *jsonschema.Schema
}

// Registry maps tool names to Tools. It is populated once at startup and
// read-only afterwards, so lookups need no locking.
type Registry struct {
	tools  map[string]*Tool
	sealed bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool to the catalog, compiling its schemas.
// Registration happens during startup only; duplicate names are a
// programming error.
func (r *Registry) Register(def tool.Definition, handler Handler) error {
	if r.sealed {
		return fmt.Errorf("register %s: registry is sealed", def.Name)
	}
	if err := def.Validate(); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("register %s: already registered", def.Name)
	}
	if handler == nil {
		return fmt.Errorf("register %s: nil handler", def.Name)
	}

	t := &Tool{Definition: def, Handler: handler}

	var err error
	if def.InputSchema != nil {
		t.inputSchema, err = compileSchema(def.Name+"/input.json", def.InputSchema)
		if err != nil {
			return fmt.Errorf("register %s: input schema: %w", def.Name, err)
		}
	}
	if def.OutputSchema != nil {
		t.outputSchema, err = compileSchema(def.Name+"/output.json", def.OutputSchema)
		if err != nil {
			return fmt.Errorf("register %s: output schema: %w", def.Name, err)
		}
	}

	r.tools[def.Name] = t
	return nil
}

// Seal marks registration complete. Further Register calls fail.
func (r *Registry) Seal() {
	r.sealed = true
}

// Lookup returns the tool with the given name, or a TOOL_NOT_IN_REGISTRY
// error listing the available tools.
func (r *Registry) Lookup(name string) (*Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, domain.E(domain.CodeToolNotInRegistry, "tool %q is not in the registry", name).
			WithDetails(map[string]any{"availableTools": r.Names()}).
			WithHelp("see GET /api/v1/tools for the catalog")
	}
	return t, nil
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns definitions filtered by category and deprecation.
// An empty category matches everything.
func (r *Registry) List(category string, includeDeprecated bool) []tool.Definition {
	var defs []tool.Definition
	for _, name := range r.Names() {
		t := r.tools[name]
		if category != "" && t.Category != category {
			continue
		}
		if t.Deprecated && !includeDeprecated {
			continue
		}
		defs = append(defs, t.Definition)
	}
	return defs
}
