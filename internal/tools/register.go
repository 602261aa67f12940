// Package tools holds the built-in tool catalog: every operation the
// control plane can invoke is registered here, enumerable and statically
// auditable.
package tools

import (
	"fmt"

	"github.com/resflow/toolplane/internal/registry"
)

// Deps carries process-level checks the tool handlers close over.
type Deps struct {
	// NATSConnected reports event stream connectivity for system.health.
	NATSConnected func() bool
}

// RegisterAll populates the registry with the built-in catalog and
// seals it. Called once from main.
func RegisterAll(reg *registry.Registry, deps Deps) error {
	type entry struct {
		name     string
		register func(*registry.Registry, Deps) error
	}
	for _, e := range []entry{
		{"tenant", registerTenantTools},
		{"config", registerConfigTools},
		{"calendar", registerCalendarTools},
		{"system", registerSystemTools},
	} {
		if err := e.register(reg, deps); err != nil {
			return fmt.Errorf("register %s tools: %w", e.name, err)
		}
	}
	reg.Seal()
	return nil
}
