// Package calendar defines the port for the external calendar sync service.
// The control plane only triggers resyncs; availability computation lives
// entirely on the other side of this interface.
package calendar

import "context"

// ResyncReport summarizes one completed resync run.
type ResyncReport struct {
	TenantSlug   string `json:"tenantSlug"`
	EventsPushed int    `json:"eventsPushed"`
	EventsPulled int    `json:"eventsPulled"`
	Conflicts    int    `json:"conflicts"`
}

// Client talks to the calendar sync service.
type Client interface {
	Resync(ctx context.Context, tenantSlug string, full bool) (*ResyncReport, error)
	Ping(ctx context.Context) error
}
