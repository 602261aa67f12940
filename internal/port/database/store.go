// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/resflow/toolplane/internal/domain/approval"
	"github.com/resflow/toolplane/internal/domain/audit"
	"github.com/resflow/toolplane/internal/domain/tenant"
)

// AuditFilter narrows audit trail reads.
type AuditFilter struct {
	RequestID string
	Tool      string
	Limit     int
}

// Store is the port interface for database operations. Every write is a
// single atomic statement guarded by a uniqueness constraint or status
// precondition; precondition failures surface as domain.ErrConflict.
type Store interface {
	// Idempotency results (serialized response envelopes).
	GetCachedResponse(ctx context.Context, requestID string) ([]byte, bool, error)
	StoreResponse(ctx context.Context, requestID string, response []byte, expiresAt time.Time) error
	PurgeExpiredResponses(ctx context.Context, now time.Time) (int64, error)

	// Execution locks.
	AcquireLock(ctx context.Context, requestID string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, requestID string) error

	// Approval requests.
	CreateApproval(ctx context.Context, req *approval.Request) error
	GetApproval(ctx context.Context, id string) (*approval.Request, error)
	GetApprovalByRequestID(ctx context.Context, requestID string) (*approval.Request, error)
	ListApprovals(ctx context.Context, status approval.Status) ([]approval.Request, error)
	ApproveApproval(ctx context.Context, id, approvedBy string, at time.Time) error
	RejectApproval(ctx context.Context, id string) error
	MarkApprovalExecuted(ctx context.Context, id string, result any, execErr string, at time.Time) error
	MarkApprovalExpired(ctx context.Context, id string) error
	ExpireOverdueApprovals(ctx context.Context, now time.Time) (int64, error)

	// Audit trail (append-only).
	AppendAudit(ctx context.Context, entry *audit.Entry) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]audit.Entry, error)

	// Tenants (managed by the provisioning tools).
	CreateTenant(ctx context.Context, t *tenant.Tenant) error
	GetTenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error)
	SetTenantEnabled(ctx context.Context, slug string, enabled bool) error
	SeedTenantDefaults(ctx context.Context, tenantID string, settings map[string]string) error
	UpdateTenantSettings(ctx context.Context, slug string, settings map[string]string) error

	Ping(ctx context.Context) error
}
