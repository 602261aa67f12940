package service

import (
	"context"

	"github.com/resflow/toolplane/internal/domain/audit"
	"github.com/resflow/toolplane/internal/port/database"
)

// AuditService exposes read access to the audit trail.
type AuditService struct {
	store database.Store
}

// NewAuditService creates the audit query service.
func NewAuditService(store database.Store) *AuditService {
	return &AuditService{store: store}
}

// List returns audit entries matching the filter, newest first.
func (s *AuditService) List(ctx context.Context, filter database.AuditFilter) ([]audit.Entry, error) {
	return s.store.ListAudit(ctx, filter)
}
