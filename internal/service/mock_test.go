package service

import (
	"context"
	"sync"
	"time"

	"github.com/resflow/toolplane/internal/domain"
	"github.com/resflow/toolplane/internal/domain/approval"
	"github.com/resflow/toolplane/internal/domain/audit"
	"github.com/resflow/toolplane/internal/domain/tenant"
	"github.com/resflow/toolplane/internal/port/database"
	"github.com/resflow/toolplane/internal/port/eventlog"
)

// mockStore implements database.Store in memory for testing. Writes
// honor the same uniqueness and status preconditions as the Postgres
// adapter.
type mockStore struct {
	mu        sync.Mutex
	responses map[string][]byte
	expiries  map[string]time.Time
	locks     map[string]time.Time
	approvals map[string]*approval.Request
	audits    []audit.Entry
	tenants   map[string]*tenant.Tenant

	storeResponseCalls int
	now                func() time.Time
}

func newMockStore() *mockStore {
	return &mockStore{
		responses: make(map[string][]byte),
		expiries:  make(map[string]time.Time),
		locks:     make(map[string]time.Time),
		approvals: make(map[string]*approval.Request),
		tenants:   make(map[string]*tenant.Tenant),
		now:       time.Now,
	}
}

func (m *mockStore) GetCachedResponse(_ context.Context, requestID string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.responses[requestID]
	if !ok || m.expiries[requestID].Before(m.now()) {
		return nil, false, nil
	}
	return data, true, nil
}

func (m *mockStore) StoreResponse(_ context.Context, requestID string, response []byte, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeResponseCalls++
	if _, exists := m.responses[requestID]; exists {
		return nil // first finisher wins
	}
	m.responses[requestID] = response
	m.expiries[requestID] = expiresAt
	return nil
}

func (m *mockStore) PurgeExpiredResponses(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, exp := range m.expiries {
		if exp.Before(now) {
			delete(m.responses, id)
			delete(m.expiries, id)
			n++
		}
	}
	return n, nil
}

func (m *mockStore) AcquireLock(_ context.Context, requestID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, held := m.locks[requestID]; held && exp.After(m.now()) {
		return false, nil
	}
	m.locks[requestID] = m.now().Add(ttl)
	return true, nil
}

func (m *mockStore) ReleaseLock(_ context.Context, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, requestID)
	return nil
}

func (m *mockStore) CreateApproval(_ context.Context, req *approval.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.approvals {
		if existing.RequestID == req.RequestID {
			return domain.ErrConflict
		}
	}
	cp := *req
	m.approvals[req.ID] = &cp
	return nil
}

func (m *mockStore) GetApproval(_ context.Context, id string) (*approval.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ar, ok := m.approvals[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *ar
	return &cp, nil
}

func (m *mockStore) GetApprovalByRequestID(_ context.Context, requestID string) (*approval.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ar := range m.approvals {
		if ar.RequestID == requestID {
			cp := *ar
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListApprovals(_ context.Context, status approval.Status) ([]approval.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []approval.Request
	for _, ar := range m.approvals {
		if status != "" && ar.Status != status {
			continue
		}
		out = append(out, *ar)
	}
	return out, nil
}

func (m *mockStore) ApproveApproval(_ context.Context, id, approvedBy string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ar, ok := m.approvals[id]
	if !ok || ar.Status != approval.StatusPending {
		return domain.ErrConflict
	}
	ar.Status = approval.StatusApproved
	ar.ApprovedBy = approvedBy
	ar.ApprovedAt = at
	return nil
}

func (m *mockStore) RejectApproval(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ar, ok := m.approvals[id]
	if !ok || ar.Status != approval.StatusPending {
		return domain.ErrConflict
	}
	ar.Status = approval.StatusRejected
	return nil
}

func (m *mockStore) MarkApprovalExecuted(_ context.Context, id string, result any, execErr string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ar, ok := m.approvals[id]
	if !ok || ar.Status != approval.StatusApproved {
		return domain.ErrConflict
	}
	ar.Status = approval.StatusExecuted
	ar.ExecutedAt = at
	ar.Result = result
	ar.Error = execErr
	return nil
}

func (m *mockStore) MarkApprovalExpired(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ar, ok := m.approvals[id]
	if !ok || (ar.Status != approval.StatusPending && ar.Status != approval.StatusApproved) {
		return domain.ErrConflict
	}
	ar.Status = approval.StatusExpired
	return nil
}

func (m *mockStore) ExpireOverdueApprovals(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, ar := range m.approvals {
		if (ar.Status == approval.StatusPending || ar.Status == approval.StatusApproved) && now.After(ar.ExpiresAt) {
			ar.Status = approval.StatusExpired
			n++
		}
	}
	return n, nil
}

func (m *mockStore) AppendAudit(_ context.Context, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = int64(len(m.audits) + 1)
	entry.CreatedAt = m.now()
	m.audits = append(m.audits, *entry)
	return nil
}

func (m *mockStore) ListAudit(_ context.Context, filter database.AuditFilter) ([]audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Entry
	for i := len(m.audits) - 1; i >= 0; i-- {
		e := m.audits[i]
		if filter.RequestID != "" && e.RequestID != filter.RequestID {
			continue
		}
		if filter.Tool != "" && e.Tool != filter.Tool {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *mockStore) CreateTenant(_ context.Context, t *tenant.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tenants[t.Slug]; exists {
		return domain.ErrConflict
	}
	cp := *t
	m.tenants[t.Slug] = &cp
	return nil
}

func (m *mockStore) GetTenantBySlug(_ context.Context, slug string) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[slug]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockStore) SetTenantEnabled(_ context.Context, slug string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[slug]
	if !ok {
		return domain.ErrNotFound
	}
	t.Enabled = enabled
	return nil
}

func (m *mockStore) SeedTenantDefaults(_ context.Context, tenantID string, settings map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.ID == tenantID {
			if t.Settings == nil {
				t.Settings = make(map[string]string)
			}
			for k, v := range settings {
				t.Settings[k] = v
			}
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) UpdateTenantSettings(_ context.Context, slug string, settings map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[slug]
	if !ok {
		return domain.ErrNotFound
	}
	if t.Settings == nil {
		t.Settings = make(map[string]string)
	}
	for k, v := range settings {
		t.Settings[k] = v
	}
	return nil
}

func (m *mockStore) Ping(_ context.Context) error { return nil }

func (m *mockStore) auditOutcomes(requestID string) []audit.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Outcome
	for _, e := range m.audits {
		if e.RequestID == requestID {
			out = append(out, e.Outcome)
		}
	}
	return out
}

// mockCache is a trivial in-memory cache.
type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string][]byte)}
}

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// mockSink records emitted events.
type mockSink struct {
	mu     sync.Mutex
	events []eventlog.Event
}

func (s *mockSink) Emit(_ context.Context, ev eventlog.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}
