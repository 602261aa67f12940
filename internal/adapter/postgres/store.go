package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/resflow/toolplane/internal/domain"
	"github.com/resflow/toolplane/internal/domain/tenant"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

func (s *Store) CreateTenant(ctx context.Context, t *tenant.Tenant) error {
	settings, err := json.Marshal(orEmptySettings(t.Settings))
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err = s.pool.Exec(ctx,
		`INSERT INTO tenants (id, name, slug, plan, enabled, settings, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.Name, t.Slug, t.Plan, t.Enabled, settings, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create tenant %s: slug already exists: %w", t.Slug, domain.ErrConflict)
		}
		return fmt.Errorf("create tenant %s: %w", t.Slug, err)
	}
	return nil
}

func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, slug, plan, enabled, settings, created_at, updated_at
		 FROM tenants WHERE slug = $1`, slug)

	var t tenant.Tenant
	var settings []byte
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Plan, &t.Enabled, &settings, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get tenant %s", slug)
	}
	if err := json.Unmarshal(settings, &t.Settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings for tenant %s: %w", slug, err)
	}
	return &t, nil
}

func (s *Store) SetTenantEnabled(ctx context.Context, slug string, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET enabled = $2, updated_at = now() WHERE slug = $1`, slug, enabled)
	return execExpectOne(tag, err, "set tenant %s enabled=%v", slug, enabled)
}

func (s *Store) SeedTenantDefaults(ctx context.Context, tenantID string, settings map[string]string) error {
	data, err := json.Marshal(orEmptySettings(settings))
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET settings = settings || $2::jsonb, updated_at = now() WHERE id = $1`,
		tenantID, data)
	return execExpectOne(tag, err, "seed tenant %s defaults", tenantID)
}

func (s *Store) UpdateTenantSettings(ctx context.Context, slug string, settings map[string]string) error {
	data, err := json.Marshal(orEmptySettings(settings))
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET settings = settings || $2::jsonb, updated_at = now() WHERE slug = $1`,
		slug, data)
	return execExpectOne(tag, err, "update tenant %s settings", slug)
}

// orEmptySettings ensures JSON serialization produces {} instead of null.
func orEmptySettings(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
