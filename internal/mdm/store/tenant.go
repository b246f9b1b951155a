package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateTenant creates a new tenant row (SPEC_FULL.md §3 supplemental).
func (s *Store) CreateTenant(ctx context.Context, name, domain string) (*Tenant, error) {
	t := &Tenant{
		ID:        uuid.NewString(),
		Name:      name,
		Domain:    domain,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		IsActive:  true,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, domain, created_at, updated_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.Name, t.Domain, t.CreatedAt, t.UpdatedAt, t.IsActive)
	if err != nil {
		return nil, fmt.Errorf("store: CreateTenant: %w", err)
	}
	return t, nil
}

// GetTenant retrieves a tenant by id, or nil if unknown.
func (s *Store) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	t := &Tenant{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, domain, created_at, updated_at, is_active FROM tenants WHERE id = ?
	`, id).Scan(&t.ID, &t.Name, &t.Domain, &t.CreatedAt, &t.UpdatedAt, &t.IsActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: GetTenant: %w", err)
	}
	return t, nil
}

// ListTenants returns all active tenants.
func (s *Store) ListTenants(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, domain, created_at, updated_at, is_active
		FROM tenants WHERE is_active = 1 ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("store: ListTenants: %w", err)
	}
	defer rows.Close()

	var out []*Tenant
	for rows.Next() {
		t := &Tenant{}
		if err := rows.Scan(&t.ID, &t.Name, &t.Domain, &t.CreatedAt, &t.UpdatedAt, &t.IsActive); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
