package store

import (
	"context"
	"fmt"
)

// GetTenantCA returns the stored CA certificate and key PEM for a
// tenant, or empty strings if none has been generated yet.
func (s *Store) GetTenantCA(ctx context.Context, tenantID string) (certPEM, keyPEM string, err error) {
	var cp, kp []byte
	row := s.db.QueryRowContext(ctx, `SELECT ca_cert_pem, ca_key_pem FROM tenants WHERE id = ?`, tenantID)
	if err := row.Scan(&cp, &kp); err != nil {
		return "", "", fmt.Errorf("store: GetTenantCA: %w", err)
	}
	return string(cp), string(kp), nil
}

// UpdateTenantCA persists a newly generated (or rotated) CA for a
// tenant.
func (s *Store) UpdateTenantCA(ctx context.Context, tenantID, certPEM, keyPEM string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tenants SET ca_cert_pem = ?, ca_key_pem = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		certPEM, keyPEM, tenantID)
	if err != nil {
		return fmt.Errorf("store: UpdateTenantCA: %w", err)
	}
	return nil
}
