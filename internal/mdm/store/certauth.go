package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AssociateCert binds a certificate hash to an enrollment. Called on
// Authenticate; trust-on-first-use (SPEC_FULL.md §4.3).
//
// Grounded on jessepeterson-nanomdm/storage/pgsql/certauth.go's
// AssociateCertHash, ported from Postgres ON CONFLICT ON CONSTRAINT to
// SQLite's ON CONFLICT(cols).
func (s *Store) AssociateCert(ctx context.Context, enrollmentID, certHash string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cert_auth (enrollment_id, cert_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(enrollment_id, cert_hash) DO UPDATE SET updated_at = excluded.updated_at
	`, enrollmentID, certHash, now, now)
	if err != nil {
		return fmt.Errorf("store: AssociateCert: %w", err)
	}
	return nil
}

// HasCertAuth reports whether certHash is bound to enrollmentID.
func (s *Store) HasCertAuth(ctx context.Context, enrollmentID, certHash string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM cert_auth WHERE enrollment_id = ? AND cert_hash = ? LIMIT 1
	`, enrollmentID, certHash).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: HasCertAuth: %w", err)
	}
	return true, nil
}

// EnrollmentFromHash resolves the enrollment currently bound to a
// certificate hash, or "" if none is bound.
func (s *Store) EnrollmentFromHash(ctx context.Context, certHash string) (string, error) {
	var enrollmentID string
	err := s.db.QueryRowContext(ctx, `
		SELECT enrollment_id FROM cert_auth WHERE cert_hash = ? LIMIT 1
	`, certHash).Scan(&enrollmentID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: EnrollmentFromHash: %w", err)
	}
	return enrollmentID, nil
}
