package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SetBootstrapToken writes the single opaque bootstrap-token blob for
// an enrollment, replacing any existing value.
func (s *Store) SetBootstrapToken(ctx context.Context, enrollmentID string, token []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bootstrap_tokens (enrollment_id, token, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(enrollment_id) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at
	`, enrollmentID, token, time.Now())
	if err != nil {
		return fmt.Errorf("store: SetBootstrapToken: %w", err)
	}
	return nil
}

// GetBootstrapToken returns the stored token, or nil if none is set.
func (s *Store) GetBootstrapToken(ctx context.Context, enrollmentID string) ([]byte, error) {
	var token []byte
	err := s.db.QueryRowContext(ctx, `SELECT token FROM bootstrap_tokens WHERE enrollment_id = ?`, enrollmentID).Scan(&token)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: GetBootstrapToken: %w", err)
	}
	return token, nil
}

// DeleteBootstrapToken removes the stored token, called on Authenticate.
func (s *Store) DeleteBootstrapToken(ctx context.Context, enrollmentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bootstrap_tokens WHERE enrollment_id = ?`, enrollmentID)
	if err != nil {
		return fmt.Errorf("store: DeleteBootstrapToken: %w", err)
	}
	return nil
}
