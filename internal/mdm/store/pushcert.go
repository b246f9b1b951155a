package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StorePushCert writes (or replaces) the APNs credential for a topic.
func (s *Store) StorePushCert(ctx context.Context, topic, certPEM, keyPEM string, notAfter *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_certs (topic, cert_pem, key_pem, not_after, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(topic) DO UPDATE SET
			cert_pem = excluded.cert_pem, key_pem = excluded.key_pem,
			not_after = excluded.not_after, updated_at = excluded.updated_at
	`, topic, certPEM, keyPEM, notAfter, time.Now())
	if err != nil {
		return fmt.Errorf("store: StorePushCert: %w", err)
	}
	return nil
}

// GetPushCert retrieves the stored credential for a topic, or nil if
// none is configured.
func (s *Store) GetPushCert(ctx context.Context, topic string) (*PushCert, error) {
	pc := &PushCert{Topic: topic}
	var notAfter sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT cert_pem, key_pem, not_after FROM push_certs WHERE topic = ?
	`, topic).Scan(&pc.CertPEM, &pc.KeyPEM, &notAfter)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: GetPushCert: %w", err)
	}
	if notAfter.Valid {
		pc.NotAfter = &notAfter.Time
	}
	return pc, nil
}

// GetPushInfo returns the push-relevant fields for one enrollment,
// restricted to rows that are enabled and have a non-null token and
// push magic (SPEC_FULL.md §4.2).
func (s *Store) GetPushInfo(ctx context.Context, enrollmentID string) (*PushInfo, error) {
	infos, err := s.GetPushInfoBatch(ctx, []string{enrollmentID})
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, nil
	}
	return infos[0], nil
}

// GetPushInfoBatch resolves push info for a list of enrollment ids in
// one query, used by PushService.
func (s *Store) GetPushInfoBatch(ctx context.Context, enrollmentIDs []string) ([]*PushInfo, error) {
	if len(enrollmentIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]byte, 0, len(enrollmentIDs)*2)
	args := make([]any, 0, len(enrollmentIDs))
	for i, id := range enrollmentIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}

	query := `
		SELECT id, topic, push_magic, push_token FROM enrollments
		WHERE id IN (` + string(placeholders) + `)
		  AND disabled = 0
		  AND push_token IS NOT NULL
		  AND push_magic IS NOT NULL
		  AND push_magic != ''
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: GetPushInfoBatch: %w", err)
	}
	defer rows.Close()

	var out []*PushInfo
	for rows.Next() {
		info := &PushInfo{}
		if err := rows.Scan(&info.EnrollmentID, &info.Topic, &info.PushMagic, &info.PushToken); err != nil {
			return nil, fmt.Errorf("store: GetPushInfoBatch scan: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}
