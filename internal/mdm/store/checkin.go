package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pl-aronis/moonstone/internal/mdm/enrollid"
)

// StoreAuthenticate drops the command queue and upserts the enrollment
// with disabled=true, atomically: a crash between the two steps must
// leave neither applied nor both applied (SPEC_FULL.md §4.2).
func (s *Store) StoreAuthenticate(ctx context.Context, id enrollid.EnrollID, tenantID string, raw []byte) error {
	if tenantID == "" {
		tenantID = "default"
	}
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin StoreAuthenticate: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM commands WHERE enrollment_id = ?`, id.ID); err != nil {
		return fmt.Errorf("store: StoreAuthenticate clear queue: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO enrollments (id, tenant_id, kind, parent_id, disabled, authenticate_raw, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			parent_id = excluded.parent_id,
			disabled = 1,
			authenticate_raw = excluded.authenticate_raw,
			updated_at = excluded.updated_at
	`, id.ID, tenantID, string(id.Kind), nullableString(id.ParentID), raw, now, now)
	if err != nil {
		return fmt.Errorf("store: StoreAuthenticate upsert: %w", err)
	}

	return tx.Commit()
}

// StoreTokenUpdate writes push credentials and enables the enrollment.
func (s *Store) StoreTokenUpdate(ctx context.Context, id enrollid.EnrollID, topic, pushMagic string, token, raw []byte) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE enrollments SET
			topic = ?, push_magic = ?, push_token = ?, disabled = 0, token_update_raw = ?, updated_at = ?
		WHERE id = ?
	`, topic, pushMagic, token, raw, now, id.ID)
	if err != nil {
		return fmt.Errorf("store: StoreTokenUpdate: %w", err)
	}
	return requireRowAffected(res, "StoreTokenUpdate", id.ID)
}

// StoreCheckOut disables the enrollment.
func (s *Store) StoreCheckOut(ctx context.Context, id enrollid.EnrollID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enrollments SET disabled = 1, updated_at = ? WHERE id = ?
	`, time.Now(), id.ID)
	if err != nil {
		return fmt.Errorf("store: StoreCheckOut: %w", err)
	}
	return requireRowAffected(res, "StoreCheckOut", id.ID)
}

// IsDisabled reports the enrollment's current disabled flag.
func (s *Store) IsDisabled(ctx context.Context, id enrollid.EnrollID) (bool, error) {
	var disabled bool
	err := s.db.QueryRowContext(ctx, `SELECT disabled FROM enrollments WHERE id = ?`, id.ID).Scan(&disabled)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: IsDisabled: %w", err)
	}
	return disabled, nil
}

// Disable marks an enrollment disabled without altering anything else.
func (s *Store) Disable(ctx context.Context, id enrollid.EnrollID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE enrollments SET disabled = 1, updated_at = ? WHERE id = ?`, time.Now(), id.ID)
	if err != nil {
		return fmt.Errorf("store: Disable: %w", err)
	}
	return nil
}

// GetEnrollment retrieves the enrollment row, or nil if unknown. The
// device-information columns (DeviceName, Model, ...) are not read.
func (s *Store) GetEnrollment(ctx context.Context, id string) (*Enrollment, error) {
	e := &Enrollment{}
	var parentID, topic, pushMagic sql.NullString
	var pushToken sql.NullString
	var authRaw, tokenRaw []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, kind, parent_id, topic, push_magic, push_token, disabled,
		       authenticate_raw, token_update_raw, created_at, updated_at
		FROM enrollments WHERE id = ?
	`, id).Scan(
		&e.ID, &e.TenantID, &e.Kind, &parentID, &topic, &pushMagic, &pushToken, &e.Disabled,
		&authRaw, &tokenRaw, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: GetEnrollment: %w", err)
	}

	e.ParentID = parentID.String
	e.Topic = topic.String
	e.PushMagic = pushMagic.String
	if pushToken.Valid {
		e.PushToken = []byte(pushToken.String)
	}
	e.AuthenticateRaw = authRaw
	e.TokenUpdateRaw = tokenRaw
	return e, nil
}

// UpdateDeviceInfo records DeviceInformation command-report fields
// against the enrollment, for audit/display only.
func (s *Store) UpdateDeviceInfo(ctx context.Context, id string, info map[string]any) error {
	get := func(k string) string {
		v, _ := info[k].(string)
		return v
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE enrollments SET
			device_name = ?, model = ?, model_name = ?, os_version = ?,
			build_version = ?, product_name = ?, serial_number = ?, updated_at = ?
		WHERE id = ?
	`, get("DeviceName"), get("Model"), get("ModelName"), get("OSVersion"),
		get("BuildVersion"), get("ProductName"), get("SerialNumber"), time.Now(), id)
	if err != nil {
		return fmt.Errorf("store: UpdateDeviceInfo: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireRowAffected(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("store: %s: no enrollment %q on file", op, id)
	}
	return nil
}
