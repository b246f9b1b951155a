package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pl-aronis/moonstone/internal/mdm/mdmproto"
)

// Enqueue appends a new Pending command to the tail of the queue,
// returning its UUID.
func (s *Store) Enqueue(ctx context.Context, enrollmentID string, blob []byte, requestType string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commands (id, enrollment_id, command_blob, request_type, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, enrollmentID, blob, requestType, mdmproto.StatusPending, time.Now())
	if err != nil {
		return "", fmt.Errorf("store: Enqueue: %w", err)
	}
	return id, nil
}

// NextCommand atomically selects and marks-delivered the oldest
// undelivered Pending row for an enrollment, so that two parallel
// polls never observe the same row as deliverable (spec.md invariant
// 5, SPEC_FULL.md §4.2's resolution of the queue-delivery-atomicity
// Open Question).
//
// mdmproto.CommandStatus has no Sent value distinct from Pending, so
// "delivered" is tracked by sent_at instead of a status transition:
// both the SELECT and the UPDATE filter on sent_at IS NULL, and once
// the UPDATE sets it, the row drops out of every future SELECT's
// candidate set even though its status column still reads Pending
// until StoreResult later resolves it.
//
// SQLite lacks UPDATE ... RETURNING support in some builds of
// mattn/go-sqlite3's bundled library version; to stay portable this
// selects the candidate id and then updates it by id WHERE sent_at is
// still NULL inside one transaction — the transaction's isolation
// (SQLite locks the database for the writer for the duration of the
// write transaction) is what makes this safe, not optimistic reuse of
// the read.
func (s *Store) NextCommand(ctx context.Context, enrollmentID string) (*CommandRow, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: NextCommand begin: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM commands
		WHERE enrollment_id = ? AND status = ? AND sent_at IS NULL
		ORDER BY created_at ASC
		LIMIT 1
	`, enrollmentID, mdmproto.StatusPending).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: NextCommand select: %w", err)
	}

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		UPDATE commands SET sent_at = ?
		WHERE id = ? AND status = ? AND sent_at IS NULL
	`, now, id, mdmproto.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("store: NextCommand mark-sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("store: NextCommand rows affected: %w", err)
	}
	if n == 0 {
		// Another transaction delivered this row between our SELECT
		// and our UPDATE; treat it as "nothing to deliver this round"
		// rather than double-dispatching.
		return nil, nil
	}

	row := &CommandRow{}
	err = tx.QueryRowContext(ctx, `
		SELECT id, enrollment_id, command_blob, request_type, status, created_at, sent_at
		FROM commands WHERE id = ?
	`, id).Scan(&row.UUID, &row.EnrollmentID, &row.Blob, &row.RequestType, &row.Status, &row.CreatedAt, &sqlNullTimeScanner{&row.SentAt})
	if err != nil {
		return nil, fmt.Errorf("store: NextCommand reload: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: NextCommand commit: %w", err)
	}
	return row, nil
}

// StoreResult records a device's report against a previously delivered
// command, transitioning it out of Pending. A NotNow report leaves the
// row terminal at NotNow — it is not silently re-queued (SPEC_FULL.md
// §4.2 decision; diverges deliberately from the teacher's auto-requeue
// behavior).
func (s *Store) StoreResult(ctx context.Context, commandUUID string, status CommandStatus, resultBlob []byte) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE commands SET status = ?, result_blob = ?, responded_at = ?
		WHERE id = ?
	`, status, resultBlob, time.Now(), commandUUID)
	if err != nil {
		return fmt.Errorf("store: StoreResult: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: StoreResult rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: StoreResult: no command %q on file", commandUUID)
	}
	return nil
}

// ClearQueue deletes every queued row for an enrollment (used directly
// by tests and operator tooling; StoreAuthenticate performs its own
// transactional clear).
func (s *Store) ClearQueue(ctx context.Context, enrollmentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM commands WHERE enrollment_id = ?`, enrollmentID)
	if err != nil {
		return fmt.Errorf("store: ClearQueue: %w", err)
	}
	return nil
}

// PendingCount returns the number of Pending rows for an enrollment.
func (s *Store) PendingCount(ctx context.Context, enrollmentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM commands WHERE enrollment_id = ? AND status = ?
	`, enrollmentID, mdmproto.StatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: PendingCount: %w", err)
	}
	return n, nil
}

// GetCommand retrieves a single command row by UUID, or nil if unknown.
func (s *Store) GetCommand(ctx context.Context, commandUUID string) (*CommandRow, error) {
	row := &CommandRow{}
	var sentAt, respondedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, enrollment_id, command_blob, request_type, status, result_blob, created_at, sent_at, responded_at
		FROM commands WHERE id = ?
	`, commandUUID).Scan(
		&row.UUID, &row.EnrollmentID, &row.Blob, &row.RequestType, &row.Status,
		&row.ResultBlob, &row.CreatedAt, &sentAt, &respondedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: GetCommand: %w", err)
	}
	if sentAt.Valid {
		row.SentAt = &sentAt.Time
	}
	if respondedAt.Valid {
		row.RespondedAt = &respondedAt.Time
	}
	return row, nil
}

// sqlNullTimeScanner adapts a **time.Time destination to sql.Scanner so
// QueryRow.Scan can populate an optional *time.Time field directly.
type sqlNullTimeScanner struct {
	dest **time.Time
}

func (n sqlNullTimeScanner) Scan(src any) error {
	if src == nil {
		*n.dest = nil
		return nil
	}
	t, ok := src.(time.Time)
	if !ok {
		return fmt.Errorf("sqlNullTimeScanner: unsupported type %T", src)
	}
	*n.dest = &t
	return nil
}
