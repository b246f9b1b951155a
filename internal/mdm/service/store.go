package service

import (
	"context"

	"github.com/pl-aronis/moonstone/internal/mdm/enrollid"
	"github.com/pl-aronis/moonstone/internal/mdm/mdmproto"
	"github.com/pl-aronis/moonstone/internal/mdm/store"
)

// The interfaces below are the narrow capability slices NanoMdm
// depends on, mirroring store.Store's own grouping (SPEC_FULL.md
// §4.2) so the Service layer never depends on the concrete SQLite
// type and can be tested against hand-written fakes.

type CheckinStore interface {
	StoreAuthenticate(ctx context.Context, id enrollid.EnrollID, tenantID string, raw []byte) error
	StoreTokenUpdate(ctx context.Context, id enrollid.EnrollID, topic, pushMagic string, token, raw []byte) error
	StoreCheckOut(ctx context.Context, id enrollid.EnrollID) error
	IsDisabled(ctx context.Context, id enrollid.EnrollID) (bool, error)
	Disable(ctx context.Context, id enrollid.EnrollID) error
	UpdateDeviceInfo(ctx context.Context, id string, info map[string]any) error
}

type CommandStore interface {
	NextCommand(ctx context.Context, enrollmentID string) (*store.CommandRow, error)
	StoreResult(ctx context.Context, commandUUID string, status mdmproto.CommandStatus, resultBlob []byte) error
	ClearQueue(ctx context.Context, enrollmentID string) error
}

type BootstrapTokenStore interface {
	SetBootstrapToken(ctx context.Context, enrollmentID string, token []byte) error
	GetBootstrapToken(ctx context.Context, enrollmentID string) ([]byte, error)
	DeleteBootstrapToken(ctx context.Context, enrollmentID string) error
}

type CertAuthStore interface {
	AssociateCert(ctx context.Context, enrollmentID, certHash string) error
	HasCertAuth(ctx context.Context, enrollmentID, certHash string) (bool, error)
}

// Store is the union NanoMdm requires; store.Store satisfies it
// directly. CertAuthStore is deliberately not part of this union — it
// is consumed only by the CertAuthService decorator, never by the base
// handler, matching SPEC_FULL.md §4.3's separation of concerns.
type Store interface {
	CheckinStore
	CommandStore
	BootstrapTokenStore
}
