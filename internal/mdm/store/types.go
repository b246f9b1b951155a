package store

import (
	"time"

	"github.com/pl-aronis/moonstone/internal/mdm/enrollid"
	"github.com/pl-aronis/moonstone/internal/mdm/mdmproto"
)

// Enrollment is the durable record keyed by EnrollID.ID described in
// SPEC_FULL.md §3.
type Enrollment struct {
	ID       string
	TenantID string
	Kind     enrollid.Kind
	ParentID string

	Topic     string
	PushMagic string
	PushToken []byte
	Disabled  bool

	AuthenticateRaw []byte
	TokenUpdateRaw  []byte

	DeviceName   string
	Model        string
	ModelName    string
	OSVersion    string
	BuildVersion string
	ProductName  string
	SerialNumber string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CommandStatus mirrors mdmproto.CommandStatus; re-exported here so
// store callers don't need to import mdmproto solely for the status
// constants used in queue rows.
type CommandStatus = mdmproto.CommandStatus

// CommandRow is a single queued command as stored.
type CommandRow struct {
	UUID         string
	EnrollmentID string
	Blob         []byte
	RequestType  string
	Status       CommandStatus
	ResultBlob   []byte
	CreatedAt    time.Time
	SentAt       *time.Time
	RespondedAt  *time.Time
}

// PushInfo is the subset of an Enrollment needed to send an APNs wake
// notification.
type PushInfo struct {
	EnrollmentID string
	Topic        string
	PushMagic    string
	PushToken    []byte
}

// PushCert is a stored APNs credential for one topic.
type PushCert struct {
	Topic    string
	CertPEM  string
	KeyPEM   string
	NotAfter *time.Time
}

// Tenant scopes enrollments and push certs for multi-organization
// deployments (SPEC_FULL.md §3 supplemental).
type Tenant struct {
	ID        string
	Name      string
	Domain    string
	CreatedAt time.Time
	UpdatedAt time.Time
	IsActive  bool
}
