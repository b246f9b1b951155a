// Package enrollid resolves the raw enrollment fields presented in an
// Apple MDM check-in message into a single canonical identity.
//
// Apple's wire protocol exposes up to four overlapping fields (UDID,
// UserID, EnrollmentID, EnrollmentUserID) that together describe five
// distinct enrollment flavours. Downstream code never switches on the
// raw fields again once resolution has happened here.
package enrollid

import "fmt"

// Kind tags the flavour of enrollment a canonical ID refers to.
type Kind string

const (
	KindDevice               Kind = "Device"
	KindUserChannel          Kind = "UserChannel"
	KindUserEnrollmentDevice Kind = "UserEnrollmentDevice"
	KindUserEnrollment       Kind = "UserEnrollment"
	KindSharedIPad           Kind = "SharedIPad"
)

// sharedIPadSentinel is the well-known UserID Apple sends for the
// "shared iPad" per-user session rather than a real per-user UUID.
const sharedIPadSentinel = "FFFFFFFF-FFFF-FFFF-FFFF-FFFFFFFFFFFF"

// EnrollID is the canonical, kind-tagged identifier for any managed
// entity (device or user channel) derived by Resolve.
type EnrollID struct {
	Kind Kind
	// ID is the opaque primary string used as the storage key.
	ID string
	// ParentID is set on rows that are subordinate to a device row
	// (user-channel variants); empty for top-level device rows.
	ParentID string
}

// RawEnrollment is the subset of an Apple check-in message's fields
// that participate in identity resolution.
type RawEnrollment struct {
	UDID             string
	UserID           string
	EnrollmentID     string
	EnrollmentUserID string
}

// UnresolvedIdentityError is returned by Resolve when none of the five
// patterns in the resolution table match.
type UnresolvedIdentityError struct {
	Raw RawEnrollment
}

func (e *UnresolvedIdentityError) Error() string {
	return fmt.Sprintf("enrollid: could not resolve identity from %+v", e.Raw)
}

// Resolve maps raw enrollment fields to a canonical EnrollID.
// Rules are evaluated top-down; the first match wins. Resolve performs
// no I/O and fails only when neither EnrollmentID nor UDID is set.
func Resolve(raw RawEnrollment) (EnrollID, error) {
	switch {
	case raw.EnrollmentID != "" && raw.EnrollmentUserID != "":
		return EnrollID{
			Kind:     KindUserEnrollment,
			ID:       raw.EnrollmentID + ":" + raw.EnrollmentUserID,
			ParentID: raw.EnrollmentID,
		}, nil

	case raw.EnrollmentID != "":
		return EnrollID{
			Kind: KindUserEnrollmentDevice,
			ID:   raw.EnrollmentID,
		}, nil

	case raw.UDID != "" && raw.UserID == sharedIPadSentinel:
		return EnrollID{
			Kind:     KindSharedIPad,
			ID:       raw.UDID + ":" + raw.UserID,
			ParentID: raw.UDID,
		}, nil

	case raw.UDID != "" && raw.UserID != "":
		return EnrollID{
			Kind:     KindUserChannel,
			ID:       raw.UDID + ":" + raw.UserID,
			ParentID: raw.UDID,
		}, nil

	case raw.UDID != "":
		return EnrollID{
			Kind: KindDevice,
			ID:   raw.UDID,
		}, nil

	default:
		return EnrollID{}, &UnresolvedIdentityError{Raw: raw}
	}
}

// IsUserChannelKind reports whether kind identifies a subordinate
// per-user row that carries a ParentID back to its owning device.
func IsUserChannelKind(kind Kind) bool {
	switch kind {
	case KindUserChannel, KindSharedIPad, KindUserEnrollment:
		return true
	default:
		return false
	}
}
