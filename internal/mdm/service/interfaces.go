package service

import "github.com/pl-aronis/moonstone/internal/mdm/mdmproto"

// Checkin is the eight-operation contract for the /mdm/checkin
// MessageTypes, per SPEC_FULL.md §4.3.
type Checkin interface {
	Authenticate(r *Request, msg *mdmproto.CheckinMessage) error
	TokenUpdate(r *Request, msg *mdmproto.CheckinMessage) error
	CheckOut(r *Request, msg *mdmproto.CheckinMessage) error
	UserAuthenticate(r *Request, msg *mdmproto.CheckinMessage) error
	SetBootstrapToken(r *Request, msg *mdmproto.CheckinMessage) error
	GetBootstrapToken(r *Request, msg *mdmproto.CheckinMessage) (*mdmproto.GetBootstrapTokenResponse, error)
	DeclarativeManagement(r *Request, msg *mdmproto.CheckinMessage) error
	GetToken(r *Request, msg *mdmproto.CheckinMessage) error
}

// CommandAndReportResults is the single-operation contract for
// /mdm/command.
type CommandAndReportResults interface {
	CommandAndReportResults(r *Request, report *mdmproto.CommandReport) (*mdmproto.Command, error)
}

// CheckinAndCommandService is the composite most callers want: a
// single object satisfying both contracts.
type CheckinAndCommandService interface {
	Checkin
	CommandAndReportResults
}
