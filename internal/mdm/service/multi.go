package service

import (
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
	"github.com/pl-aronis/moonstone/internal/mdm/mdmproto"
)

// MultiService runs one primary CheckinAndCommandService whose errors
// and responses propagate to the caller, then invokes each secondary
// as fire-and-forget: their errors are logged, never surfaced, and
// response-returning operations never fan out to them at all
// (SPEC_FULL.md §4.3).
type MultiService struct {
	primary   CheckinAndCommandService
	secondary []CheckinAndCommandService
	logger    log.Logger
}

// NewMultiService constructs a MultiService around primary, optionally
// fanning out every non-response-returning call to secondaries too.
func NewMultiService(logger log.Logger, primary CheckinAndCommandService, secondaries ...CheckinAndCommandService) *MultiService {
	if logger == nil {
		logger = log.NopLogger
	}
	return &MultiService{primary: primary, secondary: secondaries, logger: logger}
}

func (m *MultiService) fanOut(name string, r *Request, call func(CheckinAndCommandService) error) {
	for _, svc := range m.secondary {
		if err := call(svc); err != nil {
			ctxlog.Logger(r.ctx(), m.logger).Info("msg", "secondary service error", "op", name, "id", r.EnrollID.ID, "err", err.Error())
		}
	}
}

func (m *MultiService) Authenticate(r *Request, msg *mdmproto.CheckinMessage) error {
	if err := m.primary.Authenticate(r, msg); err != nil {
		return err
	}
	m.fanOut("Authenticate", r, func(s CheckinAndCommandService) error { return s.Authenticate(r, msg) })
	return nil
}

func (m *MultiService) TokenUpdate(r *Request, msg *mdmproto.CheckinMessage) error {
	if err := m.primary.TokenUpdate(r, msg); err != nil {
		return err
	}
	m.fanOut("TokenUpdate", r, func(s CheckinAndCommandService) error { return s.TokenUpdate(r, msg) })
	return nil
}

func (m *MultiService) CheckOut(r *Request, msg *mdmproto.CheckinMessage) error {
	if err := m.primary.CheckOut(r, msg); err != nil {
		return err
	}
	m.fanOut("CheckOut", r, func(s CheckinAndCommandService) error { return s.CheckOut(r, msg) })
	return nil
}

func (m *MultiService) UserAuthenticate(r *Request, msg *mdmproto.CheckinMessage) error {
	if err := m.primary.UserAuthenticate(r, msg); err != nil {
		return err
	}
	m.fanOut("UserAuthenticate", r, func(s CheckinAndCommandService) error { return s.UserAuthenticate(r, msg) })
	return nil
}

func (m *MultiService) SetBootstrapToken(r *Request, msg *mdmproto.CheckinMessage) error {
	if err := m.primary.SetBootstrapToken(r, msg); err != nil {
		return err
	}
	m.fanOut("SetBootstrapToken", r, func(s CheckinAndCommandService) error { return s.SetBootstrapToken(r, msg) })
	return nil
}

// GetBootstrapToken is a response-returning operation: it never fans
// out, per SPEC_FULL.md §4.3.
func (m *MultiService) GetBootstrapToken(r *Request, msg *mdmproto.CheckinMessage) (*mdmproto.GetBootstrapTokenResponse, error) {
	return m.primary.GetBootstrapToken(r, msg)
}

// DeclarativeManagement is a response-returning operation in spirit
// (it is the DDM dispatch point); it never fans out.
func (m *MultiService) DeclarativeManagement(r *Request, msg *mdmproto.CheckinMessage) error {
	return m.primary.DeclarativeManagement(r, msg)
}

// GetToken never fans out.
func (m *MultiService) GetToken(r *Request, msg *mdmproto.CheckinMessage) error {
	return m.primary.GetToken(r, msg)
}

// CommandAndReportResults never fans out: it always returns a value
// (the next command, or nil), so it is a response-returning operation.
func (m *MultiService) CommandAndReportResults(r *Request, report *mdmproto.CommandReport) (*mdmproto.Command, error) {
	return m.primary.CommandAndReportResults(r, report)
}
