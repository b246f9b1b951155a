package service

import (
	"fmt"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
	"github.com/pl-aronis/moonstone/internal/mdm/mdmproto"
)

// NanoMdm is the base Checkin/CommandAndReportResults implementation
// described in SPEC_FULL.md §4.3's behavior table. It holds a Store
// handle and nothing else; composition (cert-auth, fan-out) happens in
// wrapping decorators, not here.
//
// Grounded on jessepeterson-nanomdm/service/nanomdm/service.go's
// functional-options constructor and per-message logging shape.
type NanoMdm struct {
	logger log.Logger
	store  Store
}

// Option configures a NanoMdm at construction time.
type Option func(*NanoMdm)

// WithLogger overrides the default no-op logger.
func WithLogger(logger log.Logger) Option {
	return func(n *NanoMdm) { n.logger = logger }
}

// New builds a NanoMdm over store, applying opts.
func New(store Store, opts ...Option) *NanoMdm {
	n := &NanoMdm{
		logger: log.NopLogger,
		store:  store,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *NanoMdm) Authenticate(r *Request, msg *mdmproto.CheckinMessage) error {
	ctxlog.Logger(r.ctx(), n.logger).Info("msg", "Authenticate", "id", r.EnrollID.ID)

	if err := n.store.DeleteBootstrapToken(r.ctx(), r.EnrollID.ID); err != nil {
		return fmt.Errorf("nanomdm: Authenticate delete bootstrap token: %w", err)
	}
	if err := n.store.StoreAuthenticate(r.ctx(), r.EnrollID, "default", msg.Raw); err != nil {
		return fmt.Errorf("nanomdm: Authenticate: %w", err)
	}
	return nil
}

func (n *NanoMdm) TokenUpdate(r *Request, msg *mdmproto.CheckinMessage) error {
	ctxlog.Logger(r.ctx(), n.logger).Info("msg", "TokenUpdate", "id", r.EnrollID.ID)

	if err := n.store.StoreTokenUpdate(r.ctx(), r.EnrollID, msg.Topic, msg.PushMagic, msg.Token, msg.Raw); err != nil {
		return fmt.Errorf("nanomdm: TokenUpdate: %w", err)
	}
	return nil
}

func (n *NanoMdm) CheckOut(r *Request, msg *mdmproto.CheckinMessage) error {
	ctxlog.Logger(r.ctx(), n.logger).Info("msg", "CheckOut", "id", r.EnrollID.ID)

	if err := n.store.StoreCheckOut(r.ctx(), r.EnrollID); err != nil {
		return fmt.Errorf("nanomdm: CheckOut: %w", err)
	}
	return nil
}

func (n *NanoMdm) UserAuthenticate(r *Request, msg *mdmproto.CheckinMessage) error {
	ctxlog.Logger(r.ctx(), n.logger).Debug("msg", "UserAuthenticate", "id", r.EnrollID.ID)
	// No digest challenge is issued; this is intentionally a no-op
	// beyond logging, per SPEC_FULL.md §4.3's behavior table.
	return nil
}

func (n *NanoMdm) SetBootstrapToken(r *Request, msg *mdmproto.CheckinMessage) error {
	ctxlog.Logger(r.ctx(), n.logger).Info("msg", "SetBootstrapToken", "id", r.EnrollID.ID)

	if err := n.store.SetBootstrapToken(r.ctx(), r.EnrollID.ID, msg.BootstrapToken); err != nil {
		return fmt.Errorf("nanomdm: SetBootstrapToken: %w", err)
	}
	return nil
}

func (n *NanoMdm) GetBootstrapToken(r *Request, msg *mdmproto.CheckinMessage) (*mdmproto.GetBootstrapTokenResponse, error) {
	ctxlog.Logger(r.ctx(), n.logger).Info("msg", "GetBootstrapToken", "id", r.EnrollID.ID)

	token, err := n.store.GetBootstrapToken(r.ctx(), r.EnrollID.ID)
	if err != nil {
		return nil, fmt.Errorf("nanomdm: GetBootstrapToken: %w", err)
	}
	if token == nil {
		return nil, nil
	}
	return &mdmproto.GetBootstrapTokenResponse{BootstrapToken: token}, nil
}

func (n *NanoMdm) DeclarativeManagement(r *Request, msg *mdmproto.CheckinMessage) error {
	ctxlog.Logger(r.ctx(), n.logger).Info("msg", "DeclarativeManagement", "id", r.EnrollID.ID)
	// Dispatch point only; DDM business logic is out of scope
	// (spec.md §1 Non-goals).
	return nil
}

func (n *NanoMdm) GetToken(r *Request, msg *mdmproto.CheckinMessage) error {
	ctxlog.Logger(r.ctx(), n.logger).Debug("msg", "GetToken", "id", r.EnrollID.ID)
	return nil
}

// CommandAndReportResults stores any reported result, then returns the
// next Pending command for the enrollment, or nil if the queue is
// empty.
func (n *NanoMdm) CommandAndReportResults(r *Request, report *mdmproto.CommandReport) (*mdmproto.Command, error) {
	logger := ctxlog.Logger(r.ctx(), n.logger)

	if report.CommandUUID != "" && report.Status != mdmproto.StatusIdle {
		logger.Info("msg", "CommandResult", "id", r.EnrollID.ID, "uuid", report.CommandUUID, "status", string(report.Status))
		if err := n.store.StoreResult(r.ctx(), report.CommandUUID, report.Status, marshalErrorChain(report)); err != nil {
			return nil, fmt.Errorf("nanomdm: StoreResult: %w", err)
		}
	}

	row, err := n.store.NextCommand(r.ctx(), r.EnrollID.ID)
	if err != nil {
		return nil, fmt.Errorf("nanomdm: NextCommand: %w", err)
	}
	if row == nil {
		return nil, nil
	}

	cmd, err := parseCommandBlob(row.UUID, row.Blob)
	if err != nil {
		return nil, fmt.Errorf("nanomdm: parse queued command %s: %w", row.UUID, err)
	}
	logger.Info("msg", "NextCommand", "id", r.EnrollID.ID, "uuid", row.UUID, "request_type", row.RequestType)
	return cmd, nil
}
