// Package push sends MDM wake-up notifications via APNs, grounded on
// mdm-server/internal/apns/client.go's ClientPool shape, generalized
// from a tenant-keyed pool to the topic-keyed pool spec.md §4.5 calls
// for.
package push

import (
	"context"
	"fmt"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// PushResult is returned per requested enrollment id; ordering between
// results is not guaranteed (spec.md §4.5).
type PushResult struct {
	EnrollmentID string
	ApnsID       string
	Err          string
}

// Info is the subset of an enrollment a push needs: the destination
// token, the APNs topic to send under, and the wake-up magic value.
type Info struct {
	EnrollmentID string
	Topic        string
	PushMagic    string
	PushToken    []byte
}

// PushStore resolves push info for a batch of enrollment ids in one
// query; a *store.Store satisfies it once wrapped in StoreAdapter (see
// apns.go), which translates store.PushInfo rows to Info.
type PushStore interface {
	GetPushInfoBatch(ctx context.Context, enrollmentIDs []string) ([]*Info, error)
}

// Pusher sends one wake-up notification. Implementations must be safe
// for concurrent use.
type Pusher interface {
	SendPush(deviceTokenHex, topic, pushMagic string) (apnsID string, err error)
}

// PushService composes a PushStore with a Pusher: it resolves ids to
// push info in one query, then invokes the pusher for each resolved
// entry.
type PushService struct {
	store  PushStore
	pusher Pusher
	logger log.Logger
}

func NewPushService(store PushStore, pusher Pusher, logger log.Logger) *PushService {
	if logger == nil {
		logger = log.NopLogger
	}
	return &PushService{store: store, pusher: pusher, logger: logger}
}

// clientInvalidator is satisfied by *ApnsPusher. PushService forwards
// to it so callers holding only a PushService (the shape
// transport.Deps.Pusher actually wires) can still reach
// InvalidateClient through the transport.CertInvalidator assertion.
type clientInvalidator interface {
	InvalidateClient(topic string)
}

// InvalidateClient forwards to the underlying Pusher if it supports
// invalidation, a no-op otherwise.
func (p *PushService) InvalidateClient(topic string) {
	if inv, ok := p.pusher.(clientInvalidator); ok {
		inv.InvalidateClient(topic)
	}
}

// Push resolves enrollmentIDs to push info in one query and sends a
// wake-up notification to each that has push credentials on file. Ids
// with no push info on file are silently skipped (not an error — they
// may be disabled or never have completed TokenUpdate).
func (p *PushService) Push(ctx context.Context, enrollmentIDs []string) ([]PushResult, error) {
	infos, err := p.store.GetPushInfoBatch(ctx, enrollmentIDs)
	if err != nil {
		return nil, fmt.Errorf("push: resolve push info: %w", err)
	}

	logger := ctxlog.Logger(ctx, p.logger)
	results := make([]PushResult, 0, len(infos))
	for _, info := range infos {
		apnsID, err := p.pusher.SendPush(fmt.Sprintf("%x", info.PushToken), info.Topic, info.PushMagic)
		result := PushResult{EnrollmentID: info.EnrollmentID, ApnsID: apnsID}
		if err != nil {
			result.Err = err.Error()
			logger.Info("msg", "push failed", "id", info.EnrollmentID, "err", err.Error())
		} else {
			logger.Info("msg", "push sent", "id", info.EnrollmentID, "apns_id", apnsID)
		}
		results = append(results, result)
	}
	return results, nil
}
