package transport

import (
	"context"
	"time"

	"github.com/pl-aronis/moonstone/internal/mdm/push"
	"github.com/pl-aronis/moonstone/internal/mdm/store"
)

// OperatorStore is the subset of store.Store the operator-facing
// endpoints need: command enqueue and push-certificate management.
type OperatorStore interface {
	Enqueue(ctx context.Context, enrollmentID string, blob []byte, requestType string) (string, error)
	StorePushCert(ctx context.Context, topic, certPEM, keyPEM string, notAfter *time.Time) error
	GetPushCert(ctx context.Context, topic string) (*store.PushCert, error)
}

// Pusher sends wake-up notifications to a set of resolved enrollments.
// *push.PushService satisfies this.
type Pusher interface {
	Push(ctx context.Context, enrollmentIDs []string) ([]push.PushResult, error)
}

// CertInvalidator is implemented by pushers that cache per-topic
// clients (*push.ApnsPusher). PushCertHandler invalidates the cached
// client for a topic whenever a new certificate is written for it, so
// the next push rebuilds from the fresh credential instead of using a
// stale one.
type CertInvalidator interface {
	InvalidateClient(topic string)
}
