package push

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"sync"

	"github.com/pl-aronis/moonstone/internal/mdm/store"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"
	"golang.org/x/crypto/pkcs12"
)

// StoreAdapter adapts a *store.Store to the push.PushStore shape,
// translating store.PushInfo rows to push.Info so this package does
// not need to import store's full surface.
type StoreAdapter struct {
	Store *store.Store
}

func (a *StoreAdapter) GetPushInfoBatch(ctx context.Context, enrollmentIDs []string) ([]*Info, error) {
	rows, err := a.Store.GetPushInfoBatch(ctx, enrollmentIDs)
	if err != nil {
		return nil, err
	}
	out := make([]*Info, len(rows))
	for i, r := range rows {
		out[i] = &Info{
			EnrollmentID: r.EnrollmentID,
			Topic:        r.Topic,
			PushMagic:    r.PushMagic,
			PushToken:    r.PushToken,
		}
	}
	return out, nil
}

// CertLoader resolves the PEM certificate and key for a topic.
type CertLoader func(topic string) (certPEM, keyPEM []byte, err error)

// P12CertLoader returns a CertLoader that reads a single .p12 bundle
// off disk for every topic, decoding it to PEM once at construction
// time. Apple distributes APNs push certificates as .p12 exports from
// Keychain Access, so this is the common case in practice even though
// apns2 itself wants PEM bytes.
func P12CertLoader(path, password string) (CertLoader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("push: read p12 file: %w", err)
	}
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("push: decode p12: %w", err)
	}
	keyBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("push: marshal p12 private key: %w", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})

	return func(topic string) ([]byte, []byte, error) {
		return certPEM, keyPEM, nil
	}, nil
}

// ApnsPusher is a Pusher backed by a per-topic pool of apns2 clients,
// grounded on mdm-server/internal/apns/client.go's ClientPool
// (NewClientFromBytes, SendPush), generalized from a tenant-keyed pool
// to a topic-keyed one per spec.md §4.5.
type ApnsPusher struct {
	mu      sync.RWMutex
	clients map[string]*apns2.Client
	loader  CertLoader
	prod    bool
}

// NewApnsPusher constructs an ApnsPusher. production selects the APNs
// production gateway; false uses the sandbox gateway.
func NewApnsPusher(loader CertLoader, production bool) *ApnsPusher {
	return &ApnsPusher{
		clients: make(map[string]*apns2.Client),
		loader:  loader,
		prod:    production,
	}
}

func (p *ApnsPusher) clientFor(topic string) (*apns2.Client, error) {
	p.mu.RLock()
	if c, ok := p.clients[topic]; ok {
		p.mu.RUnlock()
		return c, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[topic]; ok {
		return c, nil
	}

	certPEM, keyPEM, err := p.loader(topic)
	if err != nil {
		return nil, fmt.Errorf("push: load APNs credential for topic %s: %w", topic, err)
	}
	pemData := append(append([]byte{}, certPEM...), keyPEM...)
	cert, err := certificate.FromPemBytes(pemData, "")
	if err != nil {
		return nil, fmt.Errorf("push: parse APNs credential for topic %s: %w", topic, err)
	}

	client := apns2.NewClient(cert)
	if p.prod {
		client = client.Production()
	} else {
		client = client.Development()
	}

	p.clients[topic] = client
	return client, nil
}

// SendPush sends the MDM wake payload {"mdm":"<push_magic>"} to
// deviceTokenHex under topic, per spec.md §4.5.
func (p *ApnsPusher) SendPush(deviceTokenHex, topic, pushMagic string) (string, error) {
	client, err := p.clientFor(topic)
	if err != nil {
		return "", err
	}

	notification := &apns2.Notification{
		DeviceToken: deviceTokenHex,
		Topic:       topic,
		Payload:     []byte(`{"mdm":"` + pushMagic + `"}`),
	}

	res, err := client.Push(notification)
	if err != nil {
		return "", fmt.Errorf("push: send: %w", err)
	}
	if !res.Sent() {
		return res.ApnsID, fmt.Errorf("push: rejected: status=%d reason=%s", res.StatusCode, res.Reason)
	}
	return res.ApnsID, nil
}

// InvalidateClient discards the cached client for topic, forcing the
// next SendPush to rebuild it from the current credential. Called
// whenever a new push certificate is stored for a topic already in
// the pool (SPEC_FULL.md §4.5 — the teacher defines this method but
// never calls it from the cert-write path; this rewrite wires it).
func (p *ApnsPusher) InvalidateClient(topic string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clients, topic)
}

// InvalidateAll discards every cached client.
func (p *ApnsPusher) InvalidateAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients = make(map[string]*apns2.Client)
}
