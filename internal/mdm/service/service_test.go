package service

import (
	"context"
	"crypto/x509"
	"errors"
	"sync"
	"testing"

	"github.com/pl-aronis/moonstone/internal/mdm/enrollid"
	"github.com/pl-aronis/moonstone/internal/mdm/mdmerr"
	"github.com/pl-aronis/moonstone/internal/mdm/mdmproto"
)

// fakeService is a minimal CheckinAndCommandService recording calls,
// used to observe CertAuthService and MultiService delegation without
// a real store.
type fakeService struct {
	mu    sync.Mutex
	calls []string
	err   error
	cmd   *mdmproto.Command
}

func (f *fakeService) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeService) Authenticate(r *Request, msg *mdmproto.CheckinMessage) error {
	f.record("Authenticate")
	return f.err
}
func (f *fakeService) TokenUpdate(r *Request, msg *mdmproto.CheckinMessage) error {
	f.record("TokenUpdate")
	return f.err
}
func (f *fakeService) CheckOut(r *Request, msg *mdmproto.CheckinMessage) error {
	f.record("CheckOut")
	return f.err
}
func (f *fakeService) UserAuthenticate(r *Request, msg *mdmproto.CheckinMessage) error {
	f.record("UserAuthenticate")
	return f.err
}
func (f *fakeService) SetBootstrapToken(r *Request, msg *mdmproto.CheckinMessage) error {
	f.record("SetBootstrapToken")
	return f.err
}
func (f *fakeService) GetBootstrapToken(r *Request, msg *mdmproto.CheckinMessage) (*mdmproto.GetBootstrapTokenResponse, error) {
	f.record("GetBootstrapToken")
	if f.err != nil {
		return nil, f.err
	}
	return &mdmproto.GetBootstrapTokenResponse{BootstrapToken: []byte("tok")}, nil
}
func (f *fakeService) DeclarativeManagement(r *Request, msg *mdmproto.CheckinMessage) error {
	f.record("DeclarativeManagement")
	return f.err
}
func (f *fakeService) GetToken(r *Request, msg *mdmproto.CheckinMessage) error {
	f.record("GetToken")
	return f.err
}
func (f *fakeService) CommandAndReportResults(r *Request, report *mdmproto.CommandReport) (*mdmproto.Command, error) {
	f.record("CommandAndReportResults")
	if f.err != nil {
		return nil, f.err
	}
	return f.cmd, nil
}

func (f *fakeService) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeCertAuthStore is an in-memory CertAuthStore.
type fakeCertAuthStore struct {
	mu    sync.Mutex
	bound map[string]string // enrollmentID -> certHash
}

func newFakeCertAuthStore() *fakeCertAuthStore {
	return &fakeCertAuthStore{bound: make(map[string]string)}
}

func (s *fakeCertAuthStore) AssociateCert(ctx context.Context, enrollmentID, certHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bound[enrollmentID] = certHash
	return nil
}

func (s *fakeCertAuthStore) HasCertAuth(ctx context.Context, enrollmentID, certHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound[enrollmentID] == certHash, nil
}

func testRequest(id string, der []byte) *Request {
	r := &Request{EnrollID: enrollid.EnrollID{Kind: enrollid.KindDevice, ID: id}}
	if der != nil {
		r.Certificate = &x509.Certificate{Raw: der}
	}
	return r
}

func TestCertAuthServiceTrustOnFirstUse(t *testing.T) {
	inner := &fakeService{}
	st := newFakeCertAuthStore()
	svc := NewCertAuthService(inner, st, nil)

	r := testRequest("dev-1", []byte("cert-a-der"))
	if err := svc.Authenticate(r, &mdmproto.CheckinMessage{}); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	ok, _ := st.HasCertAuth(context.Background(), "dev-1", CertHash([]byte("cert-a-der")))
	if !ok {
		t.Fatal("expected cert bound after Authenticate")
	}

	if err := svc.TokenUpdate(r, &mdmproto.CheckinMessage{}); err != nil {
		t.Fatalf("TokenUpdate with bound cert: %v", err)
	}
}

func TestCertAuthServiceRejectsUnboundCert(t *testing.T) {
	inner := &fakeService{}
	st := newFakeCertAuthStore()
	svc := NewCertAuthService(inner, st, nil)

	r := testRequest("dev-2", []byte("cert-a-der"))
	if err := svc.Authenticate(r, &mdmproto.CheckinMessage{}); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	other := testRequest("dev-2", []byte("cert-b-der"))
	err := svc.TokenUpdate(other, &mdmproto.CheckinMessage{})
	if err == nil {
		t.Fatal("expected error for mismatched cert")
	}
	var unauthorized *mdmerr.Unauthorized
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected *mdmerr.Unauthorized, got %T: %v", err, err)
	}
}

func TestCertAuthServiceRejectsNoCert(t *testing.T) {
	inner := &fakeService{}
	st := newFakeCertAuthStore()
	svc := NewCertAuthService(inner, st, nil)

	r := testRequest("dev-3", nil)
	err := svc.CheckOut(r, &mdmproto.CheckinMessage{})
	if err == nil {
		t.Fatal("expected error when no certificate presented")
	}
	if inner.callCount() != 0 {
		t.Fatal("inner service must not be invoked when cert check fails")
	}
}

func TestMultiServiceFansOutToSecondaries(t *testing.T) {
	primary := &fakeService{}
	secondaryA := &fakeService{}
	secondaryB := &fakeService{err: errors.New("secondary boom")}
	multi := NewMultiService(nil, primary, secondaryA, secondaryB)

	r := testRequest("dev-4", nil)
	if err := multi.TokenUpdate(r, &mdmproto.CheckinMessage{}); err != nil {
		t.Fatalf("TokenUpdate: %v", err)
	}

	if primary.callCount() != 1 || secondaryA.callCount() != 1 || secondaryB.callCount() != 1 {
		t.Fatalf("expected every service invoked once, got primary=%d a=%d b=%d",
			primary.callCount(), secondaryA.callCount(), secondaryB.callCount())
	}
}

func TestMultiServicePrimaryErrorSkipsSecondaries(t *testing.T) {
	primary := &fakeService{err: errors.New("primary boom")}
	secondary := &fakeService{}
	multi := NewMultiService(nil, primary, secondary)

	r := testRequest("dev-5", nil)
	if err := multi.Authenticate(r, &mdmproto.CheckinMessage{}); err == nil {
		t.Fatal("expected primary error to propagate")
	}
	if secondary.callCount() != 0 {
		t.Fatal("secondaries must not run when primary fails")
	}
}

func TestMultiServiceResponseOpsNeverFanOut(t *testing.T) {
	primary := &fakeService{cmd: &mdmproto.Command{CommandUUID: "abc"}}
	secondary := &fakeService{}
	multi := NewMultiService(nil, primary, secondary)

	r := testRequest("dev-6", nil)

	if _, err := multi.GetBootstrapToken(r, &mdmproto.CheckinMessage{}); err != nil {
		t.Fatalf("GetBootstrapToken: %v", err)
	}
	if _, err := multi.CommandAndReportResults(r, &mdmproto.CommandReport{}); err != nil {
		t.Fatalf("CommandAndReportResults: %v", err)
	}

	if secondary.callCount() != 0 {
		t.Fatal("response-returning operations must never fan out to secondaries")
	}
}
