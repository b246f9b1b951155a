package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/pl-aronis/moonstone/internal/mdm/enrollid"
	"github.com/pl-aronis/moonstone/internal/mdm/mdmproto"
	"github.com/pl-aronis/moonstone/internal/mdm/service"
	"github.com/pl-aronis/moonstone/internal/mdm/store"
	"howett.net/plist"
)

func newTestSystem(t *testing.T) (*store.Store, *CertSource) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"), 4)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	if err := st.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st, &CertSource{EnableMTLS: true}
}

func plistBody(t *testing.T, v any) []byte {
	t.Helper()
	data, err := plist.Marshal(v, plist.XMLFormat)
	if err != nil {
		t.Fatalf("plist.Marshal: %v", err)
	}
	return data
}

func withPeerCert(der []byte) *tls.ConnectionState {
	return &tls.ConnectionState{PeerCertificates: []*x509.Certificate{{Raw: der}}}
}

func TestScenarioFreshEnrollment(t *testing.T) {
	st, certSource := newTestSystem(t)
	svc := service.NewCertAuthService(service.New(st), st, nil)
	handler := CheckinHandler(svc, certSource, nil)

	authBody := plistBody(t, mdmproto.CheckinMessage{MessageType: mdmproto.MessageAuthenticate, UDID: "ABC"})
	req := httptest.NewRequest("POST", "/mdm/checkin", bytes.NewReader(authBody))
	req.TLS = withPeerCert([]byte("cert-A"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("Authenticate: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	tokenBody := plistBody(t, mdmproto.CheckinMessage{
		MessageType: mdmproto.MessageTokenUpdate,
		UDID:        "ABC",
		Topic:       "com.apple.mgmt.Test",
		PushMagic:   "M",
		Token:       []byte{0xAA, 0xBB},
	})
	req = httptest.NewRequest("POST", "/mdm/checkin", bytes.NewReader(tokenBody))
	req.TLS = withPeerCert([]byte("cert-A"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("TokenUpdate: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	info, err := st.GetPushInfo(context.Background(), "ABC")
	if err != nil {
		t.Fatalf("GetPushInfo: %v", err)
	}
	if info == nil || info.PushMagic != "M" || string(info.PushToken) != string([]byte{0xAA, 0xBB}) {
		t.Fatalf("unexpected push info: %+v", info)
	}
}

func TestScenarioCertPinning(t *testing.T) {
	st, certSource := newTestSystem(t)
	svc := service.NewCertAuthService(service.New(st), st, nil)
	handler := CheckinHandler(svc, certSource, nil)

	authBody := plistBody(t, mdmproto.CheckinMessage{MessageType: mdmproto.MessageAuthenticate, UDID: "ABC"})
	req := httptest.NewRequest("POST", "/mdm/checkin", bytes.NewReader(authBody))
	req.TLS = withPeerCert([]byte("cert-A"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("Authenticate: expected 200, got %d", rec.Code)
	}

	checkoutBody := plistBody(t, mdmproto.CheckinMessage{MessageType: mdmproto.MessageCheckOut, UDID: "ABC"})

	req = httptest.NewRequest("POST", "/mdm/checkin", bytes.NewReader(checkoutBody))
	req.TLS = withPeerCert([]byte("cert-B"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != 401 {
		t.Fatalf("CheckOut with wrong cert: expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest("POST", "/mdm/checkin", bytes.NewReader(checkoutBody))
	req.TLS = withPeerCert([]byte("cert-A"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("CheckOut with bound cert: expected 200, got %d", rec.Code)
	}

	disabled, err := st.IsDisabled(context.Background(), enrollid.EnrollID{Kind: enrollid.KindDevice, ID: "ABC"})
	if err != nil {
		t.Fatalf("IsDisabled: %v", err)
	}
	if !disabled {
		t.Fatal("expected ABC to be disabled after CheckOut")
	}
}

func TestScenarioCommandDelivery(t *testing.T) {
	st, certSource := newTestSystem(t)
	svc := service.NewCertAuthService(service.New(st), st, nil)
	checkinH := CheckinHandler(svc, certSource, nil)
	commandH := CommandHandler(svc, certSource, nil)

	authBody := plistBody(t, mdmproto.CheckinMessage{MessageType: mdmproto.MessageAuthenticate, UDID: "ABC"})
	req := httptest.NewRequest("POST", "/mdm/checkin", bytes.NewReader(authBody))
	req.TLS = withPeerCert([]byte("cert-A"))
	rec := httptest.NewRecorder()
	checkinH.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("Authenticate: expected 200, got %d", rec.Code)
	}

	cmdBlob := plistBody(t, map[string]any{"RequestType": "DeviceInformation"})
	uuid, err := st.Enqueue(context.Background(), "ABC", cmdBlob, "DeviceInformation")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	reportBody := plistBody(t, mdmproto.CommandReport{UDID: "ABC", CommandUUID: "", Status: mdmproto.StatusIdle})
	req = httptest.NewRequest("POST", "/mdm/command", bytes.NewReader(reportBody))
	req.TLS = withPeerCert([]byte("cert-A"))
	rec = httptest.NewRecorder()
	commandH.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("first poll: expected 200, got %d", rec.Code)
	}
	var delivered mdmproto.Command
	if _, err := plist.Unmarshal(rec.Body.Bytes(), &delivered); err != nil {
		t.Fatalf("unmarshal delivered command: %v", err)
	}
	if delivered.CommandUUID != uuid {
		t.Fatalf("expected uuid %s, got %s", uuid, delivered.CommandUUID)
	}

	req = httptest.NewRequest("POST", "/mdm/command", bytes.NewReader(reportBody))
	req.TLS = withPeerCert([]byte("cert-A"))
	rec = httptest.NewRecorder()
	commandH.ServeHTTP(rec, req)
	if rec.Code != 200 || rec.Body.Len() != 0 {
		t.Fatalf("second poll: expected empty 200, got %d body=%q", rec.Code, rec.Body.String())
	}

	ackBody := plistBody(t, mdmproto.CommandReport{UDID: "ABC", CommandUUID: uuid, Status: mdmproto.StatusAcknowledged})
	req = httptest.NewRequest("POST", "/mdm/command", bytes.NewReader(ackBody))
	req.TLS = withPeerCert([]byte("cert-A"))
	rec = httptest.NewRecorder()
	commandH.ServeHTTP(rec, req)
	if rec.Code != 200 || rec.Body.Len() != 0 {
		t.Fatalf("ack: expected empty 200, got %d", rec.Code)
	}

	row, err := st.GetCommand(context.Background(), uuid)
	if err != nil {
		t.Fatalf("GetCommand: %v", err)
	}
	if row.Status != mdmproto.StatusAcknowledged {
		t.Fatalf("expected status Acknowledged, got %s", row.Status)
	}
}

func TestScenarioQueueResetOnReauth(t *testing.T) {
	st, certSource := newTestSystem(t)
	svc := service.NewCertAuthService(service.New(st), st, nil)
	checkinH := CheckinHandler(svc, certSource, nil)

	authBody := plistBody(t, mdmproto.CheckinMessage{MessageType: mdmproto.MessageAuthenticate, UDID: "ABC"})
	req := httptest.NewRequest("POST", "/mdm/checkin", bytes.NewReader(authBody))
	req.TLS = withPeerCert([]byte("cert-A"))
	rec := httptest.NewRecorder()
	checkinH.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("Authenticate: expected 200, got %d", rec.Code)
	}

	blob := plistBody(t, map[string]any{"RequestType": "DeviceLock"})
	for i := 0; i < 3; i++ {
		if _, err := st.Enqueue(context.Background(), "ABC", blob, "DeviceLock"); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	pending, err := st.PendingCount(context.Background(), "ABC")
	if err != nil || pending != 3 {
		t.Fatalf("expected 3 pending, got %d (err=%v)", pending, err)
	}

	req = httptest.NewRequest("POST", "/mdm/checkin", bytes.NewReader(authBody))
	req.TLS = withPeerCert([]byte("cert-A"))
	rec = httptest.NewRecorder()
	checkinH.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("re-Authenticate: expected 200, got %d", rec.Code)
	}

	pending, err = st.PendingCount(context.Background(), "ABC")
	if err != nil || pending != 0 {
		t.Fatalf("expected 0 pending after re-auth, got %d (err=%v)", pending, err)
	}
}

func TestScenarioIdentityResolutionAtTransportLayer(t *testing.T) {
	st, certSource := newTestSystem(t)
	svc := service.NewCertAuthService(service.New(st), st, nil)
	handler := CheckinHandler(svc, certSource, nil)

	body := plistBody(t, mdmproto.CheckinMessage{
		MessageType: mdmproto.MessageAuthenticate,
		UDID:        "D",
		UserID:      "FFFFFFFF-FFFF-FFFF-FFFF-FFFFFFFFFFFF",
	})
	req := httptest.NewRequest("POST", "/mdm/checkin", bytes.NewReader(body))
	req.TLS = withPeerCert([]byte("cert-shared"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	enr, err := st.GetEnrollment(context.Background(), "D:FFFFFFFF-FFFF-FFFF-FFFF-FFFFFFFFFFFF")
	if err != nil {
		t.Fatalf("GetEnrollment: %v", err)
	}
	if enr == nil {
		t.Fatal("expected enrollment to exist under shared-ipad canonical id")
	}
}
