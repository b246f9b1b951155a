// Package scep implements the SCEP enrollment exchange that bootstraps
// the client identity certificate transport.CertSource later pins
// against, adapted from mdm-server/internal/scep.
package scep

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
	pkcs7 "go.mozilla.org/pkcs7"
)

var (
	oidTransactionID  = asn1.ObjectIdentifier{2, 16, 840, 1, 113733, 1, 9, 7}
	oidMessageType    = asn1.ObjectIdentifier{2, 16, 840, 1, 113733, 1, 9, 2}
	oidPKIStatus      = asn1.ObjectIdentifier{2, 16, 840, 1, 113733, 1, 9, 3}
	oidSenderNonce    = asn1.ObjectIdentifier{2, 16, 840, 1, 113733, 1, 9, 5}
	oidRecipientNonce = asn1.ObjectIdentifier{2, 16, 840, 1, 113733, 1, 9, 6}
)

// CAStore persists one CA per tenant. *store.Store satisfies this via
// GetTenantCA/UpdateTenantCA.
type CAStore interface {
	GetTenantCA(ctx context.Context, tenantID string) (certPEM, keyPEM string, err error)
	UpdateTenantCA(ctx context.Context, tenantID, certPEM, keyPEM string) error
}

// Handler serves the SCEP protocol at /scep/{tenantID}.
type Handler struct {
	store  CAStore
	logger log.Logger

	mu      sync.Mutex
	caCache map[string]*CA
}

func NewHandler(store CAStore, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NopLogger
	}
	return &Handler{store: store, logger: logger, caCache: make(map[string]*CA)}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.Logger(r.Context(), h.logger)

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 {
		http.Error(w, "invalid SCEP URL", http.StatusBadRequest)
		return
	}
	tenantID := parts[1]

	operation := r.URL.Query().Get("operation")
	if operation == "" {
		http.Error(w, "missing operation parameter", http.StatusBadRequest)
		return
	}

	ca, err := h.getCA(r.Context(), tenantID)
	if err != nil {
		logger.Info("msg", "scep: getCA", "tenant", tenantID, "err", err.Error())
		http.Error(w, "tenant CA unavailable", http.StatusInternalServerError)
		return
	}

	switch operation {
	case "GetCACert":
		h.handleGetCACert(w, ca)
	case "GetCACaps":
		h.handleGetCACaps(w)
	case "PKIOperation":
		h.handlePKIOperation(w, r, ca, logger)
	default:
		http.Error(w, "unknown operation", http.StatusBadRequest)
	}
}

// getCA loads a tenant's CA from cache, then from the store,
// generating a fresh one on first use.
func (h *Handler) getCA(ctx context.Context, tenantID string) (*CA, error) {
	h.mu.Lock()
	if ca, ok := h.caCache[tenantID]; ok {
		h.mu.Unlock()
		return ca, nil
	}
	h.mu.Unlock()

	certPEM, keyPEM, err := h.store.GetTenantCA(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("scep: load tenant CA: %w", err)
	}

	var ca *CA
	if certPEM != "" && keyPEM != "" {
		ca, err = LoadCA(certPEM, keyPEM)
		if err != nil {
			return nil, err
		}
	} else {
		ca, err = NewCA(tenantID, 10)
		if err != nil {
			return nil, err
		}
		if err := h.store.UpdateTenantCA(ctx, tenantID, ca.CertPEM, ca.KeyPEM); err != nil {
			return nil, fmt.Errorf("scep: persist new tenant CA: %w", err)
		}
	}

	h.mu.Lock()
	h.caCache[tenantID] = ca
	h.mu.Unlock()
	return ca, nil
}

// InvalidateCache drops a tenant's CA from cache, forcing the next
// request to reload it from the store.
func (h *Handler) InvalidateCache(tenantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.caCache, tenantID)
}

func (h *Handler) handleGetCACert(w http.ResponseWriter, ca *CA) {
	degenerate, err := pkcs7.DegenerateCertificate(ca.Certificate.Raw)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-x509-ca-ra-cert")
	w.Write(degenerate)
}

func (h *Handler) handleGetCACaps(w http.ResponseWriter) {
	caps := []string{"POSTPKIOperation", "SHA-256", "AES", "SCEPStandard"}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(strings.Join(caps, "\n")))
}

func (h *Handler) handlePKIOperation(w http.ResponseWriter, r *http.Request, ca *CA, logger log.Logger) {
	var message []byte
	var err error

	switch r.Method {
	case http.MethodGet:
		messageB64 := r.URL.Query().Get("message")
		if messageB64 == "" {
			http.Error(w, "missing message parameter", http.StatusBadRequest)
			return
		}
		message, err = base64.StdEncoding.DecodeString(messageB64)
		if err != nil {
			http.Error(w, "invalid base64 message", http.StatusBadRequest)
			return
		}
	case http.MethodPost:
		message, err = io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p7, err := pkcs7.Parse(message)
	if err != nil {
		logger.Info("msg", "scep: parse outer PKCS7", "err", err.Error())
		h.handleRawCSR(w, message, ca, logger)
		return
	}

	p7env, err := pkcs7.Parse(p7.Content)
	if err != nil {
		h.handleRawCSR(w, p7.Content, ca, logger)
		return
	}

	decrypted, err := p7env.Decrypt(ca.Certificate, ca.PrivateKey)
	if err != nil {
		logger.Info("msg", "scep: decrypt EnvelopedData", "err", err.Error())
		http.Error(w, "SCEP enrollment failed", http.StatusInternalServerError)
		return
	}

	csr, err := x509.ParseCertificateRequest(decrypted)
	if err != nil {
		logger.Info("msg", "scep: parse CSR", "err", err.Error())
		http.Error(w, "SCEP enrollment failed", http.StatusInternalServerError)
		return
	}
	if err := csr.CheckSignature(); err != nil {
		logger.Info("msg", "scep: CSR signature invalid", "err", err.Error())
		http.Error(w, "SCEP enrollment failed", http.StatusInternalServerError)
		return
	}

	cert, err := ca.IssueCertificate(csr, 365)
	if err != nil {
		logger.Info("msg", "scep: issue certificate", "err", err.Error())
		http.Error(w, "SCEP enrollment failed", http.StatusInternalServerError)
		return
	}

	h.sendSCEPSuccess(w, ca, cert, p7, logger)
}

// handleRawCSR accepts a bare, unwrapped CSR for clients that skip the
// PKCS#7 envelope.
func (h *Handler) handleRawCSR(w http.ResponseWriter, message []byte, ca *CA, logger log.Logger) {
	csr, err := x509.ParseCertificateRequest(message)
	if err != nil {
		http.Error(w, "invalid SCEP message", http.StatusBadRequest)
		return
	}

	cert, err := ca.IssueCertificate(csr, 365)
	if err != nil {
		logger.Info("msg", "scep: issue certificate (raw CSR)", "err", err.Error())
		http.Error(w, "failed to issue certificate", http.StatusInternalServerError)
		return
	}

	degenerate, err := pkcs7.DegenerateCertificate(cert.Raw)
	if err != nil {
		w.Header().Set("Content-Type", "application/x-pki-message")
		w.Write(cert.Raw)
		return
	}
	w.Header().Set("Content-Type", "application/x-pki-message")
	w.Write(degenerate)
}

// sendSCEPSuccess builds a CertRep SUCCESS response: the issued
// certificate, encrypted for the requesting client and signed by the
// CA, following the SCEP protocol's message framing.
func (h *Handler) sendSCEPSuccess(w http.ResponseWriter, ca *CA, issuedCert *x509.Certificate, requestP7 *pkcs7.PKCS7, logger log.Logger) {
	degenerate, err := pkcs7.DegenerateCertificate(issuedCert.Raw)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	encryptedContent, err := pkcs7.Encrypt(degenerate, requestP7.Certificates)
	if err != nil {
		logger.Info("msg", "scep: encrypt CertRep for recipient", "err", err.Error())
		encryptedContent = degenerate
	}

	transactionID, senderNonce := scepAttributes(requestP7)
	respSenderNonce := make([]byte, 16)
	rand.Read(respSenderNonce)

	attrs := []pkcs7.Attribute{
		{Type: oidTransactionID, Value: transactionID},
		{Type: oidMessageType, Value: "3"},
		{Type: oidPKIStatus, Value: "0"},
		{Type: oidSenderNonce, Value: respSenderNonce},
		{Type: oidRecipientNonce, Value: senderNonce},
	}

	signedData, err := pkcs7.NewSignedData(encryptedContent)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	signedData.AddCertificate(issuedCert)
	if err := signedData.AddSigner(ca.Certificate, ca.PrivateKey, pkcs7.SignerInfoConfig{ExtraSignedAttributes: attrs}); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	signed, err := signedData.Finish()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-pki-message")
	w.Write(signed)
}

func scepAttributes(p7 *pkcs7.PKCS7) (transactionID string, senderNonce []byte) {
	if err := p7.UnmarshalSignedAttribute(oidTransactionID, &transactionID); err != nil {
		var raw []byte
		if err := p7.UnmarshalSignedAttribute(oidTransactionID, &raw); err == nil {
			transactionID = string(raw)
		}
	}
	p7.UnmarshalSignedAttribute(oidSenderNonce, &senderNonce)
	return
}
