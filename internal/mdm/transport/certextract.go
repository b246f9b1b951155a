package transport

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pl-aronis/moonstone/internal/mdm/mdmerr"
	"go.mozilla.org/pkcs7"
)

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// proxyHeaders is tried in order when TrustProxyHeaders is enabled,
// mirroring the original implementation's header precedence
// (original_source/crates/mdm/http/src/handlers.rs).
var proxyHeaders = []string{"X-Ssl-Client-Cert", "X-Client-Cert", "Ssl-Client-Cert"}

// CertSource extracts client certificates from incoming requests per
// SPEC_FULL.md §4.4's precedence: verified TLS peer cert, then
// Mdm-Signature PKCS#7, then (if enabled) reverse-proxy headers.
type CertSource struct {
	// EnableMTLS, when true, rejects a present Mdm-Signature header
	// outright. The TLS peer certificate is still accepted, and so are
	// the proxy headers when TrustProxyHeaders is set.
	EnableMTLS bool

	// SignatureTrustRoots is the pool an Mdm-Signature envelope's
	// signer must chain to. Required when EnableMTLS is false.
	SignatureTrustRoots *x509.CertPool

	// TrustProxyHeaders enables the passthrough header path.
	TrustProxyHeaders bool
}

// Extract returns the client certificate presented with r. body is the
// request body the caller has already read from r; it is the content
// a detached Mdm-Signature is verified against.
func (s *CertSource) Extract(r *http.Request, body []byte) (*x509.Certificate, error) {
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		return r.TLS.PeerCertificates[0], nil
	}

	if sig := r.Header.Get("Mdm-Signature"); sig != "" {
		if s.EnableMTLS {
			return nil, &mdmerr.Unauthorized{Reason: "Mdm-Signature header not accepted in mTLS mode"}
		}
		return s.verifySignatureHeader(sig, body)
	}

	if s.TrustProxyHeaders {
		for _, name := range proxyHeaders {
			if v := r.Header.Get(name); v != "" {
				return parseProxyHeaderCert(v)
			}
		}
	}

	return nil, nil
}

func (s *CertSource) verifySignatureHeader(sigB64 string, body []byte) (*x509.Certificate, error) {
	if s.SignatureTrustRoots == nil {
		return nil, &mdmerr.Unauthorized{Reason: "signature verification not configured"}
	}

	der, err := decodeBase64(sigB64)
	if err != nil {
		return nil, &mdmerr.ParseError{Context: "Mdm-Signature base64", Cause: err}
	}

	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, &mdmerr.ParseError{Context: "Mdm-Signature PKCS#7", Cause: err}
	}

	// Detached signature: the SignedData carries no content of its
	// own, it signs the request body supplied out of band.
	p7.Content = body
	if err := p7.Verify(); err != nil {
		return nil, &mdmerr.Unauthorized{Reason: fmt.Sprintf("Mdm-Signature verification failed: %v", err)}
	}

	signer := p7.GetOnlySigner()
	if signer == nil {
		return nil, &mdmerr.Unauthorized{Reason: "Mdm-Signature envelope has no signer certificate"}
	}

	if _, err := signer.Verify(x509.VerifyOptions{Roots: s.SignatureTrustRoots, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny}}); err != nil {
		return nil, &mdmerr.Unauthorized{Reason: fmt.Sprintf("Mdm-Signature signer does not chain to trust anchor: %v", err)}
	}

	return signer, nil
}

// parseProxyHeaderCert decodes either RFC 9440 (:base64:) or
// URL-encoded PEM, matching the two sub-formats spec.md §4.4 names.
func parseProxyHeaderCert(value string) (*x509.Certificate, error) {
	var der []byte
	var err error

	if strings.HasPrefix(value, ":") && strings.HasSuffix(value, ":") && len(value) > 1 {
		der, err = decodeBase64(strings.Trim(value, ":"))
		if err != nil {
			return nil, &mdmerr.ParseError{Context: "RFC 9440 client cert header", Cause: err}
		}
	} else {
		decoded, uerr := url.QueryUnescape(value)
		if uerr != nil {
			return nil, &mdmerr.ParseError{Context: "URL-encoded client cert header", Cause: uerr}
		}
		block, _ := pem.Decode([]byte(decoded))
		if block == nil {
			return nil, &mdmerr.ParseError{Context: "client cert header PEM", Cause: fmt.Errorf("no PEM block found")}
		}
		der = block.Bytes
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, &mdmerr.ParseError{Context: "client cert header DER", Cause: err}
	}
	return cert, nil
}
