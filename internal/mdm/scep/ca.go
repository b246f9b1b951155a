package scep

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// CA is a tenant-scoped signing authority that issues the client
// identity certificate devices pin against at transport.CertSource,
// adapted from mdm-server/internal/scep/ca.go.
type CA struct {
	Certificate *x509.Certificate
	PrivateKey  *rsa.PrivateKey
	CertPEM     string
	KeyPEM      string
}

// NewCA generates a fresh self-signed CA for orgName, valid for
// validYears.
func NewCA(orgName string, validYears int) (*CA, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return nil, fmt.Errorf("scep: generate CA key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("scep: generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{orgName},
			CommonName:   fmt.Sprintf("%s MDM CA", orgName),
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(validYears, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, fmt.Errorf("scep: create CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("scep: parse CA certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})

	return &CA{Certificate: cert, PrivateKey: privateKey, CertPEM: string(certPEM), KeyPEM: string(keyPEM)}, nil
}

// LoadCA reconstructs a CA from PEM-encoded certificate and key text.
func LoadCA(certPEM, keyPEM string) (*CA, error) {
	certBlock, _ := pem.Decode([]byte(certPEM))
	if certBlock == nil {
		return nil, fmt.Errorf("scep: decode CA certificate PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("scep: parse CA certificate: %w", err)
	}

	keyBlock, _ := pem.Decode([]byte(keyPEM))
	if keyBlock == nil {
		return nil, fmt.Errorf("scep: decode CA key PEM")
	}

	var privateKey *rsa.PrivateKey
	switch keyBlock.Type {
	case "RSA PRIVATE KEY":
		privateKey, err = x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	case "PRIVATE KEY":
		key, perr := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if perr != nil {
			return nil, fmt.Errorf("scep: parse PKCS8 CA key: %w", perr)
		}
		ok := false
		privateKey, ok = key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("scep: CA key is not RSA")
		}
	default:
		return nil, fmt.Errorf("scep: unsupported CA key type %q", keyBlock.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("scep: parse CA key: %w", err)
	}

	return &CA{Certificate: cert, PrivateKey: privateKey, CertPEM: certPEM, KeyPEM: keyPEM}, nil
}

// IssueCertificate signs csr, producing a client-auth certificate
// valid for validDays.
func (ca *CA) IssueCertificate(csr *x509.CertificateRequest, validDays int) (*x509.Certificate, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("scep: generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      csr.Subject,
		NotBefore:    time.Now(),
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.Certificate, csr.PublicKey, ca.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("scep: issue certificate: %w", err)
	}
	return x509.ParseCertificate(certDER)
}

// Fingerprint returns the SHA-256 fingerprint of the CA certificate,
// in the same hex form transport.CertSource pins client certs under.
func (ca *CA) Fingerprint() string {
	hash := sha256.Sum256(ca.Certificate.Raw)
	return fmt.Sprintf("%x", hash)
}
