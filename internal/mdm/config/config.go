// Package config loads the MDM server's environment-variable
// configuration, grounded on mdm-server/internal/config/config.go's
// env-var shape, moved from that file's hand-rolled getEnv/getEnvBool
// onto github.com/kelseyhightower/envconfig's struct-tag processing
// the way device-agent-windows uses the same library for its own
// config loading.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every setting the server binary needs at startup. Tags
// are processed with prefix "mdm", so a field named ListenAddr reads
// MDM_LISTEN_ADDR.
type Config struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8443"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"moonstone.db"`
	ServerURL    string `envconfig:"SERVER_URL" default:"https://localhost:8443"`

	TLSCertFile string `envconfig:"TLS_CERT"`
	TLSKeyFile  string `envconfig:"TLS_KEY"`

	// EnableMTLS selects the client-certificate extraction mode: true
	// trusts only the verified TLS peer certificate and disables the
	// Mdm-Signature header path outright; false requires a working
	// Mdm-Signature verification path instead (SPEC_FULL.md §4.4).
	EnableMTLS bool `envconfig:"ENABLE_MTLS" default:"true"`

	// SignatureTrustAnchorFile is a PEM bundle of CA certificates the
	// Mdm-Signature PKCS#7 envelope's signer must chain to. Required
	// when EnableMTLS is false.
	SignatureTrustAnchorFile string `envconfig:"SIGNATURE_TRUST_ANCHOR"`

	// TrustProxyHeaders enables the X-Ssl-Client-Cert / X-Client-Cert /
	// Ssl-Client-Cert passthrough path. Off by default: blindly trusting
	// a client-supplied header would defeat cert pinning unless the
	// deployment's reverse proxy is known to strip/overwrite it.
	TrustProxyHeaders bool `envconfig:"TRUST_PROXY_HEADERS" default:"false"`

	OperatorJWTSecret string `envconfig:"OPERATOR_JWT_SECRET"`

	APNsCertFile string `envconfig:"APNS_CERT"`
	APNsKeyFile  string `envconfig:"APNS_KEY"`
	APNsTopic    string `envconfig:"APNS_TOPIC"`

	// APNsP12File/APNsP12Password are an alternative to APNsCertFile/
	// APNsKeyFile for operators holding the Keychain-Access-exported
	// .p12 bundle Apple's developer portal issues rather than split
	// PEM files. When set, these take priority over APNsCertFile.
	APNsP12File     string `envconfig:"APNS_P12"`
	APNsP12Password string `envconfig:"APNS_P12_PASSWORD"`

	SCEPCAKeyFile  string `envconfig:"SCEP_CA_KEY"`
	SCEPCACertFile string `envconfig:"SCEP_CA_CERT"`

	MaxOpenConns int `envconfig:"MAX_OPEN_CONNS" default:"10"`

	DebugMode bool `envconfig:"DEBUG" default:"false"`
}

// LoadFromEnv reads MDM_* environment variables into Config,
// defaulting anything unset per the struct tags above.
func LoadFromEnv() (*Config, error) {
	var c Config
	if err := envconfig.Process("mdm", &c); err != nil {
		return nil, fmt.Errorf("config: process env: %w", err)
	}
	return &c, nil
}

// Validate rejects configurations that would silently run with no
// working certificate-extraction path at all.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("MDM_DATABASE_PATH is required")
	}
	if !c.EnableMTLS && c.SignatureTrustAnchorFile == "" {
		return fmt.Errorf("MDM_SIGNATURE_TRUST_ANCHOR is required when MDM_ENABLE_MTLS=false")
	}
	if c.OperatorJWTSecret == "" {
		return fmt.Errorf("MDM_OPERATOR_JWT_SECRET is required")
	}
	return nil
}

func (c *Config) IsTLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

func (c *Config) HasAPNs() bool {
	if c.APNsTopic == "" {
		return false
	}
	return c.APNsCertFile != "" || c.APNsP12File != ""
}

func (c *Config) HasSCEP() bool {
	return c.SCEPCAKeyFile != "" && c.SCEPCACertFile != ""
}
