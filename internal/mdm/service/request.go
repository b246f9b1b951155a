// Package service implements the check-in and command-report state
// machines described in SPEC_FULL.md §4.3: the base NanoMdm handler,
// the CertAuthService decorator, and the MultiService composer.
package service

import (
	"context"
	"crypto/x509"

	"github.com/pl-aronis/moonstone/internal/mdm/enrollid"
)

// Request carries everything a Service handler needs for one check-in
// or command-report call: the resolved identity, the presented client
// certificate (nil if none), and the raw message parameters.
//
// Grounded on jessepeterson-nanomdm's mdm.Request shape, narrowed to
// this package's own needs.
type Request struct {
	Context     context.Context
	EnrollID    enrollid.EnrollID
	Certificate *x509.Certificate
	Params      map[string]string
}

func (r *Request) ctx() context.Context {
	if r.Context == nil {
		return context.Background()
	}
	return r.Context
}
