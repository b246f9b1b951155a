package transport

import (
	"net/http"

	"github.com/micromdm/nanolib/log"
	"github.com/pl-aronis/moonstone/internal/mdm/service"
)

// ScepHandler serves the SCEP enrollment exchange. *scep.Handler
// satisfies this.
type ScepHandler interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// Deps is everything NewRouter needs to wire every endpoint in
// spec.md §4.4.
type Deps struct {
	Service      service.CheckinAndCommandService
	Store        OperatorStore
	Pusher       Pusher
	CertSource   *CertSource
	OperatorAuth *OperatorAuth
	Scep         ScepHandler
	PushTopic    string
	Logger       log.Logger
}

// NewRouter builds the full HTTP handler: device-facing /mdm/*
// endpoints are unauthenticated at the HTTP layer (certificate pinning
// happens inside the Service, via CertAuthService) while operator
// endpoints require a Bearer JWT. Kept as plain net/http, matching
// mdm-server/cmd/mdmserver/main.go's http.ServeMux — the teacher, and
// the rest of the retrieval pack's Go side, never reach for a router
// framework for this concern.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = log.NopLogger
	}

	mux := http.NewServeMux()

	mux.Handle("/mdm/checkin", CheckinHandler(d.Service, d.CertSource, logger))
	mux.Handle("/mdm/command", CommandHandler(d.Service, d.CertSource, logger))
	if d.Scep != nil {
		mux.Handle("/scep/", d.Scep)
	}

	operator := http.NewServeMux()
	operator.Handle("/v1/enqueue/", EnqueueHandler(d.Store, logger))
	operator.Handle("/v1/push/", PushHandler(d.Pusher, logger))
	invalidator, _ := d.Pusher.(CertInvalidator)
	operator.Handle("/v1/pushcert", PushCertHandler(d.Store, invalidator, d.PushTopic, logger))
	operator.Handle("/api/focus/policy/", FocusPolicyHandler(d.Store, logger))
	operator.Handle("/api/focus/status/", FocusPolicyReservedHandler())
	mux.Handle("/v1/", d.OperatorAuth.Middleware(operator))
	mux.Handle("/api/", d.OperatorAuth.Middleware(operator))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})

	return logMiddleware(mux, logger)
}

// logMiddleware logs every request's method, path, and remote address,
// grounded on mdm-server/cmd/mdmserver/main.go's logMiddleware.
func logMiddleware(next http.Handler, logger log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("msg", "request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
