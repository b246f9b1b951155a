// Command moonstoned is the MDM server daemon: it terminates device
// checkins and commands, issues SCEP identities, and serves the
// operator API a fleet admin uses to push focus policies.
//
// Grounded on mdm-server/cmd/mdmserver/main.go's flag parsing,
// migration-then-serve sequencing, and signal-based graceful
// shutdown, generalized from the teacher's ad hoc handler wiring to
// construct the NanoMdm -> CertAuthService -> MultiService stack
// SPEC_FULL.md §4.3 describes.
package main

import (
	"context"
	"crypto/x509"
	"flag"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/micromdm/nanolib/log"
	mdmconfig "github.com/pl-aronis/moonstone/internal/mdm/config"
	"github.com/pl-aronis/moonstone/internal/mdm/push"
	"github.com/pl-aronis/moonstone/internal/mdm/scep"
	"github.com/pl-aronis/moonstone/internal/mdm/service"
	"github.com/pl-aronis/moonstone/internal/mdm/store"
	"github.com/pl-aronis/moonstone/internal/mdm/transport"
)

func main() {
	initDB := flag.Bool("init", false, "initialize the database and exit")
	flag.Parse()

	logger := newStdLogger()
	logger.Info("msg", "starting moonstoned")

	cfg, err := mdmconfig.LoadFromEnv()
	if err != nil {
		logger.Info("msg", "config load failed", "err", err.Error())
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Info("msg", "invalid configuration", "err", err.Error())
		os.Exit(1)
	}

	logger.Info("msg", "opening database", "path", cfg.DatabasePath)
	db, err := store.Open(cfg.DatabasePath, cfg.MaxOpenConns)
	if err != nil {
		logger.Info("msg", "open database failed", "err", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("msg", "running migrations")
	if err := db.Migrate(); err != nil {
		logger.Info("msg", "migration failed", "err", err.Error())
		os.Exit(1)
	}

	if *initDB {
		logger.Info("msg", "database initialized")
		return
	}

	ensureDefaultTenant(db, logger)

	base := service.New(db, service.WithLogger(logger))
	certAuth := service.NewCertAuthService(base, db, logger)
	// MultiService has no secondaries yet, but every checkin still
	// flows through it: it is the extension point a future fan-out
	// target (e.g. an audit sink) attaches to without touching the
	// CertAuthService/NanoMdm wiring above it.
	var svc service.CheckinAndCommandService = service.NewMultiService(logger, certAuth)

	// The SCEP handler always mounts: each tenant's CA is loaded from
	// the store or, on first use, generated and persisted by
	// internal/mdm/scep. The MDM_SCEP_CA_* settings are not read here.
	scepHandler := scep.NewHandler(db, logger)

	pusher := buildPusher(cfg, db, logger)

	certSource := &transport.CertSource{
		EnableMTLS:        cfg.EnableMTLS,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	}
	if !cfg.EnableMTLS {
		roots, err := loadTrustAnchors(cfg.SignatureTrustAnchorFile)
		if err != nil {
			logger.Info("msg", "load signature trust anchors failed", "err", err.Error())
			os.Exit(1)
		}
		certSource.SignatureTrustRoots = roots
	}

	router := transport.NewRouter(transport.Deps{
		Service:      svc,
		Store:        db,
		Pusher:       pusher,
		CertSource:   certSource,
		OperatorAuth: transport.NewOperatorAuth(cfg.OperatorJWTSecret),
		Scep:         scepHandler,
		PushTopic:    cfg.APNsTopic,
		Logger:       logger,
	})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("msg", "shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	logger.Info("msg", "listening", "addr", cfg.ListenAddr, "server_url", cfg.ServerURL)

	var serveErr error
	if cfg.IsTLSEnabled() {
		logger.Info("msg", "TLS enabled", "cert", cfg.TLSCertFile)
		serveErr = server.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	} else {
		logger.Info("msg", "TLS not enabled, serving plaintext HTTP")
		serveErr = server.ListenAndServe()
	}
	if serveErr != nil && serveErr != http.ErrServerClosed {
		logger.Info("msg", "server error", "err", serveErr.Error())
		os.Exit(1)
	}

	logger.Info("msg", "server stopped")
}

func ensureDefaultTenant(db *store.Store, logger log.Logger) {
	tenants, err := db.ListTenants(context.Background())
	if err != nil {
		logger.Info("msg", "list tenants failed", "err", err.Error())
		return
	}
	if len(tenants) > 0 {
		return
	}

	tenant, err := db.CreateTenant(context.Background(), "Default Organization", "default")
	if err != nil {
		logger.Info("msg", "create default tenant failed", "err", err.Error())
		return
	}
	logger.Info("msg", "default tenant created", "id", tenant.ID)
}

// buildPusher wires an APNs-backed push.PushService when APNs
// credentials are configured, or a no-op pusher otherwise so the
// operator push endpoints still respond (with an explanatory error)
// instead of the router panicking on a nil Pusher.
func buildPusher(cfg *mdmconfig.Config, db *store.Store, logger log.Logger) transport.Pusher {
	if !cfg.HasAPNs() {
		logger.Info("msg", "APNs not configured, push endpoint disabled")
		return push.NewPushService(&push.StoreAdapter{Store: db}, unconfiguredPusher{}, nil)
	}

	var loader push.CertLoader
	if cfg.APNsP12File != "" {
		logger.Info("msg", "loading APNs credential from p12", "path", cfg.APNsP12File)
		l, err := push.P12CertLoader(cfg.APNsP12File, cfg.APNsP12Password)
		if err != nil {
			logger.Info("msg", "load APNs p12 failed", "err", err.Error())
			os.Exit(1)
		}
		loader = l
	} else {
		certPEM, err := os.ReadFile(cfg.APNsCertFile)
		if err != nil {
			logger.Info("msg", "read APNs cert failed", "err", err.Error())
			os.Exit(1)
		}
		keyPEM, err := os.ReadFile(cfg.APNsKeyFile)
		if err != nil {
			logger.Info("msg", "read APNs key failed", "err", err.Error())
			os.Exit(1)
		}
		loader = func(topic string) ([]byte, []byte, error) {
			return certPEM, keyPEM, nil
		}
	}

	apnsPusher := push.NewApnsPusher(loader, !cfg.DebugMode)

	return push.NewPushService(&push.StoreAdapter{Store: db}, apnsPusher, nil)
}

type unconfiguredPusher struct{}

func (unconfiguredPusher) SendPush(deviceTokenHex, topic, pushMagic string) (string, error) {
	return "", fmt.Errorf("push: APNs not configured")
}

// stdLogger is the concrete log.Logger this binary runs with: a plain
// logfmt-ish writer over the standard library's log package. Every
// package in this repo is written against the log.Logger interface
// and takes log.NopLogger in tests, so main is the only place that
// needs a real implementation.
type stdLogger struct {
	std   *stdlog.Logger
	debug bool
}

func newStdLogger() *stdLogger {
	return &stdLogger{std: stdlog.New(os.Stderr, "", stdlog.LstdFlags), debug: os.Getenv("MDM_DEBUG") == "true"}
}

func (l *stdLogger) Info(keyvals ...interface{}) {
	l.log("level=info", keyvals)
}

func (l *stdLogger) Debug(keyvals ...interface{}) {
	if !l.debug {
		return
	}
	l.log("level=debug", keyvals)
}

func (l *stdLogger) log(level string, keyvals []interface{}) {
	line := level
	for i := 0; i+1 < len(keyvals); i += 2 {
		line += fmt.Sprintf(" %v=%v", keyvals[i], keyvals[i+1])
	}
	l.std.Println(line)
}

func loadTrustAnchors(path string) (*x509.CertPool, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trust anchor file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("no certificates parsed from %s", path)
	}
	return pool, nil
}
