// Command moonstone-agent is the macOS enforcement daemon: it reads
// the local focus policy, kills disallowed foreground apps, reconciles
// the pf firewall against the active website policy, and exposes an
// IPC socket the watchdog and user CLI talk to.
//
// Grounded on device-agent-linux/main.go + service/service.go's
// startup-log / signal-aware context-cancellation shape. The original
// Rust agent (crates/focus/agent/src/main.rs) never got past a
// "TODO: connect to MDM server and receive policies" stub; this
// completes that wiring onto the local TOML config instead, since
// nothing in the retrieval pack implements an agent-side MDM network
// client and SPEC_FULL.md does not require one.
package main

import (
	"context"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/micromdm/nanolib/log"
	"github.com/pl-aronis/moonstone/internal/agent/config"
	"github.com/pl-aronis/moonstone/internal/agent/enforcer"
	"github.com/pl-aronis/moonstone/internal/agent/network"
	"github.com/pl-aronis/moonstone/internal/agent/policy"
	"github.com/pl-aronis/moonstone/internal/mdm/mdmproto"
	"github.com/pl-aronis/moonstone/internal/watchdog/ipc"
)

// configReloadInterval bounds how stale the enforced policy can be
// relative to an on-disk config edit, mirroring the agent's 10 Hz
// enforcement tick being much faster than any reasonable edit cadence.
const configReloadInterval = 10 * time.Second

func main() {
	logger := newStdLogger()
	logger.Info("msg", "starting moonstone-agent")

	state := &agentState{logger: logger}
	if err := state.reload(); err != nil {
		logger.Info("msg", "initial config load failed, enforcing nothing until fixed", "err", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("msg", "received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	srv, err := ipc.NewServer(ipc.Handlers{
		OnHeartbeat: func() {},
		OnShutdown:  func() { cancel() },
		OnStatus:    func() bool { return true },
		OnEmergencyDisable: func() error {
			state.disableUntilNextPeriod()
			logger.Info("msg", "emergency disable engaged until current block period ends")
			return nil
		},
	}, logger)
	if err != nil {
		logger.Info("msg", "ipc server bind failed", "err", err.Error())
		os.Exit(1)
	}
	defer srv.Close()

	go func() {
		if err := srv.Serve(); err != nil {
			logger.Info("msg", "ipc serve error", "err", err.Error())
		}
	}()

	go reloadLoop(ctx, state)

	netEnforcer := network.New(logger)
	go networkLoop(ctx, netEnforcer, state)

	enf := enforcer.New(logger)
	logger.Info("msg", "enforcement loop running")
	enforcer.Run(ctx, enf, state.policySource)

	logger.Info("msg", "moonstone-agent stopped")
}

// agentState holds the mutable policy derived from the on-disk config
// plus the emergency-disable latch the IPC EmergencyDisable opcode
// sets; it is shared between the enforcement loop, the network
// reconciler, and the IPC server's handler goroutines.
type agentState struct {
	mu                sync.Mutex
	cfg               *config.Config
	logger            log.Logger
	emergencyDisabled bool
}

func (s *agentState) reload() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

func (s *agentState) disableUntilNextPeriod() {
	s.mu.Lock()
	s.emergencyDisabled = true
	s.mu.Unlock()
}

// policySource is the enforcer.PolicySource: it returns nil (enforce
// nothing) when no config has loaded yet, when emergency-disable is
// in effect, or implicitly whenever the enforcer itself finds the
// schedule inactive. The emergency-disable latch clears itself the
// moment the schedule goes inactive, matching the typing challenge's
// own promise: "disabled until the next block period".
func (s *agentState) policySource() *mdmproto.FocusPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg == nil {
		return nil
	}
	p := s.cfg.ToFocusPolicy()

	if !policy.IsScheduleActive(p.Schedule, time.Now()) {
		s.emergencyDisabled = false
		return &p
	}
	if s.emergencyDisabled {
		return nil
	}
	return &p
}

func reloadLoop(ctx context.Context, state *agentState) {
	ticker := time.NewTicker(configReloadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := state.reload(); err != nil {
				state.logger.Info("msg", "config reload failed", "err", err.Error())
			}
		}
	}
}

func networkLoop(ctx context.Context, netEnforcer *network.Enforcer, state *agentState) {
	ticker := time.NewTicker(configReloadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			netEnforcer.Disable()
			return
		case <-ticker.C:
			p := state.policySource()
			if p == nil || !policy.IsScheduleActive(p.Schedule, time.Now()) {
				netEnforcer.Disable()
				continue
			}
			if err := netEnforcer.Apply(p.Websites); err != nil {
				state.logger.Info("msg", "network policy apply failed", "err", err.Error())
			}
		}
	}
}

type stdLogger struct {
	std   *stdlog.Logger
	debug bool
}

func newStdLogger() *stdLogger {
	return &stdLogger{std: stdlog.New(os.Stderr, "", stdlog.LstdFlags), debug: os.Getenv("MOONSTONE_DEBUG") == "true"}
}

func (l *stdLogger) Info(keyvals ...interface{})  { l.log("level=info", keyvals) }
func (l *stdLogger) Debug(keyvals ...interface{}) {
	if l.debug {
		l.log("level=debug", keyvals)
	}
}

func (l *stdLogger) log(level string, keyvals []interface{}) {
	line := level
	for i := 0; i+1 < len(keyvals); i += 2 {
		line += fmt.Sprintf(" %v=%v", keyvals[i], keyvals[i+1])
	}
	l.std.Println(line)
}
