package enforcer

import (
	"context"
	"sync"
	"time"

	"github.com/micromdm/nanolib/log"
	"github.com/pl-aronis/moonstone/internal/agent/policy"
	"github.com/pl-aronis/moonstone/internal/mdm/mdmproto"
	"golang.org/x/sys/unix"
)

// TickInterval is the enforcement loop cadence (10 Hz), matching
// src/enforcer.rs's polling rate for the frontmost-app check.
const TickInterval = 100 * time.Millisecond

const recentlyKilledCap = 10

// PolicySource returns the currently active FocusPolicy. nil means no
// policy has been received yet (nothing is enforced).
type PolicySource func() *mdmproto.FocusPolicy

// Enforcer kills the frontmost app once per schedule-active window
// when it is not allowed, tracking a bounded set of recently killed
// bundle ids so a relaunch loop doesn't spam SIGKILL every tick.
type Enforcer struct {
	mu             sync.Mutex
	recentlyKilled map[string]bool
	logger         log.Logger
}

func New(logger log.Logger) *Enforcer {
	if logger == nil {
		logger = log.NopLogger
	}
	return &Enforcer{recentlyKilled: make(map[string]bool), logger: logger}
}

// Tick runs one enforcement pass against p. Resolution and kill errors
// are logged, not returned — a single failed lsappinfo or kill call
// must not stop the loop.
func (e *Enforcer) Tick(p *mdmproto.FocusPolicy) {
	if p == nil {
		return
	}
	if !policy.IsScheduleActive(p.Schedule, time.Now()) {
		e.reset()
		return
	}

	bundleID, _, ok, err := FrontmostApp()
	if err != nil {
		e.logger.Info("msg", "enforcer: resolve frontmost app", "err", err.Error())
		return
	}
	if !ok {
		return
	}

	if policy.IsAppAllowed(p.Apps, bundleID) {
		return
	}
	e.kill(bundleID)
}

func (e *Enforcer) kill(bundleID string) {
	e.mu.Lock()
	if e.recentlyKilled[bundleID] {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	pids, err := PidsForBundle(bundleID)
	if err != nil {
		e.logger.Info("msg", "enforcer: resolve pids", "bundle_id", bundleID, "err", err.Error())
		return
	}

	for _, pid := range pids {
		if err := unix.Kill(pid, unix.SIGKILL); err != nil {
			e.logger.Info("msg", "enforcer: kill", "bundle_id", bundleID, "pid", pid, "err", err.Error())
			continue
		}
		e.logger.Info("msg", "enforcer: killed blocked app", "bundle_id", bundleID, "pid", pid)
	}

	e.mu.Lock()
	e.recentlyKilled[bundleID] = true
	if len(e.recentlyKilled) > recentlyKilledCap {
		e.recentlyKilled = make(map[string]bool)
	}
	e.mu.Unlock()
}

func (e *Enforcer) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.recentlyKilled) > 0 {
		e.recentlyKilled = make(map[string]bool)
	}
}

// Run ticks the enforcer every TickInterval until ctx is cancelled,
// grounded on device-agent-linux/service/service.go's
// context-cancellation-aware select-on-ticker loop shape.
func Run(ctx context.Context, e *Enforcer, policies PolicySource) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(policies())
		}
	}
}
