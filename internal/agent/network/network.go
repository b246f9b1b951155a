// Package network translates a WebsitePolicy into macOS pf firewall
// rules, grounded on original_source/crates/focus/agent/src/network.rs,
// and on device-agent-linux/enforcement/lock.go's "shell out, log
// failure, continue" idiom for talking to system tools.
package network

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/micromdm/nanolib/log"
	"github.com/pl-aronis/moonstone/internal/mdm/mdmproto"
)

// DefaultAnchorPath is where the pf anchor rules are written, matching
// the original's single hardcoded anchor file.
const DefaultAnchorPath = "/etc/pf.anchors/com.moonstone"

const anchorName = "com.moonstone"

// reResolvePeriod bounds how often Apply re-resolves domains to IPs
// for an unchanged policy — DNS answers drift, so a policy that looks
// identical by content still needs a periodic refresh.
const reResolvePeriod = 5 * time.Minute

// Enforcer reconciles a WebsitePolicy into the pf anchor, re-applying
// only when the policy's identity changes or reResolvePeriod elapses,
// so restating the same policy every checkin doesn't thrash pfctl.
type Enforcer struct {
	AnchorPath string

	mu           sync.Mutex
	enabled      bool
	lastKey      string
	lastResolved time.Time
	logger       log.Logger
}

func New(logger log.Logger) *Enforcer {
	if logger == nil {
		logger = log.NopLogger
	}
	return &Enforcer{AnchorPath: DefaultAnchorPath, logger: logger}
}

// Apply reconciles p into the pf anchor. It is a no-op when p's
// identity is unchanged from the last successful Apply and
// reResolvePeriod has not yet elapsed.
func (e *Enforcer) Apply(p mdmproto.WebsitePolicy) error {
	key := policyKey(p)

	e.mu.Lock()
	if e.enabled && key == e.lastKey && time.Since(e.lastResolved) < reResolvePeriod {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	rules := generateRules(p, e.logger)
	if err := e.writeAnchor(rules); err != nil {
		return fmt.Errorf("network: write anchor: %w", err)
	}
	e.reloadPF()

	e.mu.Lock()
	e.enabled = true
	e.lastKey = key
	e.lastResolved = time.Now()
	e.mu.Unlock()

	e.logger.Info("msg", "network: policy applied", "mode", p.Mode, "domains", len(p.Domains))
	return nil
}

// Disable clears the anchor, allowing all traffic again.
func (e *Enforcer) Disable() error {
	e.mu.Lock()
	if !e.enabled {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if err := e.writeAnchor(""); err != nil {
		return fmt.Errorf("network: clear anchor: %w", err)
	}
	e.reloadPF()

	e.mu.Lock()
	e.enabled = false
	e.lastKey = ""
	e.mu.Unlock()

	e.logger.Info("msg", "network: blocking disabled")
	return nil
}

func policyKey(p mdmproto.WebsitePolicy) string {
	domains := append([]string(nil), p.Domains...)
	sort.Strings(domains)
	return string(p.Mode) + "|" + strings.Join(domains, ",")
}

// alwaysAllowCIDRs is unioned into every Allowlist policy's pass rules
// so enforcing an operator's allowlist never also cuts the device off
// from its own loopback traffic, DNS resolution, or DHCP lease
// renewal — without these the agent's own 5-minute re-resolution of
// its policy domains (via resolveDomains below) would have no DNS
// path left to run on. The original agent never carried an
// equivalent list (network.rs's resolve_domains has only a TODO
// comment: "Add known CIDR ranges for common distractions"); spec.md
// §4.6 makes this mandatory rather than aspirational.
var alwaysAllowCIDRs = []string{
	"127.0.0.0/8",
	"::1/128",
}

// alwaysAllowRules are the well-known-port passes for DNS and DHCP,
// expressed directly as pf rules since they are port-scoped rather
// than destination-scoped.
var alwaysAllowRules = []string{
	"pass out quick proto udp to port 53\n",
	"pass out quick proto tcp to port 53\n",
	"pass out quick proto udp to port 67\n",
	"pass out quick proto udp to port 68\n",
}

func generateRules(p mdmproto.WebsitePolicy, logger log.Logger) string {
	var b strings.Builder

	switch p.Mode {
	case mdmproto.WebsitePolicyAllowlist:
		ips := resolveDomains(p.Domains, logger)
		for _, ip := range ips {
			fmt.Fprintf(&b, "pass out quick to %s\n", ip)
		}
		for _, cidr := range alwaysAllowCIDRs {
			fmt.Fprintf(&b, "pass out quick to %s\n", cidr)
		}
		for _, rule := range alwaysAllowRules {
			b.WriteString(rule)
		}
		b.WriteString("block out quick proto tcp\n")
		b.WriteString("block out quick proto udp\n")
	case mdmproto.WebsitePolicyBlocklist:
		ips := resolveDomains(p.Domains, logger)
		for _, ip := range ips {
			fmt.Fprintf(&b, "block out quick to %s\n", ip)
		}
	}

	return b.String()
}

// resolveDomains shells out to dig for each domain, keeping only
// answers that parse as an IP address. A single domain's resolution
// failure is logged and skipped rather than aborting the batch
// (spec.md: ExternalToolError degrades the rule set, it does not fail
// enforcement closed or open for every other domain).
func resolveDomains(domains []string, logger log.Logger) []string {
	var ips []string
	for _, domain := range domains {
		out, err := exec.Command("dig", "+short", domain).Output()
		if err != nil {
			logger.Info("msg", "network: resolve failed, skipping domain", "domain", domain, "err", err.Error())
			continue
		}
		for _, line := range strings.Split(string(out), "\n") {
			line = strings.TrimSpace(line)
			if net.ParseIP(line) != nil {
				ips = append(ips, line)
			}
		}
	}
	return ips
}

func (e *Enforcer) writeAnchor(rules string) error {
	return os.WriteFile(e.anchorPath(), []byte(rules), 0644)
}

func (e *Enforcer) anchorPath() string {
	if e.AnchorPath != "" {
		return e.AnchorPath
	}
	return DefaultAnchorPath
}

// reloadPF enables pf (idempotent if already enabled) and reloads the
// anchor. Failures are logged, never returned — a pfctl hiccup should
// not crash the enforcement loop that called Apply.
func (e *Enforcer) reloadPF() {
	exec.Command("pfctl", "-e").Run()

	out, err := exec.Command("pfctl", "-a", anchorName, "-f", e.anchorPath()).CombinedOutput()
	if err != nil {
		e.logger.Info("msg", "network: pfctl reload failed", "err", err.Error(), "output", string(out))
	}
}
