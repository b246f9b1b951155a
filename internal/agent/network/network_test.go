package network

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/micromdm/nanolib/log"
	"github.com/pl-aronis/moonstone/internal/mdm/mdmproto"
)

func TestPolicyKeyStableUnderDomainOrder(t *testing.T) {
	a := mdmproto.WebsitePolicy{Mode: mdmproto.WebsitePolicyBlocklist, Domains: []string{"b.com", "a.com"}}
	b := mdmproto.WebsitePolicy{Mode: mdmproto.WebsitePolicyBlocklist, Domains: []string{"a.com", "b.com"}}
	if policyKey(a) != policyKey(b) {
		t.Fatal("expected policyKey to be order-independent")
	}
}

func TestPolicyKeyDiffersAcrossMode(t *testing.T) {
	allow := mdmproto.WebsitePolicy{Mode: mdmproto.WebsitePolicyAllowlist, Domains: []string{"a.com"}}
	block := mdmproto.WebsitePolicy{Mode: mdmproto.WebsitePolicyBlocklist, Domains: []string{"a.com"}}
	if policyKey(allow) == policyKey(block) {
		t.Fatal("expected policyKey to differ between Allowlist and Blocklist")
	}
}

func TestWriteAnchorWritesToConfiguredPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anchor")
	e := &Enforcer{AnchorPath: path, logger: nil}

	if err := e.writeAnchor("block out quick to 1.2.3.4\n"); err != nil {
		t.Fatalf("writeAnchor: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "block out quick to 1.2.3.4\n" {
		t.Fatalf("unexpected anchor contents: %q", data)
	}
}

func TestAnchorPathFallsBackToDefault(t *testing.T) {
	e := &Enforcer{}
	if e.anchorPath() != DefaultAnchorPath {
		t.Fatalf("expected fallback to DefaultAnchorPath, got %q", e.anchorPath())
	}
}

func TestGenerateRulesAllowlistUnionsAlwaysAllow(t *testing.T) {
	p := mdmproto.WebsitePolicy{Mode: mdmproto.WebsitePolicyAllowlist}
	rules := generateRules(p, log.NopLogger)

	for _, cidr := range alwaysAllowCIDRs {
		if !strings.Contains(rules, "pass out quick to "+cidr) {
			t.Fatalf("expected rules to always-allow %s, got:\n%s", cidr, rules)
		}
	}
	if !strings.Contains(rules, "port 53") {
		t.Fatalf("expected rules to always-allow DNS, got:\n%s", rules)
	}
	if !strings.Contains(rules, "port 67") {
		t.Fatalf("expected rules to always-allow DHCP, got:\n%s", rules)
	}
	if !strings.Contains(rules, "block out quick proto tcp") {
		t.Fatalf("expected allowlist to still terminate with a block, got:\n%s", rules)
	}
}

func TestGenerateRulesBlocklistOmitsAlwaysAllow(t *testing.T) {
	p := mdmproto.WebsitePolicy{Mode: mdmproto.WebsitePolicyBlocklist}
	rules := generateRules(p, log.NopLogger)

	for _, cidr := range alwaysAllowCIDRs {
		if strings.Contains(rules, cidr) {
			t.Fatalf("blocklist mode should not emit always-allow rules, got:\n%s", rules)
		}
	}
}

func TestResolveDomainsSkipsFailingDomainWithoutAborting(t *testing.T) {
	ips := resolveDomains([]string{"this-domain-does-not-resolve.invalid"}, log.NopLogger)
	if ips != nil {
		t.Fatalf("expected no ips for an unresolvable domain, got %v", ips)
	}
}
