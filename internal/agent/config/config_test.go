package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pl-aronis/moonstone/internal/mdm/mdmproto"
)

const sampleTOML = `
[schedule]
blocks = [{ start = "09:00", end = "17:00" }]

[apps]
mode = "allowlist"
allowed = ["com.apple.Terminal"]

[websites]
mode = "blocklist"
allowed = ["example.com"]

[hardcore]
on_tamper = "lock"
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadFromParsesConfig(t *testing.T) {
	path := writeTempConfig(t, sampleTOML)
	c, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if len(c.Schedule.Blocks) != 1 || c.Schedule.Blocks[0].Start != "09:00" {
		t.Fatalf("unexpected schedule: %+v", c.Schedule)
	}
	if c.Apps.Mode != ModeAllowlist || len(c.Apps.Allowed) != 1 {
		t.Fatalf("unexpected apps config: %+v", c.Apps)
	}
	if c.Hardcore.OnTamper != TamperLock {
		t.Fatalf("expected on_tamper=lock, got %s", c.Hardcore.OnTamper)
	}
}

func TestLoadFromAppliesDefaultsForOmittedHardcoreFields(t *testing.T) {
	path := writeTempConfig(t, sampleTOML)
	c, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if c.Hardcore.EmergencyDisableChallenge != 300 {
		t.Fatalf("expected default challenge duration of 300s, got %d", c.Hardcore.EmergencyDisableChallenge)
	}
	if c.Hardcore.KillBehavior != KillInstant {
		t.Fatalf("expected default kill behavior instant, got %s", c.Hardcore.KillBehavior)
	}
}

func TestLoadFromMissingFileErrors(t *testing.T) {
	if _, err := LoadFrom(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}

func TestToFocusPolicyConvertsModesAndDomains(t *testing.T) {
	c := Config{
		Schedule: ScheduleConfig{Blocks: []BlockPeriod{{Start: "22:00", End: "06:00"}}},
		Apps:     AppsConfig{Mode: ModeAllowlist, Allowed: []string{"com.apple.Terminal"}},
		Websites: WebsitesConfig{Mode: ModeBlocklist, Allowed: []string{"example.com"}},
	}

	p := c.ToFocusPolicy()
	if len(p.Schedule.Periods) != 1 || p.Schedule.Periods[0].Start != "22:00" {
		t.Fatalf("unexpected schedule conversion: %+v", p.Schedule)
	}
	if p.Apps.Mode != mdmproto.AppPolicyAllowlist {
		t.Fatalf("expected AppPolicyAllowlist, got %s", p.Apps.Mode)
	}
	if p.Websites.Mode != mdmproto.WebsitePolicyBlocklist {
		t.Fatalf("expected WebsitePolicyBlocklist, got %s", p.Websites.Mode)
	}
}
