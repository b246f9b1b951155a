// Package config reads the agent's local TOML configuration, grounded
// on original_source/src/config.rs's shape, translated from Rust
// serde/toml tags to Go struct tags and defaults applied after decode
// since BurntSushi/toml has no serde-style per-field default hook.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"github.com/pl-aronis/moonstone/internal/mdm/mdmproto"
)

// BlockMode mirrors mdmproto's Allowlist/Blocklist tagging, kept as a
// distinct type here since the on-disk TOML value is lowercase
// ("allowlist"/"blocklist") per the original's serde rename.
type BlockMode string

const (
	ModeAllowlist BlockMode = "allowlist"
	ModeBlocklist BlockMode = "blocklist"
)

// TamperResponse is the action taken when the watchdog's heartbeat
// with the agent fails repeatedly (SPEC_FULL.md §4.7).
type TamperResponse string

const (
	TamperSleep    TamperResponse = "sleep"
	TamperShutdown TamperResponse = "shutdown"
	TamperLock     TamperResponse = "lock"
)

// KillBehavior controls whether a disallowed app is killed immediately
// or the user is notified first.
type KillBehavior string

const (
	KillInstant KillBehavior = "instant"
	KillNotify  KillBehavior = "notify"
)

type BlockPeriod struct {
	Start string `toml:"start"`
	End   string `toml:"end"`
}

type ScheduleConfig struct {
	Blocks []BlockPeriod `toml:"blocks"`
}

type AppsConfig struct {
	Mode    BlockMode `toml:"mode"`
	Allowed []string  `toml:"allowed"`
}

type WebsitesConfig struct {
	Mode    BlockMode `toml:"mode"`
	Allowed []string  `toml:"allowed"`
}

type HardcoreConfig struct {
	OnTamper                  TamperResponse `toml:"on_tamper"`
	EmergencyDisableChallenge uint32         `toml:"emergency_disable_challenge"` // seconds
	LockConfig                bool           `toml:"lock_config"`
	KillBehavior              KillBehavior   `toml:"kill_behavior"`
}

// Config is the local policy the agent enforces (its only policy
// source), plus the hardening knobs the watchdog consults
// (SPEC_FULL.md §4.6/§4.7).
type Config struct {
	Schedule ScheduleConfig `toml:"schedule"`
	Apps     AppsConfig     `toml:"apps"`
	Websites WebsitesConfig `toml:"websites"`
	Hardcore HardcoreConfig `toml:"hardcore"`
}

func applyDefaults(c *Config) {
	if c.Hardcore.OnTamper == "" {
		c.Hardcore.OnTamper = TamperSleep
	}
	if c.Hardcore.EmergencyDisableChallenge == 0 {
		c.Hardcore.EmergencyDisableChallenge = 300
	}
	if c.Hardcore.KillBehavior == "" {
		c.Hardcore.KillBehavior = KillInstant
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/moonstone/config.toml (or its
// platform-appropriate equivalent via adrg/xdg).
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "moonstone", "config.toml")
}

// Load reads and parses the config at DefaultPath.
func Load() (*Config, error) {
	return LoadFrom(DefaultPath())
}

// LoadFrom reads and parses the config at path.
func LoadFrom(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyDefaults(&c)
	return &c, nil
}

// ToFocusPolicy converts the local config into the same FocusPolicy
// shape the MDM server pushes, so internal/agent/policy's evaluators
// work on the local config unchanged. BlockPeriod carries no
// day-of-week restriction,
// so every converted TimePeriod applies every day.
func (c Config) ToFocusPolicy() mdmproto.FocusPolicy {
	periods := make([]mdmproto.TimePeriod, len(c.Schedule.Blocks))
	for i, b := range c.Schedule.Blocks {
		periods[i] = mdmproto.TimePeriod{Start: b.Start, End: b.End}
	}

	return mdmproto.FocusPolicy{
		Schedule: mdmproto.Schedule{Periods: periods},
		Apps:     mdmproto.AppPolicy{Mode: toAppMode(c.Apps.Mode), BundleIDs: c.Apps.Allowed},
		Websites: mdmproto.WebsitePolicy{Mode: toWebsiteMode(c.Websites.Mode), Domains: c.Websites.Allowed},
	}
}

func toAppMode(m BlockMode) mdmproto.AppPolicyMode {
	if m == ModeAllowlist {
		return mdmproto.AppPolicyAllowlist
	}
	return mdmproto.AppPolicyBlocklist
}

func toWebsiteMode(m BlockMode) mdmproto.WebsitePolicyMode {
	if m == ModeAllowlist {
		return mdmproto.WebsitePolicyAllowlist
	}
	return mdmproto.WebsitePolicyBlocklist
}
