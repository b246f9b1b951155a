// Command moonstone is the interactive CLI: status, config display,
// emergency-disable (gated by a typing challenge), and the two
// scriptable predicates scripts/launchd hooks use, is-blocked and
// time-left.
//
// Subcommand dispatch is grounded on mdm-server/cmd/apnstool/main.go's
// os.Args[1] switch rather than the flag package's subcommand idiom,
// since that tool is this repo's only existing precedent for a
// multi-verb CLI binary. Each command's behavior is ported from
// original_source/src/bin/moonstone-cli.rs.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pl-aronis/moonstone/internal/agent/config"
	"github.com/pl-aronis/moonstone/internal/agent/policy"
	"github.com/pl-aronis/moonstone/internal/mdm/mdmproto"
	"github.com/pl-aronis/moonstone/internal/watchdog/challenge"
	"github.com/pl-aronis/moonstone/internal/watchdog/ipc"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "status":
		cmdStatus()
	case "emergency-disable":
		cmdEmergencyDisable()
	case "config":
		cmdConfig()
	case "is-blocked":
		cmdIsBlocked()
	case "time-left":
		cmdTimeLeft()
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: moonstone <status|emergency-disable|config|is-blocked|time-left>")
}

func cmdStatus() {
	fmt.Println("=== Moonstone Status ===")
	fmt.Println()

	running := ipc.IsDaemonRunning()
	fmt.Printf("Daemon:    %s\n", boolLabel(running, "RUNNING", "STOPPED"))

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config:    ERROR - %s\n", err)
		return
	}

	p := cfg.ToFocusPolicy()
	blocked := policy.IsScheduleActive(p.Schedule, time.Now())
	fmt.Printf("Blocking:  %s\n", boolLabel(blocked, "ACTIVE", "INACTIVE"))

	if blocked {
		if d, ok := timeUntilUnblock(p.Schedule); ok {
			fmt.Printf("Time left: %s\n", formatDuration(d))
		}
	}

	fmt.Println()
	fmt.Printf("Allowed apps: %d\n", len(cfg.Apps.Allowed))
	fmt.Printf("Allowed sites: %d\n", len(cfg.Websites.Allowed))
	fmt.Printf("Tamper response: %s\n", cfg.Hardcore.OnTamper)
}

func cmdEmergencyDisable() {
	fmt.Println("=== Moonstone Emergency Disable ===")
	fmt.Println()

	if !ipc.IsDaemonRunning() {
		fmt.Println("Daemon is not running. Nothing to disable.")
		return
	}

	duration := challenge.DefaultDuration
	if cfg, err := config.Load(); err == nil && cfg.Hardcore.EmergencyDisableChallenge > 0 {
		duration = time.Duration(cfg.Hardcore.EmergencyDisableChallenge) * time.Second
	}

	fmt.Println("This will disable Moonstone until the next block period.")
	fmt.Printf("You must complete a %s typing challenge.\n\n", formatDuration(duration))

	if !challenge.RunChallenge(os.Stdin, os.Stdout, duration) {
		fmt.Println()
		fmt.Println("Challenge failed. Moonstone remains active.")
		return
	}

	client := ipc.NewClient()
	ack, err := client.Send(ipc.EmergencyDisable)
	if err != nil {
		fmt.Printf("Failed to communicate with daemon: %s\n", err)
		return
	}
	if ack != ipc.AckOK {
		fmt.Println("Daemon rejected the emergency disable request.")
		return
	}

	fmt.Println("Moonstone has been disabled.")
	fmt.Println("Blocking will resume at the start of the next block period.")
}

func cmdConfig() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %s\n", err)
		os.Exit(1)
	}

	fmt.Println("=== Moonstone Configuration ===")
	fmt.Printf("Config file: %s\n\n", config.DefaultPath())

	fmt.Println("[Schedule]")
	for i, period := range cfg.Schedule.Blocks {
		fmt.Printf("  Block %d: %s - %s\n", i+1, period.Start, period.End)
	}

	fmt.Printf("\n[Apps] (mode: %s)\n", cfg.Apps.Mode)
	for _, app := range cfg.Apps.Allowed {
		fmt.Printf("  - %s\n", app)
	}

	fmt.Printf("\n[Websites] (mode: %s)\n", cfg.Websites.Mode)
	for _, site := range cfg.Websites.Allowed {
		fmt.Printf("  - %s\n", site)
	}

	fmt.Println("\n[Hardcore]")
	fmt.Printf("  on_tamper: %s\n", cfg.Hardcore.OnTamper)
	fmt.Printf("  emergency_challenge: %ds\n", cfg.Hardcore.EmergencyDisableChallenge)
	fmt.Printf("  lock_config: %t\n", cfg.Hardcore.LockConfig)
	fmt.Printf("  kill_behavior: %s\n", cfg.Hardcore.KillBehavior)
}

func cmdIsBlocked() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("ALLOWED")
		os.Exit(1)
	}
	p := cfg.ToFocusPolicy()
	if policy.IsScheduleActive(p.Schedule, time.Now()) {
		fmt.Println("BLOCKED")
		os.Exit(0)
	}
	fmt.Println("ALLOWED")
	os.Exit(1)
}

func cmdTimeLeft() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("Not currently blocked")
		return
	}
	p := cfg.ToFocusPolicy()
	if !policy.IsScheduleActive(p.Schedule, time.Now()) {
		fmt.Println("Not currently blocked")
		return
	}
	d, ok := timeUntilUnblock(p.Schedule)
	if !ok {
		fmt.Println("Unknown")
		return
	}
	fmt.Println(formatDuration(d))
}

// timeUntilUnblock walks forward minute by minute until
// policy.IsScheduleActive reports inactive, capping the search at 24h;
// a schedule still active at every minute of that window reports
// ok=false.
func timeUntilUnblock(s mdmproto.Schedule) (time.Duration, bool) {
	now := time.Now()
	for minutes := 1; minutes <= 24*60; minutes++ {
		t := now.Add(time.Duration(minutes) * time.Minute)
		if !policy.IsScheduleActive(s, t) {
			return time.Duration(minutes) * time.Minute, true
		}
	}
	return 0, false
}

func boolLabel(v bool, ifTrue, ifFalse string) string {
	if v {
		return ifTrue
	}
	return ifFalse
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
