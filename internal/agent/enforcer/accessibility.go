// Package enforcer resolves the frontmost macOS application and kills
// disallowed processes at a fixed cadence, grounded on
// original_source/crates/focus/agent/src/accessibility.rs and
// src/enforcer.rs.
package enforcer

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// FrontmostApp shells out to lsappinfo to resolve the bundle id and
// display name of the focused application. It returns ok=false, not an
// error, when lsappinfo reports nothing (e.g. no app currently has
// focus).
func FrontmostApp() (bundleID, name string, ok bool, err error) {
	out, err := exec.Command("lsappinfo", "info", "-only", "bundleid", "-only", "name", "-app", "front").Output()
	if err != nil {
		return "", "", false, fmt.Errorf("enforcer: lsappinfo frontmost: %w", err)
	}
	bundleID, name, ok = parseLsappinfo(string(out))
	return bundleID, name, ok, nil
}

// PidsForBundle returns every running process id for bundleID.
func PidsForBundle(bundleID string) ([]int, error) {
	out, err := exec.Command("lsappinfo", "info", "-only", "pid", "-app", bundleID).Output()
	if err != nil {
		return nil, fmt.Errorf("enforcer: lsappinfo pids for %s: %w", bundleID, err)
	}

	var pids []int
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		rest, found := strings.CutPrefix(line, `"pid"=`)
		if !found {
			continue
		}
		if pid, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

func parseLsappinfo(output string) (bundleID, name string, ok bool) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if v, found := strings.CutPrefix(line, `"bundleid"=`); found {
			bundleID = strings.Trim(v, `"`)
		} else if v, found := strings.CutPrefix(line, `"name"=`); found {
			name = strings.Trim(v, `"`)
		}
	}
	if bundleID == "" {
		return "", "", false
	}
	if name == "" {
		name = bundleID
	}
	return bundleID, name, true
}
