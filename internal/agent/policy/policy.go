// Package policy evaluates a FocusPolicy against the current time and
// a candidate app or website, grounded on
// original_source/crates/focus/agent/src/policy.rs.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/pl-aronis/moonstone/internal/mdm/mdmproto"
)

// systemEssentials is always allowed regardless of AppPolicy mode,
// unioning the list in crates/focus/agent/src/policy.rs with the
// divergent list in src/config.rs — both are shipped by the original
// and neither subsumes the other.
var systemEssentials = map[string]bool{
	"com.apple.dock":                 true,
	"com.apple.finder":                true,
	"com.apple.loginwindow":          true,
	"com.apple.SecurityAgent":        true,
	"com.apple.WindowManager":        true,
	"com.apple.systemuiserver":       true,
	"com.apple.controlcenter":        true,
	"com.apple.notificationcenterui": true,
	"com.apple.Spotlight":            true,
}

// IsScheduleActive reports whether now falls within any period of s,
// handling periods that cross midnight (start > end).
func IsScheduleActive(s mdmproto.Schedule, now time.Time) bool {
	currentTime := now.Format("15:04")
	currentDay := int(now.Weekday())

	for _, period := range s.Periods {
		if len(period.Days) > 0 && !containsDay(period.Days, currentDay) {
			continue
		}

		if period.Start <= period.End {
			if currentTime >= period.Start && currentTime <= period.End {
				return true
			}
		} else {
			if currentTime >= period.Start || currentTime <= period.End {
				return true
			}
		}
	}
	return false
}

func containsDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

// IsAppAllowed reports whether bundleID may run under p, always
// permitting systemEssentials regardless of mode.
func IsAppAllowed(p mdmproto.AppPolicy, bundleID string) bool {
	if systemEssentials[bundleID] {
		return true
	}
	member := containsString(p.BundleIDs, bundleID)
	switch p.Mode {
	case mdmproto.AppPolicyAllowlist:
		return member
	case mdmproto.AppPolicyBlocklist:
		return !member
	default:
		return false
	}
}

// IsWebsiteAllowed reports whether domain may be reached under p. A
// listed domain also covers its subdomains (domain == d or
// domain ends with ".d"), matching src/config.rs's is_website_allowed.
func IsWebsiteAllowed(p mdmproto.WebsitePolicy, domain string) bool {
	member := false
	for _, d := range p.Domains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			member = true
			break
		}
	}
	switch p.Mode {
	case mdmproto.WebsitePolicyAllowlist:
		return member
	case mdmproto.WebsitePolicyBlocklist:
		return !member
	default:
		return false
	}
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Validate rejects a policy whose schedule uses a malformed "HH:MM"
// bound, catching a bad push from the operator API before the agent
// evaluates it.
func Validate(p mdmproto.FocusPolicy) error {
	for i, period := range p.Schedule.Periods {
		if _, err := time.Parse("15:04", period.Start); err != nil {
			return fmt.Errorf("policy: period %d: invalid start %q: %w", i, period.Start, err)
		}
		if _, err := time.Parse("15:04", period.End); err != nil {
			return fmt.Errorf("policy: period %d: invalid end %q: %w", i, period.End, err)
		}
		for _, d := range period.Days {
			if d < 0 || d > 6 {
				return fmt.Errorf("policy: period %d: day %d out of range 0-6", i, d)
			}
		}
	}
	return nil
}
