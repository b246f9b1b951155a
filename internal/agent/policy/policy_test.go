package policy

import (
	"testing"
	"time"

	"github.com/pl-aronis/moonstone/internal/mdm/mdmproto"
)

func mustTime(t *testing.T, layout, value string) time.Time {
	t.Helper()
	tm, err := time.Parse(layout, value)
	if err != nil {
		t.Fatalf("time.Parse: %v", err)
	}
	return tm
}

func TestScheduleActiveWithinNormalPeriod(t *testing.T) {
	s := mdmproto.Schedule{Periods: []mdmproto.TimePeriod{{Start: "09:00", End: "17:00"}}}
	noon := mustTime(t, "15:04", "12:00")
	if !IsScheduleActive(s, noon) {
		t.Fatal("expected 12:00 to be within 09:00-17:00")
	}
	evening := mustTime(t, "15:04", "20:00")
	if IsScheduleActive(s, evening) {
		t.Fatal("expected 20:00 to be outside 09:00-17:00")
	}
}

func TestScheduleActiveAcrossMidnight(t *testing.T) {
	s := mdmproto.Schedule{Periods: []mdmproto.TimePeriod{{Start: "22:00", End: "06:00"}}}
	midnight := mustTime(t, "15:04", "23:30")
	if !IsScheduleActive(s, midnight) {
		t.Fatal("expected 23:30 to be within 22:00-06:00 crossing midnight")
	}
	early := mustTime(t, "15:04", "03:00")
	if !IsScheduleActive(s, early) {
		t.Fatal("expected 03:00 to be within 22:00-06:00 crossing midnight")
	}
	afternoon := mustTime(t, "15:04", "14:00")
	if IsScheduleActive(s, afternoon) {
		t.Fatal("expected 14:00 to be outside 22:00-06:00 crossing midnight")
	}
}

func TestScheduleRespectsDayConstraint(t *testing.T) {
	s := mdmproto.Schedule{Periods: []mdmproto.TimePeriod{{Start: "00:00", End: "23:59", Days: []int{1, 2, 3, 4, 5}}}}
	sunday := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC) // a Sunday
	if IsScheduleActive(s, sunday) {
		t.Fatal("expected Sunday to be excluded from a weekday-only schedule")
	}
	monday := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC) // a Monday
	if !IsScheduleActive(s, monday) {
		t.Fatal("expected Monday to be included in a weekday-only schedule")
	}
}

func TestIsAppAllowedAllowlist(t *testing.T) {
	p := mdmproto.AppPolicy{Mode: mdmproto.AppPolicyAllowlist, BundleIDs: []string{"com.apple.Terminal"}}
	if !IsAppAllowed(p, "com.apple.Terminal") {
		t.Fatal("expected listed app to be allowed under Allowlist")
	}
	if IsAppAllowed(p, "com.apple.Safari") {
		t.Fatal("expected unlisted app to be blocked under Allowlist")
	}
	if !IsAppAllowed(p, "com.apple.finder") {
		t.Fatal("expected system essential to remain allowed under Allowlist")
	}
}

func TestIsAppAllowedBlocklist(t *testing.T) {
	p := mdmproto.AppPolicy{Mode: mdmproto.AppPolicyBlocklist, BundleIDs: []string{"com.twitter.twitter"}}
	if IsAppAllowed(p, "com.twitter.twitter") {
		t.Fatal("expected listed app to be blocked under Blocklist")
	}
	if !IsAppAllowed(p, "com.apple.Terminal") {
		t.Fatal("expected unlisted app to be allowed under Blocklist")
	}
}

func TestIsWebsiteAllowedCoversSubdomains(t *testing.T) {
	p := mdmproto.WebsitePolicy{Mode: mdmproto.WebsitePolicyAllowlist, Domains: []string{"example.com"}}
	if !IsWebsiteAllowed(p, "example.com") {
		t.Fatal("expected exact domain match to be allowed")
	}
	if !IsWebsiteAllowed(p, "docs.example.com") {
		t.Fatal("expected subdomain to be allowed")
	}
	if IsWebsiteAllowed(p, "notexample.com") {
		t.Fatal("expected a different domain sharing a suffix to be blocked")
	}
}

func TestValidateRejectsMalformedTime(t *testing.T) {
	p := mdmproto.FocusPolicy{Schedule: mdmproto.Schedule{Periods: []mdmproto.TimePeriod{{Start: "9am", End: "17:00"}}}}
	if err := Validate(p); err == nil {
		t.Fatal("expected error for malformed start time")
	}
}

func TestValidateRejectsDayOutOfRange(t *testing.T) {
	p := mdmproto.FocusPolicy{Schedule: mdmproto.Schedule{Periods: []mdmproto.TimePeriod{{Start: "09:00", End: "17:00", Days: []int{7}}}}}
	if err := Validate(p); err == nil {
		t.Fatal("expected error for day out of range")
	}
}
