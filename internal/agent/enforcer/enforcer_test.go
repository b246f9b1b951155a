package enforcer

import (
	"testing"

	"github.com/pl-aronis/moonstone/internal/mdm/mdmproto"
)

func TestTickNilPolicyIsNoOp(t *testing.T) {
	e := New(nil)
	e.Tick(nil) // must not panic
}

func TestTickOutsideScheduleClearsRecentlyKilled(t *testing.T) {
	e := New(nil)
	e.recentlyKilled["com.example.blocked"] = true

	inactive := &mdmproto.FocusPolicy{
		Schedule: mdmproto.Schedule{Periods: []mdmproto.TimePeriod{{Start: "00:00", End: "00:01"}}},
		Apps:     mdmproto.AppPolicy{Mode: mdmproto.AppPolicyBlocklist},
	}
	e.Tick(inactive)

	if len(e.recentlyKilled) != 0 {
		t.Fatal("expected recentlyKilled to be cleared once the schedule is inactive")
	}
}

func TestKillDedupSkipsRepeatedCallsForSameBundle(t *testing.T) {
	e := New(nil)
	e.recentlyKilled["com.example.blocked"] = true

	// kill() returns immediately for an already-recorded bundle id
	// without attempting to resolve pids (no lsappinfo call made), so
	// this must not panic or hang even without lsappinfo on PATH.
	e.kill("com.example.blocked")

	if !e.recentlyKilled["com.example.blocked"] {
		t.Fatal("expected bundle id to remain recorded")
	}
}
