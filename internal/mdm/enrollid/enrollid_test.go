package enrollid

import "testing"

func TestResolve(t *testing.T) {
	cases := []struct {
		name string
		raw  RawEnrollment
		want EnrollID
	}{
		{
			name: "user enrollment",
			raw:  RawEnrollment{EnrollmentID: "E", EnrollmentUserID: "U"},
			want: EnrollID{Kind: KindUserEnrollment, ID: "E:U", ParentID: "E"},
		},
		{
			name: "user enrollment device",
			raw:  RawEnrollment{EnrollmentID: "E"},
			want: EnrollID{Kind: KindUserEnrollmentDevice, ID: "E"},
		},
		{
			name: "shared ipad",
			raw:  RawEnrollment{UDID: "D", UserID: sharedIPadSentinel},
			want: EnrollID{Kind: KindSharedIPad, ID: "D:" + sharedIPadSentinel, ParentID: "D"},
		},
		{
			name: "user channel",
			raw:  RawEnrollment{UDID: "D", UserID: "U"},
			want: EnrollID{Kind: KindUserChannel, ID: "D:U", ParentID: "D"},
		},
		{
			name: "device",
			raw:  RawEnrollment{UDID: "D"},
			want: EnrollID{Kind: KindDevice, ID: "D"},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Resolve(c.raw)
			if err != nil {
				t.Fatalf("Resolve(%+v) returned error: %v", c.raw, err)
			}
			if got != c.want {
				t.Fatalf("Resolve(%+v) = %+v, want %+v", c.raw, got, c.want)
			}
		})
	}
}

func TestResolveUnresolved(t *testing.T) {
	_, err := Resolve(RawEnrollment{})
	if err == nil {
		t.Fatal("expected an error for an empty raw enrollment")
	}
	var unresolved *UnresolvedIdentityError
	if _, ok := err.(*UnresolvedIdentityError); !ok {
		t.Fatalf("expected *UnresolvedIdentityError, got %T", err)
	}
	_ = unresolved
}

// Exercises invariant 6 from spec.md §8: resolution is exhaustive and
// deterministic — running the same input twice yields the same result.
func TestResolveDeterministic(t *testing.T) {
	raw := RawEnrollment{UDID: "ABC", UserID: "user-1"}
	first, err := Resolve(raw)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Resolve(raw)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("Resolve is not deterministic: %+v != %+v", first, second)
	}
}
