package enforcer

import "testing"

func TestParseLsappinfoBothFields(t *testing.T) {
	out := "\"bundleid\"=\"com.apple.Safari\"\n\"name\"=\"Safari\"\n"
	bundleID, name, ok := parseLsappinfo(out)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if bundleID != "com.apple.Safari" || name != "Safari" {
		t.Fatalf("unexpected parse: bundleID=%q name=%q", bundleID, name)
	}
}

func TestParseLsappinfoMissingName(t *testing.T) {
	out := "\"bundleid\"=\"com.apple.Safari\"\n"
	bundleID, name, ok := parseLsappinfo(out)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if name != bundleID {
		t.Fatalf("expected name to fall back to bundleID, got %q", name)
	}
}

func TestParseLsappinfoEmpty(t *testing.T) {
	if _, _, ok := parseLsappinfo(""); ok {
		t.Fatal("expected ok=false for empty output")
	}
}
