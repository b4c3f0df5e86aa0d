package ical

import (
	"testing"
	"time"
)

func newResolver(t *testing.T) *TimezoneResolver {
	t.Helper()
	r, err := NewTimezoneResolver("America/New_York")
	if err != nil {
		t.Fatalf("NewTimezoneResolver: %v", err)
	}
	return r
}

func TestResolveWindowsNames(t *testing.T) {
	r := newResolver(t)
	cases := map[string]string{
		"Pacific Standard Time":     "America/Los_Angeles",
		"Eastern Standard Time":     "America/New_York",
		"India Standard Time":       "Asia/Kolkata",
		"GMT Standard Time":         "Europe/London",
		"Tokyo Standard Time":       "Asia/Tokyo",
		"AUS Eastern Standard Time": "Australia/Sydney",
	}
	for name, want := range cases {
		loc, ok := r.ResolveStrict(name)
		if !ok {
			t.Errorf("%q not recognized", name)
			continue
		}
		if loc.String() != want {
			t.Errorf("%q resolved to %s, want %s", name, loc, want)
		}
	}
}

func TestResolveLegacyAliases(t *testing.T) {
	r := newResolver(t)
	cases := map[string]string{
		"US/Eastern":    "America/New_York",
		"US/Pacific":    "America/Los_Angeles",
		"Asia/Calcutta": "Asia/Kolkata",
		"Europe/Kiev":   "Europe/Kyiv",
	}
	for name, want := range cases {
		loc, ok := r.ResolveStrict(name)
		if !ok {
			t.Errorf("%q not recognized", name)
			continue
		}
		if loc.String() != want {
			t.Errorf("%q resolved to %s, want %s", name, loc, want)
		}
	}
}

func TestResolveIANAPassthrough(t *testing.T) {
	r := newResolver(t)
	loc, ok := r.ResolveStrict("Europe/Paris")
	if !ok || loc.String() != "Europe/Paris" {
		t.Fatalf("got (%v, %v), want Europe/Paris", loc, ok)
	}
}

func TestResolveOffsetLabels(t *testing.T) {
	r := newResolver(t)
	probe := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		tzid   string
		offset int
	}{
		{"UTC+02:00", 2 * 3600},
		{"GMT-0500", -5 * 3600},
		{"UTC+5", 5 * 3600},
		{"GMT", 0},
		{"utc", 0},
	}
	for _, tc := range cases {
		loc, ok := r.ResolveStrict(tc.tzid)
		if !ok {
			t.Errorf("%q not recognized", tc.tzid)
			continue
		}
		if _, off := probe.In(loc).Zone(); off != tc.offset {
			t.Errorf("%q offset = %d, want %d", tc.tzid, off, tc.offset)
		}
	}
}

func TestResolveDecoratedNames(t *testing.T) {
	r := newResolver(t)
	for tzid, want := range map[string]string{
		`"Pacific Standard Time"`: "America/Los_Angeles",
		"/America/Chicago":        "America/Chicago",
	} {
		loc, ok := r.ResolveStrict(tzid)
		if !ok || loc.String() != want {
			t.Errorf("%q resolved to (%v, %v), want %s", tzid, loc, ok, want)
		}
	}
}

func TestResolveUnknownFallsBack(t *testing.T) {
	r := newResolver(t)
	for _, tzid := range []string{"Mars/Olympus_Mons", "", "   "} {
		loc, ok := r.ResolveStrict(tzid)
		if ok {
			t.Errorf("%q unexpectedly recognized", tzid)
		}
		if loc != r.Default() {
			t.Errorf("%q fell back to %s, want default", tzid, loc)
		}
	}
	if got := r.Resolve("Mars/Olympus_Mons"); got.String() != "America/New_York" {
		t.Errorf("Resolve fallback = %s, want America/New_York", got)
	}
}

func TestResolveCaches(t *testing.T) {
	r := newResolver(t)
	first := r.Resolve("Pacific Standard Time")
	second := r.Resolve("Pacific Standard Time")
	if first != second {
		t.Error("repeated resolution returned a different location pointer")
	}
}

func TestNewTimezoneResolverRejectsBadZone(t *testing.T) {
	if _, err := NewTimezoneResolver("Not/AZone"); err == nil {
		t.Fatal("expected error for unknown default zone")
	}
}

func TestReinterpretInZone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}

	// Feed claims EST in July; New York is on EDT then, so the instant
	// must shift by the hour the feed got wrong.
	summer := time.Date(2025, 7, 1, 9, 0, 0, 0, time.FixedZone("EST", -5*3600))
	if !NeedsDSTCorrection(summer, ny) {
		t.Error("summer EST stamp should need correction")
	}
	got := ReinterpretInZone(summer, ny)
	want := time.Date(2025, 7, 1, 13, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("reinterpreted instant = %s, want %s", got.UTC(), want)
	}

	winter := time.Date(2025, 1, 15, 9, 0, 0, 0, time.FixedZone("EST", -5*3600))
	if NeedsDSTCorrection(winter, ny) {
		t.Error("winter EST stamp should not need correction")
	}
}
