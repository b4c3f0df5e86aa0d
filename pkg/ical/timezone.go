package ical

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// TimezoneResolver maps the timezone labels found in calendar feeds to
// loadable IANA locations. Resolution order: platform (Windows-style) display
// names, legacy IANA aliases, then the IANA database itself. Anything that
// still fails resolves to the operator-configured default zone, so a feed
// with a label we have never seen keeps producing events instead of being
// dropped.
type TimezoneResolver struct {
	def *time.Location

	mu    sync.RWMutex
	cache map[string]*time.Location
}

// NewTimezoneResolver builds a resolver around the given default zone name.
// The default is operator-defined and deliberately not UTC: a personal
// calendar deployment answering "when is my next meeting" in UTC is almost
// always wrong.
func NewTimezoneResolver(defaultZone string) (*TimezoneResolver, error) {
	loc, err := time.LoadLocation(defaultZone)
	if err != nil {
		return nil, fmt.Errorf("default timezone %q: %w", defaultZone, err)
	}
	return &TimezoneResolver{
		def:   loc,
		cache: make(map[string]*time.Location),
	}, nil
}

// Default returns the fallback location.
func (r *TimezoneResolver) Default() *time.Location { return r.def }

// Resolve turns a TZID value into a location. It never fails; unresolvable
// names fall back to the default zone.
func (r *TimezoneResolver) Resolve(tzid string) *time.Location {
	loc, _ := r.ResolveStrict(tzid)
	return loc
}

// ResolveStrict is Resolve plus a flag reporting whether the name was
// actually recognized (false means the default zone was substituted).
func (r *TimezoneResolver) ResolveStrict(tzid string) (*time.Location, bool) {
	tzid = strings.TrimSpace(tzid)
	if tzid == "" {
		return r.def, false
	}

	r.mu.RLock()
	if loc, ok := r.cache[tzid]; ok {
		r.mu.RUnlock()
		return loc, true
	}
	r.mu.RUnlock()

	if loc := r.lookup(tzid); loc != nil {
		r.mu.Lock()
		r.cache[tzid] = loc
		r.mu.Unlock()
		return loc, true
	}
	return r.def, false
}

func (r *TimezoneResolver) lookup(tzid string) *time.Location {
	// Some producers wrap TZIDs in quotes or prefix a leading slash
	// (the RFC 5545 "globally unique" form).
	tzid = strings.Trim(tzid, `"`)
	tzid = strings.TrimPrefix(tzid, "/")

	if iana, ok := windowsZones[tzid]; ok {
		if loc, err := time.LoadLocation(iana); err == nil {
			return loc
		}
	}
	if modern, ok := legacyAliases[tzid]; ok {
		tzid = modern
	}
	if loc, err := time.LoadLocation(tzid); err == nil {
		return loc
	}
	// Offset-style labels such as "UTC+02:00" or "GMT-0500".
	if loc := parseOffsetZone(tzid); loc != nil {
		return loc
	}
	return nil
}

// ReinterpretInZone re-reads t's wall-clock fields under loc. When a feed (or
// a test clock override) supplies an offset that disagrees with the zone's
// DST rules at that local instant, the zone wins and the instant shifts
// accordingly.
func ReinterpretInZone(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

// NeedsDSTCorrection reports whether t's recorded offset differs from the
// offset loc mandates for the same wall-clock.
func NeedsDSTCorrection(t time.Time, loc *time.Location) bool {
	_, have := t.Zone()
	_, want := ReinterpretInZone(t, loc).Zone()
	return have != want
}

func parseOffsetZone(tzid string) *time.Location {
	s := strings.ToUpper(tzid)
	s = strings.TrimPrefix(s, "UTC")
	s = strings.TrimPrefix(s, "GMT")
	if s == "" || s == tzid {
		if s != "" {
			return nil
		}
		return time.UTC
	}
	sign := 1
	switch s[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return nil
	}
	s = strings.ReplaceAll(s[1:], ":", "")
	var hours, minutes int
	switch len(s) {
	case 1, 2:
		if _, err := fmt.Sscanf(s, "%d", &hours); err != nil {
			return nil
		}
	case 4:
		if _, err := fmt.Sscanf(s, "%02d%02d", &hours, &minutes); err != nil {
			return nil
		}
	default:
		return nil
	}
	if hours > 14 || minutes > 59 {
		return nil
	}
	offset := sign * (hours*3600 + minutes*60)
	return time.FixedZone(tzid, offset)
}
