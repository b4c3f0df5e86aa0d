package ical

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Merger combines the parser's original events with expanded instances,
// applies RECURRENCE-ID overrides and deduplicates. The tolerance mirrors
// the expander's EXDATE tolerance so both sides agree on what "the same
// occurrence" means.
type Merger struct {
	tolerance time.Duration
}

func NewMerger(tolerance time.Duration) *Merger {
	if tolerance <= 0 {
		tolerance = time.Minute
	}
	return &Merger{tolerance: tolerance}
}

// OverrideInstants collects the original instants replaced by
// RECURRENCE-ID events, keyed by master UID. The expander receives these
// so it never emits the unmodified occurrence next to its override.
func OverrideInstants(events []Event) map[string][]time.Time {
	var out map[string][]time.Time
	for i := range events {
		if events[i].RecurrenceID == nil {
			continue
		}
		if out == nil {
			out = make(map[string][]time.Time)
		}
		out[events[i].UID] = append(out[events[i].UID], *events[i].RecurrenceID)
	}
	return out
}

// Combine drops expanded instances shadowed by an override and
// concatenates the rest with every original. Originals ride along even
// when recurring expansion failed; the pipeline flags those masters and
// listings skip them. Duplicates survive; a Dedupe pass follows.
func (m *Merger) Combine(originals, expanded []Event) []Event {
	overrides := OverrideInstants(originals)

	merged := make([]Event, 0, len(originals)+len(expanded))
	for i := range expanded {
		if m.overridden(&expanded[i], overrides) {
			continue
		}
		merged = append(merged, expanded[i])
	}
	return append(merged, originals...)
}

// Merge is Combine followed by Dedupe.
func (m *Merger) Merge(originals, expanded []Event) []Event {
	return Dedupe(m.Combine(originals, expanded))
}

func (m *Merger) overridden(inst *Event, overrides map[string][]time.Time) bool {
	if !inst.IsExpandedInstance {
		return false
	}
	for _, t := range overrides[inst.RRuleMasterUID] {
		if sameInstant(inst.Start.UTC(), t, m.tolerance) {
			return true
		}
	}
	return false
}

// Dedupe removes events sharing the compound identity key; the first
// occurrence wins. Running it over its own output is a no-op.
func Dedupe(events []Event) []Event {
	seen := make(map[string]struct{}, len(events))
	out := make([]Event, 0, len(events))
	for i := range events {
		k := dedupeKey(&events[i])
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, events[i])
	}
	return out
}

func dedupeKey(e *Event) string {
	rid := ""
	if e.RecurrenceID != nil {
		rid = e.RecurrenceID.UTC().Format(time.RFC3339)
	}
	return strings.Join([]string{
		e.UID,
		e.Subject,
		e.Start.UTC().Format(time.RFC3339),
		e.End.UTC().Format(time.RFC3339),
		strconv.FormatBool(e.IsAllDay),
		rid,
	}, "\x00")
}

// SortByStart orders events by start instant with subject then id as
// tie-breaks so pipeline output is deterministic run to run.
func SortByStart(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		si, sj := events[i].Start.UTC(), events[j].Start.UTC()
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		if events[i].Subject != events[j].Subject {
			return events[i].Subject < events[j].Subject
		}
		return events[i].ID < events[j].ID
	})
}
