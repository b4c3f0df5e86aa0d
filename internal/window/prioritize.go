package window

import (
	"sort"
	"strings"
	"time"

	"github.com/sonroyaalmerol/voicecal/pkg/ical"
)

// startGroupSpan is how far past the nearest upcoming start two events
// still count as "starting together" for lunch demotion.
const startGroupSpan = 30 * time.Minute

// Prioritizer picks the single event voice answers talk about. Focus
// blocks, all-day events and free-status events never win; a lunch
// loses to a real meeting starting around the same time.
type Prioritizer struct {
	focus []string
}

// NewPrioritizer takes the subject prefixes that mark focus time.
// Matching is case-insensitive.
func NewPrioritizer(focusPrefixes ...string) *Prioritizer {
	p := &Prioritizer{}
	for _, f := range focusPrefixes {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			p.focus = append(p.focus, f)
		}
	}
	return p
}

// Pick is a prioritized event with timing relative to the query
// instant. SecondsUntil is negative when the event already started, in
// which case Active is set.
type Pick struct {
	Event        ical.Event
	SecondsUntil int64
	Active       bool
}

// Next picks the event to announce at instant now, or nil when nothing
// qualifies. The nearest upcoming start wins; events starting within 30
// minutes of it compete as a group with lunches demoted. When nothing
// upcoming exists, the most recently started in-progress event is
// returned as active.
func (p *Prioritizer) Next(events []ical.Event, now time.Time) *Pick {
	var future []ical.Event
	var current *ical.Event
	for i := range events {
		ev := &events[i]
		if !p.announceable(ev, now) {
			continue
		}
		if !ev.Start.UTC().Before(now) {
			future = append(future, *ev)
			continue
		}
		if current == nil || ev.Start.UTC().After(current.Start.UTC()) {
			current = ev
		}
	}

	if len(future) == 0 {
		if current == nil {
			return nil
		}
		return &Pick{
			Event:        *current,
			SecondsUntil: int64(current.Start.UTC().Sub(now) / time.Second),
			Active:       true,
		}
	}

	sort.Slice(future, func(i, j int) bool {
		si, sj := future[i].Start.UTC(), future[j].Start.UTC()
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		return future[i].Subject < future[j].Subject
	})

	t := future[0].Start.UTC()
	end := 1
	for end < len(future) && future[end].Start.UTC().Sub(t) <= startGroupSpan {
		end++
	}
	group := future[:end]
	// Stable partition keeps (start, subject) order within each class.
	sort.SliceStable(group, func(i, j int) bool {
		return !isLunch(&group[i]) && isLunch(&group[j])
	})

	chosen := group[0]
	return &Pick{
		Event:        chosen,
		SecondsUntil: int64(chosen.Start.UTC().Sub(now) / time.Second),
	}
}

// Upcoming returns the announceable events that have not ended at now,
// in start order. Listings and summaries build on this.
func (p *Prioritizer) Upcoming(events []ical.Event, now time.Time) []ical.Event {
	var out []ical.Event
	for i := range events {
		ev := &events[i]
		if p.announceable(ev, now) {
			out = append(out, *ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i].Start.UTC(), out[j].Start.UTC()
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		return out[i].Subject < out[j].Subject
	})
	return out
}

func (p *Prioritizer) announceable(ev *ical.Event, now time.Time) bool {
	if !ev.EndsAfter(now) || ev.IsCancelled || ev.IsAllDay || ev.ExpansionFailed {
		return false
	}
	if ev.Status == ical.StatusFree {
		return false
	}
	return !p.isFocus(ev.Subject)
}

func (p *Prioritizer) isFocus(subject string) bool {
	s := strings.ToLower(strings.TrimSpace(subject))
	for _, f := range p.focus {
		if strings.HasPrefix(s, f) {
			return true
		}
	}
	return false
}

func isLunch(ev *ical.Event) bool {
	return strings.Contains(strings.ToLower(ev.Subject), "lunch")
}
