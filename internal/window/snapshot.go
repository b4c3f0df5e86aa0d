// Package window owns the shared in-memory event window. The refresher
// replaces it wholesale; voice handlers read it lock-free.
package window

import (
	"sync/atomic"
	"time"

	"github.com/sonroyaalmerol/voicecal/pkg/ical"
)

// PrecomputedResponse is one canned voice answer attached to a
// snapshot: the marshaled response document plus the markup that went
// into it.
type PrecomputedResponse struct {
	Body []byte
	SSML string
}

// Precomputed is the set of canned answers built after a publish, keyed
// by handler name.
type Precomputed struct {
	Version uint64
	BuiltAt time.Time
	ByName  map[string]PrecomputedResponse
}

// Snapshot is one published window. Events is start-ordered and must
// not be mutated by readers; a new publish produces a new Snapshot.
type Snapshot struct {
	Events  []ical.Event
	Version uint64
	BuiltAt time.Time

	pre atomic.Pointer[Precomputed]
}

// Precomputed returns the canned answer for name, if one is attached.
func (s *Snapshot) Precomputed(name string) (PrecomputedResponse, bool) {
	p := s.pre.Load()
	if p == nil {
		return PrecomputedResponse{}, false
	}
	r, ok := p.ByName[name]
	return r, ok
}

// AttachPrecomputed hangs canned answers on the snapshot. The refresher
// calls it once after a successful publish; readers that raced the
// attach simply compute their answer instead.
func (s *Snapshot) AttachPrecomputed(p *Precomputed) {
	s.pre.Store(p)
}

// CycleReport summarizes the fetch round feeding a publish attempt.
type CycleReport struct {
	SourcesTotal  int
	SourcesFailed int
}

// Publisher owns the current snapshot and its monotonic version.
// Publish runs only on the refresher goroutine; Read is safe from any
// goroutine and never blocks.
type Publisher struct {
	cur     atomic.Pointer[Snapshot]
	version atomic.Uint64
}

func NewPublisher() *Publisher {
	p := &Publisher{}
	p.cur.Store(&Snapshot{})
	return p
}

// Read returns the current snapshot. Version 0 means nothing has been
// published yet.
func (p *Publisher) Read() *Snapshot {
	return p.cur.Load()
}

// Publish installs a new window unless the fallback heuristic decides
// the cycle looks like a wholesale outage, in which case the previous
// window stays authoritative. The bool reports whether the window was
// replaced.
func (p *Publisher) Publish(events []ical.Event, report CycleReport, now time.Time) (*Snapshot, bool) {
	prev := p.cur.Load()
	if shouldFallback(prev, events, report) {
		return prev, false
	}
	snap := &Snapshot{
		Events:  events,
		Version: p.version.Add(1),
		BuiltAt: now,
	}
	p.cur.Store(snap)
	return snap, true
}

// shouldFallback treats an empty result as suspect when every source
// failed, or when a previously non-empty window would be wiped by a
// cycle that had failures. A clean empty calendar still publishes.
func shouldFallback(prev *Snapshot, events []ical.Event, report CycleReport) bool {
	if len(events) > 0 {
		return false
	}
	if report.SourcesTotal > 0 && report.SourcesFailed == report.SourcesTotal {
		return true
	}
	return len(prev.Events) > 0 && report.SourcesFailed > 0
}
