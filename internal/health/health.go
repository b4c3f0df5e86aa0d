// Package health tracks the refresh loop's vital signs and mirrors them
// into Prometheus. The tracker is the single place that decides whether
// the assistant is ok, degraded or critical.
package health

import (
	"sync"
	"time"

	"github.com/sonroyaalmerol/voicecal/internal/clock"
)

type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// Snapshot is the JSON shape served by the health endpoint.
type Snapshot struct {
	Status              Status    `json:"status"`
	StartedAt           time.Time `json:"started_at"`
	LastAttempt         time.Time `json:"last_attempt,omitzero"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	LastHeartbeat       time.Time `json:"last_heartbeat,omitzero"`
	EventCount          int       `json:"event_count"`
	WindowVersion       uint64    `json:"window_version"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Notes               string    `json:"notes,omitempty"`
}

type Tracker struct {
	clk      clock.Clock
	interval time.Duration

	mu                  sync.Mutex
	startedAt           time.Time
	lastAttempt         time.Time
	lastSuccess         time.Time
	lastHeartbeat       time.Time
	eventCount          int
	windowVersion       uint64
	consecutiveFailures int
	notes               string
}

func NewTracker(clk clock.Clock, refreshInterval time.Duration) *Tracker {
	if refreshInterval <= 0 {
		refreshInterval = 300 * time.Second
	}
	return &Tracker{
		clk:       clk,
		interval:  refreshInterval,
		startedAt: clk.Now(),
	}
}

func (t *Tracker) RecordAttempt() {
	refreshCycles.Inc()
	t.mu.Lock()
	t.lastAttempt = t.clk.Now()
	t.mu.Unlock()
}

// RecordFetch counts one fetch attempt for a source. Outcomes: success,
// not_modified, timeout, auth, network, http.
func (t *Tracker) RecordFetch(source, outcome string) {
	fetchRequests.WithLabelValues(source, outcome).Inc()
}

func (t *Tracker) RecordParseWarnings(n int) {
	if n > 0 {
		parseWarnings.Add(float64(n))
	}
}

func (t *Tracker) RecordSuccess(eventCount int, version uint64) {
	windowEvents.Set(float64(eventCount))
	windowVersion.Set(float64(version))
	t.mu.Lock()
	t.lastSuccess = t.clk.Now()
	t.eventCount = eventCount
	t.windowVersion = version
	t.consecutiveFailures = 0
	t.notes = ""
	t.mu.Unlock()
}

// RecordPartial records a cycle that published a fresh window while
// some sources failed. The window bookkeeping advances exactly as on a
// clean success; only the note keeps the status at degraded. The
// failure streak is reserved for cycles that publish nothing, so one
// permanently dead source of many can never escalate to critical.
func (t *Tracker) RecordPartial(eventCount int, version uint64, notes string) {
	refreshDegraded.Inc()
	windowEvents.Set(float64(eventCount))
	windowVersion.Set(float64(version))
	t.mu.Lock()
	t.lastSuccess = t.clk.Now()
	t.eventCount = eventCount
	t.windowVersion = version
	t.consecutiveFailures = 0
	t.notes = notes
	t.mu.Unlock()
}

func (t *Tracker) RecordDegraded(notes string) {
	refreshDegraded.Inc()
	t.mu.Lock()
	t.consecutiveFailures++
	t.notes = notes
	t.mu.Unlock()
}

func (t *Tracker) RecordHeartbeat() {
	now := t.clk.Now()
	heartbeatTimestamp.Set(float64(now.Unix()))
	t.mu.Lock()
	t.lastHeartbeat = now
	t.mu.Unlock()
}

// ObserveVoice records one voice request. tier is the serving path
// (precomputed, cache, computed); outcome is ok or an error class.
func (t *Tracker) ObserveVoice(intent, tier, outcome string, d time.Duration) {
	voiceRequests.WithLabelValues(intent, outcome).Inc()
	voiceLatency.WithLabelValues(intent, tier).Observe(d.Seconds())
}

// Snapshot derives the overall status. Degraded means the last cycle
// failed or success is overdue; critical means there has never been a
// success long after startup, or success is several intervals stale.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()
	s := Snapshot{
		Status:              StatusOK,
		StartedAt:           t.startedAt,
		LastAttempt:         t.lastAttempt,
		LastSuccess:         t.lastSuccess,
		LastHeartbeat:       t.lastHeartbeat,
		EventCount:          t.eventCount,
		WindowVersion:       t.windowVersion,
		ConsecutiveFailures: t.consecutiveFailures,
		Notes:               t.notes,
	}

	switch {
	case t.lastSuccess.IsZero():
		if now.Sub(t.startedAt) > 3*t.interval {
			s.Status = StatusCritical
		} else {
			s.Status = StatusDegraded
		}
	case now.Sub(t.lastSuccess) > 5*t.interval || t.consecutiveFailures >= 5:
		s.Status = StatusCritical
	case now.Sub(t.lastSuccess) > 2*t.interval || t.consecutiveFailures > 0 || t.notes != "":
		s.Status = StatusDegraded
	}
	return s
}
