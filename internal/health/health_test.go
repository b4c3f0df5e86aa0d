package health

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2025, 11, 5, 8, 0, 0, 0, time.UTC))
	tr := NewTracker(clk, 300*time.Second)

	// Fresh start: no success yet, inside the grace window.
	assert.Equal(t, StatusDegraded, tr.Snapshot().Status)

	tr.RecordAttempt()
	tr.RecordSuccess(8, 1)
	tr.RecordHeartbeat()
	snap := tr.Snapshot()
	assert.Equal(t, StatusOK, snap.Status)
	assert.Equal(t, 8, snap.EventCount)
	assert.Equal(t, uint64(1), snap.WindowVersion)

	// One degraded cycle flips the status immediately.
	tr.RecordDegraded("2/2 sources failed")
	snap = tr.Snapshot()
	assert.Equal(t, StatusDegraded, snap.Status)
	assert.Equal(t, 1, snap.ConsecutiveFailures)
	assert.Equal(t, "2/2 sources failed", snap.Notes)

	// Success clears the failure streak.
	tr.RecordSuccess(8, 2)
	assert.Equal(t, StatusOK, tr.Snapshot().Status)

	// Stale success degrades, then goes critical.
	clk.Advance(11 * time.Minute)
	assert.Equal(t, StatusDegraded, tr.Snapshot().Status)
	clk.Advance(20 * time.Minute)
	assert.Equal(t, StatusCritical, tr.Snapshot().Status)
}

func TestStatusCriticalWithoutFirstSuccess(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2025, 11, 5, 8, 0, 0, 0, time.UTC))
	tr := NewTracker(clk, 300*time.Second)

	clk.Advance(16 * time.Minute)
	assert.Equal(t, StatusCritical, tr.Snapshot().Status)
}

func TestStatusRepeatedFailuresGoCritical(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2025, 11, 5, 8, 0, 0, 0, time.UTC))
	tr := NewTracker(clk, 300*time.Second)

	tr.RecordSuccess(3, 1)
	for i := 0; i < 5; i++ {
		tr.RecordDegraded("all sources failed")
	}
	assert.Equal(t, StatusCritical, tr.Snapshot().Status)
}

func TestPartialCycleStaysDegradedNotCritical(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2025, 11, 5, 8, 0, 0, 0, time.UTC))
	tr := NewTracker(clk, 300*time.Second)

	tr.RecordSuccess(3, 1)
	for i := 0; i < 10; i++ {
		clk.Advance(5 * time.Minute)
		tr.RecordPartial(4, uint64(i+2), "1/2 sources failed")
	}

	// Every cycle published a fresh window, so the bookkeeping tracks it
	// and the dead source can only ever pin the status at degraded.
	snap := tr.Snapshot()
	assert.Equal(t, StatusDegraded, snap.Status)
	assert.Equal(t, 4, snap.EventCount)
	assert.Equal(t, uint64(11), snap.WindowVersion)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.Equal(t, "1/2 sources failed", snap.Notes)
	assert.Equal(t, clk.Now(), snap.LastSuccess)

	// The next clean cycle clears the note.
	tr.RecordSuccess(4, 12)
	assert.Equal(t, StatusOK, tr.Snapshot().Status)
}
