package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/voicecal/pkg/ical"
)

var queryAt = time.Date(2025, 11, 10, 17, 0, 0, 0, time.UTC)

func meeting(id, subject string, startOff, dur time.Duration) ical.Event {
	start := queryAt.Add(startOff)
	return ical.Event{
		ID:      id,
		UID:     id,
		Subject: subject,
		Start:   ical.NewEventTime(start, "UTC"),
		End:     ical.NewEventTime(start.Add(dur), "UTC"),
		Status:  ical.StatusBusy,
	}
}

func TestNextPicksNearestStart(t *testing.T) {
	p := NewPrioritizer()
	pick := p.Next([]ical.Event{
		meeting("b", "Design review", 2*time.Hour, time.Hour),
		meeting("a", "Standup", 5*time.Minute, 15*time.Minute),
	}, queryAt)
	require.NotNil(t, pick)
	assert.Equal(t, "Standup", pick.Event.Subject)
	assert.EqualValues(t, 300, pick.SecondsUntil)
	assert.False(t, pick.Active)
}

func TestNextIgnoresFocusTime(t *testing.T) {
	p := NewPrioritizer("Focus time", "Focus:")
	pick := p.Next([]ical.Event{
		meeting("f", "Focus time: deep work", 5*time.Minute, 2*time.Hour),
		meeting("m", "1:1 with Sam", time.Hour, 30*time.Minute),
	}, queryAt)
	require.NotNil(t, pick)
	assert.Equal(t, "1:1 with Sam", pick.Event.Subject)
}

func TestNextDemotesLunchInsideGroup(t *testing.T) {
	p := NewPrioritizer()
	pick := p.Next([]ical.Event{
		meeting("l", "Lunch with Alex", 5*time.Minute, time.Hour),
		meeting("m", "Budget review", 25*time.Minute, 30*time.Minute),
	}, queryAt)
	require.NotNil(t, pick)
	assert.Equal(t, "Budget review", pick.Event.Subject)
	assert.EqualValues(t, 25*60, pick.SecondsUntil)
}

func TestNextKeepsLunchOutsideGroup(t *testing.T) {
	p := NewPrioritizer()
	pick := p.Next([]ical.Event{
		meeting("l", "Lunch with Alex", 5*time.Minute, time.Hour),
		meeting("m", "Budget review", 40*time.Minute, 30*time.Minute),
	}, queryAt)
	require.NotNil(t, pick)
	assert.Equal(t, "Lunch with Alex", pick.Event.Subject)
}

func TestNextTieBreaksBySubject(t *testing.T) {
	p := NewPrioritizer()
	pick := p.Next([]ical.Event{
		meeting("b", "Zebra sync", 10*time.Minute, 30*time.Minute),
		meeting("a", "Architecture sync", 10*time.Minute, 30*time.Minute),
	}, queryAt)
	require.NotNil(t, pick)
	assert.Equal(t, "Architecture sync", pick.Event.Subject)
}

func TestNextReportsInProgressWhenNothingUpcoming(t *testing.T) {
	p := NewPrioritizer()
	pick := p.Next([]ical.Event{
		meeting("old", "Morning sync", -2*time.Hour, 30*time.Minute),
		meeting("cur", "Workshop", -20*time.Minute, 2*time.Hour),
	}, queryAt)
	require.NotNil(t, pick)
	assert.Equal(t, "Workshop", pick.Event.Subject)
	assert.True(t, pick.Active)
	assert.EqualValues(t, -20*60, pick.SecondsUntil)
}

func TestNextPrefersUpcomingOverInProgress(t *testing.T) {
	p := NewPrioritizer()
	pick := p.Next([]ical.Event{
		meeting("cur", "Workshop", -20*time.Minute, 2*time.Hour),
		meeting("next", "Standup", time.Hour, 15*time.Minute),
	}, queryAt)
	require.NotNil(t, pick)
	assert.Equal(t, "Standup", pick.Event.Subject)
	assert.False(t, pick.Active)
}

func TestNextExcludesNonAnnounceables(t *testing.T) {
	p := NewPrioritizer("Focus time")

	cancelled := meeting("c", "Ghost meeting", time.Hour, time.Hour)
	cancelled.IsCancelled = true

	free := meeting("fr", "OOO block", time.Hour, time.Hour)
	free.Status = ical.StatusFree

	allDay := meeting("ad", "Conference", time.Hour, 24*time.Hour)
	allDay.IsAllDay = true

	failed := meeting("fm", "Broken series", time.Hour, time.Hour)
	failed.IsRecurring = true
	failed.ExpansionFailed = true

	ended := meeting("e", "Yesterday", -3*time.Hour, time.Hour)

	pick := p.Next([]ical.Event{cancelled, free, allDay, failed, ended}, queryAt)
	assert.Nil(t, pick)
}

func TestUpcomingOrdersByStart(t *testing.T) {
	p := NewPrioritizer("Focus time")
	events := []ical.Event{
		meeting("b", "Design review", 2*time.Hour, time.Hour),
		meeting("f", "Focus time", 30*time.Minute, time.Hour),
		meeting("a", "Standup", 5*time.Minute, 15*time.Minute),
	}
	up := p.Upcoming(events, queryAt)
	require.Len(t, up, 2)
	assert.Equal(t, "Standup", up[0].Subject)
	assert.Equal(t, "Design review", up[1].Subject)
}
