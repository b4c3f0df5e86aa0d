package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/voicecal/internal/cache"
	"github.com/sonroyaalmerol/voicecal/internal/health"
	"github.com/sonroyaalmerol/voicecal/internal/window"
	"github.com/sonroyaalmerol/voicecal/pkg/ical"
)

// 9 AM Pacific on Monday 2025-11-10.
var testNow = time.Date(2025, 11, 10, 17, 0, 0, 0, time.UTC)

func event(id, subject string, startOff, dur time.Duration) ical.Event {
	start := testNow.Add(startOff)
	return ical.Event{
		ID:      id,
		UID:     id,
		Subject: subject,
		Start:   ical.NewEventTime(start, "UTC"),
		End:     ical.NewEventTime(start.Add(dur), "UTC"),
		Status:  ical.StatusBusy,
	}
}

func newTestService(t *testing.T, events []ical.Event) *Service {
	t.Helper()
	tz, err := ical.NewTimezoneResolver("America/Los_Angeles")
	require.NoError(t, err)

	pub := window.NewPublisher()
	if events != nil {
		_, ok := pub.Publish(events, window.CycleReport{SourcesTotal: 1}, testNow)
		require.True(t, ok)
	}

	clk := clockwork.NewFakeClockAt(testNow)
	responses, err := cache.NewResponses(16)
	require.NoError(t, err)
	return NewService(pub, window.NewPrioritizer("Focus time", "Focus:"), tz, clk,
		health.NewTracker(clk, time.Minute), responses, zerolog.Nop())
}

func intentByName(t *testing.T, name string) Intent {
	t.Helper()
	for _, it := range Intents() {
		if it.Name == name {
			return it
		}
	}
	t.Fatalf("unknown intent %q", name)
	return Intent{}
}

func get(t *testing.T, h http.HandlerFunc, target string) (int, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestNextMeetingComputed(t *testing.T) {
	s := newTestService(t, []ical.Event{
		event("standup", "Standup", 20*time.Minute, 15*time.Minute),
		event("review", "Design review", 3*time.Hour, time.Hour),
	})
	h := s.Handler(intentByName(t, "next-meeting"), true)

	code, resp := get(t, h, "/api/alexa/next-meeting")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Your next meeting is Standup at 9:20 AM, in 20 minutes.", resp["speech_text"])
	assert.EqualValues(t, 1200, resp["seconds_until_start"])
	assert.Equal(t, "20 minutes", resp["duration_spoken"])
	meeting := resp["meeting"].(map[string]any)
	assert.Equal(t, "Standup", meeting["subject"])
	// 20 minutes out: soon, so markup carries prosody.
	assert.Contains(t, resp["ssml"], "<speak>")
}

func TestNextMeetingEmptyCalendar(t *testing.T) {
	s := newTestService(t, []ical.Event{})
	h := s.Handler(intentByName(t, "next-meeting"), true)

	code, resp := get(t, h, "/api/alexa/next-meeting")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "You have no upcoming meetings on your calendar.", resp["speech_text"])
	assert.Nil(t, resp["meeting"])
}

func TestNextMeetingUnavailableBeforeFirstRefresh(t *testing.T) {
	s := newTestService(t, nil)
	h := s.Handler(intentByName(t, "next-meeting"), true)

	code, resp := get(t, h, "/api/alexa/next-meeting")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.NotEmpty(t, resp["speech_text"])
}

func TestNextMeetingRejectsBadTimezone(t *testing.T) {
	s := newTestService(t, []ical.Event{event("a", "A", time.Hour, time.Hour)})
	h := s.Handler(intentByName(t, "next-meeting"), true)

	code, resp := get(t, h, "/api/alexa/next-meeting?tz=Mars/Olympus_Mons")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp["error"], "tz")
}

func TestNextMeetingActive(t *testing.T) {
	s := newTestService(t, []ical.Event{
		event("running", "Sprint planning", -10*time.Minute, time.Hour),
	})
	h := s.Handler(intentByName(t, "next-meeting"), true)

	code, resp := get(t, h, "/api/alexa/next-meeting")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Sprint planning is happening right now.", resp["speech_text"])
	assert.Equal(t, true, resp["active"])
	assert.Less(t, resp["seconds_until_start"].(float64), 0.0)
}

func TestTimeUntilNext(t *testing.T) {
	s := newTestService(t, []ical.Event{
		event("standup", "Standup", 95*time.Minute, 15*time.Minute),
	})
	h := s.Handler(intentByName(t, "time-until-next"), true)

	code, resp := get(t, h, "/api/alexa/time-until-next")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Your next meeting starts in 1 hour and 35 minutes.", resp["speech_text"])
	assert.EqualValues(t, 95*60, resp["seconds_until_start"])
	assert.Equal(t, "Standup", resp["meeting_subject"])
}

func TestDoneForDay(t *testing.T) {
	s := newTestService(t, []ical.Event{
		event("a", "Standup", 30*time.Minute, 15*time.Minute),
		event("b", "Retro", 6*time.Hour, time.Hour), // ends 4 PM Pacific
		event("c", "Tomorrow sync", 26*time.Hour, time.Hour),
	})
	h := s.Handler(intentByName(t, "done-for-day"), true)

	code, resp := get(t, h, "/api/alexa/done-for-day")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Your last meeting today ends at 4 PM.", resp["speech_text"])
	assert.EqualValues(t, 2, resp["remaining_meetings"])
	assert.Equal(t, testNow.Add(7*time.Hour).In(mustLoc(t, "America/Los_Angeles")).Format(time.RFC3339), resp["done_at"])
}

func TestDoneForDayNothingLeft(t *testing.T) {
	s := newTestService(t, []ical.Event{
		event("past", "Earlier sync", -3*time.Hour, time.Hour),
	})
	h := s.Handler(intentByName(t, "done-for-day"), true)

	code, resp := get(t, h, "/api/alexa/done-for-day")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "You're done with meetings for today.", resp["speech_text"])
	assert.EqualValues(t, 0, resp["remaining_meetings"])
	assert.Nil(t, resp["done_at"])
}

func TestLaunchSummary(t *testing.T) {
	s := newTestService(t, []ical.Event{
		event("a", "Standup", 30*time.Minute, 15*time.Minute),
		event("b", "Retro", 6*time.Hour, time.Hour),
	})
	h := s.Handler(intentByName(t, "launch"), true)

	code, resp := get(t, h, "/api/alexa/launch")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t,
		"Good morning. You have 2 meetings left today. The next one is Standup in 30 minutes.",
		resp["speech_text"])
	assert.EqualValues(t, 2, resp["remaining_today"])
	assert.Equal(t, "Standup", resp["next_subject"])
}

func TestPrecomputedFastPath(t *testing.T) {
	s := newTestService(t, []ical.Event{
		event("standup", "Standup", 20*time.Minute, 15*time.Minute),
	})
	snap := s.pub.Read()
	snap.AttachPrecomputed(s.BuildPrecomputed(context.Background(), snap))

	h := s.Handler(intentByName(t, "next-meeting"), true)

	// Default zone spelled explicitly still hits the precomputed answer.
	started := time.Now()
	code, resp := get(t, h, "/api/alexa/next-meeting?tz=America/Los_Angeles")
	elapsed := time.Since(started)

	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, resp["speech_text"])
	assert.NotNil(t, resp["meeting"])
	assert.Less(t, elapsed, 10*time.Millisecond)

	// A non-default zone must bypass precompute and still answer.
	code, resp2 := get(t, h, "/api/alexa/next-meeting?tz=America/New_York")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, resp2["speech_text"], "12:20 PM")
}

func TestCacheCoherence(t *testing.T) {
	s := newTestService(t, []ical.Event{
		event("standup", "Standup", 20*time.Minute, 15*time.Minute),
	})
	h := s.Handler(intentByName(t, "next-meeting"), true)

	read := func() string {
		req := httptest.NewRequest(http.MethodGet, "/api/alexa/next-meeting?tz=UTC", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		return rec.Body.String()
	}

	// No publish in between: byte-identical responses.
	first := read()
	assert.Equal(t, first, read())
	assert.Positive(t, s.cache.Len())

	// A publish moves the version, so the old entry is unreachable.
	_, ok := s.pub.Publish([]ical.Event{
		event("new", "Replanned sync", 40*time.Minute, 30*time.Minute),
	}, window.CycleReport{SourcesTotal: 1}, testNow)
	require.True(t, ok)
	s.InvalidateCache()

	assert.Contains(t, read(), "Replanned sync")
}

func TestOpenVariantCarriesNoSSML(t *testing.T) {
	s := newTestService(t, []ical.Event{
		event("standup", "Standup", 20*time.Minute, 15*time.Minute),
	})
	h := s.Handler(intentByName(t, "next-meeting"), false)

	code, resp := get(t, h, "/api/next")
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, resp["speech_text"])
	_, hasSSML := resp["ssml"]
	assert.False(t, hasSSML)
}

func TestBuildPrecomputedCoversAllNames(t *testing.T) {
	s := newTestService(t, []ical.Event{
		event("standup", "Standup", 20*time.Minute, 15*time.Minute),
	})
	snap := s.pub.Read()
	pre := s.BuildPrecomputed(context.Background(), snap)

	require.NotNil(t, pre)
	assert.Equal(t, snap.Version, pre.Version)
	for _, name := range []string{"next-meeting", "time-until-next", "done-for-day", "launch"} {
		_, ok := pre.ByName[name]
		assert.True(t, ok, "missing %s", name)
	}
	// Morning summary is keyed to the next local day.
	tomorrow := MorningSummaryName(time.Date(2025, 11, 11, 0, 0, 0, 0, mustLoc(t, "America/Los_Angeles")))
	_, ok := pre.ByName[tomorrow]
	assert.True(t, ok, "missing %s", tomorrow)

	for name, r := range pre.ByName {
		var resp Response
		require.NoError(t, json.Unmarshal(r.Body, &resp), name)
		assert.NotEmpty(t, resp["speech_text"], name)
	}
}

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func BenchmarkNextMeetingPrecomputed(b *testing.B) {
	tz, _ := ical.NewTimezoneResolver("America/Los_Angeles")
	pub := window.NewPublisher()
	events := make([]ical.Event, 0, 50)
	for i := 0; i < 50; i++ {
		events = append(events, event(fmt.Sprintf("e%d", i), fmt.Sprintf("Meeting %d", i),
			time.Duration(i+1)*30*time.Minute, 25*time.Minute))
	}
	pub.Publish(events, window.CycleReport{SourcesTotal: 1}, testNow)
	clk := clockwork.NewFakeClockAt(testNow)
	s := NewService(pub, window.NewPrioritizer(), tz, clk, health.NewTracker(clk, time.Minute), nil, zerolog.Nop())
	snap := pub.Read()
	snap.AttachPrecomputed(s.BuildPrecomputed(context.Background(), snap))
	var next Intent
	for _, it := range Intents() {
		if it.Name == "next-meeting" {
			next = it
		}
	}
	h := s.Handler(next, true)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/alexa/next-meeting", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
	}
}
