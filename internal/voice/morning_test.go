package voice

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/voicecal/pkg/ical"
)

// Tomorrow, Pacific: 9:00-9:15, 9:15-10:45 (back to back, long),
// 12:15-12:45, 15:15-16:15. Offsets are relative to testNow (9 AM
// Pacific today).
func tomorrowSchedule() []ical.Event {
	return []ical.Event{
		event("t1", "Standup", 24*time.Hour, 15*time.Minute),
		event("t2", "Roadmap review", 24*time.Hour+15*time.Minute, 90*time.Minute),
		event("t3", "1:1 with Sam", 27*time.Hour+15*time.Minute, 30*time.Minute),
		event("t4", "Vendor call", 30*time.Hour+15*time.Minute, time.Hour),
	}
}

func TestMorningSummaryTomorrow(t *testing.T) {
	s := newTestService(t, tomorrowSchedule())
	h := s.Handler(intentByName(t, "morning-summary"), true)

	code, resp := get(t, h, "/api/alexa/morning-summary?date=tomorrow")
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, "2025-11-11", resp["date"])
	assert.EqualValues(t, 4, resp["meeting_count"])
	assert.Equal(t, "moderate", resp["density"])
	assert.EqualValues(t, 1, resp["back_to_back_count"])
	assert.EqualValues(t, 15+90+30+60, resp["total_meeting_minutes"])

	meetings := resp["meetings"].([]any)
	require.Len(t, meetings, 4)
	first := meetings[0].(map[string]any)
	assert.Equal(t, "Standup", first["subject"])

	// Gaps: 12:15-10:45 = 90 min and 15:15-12:45 = 150 min free.
	free := resp["free_blocks"].([]any)
	require.Len(t, free, 2)
	assert.EqualValues(t, 90, free[0].(map[string]any)["minutes"])
	assert.EqualValues(t, 150, free[1].(map[string]any)["minutes"])

	// First meeting 9 AM, lead 90 min, floor 6 AM: wake at 7:30.
	assert.Contains(t, resp["suggested_wake_up"], "07:30")

	assert.Contains(t, resp["speech_text"], "4 meetings tomorrow")
	assert.Contains(t, resp["speech_text"], "Standup at 9 AM")
}

func TestMorningSummaryDetailLevels(t *testing.T) {
	s := newTestService(t, tomorrowSchedule())
	h := s.Handler(intentByName(t, "morning-summary"), true)

	_, brief := get(t, h, "/api/alexa/morning-summary?date=tomorrow&detail_level=brief")
	assert.NotContains(t, brief["speech_text"], "back to back")

	_, detailed := get(t, h, "/api/alexa/morning-summary?date=tomorrow&detail_level=detailed")
	assert.Contains(t, detailed["speech_text"], "Then Roadmap review")
	assert.Contains(t, detailed["speech_text"], "wraps up at 4:15 PM")

	meetings := detailed["meetings"].([]any)
	second := meetings[1].(map[string]any)
	insights := second["insights"].([]any)
	assert.Contains(t, insights, "long meeting")
	assert.Contains(t, insights, "back to back")
}

func TestMorningSummaryEmptyDay(t *testing.T) {
	s := newTestService(t, []ical.Event{})
	h := s.Handler(intentByName(t, "morning-summary"), true)

	code, resp := get(t, h, "/api/alexa/morning-summary?date=tomorrow")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Your calendar is clear tomorrow.", resp["speech_text"])
	assert.Equal(t, "free", resp["density"])
	assert.Nil(t, resp["suggested_wake_up"])
}

func TestMorningSummaryMaxEvents(t *testing.T) {
	s := newTestService(t, tomorrowSchedule())
	h := s.Handler(intentByName(t, "morning-summary"), true)

	_, resp := get(t, h, "/api/alexa/morning-summary?date=tomorrow&max_events=2")
	meetings := resp["meetings"].([]any)
	assert.Len(t, meetings, 2)
	// The cap trims the listing, not the counts.
	assert.EqualValues(t, 4, resp["meeting_count"])
}

func TestMorningSummaryRejectsBadParams(t *testing.T) {
	s := newTestService(t, tomorrowSchedule())
	h := s.Handler(intentByName(t, "morning-summary"), true)

	code, _ := get(t, h, "/api/alexa/morning-summary?date=someday")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = get(t, h, "/api/alexa/morning-summary?max_events=50")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = get(t, h, "/api/alexa/morning-summary?detail_level=chatty")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestResolveSummaryDateAuto(t *testing.T) {
	la := mustLoc(t, "America/Los_Angeles")
	morning := time.Date(2025, 11, 10, 9, 0, 0, 0, la)
	evening := time.Date(2025, 11, 10, 15, 0, 0, 0, la)

	assert.Equal(t, 10, resolveSummaryDate("auto", morning).Day())
	assert.Equal(t, 11, resolveSummaryDate("auto", evening).Day())
	assert.Equal(t, 11, resolveSummaryDate("tomorrow", morning).Day())
	assert.Equal(t, 25, resolveSummaryDate("2025-11-25", morning).Day())
}
