package voice

import (
	"fmt"
	"strings"
	"time"

	"github.com/sonroyaalmerol/voicecal/pkg/ical"
)

// Morning summary tuning. Back-to-back means the gap to the previous
// meeting is at most backToBackGap; a free block has to be at least
// freeBlockMin to be worth mentioning.
const (
	backToBackGap   = 15 * time.Minute
	freeBlockMin    = 30 * time.Minute
	wakeUpLead      = 90 * time.Minute
	earliestWakeUp  = 6 // local hour
	earlyStartHour  = 8
	longMeetingMark = 90 * time.Minute
)

// morningPrecomputeKey matches requests against the canned summary the
// refresher builds for the next morning. Anything off the defaults, or a
// date resolving to a different day, computes on demand.
func morningPrecomputeKey(s *Service, params map[string]any, now time.Time) string {
	if s.locFor(params).String() != s.tz.Default().String() {
		return ""
	}
	if dl, _ := params["detail_level"].(string); dl != "normal" {
		return ""
	}
	if max, _ := params["max_events"].(int); max != 10 {
		return ""
	}
	date, _ := params["date"].(string)
	target := resolveSummaryDate(date, now.In(s.tz.Default()))
	return MorningSummaryName(target)
}

// MorningSummaryName is the precomputed-response name for a given local
// day's summary.
func MorningSummaryName(day time.Time) string {
	return "morning-summary:" + day.Format("2006-01-02")
}

// resolveSummaryDate turns the date parameter into a local calendar day.
// "auto" means today until noon, tomorrow after; explicit dates win.
func resolveSummaryDate(param string, nowLocal time.Time) time.Time {
	today := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day(), 0, 0, 0, 0, nowLocal.Location())
	switch param {
	case "", "auto":
		if nowLocal.Hour() < 12 {
			return today
		}
		return today.AddDate(0, 0, 1)
	case "today":
		return today
	case "tomorrow":
		return today.AddDate(0, 0, 1)
	}
	d, err := time.ParseInLocation("2006-01-02", param, nowLocal.Location())
	if err != nil {
		return today
	}
	return d
}

func computeMorningSummary(s *Service, req *Request) (Response, error) {
	loc := s.locFor(req.Params)
	dateParam, _ := req.Params["date"].(string)
	detail, _ := req.Params["detail_level"].(string)
	maxEvents, _ := req.Params["max_events"].(int)
	if maxEvents <= 0 {
		maxEvents = 10
	}

	nowLocal := req.Now.In(loc)
	day := resolveSummaryDate(dateParam, nowLocal)
	frameStart := day
	frameEnd := day.AddDate(0, 0, 1)

	var meetings []ical.Event
	for _, ev := range s.prio.Upcoming(req.Snap.Events, req.Now) {
		start := ev.Start.UTC().In(loc)
		if start.Before(frameStart) || !start.Before(frameEnd) {
			continue
		}
		meetings = append(meetings, ev)
	}

	totalMinutes := 0
	backToBack := 0
	var freeBlocks []map[string]any
	var items []map[string]any
	for i := range meetings {
		ev := &meetings[i]
		totalMinutes += int(ev.Duration() / time.Minute)

		adjacent := false
		if i > 0 {
			gap := ev.Start.UTC().Sub(meetings[i-1].End.UTC())
			if gap <= backToBackGap {
				backToBack++
				adjacent = true
			} else if gap >= freeBlockMin {
				freeBlocks = append(freeBlocks, map[string]any{
					"start":   meetings[i-1].End.UTC().In(loc).Format(time.RFC3339),
					"end":     ev.Start.UTC().In(loc).Format(time.RFC3339),
					"minutes": int(gap / time.Minute),
				})
			}
		}

		if len(items) < maxEvents {
			item := meetingJSON(ev, loc)
			item["duration_minutes"] = int(ev.Duration() / time.Minute)
			if detail == "detailed" {
				if insights := meetingInsights(ev, loc, adjacent); len(insights) > 0 {
					item["insights"] = insights
				}
			}
			items = append(items, item)
		}
	}

	density := densityBucket(len(meetings))

	var wakeUp string
	if len(meetings) > 0 {
		w := meetings[0].Start.UTC().In(loc).Add(-wakeUpLead)
		floor := time.Date(day.Year(), day.Month(), day.Day(), earliestWakeUp, 0, 0, 0, loc)
		if w.Before(floor) {
			w = floor
		}
		wakeUp = w.Format(time.RFC3339)
	}

	speech := morningSpeech(meetings, day, nowLocal, loc, detail, density, backToBack)

	resp := Response{
		"speech_text":           speech,
		"date":                  day.Format("2006-01-02"),
		"timeframe_start":       frameStart.Format(time.RFC3339),
		"timeframe_end":         frameEnd.Format(time.RFC3339),
		"meeting_count":         len(meetings),
		"total_meeting_minutes": totalMinutes,
		"density":               density,
		"back_to_back_count":    backToBack,
		"meetings":              items,
		"free_blocks":           freeBlocks,
	}
	if wakeUp != "" {
		resp["suggested_wake_up"] = wakeUp
	}
	attachSSML(resp, req, speech, UrgencyNone)
	return resp, nil
}

func densityBucket(count int) string {
	switch {
	case count == 0:
		return "free"
	case count <= 2:
		return "light"
	case count <= 4:
		return "moderate"
	case count <= 6:
		return "busy"
	default:
		return "packed"
	}
}

func meetingInsights(ev *ical.Event, loc *time.Location, backToBack bool) []string {
	var out []string
	start := ev.Start.UTC().In(loc)
	if start.Hour() < earlyStartHour {
		out = append(out, "early start")
	}
	if ev.Duration() >= longMeetingMark {
		out = append(out, "long meeting")
	}
	if backToBack {
		out = append(out, "back to back")
	}
	if ev.IsOnlineMeeting {
		out = append(out, "online")
	}
	if len(ev.Attendees) >= 5 {
		out = append(out, "large group")
	}
	return out
}

func morningSpeech(meetings []ical.Event, day, nowLocal time.Time, loc *time.Location, detail, density string, backToBack int) string {
	dayWord := SpokenDay(day, nowLocal)
	if len(meetings) == 0 {
		return fmt.Sprintf("Your calendar is clear %s.", dayWord)
	}

	first := meetings[0]
	var sb strings.Builder
	fmt.Fprintf(&sb, "You have %s %s, starting with %s at %s.",
		plural(len(meetings), "meeting"), dayWord,
		first.Subject, SpokenClock(first.Start.UTC(), loc))

	if detail == "brief" {
		return sb.String()
	}

	switch density {
	case "busy", "packed":
		fmt.Fprintf(&sb, " It's a %s day.", density)
	}
	if backToBack > 0 {
		fmt.Fprintf(&sb, " %s back to back.", plural(backToBack, "meeting"))
	}

	if detail == "detailed" {
		limit := len(meetings)
		if limit > 3 {
			limit = 3
		}
		for _, ev := range meetings[1:limit] {
			fmt.Fprintf(&sb, " Then %s at %s.", ev.Subject, SpokenClock(ev.Start.UTC(), loc))
		}
		if last := meetings[len(meetings)-1]; len(meetings) > 1 {
			fmt.Fprintf(&sb, " Your day wraps up at %s.", SpokenClock(last.End.UTC(), loc))
		}
	}
	return sb.String()
}
