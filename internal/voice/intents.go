package voice

import (
	"fmt"
	"time"

	"github.com/sonroyaalmerol/voicecal/pkg/ical"
)

// Intent describes one voice operation: its route name, parameter
// schema, caching behavior and computation. The table below is the
// single source of truth for routing; the router walks it at startup.
type Intent struct {
	Name      string
	Params    []ParamSpec
	Cacheable bool
	// PrecomputeKey maps a validated request onto the name of a canned
	// answer built at refresh time, or "" when the request cannot be
	// served precomputed. nil means the intent is never precomputed.
	PrecomputeKey func(s *Service, params map[string]any, now time.Time) string
	Compute       func(s *Service, req *Request) (Response, error)
}

var tzParam = ParamSpec{Name: "tz", Type: ParamTimezone, Default: ""}

// Intents returns the static intent table.
func Intents() []Intent {
	return []Intent{
		{
			Name:          "next-meeting",
			Params:        []ParamSpec{tzParam},
			Cacheable:     true,
			PrecomputeKey: defaultZoneKey("next-meeting"),
			Compute:       computeNextMeeting,
		},
		{
			Name:          "time-until-next",
			Params:        []ParamSpec{tzParam},
			Cacheable:     true,
			PrecomputeKey: defaultZoneKey("time-until-next"),
			Compute:       computeTimeUntilNext,
		},
		{
			Name:          "done-for-day",
			Params:        []ParamSpec{tzParam},
			Cacheable:     true,
			PrecomputeKey: defaultZoneKey("done-for-day"),
			Compute:       computeDoneForDay,
		},
		{
			Name:          "launch",
			Params:        []ParamSpec{tzParam},
			Cacheable:     true,
			PrecomputeKey: defaultZoneKey("launch"),
			Compute:       computeLaunch,
		},
		{
			Name: "morning-summary",
			Params: []ParamSpec{
				{Name: "date", Type: ParamDate, Default: "auto"},
				tzParam,
				{Name: "detail_level", Type: ParamEnum, Default: "normal", Enum: []string{"brief", "normal", "detailed"}},
				{Name: "max_events", Type: ParamInt, Default: 10, Min: 1, Max: 20},
			},
			Cacheable:     true,
			PrecomputeKey: morningPrecomputeKey,
			Compute:       computeMorningSummary,
		},
	}
}

// defaultZoneKey serves the canned answer when the request is
// effectively parameter-free: no tz, or a tz naming the default zone.
func defaultZoneKey(name string) func(*Service, map[string]any, time.Time) string {
	return func(s *Service, params map[string]any, _ time.Time) string {
		// Compare zone names: the resolver may hand out distinct
		// *time.Location values for the same zone.
		if s.locFor(params).String() != s.tz.Default().String() {
			return ""
		}
		return name
	}
}

func computeNextMeeting(s *Service, req *Request) (Response, error) {
	loc := s.locFor(req.Params)
	pick := s.prio.Next(req.Snap.Events, req.Now)
	if pick == nil {
		return Response{
			"speech_text": "You have no upcoming meetings on your calendar.",
			"meeting":     nil,
		}, nil
	}

	spoken := SpokenDuration(time.Duration(pick.SecondsUntil) * time.Second)
	var speech string
	if pick.Active {
		speech = fmt.Sprintf("%s is happening right now.", pick.Event.Subject)
	} else {
		day := SpokenDay(pick.Event.Start.UTC().In(loc), req.Now.In(loc))
		at := SpokenClock(pick.Event.Start.UTC(), loc)
		if day == "today" {
			speech = fmt.Sprintf("Your next meeting is %s at %s, in %s.", pick.Event.Subject, at, spoken)
		} else {
			speech = fmt.Sprintf("Your next meeting is %s %s at %s.", pick.Event.Subject, day, at)
		}
	}

	resp := Response{
		"speech_text":         speech,
		"meeting":             meetingJSON(&pick.Event, loc),
		"seconds_until_start": pick.SecondsUntil,
		"duration_spoken":     spoken,
		"active":              pick.Active,
	}
	attachSSML(resp, req, speech, UrgencyFor(pick.SecondsUntil))
	return resp, nil
}

func computeTimeUntilNext(s *Service, req *Request) (Response, error) {
	pick := s.prio.Next(req.Snap.Events, req.Now)
	if pick == nil {
		return Response{
			"speech_text":         "You have nothing coming up.",
			"seconds_until_start": nil,
		}, nil
	}

	spoken := SpokenDuration(time.Duration(pick.SecondsUntil) * time.Second)
	var speech string
	if pick.Active {
		speech = fmt.Sprintf("%s already started.", pick.Event.Subject)
	} else {
		speech = fmt.Sprintf("Your next meeting starts in %s.", spoken)
	}
	resp := Response{
		"speech_text":         speech,
		"seconds_until_start": pick.SecondsUntil,
		"duration_spoken":     spoken,
		"meeting_subject":     pick.Event.Subject,
	}
	attachSSML(resp, req, speech, UrgencyFor(pick.SecondsUntil))
	return resp, nil
}

func computeDoneForDay(s *Service, req *Request) (Response, error) {
	loc := s.locFor(req.Params)
	dayStart, dayEnd := dayBounds(req.Now, loc)

	var last time.Time
	remaining := 0
	for _, ev := range s.prio.Upcoming(req.Snap.Events, req.Now) {
		start := ev.Start.UTC()
		if start.Before(dayStart) || !start.Before(dayEnd) {
			continue
		}
		remaining++
		if end := ev.End.UTC(); end.After(last) {
			last = end
		}
	}

	if remaining == 0 {
		speech := "You're done with meetings for today."
		resp := Response{
			"speech_text":        speech,
			"done_at":            nil,
			"remaining_meetings": 0,
		}
		attachSSML(resp, req, speech, UrgencyNone)
		return resp, nil
	}

	speech := fmt.Sprintf("Your last meeting today ends at %s.", SpokenClock(last, loc))
	resp := Response{
		"speech_text":        speech,
		"done_at":            last.In(loc).Format(time.RFC3339),
		"remaining_meetings": remaining,
	}
	attachSSML(resp, req, speech, UrgencyNone)
	return resp, nil
}

func computeLaunch(s *Service, req *Request) (Response, error) {
	loc := s.locFor(req.Params)
	dayStart, dayEnd := dayBounds(req.Now, loc)

	remaining := 0
	for _, ev := range s.prio.Upcoming(req.Snap.Events, req.Now) {
		start := ev.Start.UTC()
		if !start.Before(dayStart) && start.Before(dayEnd) {
			remaining++
		}
	}

	greeting := Greeting(req.Now.In(loc))
	var speech string
	pick := s.prio.Next(req.Snap.Events, req.Now)
	switch {
	case remaining == 0:
		speech = fmt.Sprintf("%s. You have no more meetings today.", greeting)
	case pick != nil && pick.Active:
		speech = fmt.Sprintf("%s. %s is happening now, and you have %s left today.",
			greeting, pick.Event.Subject, plural(remaining, "meeting"))
	case pick != nil:
		speech = fmt.Sprintf("%s. You have %s left today. The next one is %s in %s.",
			greeting, plural(remaining, "meeting"), pick.Event.Subject,
			SpokenDuration(time.Duration(pick.SecondsUntil)*time.Second))
	default:
		speech = fmt.Sprintf("%s. You have %s left today.", greeting, plural(remaining, "meeting"))
	}

	resp := Response{
		"speech_text":     speech,
		"remaining_today": remaining,
	}
	if pick != nil {
		resp["next_subject"] = pick.Event.Subject
		resp["seconds_until_start"] = pick.SecondsUntil
	}
	attachSSML(resp, req, speech, UrgencyNone)
	return resp, nil
}

func attachSSML(resp Response, req *Request, speech string, urgency Urgency) {
	if !req.WithSSML {
		return
	}
	if markup := SpeechMarkup(speech, urgency); markup != "" {
		resp["ssml"] = markup
	}
}

func meetingJSON(ev *ical.Event, loc *time.Location) map[string]any {
	m := map[string]any{
		"id":         ev.ID,
		"subject":    ev.Subject,
		"start":      ev.Start.UTC().In(loc).Format(time.RFC3339),
		"end":        ev.End.UTC().In(loc).Format(time.RFC3339),
		"is_all_day": ev.IsAllDay,
		"status":     string(ev.Status),
	}
	if ev.Location != "" {
		m["location"] = ev.Location
	}
	if ev.IsOnlineMeeting {
		m["is_online_meeting"] = true
		m["online_meeting_url"] = ev.OnlineMeetingURL
	}
	return m
}

func dayBounds(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
