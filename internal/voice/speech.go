package voice

import (
	"fmt"
	"strings"
	"time"
)

// SpokenDuration renders a countdown the way a person says it: "in 5
// minutes", "in 1 hour and 20 minutes". Sub-minute values round to "less
// than a minute"; negative values mean the event already started.
func SpokenDuration(d time.Duration) string {
	if d < 0 {
		return "now"
	}
	if d < time.Minute {
		return "less than a minute"
	}

	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	minutes := int(d % time.Hour / time.Minute)

	var parts []string
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 && days == 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	switch len(parts) {
	case 0:
		return "less than a minute"
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}

// SpokenClock renders an instant as spoken local time: "9 AM", "quarter
// past eleven" is deliberately avoided; digital phrasing survives TTS
// better.
func SpokenClock(t time.Time, loc *time.Location) string {
	t = t.In(loc)
	hour := t.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	ampm := "AM"
	if t.Hour() >= 12 {
		ampm = "PM"
	}
	if t.Minute() == 0 {
		return fmt.Sprintf("%d %s", hour, ampm)
	}
	return fmt.Sprintf("%d:%02d %s", hour, t.Minute(), ampm)
}

// SpokenDay names a date relative to today in the same zone, falling
// back to the weekday and then the full date.
func SpokenDay(date, today time.Time) string {
	switch diff := daysBetween(today, date); {
	case diff == 0:
		return "today"
	case diff == 1:
		return "tomorrow"
	case diff > 1 && diff < 7:
		return date.Weekday().String()
	default:
		return date.Format("January 2")
	}
}

func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	start := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	end := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start) / (24 * time.Hour))
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// Greeting picks a salutation for the local hour.
func Greeting(t time.Time) string {
	switch h := t.Hour(); {
	case h < 5:
		return "Hello"
	case h < 12:
		return "Good morning"
	case h < 17:
		return "Good afternoon"
	default:
		return "Good evening"
	}
}
