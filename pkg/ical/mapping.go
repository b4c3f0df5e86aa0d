package ical

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

const (
	layoutDate      = "20060102"
	layoutLocalTime = "20060102T150405"
	layoutUTCTime   = "20060102T150405Z"
)

func (p *Parser) eventFromComponent(comp *ical.Component, meta CalendarMeta) (Event, error) {
	uid := strings.TrimSpace(propValue(comp, ical.PropUID))
	if uid == "" {
		return Event{}, errors.New("event has no UID")
	}

	ev := Event{ID: uid, UID: uid}
	ev.Subject = textProp(comp, ical.PropSummary)
	ev.BodyPreview = textProp(comp, ical.PropDescription)
	ev.Location = textProp(comp, ical.PropLocation)

	start, allDay, err := p.dateTimeProp(comp, ical.PropDateTimeStart, meta)
	if err != nil {
		return Event{}, fmt.Errorf("%s: %w", ical.PropDateTimeStart, err)
	}
	if start.IsZero() {
		return Event{}, errors.New("event has no DTSTART")
	}
	ev.Start = start
	ev.IsAllDay = allDay

	end, _, err := p.dateTimeProp(comp, ical.PropDateTimeEnd, meta)
	if err != nil {
		return Event{}, fmt.Errorf("%s: %w", ical.PropDateTimeEnd, err)
	}
	ev.End = p.resolveEnd(comp, start, end, allDay)

	if prop := comp.Props.Get(ical.PropRecurrenceRule); prop != nil && strings.TrimSpace(prop.Value) != "" {
		ev.IsRecurring = true
		ev.RRule = strings.TrimSpace(prop.Value)
	}
	for _, prop := range comp.Props.Values(ical.PropRecurrenceDates) {
		ev.RDates = append(ev.RDates, p.dateTimeList(prop, meta)...)
	}
	if len(ev.RDates) > 0 {
		ev.IsRecurring = true
	}
	for _, prop := range comp.Props.Values(ical.PropExceptionDates) {
		ev.ExDates = append(ev.ExDates, p.dateTimeList(prop, meta)...)
	}
	if prop := comp.Props.Get(ical.PropRecurrenceID); prop != nil {
		rid, _, err := p.parseDateTime(prop, meta)
		if err != nil {
			return Event{}, fmt.Errorf("%s: %w", ical.PropRecurrenceID, err)
		}
		t := rid.Wall
		ev.RecurrenceID = &t
		ev.ID = InstanceID(uid, t)
	}

	if prop := comp.Props.Get(ical.PropOrganizer); prop != nil {
		ev.OrganizerEmail = stripMailto(strings.TrimSpace(prop.Value))
		if p.userEmail != "" && strings.EqualFold(ev.OrganizerEmail, p.userEmail) {
			ev.IsOrganizer = true
		}
	}
	for _, prop := range comp.Props.Values(ical.PropAttendee) {
		ev.Attendees = append(ev.Attendees, attendeeFromProp(prop))
	}

	if t, ok := p.utcTimestamp(comp, ical.PropCreated, meta); ok {
		ev.CreatedAt = &t
	}
	if t, ok := p.utcTimestamp(comp, ical.PropLastModified, meta); ok {
		ev.ModifiedAt = &t
	}

	ev.RawStatus = strings.ToUpper(strings.TrimSpace(propValue(comp, ical.PropStatus)))
	ev.Transparency = strings.ToUpper(strings.TrimSpace(propValue(comp, ical.PropTransparency)))
	for name, props := range comp.Props {
		if !strings.HasPrefix(name, "X-") || len(props) == 0 {
			continue
		}
		if ev.VendorProps == nil {
			ev.VendorProps = make(map[string]string)
		}
		ev.VendorProps[name] = props[0].Value
	}
	if strings.EqualFold(ev.VendorProps["X-MICROSOFT-CDO-ALLDAYEVENT"], "TRUE") {
		ev.IsAllDay = true
	}

	if url := strings.TrimSpace(ev.VendorProps["X-MICROSOFT-SKYPETEAMSMEETINGURL"]); url != "" {
		ev.IsOnlineMeeting = true
		ev.OnlineMeetingURL = url
	} else if url, ok := detectMeetingURL(ev.Location, ev.BodyPreview); ok {
		ev.IsOnlineMeeting = true
		ev.OnlineMeetingURL = url
	}

	p.status.Apply(&ev)
	return ev, nil
}

// resolveEnd fills a missing DTEND from DURATION, falling back to one hour
// (one day for all-day events).
func (p *Parser) resolveEnd(comp *ical.Component, start, end EventTime, allDay bool) EventTime {
	if !end.IsZero() {
		return end
	}
	if prop := comp.Props.Get(ical.PropDuration); prop != nil {
		if d, err := prop.Duration(); err == nil && d > 0 {
			return EventTime{Wall: start.Wall.Add(d), Zone: start.Zone}
		}
	}
	if allDay {
		return EventTime{Wall: start.Wall.AddDate(0, 0, 1), Zone: start.Zone}
	}
	return EventTime{Wall: start.Wall.Add(time.Hour), Zone: start.Zone}
}

func (p *Parser) dateTimeProp(comp *ical.Component, name string, meta CalendarMeta) (EventTime, bool, error) {
	prop := comp.Props.Get(name)
	if prop == nil {
		return EventTime{}, false, nil
	}
	return p.parseDateTime(prop, meta)
}

// parseDateTime decodes the three shapes DTSTART-family values come in:
// bare dates (all-day), UTC instants with a Z suffix, and local times
// interpreted under the TZID parameter. The boolean reports all-day.
func (p *Parser) parseDateTime(prop *ical.Prop, meta CalendarMeta) (EventTime, bool, error) {
	v := strings.TrimSpace(prop.Value)
	if v == "" {
		return EventTime{}, false, errors.New("empty date-time value")
	}
	tzid := prop.Params.Get(ical.ParamTimezoneID)

	if strings.EqualFold(prop.Params.Get(ical.ParamValue), "DATE") || (len(v) == 8 && !strings.ContainsRune(v, 'T')) {
		loc, zone := p.zoneFor(tzid, meta)
		t, err := time.ParseInLocation(layoutDate, v, loc)
		if err != nil {
			return EventTime{}, false, fmt.Errorf("bad date %q: %w", v, err)
		}
		return EventTime{Wall: t, Zone: zone}, true, nil
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(layoutUTCTime, v)
		if err != nil {
			return EventTime{}, false, fmt.Errorf("bad utc date-time %q: %w", v, err)
		}
		return EventTime{Wall: t, Zone: "UTC"}, false, nil
	}

	loc, zone := p.zoneFor(tzid, meta)
	t, err := time.ParseInLocation(layoutLocalTime, v, loc)
	if err != nil {
		return EventTime{}, false, fmt.Errorf("bad date-time %q: %w", v, err)
	}
	return EventTime{Wall: t, Zone: zone}, false, nil
}

// zoneFor picks the location for a floating or TZID-qualified value: the
// TZID itself, then the calendar's X-WR-TIMEZONE, then the default zone.
func (p *Parser) zoneFor(tzid string, meta CalendarMeta) (*time.Location, string) {
	if tzid != "" {
		if loc, ok := p.tz.ResolveStrict(tzid); ok {
			return loc, loc.String()
		}
	}
	if meta.Timezone != "" {
		if loc, ok := p.tz.ResolveStrict(meta.Timezone); ok {
			return loc, loc.String()
		}
	}
	loc := p.tz.Default()
	return loc, loc.String()
}

// dateTimeList splits a multi-valued RDATE/EXDATE property. PERIOD values
// carry "start/end"; only the start matters here.
func (p *Parser) dateTimeList(prop ical.Prop, meta CalendarMeta) []time.Time {
	var out []time.Time
	for _, part := range strings.Split(prop.Value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.IndexByte(part, '/'); i >= 0 {
			part = part[:i]
		}
		single := prop
		single.Value = part
		et, _, err := p.parseDateTime(&single, meta)
		if err != nil {
			continue
		}
		out = append(out, et.Wall)
	}
	return out
}

func (p *Parser) utcTimestamp(comp *ical.Component, name string, meta CalendarMeta) (time.Time, bool) {
	prop := comp.Props.Get(name)
	if prop == nil {
		return time.Time{}, false
	}
	et, _, err := p.parseDateTime(prop, meta)
	if err != nil || et.IsZero() {
		return time.Time{}, false
	}
	return et.UTC(), true
}

func propValue(comp *ical.Component, name string) string {
	if prop := comp.Props.Get(name); prop != nil {
		return prop.Value
	}
	return ""
}

func textProp(comp *ical.Component, name string) string {
	prop := comp.Props.Get(name)
	if prop == nil {
		return ""
	}
	v, err := prop.Text()
	if err != nil {
		return strings.TrimSpace(prop.Value)
	}
	return strings.TrimSpace(v)
}

func attendeeFromProp(prop ical.Prop) Attendee {
	email := prop.Params.Get("EMAIL")
	if email == "" {
		email = stripMailto(strings.TrimSpace(prop.Value))
	}
	if !strings.Contains(email, "@") {
		email = ""
	}
	return Attendee{
		DisplayName:    prop.Params.Get(ical.ParamCommonName),
		Email:          email,
		Type:           attendeeType(prop.Params.Get(ical.ParamRole), prop.Params.Get(ical.ParamCalendarUserType)),
		ResponseStatus: responseStatus(prop.Params.Get(ical.ParamParticipationStatus)),
	}
}

func attendeeType(role, cutype string) string {
	switch strings.ToUpper(cutype) {
	case "RESOURCE", "ROOM":
		return "resource"
	}
	if strings.EqualFold(role, "OPT-PARTICIPANT") {
		return "optional"
	}
	return "required"
}

func responseStatus(partstat string) string {
	switch strings.ToUpper(partstat) {
	case "ACCEPTED":
		return "accepted"
	case "DECLINED":
		return "declined"
	case "TENTATIVE":
		return "tentative"
	case "DELEGATED":
		return "delegated"
	default:
		return "needs_action"
	}
}

func stripMailto(v string) string {
	if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
		return v[7:]
	}
	return v
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// Join-link hosts Microsoft has used over the years, Skype for Business
// included. Matched case-insensitively anywhere in LOCATION or DESCRIPTION.
var meetingURLMarkers = []string{
	"teams.microsoft.com/l/meetup-join",
	"teams.live.com/meet",
	"events.teams.microsoft.com",
	"meet.lync.com",
}

func detectMeetingURL(texts ...string) (string, bool) {
	for _, txt := range texts {
		if txt == "" {
			continue
		}
		for _, raw := range urlPattern.FindAllString(txt, -1) {
			lower := strings.ToLower(raw)
			for _, marker := range meetingURLMarkers {
				if strings.Contains(lower, marker) {
					return strings.TrimRight(raw, ".,;)>"), true
				}
			}
		}
	}
	return "", false
}
