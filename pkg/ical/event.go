package ical

import (
	"time"
)

// Status is the normalized availability of an event after the vendor-marker
// and RFC 5545 rules in status.go have been applied.
type Status string

const (
	StatusBusy             Status = "busy"
	StatusFree             Status = "free"
	StatusTentative        Status = "tentative"
	StatusOutOfOffice      Status = "out_of_office"
	StatusWorkingElsewhere Status = "working_elsewhere"
)

// EventTime is a wall-clock anchored to a timezone. Wall carries the resolved
// *time.Location, so the UTC instant is derived rather than stored.
type EventTime struct {
	Wall time.Time
	Zone string
}

func NewEventTime(wall time.Time, zone string) EventTime {
	return EventTime{Wall: wall, Zone: zone}
}

func (t EventTime) UTC() time.Time { return t.Wall.UTC() }

func (t EventTime) IsZero() bool { return t.Wall.IsZero() }

type Attendee struct {
	DisplayName    string `json:"display_name,omitempty"`
	Email          string `json:"email,omitempty"`
	Type           string `json:"type"`
	ResponseStatus string `json:"response_status"`
}

// Event is a single calendar event instance. Values are treated as immutable
// once a window containing them has been published.
type Event struct {
	// ID uniquely identifies the instance: the UID for plain events,
	// UID:<RFC3339 occurrence> for expanded or overridden occurrences.
	ID  string
	UID string

	Subject     string
	BodyPreview string
	Location    string

	Start    EventTime
	End      EventTime
	IsAllDay bool

	Status      Status
	IsCancelled bool
	IsOrganizer bool

	OrganizerEmail string
	Attendees      []Attendee

	// Recurrence facet.
	IsRecurring        bool
	RRule              string
	RDates             []time.Time
	ExDates            []time.Time
	RecurrenceID       *time.Time
	IsExpandedInstance bool
	RRuleMasterUID     string
	// ExpansionFailed marks a recurring master whose rule could not be
	// expanded. The master is kept for diagnostics but excluded from
	// listings.
	ExpansionFailed bool

	CreatedAt  *time.Time
	ModifiedAt *time.Time

	IsOnlineMeeting  bool
	OnlineMeetingURL string

	// Raw inputs consumed by the status mapper, kept so the mapper can
	// re-run on post-merge values.
	RawStatus    string
	Transparency string
	VendorProps  map[string]string
}

// InstanceID derives the identity of one occurrence of a recurring series.
// An expanded instance and a RECURRENCE-ID override of the same occurrence
// produce the same id, so skip state survives an organizer moving a meeting.
func InstanceID(uid string, occurrence time.Time) string {
	return uid + ":" + occurrence.UTC().Format(time.RFC3339)
}

// Duration is the real elapsed time between start and end.
func (e *Event) Duration() time.Duration {
	return e.End.UTC().Sub(e.Start.UTC())
}

// EndsAfter reports whether the event is still relevant at instant t.
func (e *Event) EndsAfter(t time.Time) bool {
	return e.End.UTC().After(t)
}

// InProgressAt reports whether t falls inside [start, end).
func (e *Event) InProgressAt(t time.Time) bool {
	return !e.Start.UTC().After(t) && e.End.UTC().After(t)
}

// Clone returns a copy with its own slices and maps, used when expansion or
// merging derives a new instance from a master.
func (e *Event) Clone() *Event {
	out := *e
	if len(e.Attendees) > 0 {
		out.Attendees = append([]Attendee(nil), e.Attendees...)
	}
	if len(e.RDates) > 0 {
		out.RDates = append([]time.Time(nil), e.RDates...)
	}
	if len(e.ExDates) > 0 {
		out.ExDates = append([]time.Time(nil), e.ExDates...)
	}
	if e.VendorProps != nil {
		props := make(map[string]string, len(e.VendorProps))
		for k, v := range e.VendorProps {
			props[k] = v
		}
		out.VendorProps = props
	}
	if e.RecurrenceID != nil {
		rid := *e.RecurrenceID
		out.RecurrenceID = &rid
	}
	if e.CreatedAt != nil {
		c := *e.CreatedAt
		out.CreatedAt = &c
	}
	if e.ModifiedAt != nil {
		m := *e.ModifiedAt
		out.ModifiedAt = &m
	}
	return &out
}

// CalendarMeta is calendar-level information gathered while streaming.
type CalendarMeta struct {
	ProdID   string
	Version  string
	Method   string
	Name     string
	Timezone string
}
