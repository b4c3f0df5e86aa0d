package ical

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/rs/zerolog"
)

// Fatal stream aborts. Anything that trips one of these is logged as a
// SECURITY-class event because it usually means the upstream feed is
// hostile or badly broken.
var (
	ErrInputTooLarge     = errors.New("ical: input exceeds size limit")
	ErrUpstreamCorrupted = errors.New("ical: repeated event tuples exceed corruption threshold")
	ErrParseBudget       = errors.New("ical: wall-clock parse budget exhausted")
	ErrIterationLimit    = errors.New("ical: read iteration guard tripped")
)

// Limits bound the resources a single stream may consume. The zero value
// of any field is replaced with its default.
type Limits struct {
	// MaxBytes aborts the stream; WarnBytes logs once and keeps going.
	MaxBytes  int64
	WarnBytes int64
	// MaxIterations caps read-loop turns. It backstops MaxBytes against
	// readers that return tiny or empty chunks forever.
	MaxIterations int
	// WallBudget is measured against the real clock, not the injected
	// domain clock. Resource guards stay live even under frozen test time.
	WallBudget time.Duration
	// MaxEvents stops retaining events; the remainder of the stream is
	// still consumed so the corruption breaker sees the whole feed.
	MaxEvents int
	// DuplicateThreshold aborts once the same (UID, RECURRENCE-ID) tuple
	// has been seen more than this many times.
	DuplicateThreshold int
	ChunkSize          int
}

func DefaultLimits() Limits {
	return Limits{
		MaxBytes:           50 << 20,
		WarnBytes:          10 << 20,
		MaxIterations:      10000,
		WallBudget:         30 * time.Second,
		MaxEvents:          1000,
		DuplicateThreshold: 3,
		ChunkSize:          8 << 10,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.MaxBytes <= 0 {
		l.MaxBytes = def.MaxBytes
	}
	if l.WarnBytes <= 0 {
		l.WarnBytes = def.WarnBytes
	}
	if l.MaxIterations <= 0 {
		l.MaxIterations = def.MaxIterations
	}
	if l.WallBudget <= 0 {
		l.WallBudget = def.WallBudget
	}
	if l.MaxEvents <= 0 {
		l.MaxEvents = def.MaxEvents
	}
	if l.DuplicateThreshold <= 0 {
		l.DuplicateThreshold = def.DuplicateThreshold
	}
	if l.ChunkSize <= 0 {
		l.ChunkSize = def.ChunkSize
	}
	return l
}

// Warning is a non-fatal parse problem. The offending event is skipped and
// the stream keeps going.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line"`
}

const (
	WarnOversized    = "input_oversized"
	WarnEventCap     = "event_cap_reached"
	WarnUnparsable   = "event_unparsable"
	WarnUnterminated = "event_unterminated"
	WarnNoCalendar   = "no_vcalendar"
)

// ParseResult is everything extracted from one stream.
type ParseResult struct {
	Events    []Event
	Meta      CalendarMeta
	Warnings  []Warning
	Truncated bool
	BytesRead int64
}

// ParserConfig wires a Parser. Timezones is required; everything else has
// a usable zero value apart from Logger, which callers should set to
// zerolog.Nop() when they genuinely want silence.
type ParserConfig struct {
	Limits    Limits
	Timezones *TimezoneResolver
	// UserEmail, when set, is compared against ORGANIZER to mark events
	// the feed owner organizes.
	UserEmail string
	// Status overrides the stock availability mapper, usually to change
	// the follow-up subject prefixes.
	Status *StatusMapper
	Logger zerolog.Logger
}

// Parser turns an ICS byte stream into event records without ever holding
// the whole input in memory. It is safe for concurrent use; per-stream
// state lives in the session created by Parse.
type Parser struct {
	limits    Limits
	tz        *TimezoneResolver
	userEmail string
	status    *StatusMapper
	log       zerolog.Logger
}

func NewParser(cfg ParserConfig) *Parser {
	status := cfg.Status
	if status == nil {
		status = NewStatusMapper()
	}
	return &Parser{
		limits:    cfg.Limits.withDefaults(),
		tz:        cfg.Timezones,
		userEmail: strings.ToLower(strings.TrimSpace(cfg.UserEmail)),
		status:    status,
		log:       cfg.Logger,
	}
}

type streamState int

const (
	stateIdle streamState = iota
	stateInCalendar
	stateInEvent
	stateDone
)

var (
	utf8BOM         = []byte{0xEF, 0xBB, 0xBF}
	utf8Replacement = []byte("�")
)

// Parse consumes r in fixed-size chunks and returns the events it could
// decode. A non-nil error means the stream was aborted; the partial result
// is still returned so callers can log what was salvaged.
func (p *Parser) Parse(ctx context.Context, r io.Reader) (*ParseResult, error) {
	res := &ParseResult{}
	s := &session{p: p, res: res, tuples: make(map[string]int)}

	start := time.Now()
	chunk := make([]byte, p.limits.ChunkSize)
	var tail []byte
	var total int64
	first := true

	for iter := 0; ; iter++ {
		if err := ctx.Err(); err != nil {
			res.BytesRead = total
			return res, err
		}
		if iter >= p.limits.MaxIterations {
			p.security("ics read loop exceeded iteration guard", func(e *zerolog.Event) {
				e.Int("iterations", iter).Int64("bytes", total)
			})
			res.BytesRead = total
			return res, ErrIterationLimit
		}
		if time.Since(start) > p.limits.WallBudget {
			p.security("ics parse exceeded wall budget", func(e *zerolog.Event) {
				e.Dur("budget", p.limits.WallBudget).Int64("bytes", total)
			})
			res.BytesRead = total
			return res, ErrParseBudget
		}

		n, err := r.Read(chunk)
		if n > 0 {
			total += int64(n)
			if total > p.limits.MaxBytes {
				p.security("ics input exceeds hard size limit", func(e *zerolog.Event) {
					e.Int64("bytes", total).Int64("limit", p.limits.MaxBytes)
				})
				res.BytesRead = total
				return res, ErrInputTooLarge
			}
			if total > p.limits.WarnBytes && !s.sizeWarned {
				s.sizeWarned = true
				s.warn(WarnOversized, fmt.Sprintf("input passed %d bytes, still reading", p.limits.WarnBytes), s.lineNo)
				p.security("ics input unusually large", func(e *zerolog.Event) {
					e.Int64("bytes", total).Int64("warn_at", p.limits.WarnBytes)
				})
			}
			data := chunk[:n]
			if first {
				data = bytes.TrimPrefix(data, utf8BOM)
				first = false
			}
			tail = append(tail, data...)
			tail = s.drainLines(tail)
			if s.err != nil {
				res.BytesRead = total
				return res, s.err
			}
			if s.state == stateDone {
				break
			}
		}
		if err == io.EOF {
			s.finish(tail)
			break
		}
		if err != nil {
			res.BytesRead = total
			return res, fmt.Errorf("read ics stream: %w", err)
		}
	}

	res.BytesRead = total
	if s.err != nil {
		return res, s.err
	}
	if s.state == stateIdle && total > 0 {
		s.warn(WarnNoCalendar, "no BEGIN:VCALENDAR found", 0)
	}
	return res, nil
}

func (p *Parser) security(msg string, fields func(e *zerolog.Event)) {
	e := p.log.Warn().Str("class", "SECURITY")
	fields(e)
	e.Msg(msg)
}

// session is the per-stream state machine. Physical lines arrive from
// drainLines, get unfolded into logical lines, and drive the state
// transitions.
type session struct {
	p   *Parser
	res *ParseResult
	err error

	state       streamState
	skipDepth   int // depth inside a non-VEVENT component (VTIMEZONE etc.)
	nestedDepth int // depth inside a VEVENT subcomponent (VALARM)

	pending     []byte
	havePending bool

	eventLines     []string
	eventStartLine int
	lineNo         int

	tuples     map[string]int
	sizeWarned bool
	capWarned  bool
}

// drainLines splits complete physical lines off buf and returns the
// unterminated remainder. Line and fold boundaries may sit anywhere
// relative to chunk boundaries, so the remainder carries over.
func (s *session) drainLines(buf []byte) []byte {
	for s.err == nil && s.state != stateDone {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		s.physicalLine(buf[:i])
		buf = buf[i+1:]
	}
	return buf
}

// finish feeds the final unterminated line (feeds frequently omit the
// trailing newline) and flushes whatever logical line was pending.
func (s *session) finish(tail []byte) {
	if len(tail) > 0 {
		s.physicalLine(tail)
	}
	s.flushPending()
	if s.err != nil {
		return
	}
	if s.state == stateInEvent {
		s.warn(WarnUnterminated, "stream ended inside an open event", s.eventStartLine)
	}
}

func (s *session) physicalLine(raw []byte) {
	s.lineNo++
	if n := len(raw); n > 0 && raw[n-1] == '\r' {
		raw = raw[:n-1]
	}
	if len(raw) > 0 && (raw[0] == ' ' || raw[0] == '\t') && s.havePending {
		s.pending = append(s.pending, raw[1:]...)
		return
	}
	s.flushPending()
	s.pending = append(s.pending[:0], raw...)
	s.havePending = true
}

func (s *session) flushPending() {
	if !s.havePending {
		return
	}
	line := string(bytes.ToValidUTF8(s.pending, utf8Replacement))
	s.havePending = false
	if line != "" {
		s.logicalLine(line)
	}
}

func (s *session) logicalLine(line string) {
	switch s.state {
	case stateIdle:
		if verb, target, ok := splitVerb(line); ok && verb == "BEGIN" && target == ical.CompCalendar {
			s.state = stateInCalendar
		}
	case stateInCalendar:
		s.calendarLine(line)
	case stateInEvent:
		s.eventLine(line)
	case stateDone:
	}
}

func (s *session) calendarLine(line string) {
	verb, target, isVerb := splitVerb(line)
	if s.skipDepth > 0 {
		if isVerb {
			switch verb {
			case "BEGIN":
				s.skipDepth++
			case "END":
				s.skipDepth--
			}
		}
		return
	}
	if isVerb {
		switch {
		case verb == "BEGIN" && target == ical.CompEvent:
			s.state = stateInEvent
			s.eventLines = s.eventLines[:0]
			s.nestedDepth = 0
			s.eventStartLine = s.lineNo
		case verb == "BEGIN":
			// VTIMEZONE, VTODO, VJOURNAL and friends carry nothing we
			// surface; TZID references resolve through the zone table.
			s.skipDepth = 1
		case verb == "END" && target == ical.CompCalendar:
			s.state = stateDone
		}
		return
	}
	s.metaLine(line)
}

func (s *session) metaLine(line string) {
	name, value := splitProp(line)
	switch name {
	case ical.PropProductID:
		s.res.Meta.ProdID = value
	case ical.PropVersion:
		s.res.Meta.Version = value
	case ical.PropMethod:
		s.res.Meta.Method = value
	case "X-WR-CALNAME":
		s.res.Meta.Name = unescapeText(value)
	case "X-WR-TIMEZONE":
		s.res.Meta.Timezone = value
	}
}

func (s *session) eventLine(line string) {
	verb, target, isVerb := splitVerb(line)
	if s.nestedDepth > 0 {
		if isVerb {
			switch verb {
			case "BEGIN":
				s.nestedDepth++
			case "END":
				s.nestedDepth--
			}
		}
		return
	}
	if isVerb {
		switch {
		case verb == "BEGIN":
			// VALARM content is dropped; reminders are not our job.
			s.nestedDepth = 1
		case verb == "END" && target == ical.CompEvent:
			s.completeEvent()
			s.state = stateInCalendar
		case verb == "END" && target == ical.CompCalendar:
			s.warn(WarnUnterminated, "calendar ended inside an open event", s.eventStartLine)
			s.state = stateDone
		}
		return
	}
	s.eventLines = append(s.eventLines, line)
}

func (s *session) completeEvent() {
	uid, rid := scanIdentity(s.eventLines)
	key := uid + "\x00" + rid
	s.tuples[key]++
	if s.tuples[key] > s.p.limits.DuplicateThreshold {
		s.p.security("ics stream repeats the same event tuple, aborting", func(e *zerolog.Event) {
			e.Str("uid", uid).Str("recurrence_id", rid).Int("seen", s.tuples[key])
		})
		s.err = ErrUpstreamCorrupted
		return
	}

	if len(s.res.Events) >= s.p.limits.MaxEvents {
		if !s.capWarned {
			s.capWarned = true
			s.res.Truncated = true
			s.warn(WarnEventCap, fmt.Sprintf("event cap %d reached, draining remainder", s.p.limits.MaxEvents), s.eventStartLine)
			s.p.security("ics event cap reached", func(e *zerolog.Event) {
				e.Int("cap", s.p.limits.MaxEvents)
			})
		}
		return
	}

	ev, err := s.p.decodeEvent(s.eventLines, s.res.Meta)
	if err != nil {
		s.warn(WarnUnparsable, err.Error(), s.eventStartLine)
		return
	}
	s.res.Events = append(s.res.Events, ev)
}

func (s *session) warn(code, msg string, line int) {
	s.res.Warnings = append(s.res.Warnings, Warning{Code: code, Message: msg, Line: line})
	s.p.log.Debug().Str("code", code).Int("line", line).Msg(msg)
}

const framedProdID = "-//voicecal//stream-frame//EN"

// decodeEvent reframes buffered event lines as a one-event calendar and
// hands property decoding to go-ical, which already knows every value
// type and escape rule we would otherwise reimplement.
func (p *Parser) decodeEvent(lines []string, meta CalendarMeta) (Event, error) {
	prodID := meta.ProdID
	if prodID == "" {
		prodID = framedProdID
	}
	var sb strings.Builder
	sb.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\n")
	sb.WriteString("PRODID:")
	sb.WriteString(prodID)
	sb.WriteString("\r\nBEGIN:VEVENT\r\n")
	for _, ln := range lines {
		sb.WriteString(ln)
		sb.WriteString("\r\n")
	}
	sb.WriteString("END:VEVENT\r\nEND:VCALENDAR\r\n")

	cal, err := ical.NewDecoder(strings.NewReader(sb.String())).Decode()
	if err != nil {
		return Event{}, fmt.Errorf("decode event block: %w", err)
	}
	for _, child := range cal.Children {
		if child.Name == ical.CompEvent {
			return p.eventFromComponent(child, meta)
		}
	}
	return Event{}, errors.New("decoded calendar holds no event")
}

// scanIdentity pulls UID and RECURRENCE-ID straight from the raw lines.
// The corruption breaker needs these even for events past the retention
// cap, where the full decode is skipped.
func scanIdentity(lines []string) (uid, rid string) {
	for _, ln := range lines {
		name, value := splitProp(ln)
		switch name {
		case ical.PropUID:
			uid = value
		case ical.PropRecurrenceID:
			rid = value
		}
	}
	return uid, rid
}

// splitVerb recognizes BEGIN/END lines. Names are case-insensitive on the
// wire even though well-behaved feeds upper-case them.
func splitVerb(line string) (verb, target string, ok bool) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return "", "", false
	}
	verb = strings.ToUpper(strings.TrimSpace(line[:i]))
	if verb != "BEGIN" && verb != "END" {
		return "", "", false
	}
	return verb, strings.ToUpper(strings.TrimSpace(line[i+1:])), true
}

// splitProp returns the upper-cased property name (parameters stripped)
// and the raw value after the first colon.
func splitProp(line string) (name, value string) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return strings.ToUpper(strings.TrimSpace(line)), ""
	}
	name = line[:colon]
	if semi := strings.IndexByte(name, ';'); semi >= 0 {
		name = name[:semi]
	}
	return strings.ToUpper(strings.TrimSpace(name)), line[colon+1:]
}

// unescapeText undoes RFC 5545 TEXT escaping for calendar-level values.
// Event properties go through go-ical, which handles this itself.
func unescapeText(v string) string {
	if !strings.ContainsRune(v, '\\') {
		return v
	}
	var sb strings.Builder
	sb.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c != '\\' || i == len(v)-1 {
			sb.WriteByte(c)
			continue
		}
		i++
		switch v[i] {
		case 'n', 'N':
			sb.WriteByte('\n')
		case '\\', ';', ',':
			sb.WriteByte(v[i])
		default:
			sb.WriteByte('\\')
			sb.WriteByte(v[i])
		}
	}
	return sb.String()
}
