package voice

import (
	"fmt"
	"strings"
)

// MaxMarkupLen caps rendered speech markup. Voice platforms truncate or
// reject oversized SSML; beyond this we drop markup and let the plain
// speech text carry the answer.
const MaxMarkupLen = 500

// Urgency drives prosody: the closer a meeting, the brisker the voice.
type Urgency int

const (
	UrgencyNone Urgency = iota
	UrgencySoon         // within 30 minutes
	UrgencyImminent     // within 5 minutes or already running
)

// UrgencyFor buckets a countdown. Negative means in progress.
func UrgencyFor(secondsUntil int64) Urgency {
	switch {
	case secondsUntil <= 300:
		return UrgencyImminent
	case secondsUntil <= 1800:
		return UrgencySoon
	default:
		return UrgencyNone
	}
}

// MarkupBuilder assembles SSML from the allowed tag subset: speak,
// prosody, emphasis, break. Text nodes are XML-escaped; Build validates
// nesting and the length cap, so handlers can trust a returned string.
type MarkupBuilder struct {
	sb    strings.Builder
	open  []string
	fail  error
	built bool
}

func NewMarkup() *MarkupBuilder {
	b := &MarkupBuilder{}
	b.sb.WriteString("<speak>")
	b.open = append(b.open, "speak")
	return b
}

func (b *MarkupBuilder) Text(s string) *MarkupBuilder {
	b.sb.WriteString(escapeXML(s))
	return b
}

// Prosody opens a prosody element. Empty rate or pitch are omitted.
func (b *MarkupBuilder) Prosody(rate, pitch string) *MarkupBuilder {
	b.sb.WriteString("<prosody")
	if rate != "" {
		fmt.Fprintf(&b.sb, " rate=%q", rate)
	}
	if pitch != "" {
		fmt.Fprintf(&b.sb, " pitch=%q", pitch)
	}
	b.sb.WriteString(">")
	b.open = append(b.open, "prosody")
	return b
}

func (b *MarkupBuilder) Emphasis(level string) *MarkupBuilder {
	b.sb.WriteString("<emphasis")
	if level != "" {
		fmt.Fprintf(&b.sb, " level=%q", level)
	}
	b.sb.WriteString(">")
	b.open = append(b.open, "emphasis")
	return b
}

// Break inserts a pause. SSML allows only self-closing break elements.
func (b *MarkupBuilder) Break(ms int) *MarkupBuilder {
	if ms < 0 || ms > 10000 {
		b.fail = fmt.Errorf("break duration %dms out of range", ms)
		return b
	}
	fmt.Fprintf(&b.sb, `<break time="%dms"/>`, ms)
	return b
}

// End closes the innermost open element. Closing speak itself is Build's
// job; doing it here is an error.
func (b *MarkupBuilder) End() *MarkupBuilder {
	if len(b.open) <= 1 {
		b.fail = fmt.Errorf("unbalanced markup: end without open element")
		return b
	}
	tag := b.open[len(b.open)-1]
	b.open = b.open[:len(b.open)-1]
	fmt.Fprintf(&b.sb, "</%s>", tag)
	return b
}

// Build closes the speak envelope and validates the result. An empty
// string with a non-nil error means the caller should fall back to plain
// speech text.
func (b *MarkupBuilder) Build() (string, error) {
	if b.built {
		return "", fmt.Errorf("markup built twice")
	}
	b.built = true
	if b.fail != nil {
		return "", b.fail
	}
	if len(b.open) != 1 {
		return "", fmt.Errorf("unbalanced markup: %d unclosed elements", len(b.open)-1)
	}
	b.sb.WriteString("</speak>")
	out := b.sb.String()
	if len(out) > MaxMarkupLen {
		return "", fmt.Errorf("markup length %d exceeds %d", len(out), MaxMarkupLen)
	}
	return out, nil
}

func escapeXML(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}

// SpeechMarkup renders text with urgency-appropriate prosody. Imminent
// answers speak faster and slightly higher; calm answers stay flat. The
// empty string means markup could not be produced and only speech text
// should ship.
func SpeechMarkup(text string, urgency Urgency) string {
	b := NewMarkup()
	switch urgency {
	case UrgencyImminent:
		b.Prosody("fast", "+10%").Emphasis("moderate").Text(text).End().End()
	case UrgencySoon:
		b.Prosody("medium", "").Text(text).End()
	default:
		b.Text(text)
	}
	out, err := b.Build()
	if err != nil {
		return ""
	}
	return out
}
