package voice

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkupBuilderBasics(t *testing.T) {
	out, err := NewMarkup().
		Text("Your next meeting is ").
		Emphasis("moderate").Text("Standup").End().
		Break(300).
		Text(" in 5 minutes.").
		Build()
	require.NoError(t, err)
	assert.Equal(t,
		`<speak>Your next meeting is <emphasis level="moderate">Standup</emphasis><break time="300ms"/> in 5 minutes.</speak>`,
		out)
}

func TestMarkupBuilderEscapesText(t *testing.T) {
	out, err := NewMarkup().Text(`Q&A <review> "draft"`).Build()
	require.NoError(t, err)
	assert.Contains(t, out, "Q&amp;A &lt;review&gt; &quot;draft&quot;")
	assert.NotContains(t, out, "<review>")
}

func TestMarkupBuilderRejectsUnbalanced(t *testing.T) {
	_, err := NewMarkup().Prosody("fast", "").Text("hi").Build()
	assert.Error(t, err)

	_, err = NewMarkup().Text("hi").End().Build()
	assert.Error(t, err)
}

func TestMarkupBuilderRejectsBadBreak(t *testing.T) {
	_, err := NewMarkup().Break(-1).Build()
	assert.Error(t, err)
	_, err = NewMarkup().Break(60000).Build()
	assert.Error(t, err)
}

func TestMarkupBuilderLengthCap(t *testing.T) {
	_, err := NewMarkup().Text(strings.Repeat("a", MaxMarkupLen)).Build()
	assert.Error(t, err)
}

func TestSpeechMarkupUrgency(t *testing.T) {
	imminent := SpeechMarkup("Standup in 2 minutes.", UrgencyImminent)
	assert.Contains(t, imminent, `<prosody rate="fast" pitch="+10%">`)
	assert.Contains(t, imminent, "<emphasis")

	calm := SpeechMarkup("Board meeting tomorrow at 9 AM.", UrgencyNone)
	assert.Equal(t, "<speak>Board meeting tomorrow at 9 AM.</speak>", calm)
}

func TestSpeechMarkupOverlongFallsBack(t *testing.T) {
	assert.Empty(t, SpeechMarkup(strings.Repeat("meeting ", 100), UrgencySoon))
}

func TestUrgencyFor(t *testing.T) {
	assert.Equal(t, UrgencyImminent, UrgencyFor(-30))
	assert.Equal(t, UrgencyImminent, UrgencyFor(120))
	assert.Equal(t, UrgencySoon, UrgencyFor(900))
	assert.Equal(t, UrgencyNone, UrgencyFor(7200))
}

// Any text, any urgency: the renderer either emits well-capped markup or
// nothing at all, never an oversized or unwrapped string.
func TestSpeechMarkupProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	properties.Property("markup is capped and wrapped or empty", prop.ForAll(
		func(text string, urgency int) bool {
			out := SpeechMarkup(text, Urgency(urgency%3))
			if out == "" {
				return true
			}
			return len(out) <= MaxMarkupLen &&
				strings.HasPrefix(out, "<speak>") &&
				strings.HasSuffix(out, "</speak>")
		},
		gen.AnyString(),
		gen.IntRange(0, 2),
	))
	properties.TestingRun(t)
}
