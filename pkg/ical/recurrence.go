package ical

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/teambition/rrule-go"
)

// ErrRRuleParse wraps rule-text errors so callers can classify them without
// string matching.
var ErrRRuleParse = errors.New("ical: malformed recurrence rule")

// infiniteRuleLookback clamps expansion of unbounded rules. An infinite
// rule anchored years in the past must not spend the occurrence cap on
// history before it ever reaches the present.
const infiniteRuleLookback = 7 * 24 * time.Hour

// ExpanderConfig bounds a single rule expansion. Zero fields take defaults.
type ExpanderConfig struct {
	// ExpansionDays is the horizon ahead of "now" to expand into.
	ExpansionDays  int
	MaxOccurrences int
	// TimeBudget is per rule, measured against the real clock.
	TimeBudget time.Duration
	// YieldEvery is how many scanned occurrences pass between cooperative
	// yields. Expansion is CPU-bound; without the yield a pathological
	// rule starves the handlers sharing the scheduler.
	YieldEvery int
	// ExDateTolerance absorbs round-trip imprecision when matching an
	// occurrence against EXDATE or override instants.
	ExDateTolerance time.Duration
}

func DefaultExpanderConfig() ExpanderConfig {
	return ExpanderConfig{
		ExpansionDays:   365,
		MaxOccurrences:  250,
		TimeBudget:      200 * time.Millisecond,
		YieldEvery:      50,
		ExDateTolerance: time.Minute,
	}
}

func (c ExpanderConfig) withDefaults() ExpanderConfig {
	def := DefaultExpanderConfig()
	if c.ExpansionDays <= 0 {
		c.ExpansionDays = def.ExpansionDays
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = def.MaxOccurrences
	}
	if c.TimeBudget <= 0 {
		c.TimeBudget = def.TimeBudget
	}
	if c.YieldEvery <= 0 {
		c.YieldEvery = def.YieldEvery
	}
	if c.ExDateTolerance <= 0 {
		c.ExDateTolerance = def.ExDateTolerance
	}
	return c
}

// Expansion is the outcome of expanding one recurring master. Partial
// results are kept when a limit fires; the flags say which one did.
type Expansion struct {
	Instances []Event
	// Truncated: the occurrence cap was reached.
	Truncated bool
	// Exhausted: the time budget ran out mid-scan.
	Exhausted bool
}

// Expander turns recurring masters into concrete instance events. It is
// stateless and safe for concurrent use; the caller decides how many
// expansions run in parallel.
type Expander struct {
	cfg ExpanderConfig
}

func NewExpander(cfg ExpanderConfig) *Expander {
	return &Expander{cfg: cfg.withDefaults()}
}

// Expand produces the instances of master that start inside
// [expandFrom, now + ExpansionDays]. For finite rules expandFrom is the
// master start; for infinite rules it is clamped to now minus a short
// lookback. overrides carries the original instants of RECURRENCE-ID
// events so the unmodified occurrence is not emitted alongside them.
func (x *Expander) Expand(ctx context.Context, master *Event, now time.Time, overrides []time.Time) (Expansion, error) {
	var out Expansion
	if master.RRule == "" && len(master.RDates) == 0 {
		return out, nil
	}

	horizon := now.Add(time.Duration(x.cfg.ExpansionDays) * 24 * time.Hour)
	expandFrom := master.Start.UTC()
	deadline := time.Now().Add(x.cfg.TimeBudget)

	if master.RRule != "" {
		rule, err := rrule.StrToRRule(dtstartLine(master.Start) + "\nRRULE:" + master.RRule)
		if err != nil {
			return out, fmt.Errorf("%w: %s", ErrRRuleParse, err)
		}
		if isInfinite(rule) {
			if clamp := now.Add(-infiniteRuleLookback); clamp.After(expandFrom) {
				expandFrom = clamp
			}
		}

		next := rule.Iterator()
		scanned := 0
		for {
			occ, ok := next()
			if !ok {
				break
			}
			scanned++
			if scanned%x.cfg.YieldEvery == 0 {
				if err := ctx.Err(); err != nil {
					return out, err
				}
				runtime.Gosched()
				if time.Now().After(deadline) {
					out.Exhausted = true
					return out, nil
				}
			}
			if occ.After(horizon) {
				break
			}
			if occ.UTC().Before(expandFrom) {
				continue
			}
			if x.suppressed(occ, master.ExDates, overrides) {
				continue
			}
			out.Instances = append(out.Instances, x.instance(master, occ))
			if len(out.Instances) >= x.cfg.MaxOccurrences {
				out.Truncated = true
				return out, nil
			}
		}
	}

	// RDATE occurrences ride along under the same window and caps.
	for _, occ := range master.RDates {
		if occ.UTC().Before(expandFrom) || occ.After(horizon) {
			continue
		}
		if x.suppressed(occ, master.ExDates, overrides) {
			continue
		}
		if sameInstant(occ, master.Start.Wall, x.cfg.ExDateTolerance) {
			continue
		}
		out.Instances = append(out.Instances, x.instance(master, occ))
		if len(out.Instances) >= x.cfg.MaxOccurrences {
			out.Truncated = true
			return out, nil
		}
	}

	return out, nil
}

func (x *Expander) suppressed(occ time.Time, exDates, overrides []time.Time) bool {
	for _, ex := range exDates {
		if sameInstant(occ, ex, x.cfg.ExDateTolerance) {
			return true
		}
	}
	for _, ov := range overrides {
		if sameInstant(occ, ov, x.cfg.ExDateTolerance) {
			return true
		}
	}
	return false
}

func (x *Expander) instance(master *Event, occ time.Time) Event {
	inst := *master.Clone()
	dur := master.Duration()

	inst.ID = InstanceID(master.UID, occ)
	inst.Start = EventTime{Wall: occ, Zone: master.Start.Zone}
	inst.End = EventTime{Wall: occ.Add(dur), Zone: master.End.Zone}
	inst.IsExpandedInstance = true
	inst.RRuleMasterUID = master.UID
	inst.IsRecurring = false
	inst.RRule = ""
	inst.RDates = nil
	inst.ExDates = nil
	inst.RecurrenceID = nil
	return inst
}

// sameInstant compares absolute times with a tolerance, so EXDATE values
// that survived a serialization round trip still match their occurrence.
func sameInstant(a, b time.Time, tol time.Duration) bool {
	d := a.UTC().Sub(b.UTC())
	if d < 0 {
		d = -d
	}
	return d <= tol
}

// dtstartLine renders the master start the way rrule-go wants its anchor.
// Zone names the resolver produced from offset labels are not loadable, so
// those fall back to the UTC form; fixed offsets have no DST and lose
// nothing in the translation.
func dtstartLine(start EventTime) string {
	zone := start.Zone
	if zone == "" || zone == "UTC" {
		return "DTSTART:" + start.UTC().Format(layoutUTCTime)
	}
	if _, err := time.LoadLocation(zone); err != nil {
		return "DTSTART:" + start.UTC().Format(layoutUTCTime)
	}
	return "DTSTART;TZID=" + zone + ":" + start.Wall.Format(layoutLocalTime)
}

func isInfinite(rule *rrule.RRule) bool {
	return rule.OrigOptions.Count == 0 && rule.OrigOptions.Until.IsZero()
}
