package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/sonroyaalmerol/voicecal/pkg/ical"
)

// ParseStage turns pc.Raw into events.
type ParseStage struct {
	parser *ical.Parser
}

func NewParseStage(p *ical.Parser) *ParseStage { return &ParseStage{parser: p} }

func (s *ParseStage) Name() string { return "parse" }

func (s *ParseStage) Process(ctx context.Context, pc *Context) StageResult {
	pr, err := s.parser.Parse(ctx, bytes.NewReader(pc.Raw))
	if err != nil {
		return StageResult{Err: err}
	}
	pc.Events = pr.Events
	res := StageResult{Success: true, EventsOut: len(pc.Events)}
	for _, w := range pr.Warnings {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s (line %d)", w.Code, w.Message, w.Line))
	}
	return res
}

// ExpandStage expands recurring masters into concrete instances inside
// the window. Masters expand in parallel under a small semaphore. A
// master whose rule cannot be expanded is marked ExpansionFailed and
// stays in the batch for diagnostics.
type ExpandStage struct {
	expander *ical.Expander
	workers  int64
}

func NewExpandStage(x *ical.Expander, workers int) *ExpandStage {
	if workers <= 0 {
		workers = 1
	}
	return &ExpandStage{expander: x, workers: int64(workers)}
}

func (s *ExpandStage) Name() string { return "expand" }

func (s *ExpandStage) Process(ctx context.Context, pc *Context) StageResult {
	in := len(pc.Events)
	overrides := ical.OverrideInstants(pc.Events)

	sem := semaphore.NewWeighted(s.workers)
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		expanded   []ical.Event
		warns      []string
		acquireErr error
	)
	for i := range pc.Events {
		ev := &pc.Events[i]
		if !ev.IsRecurring || ev.IsExpandedInstance || ev.RecurrenceID != nil {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			acquireErr = err
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			exp, err := s.expander.Expand(ctx, ev, pc.Now, overrides[ev.UID])
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				ev.ExpansionFailed = true
				warns = append(warns, fmt.Sprintf("expand %s: %v", ev.UID, err))
				return
			}
			if exp.Truncated {
				warns = append(warns, fmt.Sprintf("expand %s: occurrence cap reached", ev.UID))
			}
			if exp.Exhausted {
				warns = append(warns, fmt.Sprintf("expand %s: time budget exhausted", ev.UID))
			}
			expanded = append(expanded, exp.Instances...)
		}()
	}
	wg.Wait()

	if acquireErr != nil {
		return StageResult{EventsIn: in, Err: acquireErr}
	}
	pc.Expanded = expanded
	return StageResult{
		Success:   true,
		EventsIn:  in,
		EventsOut: in + len(expanded),
		Warnings:  warns,
	}
}

// MergeStage folds expanded instances back into the batch, dropping
// instances shadowed by a RECURRENCE-ID override.
type MergeStage struct {
	merger *ical.Merger
}

func NewMergeStage(m *ical.Merger) *MergeStage { return &MergeStage{merger: m} }

func (s *MergeStage) Name() string { return "merge" }

func (s *MergeStage) Process(_ context.Context, pc *Context) StageResult {
	in := len(pc.Events) + len(pc.Expanded)
	pc.Events = s.merger.Combine(pc.Events, pc.Expanded)
	pc.Expanded = nil
	return StageResult{Success: true, EventsIn: in, EventsOut: len(pc.Events)}
}

// DedupeStage removes events sharing the compound identity key.
type DedupeStage struct{}

func (DedupeStage) Name() string { return "dedupe" }

func (DedupeStage) Process(_ context.Context, pc *Context) StageResult {
	in := len(pc.Events)
	pc.Events = ical.Dedupe(pc.Events)
	return StageResult{
		Success:        true,
		EventsIn:       in,
		EventsOut:      len(pc.Events),
		EventsFiltered: in - len(pc.Events),
	}
}

// SortStage orders the batch by start instant.
type SortStage struct{}

func (SortStage) Name() string { return "sort_by_start" }

func (SortStage) Process(_ context.Context, pc *Context) StageResult {
	ical.SortByStart(pc.Events)
	return StageResult{Success: true, EventsIn: len(pc.Events), EventsOut: len(pc.Events)}
}

// CombineStage folds the per-source batches into one start-ordered slice.
type CombineStage struct{}

func (CombineStage) Name() string { return "combine" }

func (CombineStage) Process(_ context.Context, pc *Context) StageResult {
	total := 0
	for _, b := range pc.Batches {
		total += len(b)
	}
	events := make([]ical.Event, 0, total)
	for _, b := range pc.Batches {
		events = append(events, b...)
	}
	ical.SortByStart(events)
	pc.Events = events
	pc.Batches = nil
	return StageResult{Success: true, EventsIn: total, EventsOut: len(events)}
}

// FilterStage drops events that already ended, cancelled events, and
// instances the user skipped.
type FilterStage struct{}

func (FilterStage) Name() string { return "filter" }

func (FilterStage) Process(_ context.Context, pc *Context) StageResult {
	in := len(pc.Events)
	kept := pc.Events[:0]
	for i := range pc.Events {
		ev := &pc.Events[i]
		if !ev.EndsAfter(pc.Now) || ev.IsCancelled {
			continue
		}
		if _, skipped := pc.Skipped[ev.ID]; skipped {
			continue
		}
		kept = append(kept, *ev)
	}
	pc.Events = kept
	return StageResult{
		Success:        true,
		EventsIn:       in,
		EventsOut:      len(kept),
		EventsFiltered: in - len(kept),
	}
}

// WindowStage keeps events overlapping [WindowStart, WindowEnd).
type WindowStage struct{}

func (WindowStage) Name() string { return "time_window" }

func (WindowStage) Process(_ context.Context, pc *Context) StageResult {
	in := len(pc.Events)
	kept := pc.Events[:0]
	for i := range pc.Events {
		ev := &pc.Events[i]
		if !ev.Start.UTC().Before(pc.WindowEnd) || !ev.EndsAfter(pc.WindowStart) {
			continue
		}
		kept = append(kept, *ev)
	}
	pc.Events = kept
	return StageResult{
		Success:        true,
		EventsIn:       in,
		EventsOut:      len(kept),
		EventsFiltered: in - len(kept),
	}
}

// LimitStage caps the batch at WindowLimit events. The slice is already
// start-ordered, so the cap keeps the soonest ones.
type LimitStage struct{}

func (LimitStage) Name() string { return "limit" }

func (LimitStage) Process(_ context.Context, pc *Context) StageResult {
	in := len(pc.Events)
	if pc.WindowLimit > 0 && len(pc.Events) > pc.WindowLimit {
		pc.Events = pc.Events[:pc.WindowLimit:pc.WindowLimit]
	}
	return StageResult{
		Success:        true,
		EventsIn:       in,
		EventsOut:      len(pc.Events),
		EventsFiltered: in - len(pc.Events),
	}
}

// PerSource builds the parse, expand, merge, dedupe, sort topology run
// once per fetched source.
func PerSource(parser *ical.Parser, expander *ical.Expander, merger *ical.Merger, workers int, log zerolog.Logger) *Pipeline {
	return New("per_source", log,
		NewParseStage(parser),
		NewExpandStage(expander, workers),
		NewMergeStage(merger),
		DedupeStage{},
		SortStage{},
	)
}

// PostProcess builds the combine, filter, time window, limit topology
// run over the union of all sources.
func PostProcess(log zerolog.Logger) *Pipeline {
	return New("post_process", log,
		CombineStage{},
		FilterStage{},
		WindowStage{},
		LimitStage{},
	)
}

// Precompute wraps fn as the single-stage topology that deposits voice
// answers into pc.Extra after a publish.
func Precompute(log zerolog.Logger, fn func(context.Context, *Context) StageResult) *Pipeline {
	return New("precompute", log, NewStageFunc("precompute", fn))
}
