// Package pipeline runs ordered stages over a batch of calendar events.
// Three topologies exist: per-source (parse through sort), post-processing
// (combine through limit) and precompute. Stages mutate the shared Context
// and report per-stage results; a failed stage halts its pipeline.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/voicecal/pkg/ical"
)

// ExtraPrecomputed is the Context.Extra key under which the precompute
// topology deposits its *window.Precomputed value.
const ExtraPrecomputed = "precomputed_responses"

// Context carries one batch of events through a run together with the
// window parameters the stages need.
type Context struct {
	Now         time.Time
	WindowStart time.Time
	WindowEnd   time.Time
	WindowLimit int

	// WindowVersion is the published version a precompute run builds
	// against.
	WindowVersion uint64

	// Source identity, set for per-source runs.
	SourceID  string
	SourceURL string

	UserEmail string

	// Skipped holds instance ids the user dismissed.
	Skipped map[string]struct{}

	// Raw is the fetched ICS payload consumed by the parse stage.
	Raw []byte

	// Events is the working set handed from stage to stage. Expanded
	// holds recurrence instances between the expand and merge stages.
	// Batches holds per-source outputs for the combine stage.
	Events   []ical.Event
	Expanded []ical.Event
	Batches  [][]ical.Event

	// Extra receives precompute deposits keyed by stage.
	Extra map[string]any
}

// StageResult reports what one stage did to the batch.
type StageResult struct {
	Stage          string
	Success        bool
	EventsIn       int
	EventsOut      int
	EventsFiltered int
	Warnings       []string
	Err            error
}

// Stage is one step of a pipeline. Process mutates pc and reports what
// happened; returning Success=false halts the run.
type Stage interface {
	Name() string
	Process(ctx context.Context, pc *Context) StageResult
}

// StageFunc adapts a plain function to the Stage interface.
type StageFunc struct {
	name string
	fn   func(context.Context, *Context) StageResult
}

func NewStageFunc(name string, fn func(context.Context, *Context) StageResult) StageFunc {
	return StageFunc{name: name, fn: fn}
}

func (s StageFunc) Name() string { return s.name }

func (s StageFunc) Process(ctx context.Context, pc *Context) StageResult {
	return s.fn(ctx, pc)
}

// Outcome summarizes a full run. Warnings aggregate across stages;
// Halted names the stage that failed, if any.
type Outcome struct {
	Success  bool
	Halted   string
	Results  []StageResult
	Warnings []string
}

// Pipeline runs stages in declared order.
type Pipeline struct {
	name   string
	stages []Stage
	log    zerolog.Logger
}

func New(name string, log zerolog.Logger, stages ...Stage) *Pipeline {
	return &Pipeline{name: name, stages: stages, log: log}
}

func (p *Pipeline) Run(ctx context.Context, pc *Context) Outcome {
	out := Outcome{Success: true}
	for _, st := range p.stages {
		if err := ctx.Err(); err != nil {
			out.Success = false
			out.Halted = st.Name()
			out.Results = append(out.Results, StageResult{Stage: st.Name(), Err: err})
			return out
		}

		res := st.Process(ctx, pc)
		res.Stage = st.Name()
		out.Results = append(out.Results, res)
		out.Warnings = append(out.Warnings, res.Warnings...)

		if !res.Success {
			p.log.Warn().
				Err(res.Err).
				Str("pipeline", p.name).
				Str("stage", res.Stage).
				Msg("pipeline halted")
			out.Success = false
			out.Halted = res.Stage
			return out
		}
		p.log.Debug().
			Str("pipeline", p.name).
			Str("stage", res.Stage).
			Int("in", res.EventsIn).
			Int("out", res.EventsOut).
			Int("warnings", len(res.Warnings)).
			Msg("stage complete")
	}
	return out
}
