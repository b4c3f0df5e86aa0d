package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/sonroyaalmerol/voicecal/internal/pipeline"
	"github.com/sonroyaalmerol/voicecal/internal/window"
)

// precomputedIntents are the answers worth building at refresh time:
// parameter-free under the default zone and requested constantly.
var precomputedIntents = map[string]bool{
	"next-meeting":    true,
	"time-until-next": true,
	"done-for-day":    true,
	"launch":          true,
	"morning-summary": true,
}

// BuildPrecomputed computes the canned answers for snap. Failures skip
// the individual answer; a miss at request time just means the handler
// computes it, so precomputation never has to be complete.
func (s *Service) BuildPrecomputed(ctx context.Context, snap *window.Snapshot) *window.Precomputed {
	now := s.clk.Now()
	pre := &window.Precomputed{
		Version: snap.Version,
		BuiltAt: now,
		ByName:  make(map[string]window.PrecomputedResponse),
	}

	for _, it := range Intents() {
		if ctx.Err() != nil {
			break
		}
		if !precomputedIntents[it.Name] {
			continue
		}

		query := url.Values{}
		name := it.Name
		if it.Name == "morning-summary" {
			// The canned summary covers the next morning; today's
			// version would be stale by the time anyone asks for it.
			query.Set("date", "tomorrow")
			name = MorningSummaryName(resolveSummaryDate("tomorrow", now.In(s.tz.Default())))
		}

		params, err := ValidateParams(it.Params, query, s.resolvableZone)
		if err != nil {
			s.log.Warn().Err(err).Str("intent", it.Name).Msg("precompute params rejected")
			continue
		}
		resp, err := it.Compute(s, &Request{
			Params:   params,
			Snap:     snap,
			Now:      now,
			WithSSML: true,
		})
		if err != nil {
			s.log.Warn().Err(err).Str("intent", it.Name).Msg("precompute failed")
			continue
		}
		body, err := json.Marshal(resp)
		if err != nil {
			s.log.Warn().Err(err).Str("intent", it.Name).Msg("precompute marshal failed")
			continue
		}
		ssml, _ := resp["ssml"].(string)
		pre.ByName[name] = window.PrecomputedResponse{Body: body, SSML: ssml}
	}
	return pre
}

// PrecomputeStage adapts BuildPrecomputed to the pipeline's precompute
// topology, depositing the result under the well-known Extra key.
func (s *Service) PrecomputeStage(snap *window.Snapshot) func(context.Context, *pipeline.Context) pipeline.StageResult {
	return func(ctx context.Context, pc *pipeline.Context) pipeline.StageResult {
		pre := s.BuildPrecomputed(ctx, snap)
		if pc.Extra == nil {
			pc.Extra = make(map[string]any)
		}
		pc.Extra[pipeline.ExtraPrecomputed] = pre

		res := pipeline.StageResult{Success: true, EventsIn: len(snap.Events), EventsOut: len(snap.Events)}
		if want := countPrecomputed(); len(pre.ByName) < want {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("precomputed %d of %d responses", len(pre.ByName), want))
		}
		return res
	}
}

func countPrecomputed() int {
	n := 0
	for _, enabled := range precomputedIntents {
		if enabled {
			n++
		}
	}
	return n
}
