// Package refresh drives the background loop that keeps the event
// window current: fetch every source, run the per-source and
// post-processing pipelines, publish, then precompute voice answers.
package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/voicecal/internal/clock"
	"github.com/sonroyaalmerol/voicecal/internal/config"
	"github.com/sonroyaalmerol/voicecal/internal/fetch"
	"github.com/sonroyaalmerol/voicecal/internal/health"
	"github.com/sonroyaalmerol/voicecal/internal/pipeline"
	"github.com/sonroyaalmerol/voicecal/internal/skipstore"
	"github.com/sonroyaalmerol/voicecal/internal/voice"
	"github.com/sonroyaalmerol/voicecal/internal/window"
	"github.com/sonroyaalmerol/voicecal/pkg/ical"
)

// skipRetention is how long a dismissed instance id outlives its event
// before cleanup reclaims the row.
const skipRetention = 30 * 24 * time.Hour

// Scheduler owns the refresh loop. One instance runs per process; Run
// blocks until the context is cancelled.
type Scheduler struct {
	cfg       *config.Config
	orch      *fetch.Orchestrator
	perSource *pipeline.Pipeline
	post      *pipeline.Pipeline
	pub       *window.Publisher
	voice     *voice.Service
	skips     skipstore.Store
	health    *health.Tracker
	clk       clock.Clock
	log       zerolog.Logger
}

func NewScheduler(
	cfg *config.Config,
	orch *fetch.Orchestrator,
	perSource *pipeline.Pipeline,
	post *pipeline.Pipeline,
	pub *window.Publisher,
	voiceSvc *voice.Service,
	skips skipstore.Store,
	tracker *health.Tracker,
	clk clock.Clock,
	log zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		orch:      orch,
		perSource: perSource,
		post:      post,
		pub:       pub,
		voice:     voiceSvc,
		skips:     skips,
		health:    tracker,
		clk:       clk,
		log:       log,
	}
}

// Run executes one cycle immediately, then one per refresh interval
// until ctx is cancelled. A cycle in progress finishes its current stage
// before the loop exits; nothing persistent exists outside the window,
// so there is no torn state to repair.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().
		Dur("interval", s.cfg.RefreshInterval).
		Int("sources", len(s.cfg.Sources)).
		Msg("refresh scheduler started")

	s.RunOnce(ctx)

	timer := s.clk.NewTimer(s.cfg.RefreshInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("refresh scheduler stopped")
			return
		case <-timer.Chan():
			s.RunOnce(ctx)
			timer.Reset(s.cfg.RefreshInterval)
		}
	}
}

// RunOnce performs a single refresh cycle. It is exposed for startup
// (the first window should exist before the listener opens) and tests.
func (s *Scheduler) RunOnce(ctx context.Context) {
	cycle := uuid.NewString()[:8]
	log := s.log.With().Str("cycle", cycle).Logger()
	now := s.clk.Now()

	s.health.RecordAttempt()
	defer s.health.RecordHeartbeat()

	results := s.orch.FetchAll(ctx, s.cfg.Sources)

	skipped, err := s.skips.SkippedIDs(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("skip store read failed, refreshing without skips")
		skipped = nil
	}

	report := window.CycleReport{SourcesTotal: len(results)}
	var batches [][]ical.Event
	for _, res := range results {
		if res.Err != nil {
			report.SourcesFailed++
			continue
		}
		pc := &pipeline.Context{
			Now:       now,
			SourceID:  res.Source.ID,
			SourceURL: res.Source.URL,
			UserEmail: s.cfg.UserEmail,
			Raw:       res.Response.Body,
		}
		out := s.perSource.Run(ctx, pc)
		s.health.RecordParseWarnings(len(out.Warnings))
		if !out.Success {
			report.SourcesFailed++
			log.Warn().
				Str("source", res.Source.ID).
				Str("stage", out.Halted).
				Msg("per-source pipeline failed")
			continue
		}
		batches = append(batches, pc.Events)
	}

	post := &pipeline.Context{
		Now:         now,
		WindowStart: now,
		WindowEnd:   now.AddDate(0, 0, s.cfg.Expansion.Days),
		WindowLimit: s.cfg.WindowSize,
		UserEmail:   s.cfg.UserEmail,
		Skipped:     skipped,
		Batches:     batches,
	}
	outcome := s.post.Run(ctx, post)
	if !outcome.Success {
		s.health.RecordDegraded(fmt.Sprintf("post-processing halted at %s", outcome.Halted))
		log.Error().Str("stage", outcome.Halted).Msg("post-processing pipeline failed, window preserved")
		return
	}

	snap, published := s.pub.Publish(post.Events, report, now)
	if !published {
		s.health.RecordDegraded(fmt.Sprintf("%d/%d sources failed, previous window preserved",
			report.SourcesFailed, report.SourcesTotal))
		log.Warn().
			Int("sources_failed", report.SourcesFailed).
			Int("sources_total", report.SourcesTotal).
			Uint64("window_version", snap.Version).
			Msg("suspicious empty refresh, previous window preserved")
		return
	}

	s.precompute(ctx, snap, log)
	s.voice.InvalidateCache()

	if report.SourcesFailed > 0 {
		s.health.RecordPartial(len(snap.Events), snap.Version,
			fmt.Sprintf("%d/%d sources failed", report.SourcesFailed, report.SourcesTotal))
	} else {
		s.health.RecordSuccess(len(snap.Events), snap.Version)
	}

	s.cleanupSkips(ctx, now, log)

	log.Info().
		Int("events", len(snap.Events)).
		Uint64("window_version", snap.Version).
		Int("sources_failed", report.SourcesFailed).
		Strs("warnings", truncateWarnings(outcome.Warnings, 5)).
		Msg("window published")
}

// precompute builds the canned voice answers for the snapshot just
// published. Handlers racing it simply compute their answer on demand.
func (s *Scheduler) precompute(ctx context.Context, snap *window.Snapshot, log zerolog.Logger) {
	pre := pipeline.Precompute(log, s.voice.PrecomputeStage(snap))
	pc := &pipeline.Context{
		Now:           s.clk.Now(),
		WindowVersion: snap.Version,
		Events:        snap.Events,
		Extra:         make(map[string]any),
	}
	out := pre.Run(ctx, pc)
	if !out.Success {
		log.Warn().Str("stage", out.Halted).Msg("precompute pipeline failed")
		return
	}
	if p, ok := pc.Extra[pipeline.ExtraPrecomputed].(*window.Precomputed); ok {
		snap.AttachPrecomputed(p)
	}
}

func (s *Scheduler) cleanupSkips(ctx context.Context, now time.Time, log zerolog.Logger) {
	n, err := s.skips.Cleanup(ctx, now.Add(-skipRetention))
	if err != nil {
		log.Warn().Err(err).Msg("skip store cleanup failed")
		return
	}
	if n > 0 {
		log.Debug().Int64("removed", n).Msg("skip store cleaned up")
	}
}

func truncateWarnings(warnings []string, max int) []string {
	if len(warnings) <= max {
		return warnings
	}
	out := append([]string(nil), warnings[:max]...)
	out = append(out, fmt.Sprintf("and %d more", len(warnings)-max))
	return out
}
