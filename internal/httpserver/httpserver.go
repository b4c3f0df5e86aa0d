// Package httpserver assembles the assistant: configuration in, a
// listening HTTP server plus the background refresh loop out.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/voicecal/internal/auth"
	"github.com/sonroyaalmerol/voicecal/internal/cache"
	"github.com/sonroyaalmerol/voicecal/internal/clock"
	"github.com/sonroyaalmerol/voicecal/internal/config"
	"github.com/sonroyaalmerol/voicecal/internal/fetch"
	"github.com/sonroyaalmerol/voicecal/internal/health"
	"github.com/sonroyaalmerol/voicecal/internal/pipeline"
	"github.com/sonroyaalmerol/voicecal/internal/refresh"
	"github.com/sonroyaalmerol/voicecal/internal/router"
	"github.com/sonroyaalmerol/voicecal/internal/skipstore"
	"github.com/sonroyaalmerol/voicecal/internal/skipstore/memory"
	"github.com/sonroyaalmerol/voicecal/internal/skipstore/postgres"
	"github.com/sonroyaalmerol/voicecal/internal/skipstore/sqlite"
	"github.com/sonroyaalmerol/voicecal/internal/voice"
	"github.com/sonroyaalmerol/voicecal/internal/window"
	"github.com/sonroyaalmerol/voicecal/pkg/ical"
)

type Server struct {
	http      *http.Server
	scheduler *refresh.Scheduler
	logger    zerolog.Logger

	refreshCancel context.CancelFunc
	refreshDone   chan struct{}
}

func NewServer(cfg *config.Config, logger zerolog.Logger) (*Server, func(), error) {
	clk, err := clock.FromEnv(cfg.TestTime)
	if err != nil {
		return nil, nil, err
	}
	if cfg.TestTime != "" {
		logger.Warn().Str("test_time", cfg.TestTime).Msg("clock pinned, refresh loop will not re-fire")
	}

	tz, err := ical.NewTimezoneResolver(cfg.DefaultTimezone)
	if err != nil {
		return nil, nil, err
	}

	skips, err := newSkipStore(cfg.SkipStore, clk, logger)
	if err != nil {
		return nil, nil, err
	}

	tracker := health.NewTracker(clk, cfg.RefreshInterval)
	client := fetch.NewClient(clk, logger)
	orch := fetch.NewOrchestrator(cfg.Fetch, client, tracker, clk, logger)

	parser := ical.NewParser(ical.ParserConfig{
		Timezones: tz,
		UserEmail: cfg.UserEmail,
		Status:    ical.NewStatusMapper(cfg.FollowUpPrefixes...),
		Logger:    logger,
	})
	expander := ical.NewExpander(ical.ExpanderConfig{
		ExpansionDays:   cfg.Expansion.Days,
		MaxOccurrences:  cfg.Expansion.MaxOccurrences,
		TimeBudget:      cfg.Expansion.TimeBudget,
		YieldEvery:      cfg.Expansion.YieldEvery,
		ExDateTolerance: cfg.Expansion.ExDateTolerance,
	})
	merger := ical.NewMerger(cfg.Expansion.ExDateTolerance)

	pub := window.NewPublisher()
	prio := window.NewPrioritizer(cfg.FocusPrefixes...)

	// The parameterized response cache is a production optimization;
	// development runs recompute every answer so changes show up
	// immediately.
	var responses *cache.Responses
	if cfg.Production {
		responses, err = cache.NewResponses(cache.DefaultCapacity)
		if err != nil {
			skips.Close()
			client.Close()
			return nil, nil, err
		}
	}
	voiceSvc := voice.NewService(pub, prio, tz, clk, tracker, responses, logger)

	scheduler := refresh.NewScheduler(cfg, orch,
		pipeline.PerSource(parser, expander, merger, cfg.Expansion.Workers, logger),
		pipeline.PostProcess(logger),
		pub, voiceSvc, skips, tracker, clk, logger)

	handler := router.New(voiceSvc, pub, skips, tracker,
		auth.NewBearer(cfg.BearerToken, logger), logger)

	srv := &Server{
		http: &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		scheduler: scheduler,
		logger:    logger,
	}
	cleanup := func() {
		client.Close()
		if err := skips.Close(); err != nil {
			logger.Warn().Err(err).Msg("skip store close failed")
		}
	}
	logger.Info().
		Str("addr", cfg.HTTP.Addr).
		Int("sources", len(cfg.Sources)).
		Str("skip_store", cfg.SkipStore.Type).
		Bool("production", cfg.Production).
		Msg("server assembled")
	return srv, cleanup, nil
}

func newSkipStore(cfg config.SkipStoreConfig, clk clock.Clock, logger zerolog.Logger) (skipstore.Store, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(clk), nil
	case "sqlite":
		return sqlite.New(cfg.SQLitePath, clk, logger)
	case "postgres":
		return postgres.New(cfg.PostgresURL, clk, logger)
	default:
		return nil, errors.New("unknown skip store type: " + cfg.Type)
	}
}

// Start launches the refresh loop and then serves HTTP. It blocks until
// the listener fails or Shutdown runs.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.refreshCancel = cancel
	s.refreshDone = make(chan struct{})
	go func() {
		defer close(s.refreshDone)
		s.scheduler.Run(ctx)
	}()

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the listener, then waits for the refresh loop to
// finish its current stage.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	if s.refreshCancel != nil {
		s.refreshCancel()
		select {
		case <-s.refreshDone:
		case <-ctx.Done():
			err = errors.Join(err, ctx.Err())
		}
	}
	return err
}
