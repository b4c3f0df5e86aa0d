package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/voicecal/internal/auth"
	"github.com/sonroyaalmerol/voicecal/internal/cache"
	"github.com/sonroyaalmerol/voicecal/internal/config"
	"github.com/sonroyaalmerol/voicecal/internal/fetch"
	"github.com/sonroyaalmerol/voicecal/internal/health"
	"github.com/sonroyaalmerol/voicecal/internal/pipeline"
	"github.com/sonroyaalmerol/voicecal/internal/refresh"
	"github.com/sonroyaalmerol/voicecal/internal/router"
	"github.com/sonroyaalmerol/voicecal/internal/skipstore/memory"
	"github.com/sonroyaalmerol/voicecal/internal/voice"
	"github.com/sonroyaalmerol/voicecal/internal/window"
	"github.com/sonroyaalmerol/voicecal/pkg/ical"
)

const bearerToken = "integration-test-token"

// 9 AM Pacific, Monday 2025-11-10. Every test pins the clock here so
// spoken times and day names are stable.
var fixedNow = time.Date(2025, 11, 10, 17, 0, 0, 0, time.UTC)

// feed serves an ICS body over HTTP and counts fetches.
type feed struct {
	srv  *httptest.Server
	body atomic.Pointer[string]
	hits atomic.Int64
	fail atomic.Bool
}

func newFeed(t *testing.T, ics string) *feed {
	t.Helper()
	f := &feed{}
	f.body.Store(&ics)
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		if f.fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		_, _ = w.Write([]byte(*f.body.Load()))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *feed) set(ics string) { f.body.Store(&ics) }

// stack is the full assistant wired together: fetch, pipeline, window,
// voice service, skip store and router, served over a real listener.
type stack struct {
	base    string
	sched   *refresh.Scheduler
	pub     *window.Publisher
	skips   *memory.Store
	tracker *health.Tracker
	clk     clockwork.Clock
}

func newStack(t *testing.T, feedURL string) *stack {
	t.Helper()
	log := zerolog.Nop()
	clk := clockwork.NewFakeClockAt(fixedNow)

	cfg := &config.Config{
		Sources:         []config.Source{{ID: "primary", URL: feedURL, Timeout: 5 * time.Second}},
		RefreshInterval: 300 * time.Second,
		Fetch: config.FetchConfig{
			Concurrency:    2,
			GlobalDeadline: 30 * time.Second,
			RequestTimeout: 5 * time.Second,
			MaxRetries:     0,
			BackoffFactor:  1.5,
		},
		Expansion: config.ExpansionConfig{
			Days:            30,
			TimeBudget:      200 * time.Millisecond,
			MaxOccurrences:  250,
			YieldEvery:      50,
			Workers:         1,
			ExDateTolerance: time.Minute,
		},
		WindowSize:      50,
		DefaultTimezone: "America/Los_Angeles",
		BearerToken:     bearerToken,
	}

	tz, err := ical.NewTimezoneResolver(cfg.DefaultTimezone)
	require.NoError(t, err)
	parser := ical.NewParser(ical.ParserConfig{Timezones: tz, Logger: log})
	expander := ical.NewExpander(ical.ExpanderConfig{
		ExpansionDays:   cfg.Expansion.Days,
		MaxOccurrences:  cfg.Expansion.MaxOccurrences,
		TimeBudget:      cfg.Expansion.TimeBudget,
		YieldEvery:      cfg.Expansion.YieldEvery,
		ExDateTolerance: cfg.Expansion.ExDateTolerance,
	})
	merger := ical.NewMerger(cfg.Expansion.ExDateTolerance)

	tracker := health.NewTracker(clk, cfg.RefreshInterval)
	client := fetch.NewClient(clk, log)
	t.Cleanup(client.Close)
	orch := fetch.NewOrchestrator(cfg.Fetch, client, tracker, clk, log)

	pub := window.NewPublisher()
	responses, err := cache.NewResponses(cache.DefaultCapacity)
	require.NoError(t, err)
	voiceSvc := voice.NewService(pub, window.NewPrioritizer(), tz, clk, tracker, responses, log)

	skips := memory.New(clk)
	sched := refresh.NewScheduler(cfg, orch,
		pipeline.PerSource(parser, expander, merger, cfg.Expansion.Workers, log),
		pipeline.PostProcess(log),
		pub, voiceSvc, skips, tracker, clk, log)

	handler := router.New(voiceSvc, pub, skips, tracker,
		auth.NewBearer(cfg.BearerToken, log), log)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &stack{base: srv.URL, sched: sched, pub: pub, skips: skips, tracker: tracker, clk: clk}
}

func (s *stack) refresh(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.sched.RunOnce(ctx)
}

// get performs a request against the running stack. An empty token
// sends no Authorization header.
func (s *stack) get(t *testing.T, method, path, token string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.base+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func decodeJSON(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	return m
}
