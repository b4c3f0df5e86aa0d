// Package voice answers the assistant's intents. Every request follows
// the same lifecycle: validate parameters, read the published window,
// serve a precomputed answer when one fits, fall back to the response
// cache, and only then compute. Computation never touches I/O, so the
// slow path is still bounded by CPU.
package voice

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/voicecal/internal/cache"
	"github.com/sonroyaalmerol/voicecal/internal/clock"
	"github.com/sonroyaalmerol/voicecal/internal/health"
	"github.com/sonroyaalmerol/voicecal/internal/window"
	"github.com/sonroyaalmerol/voicecal/pkg/ical"
)

// Response is one intent's JSON document. Every response carries a
// non-empty speech_text; ssml is additive and may be absent.
type Response map[string]any

// Request is the computed-path input: validated parameters plus the
// window snapshot the answer must be derived from.
type Request struct {
	Params   map[string]any
	Snap     *window.Snapshot
	Now      time.Time
	WithSSML bool
}

// Service wires the intent computations to the window, clock and cache.
type Service struct {
	pub    *window.Publisher
	prio   *window.Prioritizer
	tz     *ical.TimezoneResolver
	clk    clock.Clock
	health *health.Tracker
	cache  *cache.Responses
	log    zerolog.Logger
}

// NewService builds the intent service. responses may be nil, which
// disables the parameterized cache (the precomputed fast path still
// works; it lives on the snapshot, not here).
func NewService(pub *window.Publisher, prio *window.Prioritizer, tz *ical.TimezoneResolver, clk clock.Clock, tracker *health.Tracker, responses *cache.Responses, log zerolog.Logger) *Service {
	return &Service{
		pub:    pub,
		prio:   prio,
		tz:     tz,
		clk:    clk,
		health: tracker,
		cache:  responses,
		log:    log,
	}
}

// InvalidateCache empties the parameterized cache. The refresher calls
// it after every publish; versioned keys make it optional, the purge
// just frees the memory sooner.
func (s *Service) InvalidateCache() {
	if s.cache != nil {
		s.cache.InvalidateAll()
	}
}

func (s *Service) resolvableZone(name string) bool {
	_, ok := s.tz.ResolveStrict(name)
	return ok
}

// locFor resolves the tz parameter, empty meaning the operator default.
func (s *Service) locFor(params map[string]any) *time.Location {
	if v, _ := params["tz"].(string); v != "" {
		return s.tz.Resolve(v)
	}
	return s.tz.Default()
}

// Handler builds the http.HandlerFunc for one intent. ssmlAllowed is
// false for the open (non-voice) variants, which must not emit markup.
func (s *Service) Handler(it Intent, ssmlAllowed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		params, err := ValidateParams(it.Params, r.URL.Query(), s.resolvableZone)
		if err != nil {
			s.health.ObserveVoice(it.Name, "computed", "validation_error", time.Since(started))
			writeJSON(w, http.StatusBadRequest, Response{"error": err.Error()})
			return
		}

		snap := s.pub.Read()
		if snap.Version == 0 {
			s.health.ObserveVoice(it.Name, "computed", "unavailable", time.Since(started))
			writeJSON(w, http.StatusServiceUnavailable, Response{
				"error":       "calendar not loaded yet",
				"speech_text": "I'm still loading your calendar. Try again in a moment.",
			})
			return
		}

		now := s.clk.Now()

		if ssmlAllowed && it.PrecomputeKey != nil {
			if name := it.PrecomputeKey(s, params, now); name != "" {
				if pre, ok := snap.Precomputed(name); ok {
					s.health.ObserveVoice(it.Name, "precomputed", "ok", time.Since(started))
					writeJSONBytes(w, http.StatusOK, pre.Body)
					return
				}
			}
		}

		var key uint64
		if it.Cacheable && s.cache != nil {
			key = cache.Key(cacheHandlerName(it.Name, ssmlAllowed), snap.Version, stringifyParams(params))
			if body, ok := s.cache.Get(key); ok {
				s.health.ObserveVoice(it.Name, "cache", "ok", time.Since(started))
				writeJSONBytes(w, http.StatusOK, body)
				return
			}
		}

		resp, err := it.Compute(s, &Request{
			Params:   params,
			Snap:     snap,
			Now:      now,
			WithSSML: ssmlAllowed,
		})
		if err != nil {
			s.log.Error().Err(err).Str("intent", it.Name).Msg("intent computation failed")
			s.health.ObserveVoice(it.Name, "computed", "error", time.Since(started))
			writeJSON(w, http.StatusInternalServerError, Response{
				"speech_text": "I'm having trouble accessing your calendar right now.",
			})
			return
		}

		body, err := json.Marshal(resp)
		if err != nil {
			s.log.Error().Err(err).Str("intent", it.Name).Msg("response marshal failed")
			s.health.ObserveVoice(it.Name, "computed", "error", time.Since(started))
			writeJSON(w, http.StatusInternalServerError, Response{
				"speech_text": "I'm having trouble accessing your calendar right now.",
			})
			return
		}
		if it.Cacheable && s.cache != nil {
			s.cache.Put(key, body)
		}
		s.health.ObserveVoice(it.Name, "computed", "ok", time.Since(started))
		writeJSONBytes(w, http.StatusOK, body)
	}
}

// cacheHandlerName keeps the voice and open variants of the same intent
// from sharing cache entries, since only one of them carries ssml.
func cacheHandlerName(name string, ssml bool) string {
	if ssml {
		return name
	}
	return name + ":plain"
}

func stringifyParams(params map[string]any) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSONBytes(w, status, body)
}

func writeJSONBytes(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
