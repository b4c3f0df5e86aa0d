// Package router wires the HTTP surface: the authenticated voice
// webhook family under /api/alexa/, the open kiosk JSON API, health and
// metrics. Routing is driven by the static intent table; there is no
// reflection or registration at request time.
package router

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/voicecal/internal/auth"
	"github.com/sonroyaalmerol/voicecal/internal/health"
	"github.com/sonroyaalmerol/voicecal/internal/skipstore"
	"github.com/sonroyaalmerol/voicecal/internal/voice"
	"github.com/sonroyaalmerol/voicecal/internal/window"
	"github.com/sonroyaalmerol/voicecal/pkg/ical"
)

type Router struct {
	voice  *voice.Service
	pub    *window.Publisher
	skips  skipstore.Store
	health *health.Tracker
	bearer *auth.Bearer
	logger zerolog.Logger
}

func New(voiceSvc *voice.Service, pub *window.Publisher, skips skipstore.Store, tracker *health.Tracker, bearer *auth.Bearer, logger zerolog.Logger) http.Handler {
	r := &Router{
		voice:  voiceSvc,
		pub:    pub,
		skips:  skips,
		health: tracker,
		bearer: bearer,
		logger: logger,
	}
	return r.routes()
}

func (r *Router) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/health", r.handleHealth)

	var nextMeeting, morning voice.Intent
	for _, it := range voice.Intents() {
		mux.Handle("GET /api/alexa/"+it.Name, r.bearer.Middleware(r.voice.Handler(it, true)))
		switch it.Name {
		case "next-meeting":
			nextMeeting = it
		case "morning-summary":
			morning = it
		}
	}

	// Kiosk surface: same computations, no auth, no markup.
	mux.Handle("GET /api/next", r.voice.Handler(nextMeeting, false))
	mux.Handle("GET /api/morning-summary", r.voice.Handler(morning, false))
	mux.HandleFunc("GET /api/events", r.handleEvents)

	mux.Handle("POST /api/skip/{id}", r.bearer.Middleware(http.HandlerFunc(r.handleSkip)))
	mux.Handle("DELETE /api/skip/{id}", r.bearer.Middleware(http.HandlerFunc(r.handleUnskip)))

	return r.withRequestLog(mux)
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	snap := r.health.Snapshot()
	status := http.StatusOK
	if snap.Status == health.StatusCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	snap := r.pub.Read()
	if snap.Version == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "calendar not loaded yet"})
		return
	}

	limit, offset := pageParams(req, len(snap.Events))
	page := snap.Events[offset:min(offset+limit, len(snap.Events))]
	events := make([]map[string]any, 0, len(page))
	for i := range page {
		events = append(events, eventJSON(&page[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"window_version": snap.Version,
		"built_at":       snap.BuiltAt,
		"total":          len(snap.Events),
		"events":         events,
	})
}

func eventJSON(ev *ical.Event) map[string]any {
	m := map[string]any{
		"id":         ev.ID,
		"subject":    ev.Subject,
		"start":      ev.Start.UTC(),
		"end":        ev.End.UTC(),
		"is_all_day": ev.IsAllDay,
		"status":     string(ev.Status),
	}
	if ev.Location != "" {
		m["location"] = ev.Location
	}
	if ev.BodyPreview != "" {
		m["body_preview"] = ev.BodyPreview
	}
	if ev.IsOnlineMeeting {
		m["is_online_meeting"] = true
		m["online_meeting_url"] = ev.OnlineMeetingURL
	}
	if ev.IsExpandedInstance {
		m["recurring_master_uid"] = ev.RRuleMasterUID
	}
	return m
}

func (r *Router) handleSkip(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing event id"})
		return
	}
	if err := r.skips.Skip(req.Context(), id); err != nil {
		r.logger.Error().Err(err).Str("id", id).Msg("skip write failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"skipped": id})
}

func (r *Router) handleUnskip(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing event id"})
		return
	}
	if err := r.skips.Unskip(req.Context(), id); err != nil {
		r.logger.Error().Err(err).Str("id", id).Msg("skip delete failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unskipped": id})
}

func pageParams(req *http.Request, total int) (limit, offset int) {
	limit = 50
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, ok := atoiInRange(v, 1, 500); ok {
			limit = n
		}
	}
	if v := req.URL.Query().Get("offset"); v != "" {
		if n, ok := atoiInRange(v, 0, total); ok {
			offset = n
		}
	}
	return limit, offset
}

func atoiInRange(v string, lo, hi int) (int, bool) {
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
		if n > hi {
			return 0, false
		}
	}
	if n < lo {
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
