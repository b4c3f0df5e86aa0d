package health

import "github.com/prometheus/client_golang/prometheus"

var (
	refreshCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voicecal_refresh_cycles_total",
			Help: "Number of refresh cycles attempted",
		},
	)
	refreshDegraded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voicecal_refresh_degraded_total",
			Help: "Number of refresh cycles that ended degraded",
		},
	)
	fetchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicecal_fetch_requests_total",
			Help: "Calendar fetch attempts by source and outcome",
		},
		[]string{"source", "outcome"},
	)
	parseWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voicecal_parse_warnings_total",
			Help: "Parser warnings across all sources",
		},
	)
	windowEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voicecal_window_events",
			Help: "Events in the published window",
		},
	)
	windowVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voicecal_window_version",
			Help: "Version of the published window",
		},
	)
	heartbeatTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voicecal_heartbeat_timestamp_seconds",
			Help: "Unix time of the last background heartbeat",
		},
	)
	voiceRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicecal_voice_requests_total",
			Help: "Voice intent requests by intent and outcome",
		},
		[]string{"intent", "outcome"},
	)
	voiceLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voicecal_voice_request_seconds",
			Help:    "Voice request latency by intent and serving tier",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"intent", "tier"},
	)
)

func init() {
	// Metrics have to be registered to be exposed:
	prometheus.MustRegister(refreshCycles)
	prometheus.MustRegister(refreshDegraded)
	prometheus.MustRegister(fetchRequests)
	prometheus.MustRegister(parseWarnings)
	prometheus.MustRegister(windowEvents)
	prometheus.MustRegister(windowVersion)
	prometheus.MustRegister(heartbeatTimestamp)
	prometheus.MustRegister(voiceRequests)
	prometheus.MustRegister(voiceLatency)
}
