package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "companion_sessions_active",
		Help: "Currently open page sessions",
	})

	BackendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_backend_requests_total",
		Help: "Backend calls by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	BackendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "companion_backend_request_duration_seconds",
		Help:    "Backend call latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"endpoint"})

	PlaybackAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_playback_attempts_total",
		Help: "Playback attempts per fallback tier",
	}, []string{"tier", "outcome"})

	SuggestionFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_suggestion_fetches_total",
		Help: "Suggestion trigger decisions and fetch results",
	}, []string{"outcome"})

	Commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_commits_total",
		Help: "Save and discard commits",
	}, []string{"kind", "outcome"})

	ListenSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_listen_sessions_total",
		Help: "Speech recognition sessions by result",
	}, []string{"outcome"})
)
