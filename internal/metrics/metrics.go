// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steer_dispatch_attempts_total",
			Help: "Dispatch attempts by gate outcome",
		},
		[]string{"outcome"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "steer_request_duration_seconds",
			Help:    "Round trip time of control requests in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2, 3, 5, 8, 13, 21, 34, 60},
		},
		[]string{"model", "status"},
	)

	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steer_request_count_total",
			Help: "Total number of control requests settled",
		},
		[]string{"model", "status"},
	)

	StaleResults = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "steer_stale_results_total",
			Help: "Results discarded because a reset happened while they were in flight",
		},
	)

	PlaybackQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "steer_playback_queue_depth",
			Help: "Clips waiting behind the one currently playing, summed over sessions",
		},
	)

	PlaybackEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steer_playback_events_total",
			Help: "Playback sequencer events",
		},
		[]string{"event"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "steer_active_sessions",
			Help: "Connected browser sessions",
		},
	)
)
