package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_sessions_active",
		Help: "Voice sessions currently connected",
	})

	metricSessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_sessions_total",
		Help: "Total voice sessions accepted",
	})

	metricTurnsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_turns_started_total",
		Help: "Total assistant turns started",
	})

	metricInterruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_interruptions_total",
		Help: "Total assistant turns cut off by the user",
	})

	metricOutputItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_output_items_total",
		Help: "Output items delivered to clients, by kind",
	}, []string{"kind"})

	metricInboundAudioBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_inbound_audio_bytes_total",
		Help: "User audio bytes received",
	})

	metricFirstAudioSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parley_turn_first_audio_seconds",
		Help:    "Latency from turn start to the first synthesized audio chunk",
		Buckets: prometheus.ExponentialBuckets(0.05, 1.6, 10),
	})
)
