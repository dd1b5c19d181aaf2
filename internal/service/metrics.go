package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchRunsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "whatsapp_dispatch",
			Name:      "runs_total",
			Help:      "Total dispatch runs started.",
		},
		[]string{"backend"},
	)

	dispatchMessagesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "whatsapp_dispatch",
			Name:      "messages_total",
			Help:      "Final per-contact outcomes.",
		},
		[]string{"backend", "status"},
	)

	dispatchAttemptsHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "whatsapp_dispatch",
			Name:      "attempts",
			Help:      "Send attempts needed per contact.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
		[]string{"backend"},
	)

	dispatchDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "whatsapp_dispatch",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a dispatch run including pacing.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"backend"},
	)
)
