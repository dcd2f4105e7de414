// Package metrics exposes prometheus collectors for the attendance pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	AttendanceAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_accepted_total",
			Help: "Accepted attendance submissions",
		},
		[]string{"method"},
	)

	AttendanceRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_rejected_total",
			Help: "Rejected attendance submissions by reason code",
		},
		[]string{"reason"},
	)

	ExtractorDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "face_extractor_duration_seconds",
			Help:    "Latency of the external face embedding extractor",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
)
