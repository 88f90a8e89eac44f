// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "junction_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "junction_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 5, 15, 30},
		},
		[]string{"method", "path"},
	)

	// Routing metrics
	RoutesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "junction_routes_total",
			Help: "Inbound lines by route kind",
		},
		[]string{"kind"}, // agent, tool, command, prompt, malformed
	)

	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "junction_sends_total",
			Help: "Outbound agent sends by outcome",
		},
		[]string{"outcome"}, // ok, error, max_depth, not_found, payment_required
	)

	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "junction_send_duration_seconds",
			Help:    "Outbound agent send latency",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Payment metrics
	PaymentStates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "junction_payment_states_total",
			Help: "Terminal payment states reached",
		},
		[]string{"state"},
	)

	// Receive-side metrics
	EnvelopesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "junction_envelopes_received_total",
			Help: "Inbound peer envelopes by disposition",
		},
		[]string{"disposition"}, // answered, max_depth, payment_required, payment_failed
	)
)
