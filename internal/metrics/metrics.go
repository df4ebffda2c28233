package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// ProviderRequests counts outbound provider calls by provider, operation,
	// and outcome (ok, http_error, conn_error)
	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "provider_requests_total", Help: "Outbound shipping provider requests."},
		[]string{"provider", "op", "outcome"},
	)
	// ProviderLatency tracks outbound provider call latency in seconds
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "provider_request_duration_seconds", Help: "Outbound provider request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"provider", "op"},
	)

	// Dispatches counts dispatch attempts by provider and outcome
	// (created, skipped, validation_failed, provider_failed)
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "shipment_dispatches_total", Help: "Shipment dispatch attempts."},
		[]string{"provider", "outcome"},
	)
	// WebhooksReceived counts inbound provider webhooks by provider and outcome
	WebhooksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "shipping_webhooks_total", Help: "Inbound shipping provider webhooks."},
		[]string{"provider", "outcome"},
	)
	// StatusUpdates counts applied reconciliation updates by source (webhook, poll)
	StatusUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "shipment_status_updates_total", Help: "Applied shipment status updates."},
		[]string{"source"},
	)
)

// RegisterDefault registers collectors to the dedicated registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(ProviderRequests)
		Registry.MustRegister(ProviderLatency)
		Registry.MustRegister(Dispatches)
		Registry.MustRegister(WebhooksReceived)
		Registry.MustRegister(StatusUpdates)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
