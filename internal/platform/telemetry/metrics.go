// Package telemetry exposes Prometheus metrics for the sync core: run
// outcomes, per-resource dispositions, conflict and webhook activity, and
// HTTP request metrics, served on /metrics.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SyncRunsTotal counts completed sync runs by mode and terminal status.
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Completed sync runs by mode and terminal status",
		},
		[]string{"mode", "status"},
	)

	// SyncRunDuration observes wall-clock duration of sync runs.
	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_run_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"mode"},
	)

	// SyncResourcesTotal counts per-resource pipeline dispositions.
	SyncResourcesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_resources_total",
			Help: "Resources processed by the sync pipeline by disposition",
		},
		[]string{"disposition"},
	)

	// ConflictsDetectedTotal counts conflicts recorded by the engine.
	ConflictsDetectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conflicts_detected_total",
			Help: "Conflicts detected between stored and incoming versions",
		},
	)

	// ConflictsResolvedTotal counts conflict resolutions by strategy.
	ConflictsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conflicts_resolved_total",
			Help: "Conflicts resolved by strategy",
		},
		[]string{"strategy"},
	)

	// WebhookDeliveriesTotal counts webhook delivery attempts by outcome.
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	// WebhookDeliveryDuration observes delivery attempt latency.
	WebhookDeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webhook_delivery_duration_seconds",
			Help:    "Latency of webhook delivery attempts in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// BulkExportJobsTotal counts bulk export jobs by terminal status.
	BulkExportJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_export_jobs_total",
			Help: "Bulk export jobs by terminal status",
		},
		[]string{"status"},
	)

	// IdentityResolutionsTotal counts identity engine outcomes.
	IdentityResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_resolutions_total",
			Help: "Identity resolution outcomes (matched, merged, created, ambiguous)",
		},
		[]string{"outcome"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// HTTPMetrics returns echo middleware recording request counts and latency.
// The route template (not the raw path) is used as the label to keep
// cardinality bounded.
func HTTPMetrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := strconv.Itoa(c.Response().Status)

			httpRequestsTotal.WithLabelValues(c.Request().Method, route, status).Inc()
			httpRequestDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// RegisterHandler mounts the Prometheus exposition endpoint on the echo instance.
func RegisterHandler(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
