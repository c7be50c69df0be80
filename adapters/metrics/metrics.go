// Package metrics provides Prometheus metrics collection for pagelove.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alistaircroll/pagelove/app"
)

// Collector holds all Prometheus metrics for the document engine.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestsInFlight prometheus.Gauge

	// Authorization metrics
	Denials *prometheus.CounterVec

	// Mutation metrics
	Mutations *prometheus.CounterVec

	// Composition metrics
	ComposeSeconds prometheus.Histogram

	// Store metrics
	Documents prometheus.Gauge
}

// New creates a new metrics collector with all metrics registered.
func New() *Collector {
	return &Collector{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pagelove",
				Name:      "requests_total",
				Help:      "Total number of document requests handled",
			},
			[]string{"verb", "status"},
		),
		RequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pagelove",
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),
		Denials: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pagelove",
				Name:      "authorization_denials_total",
				Help:      "Total number of requests denied by the rule engine",
			},
			[]string{"verb"},
		),
		Mutations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pagelove",
				Name:      "mutations_total",
				Help:      "Total number of committed document mutations",
			},
			[]string{"verb"},
		),
		ComposeSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "pagelove",
				Name:      "compose_duration_seconds",
				Help:      "Server-side composition duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		Documents: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pagelove",
				Name:      "documents",
				Help:      "Number of documents currently in the store",
			},
		),
	}
}

// RequestStarted marks a request entering processing.
func (c *Collector) RequestStarted() {
	c.RequestsInFlight.Inc()
}

// RequestFinished marks a request leaving processing.
func (c *Collector) RequestFinished() {
	c.RequestsInFlight.Dec()
}

// RequestHandled records a finished request by verb and status.
func (c *Collector) RequestHandled(verb string, status int) {
	c.RequestsTotal.WithLabelValues(verb, strconv.Itoa(status)).Inc()
}

// AuthorizationDenied records a denied request by verb.
func (c *Collector) AuthorizationDenied(verb string) {
	c.Denials.WithLabelValues(verb).Inc()
}

// MutationCommitted records a committed mutation by verb.
func (c *Collector) MutationCommitted(verb string) {
	c.Mutations.WithLabelValues(verb).Inc()
}

// ComposeDuration records one composition pass.
func (c *Collector) ComposeDuration(d time.Duration) {
	c.ComposeSeconds.Observe(d.Seconds())
}

// DocumentCount records the current number of stored documents.
func (c *Collector) DocumentCount(n int) {
	c.Documents.Set(float64(n))
}

// Ensure interface compliance.
var _ app.Metrics = (*Collector)(nil)
