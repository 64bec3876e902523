// Package metrics exposes Prometheus collectors for version checks and the
// version service.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/entireio/updatecheck/cmd/updatecheck/cli/versioncheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "updatecheck"

// Server request outcomes.
const (
	OutcomeUpdate     = "update"
	OutcomeUpToDate   = "up_to_date"
	OutcomeFailure    = "failure"
	OutcomeBadRequest = "bad_request"
)

// Metrics holds the collectors. It implements versioncheck.Observer.
type Metrics struct {
	registry *prometheus.Registry

	checks         *prometheus.CounterVec
	checkDuration  *prometheus.HistogramVec
	cacheErrors    *prometheus.CounterVec
	serverRequests *prometheus.CounterVec
}

var _ versioncheck.Observer = (*Metrics)(nil)

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		checks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Completed version checks by result source and platform.",
		}, []string{"source", "platform"}),
		checkDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Version check latency by result source.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		cacheErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Cache failures that were swallowed, by operation.",
		}, []string{"op"}),
		serverRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_requests_total",
			Help:      "Version service requests by platform and outcome.",
		}, []string{"platform", "outcome"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveCheck(_ context.Context, req versioncheck.Request, res versioncheck.Result, elapsed time.Duration) {
	source := string(res.Source)
	m.checks.WithLabelValues(source, platformLabel(string(req.Platform))).Inc()
	m.checkDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveCacheError(_ context.Context, op string, _ error) {
	m.cacheErrors.WithLabelValues(op).Inc()
}

// ObserveServerRequest counts one request answered by the version service.
func (m *Metrics) ObserveServerRequest(platform, outcome string) {
	m.serverRequests.WithLabelValues(platformLabel(platform), outcome).Inc()
}

// OutcomeOf classifies a result for ObserveServerRequest.
func OutcomeOf(res versioncheck.Result) string {
	switch {
	case !res.Success:
		return OutcomeFailure
	case res.UpdateAvailable:
		return OutcomeUpdate
	default:
		return OutcomeUpToDate
	}
}

// platformLabel keeps label cardinality bounded: anything that is not a
// known platform is reported as "unknown".
func platformLabel(p string) string {
	if parsed, err := versioncheck.ParsePlatform(p); err == nil {
		return string(parsed)
	}
	return "unknown"
}
