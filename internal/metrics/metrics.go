// Package metrics exposes Prometheus instrumentation for the region engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics groups every collector the engine records. A nil *Metrics is a
// valid no-op recorder so components can be built without instrumentation.
type Metrics struct {
	RegistryRefreshes       *prometheus.CounterVec
	RegistryRefreshDuration prometheus.Histogram
	RegistryEntities        *prometheus.GaugeVec
	RegistryStaleServed     prometheus.Counter
	StoreBreakerState       *prometheus.GaugeVec
	StoreBreakerRejections  *prometheus.CounterVec
	TerritoryResolutions    *prometheus.CounterVec
	ReachabilityChecks      *prometheus.CounterVec
	ContextBuilds           *prometheus.CounterVec
	ContextBuildDuration    prometheus.Histogram
	HTTPRequests            *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
}

// New registers the engine's collectors with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RegistryRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "region_registry_refreshes_total",
			Help: "Registry snapshot reloads by result",
		}, []string{"result"}),
		RegistryRefreshDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "region_registry_refresh_duration_seconds",
			Help:    "Duration of registry snapshot reloads",
			Buckets: latencyBuckets,
		}),
		RegistryEntities: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "region_registry_entities",
			Help: "Entities held by the current registry snapshot",
		}, []string{"kind"}),
		RegistryStaleServed: f.NewCounter(prometheus.CounterOpts{
			Name: "region_registry_stale_served_total",
			Help: "Reads served from a stale snapshot after a failed reload",
		}),
		StoreBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "region_store_breaker_state",
			Help: "Store breaker state per table (0 closed, 1 open, 2 half-open)",
		}, []string{"table"}),
		StoreBreakerRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "region_store_breaker_rejections_total",
			Help: "Store reads rejected by an open breaker per table",
		}, []string{"table"}),
		TerritoryResolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "region_territory_resolutions_total",
			Help: "Territory resolutions by match method",
		}, []string{"method"}),
		ReachabilityChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "region_reachability_checks_total",
			Help: "Reachability checks by outcome",
		}, []string{"reachable"}),
		ContextBuilds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "region_context_builds_total",
			Help: "Pipeline contexts built by region provenance",
		}, []string{"provenance"}),
		ContextBuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "region_context_build_duration_seconds",
			Help:    "Duration of pipeline context builds",
			Buckets: latencyBuckets,
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "region_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "region_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: latencyBuckets,
		}, []string{"route"}),
	}
}

// ObserveRefresh records one registry reload.
func (m *Metrics) ObserveRefresh(start time.Time, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.RegistryRefreshes.WithLabelValues(result).Inc()
	m.RegistryRefreshDuration.Observe(time.Since(start).Seconds())
}

// SetEntityCounts publishes the snapshot's size per entity kind.
func (m *Metrics) SetEntityCounts(regions, territories, modifiers, packs int) {
	if m == nil {
		return
	}
	m.RegistryEntities.WithLabelValues("regions").Set(float64(regions))
	m.RegistryEntities.WithLabelValues("territories").Set(float64(territories))
	m.RegistryEntities.WithLabelValues("score_modifiers").Set(float64(modifiers))
	m.RegistryEntities.WithLabelValues("timing_packs").Set(float64(packs))
}

// IncStaleServed counts a read answered from a stale snapshot.
func (m *Metrics) IncStaleServed() {
	if m == nil {
		return
	}
	m.RegistryStaleServed.Inc()
}

// SetBreakerState publishes a store breaker's state for table.
func (m *Metrics) SetBreakerState(table string, state int) {
	if m == nil {
		return
	}
	m.StoreBreakerState.WithLabelValues(table).Set(float64(state))
}

// IncBreakerRejected counts a read an open breaker turned away.
func (m *Metrics) IncBreakerRejected(table string) {
	if m == nil {
		return
	}
	m.StoreBreakerRejections.WithLabelValues(table).Inc()
}

// IncResolution counts a territory resolution by method.
func (m *Metrics) IncResolution(method string) {
	if m == nil {
		return
	}
	m.TerritoryResolutions.WithLabelValues(method).Inc()
}

// IncReachability counts a reachability verdict.
func (m *Metrics) IncReachability(reachable bool) {
	if m == nil {
		return
	}
	label := "false"
	if reachable {
		label = "true"
	}
	m.ReachabilityChecks.WithLabelValues(label).Inc()
}

// ObserveContextBuild records one pipeline context build.
func (m *Metrics) ObserveContextBuild(start time.Time, provenance string) {
	if m == nil {
		return
	}
	m.ContextBuilds.WithLabelValues(provenance).Inc()
	m.ContextBuildDuration.Observe(time.Since(start).Seconds())
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route, code string, start time.Time) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
}
