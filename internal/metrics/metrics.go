// Package metrics exports the daemon's Prometheus collectors. One Set is
// shared by the monitoring worker and the retraining orchestrator; the
// daemon serves it on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set holds every collector the daemon exports. A nil *Set is valid and
// records nothing, so library code never has to check whether metrics are
// wired.
type Set struct {
	registry *prometheus.Registry

	monitoringTicks   *prometheus.CounterVec
	tickDuration      prometheus.Histogram
	featureDriftRatio prometheus.Gauge
	driftedFeatures   prometheus.Gauge
	evaluatedFeatures prometheus.Gauge
	decisions         *prometheus.CounterVec
	promotions        prometheus.Counter
	labeledCoverage   prometheus.Gauge
}

// NewSet builds the collectors on a fresh registry together with the
// standard Go and process collectors.
func NewSet() *Set {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Set{
		registry: reg,
		monitoringTicks: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftguard_monitoring_ticks_total",
				Help: "Monitoring ticks by outcome (ok, insufficient_samples, overlap_skip, error).",
			},
			[]string{"outcome"},
		),
		tickDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "driftguard_monitoring_tick_seconds",
				Help:    "Wall-clock duration of completed monitoring ticks.",
				Buckets: prometheus.DefBuckets,
			},
		),
		featureDriftRatio: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "driftguard_feature_drift_ratio",
				Help: "Drifted/evaluated feature ratio from the most recent full tick.",
			},
		),
		driftedFeatures: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "driftguard_drifted_features",
				Help: "Number of drifted features in the most recent full tick.",
			},
		),
		evaluatedFeatures: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "driftguard_evaluated_features",
				Help: "Number of evaluated features in the most recent full tick.",
			},
		),
		decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftguard_decisions_total",
				Help: "Retraining decisions by action (train, skip, promote, reject).",
			},
			[]string{"action"},
		),
		promotions: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "driftguard_promotions_total",
				Help: "Model promotions committed, bootstrap included.",
			},
		),
		labeledCoverage: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "driftguard_labeled_coverage_pct",
				Help: "Label coverage percentage seen by the most recent orchestration.",
			},
		),
	}
}

// ObserveTick records one monitoring tick attempt. Duration is only
// meaningful for full runs; skips pass 0.
func (s *Set) ObserveTick(outcome string, d time.Duration) {
	if s == nil {
		return
	}
	s.monitoringTicks.WithLabelValues(outcome).Inc()
	if d > 0 {
		s.tickDuration.Observe(d.Seconds())
	}
}

// ObserveDrift records the dataset-level drift figures of a full tick.
func (s *Set) ObserveDrift(ratio float64, drifted, evaluated int) {
	if s == nil {
		return
	}
	s.featureDriftRatio.Set(ratio)
	s.driftedFeatures.Set(float64(drifted))
	s.evaluatedFeatures.Set(float64(evaluated))
}

// ObserveDecision records one orchestration decision.
func (s *Set) ObserveDecision(action string) {
	if s == nil {
		return
	}
	s.decisions.WithLabelValues(action).Inc()
}

// ObservePromotion records a committed promotion.
func (s *Set) ObservePromotion() {
	if s == nil {
		return
	}
	s.promotions.Inc()
}

// ObserveCoverage records the label coverage seen by an orchestration.
func (s *Set) ObserveCoverage(pct float64) {
	if s == nil {
		return
	}
	s.labeledCoverage.Set(pct)
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// Registry exposes the underlying registry for tests.
func (s *Set) Registry() *prometheus.Registry {
	return s.registry
}
