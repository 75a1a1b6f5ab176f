package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherFamily(t *testing.T, s *Set, name string) *dto.MetricFamily {
	t.Helper()
	families, err := s.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestObserveTick(t *testing.T) {
	s := NewSet()
	s.ObserveTick("ok", 120*time.Millisecond)
	s.ObserveTick("ok", 80*time.Millisecond)
	s.ObserveTick("overlap_skip", 0)

	mf := gatherFamily(t, s, "driftguard_monitoring_ticks_total")
	require.NotNil(t, mf)

	counts := map[string]float64{}
	for _, m := range mf.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == "outcome" {
				counts[l.GetValue()] = m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, counts["ok"])
	assert.Equal(t, 1.0, counts["overlap_skip"])

	hist := gatherFamily(t, s, "driftguard_monitoring_tick_seconds")
	require.NotNil(t, hist)
	require.Len(t, hist.GetMetric(), 1)
	// Skips pass zero duration and must not enter the histogram.
	assert.Equal(t, uint64(2), hist.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestObserveDriftSetsGauges(t *testing.T) {
	s := NewSet()
	s.ObserveDrift(0.4, 4, 10)

	ratio := gatherFamily(t, s, "driftguard_feature_drift_ratio")
	require.NotNil(t, ratio)
	assert.Equal(t, 0.4, ratio.GetMetric()[0].GetGauge().GetValue())

	drifted := gatherFamily(t, s, "driftguard_drifted_features")
	require.NotNil(t, drifted)
	assert.Equal(t, 4.0, drifted.GetMetric()[0].GetGauge().GetValue())

	evaluated := gatherFamily(t, s, "driftguard_evaluated_features")
	require.NotNil(t, evaluated)
	assert.Equal(t, 10.0, evaluated.GetMetric()[0].GetGauge().GetValue())
}

func TestObserveDecisionAndPromotion(t *testing.T) {
	s := NewSet()
	s.ObserveDecision("skip")
	s.ObserveDecision("promote")
	s.ObserveDecision("promote")
	s.ObservePromotion()
	s.ObserveCoverage(42.5)

	decisions := gatherFamily(t, s, "driftguard_decisions_total")
	require.NotNil(t, decisions)
	total := 0.0
	for _, m := range decisions.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	assert.Equal(t, 3.0, total)

	promos := gatherFamily(t, s, "driftguard_promotions_total")
	require.NotNil(t, promos)
	assert.Equal(t, 1.0, promos.GetMetric()[0].GetCounter().GetValue())

	cov := gatherFamily(t, s, "driftguard_labeled_coverage_pct")
	require.NotNil(t, cov)
	assert.Equal(t, 42.5, cov.GetMetric()[0].GetGauge().GetValue())
}

func TestNilSetIsSafe(t *testing.T) {
	var s *Set
	s.ObserveTick("ok", time.Second)
	s.ObserveDrift(0.1, 1, 2)
	s.ObserveDecision("skip")
	s.ObservePromotion()
	s.ObserveCoverage(10)
}

func TestHandlerServesExposition(t *testing.T) {
	s := NewSet()
	s.ObserveTick("ok", time.Second)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "driftguard_monitoring_ticks_total")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
