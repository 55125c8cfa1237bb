package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_AllVariablesNonNil(t *testing.T) {
	t.Parallel()

	vars := []struct {
		name string
		val  any
	}{
		{"TicksTotal", TicksTotal},
		{"TickLatency", TickLatency},
		{"FrameDropsTotal", FrameDropsTotal},
		{"EventsFiredTotal", EventsFiredTotal},
		{"RiskProbability", RiskProbability},
		{"EstimatorFaultsTotal", EstimatorFaultsTotal},
		{"EstimatorLatency", EstimatorLatency},
		{"ModeTransitionsTotal", ModeTransitionsTotal},
		{"ModeTicksTotal", ModeTicksTotal},
		{"RunsTotal", RunsTotal},
		{"CollisionsTotal", CollisionsTotal},
		{"RunsInFlight", RunsInFlight},
		{"BenchmarkPassRate", BenchmarkPassRate},
	}

	for _, v := range vars {
		assert.NotNilf(t, v.val, "%s should not be nil", v.name)
	}
}

func TestMetrics_CounterIncrementNoPanic(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() { TicksTotal.WithLabelValues("test-scenario").Inc() })
	assert.NotPanics(t, func() { FrameDropsTotal.WithLabelValues("test-scenario").Inc() })
	assert.NotPanics(t, func() { EventsFiredTotal.WithLabelValues("test-scenario").Add(2) })
	assert.NotPanics(t, func() { EstimatorFaultsTotal.WithLabelValues("test-scenario").Inc() })
	assert.NotPanics(t, func() { ModeTransitionsTotal.WithLabelValues("test-scenario", "NOMINAL", "CAUTIOUS").Inc() })
	assert.NotPanics(t, func() { ModeTicksTotal.WithLabelValues("test-scenario", "NOMINAL").Inc() })
	assert.NotPanics(t, func() { RunsTotal.WithLabelValues("test-scenario", "max_ticks").Inc() })
	assert.NotPanics(t, func() { CollisionsTotal.WithLabelValues("test-scenario").Inc() })
}

func TestMetrics_HistogramObserveNoPanic(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() { TickLatency.WithLabelValues("test-scenario").Observe(0.002) })
	assert.NotPanics(t, func() { RiskProbability.WithLabelValues("test-scenario").Observe(0.42) })
	assert.NotPanics(t, func() { EstimatorLatency.WithLabelValues("test-scenario").Observe(0.0003) })
}

func TestMetrics_GaugeNoPanic(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() { BenchmarkPassRate.WithLabelValues("test-policy").Set(0.75) })
	assert.NotPanics(t, func() {
		RunsInFlight.Inc()
		RunsInFlight.Dec()
	})
}
