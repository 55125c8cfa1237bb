package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Control loop counters and histograms, partitioned by scenario.

var (
	// Tick loop
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rastack",
		Subsystem: "loop",
		Name:      "ticks_total",
		Help:      "Total control loop ticks processed",
	}, []string{"scenario"})

	TickLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rastack",
		Subsystem: "loop",
		Name:      "tick_duration_seconds",
		Help:      "Wall-clock duration of one tick (perturb through step)",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	}, []string{"scenario"})

	FrameDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rastack",
		Subsystem: "perturb",
		Name:      "frame_drops_total",
		Help:      "Total ticks whose perception frame was dropped",
	}, []string{"scenario"})

	EventsFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rastack",
		Subsystem: "perturb",
		Name:      "events_fired_total",
		Help:      "Total scripted events fired",
	}, []string{"scenario"})

	// Risk
	RiskProbability = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rastack",
		Subsystem: "risk",
		Name:      "probability",
		Help:      "Estimated collision probability per tick",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	}, []string{"scenario"})

	EstimatorFaultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rastack",
		Subsystem: "risk",
		Name:      "estimator_faults_total",
		Help:      "Total estimator failures, timeouts and invalid assessments",
	}, []string{"scenario"})

	EstimatorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rastack",
		Subsystem: "risk",
		Name:      "assess_duration_seconds",
		Help:      "Estimator call duration",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
	}, []string{"scenario"})

	// Supervisor
	ModeTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rastack",
		Subsystem: "supervisor",
		Name:      "mode_transitions_total",
		Help:      "Total supervisor mode transitions",
	}, []string{"scenario", "from", "to"})

	ModeTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rastack",
		Subsystem: "supervisor",
		Name:      "mode_ticks_total",
		Help:      "Total ticks spent in each supervisor mode",
	}, []string{"scenario", "mode"})

	// Runs
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rastack",
		Subsystem: "run",
		Name:      "completed_total",
		Help:      "Total runs finished, by end reason",
	}, []string{"scenario", "reason"})

	CollisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rastack",
		Subsystem: "run",
		Name:      "collisions_total",
		Help:      "Total runs that ended in a crash",
	}, []string{"scenario"})

	RunsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rastack",
		Subsystem: "run",
		Name:      "in_flight",
		Help:      "Runs currently executing",
	})

	// Benchmark
	BenchmarkPassRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rastack",
		Subsystem: "bench",
		Name:      "pass_rate",
		Help:      "Pass rate of the latest benchmark suite per policy",
	}, []string{"policy"})
)
