package eval

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/risk"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/runlog"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/supervisor"
)

// NoTTC stands in for the time-to-collision when the ego never closed on a leader (s).
const NoTTC = 99.0

// #region eval-harness
// EvalHarness scores finished runs.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run evaluates a run record. Collision, an abnormal end, a gap below MinGap or poor
// speed tracking fail the run; mode occupancy, MRC entries, faults and TTC are reported.
func (h *EvalHarness) Run(rec *runlog.Record) EvalResult {
	var metrics []EvalMetric
	passed := true
	var failReasons []string

	fail := func(format string, args ...any) {
		passed = false
		failReasons = append(failReasons, fmt.Sprintf(format, args...))
	}

	// 1. Collision
	collision := rec.Collided()
	metrics = append(metrics, EvalMetric{Name: "collision", Value: boolValue(collision), Pass: !collision})
	if collision {
		fail("collision with %s", rec.Footer.Info.CrashAgent)
	}

	// 2. End reason: faults and unavailable MRC are failures, cancellation is not judged
	abnormal := rec.Footer.Reason == runlog.ReasonSimulatorFault ||
		rec.Footer.Reason == runlog.ReasonMRCUnavailable ||
		rec.Footer.Reason == runlog.ReasonPerturbation
	metrics = append(metrics, EvalMetric{Name: "abnormal_end", Value: boolValue(abnormal), Pass: !abnormal})
	if abnormal {
		fail("run ended with %s", rec.Footer.Reason)
	}

	// 3. Minimum leader gap
	minGap, minTTC := leaderStats(rec)
	gapPass := minGap >= h.config.MinGap
	metrics = append(metrics, EvalMetric{Name: "min_gap", Value: minGap, Pass: gapPass})
	if !gapPass {
		fail("min gap %.2f m below %.2f m", minGap, h.config.MinGap)
	}

	// 4. Speed tracking in NOMINAL after settling
	rmse, samples := h.speedRMSE(rec)
	rmsePass := samples == 0 || rmse <= h.config.MaxSpeedRMSE
	metrics = append(metrics, EvalMetric{Name: "speed_rmse", Value: rmse, Pass: rmsePass})
	if !rmsePass {
		fail("speed rmse %.3f m/s exceeds %.3f m/s", rmse, h.config.MaxSpeedRMSE)
	}

	// 5. Informational: time in each mode, MRC entries, estimator faults, TTC, distance
	occupancy := modeOccupancy(rec)
	for _, m := range []supervisor.Mode{supervisor.Nominal, supervisor.Cautious, supervisor.MRC} {
		metrics = append(metrics, EvalMetric{
			Name: "time_in_" + string(m), Value: occupancy[m], Pass: true, Informational: true,
		})
	}
	mrcEntries := 0
	for _, ev := range rec.Transitions {
		if ev.To == supervisor.MRC {
			mrcEntries++
		}
	}
	metrics = append(metrics, EvalMetric{Name: "mrc_entries", Value: float64(mrcEntries), Pass: true, Informational: true})

	rate := faultRate(rec)
	metrics = append(metrics, EvalMetric{
		Name: "estimator_fault_rate", Value: rate, Pass: rate <= h.config.MaxFaultRate, Informational: true,
	})
	metrics = append(metrics, EvalMetric{
		Name: "min_ttc", Value: minTTC, Pass: minTTC >= h.config.MinTTCWarning, Informational: true,
	})
	metrics = append(metrics, EvalMetric{
		Name: "distance", Value: rec.Footer.Info.Distance, Pass: true, Informational: true,
	})

	reason := "all checks passed"
	if !passed {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}

	return EvalResult{
		RunID:      rec.Header.RunID,
		Passed:     passed,
		Metrics:    metrics,
		Reason:     reason,
		Collision:  collision,
		MRCEntered: mrcEntries > 0,
		MinTTC:     minTTC,
	}
}

// #endregion eval-harness

// #region helpers
// leaderStats returns the smallest perceived leader gap and time-to-collision.
func leaderStats(rec *runlog.Record) (minGap, minTTC float64) {
	minGap, minTTC = math.Inf(1), NoTTC
	for _, e := range rec.Entries {
		f := e.Features
		if !f.HasLeader {
			continue
		}
		minGap = math.Min(minGap, f.FollowingDistance)
		if f.ClosingSpeed > 0 {
			minTTC = math.Min(minTTC, f.FollowingDistance/f.ClosingSpeed)
		}
	}
	if math.IsInf(minGap, 1) {
		minGap = risk.FreeRoadDistance
	}
	return minGap, minTTC
}

func (h *EvalHarness) speedRMSE(rec *runlog.Record) (float64, int) {
	var sum float64
	var n int
	for _, e := range rec.Entries {
		if e.Tick < h.config.SettleTicks || e.Mode != supervisor.Nominal {
			continue
		}
		d := e.Ego.Speed - e.TargetSpeed
		sum += d * d
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return math.Sqrt(sum / float64(n)), n
}

func modeOccupancy(rec *runlog.Record) map[supervisor.Mode]float64 {
	out := make(map[supervisor.Mode]float64, 3)
	if len(rec.Entries) == 0 {
		return out
	}
	for _, e := range rec.Entries {
		out[e.Mode]++
	}
	for m := range out {
		out[m] /= float64(len(rec.Entries))
	}
	return out
}

func faultRate(rec *runlog.Record) float64 {
	if len(rec.Entries) == 0 {
		return 0
	}
	var n int
	for _, e := range rec.Entries {
		if e.EstimatorFault != "" {
			n++
		}
	}
	return float64(n) / float64(len(rec.Entries))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
