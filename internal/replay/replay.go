package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/orchestrator"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/perturb"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/runlog"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/sim"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/state"
)

// #region types
// Tolerance bounds the allowed trajectory error per tick.
type Tolerance struct {
	Position float64 // m
	Heading  float64 // rad
}

// DefaultTolerance returns 1e-6 m / 1e-6 rad.
func DefaultTolerance() Tolerance {
	return Tolerance{Position: 1e-6, Heading: 1e-6}
}

// DivergenceReport is the outcome of a replay. Divergence is a result, not an error.
type DivergenceReport struct {
	RunID              string  `json:"run_id"`
	TicksCompared      int     `json:"ticks_compared"`
	Diverged           bool    `json:"diverged"`
	FirstDivergentTick int     `json:"first_divergent_tick"` // -1 when none
	PositionError      float64 `json:"position_error"`       // at the first divergent tick
	HeadingError       float64 `json:"heading_error"`
	MaxPositionError   float64 `json:"max_position_error"` // over every compared tick
	Detail             string  `json:"detail,omitempty"`
}

// DisturbanceReport is the outcome of VerifyDisturbances.
type DisturbanceReport struct {
	TicksCompared     int    `json:"ticks_compared"`
	Mismatch          bool   `json:"mismatch"`
	FirstMismatchTick int    `json:"first_mismatch_tick"` // -1 when none
	Detail            string `json:"detail,omitempty"`
}

// #endregion types

// #region replay
// Replay feeds the record's command sequence into a freshly created simulator for the
// same scenario and compares the ego trajectory tick by tick. Recorded scripted events
// are re-applied before the step of the tick they fired in. The decision pipeline is
// not re-run. Errors are returned only when the simulator itself fails to reset; the
// caller owns and closes the simulator.
func Replay(ctx context.Context, rec *runlog.Record, simulator sim.Simulator, tol Tolerance) (DivergenceReport, error) {
	report := DivergenceReport{RunID: rec.Header.RunID, FirstDivergentTick: -1}
	if len(rec.Entries) == 0 {
		report.Detail = "record has no ticks"
		return report, nil
	}

	obs, err := simulator.Reset(ctx)
	if err != nil {
		return report, fmt.Errorf("replay %s: reset: %w", rec.Header.RunID, err)
	}
	if report.compare(0, rec.Entries[0].Ego, obs.Ego, tol) {
		return report, nil
	}

	applier, canApply := simulator.(sim.EventApplier)
	last := len(rec.Entries) - 1
	for i, e := range rec.Entries {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("replay %s: %w", rec.Header.RunID, err)
		}
		want, ok := expectedAfter(rec, i)
		if !ok {
			break
		}

		if canApply && len(e.Disturbance.EventsFired) > 0 {
			if err := orchestrator.ApplyFired(applier, rec.Header.Scenario, e.Disturbance.EventsFired); err != nil {
				report.diverge(i, 0, 0, fmt.Sprintf("re-applying events: %v", err))
				return report, nil
			}
		}

		res, err := simulator.Step(ctx, e.Command)
		if err != nil {
			if errors.Is(err, sim.ErrSimulatorFault) {
				report.diverge(i+1, 0, 0, fmt.Sprintf("step %d rejected: %v", i, err))
				return report, nil
			}
			return report, fmt.Errorf("replay %s: step %d: %w", rec.Header.RunID, i, err)
		}
		if report.compare(i+1, want, res.Ego, tol) {
			return report, nil
		}
		if (res.Terminated || res.Truncated) && i < last {
			report.diverge(i+1, 0, 0, "simulator ended before the recorded run")
			return report, nil
		}
	}
	return report, nil
}

// expectedAfter returns the recorded ego after entry i's command: the next entry's
// ego, or the footer's final ego after the last entry.
func expectedAfter(rec *runlog.Record, i int) (state.EgoState, bool) {
	if i+1 < len(rec.Entries) {
		return rec.Entries[i+1].Ego, true
	}
	if rec.Footer.FinalEgo != nil {
		return *rec.Footer.FinalEgo, true
	}
	return state.EgoState{}, false
}

// compare records one comparison and reports whether it diverged.
func (r *DivergenceReport) compare(tick int, want, got state.EgoState, tol Tolerance) bool {
	r.TicksCompared++
	posErr := math.Hypot(got.Position.X-want.Position.X, got.Position.Y-want.Position.Y)
	headErr := math.Abs(state.WrapAngle(got.Heading - want.Heading))
	if math.IsNaN(posErr) || math.IsNaN(headErr) {
		r.diverge(tick, posErr, headErr, "non-finite state")
		return true
	}
	r.MaxPositionError = math.Max(r.MaxPositionError, posErr)
	if posErr > tol.Position || headErr > tol.Heading {
		r.diverge(tick, posErr, headErr, fmt.Sprintf("position error %.3g m, heading error %.3g rad", posErr, headErr))
		return true
	}
	return false
}

func (r *DivergenceReport) diverge(tick int, posErr, headErr float64, detail string) {
	r.Diverged = true
	r.FirstDivergentTick = tick
	r.PositionError = posErr
	r.HeadingError = headErr
	r.Detail = detail
}

// #endregion replay

// #region disturbances
// VerifyDisturbances re-derives the disturbance stream from src, fed with the recorded
// ground-truth ego, and compares it byte for byte with the logged stream.
func VerifyDisturbances(rec *runlog.Record, src perturb.Source) (DisturbanceReport, error) {
	report := DisturbanceReport{FirstMismatchTick: -1}
	for _, e := range rec.Entries {
		d, err := src.Next(e.Tick, e.Ego)
		if err != nil {
			return report, fmt.Errorf("verify disturbances: tick %d: %w", e.Tick, err)
		}
		want, err := json.Marshal(e.Disturbance)
		if err != nil {
			return report, fmt.Errorf("verify disturbances: %w", err)
		}
		got, err := json.Marshal(d)
		if err != nil {
			return report, fmt.Errorf("verify disturbances: %w", err)
		}
		report.TicksCompared++
		if string(want) != string(got) {
			report.Mismatch = true
			report.FirstMismatchTick = e.Tick
			report.Detail = fmt.Sprintf("recorded %s, derived %s", want, got)
			return report, nil
		}
	}
	return report, nil
}

// #endregion disturbances
