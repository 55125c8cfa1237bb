package perturb

import (
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/scenario"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/state"
)

// #region disturbance
// Disturbance is the per-tick perturbation record. It is never mutated after creation.
type Disturbance struct {
	Tick          int        `json:"tick"`
	FrameDropped  bool       `json:"frame_dropped"`
	PositionNoise state.Vec2 `json:"position_noise"`
	EventsFired   []string   `json:"events_fired,omitempty"` // declared order
}

// #endregion disturbance

// #region source
// Source yields one Disturbance per tick. The live Engine and RecordedSource both satisfy it.
type Source interface {
	Next(tick int, ego state.EgoState) (Disturbance, error)
}

// #endregion source

// #region policy
// Observation is what a perturbation policy sees before each tick.
type Observation struct {
	Tick     int
	Ego      state.EgoState
	Scenario scenario.Spec
}

// Adjustment is the per-tick stress level chosen by a policy.
type Adjustment struct {
	FrameDropProb    float64
	PositionNoiseStd float64
}

// Policy decides how hard to perturb a tick. Adversarial training plugs in here.
// Implementations must be pure functions of the observation; the engine's
// determinism contract depends on it.
type Policy interface {
	Adjust(obs Observation) Adjustment
}

// StaticPolicy uses the scenario's configured probabilities unchanged.
type StaticPolicy struct{}

// Adjust implements Policy.
func (StaticPolicy) Adjust(obs Observation) Adjustment {
	return Adjustment{
		FrameDropProb:    obs.Scenario.FrameDropProb,
		PositionNoiseStd: obs.Scenario.PositionNoiseStd,
	}
}

// RampPolicy escalates linearly from the scenario values to the ceilings over RampTicks.
type RampPolicy struct {
	RampTicks           int
	MaxFrameDropProb    float64
	MaxPositionNoiseStd float64
}

// Adjust implements Policy.
func (p RampPolicy) Adjust(obs Observation) Adjustment {
	frac := 1.0
	if p.RampTicks > 0 && obs.Tick < p.RampTicks {
		frac = float64(obs.Tick) / float64(p.RampTicks)
	}
	base := obs.Scenario
	return Adjustment{
		FrameDropProb:    state.Clamp(lerp(base.FrameDropProb, p.MaxFrameDropProb, frac), 0, 1),
		PositionNoiseStd: lerp(base.PositionNoiseStd, p.MaxPositionNoiseStd, frac),
	}
}

func lerp(a, b, t float64) float64 {
	if b < a {
		return a
	}
	return a + (b-a)*t
}

// #endregion policy
