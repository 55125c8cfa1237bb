package perturb

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/scenario"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/state"
)

// #region draw
// TickRand returns the generator for one tick. It depends only on (seed, tick),
// so any tick can be regenerated without replaying the ticks before it.
func TickRand(seed int64, tick int) *rand.Rand {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%d", seed, tick)))
	return rand.New(rand.NewPCG(
		binary.BigEndian.Uint64(sum[0:8]),
		binary.BigEndian.Uint64(sum[8:16]),
	))
}

// Draw performs the random part of a tick's disturbance. All three variates are
// always drawn, in fixed order, so the stream never depends on the probabilities.
func Draw(seed int64, tick int, adj Adjustment) (dropped bool, noise state.Vec2) {
	r := TickRand(seed, tick)
	u := r.Float64()
	nx := r.NormFloat64()
	ny := r.NormFloat64()

	dropped = u < adj.FrameDropProb
	if adj.PositionNoiseStd > 0 {
		noise = state.Vec2{X: nx * adj.PositionNoiseStd, Y: ny * adj.PositionNoiseStd}
	}
	return dropped, noise
}

// #endregion draw

// #region engine
// Engine is the live perturbation source for one run. Not safe for concurrent use;
// each run owns its own engine.
type Engine struct {
	spec          scenario.Spec
	policy        Policy
	fired         map[string]bool
	blackoutUntil int // exclusive tick bound of the active sensor blackout
}

// NewEngine creates an engine for the scenario. A nil policy means StaticPolicy.
func NewEngine(spec scenario.Spec, policy Policy) *Engine {
	if policy == nil {
		policy = StaticPolicy{}
	}
	return &Engine{
		spec:   spec,
		policy: policy,
		fired:  make(map[string]bool, len(spec.ScriptedEvents)),
	}
}

// Next implements Source: next_disturbance(tick, seed, spec, ego).
func (e *Engine) Next(tick int, ego state.EgoState) (Disturbance, error) {
	adj := e.policy.Adjust(Observation{Tick: tick, Ego: ego, Scenario: e.spec})
	if math.IsNaN(adj.FrameDropProb) || math.IsNaN(adj.PositionNoiseStd) || adj.PositionNoiseStd < 0 {
		return Disturbance{}, fmt.Errorf("perturbation policy returned invalid adjustment %+v at tick %d", adj, tick)
	}

	dropped, noise := Draw(e.spec.Seed, tick, adj)
	d := Disturbance{
		Tick:          tick,
		FrameDropped:  dropped,
		PositionNoise: noise,
	}

	for _, ev := range e.spec.ScriptedEvents {
		if e.fired[ev.ID] || !triggered(ev.Trigger, tick, ego) {
			continue
		}
		e.fired[ev.ID] = true
		d.EventsFired = append(d.EventsFired, ev.ID)
		if ev.Effect.Type == scenario.EffectSensorBlackout {
			if until := tick + ev.Effect.DurationTicks; until > e.blackoutUntil {
				e.blackoutUntil = until
			}
		}
	}
	if tick < e.blackoutUntil {
		d.FrameDropped = true
	}
	return d, nil
}

// Fired reports whether the event has already fired in this run.
func (e *Engine) Fired(id string) bool {
	return e.fired[id]
}

// #endregion engine

// #region triggers
func triggered(t scenario.Trigger, tick int, ego state.EgoState) bool {
	switch t.Type {
	case scenario.TriggerAtTick:
		return tick >= t.Tick
	case scenario.TriggerEgoXBeyond:
		return ego.Position.X >= t.X
	case scenario.TriggerNearPoint:
		return math.Hypot(ego.Position.X-t.X, ego.Position.Y-t.Y) <= t.Radius
	}
	return false
}

// #endregion triggers

// #region recorded
// RecordedSource replays a logged disturbance stream instead of drawing new ones.
type RecordedSource struct {
	stream []Disturbance
}

// NewRecordedSource wraps a disturbance log ordered by tick.
func NewRecordedSource(stream []Disturbance) *RecordedSource {
	return &RecordedSource{stream: stream}
}

// Next implements Source.
func (r *RecordedSource) Next(tick int, _ state.EgoState) (Disturbance, error) {
	if tick < 0 || tick >= len(r.stream) {
		return Disturbance{}, fmt.Errorf("no recorded disturbance for tick %d (have %d)", tick, len(r.stream))
	}
	d := r.stream[tick]
	if d.Tick != tick {
		return Disturbance{}, fmt.Errorf("recorded disturbance out of order: index %d holds tick %d", tick, d.Tick)
	}
	return d, nil
}

// #endregion recorded
