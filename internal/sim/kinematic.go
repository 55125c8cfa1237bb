package sim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/scenario"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/state"
)

// #region config
// KinematicConfig holds vehicle and traffic constants of the built-in simulator.
type KinematicConfig struct {
	Wheelbase    float64 // m
	MaxSteer     float64 // rad at |steering| = 1
	MaxAccel     float64 // m/s² at full throttle
	MaxBrake     float64 // m/s² at full brake
	Drag         float64 // 1/s, linear speed loss
	SpawnX       float64 // ego start along the road (m)
	InitialSpeed float64 // ego start speed (m/s)
	ArrivalSlack float64 // arrival when within this distance of the road end (m)

	AgentLength   float64
	AgentWidth    float64
	AgentMinSpeed float64 // desired speed range for traffic (m/s)
	AgentMaxSpeed float64

	// IDM parameters
	IDMAccel    float64 // m/s²
	IDMDecel    float64 // comfortable braking, m/s²
	IDMMinGap   float64 // m
	IDMHeadway  float64 // s
	IDMExponent float64
}

// DefaultKinematicConfig returns the stock vehicle and traffic constants.
func DefaultKinematicConfig() KinematicConfig {
	return KinematicConfig{
		Wheelbase:    2.5,
		MaxSteer:     0.7,
		MaxAccel:     3.0,
		MaxBrake:     6.0,
		Drag:         0.01,
		SpawnX:       10,
		InitialSpeed: 0,
		ArrivalSlack: 10,

		AgentLength:   4.5,
		AgentWidth:    1.8,
		AgentMinSpeed: 6,
		AgentMaxSpeed: 12,

		IDMAccel:    1.5,
		IDMDecel:    2.0,
		IDMMinGap:   2.0,
		IDMHeadway:  1.5,
		IDMExponent: 4,
	}
}

// #endregion config

// #region agent
type agent struct {
	state.AgentState
	desired    float64 // IDM desired speed
	forced     float64 // scripted braking deceleration, 0 when none
	forcedLeft int     // ticks remaining of forced braking, -1 = until stopped
}

// #endregion agent

// #region kinematic
// Kinematic is a deterministic multi-lane straight-road simulator: bicycle-model ego,
// IDM or constant-velocity traffic. Same scenario, same commands, same events give
// identical trajectories.
type Kinematic struct {
	spec   scenario.Spec
	cfg    KinematicConfig
	logger *slog.Logger

	ego    state.EgoState
	agents []*agent
	info   Info
	reset  bool
	done   bool
	closed bool
}

// NewKinematic creates the simulator. logger may be nil.
func NewKinematic(spec scenario.Spec, cfg KinematicConfig, logger *slog.Logger) *Kinematic {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Kinematic{spec: spec, cfg: cfg, logger: logger.With("component", "sim", "scenario", spec.Name)}
}

// KinematicFactory returns a Factory building Kinematic simulators with cfg.
func KinematicFactory(cfg KinematicConfig, logger *slog.Logger) Factory {
	return func(spec scenario.Spec) (Simulator, error) {
		if spec.Lanes < 1 || spec.LaneWidth <= 0 || spec.TimestepS <= 0 {
			return nil, fmt.Errorf("new kinematic sim: %w: invalid road geometry", ErrSimulatorFault)
		}
		return NewKinematic(spec, cfg, logger), nil
	}
}

// Reset implements Simulator.
func (k *Kinematic) Reset(ctx context.Context) (Observation, error) {
	if err := ctx.Err(); err != nil {
		return Observation{}, fmt.Errorf("reset: %w", err)
	}
	if k.closed {
		return Observation{}, fmt.Errorf("reset: %w: simulator closed", ErrSimulatorFault)
	}
	lane := k.spec.SpawnLane()
	k.ego = k.locate(state.EgoState{
		Position: state.Vec3{X: k.cfg.SpawnX, Y: k.spec.LaneCenterY(lane)},
		Velocity: state.Vec2{X: k.cfg.InitialSpeed},
	})
	k.agents = k.spawnAgents()
	k.info = Info{}
	k.reset, k.done = true, false

	k.logger.Debug("reset", "seed", k.spec.Seed, "agents", len(k.agents))
	return Observation{Ego: k.ego, Traffic: k.traffic(), Info: k.info}, nil
}

// Step implements Simulator.
func (k *Kinematic) Step(ctx context.Context, cmd state.ControlCommand) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, fmt.Errorf("step: %w", err)
	}
	switch {
	case k.closed:
		return StepResult{}, fmt.Errorf("step: %w: simulator closed", ErrSimulatorFault)
	case !k.reset:
		return StepResult{}, fmt.Errorf("step: %w: not reset", ErrSimulatorFault)
	case k.done:
		return StepResult{}, fmt.Errorf("step: %w: episode already terminated", ErrSimulatorFault)
	}
	if math.IsNaN(cmd.Steering) || math.IsNaN(cmd.ThrottleBrake) {
		return StepResult{}, fmt.Errorf("step: %w: NaN command", ErrSimulatorFault)
	}

	dt := k.spec.TimestepS
	x0 := k.ego.Position.X
	k.stepEgo(cmd.Clamped(), dt)
	k.stepAgents(dt)

	res := StepResult{Reward: (k.ego.Position.X - x0) * 0.1}
	k.info.Distance = k.ego.Position.X - k.cfg.SpawnX
	if id, hit := k.collision(); hit {
		k.info.Crash, k.info.CrashAgent = true, id
		res.Terminated = true
		res.Reward -= 10
	}
	if !k.ego.OnLane {
		k.info.OutOfRoad = true
		res.Terminated = true
		res.Reward -= 5
	}
	if k.ego.Position.X >= k.spec.RoadLength-k.cfg.ArrivalSlack {
		k.info.Arrived = true
		res.Terminated = true
		res.Reward += 10
	}
	k.done = res.Terminated || res.Truncated

	res.Ego, res.Traffic, res.Info = k.ego, k.traffic(), k.info
	return res, nil
}

// Close implements Simulator.
func (k *Kinematic) Close() error {
	k.closed = true
	return nil
}

// #endregion kinematic

// #region events
// ApplyEvent implements EventApplier.
func (k *Kinematic) ApplyEvent(ev scenario.Event) error {
	if !k.reset {
		return fmt.Errorf("apply event %s: %w: not reset", ev.ID, ErrSimulatorFault)
	}
	switch ev.Effect.Type {
	case scenario.EffectAgentBrake:
		a := k.agentFor(ev.Effect.AgentID)
		if a == nil {
			k.logger.Warn("agent_brake has no target", "event", ev.ID, "agent", ev.Effect.AgentID)
			return nil
		}
		a.forced = ev.Effect.DecelMPS2
		a.forcedLeft = -1
		if ev.Effect.DurationTicks > 0 {
			a.forcedLeft = ev.Effect.DurationTicks
		}

	case scenario.EffectCutIn:
		speed := ev.Effect.SpeedMPS
		if speed <= 0 {
			speed = k.ego.Speed * 0.7
		}
		id := ev.Effect.AgentID
		if id == "" {
			id = "cutin-" + ev.ID
		}
		pos := state.Vec2{
			X: k.ego.Position.X + ev.Effect.GapM + (state.EgoLength+k.cfg.AgentLength)/2,
			Y: k.spec.LaneCenterY(k.ego.LaneIndex),
		}
		if a := k.agentByID(id); a != nil {
			a.Position, a.Velocity, a.LaneIndex = pos, state.Vec2{X: speed}, k.ego.LaneIndex
			a.desired = speed
		} else {
			k.agents = append(k.agents, k.newAgent(id, k.ego.LaneIndex, pos.X, speed, speed))
		}

	case scenario.EffectSensorBlackout:
		// perception-side only
	default:
		return fmt.Errorf("apply event %s: %w: unknown effect %q", ev.ID, ErrSimulatorFault, ev.Effect.Type)
	}
	k.logger.Debug("event applied", "event", ev.ID, "effect", ev.Effect.Type)
	return nil
}

// agentFor resolves an event target: the named agent, else the nearest agent ahead in the ego lane.
func (k *Kinematic) agentFor(id string) *agent {
	if id != "" {
		return k.agentByID(id)
	}
	var best *agent
	for _, a := range k.agents {
		dx := a.Position.X - k.ego.Position.X
		if a.LaneIndex != k.ego.LaneIndex || dx <= 0 {
			continue
		}
		if best == nil || dx < best.Position.X-k.ego.Position.X {
			best = a
		}
	}
	return best
}

func (k *Kinematic) agentByID(id string) *agent {
	for _, a := range k.agents {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// #endregion events

// #region dynamics
func (k *Kinematic) stepEgo(cmd state.ControlCommand, dt float64) {
	e := k.ego
	v := e.Velocity.Norm()

	accel := cmd.ThrottleBrake * k.cfg.MaxAccel
	if cmd.ThrottleBrake < 0 {
		accel = cmd.ThrottleBrake * k.cfg.MaxBrake
	}
	accel -= k.cfg.Drag * v
	v = math.Max(v+accel*dt, 0)

	delta := cmd.Steering * k.cfg.MaxSteer
	heading := state.WrapAngle(e.Heading + v/k.cfg.Wheelbase*math.Tan(delta)*dt)

	sin, cos := math.Sincos(heading)
	e.Position.X += v * cos * dt
	e.Position.Y += v * sin * dt
	e.Heading = heading
	e.Steering = cmd.Steering
	e.Velocity = state.Vec2{X: v * cos, Y: v * sin}
	k.ego = k.locate(e)
}

func (k *Kinematic) stepAgents(dt float64) {
	// Accelerations use the pre-step snapshot so agent order does not matter.
	accels := make([]float64, len(k.agents))
	for i, a := range k.agents {
		accels[i] = k.agentAccel(a)
	}
	for i, a := range k.agents {
		v := math.Max(a.Velocity.X+accels[i]*dt, 0)
		a.Position.X += v * dt
		a.Velocity = state.Vec2{X: v}
		if a.forcedLeft > 0 {
			a.forcedLeft--
			if a.forcedLeft == 0 {
				a.forced = 0
			}
		}
	}
}

func (k *Kinematic) agentAccel(a *agent) float64 {
	if a.forced > 0 {
		return -a.forced
	}
	if k.spec.AgentPolicy == "constant_velocity" {
		return 0
	}
	c := k.cfg
	v := a.Velocity.X
	free := 1 - math.Pow(v/math.Max(a.desired, 0.1), c.IDMExponent)

	gap, leaderV, ok := k.leaderOf(a)
	if !ok {
		return c.IDMAccel * free
	}
	dv := v - leaderV
	sStar := c.IDMMinGap + math.Max(0, v*c.IDMHeadway+v*dv/(2*math.Sqrt(c.IDMAccel*c.IDMDecel)))
	gap = math.Max(gap, 0.1)
	return c.IDMAccel * (free - (sStar/gap)*(sStar/gap))
}

// leaderOf finds the nearest vehicle ahead of a in its lane, the ego included.
func (k *Kinematic) leaderOf(a *agent) (gap, speed float64, ok bool) {
	gap = math.Inf(1)
	consider := func(x, length, v float64) {
		dx := x - a.Position.X
		if dx <= 0 {
			return
		}
		if g := dx - (length+a.Length)/2; g < gap {
			gap, speed, ok = g, v, true
		}
	}
	for _, o := range k.agents {
		if o != a && o.LaneIndex == a.LaneIndex {
			consider(o.Position.X, o.Length, o.Velocity.X)
		}
	}
	if k.ego.LaneIndex == a.LaneIndex {
		consider(k.ego.Position.X, state.EgoLength, k.ego.Velocity.X)
	}
	return gap, speed, ok
}

func (k *Kinematic) collision() (string, bool) {
	for _, a := range k.agents {
		if math.Abs(a.Position.X-k.ego.Position.X) < (state.EgoLength+a.Length)/2 &&
			math.Abs(a.Position.Y-k.ego.Position.Y) < (state.EgoWidth+a.Width)/2 {
			return a.ID, true
		}
	}
	return "", false
}

func (k *Kinematic) locate(e state.EgoState) state.EgoState {
	lane, _, onRoad := k.spec.Locate(e.Position.X, e.Position.Y)
	e.LaneIndex, e.OnLane = lane, onRoad
	return e.WithSpeed()
}

// #endregion dynamics

// #region spawn
// spawnAgents places NumAgents vehicles ahead of the ego within NumAgents/TrafficDensity
// metres, drawing lanes, positions and desired speeds from the scenario seed.
func (k *Kinematic) spawnAgents() []*agent {
	n := k.spec.NumAgents
	if n <= 0 {
		return nil
	}
	rng := rand.New(rand.NewPCG(uint64(k.spec.Seed), 0x7472_6166_6669_63)) // "traffic"
	start := k.cfg.SpawnX + 20
	span := k.spec.RoadLength - start - k.cfg.ArrivalSlack
	if k.spec.TrafficDensity > 0 {
		span = math.Min(span, float64(n)/k.spec.TrafficDensity)
	}
	minSpacing := k.cfg.AgentLength + 4

	var out []*agent
	for i := 0; i < n; i++ {
		for attempt := 0; attempt < 20; attempt++ {
			lane := rng.IntN(k.spec.Lanes)
			x := start + rng.Float64()*span
			desired := k.cfg.AgentMinSpeed + rng.Float64()*(k.cfg.AgentMaxSpeed-k.cfg.AgentMinSpeed)
			if overlaps(out, lane, x, minSpacing) {
				continue
			}
			out = append(out, k.newAgent(fmt.Sprintf("agent-%d", i), lane, x, desired, desired))
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position.X < out[j].Position.X })
	return out
}

func overlaps(agents []*agent, lane int, x, spacing float64) bool {
	for _, a := range agents {
		if a.LaneIndex == lane && math.Abs(a.Position.X-x) < spacing {
			return true
		}
	}
	return false
}

func (k *Kinematic) newAgent(id string, lane int, x, speed, desired float64) *agent {
	return &agent{
		AgentState: state.AgentState{
			ID:        id,
			Position:  state.Vec2{X: x, Y: k.spec.LaneCenterY(lane)},
			Velocity:  state.Vec2{X: speed},
			LaneIndex: lane,
			Length:    k.cfg.AgentLength,
			Width:     k.cfg.AgentWidth,
		},
		desired: desired,
	}
}

func (k *Kinematic) traffic() []state.AgentState {
	out := make([]state.AgentState, len(k.agents))
	for i, a := range k.agents {
		out[i] = a.AgentState
	}
	return out
}

// #endregion spawn
