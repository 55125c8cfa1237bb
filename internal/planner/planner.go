package planner

import (
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/config"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/state"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/supervisor"
)

const (
	collisionStep = 0.1  // s, prediction step for straight-line extrapolation
	lateralMargin = 0.3  // m added to the half-widths when testing lateral overlap
	costTieEps    = 1e-9 // costs closer than this are ties
)

// #region profile
// profile is the mode-dependent cost profile.
type profile struct {
	targetSpeed     float64
	collisionWeight float64
}

func (p *Planner) profileFor(mode supervisor.Mode) profile {
	target := math.Min(p.params.TargetSpeedMPS, p.road.SpeedLimit())
	pr := profile{targetSpeed: target, collisionWeight: p.params.CollisionWeight}
	if mode == supervisor.Cautious {
		pr.targetSpeed *= p.params.CautiousSpeedScale
		pr.collisionWeight *= p.params.CautiousCollisionScale
	}
	return pr
}

// #endregion profile

// #region planner
// Planner picks the lowest-cost candidate trajectory each tick. Stateless between ticks.
type Planner struct {
	road   LaneGraph
	params config.StackParams
	logger *slog.Logger
}

// New creates a planner over the given lane graph. logger may be nil.
func New(road LaneGraph, params config.StackParams, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Planner{road: road, params: params, logger: logger.With("component", "planner")}
}

// Plan returns the chosen trajectory for the mode. In MRC the single stop candidate
// is returned without weighted selection.
func (p *Planner) Plan(ego state.EgoState, traffic []state.AgentState, mode supervisor.Mode) (TrajectoryPlan, error) {
	if mode == supervisor.MRC {
		return p.StopPlan(ego, traffic)
	}
	scored, err := p.Candidates(ego, traffic, mode)
	if err != nil {
		return TrajectoryPlan{}, err
	}

	best := 0
	for i := 1; i < len(scored); i++ {
		if better(scored[i], scored[best]) {
			best = i
		}
	}
	plan := scored[best]
	plan.Considered = len(scored)
	p.logger.Debug("plan selected", "mode", mode, "candidate", plan.Candidate, "cost", plan.Cost.Total)
	return plan, nil
}

// Candidates generates and scores every cruise candidate for the mode, in generation order.
func (p *Planner) Candidates(ego state.EgoState, traffic []state.AgentState, mode supervisor.Mode) ([]TrajectoryPlan, error) {
	if !finitePose(ego) {
		return nil, fmt.Errorf("plan: %w: non-finite ego pose", ErrNoCandidate)
	}
	curLane, _, _ := p.road.Locate(ego.Position.X, ego.Position.Y)
	pr := p.profileFor(mode)

	cands := p.cruiseCandidates(curLane, ego.Speed, pr.targetSpeed)
	if len(cands) == 0 {
		return nil, fmt.Errorf("plan: %w: lane %d of %d", ErrNoCandidate, curLane, p.road.LaneCount())
	}
	out := make([]TrajectoryPlan, 0, len(cands))
	for _, c := range cands {
		out = append(out, p.materialise(c, ego, traffic, pr))
	}
	return out, nil
}

// StopPlan returns the decelerate-to-stop-in-lane trajectory. The target speed is the
// stop profile's speed one second ahead, so the speed loop tracks mrc_decel_mps2.
func (p *Planner) StopPlan(ego state.EgoState, traffic []state.AgentState) (TrajectoryPlan, error) {
	if !finitePose(ego) {
		return TrajectoryPlan{}, fmt.Errorf("stop plan: %w: non-finite ego pose", ErrNoCandidate)
	}
	curLane, _, _ := p.road.Locate(ego.Position.X, ego.Position.Y)
	c, err := p.stopCandidate(curLane, ego.Speed)
	if err != nil {
		return TrajectoryPlan{}, err
	}
	plan := p.materialise(c, ego, traffic, p.profileFor(supervisor.MRC))
	plan.TargetSpeed = math.Max(ego.Speed-p.params.MRCDecelMPS2, 0)
	plan.Considered = 1
	return plan, nil
}

// #endregion planner

// #region scoring
func (p *Planner) materialise(c candidate, ego state.EgoState, traffic []state.AgentState, pr profile) TrajectoryPlan {
	return TrajectoryPlan{
		Candidate:   c.name,
		Lane:        c.lane,
		LaneOffset:  c.offset,
		Waypoints:   c.waypoints(ego.Position.X, ego.Position.Y, ego.Speed),
		TargetSpeed: c.speed,
		Cost:        p.cost(c, ego, traffic, pr),
	}
}

// cost = w_c·collision + w_p·(target − achieved)² + w_f·jerk_penalty + w_l·violation.
func (p *Planner) cost(c candidate, ego state.EgoState, traffic []state.AgentState, pr profile) CostBreakdown {
	h := p.params.RiskHorizonS
	v0 := ego.Speed
	_, achieved := travelled(v0, c.speed, c.accel, h)

	var b CostBreakdown
	b.Collision = pr.collisionWeight * p.collisionRisk(c, ego, traffic)

	shortfall := pr.targetSpeed - achieved
	if c.stop {
		shortfall = 0 // stopping is the goal
	}
	b.Progress = p.params.ProgressWeight * shortfall * shortfall

	b.Comfort = p.params.ComfortWeight * jerkPenalty(c, ego, achieved, h)

	b.Legality = p.params.LegalityWeight * p.violation(c, ego)
	b.Total = b.Collision + b.Progress + b.Comfort + b.Legality
	return b
}

// jerkPenalty is the squared longitudinal acceleration demand over the horizon plus
// the squared peak lateral acceleration of the lane-change blend.
func jerkPenalty(c candidate, ego state.EgoState, achieved, horizon float64) float64 {
	var aLong float64
	if horizon > 0 {
		aLong = (achieved - ego.Speed) / horizon
	}
	var aLat float64
	if c.blendDist > 0 {
		dy := math.Abs(c.yTarget - ego.Position.Y)
		v := math.Max(ego.Speed, achieved)
		k := math.Pi / c.blendDist
		aLat = dy / 2 * k * k * v * v
	}
	return aLong*aLong + aLat*aLat
}

// collisionRisk extrapolates every agent in a straight line and reports the worst
// clamp(1 − gap/safe_gap, 0, 1) along the candidate over the risk horizon.
func (p *Planner) collisionRisk(c candidate, ego state.EgoState, traffic []state.AgentState) float64 {
	if len(traffic) == 0 {
		return 0
	}
	x0, y0 := ego.Position.X, ego.Position.Y
	steps := int(math.Round(p.params.RiskHorizonS / collisionStep))

	var worst float64
	for k := 0; k <= steps; k++ {
		t := float64(k) * collisionStep
		s, v := travelled(ego.Speed, c.speed, c.accel, t)
		ex, ey := x0+s, c.yAt(y0, s)
		safeAhead := math.Max(p.params.MinFollowingDistance, p.params.TimeHeadway*v)

		for _, a := range traffic {
			ax := a.Position.X + a.Velocity.X*t
			ay := a.Position.Y + a.Velocity.Y*t
			width := a.Width
			if width <= 0 {
				width = state.EgoWidth
			}
			if math.Abs(ay-ey) >= (state.EgoWidth+width)/2+lateralMargin {
				continue
			}
			dx := ax - ex
			gap := math.Abs(dx) - a.Length/2 - state.EgoLength/2
			safe := safeAhead
			if dx < 0 {
				safe = p.params.MinFollowingDistance
			}
			if safe <= 0 {
				continue
			}
			worst = math.Max(worst, state.Clamp(1-gap/safe, 0, 1))
		}
	}
	return worst
}

// violation is the fraction of prediction steps over the horizon at which the ego is
// above the speed limit or has its centre outside the road edges.
func (p *Planner) violation(c candidate, ego state.EgoState) float64 {
	n := p.road.LaneCount()
	if n == 0 {
		return 0
	}
	half := p.road.LaneWidth() / 2
	lo := p.road.LaneCenterY(0) - half
	hi := p.road.LaneCenterY(n-1) + half
	limit := p.road.SpeedLimit()

	steps := int(math.Round(p.params.RiskHorizonS / collisionStep))
	var bad int
	for k := 0; k <= steps; k++ {
		s, v := travelled(ego.Speed, c.speed, c.accel, float64(k)*collisionStep)
		y := c.yAt(ego.Position.Y, s)
		if v > limit+1e-9 || y < lo || y > hi {
			bad++
		}
	}
	return float64(bad) / float64(steps+1)
}

// #endregion scoring

// #region helpers
// better reports whether a beats b: lower cost, then the smaller lane change.
func better(a, b TrajectoryPlan) bool {
	if math.Abs(a.Cost.Total-b.Cost.Total) > costTieEps {
		return a.Cost.Total < b.Cost.Total
	}
	return absInt(a.LaneOffset) < absInt(b.LaneOffset)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func finitePose(e state.EgoState) bool {
	for _, v := range []float64{e.Position.X, e.Position.Y, e.Speed} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// #endregion helpers
