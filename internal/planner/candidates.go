package planner

import (
	"fmt"
	"math"
)

const (
	waypointSpacing = 1.0  // m
	minPathLength   = 15.0 // m
	minBlendLength  = 20.0 // m, shortest lane-change blend
	blendSeconds    = 3.0  // lane change spread over this many seconds of travel
	accelLimit      = 3.0  // m/s², comfortable acceleration used for predicted motion
)

// speedFactors scale the active target speed to form the lane-keep and lane-change family.
var speedFactors = []float64{0.5, 0.75, 1.0}

// #region candidate
// candidate is an unscored trajectory description. Waypoints are generated from it.
type candidate struct {
	name      string
	lane      int
	offset    int
	yTarget   float64
	blendDist float64
	speed     float64 // cruise speed the candidate converges to
	accel     float64 // rate used to reach speed in predicted motion
	stop      bool    // speed profile is the constant-deceleration stop
	length    float64
}

// yAt returns the lateral position after s metres along the road. The lane change
// follows a half-cosine so lateral velocity is zero at both ends.
func (c candidate) yAt(y0, s float64) float64 {
	u := 1.0
	if c.blendDist > 0 {
		u = math.Min(s/c.blendDist, 1)
	}
	return y0 + (c.yTarget-y0)*(1-math.Cos(math.Pi*u))/2
}

// speedAt returns the reference speed after s metres for an ego starting at v0.
func (c candidate) speedAt(v0, s float64) float64 {
	if c.stop {
		return math.Sqrt(math.Max(v0*v0-2*c.accel*s, 0))
	}
	return c.speed
}

// waypoints materialises the reference path from (x0, y0).
func (c candidate) waypoints(x0, y0, v0 float64) []Waypoint {
	n := int(math.Ceil(c.length / waypointSpacing))
	wps := make([]Waypoint, 0, n)
	for i := 1; i <= n; i++ {
		s := float64(i) * waypointSpacing
		wps = append(wps, Waypoint{X: x0 + s, Y: c.yAt(y0, s), Speed: c.speedAt(v0, s)})
	}
	return wps
}

// #endregion candidate

// #region generation
// cruiseCandidates builds lanes {current-1, current, current+1} that exist, crossed with speedFactors.
func (p *Planner) cruiseCandidates(curLane int, v0, target float64) []candidate {
	var out []candidate
	for offset := -1; offset <= 1; offset++ {
		lane := curLane + offset
		if lane < 0 || lane >= p.road.LaneCount() {
			continue
		}
		for _, f := range speedFactors {
			speed := target * f
			blend := math.Max(blendSeconds*math.Max(v0, speed), minBlendLength)
			out = append(out, candidate{
				name:      fmt.Sprintf("lane%d_v%.2f", lane, f),
				lane:      lane,
				offset:    offset,
				yTarget:   p.road.LaneCenterY(lane),
				blendDist: blend,
				speed:     speed,
				accel:     accelLimit,
				length:    p.pathLength(math.Max(v0, speed), blend),
			})
		}
	}
	return out
}

// stopCandidate is the single minimal-risk trajectory: stay in lane and brake to a stop.
func (p *Planner) stopCandidate(curLane int, v0 float64) (candidate, error) {
	decel := p.params.MRCDecelMPS2
	if decel <= 0 {
		return candidate{}, fmt.Errorf("stop candidate: %w: deceleration %v", ErrNoCandidate, decel)
	}
	if curLane < 0 || curLane >= p.road.LaneCount() {
		return candidate{}, fmt.Errorf("stop candidate: %w: lane %d", ErrNoCandidate, curLane)
	}
	stopDist := v0 * v0 / (2 * decel)
	return candidate{
		name:      "mrc_stop",
		lane:      curLane,
		yTarget:   p.road.LaneCenterY(curLane),
		blendDist: math.Max(blendSeconds*v0, minBlendLength),
		speed:     0,
		accel:     decel,
		stop:      true,
		length:    math.Max(stopDist+p.params.PurePursuitLookahead, math.Max(2*p.params.PurePursuitLookahead, minPathLength)),
	}, nil
}

func (p *Planner) pathLength(v, blend float64) float64 {
	l := math.Max(v*p.params.RiskHorizonS, 2*p.params.PurePursuitLookahead)
	l = math.Max(l, blend+p.params.PurePursuitLookahead)
	return math.Max(l, minPathLength)
}

// #endregion generation

// #region motion
// travelled predicts distance and speed after t seconds when moving from v0 toward
// vT at constant rate a.
func travelled(v0, vT, a, t float64) (s, v float64) {
	if a <= 0 || v0 == vT {
		return v0 * t, v0
	}
	ramp := math.Abs(vT-v0) / a
	sign := 1.0
	if vT < v0 {
		sign = -1
	}
	if t <= ramp {
		return v0*t + 0.5*sign*a*t*t, v0 + sign*a*t
	}
	return (v0+vT)/2*ramp + vT*(t-ramp), vT
}

// #endregion motion
