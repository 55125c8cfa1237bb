package control

import (
	"math"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/planner"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/state"
)

// #region pure-pursuit
// PurePursuit is the lateral control law. Positive steering turns left (counter-clockwise).
type PurePursuit struct {
	Lookahead float64 // m
	Wheelbase float64 // m
	MaxSteer  float64 // rad at |steering| = 1
}

// Target picks the first waypoint at least Lookahead from the ego, else the last one.
func (pp PurePursuit) Target(path []planner.Waypoint, ego state.EgoState) (planner.Waypoint, bool) {
	if len(path) == 0 {
		return planner.Waypoint{}, false
	}
	for _, wp := range path {
		if math.Hypot(wp.X-ego.Position.X, wp.Y-ego.Position.Y) >= pp.Lookahead {
			return wp, true
		}
	}
	return path[len(path)-1], true
}

// Steer returns the normalised steering command in [-1, 1].
func (pp PurePursuit) Steer(path []planner.Waypoint, ego state.EgoState) float64 {
	target, ok := pp.Target(path, ego)
	if !ok || pp.MaxSteer <= 0 {
		return 0
	}
	dx := target.X - ego.Position.X
	dy := target.Y - ego.Position.Y
	sin, cos := math.Sincos(ego.Heading)
	localX := cos*dx + sin*dy
	localY := -sin*dx + cos*dy

	ld := math.Hypot(localX, localY)
	if ld < 1e-9 {
		return 0
	}
	alpha := math.Atan2(localY, localX)
	curvature := 2 * math.Sin(alpha) / ld
	delta := math.Atan(pp.Wheelbase * curvature)
	return state.Clamp(delta/pp.MaxSteer, -1, 1)
}

// #endregion pure-pursuit
