package planner

import "github.com/danielpatrickdp/robust-autonomy-stack/internal/scenario"

// StraightRoad is the LaneGraph of the built-in simulator's multi-lane straight road.
type StraightRoad struct {
	spec  scenario.Spec
	limit float64
}

// NewStraightRoad builds the lane graph for a scenario with the given speed limit (m/s).
func NewStraightRoad(spec scenario.Spec, speedLimit float64) StraightRoad {
	return StraightRoad{spec: spec, limit: speedLimit}
}

func (r StraightRoad) LaneCount() int               { return r.spec.Lanes }
func (r StraightRoad) LaneCenterY(lane int) float64 { return r.spec.LaneCenterY(lane) }
func (r StraightRoad) LaneWidth() float64           { return r.spec.LaneWidth }
func (r StraightRoad) SpeedLimit() float64          { return r.limit }

func (r StraightRoad) Locate(x, y float64) (int, float64, bool) {
	return r.spec.Locate(x, y)
}
