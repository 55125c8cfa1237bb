package planner

import "errors"

// ErrNoCandidate is returned when no trajectory can be generated from the ego pose.
var ErrNoCandidate = errors.New("no candidate trajectory")

// #region waypoint
// Waypoint is one reference point of a trajectory, spaced 1 m apart along the road.
type Waypoint struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Speed float64 `json:"speed"`
}

// #endregion waypoint

// #region cost
// CostBreakdown holds the weighted components of a candidate's cost. Total is their sum.
type CostBreakdown struct {
	Collision float64 `json:"collision"`
	Progress  float64 `json:"progress"`
	Comfort   float64 `json:"comfort"`
	Legality  float64 `json:"legality"`
	Total     float64 `json:"total"`
}

// #endregion cost

// #region plan
// TrajectoryPlan is one scored candidate. The planner returns the winner each tick.
type TrajectoryPlan struct {
	Candidate   string        `json:"candidate"` // e.g. "lane1_v0.75", "mrc_stop"
	Lane        int           `json:"lane"`
	LaneOffset  int           `json:"lane_offset"` // Lane minus the ego's current lane
	Waypoints   []Waypoint    `json:"waypoints"`
	TargetSpeed float64       `json:"target_speed"`
	Cost        CostBreakdown `json:"cost"`
	Considered  int           `json:"considered"` // number of candidates scored this tick
}

// #endregion plan

// #region lane-graph
// LaneGraph is the map view the planner needs. The map itself lives outside the planner.
type LaneGraph interface {
	LaneCount() int
	LaneCenterY(lane int) float64
	LaneWidth() float64
	SpeedLimit() float64
	Locate(x, y float64) (lane int, lateral float64, onRoad bool)
}

// #endregion lane-graph
