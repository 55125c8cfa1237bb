package state

import "math"

// #region vectors
// Vec2 is a planar vector in world coordinates (metres or m/s).
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Vec3 is a world-frame position. Z is carried through but ignored by the planar stack.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Norm returns the Euclidean length of v.
func (v Vec2) Norm() float64 {
	return math.Hypot(v.X, v.Y)
}

// XY drops the vertical component.
func (p Vec3) XY() Vec2 {
	return Vec2{X: p.X, Y: p.Y}
}

// #endregion vectors

// #region ego-state
// EgoState is the ego vehicle snapshot reported by the simulator adapter each tick.
// The core never mutates it; perceived copies are derived from it instead.
type EgoState struct {
	Position  Vec3    `json:"position"`
	Velocity  Vec2    `json:"velocity"`
	Heading   float64 `json:"heading"`  // rad, world frame
	Steering  float64 `json:"steering"` // normalized [-1, 1]
	LaneIndex int     `json:"lane_index"`
	OnLane    bool    `json:"on_lane"`
	Speed     float64 `json:"speed"` // m/s, |Velocity|
}

// WithSpeed derives Speed from Velocity.
func (e EgoState) WithSpeed() EgoState {
	e.Speed = e.Velocity.Norm()
	return e
}

// #endregion ego-state

// Ego footprint used for gaps and collision checks.
const (
	EgoLength = 4.5
	EgoWidth  = 1.8
)

// #region agent-state
// AgentState is one traffic participant as reported by the simulator adapter.
type AgentState struct {
	ID        string  `json:"id"`
	Position  Vec2    `json:"position"`
	Velocity  Vec2    `json:"velocity"`
	Heading   float64 `json:"heading"`
	LaneIndex int     `json:"lane_index"`
	Length    float64 `json:"length"`
	Width     float64 `json:"width"`
}

// #endregion agent-state

// #region control-command
// ControlCommand is the low-level actuation sent to the simulator.
// Positive ThrottleBrake is throttle, negative is brake.
type ControlCommand struct {
	Steering      float64 `json:"steering"`
	ThrottleBrake float64 `json:"throttle_brake"`
}

// Clamped returns the command with both channels limited to [-1, 1].
func (c ControlCommand) Clamped() ControlCommand {
	return ControlCommand{
		Steering:      Clamp(c.Steering, -1, 1),
		ThrottleBrake: Clamp(c.ThrottleBrake, -1, 1),
	}
}

// #endregion control-command

// #region helpers
// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// WrapAngle maps an angle to (-pi, pi].
func WrapAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// #endregion helpers
