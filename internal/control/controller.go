package control

import (
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/config"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/planner"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/state"
)

// #region controller
// Controller converts the plan into actuation. It tracks whatever plan it is given;
// the MRC stop plan needs no special handling.
type Controller struct {
	pursuit PurePursuit
	speed   PID
	dt      float64
}

// New creates a controller from the stack parameters for a loop running every dt seconds.
func New(p config.StackParams, dt float64) *Controller {
	return &Controller{
		pursuit: PurePursuit{
			Lookahead: p.PurePursuitLookahead,
			Wheelbase: p.WheelbaseM,
			MaxSteer:  p.MaxSteerRad,
		},
		speed: PID{
			Kp:            p.PIDKp,
			Ki:            p.PIDKi,
			Kd:            p.PIDKd,
			IntegralLimit: p.PIDIntegralLimit,
		},
		dt: dt,
	}
}

// Compute implements compute_command(plan, ego_state).
func (c *Controller) Compute(plan planner.TrajectoryPlan, ego state.EgoState) state.ControlCommand {
	return state.ControlCommand{
		Steering:      c.pursuit.Steer(plan.Waypoints, ego),
		ThrottleBrake: c.speed.Update(plan.TargetSpeed-ego.Speed, c.dt),
	}.Clamped()
}

// Reset clears the speed loop between runs.
func (c *Controller) Reset() {
	c.speed.Reset()
}

// #endregion controller
