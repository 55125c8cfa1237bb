package control

import "github.com/danielpatrickdp/robust-autonomy-stack/internal/state"

// #region pid
// PID is the longitudinal speed loop. Output in [-1, 1]: positive throttle, negative brake.
type PID struct {
	Kp, Ki, Kd    float64
	IntegralLimit float64

	integral float64
	prevErr  float64
	primed   bool
}

// Update advances the loop by dt seconds for the given speed error.
// The integral only accumulates when doing so does not push a saturated output further.
func (c *PID) Update(err, dt float64) float64 {
	var deriv float64
	if c.primed && dt > 0 {
		deriv = (err - c.prevErr) / dt
	}
	c.prevErr = err
	c.primed = true

	next := state.Clamp(c.integral+err*dt, -c.IntegralLimit, c.IntegralLimit)
	raw := c.Kp*err + c.Ki*next + c.Kd*deriv
	saturated := raw > 1 || raw < -1
	if !saturated || (raw > 0) != (err > 0) {
		c.integral = next
	} else {
		raw = c.Kp*err + c.Ki*c.integral + c.Kd*deriv
	}
	return state.Clamp(raw, -1, 1)
}

// Integral exposes the accumulated integral term.
func (c *PID) Integral() float64 {
	return c.integral
}

// Reset clears the loop state.
func (c *PID) Reset() {
	c.integral, c.prevErr, c.primed = 0, 0, false
}

// #endregion pid
