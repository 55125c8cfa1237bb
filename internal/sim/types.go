package sim

import (
	"context"
	"errors"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/scenario"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/state"
)

// ErrSimulatorFault marks a failed reset or step. It ends the current run only.
var ErrSimulatorFault = errors.New("simulator fault")

// #region info
// Info is the side-channel the simulator reports with every observation.
type Info struct {
	Crash      bool    `json:"crash,omitempty"`
	CrashAgent string  `json:"crash_agent,omitempty"`
	OutOfRoad  bool    `json:"out_of_road,omitempty"`
	Arrived    bool    `json:"arrived,omitempty"`
	Distance   float64 `json:"distance"` // m travelled along the road since reset
}

// #endregion info

// #region observation
// Observation is the result of Reset.
type Observation struct {
	Ego     state.EgoState     `json:"ego"`
	Traffic []state.AgentState `json:"traffic"`
	Info    Info               `json:"info"`
}

// StepResult is the result of Step.
type StepResult struct {
	Ego        state.EgoState     `json:"ego"`
	Traffic    []state.AgentState `json:"traffic"`
	Reward     float64            `json:"reward"`
	Terminated bool               `json:"terminated"`
	Truncated  bool               `json:"truncated"`
	Info       Info               `json:"info"`
}

// #endregion observation

// #region simulator
// Simulator is the stepping interface the control loop drives. Calls are synchronous.
type Simulator interface {
	Reset(ctx context.Context) (Observation, error)
	Step(ctx context.Context, cmd state.ControlCommand) (StepResult, error)
	Close() error
}

// EventApplier is implemented by simulators that can enact scripted scenario events.
// Events are applied before the step of the tick they fired in.
type EventApplier interface {
	ApplyEvent(ev scenario.Event) error
}

// Factory builds a fresh simulator for a scenario. Every run and every replay gets its own.
type Factory func(spec scenario.Spec) (Simulator, error)

// #endregion simulator
