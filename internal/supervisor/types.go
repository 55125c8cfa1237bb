package supervisor

import (
	"fmt"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/config"
)

// #region mode
// Mode is the active autonomy mode. Exactly one is active at any time.
type Mode string

const (
	Nominal  Mode = "NOMINAL"
	Cautious Mode = "CAUTIOUS"
	MRC      Mode = "MINIMAL_RISK_CONDITION"
)

// Rank orders modes by severity: NOMINAL 0, CAUTIOUS 1, MRC 2.
func (m Mode) Rank() int {
	switch m {
	case Cautious:
		return 1
	case MRC:
		return 2
	}
	return 0
}

// ParseMode accepts the canonical mode names.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case Nominal, Cautious, MRC:
		return m, nil
	}
	return "", fmt.Errorf("unknown supervisor mode %q", s)
}

// #endregion mode

// #region state
// State is the full supervisor state: the mode plus the debounce counter of
// consecutive ticks spent below the current mode's exit threshold.
type State struct {
	Mode  Mode `json:"mode"`
	Below int  `json:"below"`
}

// Initial is the state every run starts in.
func Initial() State {
	return State{Mode: Nominal}
}

// #endregion state

// #region thresholds
// Thresholds configures the transition function.
type Thresholds struct {
	Cautious      float64
	MRC           float64
	DebounceTicks int // consecutive ticks below the exit threshold needed to de-escalate
}

// DefaultThresholds mirrors DefaultStackParams.
func DefaultThresholds() Thresholds {
	return ThresholdsFromParams(config.DefaultStackParams())
}

// ThresholdsFromParams extracts the supervisor settings from the stack parameters.
func ThresholdsFromParams(p config.StackParams) Thresholds {
	return Thresholds{
		Cautious:      p.RiskThresholdCautious,
		MRC:           p.RiskThresholdMRC,
		DebounceTicks: p.DebounceTicks,
	}
}

// #endregion thresholds

// #region transition-event
// Transition reasons recorded in the provenance log.
const (
	ReasonRiskCautious = "risk_at_or_above_cautious"
	ReasonRiskMRC      = "risk_at_or_above_mrc"
	ReasonRecovered    = "debounced_recovery"
	ReasonFault        = "estimator_fault"
)

// Event describes one mode change.
type Event struct {
	Tick        int     `json:"tick"`
	From        Mode    `json:"from"`
	To          Mode    `json:"to"`
	Probability float64 `json:"probability"`
	Reason      string  `json:"reason"`
	Fault       string  `json:"fault,omitempty"`
}

// #endregion transition-event

// #region decision
// Decision is the supervisor output for one tick.
type Decision struct {
	Mode  Mode
	State State
	Fault error  // estimator fault absorbed this tick, if any
	Event *Event // non-nil when the mode changed
}

// #endregion decision
