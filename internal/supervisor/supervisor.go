package supervisor

import (
	"io"
	"log/slog"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/risk"
)

// #region transition
// Transition is the pure mode transition function. Escalation is immediate and one
// step at a time; de-escalation needs DebounceTicks consecutive readings below the
// exit threshold of the current mode. NOMINAL never reaches MRC in a single tick.
func Transition(s State, p float64, th Thresholds) State {
	debounce := max(th.DebounceTicks, 1)

	switch s.Mode {
	case Nominal:
		if p >= th.Cautious {
			return State{Mode: Cautious}
		}
		return State{Mode: Nominal}

	case Cautious:
		if p >= th.MRC {
			return State{Mode: MRC}
		}
		if p >= th.Cautious {
			return State{Mode: Cautious}
		}
		if below := s.Below + 1; below < debounce {
			return State{Mode: Cautious, Below: below}
		}
		return State{Mode: Nominal}

	case MRC:
		if p >= th.MRC {
			return State{Mode: MRC}
		}
		if below := s.Below + 1; below < debounce {
			return State{Mode: MRC, Below: below}
		}
		return State{Mode: Cautious}
	}
	// Unknown modes fail safe.
	return State{Mode: MRC}
}

// #endregion transition

// #region supervisor
// Supervisor owns the mode for one run. It is the only writer of the mode.
type Supervisor struct {
	th     Thresholds
	st     State
	logger *slog.Logger
}

// New creates a supervisor in the initial state. logger may be nil.
func New(th Thresholds, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Supervisor{
		th:     th,
		st:     Initial(),
		logger: logger.With("component", "supervisor"),
	}
}

// Mode returns the active mode.
func (s *Supervisor) Mode() Mode {
	return s.st.Mode
}

// State returns the full state including the debounce counter.
func (s *Supervisor) State() State {
	return s.st
}

// Evaluate advances the state machine by one tick. estErr is the estimator's error
// for the tick; any error, or an assessment failing risk.Validate, forces MRC and
// restarts the debounce window. It is never returned as an error.
func (s *Supervisor) Evaluate(tick int, a risk.Assessment, estErr error) Decision {
	from := s.st.Mode
	if estErr == nil {
		estErr = risk.Validate(a)
	}

	var reason string
	if estErr != nil {
		s.st = State{Mode: MRC}
		reason = ReasonFault
		s.logger.Warn("estimator fault, forcing MRC", "tick", tick, "from", from, "err", estErr)
	} else {
		s.st = Transition(s.st, a.Probability, s.th)
		reason = transitionReason(from, s.st.Mode)
	}

	d := Decision{Mode: s.st.Mode, State: s.st, Fault: estErr}
	if s.st.Mode != from {
		ev := &Event{
			Tick:        tick,
			From:        from,
			To:          s.st.Mode,
			Probability: a.Probability,
			Reason:      reason,
		}
		if estErr != nil {
			ev.Probability = 1 // faults are logged as certain risk
			ev.Fault = estErr.Error()
		}
		d.Event = ev
		s.logger.Info("mode transition", "tick", tick, "from", from, "to", s.st.Mode, "p", a.Probability, "reason", reason)
	}
	return d
}

// #endregion supervisor

// #region helpers
func transitionReason(from, to Mode) string {
	switch {
	case to.Rank() < from.Rank():
		return ReasonRecovered
	case to == MRC:
		return ReasonRiskMRC
	default:
		return ReasonRiskCautious
	}
}

// #endregion helpers
