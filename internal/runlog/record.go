package runlog

import (
	"fmt"
	"time"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/config"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/perturb"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/risk"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/scenario"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/sim"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/state"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/supervisor"
)

// Reason codes a run can end with.
const (
	ReasonScenarioEnded  = "scenario_ended"
	ReasonMaxTicks       = "max_ticks"
	ReasonSimulatorFault = "simulator_fault"
	ReasonCancelled      = "cancelled"
	ReasonMRCUnavailable = "mrc_unavailable"
	ReasonPerturbation   = "perturbation_fault"
)

// #region entry
// Entry is one tick of a run. Ego is the ground-truth state the tick started from.
type Entry struct {
	Tick           int                  `json:"tick"`
	Ego            state.EgoState       `json:"ego"`
	Disturbance    perturb.Disturbance  `json:"disturbance"`
	Features       risk.Features        `json:"features"`
	Risk           risk.Assessment      `json:"risk"`
	EstimatorFault string               `json:"estimator_fault,omitempty"`
	Mode           supervisor.Mode      `json:"mode"`
	PlanCandidate  string               `json:"plan_candidate"`
	PlanCost       float64              `json:"plan_cost"`
	TargetSpeed    float64              `json:"target_speed"`
	Command        state.ControlCommand `json:"command"`
}

// #endregion entry

// #region header-footer
// Header identifies a run and carries everything needed to rebuild it.
type Header struct {
	RunID      string             `json:"run_id"`
	SuiteID    string             `json:"suite_id,omitempty"`
	Scenario   scenario.Spec      `json:"scenario"`
	Params     config.StackParams `json:"params"`
	Policy     string             `json:"policy"`
	Estimator  string             `json:"estimator"`
	OutputPath string             `json:"output_path,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
}

// Footer closes a run. FinalEgo is the state after the last recorded command.
type Footer struct {
	EndedAt    time.Time          `json:"ended_at"`
	Reason     string             `json:"reason"`
	Error      string             `json:"error,omitempty"`
	FinalEgo   *state.EgoState    `json:"final_ego,omitempty"`
	Info       sim.Info           `json:"info"`
	Reward     float64            `json:"reward"`
	Traffic    []state.AgentState `json:"final_traffic,omitempty"`
	Terminated bool               `json:"terminated"`
}

// #endregion header-footer

// #region record
// Record is the append-only log of one run.
type Record struct {
	Header      Header             `json:"header"`
	Entries     []Entry            `json:"entries"`
	Transitions []supervisor.Event `json:"transitions,omitempty"`
	Footer      Footer             `json:"footer"`
}

// NewRecord starts an empty record.
func NewRecord(h Header) *Record {
	return &Record{Header: h}
}

// Append adds the next tick. Ticks must arrive in order starting at 0.
func (r *Record) Append(e Entry) error {
	if e.Tick != len(r.Entries) {
		return fmt.Errorf("append tick %d: record holds %d entries", e.Tick, len(r.Entries))
	}
	r.Entries = append(r.Entries, e)
	return nil
}

// Disturbances returns the logged disturbance stream in tick order.
func (r *Record) Disturbances() []perturb.Disturbance {
	out := make([]perturb.Disturbance, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.Disturbance
	}
	return out
}

// Collided reports whether the run ended in a crash.
func (r *Record) Collided() bool {
	return r.Footer.Info.Crash
}

// #endregion record

// #region sink
// Sink persists a finished (or partial) record. The orchestrator flushes to every sink
// before releasing the simulator.
type Sink interface {
	Persist(r *Record) error
}

// #endregion sink
