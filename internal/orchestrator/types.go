package orchestrator

// #region imports
import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/config"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/control"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/perturb"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/planner"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/risk"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/runlog"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/scenario"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/sim"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/supervisor"
)

// #endregion

// ErrMRCUnavailable means the planner could not produce the stop trajectory. The run cannot continue safely.
var ErrMRCUnavailable = errors.New("minimal risk condition unavailable")

// #region run-context

// RunContext identifies one run and owns its output location for the run's lifetime.
type RunContext struct {
	RunID     string
	SuiteID   string
	OutputDir string // empty: nothing written to disk by default
}

// NewRunContext creates a RunContext with a fresh run id.
func NewRunContext(outputDir string) RunContext {
	return RunContext{RunID: uuid.NewString(), OutputDir: outputDir}
}

// OutputPath returns the JSONL path of the run, or "" without an output directory.
func (rc RunContext) OutputPath() string {
	if rc.OutputDir == "" {
		return ""
	}
	return filepath.Join(rc.OutputDir, rc.RunID, runlog.RunFileName)
}

// #endregion

// #region deps

// Deps is everything one run needs. No field may be shared with another concurrent run.
type Deps struct {
	Scenario   scenario.Spec
	Params     config.StackParams
	Simulator  sim.Simulator
	Source     perturb.Source
	Producer   *risk.FeatureProducer
	Estimator  risk.Estimator
	Supervisor *supervisor.Supervisor
	Planner    *planner.Planner
	Controller *control.Controller
	Sinks      []runlog.Sink
	Logger     *slog.Logger
}

// Assemble builds the standard stack for one run around the given simulator and estimator.
// A nil policy means the scenario's static perturbation probabilities.
func Assemble(spec scenario.Spec, params config.StackParams, simulator sim.Simulator, est risk.Estimator, policy perturb.Policy, logger *slog.Logger) Deps {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	pc := risk.DefaultProducerConfig()
	pc.Horizon = params.RiskHorizonS
	return Deps{
		Scenario:   spec,
		Params:     params,
		Simulator:  simulator,
		Source:     perturb.NewEngine(spec, policy),
		Producer:   risk.NewFeatureProducer(spec, pc),
		Estimator:  est,
		Supervisor: supervisor.New(supervisor.ThresholdsFromParams(params), logger),
		Planner:    planner.New(planner.NewStraightRoad(spec, params.MaxSpeedMPS), params, logger),
		Controller: control.New(params, spec.TimestepS),
		Logger:     logger,
	}
}

// #endregion

// #region options

// Options tune how a run is driven and labelled.
type Options struct {
	// RealTime paces ticks at one per scenario timestep instead of as fast as possible.
	RealTime bool
	// EstimatorTimeout bounds each Assess call. Zero uses the params' estimator_timeout_ms.
	EstimatorTimeout time.Duration
	PolicyName       string
	EstimatorName    string
}

// #endregion
