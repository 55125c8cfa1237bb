package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/metrics"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/perturb"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/planner"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/risk"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/runlog"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/scenario"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/sim"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/state"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/supervisor"
)

// #endregion

// #region orchestrator-struct

// Orchestrator drives one run of the control loop. It is single-use.
type Orchestrator struct {
	rc      RunContext
	deps    Deps
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger

	// perception carried across dropped frames
	perceived        state.EgoState
	perceivedTraffic []state.AgentState
	havePerceived    bool
}

// #endregion

// #region constructor

// New wires an orchestrator. Simulator, Source, Producer, Estimator, Supervisor,
// Planner and Controller are required.
func New(rc RunContext, deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Simulator == nil:
		return nil, errors.New("new orchestrator: simulator is required")
	case deps.Source == nil, deps.Producer == nil:
		return nil, errors.New("new orchestrator: perturbation source and feature producer are required")
	case deps.Estimator == nil:
		return nil, errors.New("new orchestrator: estimator is required")
	case deps.Supervisor == nil, deps.Planner == nil, deps.Controller == nil:
		return nil, errors.New("new orchestrator: supervisor, planner and controller are required")
	}
	if rc.RunID == "" {
		rc = NewRunContext(rc.OutputDir)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.EstimatorTimeout <= 0 {
		opts.EstimatorTimeout = time.Duration(deps.Params.EstimatorTimeoutMS) * time.Millisecond
	}
	if opts.EstimatorTimeout <= 0 {
		opts.EstimatorTimeout = 50 * time.Millisecond
	}

	o := &Orchestrator{
		rc:     rc,
		deps:   deps,
		opts:   opts,
		logger: logger.With("component", "orchestrator", "run_id", rc.RunID, "scenario", deps.Scenario.Name),
	}
	if opts.RealTime && deps.Scenario.TimestepS > 0 {
		o.limiter = rate.NewLimiter(rate.Every(time.Duration(deps.Scenario.TimestepS*float64(time.Second))), 1)
	}
	return o, nil
}

// RunID returns the id the run is recorded under.
func (o *Orchestrator) RunID() string {
	return o.rc.RunID
}

// #endregion

// #region run

// Run executes ticks until the simulator reports done, max ticks is reached, the
// context is cancelled between ticks, or a fatal fault occurs. The returned record is
// never nil and has already been flushed to every sink; the simulator is closed last.
// Estimator faults are absorbed. Simulator, perturbation and MRC faults end the run and
// are returned wrapped.
func (o *Orchestrator) Run(ctx context.Context) (*runlog.Record, error) {
	spec := o.deps.Scenario
	rec := runlog.NewRecord(runlog.Header{
		RunID:      o.rc.RunID,
		SuiteID:    o.rc.SuiteID,
		Scenario:   spec,
		Params:     o.deps.Params,
		Policy:     o.opts.PolicyName,
		Estimator:  o.opts.EstimatorName,
		OutputPath: o.rc.OutputPath(),
		StartedAt:  time.Now().UTC(),
	})

	metrics.RunsInFlight.Inc()
	defer metrics.RunsInFlight.Dec()

	reason, runErr := o.loop(ctx, rec)
	rec.Footer.EndedAt = time.Now().UTC()
	rec.Footer.Reason = reason
	if runErr != nil {
		rec.Footer.Error = runErr.Error()
	}

	metrics.RunsTotal.WithLabelValues(spec.Name, reason).Inc()
	if rec.Footer.Info.Crash {
		metrics.CollisionsTotal.WithLabelValues(spec.Name).Inc()
	}
	o.logger.Info("run ended", "reason", reason, "ticks", len(rec.Entries),
		"distance", rec.Footer.Info.Distance, "crash", rec.Footer.Info.Crash, "transitions", len(rec.Transitions))

	flushErr := o.flush(rec)
	closeErr := o.deps.Simulator.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("close simulator: %w", closeErr)
	}
	return rec, errors.Join(runErr, flushErr, closeErr)
}

func (o *Orchestrator) loop(ctx context.Context, rec *runlog.Record) (string, error) {
	spec := o.deps.Scenario
	obs, err := o.deps.Simulator.Reset(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return runlog.ReasonCancelled, nil
		}
		return runlog.ReasonSimulatorFault, fmt.Errorf("run %s: reset: %w", o.rc.RunID, asSimFault(err))
	}
	ego, traffic := obs.Ego, obs.Traffic
	rec.Footer.Info = obs.Info
	rec.Footer.FinalEgo = &ego
	o.logger.Info("run started", "seed", spec.Seed, "agents", len(traffic), "max_ticks", spec.MaxTicks)

	// Ticks run to completion once started; cancellation is observed between them.
	tickCtx := context.WithoutCancel(ctx)

	for tick := 0; tick < spec.MaxTicks; tick++ {
		if ctx.Err() != nil {
			return runlog.ReasonCancelled, nil
		}
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return runlog.ReasonCancelled, nil
			}
		}

		started := time.Now()
		res, reason, err := o.tick(tickCtx, rec, tick, ego, traffic)
		metrics.TickLatency.WithLabelValues(spec.Name).Observe(time.Since(started).Seconds())
		metrics.TicksTotal.WithLabelValues(spec.Name).Inc()
		if err != nil {
			// The last entry never reached the simulator, so there is no state after it.
			if reason != runlog.ReasonPerturbation {
				rec.Footer.FinalEgo = nil
			}
			return reason, err
		}

		ego, traffic = res.Ego, res.Traffic
		rec.Footer.FinalEgo = &ego
		rec.Footer.Traffic = traffic
		rec.Footer.Info = res.Info
		rec.Footer.Reward += res.Reward
		rec.Footer.Terminated = res.Terminated
		if res.Terminated || res.Truncated {
			return runlog.ReasonScenarioEnded, nil
		}
	}
	return runlog.ReasonMaxTicks, nil
}

// #endregion

// #region tick

// tick runs one full perturb → estimate → supervise → plan → control → act → log cycle.
// ego and traffic are the ground truth the tick starts from.
func (o *Orchestrator) tick(ctx context.Context, rec *runlog.Record, tick int, ego state.EgoState, traffic []state.AgentState) (sim.StepResult, string, error) {
	spec := o.deps.Scenario

	d, err := o.deps.Source.Next(tick, ego)
	if err != nil {
		return sim.StepResult{}, runlog.ReasonPerturbation, fmt.Errorf("run %s: tick %d: %w", o.rc.RunID, tick, err)
	}
	o.deps.Producer.Observe(d)
	if d.FrameDropped {
		metrics.FrameDropsTotal.WithLabelValues(spec.Name).Inc()
	}

	pEgo, pTraffic := o.perceive(ego, traffic, d)
	features := o.deps.Producer.Produce(tick, pEgo, pTraffic)

	assessment, estErr := o.assess(ctx, features)
	decision := o.deps.Supervisor.Evaluate(tick, assessment, estErr)
	entry := runlog.Entry{
		Tick:        tick,
		Ego:         ego,
		Disturbance: d,
		Features:    features,
		Risk:        assessment,
		Mode:        decision.Mode,
	}
	if decision.Fault != nil {
		// NaN and out-of-range values never reach the log; a fault counts as certain risk.
		entry.Risk = risk.Assessment{Probability: 1, HorizonSeconds: features.Horizon}
		entry.EstimatorFault = decision.Fault.Error()
		metrics.EstimatorFaultsTotal.WithLabelValues(spec.Name).Inc()
	} else {
		metrics.RiskProbability.WithLabelValues(spec.Name).Observe(assessment.Probability)
	}
	if ev := decision.Event; ev != nil {
		rec.Transitions = append(rec.Transitions, *ev)
		metrics.ModeTransitionsTotal.WithLabelValues(spec.Name, string(ev.From), string(ev.To)).Inc()
	}
	metrics.ModeTicksTotal.WithLabelValues(spec.Name, string(decision.Mode)).Inc()

	plan, err := o.plan(pEgo, pTraffic, decision.Mode)
	if err != nil {
		appendEntry(rec, entry)
		return sim.StepResult{}, runlog.ReasonMRCUnavailable, fmt.Errorf("run %s: tick %d: %w", o.rc.RunID, tick, err)
	}
	entry.PlanCandidate = plan.Candidate
	entry.PlanCost = plan.Cost.Total
	entry.TargetSpeed = plan.TargetSpeed
	entry.Command = o.deps.Controller.Compute(plan, pEgo)

	if err := o.applyEvents(d); err != nil {
		appendEntry(rec, entry)
		return sim.StepResult{}, runlog.ReasonSimulatorFault, fmt.Errorf("run %s: tick %d: %w", o.rc.RunID, tick, asSimFault(err))
	}

	res, err := o.deps.Simulator.Step(ctx, entry.Command)
	appendEntry(rec, entry)
	if err != nil {
		return sim.StepResult{}, runlog.ReasonSimulatorFault, fmt.Errorf("run %s: tick %d: step: %w", o.rc.RunID, tick, asSimFault(err))
	}
	return res, "", nil
}

// perceive derives the ego and traffic the stack sees this tick. A dropped frame repeats
// the last perception; the first tick always perceives fresh data.
func (o *Orchestrator) perceive(ego state.EgoState, traffic []state.AgentState, d perturb.Disturbance) (state.EgoState, []state.AgentState) {
	if d.FrameDropped && o.havePerceived {
		return o.perceived, o.perceivedTraffic
	}
	p := ego
	p.Position.X += d.PositionNoise.X
	p.Position.Y += d.PositionNoise.Y
	o.perceived = p
	o.perceivedTraffic = append([]state.AgentState(nil), traffic...)
	o.havePerceived = true
	return o.perceived, o.perceivedTraffic
}

// assess calls the estimator under the tick's deadline. Every failure, including a reply
// that arrives after the deadline, is returned wrapping risk.ErrEstimatorFault.
func (o *Orchestrator) assess(ctx context.Context, f risk.Features) (risk.Assessment, error) {
	actx, cancel := context.WithTimeout(ctx, o.opts.EstimatorTimeout)
	defer cancel()
	started := time.Now()
	a, err := o.deps.Estimator.Assess(actx, f)
	metrics.EstimatorLatency.WithLabelValues(o.deps.Scenario.Name).Observe(time.Since(started).Seconds())
	if err == nil && actx.Err() != nil {
		err = actx.Err()
	}
	if err != nil && !errors.Is(err, risk.ErrEstimatorFault) {
		err = fmt.Errorf("%w: %w", risk.ErrEstimatorFault, err)
	}
	return a, err
}

// plan asks for the mode's trajectory. A cruise planning failure falls back to the stop
// plan; a failed stop plan is fatal.
func (o *Orchestrator) plan(ego state.EgoState, traffic []state.AgentState, mode supervisor.Mode) (planner.TrajectoryPlan, error) {
	plan, err := o.deps.Planner.Plan(ego, traffic, mode)
	if err == nil {
		return plan, nil
	}
	if mode != supervisor.MRC {
		o.logger.Warn("planning failed, falling back to stop plan", "mode", mode, "err", err)
		if plan, stopErr := o.deps.Planner.StopPlan(ego, traffic); stopErr == nil {
			return plan, nil
		}
	}
	return planner.TrajectoryPlan{}, fmt.Errorf("%w: %w", ErrMRCUnavailable, err)
}

// applyEvents enacts the tick's fired scripted events on simulators that support them.
func (o *Orchestrator) applyEvents(d perturb.Disturbance) error {
	if len(d.EventsFired) == 0 {
		return nil
	}
	metrics.EventsFiredTotal.WithLabelValues(o.deps.Scenario.Name).Add(float64(len(d.EventsFired)))
	applier, ok := o.deps.Simulator.(sim.EventApplier)
	if !ok {
		o.logger.Debug("simulator ignores scripted events", "events", d.EventsFired)
		return nil
	}
	return ApplyFired(applier, o.deps.Scenario, d.EventsFired)
}

// #endregion

// #region helpers

// ApplyFired applies the named events of the scenario in the order given.
func ApplyFired(applier sim.EventApplier, spec scenario.Spec, ids []string) error {
	for _, id := range ids {
		ev, ok := spec.EventByID(id)
		if !ok {
			return fmt.Errorf("apply event %s: unknown event id", id)
		}
		if err := applier.ApplyEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) flush(rec *runlog.Record) error {
	var errs []error
	for _, s := range o.deps.Sinks {
		if err := s.Persist(rec); err != nil {
			o.logger.Error("persist run", "err", err)
			errs = append(errs, fmt.Errorf("persist run %s: %w", rec.Header.RunID, err))
		}
	}
	return errors.Join(errs...)
}

func appendEntry(rec *runlog.Record, e runlog.Entry) {
	// Ticks are generated in order, so Append cannot fail here.
	_ = rec.Append(e)
}

func asSimFault(err error) error {
	if errors.Is(err, sim.ErrSimulatorFault) {
		return err
	}
	return fmt.Errorf("%w: %w", sim.ErrSimulatorFault, err)
}

// #endregion
