package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/eval"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/metrics"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/orchestrator"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/risk"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/runlog"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/sim"
)

// #region runner

// EstimatorFactory builds the estimator for one episode. Estimators that implement
// io.Closer are closed when the episode ends.
type EstimatorFactory func() (risk.Estimator, error)

// HeuristicFactory returns a factory for the built-in heuristic estimator.
func HeuristicFactory(cfg risk.HeuristicConfig) EstimatorFactory {
	return func() (risk.Estimator, error) {
		return risk.NewHeuristicEstimator(cfg), nil
	}
}

// Runner executes benchmark suites. Every episode gets its own simulator, estimator
// and orchestrator; nothing is shared between concurrent episodes.
type Runner struct {
	NewSimulator  sim.Factory
	NewEstimator  EstimatorFactory
	EstimatorName string
	OutputDir     string          // JSONL output; empty writes nothing to disk
	Store         *runlog.Store   // optional run index and outcome history
	Eval          eval.EvalConfig // zero value uses eval.DefaultEvalConfig
	Logger        *slog.Logger
}

// EpisodeResult is the outcome of one episode.
type EpisodeResult struct {
	Episode Episode
	RunID   string
	Reason  string
	Ticks   int
	Eval    eval.EvalResult
	Err     string // run-level fault, empty on a clean run

	record *runlog.Record
}

// Run executes every episode of the suite with at most suite.Workers in flight.
// Run-level faults are recorded per episode. Failing to build an episode stops the
// suite and is returned. Outcomes are written to the store after all episodes finish.
func (r *Runner) Run(ctx context.Context, suite *Suite) (Summary, error) {
	if r.NewSimulator == nil || r.NewEstimator == nil {
		return Summary{}, errors.New("run suite: simulator and estimator factories are required")
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg := r.Eval
	if cfg == (eval.EvalConfig{}) {
		cfg = eval.DefaultEvalConfig()
	}
	harness := eval.NewEvalHarness(cfg)

	suiteID := uuid.NewString()
	logger = logger.With("component", "bench", "suite", suite.Name, "suite_id", suiteID)
	logger.Info("suite started", "episodes", len(suite.Episodes), "workers", suite.Workers, "policy", suite.Policy.Name())

	results := make([]EpisodeResult, len(suite.Episodes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(suite.Workers, 1))
	for i, ep := range suite.Episodes {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := r.runEpisode(gctx, suiteID, suite, ep, logger)
			if err != nil {
				return err
			}
			res.Eval = harness.Run(res.record)
			results[i] = res
			return nil
		})
	}
	waitErr := g.Wait()

	summary := Summary{SuiteID: suiteID, Name: suite.Name, Policy: suite.Policy.Name()}
	var storeErrs []error
	for _, res := range results {
		if res.record == nil {
			continue
		}
		if r.Store != nil {
			storeErrs = append(storeErrs, r.persist(suiteID, suite, res))
		}
		res.record = nil
		summary.add(res)
	}
	metrics.BenchmarkPassRate.WithLabelValues(summary.Policy).Set(summary.PassRate())

	logger.Info("suite finished", "runs", len(summary.Results), "passed", summary.Passed,
		"failed", summary.Failed, "collisions", summary.Collisions)

	if waitErr == nil {
		waitErr = ctx.Err()
	}
	return summary, errors.Join(append([]error{waitErr}, storeErrs...)...)
}

func (r *Runner) runEpisode(ctx context.Context, suiteID string, suite *Suite, ep Episode, logger *slog.Logger) (EpisodeResult, error) {
	spec := ep.Scenario
	simulator, err := r.NewSimulator(spec)
	if err != nil {
		return EpisodeResult{}, fmt.Errorf("episode %s seed %d: create simulator: %w", spec.Name, spec.Seed, err)
	}
	est, err := r.NewEstimator()
	if err != nil {
		simulator.Close()
		return EpisodeResult{}, fmt.Errorf("episode %s seed %d: create estimator: %w", spec.Name, spec.Seed, err)
	}
	if c, ok := est.(io.Closer); ok {
		defer c.Close()
	}

	deps := orchestrator.Assemble(spec, suite.Params, simulator, est, suite.Policy.Build(),
		logger.With("scenario", spec.Name, "seed", spec.Seed))
	if r.OutputDir != "" {
		deps.Sinks = []runlog.Sink{runlog.FileSink{Dir: r.OutputDir}}
	}
	rc := orchestrator.NewRunContext(r.OutputDir)
	rc.SuiteID = suiteID
	o, err := orchestrator.New(rc, deps, orchestrator.Options{
		PolicyName:    suite.Policy.Name(),
		EstimatorName: r.EstimatorName,
	})
	if err != nil {
		simulator.Close()
		return EpisodeResult{}, fmt.Errorf("episode %s seed %d: %w", spec.Name, spec.Seed, err)
	}

	rec, runErr := o.Run(ctx)
	res := EpisodeResult{
		Episode: ep,
		RunID:   rec.Header.RunID,
		Reason:  rec.Footer.Reason,
		Ticks:   len(rec.Entries),
		record:  rec,
	}
	if runErr != nil {
		res.Err = runErr.Error()
	}
	return res, nil
}

func (r *Runner) persist(suiteID string, suite *Suite, res EpisodeResult) error {
	if err := r.Store.Persist(res.record); err != nil {
		return fmt.Errorf("persist run %s: %w", res.RunID, err)
	}
	err := r.Store.RecordOutcome(runlog.BenchmarkOutcome{
		SuiteID:      suiteID,
		RunID:        res.RunID,
		ScenarioName: res.Episode.Scenario.Name,
		Policy:       suite.Policy.Name(),
		Seed:         res.Episode.Seed(),
		Passed:       res.Eval.Passed,
		Collision:    res.Eval.Collision,
		MRCEntered:   res.Eval.MRCEntered,
		MinTTC:       res.Eval.MinTTC,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", res.RunID, err)
	}
	return nil
}

// #endregion runner
