package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/bench"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/eval"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/sim"
)

func newBenchmarkCmd(a *app) *cobra.Command {
	var (
		workers int
		strict  bool
	)
	cmd := &cobra.Command{
		Use:   "benchmark <suite>",
		Short: "Run every scenario and seed of a suite in parallel and score the runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			suite, err := bench.LoadSuite(args[0])
			if err != nil {
				return err
			}
			if workers > 0 {
				suite.Workers = workers
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			newEstimator, estimatorName := a.estimatorFactory()
			runner := &bench.Runner{
				NewSimulator:  sim.KinematicFactory(sim.DefaultKinematicConfig(), a.logger),
				NewEstimator:  newEstimator,
				EstimatorName: estimatorName,
				OutputDir:     a.env.OutputDir,
				Store:         store,
				Eval:          eval.DefaultEvalConfig(),
				Logger:        a.logger,
			}
			summary, runErr := runner.Run(cmd.Context(), suite)
			if err := summary.WriteTable(cmd.OutOrStdout()); err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}
			if strict && summary.Failed > 0 {
				return fmt.Errorf("benchmark %s: %d of %d runs failed", suite.Name, summary.Failed, len(summary.Results))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel episodes; overrides the suite")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any run fails evaluation")
	return cmd
}

func newWeakestCmd(a *app) *cobra.Command {
	var (
		policy     string
		halfLife   time.Duration
		minSamples int
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "weakest",
		Short: "List scenarios by recent benchmark pass rate, weakest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			scores, err := store.WeakestScenarios(policy, halfLife, minSamples)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(scores) == 0 {
				fmt.Fprintf(out, "no scenarios with at least %d outcomes under policy %s\n", minSamples, policy)
				return nil
			}
			if limit > 0 && len(scores) > limit {
				scores = scores[:limit]
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "SCENARIO\tPASS_RATE\tSAMPLES\n")
			for _, s := range scores {
				fmt.Fprintf(tw, "%s\t%.3f\t%d\n", s.ScenarioName, s.PassRate, s.Samples)
			}
			return tw.Flush()
		},
	}
	f := cmd.Flags()
	f.StringVar(&policy, "policy", bench.PolicyStatic, "perturbation policy the outcomes were recorded under")
	f.DurationVar(&halfLife, "half-life", 7*24*time.Hour, "age at which an outcome weighs e^-1 of a fresh one")
	f.IntVar(&minSamples, "min-samples", 1, "skip scenarios with fewer outcomes")
	f.IntVar(&limit, "limit", 10, "show at most this many scenarios; 0 shows all")
	return cmd
}
