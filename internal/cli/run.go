package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/bench"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/config"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/eval"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/orchestrator"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/runlog"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/scenario"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/sim"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/supervisor"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		paramsPath string
		seed       int64
		policy     bench.PolicySpec
		realTime   bool
	)
	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run one scenario through the control loop and record it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				spec.Seed = seed
			}
			params, err := loadParams(paramsPath)
			if err != nil {
				return err
			}
			if err := checkPolicyFlags(policy); err != nil {
				return err
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			newEstimator, estimatorName := a.estimatorFactory()
			est, err := newEstimator()
			if err != nil {
				return err
			}
			if c, ok := est.(io.Closer); ok {
				defer c.Close()
			}

			simulator := sim.NewKinematic(spec, sim.DefaultKinematicConfig(), a.logger)
			deps := orchestrator.Assemble(spec, params, simulator, est, policy.Build(), a.logger)
			deps.Sinks = []runlog.Sink{runlog.FileSink{Dir: a.env.OutputDir}, store}

			o, err := orchestrator.New(orchestrator.NewRunContext(a.env.OutputDir), deps, orchestrator.Options{
				RealTime:      realTime,
				PolicyName:    policy.Name(),
				EstimatorName: estimatorName,
			})
			if err != nil {
				return err
			}
			rec, runErr := o.Run(cmd.Context())
			result := eval.NewEvalHarness(eval.DefaultEvalConfig()).Run(rec)
			if err := printRun(cmd.OutOrStdout(), rec, result); err != nil {
				return err
			}
			return runErr
		},
	}
	f := cmd.Flags()
	f.StringVar(&paramsPath, "params", "", "stack parameter file (YAML or JSON); defaults when empty")
	f.Int64Var(&seed, "seed", 0, "override the scenario seed")
	f.BoolVar(&realTime, "realtime", false, "pace ticks at the scenario timestep")
	addPolicyFlags(cmd, &policy)
	return cmd
}

func addPolicyFlags(cmd *cobra.Command, p *bench.PolicySpec) {
	f := cmd.Flags()
	f.StringVar(&p.Type, "policy", bench.PolicyStatic, "perturbation policy: static or ramp")
	f.IntVar(&p.RampTicks, "ramp-ticks", 0, "ramp policy: ticks to reach the ceilings")
	f.Float64Var(&p.MaxFrameDropProb, "max-frame-drop", 0, "ramp policy: frame drop probability ceiling")
	f.Float64Var(&p.MaxPositionNoiseStd, "max-noise", 0, "ramp policy: position noise ceiling (m)")
}

func checkPolicyFlags(p bench.PolicySpec) error {
	switch p.Type {
	case bench.PolicyStatic:
		return nil
	case bench.PolicyRamp:
		if p.RampTicks < 1 {
			return config.Invalid("flags", "ramp-ticks", "ramp policy needs --ramp-ticks >= 1")
		}
		return nil
	default:
		return config.Invalid("flags", "policy", "unknown policy %q", p.Type)
	}
}

func printRun(w io.Writer, rec *runlog.Record, result eval.EvalResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	h, f := rec.Header, rec.Footer
	verdict := "PASS"
	if !result.Passed {
		verdict = "FAIL"
	}
	fmt.Fprintf(tw, "run\t%s\n", h.RunID)
	fmt.Fprintf(tw, "scenario\t%s (seed %d, policy %s, estimator %s)\n", h.Scenario.Name, h.Scenario.Seed, h.Policy, h.Estimator)
	fmt.Fprintf(tw, "ended\t%s after %d ticks, %.1f m\n", f.Reason, len(rec.Entries), f.Info.Distance)
	if f.Error != "" {
		fmt.Fprintf(tw, "error\t%s\n", f.Error)
	}
	fmt.Fprintf(tw, "modes\t%s\n", modeLine(result))
	fmt.Fprintf(tw, "transitions\t%d\n", len(rec.Transitions))
	fmt.Fprintf(tw, "eval\t%s: %s\n", verdict, result.Reason)
	if h.OutputPath != "" {
		fmt.Fprintf(tw, "output\t%s\n", h.OutputPath)
	}
	return tw.Flush()
}

func modeLine(result eval.EvalResult) string {
	var line string
	for _, m := range []supervisor.Mode{supervisor.Nominal, supervisor.Cautious, supervisor.MRC} {
		metric, _ := result.Metric("time_in_" + string(m))
		if line != "" {
			line += "  "
		}
		line += fmt.Sprintf("%s %.1f%%", m, 100*metric.Value)
	}
	return line
}
