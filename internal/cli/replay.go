package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/bench"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/perturb"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/replay"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/sim"
)

// ErrDiverged is returned by the replay command when the rerun does not match the record.
var ErrDiverged = errors.New("replay diverged from the recorded run")

type replayOutput struct {
	Trajectory   replay.DivergenceReport   `json:"trajectory"`
	Disturbances *replay.DisturbanceReport `json:"disturbances,omitempty"`
}

func newReplayCmd(a *app) *cobra.Command {
	var (
		tol     = replay.DefaultTolerance()
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "replay <run_id|run dir|run.jsonl>",
		Short: "Re-feed a recorded run's commands into a fresh simulator and report divergence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := replay.Load(a.env.OutputDir, args[0])
			if err != nil {
				return err
			}
			simulator := sim.NewKinematic(rec.Header.Scenario, sim.DefaultKinematicConfig(), a.logger)
			defer simulator.Close()

			var out replayOutput
			out.Trajectory, err = replay.Replay(cmd.Context(), rec, simulator, tol)
			if err != nil {
				return err
			}
			// Ramp ceilings are not recorded, so only static runs can be regenerated.
			if rec.Header.Policy == "" || rec.Header.Policy == bench.PolicyStatic {
				dr, err := replay.VerifyDisturbances(rec, perturb.NewEngine(rec.Header.Scenario, nil))
				if err != nil {
					return err
				}
				out.Disturbances = &dr
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return err
				}
			} else {
				printReplay(cmd.OutOrStdout(), out)
			}

			if out.Trajectory.Diverged || (out.Disturbances != nil && out.Disturbances.Mismatch) {
				return ErrDiverged
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.Float64Var(&tol.Position, "tolerance-pos", tol.Position, "allowed position error per tick (m)")
	f.Float64Var(&tol.Heading, "tolerance-heading", tol.Heading, "allowed heading error per tick (rad)")
	f.BoolVar(&jsonOut, "json", false, "print the reports as JSON")
	return cmd
}

func printReplay(w io.Writer, out replayOutput) {
	t := out.Trajectory
	if t.Diverged {
		fmt.Fprintf(w, "run %s: DIVERGED at tick %d (position error %.6g m, heading error %.6g rad)\n",
			t.RunID, t.FirstDivergentTick, t.PositionError, t.HeadingError)
		if t.Detail != "" {
			fmt.Fprintf(w, "  %s\n", t.Detail)
		}
	} else {
		fmt.Fprintf(w, "run %s: no divergence over %d ticks (max position error %.3g m)\n",
			t.RunID, t.TicksCompared, t.MaxPositionError)
	}

	d := out.Disturbances
	switch {
	case d == nil:
		fmt.Fprintln(w, "disturbances: not regenerated for non-static policy")
	case d.Mismatch:
		fmt.Fprintf(w, "disturbances: MISMATCH at tick %d: %s\n", d.FirstMismatchTick, d.Detail)
	default:
		fmt.Fprintf(w, "disturbances: identical over %d ticks\n", d.TicksCompared)
	}
}
