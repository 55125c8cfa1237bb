package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/logging"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/runlog"
)

// #region inspect

type runDetail struct {
	Run        runlog.RunSummary         `json:"run"`
	Provenance []logging.ProvenanceEntry `json:"provenance"`
	Ticks      []runlog.TickRow          `json:"ticks,omitempty"`
}

func newInspectCmd(a *app) *cobra.Command {
	var (
		last    int
		ticks   bool
		every   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "inspect [run_id]",
		Short: "List indexed runs, or show one run's mode timeline",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				runs, err := store.ListRuns(last)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(out, runs)
				}
				return printRunList(out, runs)
			}

			var d runDetail
			if d.Run, err = store.GetRun(args[0]); err != nil {
				return err
			}
			if d.Provenance, err = logging.ListEntries(store.DB(), args[0]); err != nil {
				return err
			}
			if ticks {
				rows, err := store.Ticks(args[0])
				if err != nil {
					return err
				}
				d.Ticks = sample(rows, every)
			}
			if jsonOut {
				return writeJSON(out, d)
			}
			return printRunDetail(out, d)
		},
	}
	f := cmd.Flags()
	f.IntVar(&last, "last", 20, "list the N most recent runs")
	f.BoolVar(&ticks, "ticks", false, "include per-tick rows")
	f.IntVar(&every, "every", 1, "with --ticks, show every Nth tick (mode changes are always shown)")
	f.BoolVar(&jsonOut, "json", false, "output as JSON instead of a table")
	return cmd
}

// #endregion inspect

// #region output

func printRunList(w io.Writer, runs []runlog.RunSummary) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs found")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "RUN\tSCENARIO\tSEED\tPOLICY\tREASON\tTICKS\tDIST_M\tCRASH\tSTARTED\n")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%d\t%.1f\t%t\t%s\n",
			r.RunID, r.ScenarioName, r.Seed, r.Policy, r.Reason, r.Ticks, r.Distance, r.Collision,
			r.StartedAt.Format("2006-01-02T15:04:05Z"))
	}
	return tw.Flush()
}

func printRunDetail(w io.Writer, d runDetail) error {
	r := d.Run
	fmt.Fprintf(w, "Run %s\n", r.RunID)
	fmt.Fprintf(w, "  scenario:  %s (seed %d)\n", r.ScenarioName, r.Seed)
	fmt.Fprintf(w, "  policy:    %s\n", r.Policy)
	fmt.Fprintf(w, "  estimator: %s\n", r.Estimator)
	if r.SuiteID != "" {
		fmt.Fprintf(w, "  suite:     %s\n", r.SuiteID)
	}
	fmt.Fprintf(w, "  ended:     %s after %d ticks, %.1f m, crash=%t\n", r.Reason, r.Ticks, r.Distance, r.Collision)
	if r.Error != "" {
		fmt.Fprintf(w, "  error:     %s\n", r.Error)
	}
	if r.OutputPath != "" {
		fmt.Fprintf(w, "  output:    %s\n", r.OutputPath)
	}

	fmt.Fprintln(w, "\nTimeline:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, e := range d.Provenance {
		switch e.Kind {
		case logging.KindModeTransition:
			fmt.Fprintf(tw, "  %d\t%s -> %s\tp=%.3f\t%s\n", e.Tick, e.FromMode, e.ToMode, e.Probability, e.Reason)
		default:
			fmt.Fprintf(tw, "  %d\t%s\tp=%.3f\t%s\n", e.Tick, e.Kind, e.Probability, e.Reason)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(d.Ticks) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nTicks:")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  TICK\tX\tSPEED\tRISK\tMODE\tCANDIDATE\tSTEER\tTHROTTLE\tNOTES\n")
	for _, t := range d.Ticks {
		var notes []string
		if t.FrameDropped {
			notes = append(notes, "drop")
		}
		if len(t.Events) > 0 {
			notes = append(notes, "events="+strings.Join(t.Events, ","))
		}
		if t.Fault != "" {
			notes = append(notes, "fault="+t.Fault)
		}
		fmt.Fprintf(tw, "  %d\t%.2f\t%.2f\t%.3f\t%s\t%s\t%.3f\t%.3f\t%s\n",
			t.Tick, t.X, t.Speed, t.Risk, t.Mode, t.Candidate, t.Steering, t.ThrottleBrake, strings.Join(notes, " "))
	}
	return tw.Flush()
}

// sample keeps every nth row plus every row where the mode changes.
func sample(rows []runlog.TickRow, n int) []runlog.TickRow {
	if n <= 1 {
		return rows
	}
	var out []runlog.TickRow
	for i, r := range rows {
		if i%n == 0 || (i > 0 && rows[i-1].Mode != r.Mode) {
			out = append(out, r)
		}
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion output
