package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/replay"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/risk"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/runlog"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/supervisor"
)

// #region export

// FeatureSample is one training row: the estimator input of a tick and whether the
// run crashed within the risk horizon of it.
type FeatureSample struct {
	RunID       string          `json:"run_id"`
	Scenario    string          `json:"scenario"`
	Seed        int64           `json:"seed"`
	Tick        int             `json:"tick"`
	Features    risk.Features   `json:"features"`
	Probability float64         `json:"probability"`
	Mode        supervisor.Mode `json:"mode"`
	Label       bool            `json:"collision_within_horizon"`
}

func newExportCmd(a *app) *cobra.Command {
	var (
		outPath string
		all     bool
		last    int
		horizon float64
	)
	cmd := &cobra.Command{
		Use:   "export [run_id|path]...",
		Short: "Export per-tick risk features with collision labels as JSONL for model training",
		RunE: func(cmd *cobra.Command, args []string) error {
			refs := args
			if all {
				store, err := a.openStore()
				if err != nil {
					return err
				}
				runs, err := store.ListRuns(last)
				store.Close()
				if err != nil {
					return err
				}
				for _, r := range runs {
					refs = append(refs, r.RunID)
				}
			}
			if len(refs) == 0 {
				return fmt.Errorf("export: name at least one run or use --all")
			}

			var w io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
					return fmt.Errorf("create output dir: %w", err)
				}
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create %s: %w", outPath, err)
				}
				defer f.Close()
				w = f
			}
			bw := bufio.NewWriter(w)
			enc := json.NewEncoder(bw)

			var samples, positives int
			for _, ref := range refs {
				rec, err := replay.Load(a.env.OutputDir, ref)
				if err != nil {
					return err
				}
				for _, s := range Samples(rec, horizon) {
					if err := enc.Encode(s); err != nil {
						return fmt.Errorf("encode sample: %w", err)
					}
					samples++
					if s.Label {
						positives++
					}
				}
			}
			if err := bw.Flush(); err != nil {
				return fmt.Errorf("flush samples: %w", err)
			}
			a.logger.Info("exported features", "runs", len(refs), "samples", samples, "positives", positives)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&outPath, "out", "o", "", "output JSONL path; stdout when empty")
	f.BoolVar(&all, "all", false, "export the most recent indexed runs")
	f.IntVar(&last, "last", 100, "with --all, how many runs")
	f.Float64Var(&horizon, "horizon", 0, "label horizon (s); the run's risk_horizon_s when zero")
	return cmd
}

// Samples turns a record into training rows. A tick is labelled positive when the run
// ended in a collision no more than horizon seconds after it.
func Samples(rec *runlog.Record, horizon float64) []FeatureSample {
	if horizon <= 0 {
		horizon = rec.Header.Params.RiskHorizonS
	}
	dt := rec.Header.Scenario.TimestepS
	last := len(rec.Entries) - 1
	out := make([]FeatureSample, 0, len(rec.Entries))
	for _, e := range rec.Entries {
		out = append(out, FeatureSample{
			RunID:       rec.Header.RunID,
			Scenario:    rec.Header.Scenario.Name,
			Seed:        rec.Header.Scenario.Seed,
			Tick:        e.Tick,
			Features:    e.Features,
			Probability: e.Risk.Probability,
			Mode:        e.Mode,
			Label:       rec.Collided() && float64(last-e.Tick+1)*dt <= horizon+1e-9,
		})
	}
	return out
}

// #endregion export
