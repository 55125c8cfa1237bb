package bench

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// Summary aggregates the episodes of one suite run, in suite order.
type Summary struct {
	SuiteID    string
	Name       string
	Policy     string
	Results    []EpisodeResult
	Passed     int
	Failed     int
	Collisions int
	MRCEntries int // episodes that entered MRC at least once
	Faults     int // episodes that ended with a run-level error
}

func (s *Summary) add(res EpisodeResult) {
	s.Results = append(s.Results, res)
	if res.Eval.Passed {
		s.Passed++
	} else {
		s.Failed++
	}
	if res.Eval.Collision {
		s.Collisions++
	}
	if res.Eval.MRCEntered {
		s.MRCEntries++
	}
	if res.Err != "" {
		s.Faults++
	}
}

// PassRate is the share of completed episodes that passed evaluation.
func (s Summary) PassRate() float64 {
	if len(s.Results) == 0 {
		return 0
	}
	return float64(s.Passed) / float64(len(s.Results))
}

// WriteTable prints one row per episode followed by the suite totals.
func (s Summary) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "SCENARIO\tSEED\tRUN\tEND\tTICKS\tRESULT\tMIN_TTC\tDETAIL\n")
	for _, r := range s.Results {
		verdict := "PASS"
		if !r.Eval.Passed {
			verdict = "FAIL"
		}
		detail := r.Eval.Reason
		if r.Err != "" {
			detail = r.Err
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\t%s\t%.2f\t%s\n",
			r.Episode.Scenario.Name, r.Episode.Seed(), shortID(r.RunID), r.Reason, r.Ticks, verdict, r.Eval.MinTTC, detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nsuite %s (%s, policy %s): %d/%d passed (%.1f%%), %d collisions, %d entered MRC, %d faults\n",
		s.Name, shortID(s.SuiteID), s.Policy, s.Passed, len(s.Results), 100*s.PassRate(), s.Collisions, s.MRCEntries, s.Faults)
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
