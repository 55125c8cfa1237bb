package logging

import "time"

// Provenance entry kinds.
const (
	KindModeTransition = "mode_transition"
	KindEstimatorFault = "estimator_fault"
	KindRunEnded       = "run_ended"
)

// #region provenance-entry
// ProvenanceEntry is a single row in the provenance_log table: why the stack
// changed behaviour at a given tick of a given run.
type ProvenanceEntry struct {
	RunID       string
	Tick        int
	Kind        string
	FromMode    string
	ToMode      string
	Probability float64
	Reason      string
	DetailJSON  string
	CreatedAt   time.Time
}

// #endregion provenance-entry
