package eval

// #region eval-config
// EvalConfig holds the pass/fail thresholds applied to a finished run.
type EvalConfig struct {
	MinGap        float64 // fail if the perceived leader gap drops below this (m)
	MaxSpeedRMSE  float64 // fail if speed tracking error in NOMINAL exceeds this (m/s)
	SettleTicks   int     // ticks ignored by speed tracking while the ego gets up to speed
	MaxFaultRate  float64 // warn if the estimator fault rate rises above this
	MinTTCWarning float64 // warn if time-to-collision falls below this (s)
}

// DefaultEvalConfig returns the stock benchmark thresholds.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MinGap:        2.0,
		MaxSpeedRMSE:  1.0,
		SettleTicks:   200,
		MaxFaultRate:  0.05,
		MinTTCWarning: 1.5,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single check result. Informational metrics never fail a run.
type EvalMetric struct {
	Name          string  `json:"name"`
	Value         float64 `json:"value"`
	Pass          bool    `json:"pass"`
	Informational bool    `json:"informational,omitempty"`
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the verdict on one run.
type EvalResult struct {
	RunID      string       `json:"run_id"`
	Passed     bool         `json:"passed"`
	Metrics    []EvalMetric `json:"metrics"`
	Reason     string       `json:"reason"`
	Collision  bool         `json:"collision"`
	MRCEntered bool         `json:"mrc_entered"`
	MinTTC     float64      `json:"min_ttc"` // capped at NoTTC when never closing
}

// Metric looks a metric up by name.
func (r EvalResult) Metric(name string) (EvalMetric, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return EvalMetric{}, false
}

// #endregion eval-result
