package config

// #region stack-params
// StackParams holds planner weights, speed limits, supervisor thresholds and control gains.
type StackParams struct {
	// Planning weights
	CollisionWeight float64 `json:"collision_weight"`
	ProgressWeight  float64 `json:"progress_weight"`
	ComfortWeight   float64 `json:"comfort_weight"`
	LegalityWeight  float64 `json:"legality_weight"`

	// Speed limits (m/s)
	MaxSpeedMPS    float64 `json:"max_speed_mps"`
	TargetSpeedMPS float64 `json:"target_speed_mps"`

	// Following distance
	MinFollowingDistance float64 `json:"min_following_distance"` // m
	TimeHeadway          float64 `json:"time_headway"`           // s

	// Supervisor
	RiskThresholdCautious float64 `json:"risk_threshold_cautious"`
	RiskThresholdMRC      float64 `json:"risk_threshold_mrc"`
	RiskHorizonS          float64 `json:"risk_horizon_s"`
	DebounceTicks         int     `json:"debounce_ticks"`
	EstimatorTimeoutMS    int     `json:"estimator_timeout_ms"`

	// Mode modulation
	CautiousSpeedScale     float64 `json:"cautious_speed_scale"`
	CautiousCollisionScale float64 `json:"cautious_collision_scale"`
	MRCDecelMPS2           float64 `json:"mrc_decel_mps2"`

	// Control
	PurePursuitLookahead float64 `json:"pure_pursuit_lookahead"` // m
	PIDKp                float64 `json:"pid_kp"`
	PIDKi                float64 `json:"pid_ki"`
	PIDKd                float64 `json:"pid_kd"`
	PIDIntegralLimit     float64 `json:"pid_integral_limit"`

	// Vehicle geometry used by pure pursuit
	WheelbaseM  float64 `json:"wheelbase_m"`
	MaxSteerRad float64 `json:"max_steer_rad"`
}

// DefaultStackParams returns the stock parameter set.
func DefaultStackParams() StackParams {
	return StackParams{
		CollisionWeight: 100.0,
		ProgressWeight:  1.0,
		ComfortWeight:   0.5,
		LegalityWeight:  10.0,

		MaxSpeedMPS:    13.89, // ~50 km/h
		TargetSpeedMPS: 11.11, // ~40 km/h

		MinFollowingDistance: 10.0,
		TimeHeadway:          2.0,

		RiskThresholdCautious: 0.3,
		RiskThresholdMRC:      0.7,
		RiskHorizonS:          3.0,
		DebounceTicks:         5,
		EstimatorTimeoutMS:    50,

		CautiousSpeedScale:     0.6,
		CautiousCollisionScale: 3.0,
		MRCDecelMPS2:           3.0,

		PurePursuitLookahead: 5.0,
		PIDKp:                1.0,
		PIDKi:                0.1,
		PIDKd:                0.05,
		PIDIntegralLimit:     5.0,

		WheelbaseM:  2.5,
		MaxSteerRad: 0.7,
	}
}

// #endregion stack-params

// #region load-params
// LoadStackParams reads a YAML/JSON parameter document on top of the defaults.
func LoadStackParams(path string) (StackParams, error) {
	doc, err := ReadDocument(path)
	if err != nil {
		return StackParams{}, err
	}
	return ParseStackParams(path, doc)
}

// ParseStackParams decodes a JSON parameter document on top of the defaults and validates it.
func ParseStackParams(source string, doc []byte) (StackParams, error) {
	p := DefaultStackParams()
	if err := DecodeDocument(source, SchemaParams, doc, &p); err != nil {
		return StackParams{}, err
	}
	if err := p.Validate(source); err != nil {
		return StackParams{}, err
	}
	return p, nil
}

// #endregion load-params

// #region validate
// Validate checks cross-field constraints the schema cannot express.
func (p StackParams) Validate(source string) error {
	switch {
	case p.RiskThresholdCautious < 0 || p.RiskThresholdCautious > 1:
		return invalid(source, "risk_threshold_cautious", "must be in [0,1], got %g", p.RiskThresholdCautious)
	case p.RiskThresholdMRC < 0 || p.RiskThresholdMRC > 1:
		return invalid(source, "risk_threshold_mrc", "must be in [0,1], got %g", p.RiskThresholdMRC)
	case p.RiskThresholdCautious >= p.RiskThresholdMRC:
		return invalid(source, "risk_threshold_mrc", "must exceed risk_threshold_cautious (%g >= %g)",
			p.RiskThresholdCautious, p.RiskThresholdMRC)
	case p.TargetSpeedMPS <= 0:
		return invalid(source, "target_speed_mps", "must be positive")
	case p.TargetSpeedMPS > p.MaxSpeedMPS:
		return invalid(source, "target_speed_mps", "%g exceeds max_speed_mps %g", p.TargetSpeedMPS, p.MaxSpeedMPS)
	case p.RiskHorizonS <= 0:
		return invalid(source, "risk_horizon_s", "must be positive")
	case p.DebounceTicks < 1:
		return invalid(source, "debounce_ticks", "must be at least 1")
	case p.EstimatorTimeoutMS < 1:
		return invalid(source, "estimator_timeout_ms", "must be at least 1")
	case p.PurePursuitLookahead <= 0:
		return invalid(source, "pure_pursuit_lookahead", "must be positive")
	case p.PIDIntegralLimit < 0:
		return invalid(source, "pid_integral_limit", "must not be negative")
	case p.WheelbaseM <= 0:
		return invalid(source, "wheelbase_m", "must be positive")
	case p.MaxSteerRad <= 0:
		return invalid(source, "max_steer_rad", "must be positive")
	case p.CautiousSpeedScale <= 0 || p.CautiousSpeedScale > 1:
		return invalid(source, "cautious_speed_scale", "must be in (0,1]")
	case p.CautiousCollisionScale < 1:
		return invalid(source, "cautious_collision_scale", "must be at least 1")
	case p.MRCDecelMPS2 <= 0:
		return invalid(source, "mrc_decel_mps2", "must be positive")
	}
	weights := []struct {
		name string
		w    float64
	}{
		{"collision_weight", p.CollisionWeight},
		{"progress_weight", p.ProgressWeight},
		{"comfort_weight", p.ComfortWeight},
		{"legality_weight", p.LegalityWeight},
	}
	for _, w := range weights {
		if w.w < 0 {
			return invalid(source, w.name, "weights must not be negative")
		}
	}
	return nil
}

// #endregion validate
