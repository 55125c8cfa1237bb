package risk

import (
	"context"
	"fmt"
	"math"
)

// #region heuristic-config
// HeuristicConfig holds the logistic coefficients of the reference estimator.
type HeuristicConfig struct {
	Bias          float64
	InverseTTC    float64 // weight on closing speed / gap (1/s)
	Proximity     float64 // weight on gap shortfall below MinGap
	MinGap        float64 // m
	LateralOffset float64 // weight on |offset| / lane width
	DropRate      float64
	Noise         float64 // weight on mean position noise (1/m)
}

// DefaultHeuristicConfig returns coefficients tuned so an empty road sits near 0.02.
func DefaultHeuristicConfig() HeuristicConfig {
	return HeuristicConfig{
		Bias:          -4.0,
		InverseTTC:    8.0,
		Proximity:     4.0,
		MinGap:        10.0,
		LateralOffset: 2.0,
		DropRate:      3.0,
		Noise:         0.5,
	}
}

// #endregion heuristic-config

// #region heuristic
// HeuristicEstimator is a closed-form logistic risk model. The probability is
// non-decreasing in closing speed with every other feature held fixed.
type HeuristicEstimator struct {
	config HeuristicConfig
}

// NewHeuristicEstimator creates the reference estimator.
func NewHeuristicEstimator(config HeuristicConfig) *HeuristicEstimator {
	return &HeuristicEstimator{config: config}
}

// Assess implements Estimator.
func (h *HeuristicEstimator) Assess(ctx context.Context, f Features) (Assessment, error) {
	if err := ctx.Err(); err != nil {
		return Assessment{}, fmt.Errorf("heuristic assess: %w: %w", ErrEstimatorFault, err)
	}
	c := h.config
	z := c.Bias

	if f.HasLeader {
		gap := math.Max(f.FollowingDistance, 0.5)
		z += c.InverseTTC * math.Max(f.ClosingSpeed, 0) / gap
		if c.MinGap > 0 && gap < c.MinGap {
			z += c.Proximity * (1 - gap/c.MinGap)
		}
	}
	if f.LaneWidth > 0 {
		z += c.LateralOffset * math.Abs(f.LateralOffset) / f.LaneWidth
	}
	z += c.DropRate*f.DropRate + c.Noise*f.MeanNoise

	return Assessment{
		Probability:    1 / (1 + math.Exp(-z)),
		HorizonSeconds: f.Horizon,
	}, nil
}

// #endregion heuristic

// #region validate
// Validate rejects assessments the supervisor cannot act on.
func Validate(a Assessment) error {
	if math.IsNaN(a.Probability) || a.Probability < 0 || a.Probability > 1 {
		return fmt.Errorf("%w: probability %v outside [0, 1]", ErrEstimatorFault, a.Probability)
	}
	if math.IsNaN(a.HorizonSeconds) || math.IsInf(a.HorizonSeconds, 0) || a.HorizonSeconds < 0 {
		return fmt.Errorf("%w: horizon %v invalid", ErrEstimatorFault, a.HorizonSeconds)
	}
	return nil
}

// #endregion validate
