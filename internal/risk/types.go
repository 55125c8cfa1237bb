package risk

import (
	"context"
	"errors"
)

// ErrEstimatorFault marks any failure of the estimator to produce a usable assessment.
// The supervisor absorbs it by forcing the minimal-risk condition.
var ErrEstimatorFault = errors.New("estimator fault")

// #region assessment
// Assessment is the estimator's output for one tick.
type Assessment struct {
	Probability    float64 `json:"probability"`     // failure probability in [0, 1]
	HorizonSeconds float64 `json:"horizon_seconds"` // horizon the probability refers to
}

// #endregion assessment

// #region estimator-interface
// Estimator turns the features of one tick into a risk assessment.
// Trained models plug in here; HeuristicEstimator is the in-tree reference.
//
// Assess runs on the tick path and must return once ctx is done. The caller bounds
// each call with a deadline and treats a late reply as a fault, but it does not
// abandon a call that ignores ctx, so such an implementation stalls the run.
type Estimator interface {
	Assess(ctx context.Context, f Features) (Assessment, error)
}

// #endregion estimator-interface

// #region features
// RelativeAgent is one nearby agent relative to the perceived ego.
type RelativeAgent struct {
	ID       string  `json:"id"`
	DX       float64 `json:"dx"`  // along road, positive ahead
	DY       float64 `json:"dy"`  // across road, positive left
	DVX      float64 `json:"dvx"` // agent minus ego
	DVY      float64 `json:"dvy"`
	SameLane bool    `json:"same_lane"`
}

// Features is the estimator input for one tick.
type Features struct {
	Tick              int             `json:"tick"`
	Speed             float64         `json:"speed"`
	HasLeader         bool            `json:"has_leader"`
	FollowingDistance float64         `json:"following_distance"` // bumper gap to leader, FreeRoadDistance when none
	ClosingSpeed      float64         `json:"closing_speed"`      // ego minus leader speed, positive when closing
	LateralOffset     float64         `json:"lateral_offset"`     // from own lane centre
	LaneWidth         float64         `json:"lane_width"`
	Nearby            []RelativeAgent `json:"nearby,omitempty"`
	DropRate          float64         `json:"drop_rate"`  // fraction of dropped frames in the history window
	MeanNoise         float64         `json:"mean_noise"` // mean injected position error in the window
	Horizon           float64         `json:"horizon"`
}

// #endregion features
