package risk

import (
	"math"
	"sort"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/perturb"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/scenario"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/state"
)

// FreeRoadDistance stands in for the following distance when no leader is in range.
const FreeRoadDistance = 200.0

// #region config
// ProducerConfig holds tuning knobs for feature computation.
type ProducerConfig struct {
	Window      int     // disturbance history length in ticks
	NearbyRange float64 // agents farther than this are ignored (m)
	MaxNearby   int     // nearest N agents kept
	Horizon     float64 // risk horizon reported to the estimator (s)
}

// DefaultProducerConfig returns sensible defaults.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Window:      20,
		NearbyRange: 60,
		MaxNearby:   8,
		Horizon:     3,
	}
}

// #endregion config

// #region producer
// FeatureProducer computes estimator features from the perceived ego, traffic and a
// sliding window of recent disturbances. One producer per run.
type FeatureProducer struct {
	road    scenario.Spec
	config  ProducerConfig
	history []perturb.Disturbance
}

// NewFeatureProducer creates a producer for the scenario's road.
func NewFeatureProducer(road scenario.Spec, config ProducerConfig) *FeatureProducer {
	if config.Window < 1 {
		config.Window = 1
	}
	return &FeatureProducer{road: road, config: config}
}

// Observe appends a disturbance to the history window.
func (p *FeatureProducer) Observe(d perturb.Disturbance) {
	p.history = append(p.history, d)
	if over := len(p.history) - p.config.Window; over > 0 {
		p.history = append(p.history[:0], p.history[over:]...)
	}
}

// Produce computes the features for one tick.
func (p *FeatureProducer) Produce(tick int, ego state.EgoState, traffic []state.AgentState) Features {
	egoLane, lateral, _ := p.road.Locate(ego.Position.X, ego.Position.Y)
	f := Features{
		Tick:              tick,
		Speed:             ego.Speed,
		FollowingDistance: FreeRoadDistance,
		LateralOffset:     lateral,
		LaneWidth:         p.road.LaneWidth,
		Horizon:           p.config.Horizon,
	}

	var nearby []RelativeAgent
	for _, a := range traffic {
		dx := a.Position.X - ego.Position.X
		dy := a.Position.Y - ego.Position.Y
		if math.Hypot(dx, dy) > p.config.NearbyRange {
			continue
		}
		agentLane, _, _ := p.road.Locate(a.Position.X, a.Position.Y)
		rel := RelativeAgent{
			ID:       a.ID,
			DX:       dx,
			DY:       dy,
			DVX:      a.Velocity.X - ego.Velocity.X,
			DVY:      a.Velocity.Y - ego.Velocity.Y,
			SameLane: agentLane == egoLane,
		}
		nearby = append(nearby, rel)

		if rel.SameLane && dx > 0 {
			gap := math.Max(dx-a.Length/2-state.EgoLength/2, 0)
			if gap < f.FollowingDistance {
				f.HasLeader = true
				f.FollowingDistance = gap
				f.ClosingSpeed = -rel.DVX
			}
		}
	}
	sort.SliceStable(nearby, func(i, j int) bool {
		return math.Hypot(nearby[i].DX, nearby[i].DY) < math.Hypot(nearby[j].DX, nearby[j].DY)
	})
	if len(nearby) > p.config.MaxNearby {
		nearby = nearby[:p.config.MaxNearby]
	}
	f.Nearby = nearby

	f.DropRate, f.MeanNoise = p.disturbanceStats()
	return f
}

// #endregion producer

// #region helpers
func (p *FeatureProducer) disturbanceStats() (dropRate, meanNoise float64) {
	if len(p.history) == 0 {
		return 0, 0
	}
	var drops int
	var noise float64
	for _, d := range p.history {
		if d.FrameDropped {
			drops++
		}
		noise += d.PositionNoise.Norm()
	}
	n := float64(len(p.history))
	return float64(drops) / n, noise / n
}

// #endregion helpers
