package scenario

import "math"

// #region trigger
// TriggerType selects the predicate that fires a scripted event.
type TriggerType string

const (
	TriggerAtTick     TriggerType = "at_tick"      // tick >= Tick
	TriggerEgoXBeyond TriggerType = "ego_x_beyond" // ego x >= X
	TriggerNearPoint  TriggerType = "near_point"   // |ego - (X,Y)| <= Radius
)

// Trigger is the firing condition of a scripted event.
type Trigger struct {
	Type   TriggerType `json:"type"`
	Tick   int         `json:"tick,omitempty"`
	X      float64     `json:"x,omitempty"`
	Y      float64     `json:"y,omitempty"`
	Radius float64     `json:"radius,omitempty"`
}

// #endregion trigger

// #region effect
// EffectType selects what a fired event does.
type EffectType string

const (
	EffectAgentBrake     EffectType = "agent_brake"     // named (or nearest leading) agent brakes
	EffectCutIn          EffectType = "cut_in"          // agent appears GapM ahead in the ego lane
	EffectSensorBlackout EffectType = "sensor_blackout" // frames drop for DurationTicks
)

// Effect describes the consequence of a fired event.
type Effect struct {
	Type          EffectType `json:"type"`
	AgentID       string     `json:"agent_id,omitempty"`
	DecelMPS2     float64    `json:"decel_mps2,omitempty"`
	GapM          float64    `json:"gap_m,omitempty"`
	SpeedMPS      float64    `json:"speed_mps,omitempty"`
	DurationTicks int        `json:"duration_ticks,omitempty"`
}

// #endregion effect

// #region event
// Event is one scripted scenario event. Events fire at most once per run, in declared order.
type Event struct {
	ID      string  `json:"id"`
	Trigger Trigger `json:"trigger"`
	Effect  Effect  `json:"effect"`
}

// #endregion event

// #region spec
// Spec is a validated scenario. It is immutable once loaded.
type Spec struct {
	Name             string  `json:"name"`
	MapType          string  `json:"map_type"`
	TrafficDensity   float64 `json:"traffic_density"`
	NumAgents        int     `json:"num_agents"`
	AgentPolicy      string  `json:"agent_policy"`
	EgoSpawnLane     *int    `json:"ego_spawn_lane,omitempty"`
	Lanes            int     `json:"lanes"`
	LaneWidth        float64 `json:"lane_width"`
	RoadLength       float64 `json:"road_length"`
	TimestepS        float64 `json:"timestep_s"`
	MaxTicks         int     `json:"max_ticks"`
	FrameDropProb    float64 `json:"frame_drop_prob"`
	PositionNoiseStd float64 `json:"position_noise_std"`
	Seed             int64   `json:"seed"`
	ScriptedEvents   []Event `json:"scripted_events,omitempty"`
}

// Default returns a scenario skeleton carrying every default value.
func Default() Spec {
	return Spec{
		MapType:        "S",
		TrafficDensity: 0.1,
		NumAgents:      10,
		AgentPolicy:    "IDM",
		Lanes:          3,
		LaneWidth:      3.5,
		RoadLength:     1000,
		TimestepS:      0.05,
		MaxTicks:       2000,
	}
}

// SpawnLane resolves the ego start lane: the configured lane, else the middle lane.
func (s Spec) SpawnLane() int {
	if s.EgoSpawnLane != nil {
		return *s.EgoSpawnLane
	}
	return s.Lanes / 2
}

// EventByID looks up a scripted event.
func (s Spec) EventByID(id string) (Event, bool) {
	for _, ev := range s.ScriptedEvents {
		if ev.ID == id {
			return ev, true
		}
	}
	return Event{}, false
}

// #endregion spec

// #region geometry
// Roads are straight along +x. Lane 0 is the lowest y; the road spans y in [0, Lanes*LaneWidth].

// LaneCenterY returns the lateral centre of lane i.
func (s Spec) LaneCenterY(i int) float64 {
	return (float64(i) + 0.5) * s.LaneWidth
}

// RoadWidth returns the total drivable width.
func (s Spec) RoadWidth() float64 {
	return float64(s.Lanes) * s.LaneWidth
}

// Locate maps a world point to its lane, the signed offset from that lane's centre,
// and whether the point lies on the road surface.
func (s Spec) Locate(x, y float64) (lane int, lateral float64, onRoad bool) {
	onRoad = y >= 0 && y <= s.RoadWidth() && x >= 0 && x <= s.RoadLength
	lane = int(math.Floor(y / s.LaneWidth))
	if lane < 0 {
		lane = 0
	}
	if lane >= s.Lanes {
		lane = s.Lanes - 1
	}
	return lane, y - s.LaneCenterY(lane), onRoad
}

// #endregion geometry
