package scenario

import (
	"encoding/json"
	"fmt"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/config"
)

// #region load
// Load reads a YAML or JSON scenario file, validates it, and fills defaults.
func Load(path string) (Spec, error) {
	doc, err := config.ReadDocument(path)
	if err != nil {
		return Spec{}, err
	}
	return Parse(path, doc)
}

// Parse decodes a JSON scenario document on top of Default() and validates it.
func Parse(source string, doc []byte) (Spec, error) {
	s := Default()
	if err := config.DecodeDocument(source, config.SchemaScenario, doc, &s); err != nil {
		return Spec{}, err
	}
	if err := s.Validate(source); err != nil {
		return Spec{}, err
	}
	return s, nil
}

// #endregion load

// #region validate
// Validate checks constraints that span fields or events.
func (s Spec) Validate(source string) error {
	if s.Name == "" {
		return config.Invalid(source, "name", "required")
	}
	if s.Lanes < 1 {
		return config.Invalid(source, "lanes", "must be at least 1")
	}
	if lane := s.SpawnLane(); lane < 0 || lane >= s.Lanes {
		return config.Invalid(source, "ego_spawn_lane", "lane %d outside road with %d lanes", lane, s.Lanes)
	}
	if s.TimestepS <= 0 {
		return config.Invalid(source, "timestep_s", "must be positive")
	}
	if s.MaxTicks < 1 {
		return config.Invalid(source, "max_ticks", "must be at least 1")
	}

	seen := make(map[string]bool, len(s.ScriptedEvents))
	for i, ev := range s.ScriptedEvents {
		field := fmt.Sprintf("scripted_events/%d", i)
		if seen[ev.ID] {
			return config.Invalid(source, field+"/id", "duplicate event id %q", ev.ID)
		}
		seen[ev.ID] = true

		if ev.Trigger.Type == TriggerNearPoint && ev.Trigger.Radius <= 0 {
			return config.Invalid(source, field+"/trigger/radius", "near_point needs a positive radius")
		}
		switch ev.Effect.Type {
		case EffectSensorBlackout:
			if ev.Effect.DurationTicks < 1 {
				return config.Invalid(source, field+"/effect/duration_ticks", "sensor_blackout needs duration_ticks >= 1")
			}
		case EffectCutIn:
			if ev.Effect.GapM <= 0 {
				return config.Invalid(source, field+"/effect/gap_m", "cut_in needs a positive gap_m")
			}
		case EffectAgentBrake:
			if ev.Effect.DecelMPS2 <= 0 {
				return config.Invalid(source, field+"/effect/decel_mps2", "agent_brake needs a positive decel_mps2")
			}
		}
	}
	return nil
}

// #endregion validate

// Canonical returns the scenario encoded as compact JSON, used as the stored copy of a run's scenario.
func (s Spec) Canonical() ([]byte, error) {
	return json.Marshal(s)
}
