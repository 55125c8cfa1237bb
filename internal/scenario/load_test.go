package scenario

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/config"
)

const cutInYAML = `
name: cut_in_highway
traffic_density: 0.05
num_agents: 6
lanes: 2
ego_spawn_lane: 0
max_ticks: 800
frame_drop_prob: 0.1
position_noise_std: 0.3
seed: 42
scripted_events:
  - id: cut1
    trigger: {type: ego_x_beyond, x: 120}
    effect: {type: cut_in, gap_m: 8, speed_mps: 4}
  - id: blackout
    trigger: {type: at_tick, tick: 300}
    effect: {type: sensor_blackout, duration_ticks: 10}
`

func TestLoad_YAMLWithEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cut_in.yaml")
	if err := os.WriteFile(path, []byte(cutInYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "cut_in_highway" || s.Lanes != 2 || s.Seed != 42 || s.MaxTicks != 800 {
		t.Fatalf("unexpected spec %+v", s)
	}
	if s.SpawnLane() != 0 {
		t.Errorf("expected spawn lane 0, got %d", s.SpawnLane())
	}
	// untouched fields keep defaults
	if s.TimestepS != 0.05 || s.LaneWidth != 3.5 || s.MapType != "S" {
		t.Errorf("defaults lost: timestep %v lane width %v map %q", s.TimestepS, s.LaneWidth, s.MapType)
	}
	if len(s.ScriptedEvents) != 2 {
		t.Fatalf("expected 2 events, got %d", len(s.ScriptedEvents))
	}
	ev, ok := s.EventByID("cut1")
	if !ok || ev.Trigger.Type != TriggerEgoXBeyond || ev.Trigger.X != 120 || ev.Effect.GapM != 8 {
		t.Errorf("unexpected cut1 %+v", ev)
	}
	if _, ok := s.EventByID("missing"); ok {
		t.Error("EventByID found a missing event")
	}
}

func TestParse_MinimalDocumentUsesDefaults(t *testing.T) {
	s, err := Parse("inline", []byte(`{"name": "plain"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Default()
	want.Name = "plain"
	if s.Name != want.Name || s.Lanes != want.Lanes || s.RoadLength != want.RoadLength || s.MaxTicks != want.MaxTicks {
		t.Fatalf("expected defaults, got %+v", s)
	}
	if s.SpawnLane() != 1 {
		t.Errorf("expected middle lane 1 of 3, got %d", s.SpawnLane())
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"missing name":        `{"lanes": 2}`,
		"unknown field":       `{"name": "x", "weather": "rain"}`,
		"spawn lane off road": `{"name": "x", "lanes": 2, "ego_spawn_lane": 2}`,
		"drop prob above 1":   `{"name": "x", "frame_drop_prob": 1.5}`,
		"bad map":             `{"name": "x", "map_type": "Z"}`,
		"duplicate event id": `{"name": "x", "scripted_events": [
			{"id": "a", "trigger": {"type": "at_tick", "tick": 1}, "effect": {"type": "sensor_blackout", "duration_ticks": 2}},
			{"id": "a", "trigger": {"type": "at_tick", "tick": 2}, "effect": {"type": "sensor_blackout", "duration_ticks": 2}}]}`,
		"near point without radius": `{"name": "x", "scripted_events": [
			{"id": "a", "trigger": {"type": "near_point", "x": 10}, "effect": {"type": "cut_in", "gap_m": 5}}]}`,
		"brake without decel": `{"name": "x", "scripted_events": [
			{"id": "a", "trigger": {"type": "at_tick"}, "effect": {"type": "agent_brake"}}]}`,
		"cut in without gap": `{"name": "x", "scripted_events": [
			{"id": "a", "trigger": {"type": "at_tick"}, "effect": {"type": "cut_in"}}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse("scenario.json", []byte(doc))
			var cerr *config.ConfigurationError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cerr.Source != "scenario.json" {
				t.Errorf("expected source scenario.json, got %q", cerr.Source)
			}
		})
	}
}

func TestCanonicalIsStable(t *testing.T) {
	s, err := Parse("inline", []byte(`{"name": "canon", "seed": 9}`))
	if err != nil {
		t.Fatal(err)
	}
	a, err := s.Canonical()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := s.Canonical()
	if string(a) != string(b) {
		t.Fatal("canonical encoding differs between calls")
	}
	back, err := Parse("canonical", a)
	if err != nil {
		t.Fatalf("canonical form does not parse: %v", err)
	}
	if back.Name != s.Name || back.Seed != s.Seed || back.Lanes != s.Lanes {
		t.Fatalf("canonical round trip lost fields: %+v", back)
	}
}

func TestLocate(t *testing.T) {
	s := Default()
	lane, lat, on := s.Locate(100, s.LaneCenterY(2)+0.4)
	if lane != 2 || on != true || lat < 0.399 || lat > 0.401 {
		t.Fatalf("got lane %d lateral %v on %v", lane, lat, on)
	}
	if _, _, on := s.Locate(100, -0.5); on {
		t.Error("point below the road reported on road")
	}
	if lane, _, _ := s.Locate(100, 99); lane != s.Lanes-1 {
		t.Errorf("expected clamp to last lane, got %d", lane)
	}
}
