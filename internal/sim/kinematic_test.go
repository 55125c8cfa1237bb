package sim

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/scenario"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/state"
)

// #region helpers
func testSpec(agents int) scenario.Spec {
	s := scenario.Default()
	s.Name = "sim-test"
	s.Seed = 42
	s.NumAgents = agents
	return s
}

func newSim(t *testing.T, spec scenario.Spec) *Kinematic {
	t.Helper()
	k := NewKinematic(spec, DefaultKinematicConfig(), nil)
	if _, err := k.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	return k
}

func drive(t *testing.T, k *Kinematic, cmd state.ControlCommand, ticks int) StepResult {
	t.Helper()
	var res StepResult
	for i := 0; i < ticks; i++ {
		var err error
		res, err = k.Step(context.Background(), cmd)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if res.Terminated {
			return res
		}
	}
	return res
}

// #endregion helpers

// #region reset-tests
func TestReset_SpawnsInMiddleLane(t *testing.T) {
	spec := testSpec(0)
	k := NewKinematic(spec, DefaultKinematicConfig(), nil)
	obs, err := k.Reset(context.Background())
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if obs.Ego.LaneIndex != 1 || !obs.Ego.OnLane || obs.Ego.Speed != 0 {
		t.Fatalf("unexpected spawn state %+v", obs.Ego)
	}
	if obs.Ego.Position.Y != spec.LaneCenterY(1) {
		t.Fatalf("expected lane centre y, got %v", obs.Ego.Position.Y)
	}
	if len(obs.Traffic) != 0 {
		t.Fatalf("expected no traffic, got %d agents", len(obs.Traffic))
	}
}

func TestReset_TrafficDeterministicPerSeed(t *testing.T) {
	a := newSim(t, testSpec(8)).traffic()
	b := newSim(t, testSpec(8)).traffic()
	if !reflect.DeepEqual(a, b) {
		t.Fatal("expected identical traffic for the same seed")
	}
	if len(a) == 0 {
		t.Fatal("expected agents to spawn")
	}
	other := testSpec(8)
	other.Seed = 43
	if reflect.DeepEqual(a, newSim(t, other).traffic()) {
		t.Fatal("expected different traffic for a different seed")
	}
}

// #endregion reset-tests

// #region dynamics-tests
func TestStep_ThrottleAcceleratesStraight(t *testing.T) {
	k := newSim(t, testSpec(0))
	y0 := k.ego.Position.Y
	res := drive(t, k, state.ControlCommand{ThrottleBrake: 1}, 20)

	// 1 s at 3 m/s² minus a little drag.
	if res.Ego.Speed < 2.9 || res.Ego.Speed > 3.0 {
		t.Fatalf("expected ~3 m/s after 1 s, got %v", res.Ego.Speed)
	}
	if res.Ego.Position.Y != y0 || res.Ego.Heading != 0 {
		t.Fatalf("expected straight motion, got y=%v heading=%v", res.Ego.Position.Y, res.Ego.Heading)
	}
}

func TestStep_BrakeNeverReverses(t *testing.T) {
	k := newSim(t, testSpec(0))
	drive(t, k, state.ControlCommand{ThrottleBrake: 1}, 40)
	res := drive(t, k, state.ControlCommand{ThrottleBrake: -1}, 100)
	if res.Ego.Speed != 0 {
		t.Fatalf("expected full stop, got %v", res.Ego.Speed)
	}
}

func TestStep_SteeringLeftIncreasesHeading(t *testing.T) {
	k := newSim(t, testSpec(0))
	drive(t, k, state.ControlCommand{ThrottleBrake: 1}, 20)
	res := drive(t, k, state.ControlCommand{Steering: 0.2}, 5)
	if res.Ego.Heading <= 0 || res.Ego.Position.Y <= testSpec(0).LaneCenterY(1) {
		t.Fatalf("expected left turn, got heading %v y %v", res.Ego.Heading, res.Ego.Position.Y)
	}
}

func TestStep_SameCommandsSameTrajectory(t *testing.T) {
	cmds := []state.ControlCommand{{ThrottleBrake: 1}, {Steering: 0.05, ThrottleBrake: 0.4}, {Steering: -0.05, ThrottleBrake: -0.2}}
	run := func() []state.EgoState {
		k := newSim(t, testSpec(6))
		var out []state.EgoState
		for i := 0; i < 150; i++ {
			res, err := k.Step(context.Background(), cmds[i%len(cmds)])
			if err != nil {
				t.Fatalf("step: %v", err)
			}
			out = append(out, res.Ego)
			if res.Terminated {
				break
			}
		}
		return out
	}
	if !reflect.DeepEqual(run(), run()) {
		t.Fatal("expected bit-identical trajectories")
	}
}

func TestStep_OutOfRoadTerminates(t *testing.T) {
	k := newSim(t, testSpec(0))
	drive(t, k, state.ControlCommand{ThrottleBrake: 1}, 40)
	res := drive(t, k, state.ControlCommand{Steering: 1, ThrottleBrake: 0.5}, 200)
	if !res.Terminated || !res.Info.OutOfRoad {
		t.Fatalf("expected out-of-road termination, got %+v", res.Info)
	}
	if _, err := k.Step(context.Background(), state.ControlCommand{}); !errors.Is(err, ErrSimulatorFault) {
		t.Fatalf("expected fault after termination, got %v", err)
	}
}

// #endregion dynamics-tests

// #region traffic-tests
func TestIDM_AgentFollowsDesiredSpeed(t *testing.T) {
	k := newSim(t, testSpec(1))
	a := k.agents[0]
	a.Velocity.X = 0
	for i := 0; i < 2000; i++ {
		k.stepAgents(0.05)
	}
	if math.Abs(a.Velocity.X-a.desired) > 0.5 {
		t.Fatalf("expected agent near desired speed %v, got %v", a.desired, a.Velocity.X)
	}
}

func TestEvent_AgentBrake(t *testing.T) {
	spec := testSpec(0)
	spec.AgentPolicy = "constant_velocity"
	k := newSim(t, spec)
	if err := k.ApplyEvent(scenario.Event{ID: "cut", Effect: scenario.Effect{Type: scenario.EffectCutIn, GapM: 30, SpeedMPS: 8}}); err != nil {
		t.Fatalf("cut in: %v", err)
	}
	if err := k.ApplyEvent(scenario.Event{ID: "brake", Effect: scenario.Effect{Type: scenario.EffectAgentBrake, DecelMPS2: 4}}); err != nil {
		t.Fatalf("brake: %v", err)
	}
	drive(t, k, state.ControlCommand{}, 10)
	if v := k.agents[0].Velocity.X; math.Abs(v-6) > 1e-9 {
		t.Fatalf("expected 8 - 4*0.5 = 6 m/s, got %v", v)
	}
}

func TestEvent_CutInCausesCrash(t *testing.T) {
	spec := testSpec(0)
	spec.AgentPolicy = "constant_velocity"
	k := newSim(t, spec)
	drive(t, k, state.ControlCommand{ThrottleBrake: 1}, 60)
	if err := k.ApplyEvent(scenario.Event{ID: "c", Effect: scenario.Effect{Type: scenario.EffectCutIn, GapM: 1, SpeedMPS: 0.1}}); err != nil {
		t.Fatalf("cut in: %v", err)
	}
	res := drive(t, k, state.ControlCommand{ThrottleBrake: 1}, 40)
	if !res.Terminated || !res.Info.Crash || res.Info.CrashAgent != "cutin-c" {
		t.Fatalf("expected crash into cut-in agent, got %+v", res.Info)
	}
}

// #endregion traffic-tests

// #region lifecycle-tests
func TestStep_BeforeResetFails(t *testing.T) {
	k := NewKinematic(testSpec(0), DefaultKinematicConfig(), nil)
	if _, err := k.Step(context.Background(), state.ControlCommand{}); !errors.Is(err, ErrSimulatorFault) {
		t.Fatalf("expected simulator fault, got %v", err)
	}
}

func TestClose_RejectsFurtherCalls(t *testing.T) {
	k := newSim(t, testSpec(0))
	if err := k.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := k.Reset(context.Background()); !errors.Is(err, ErrSimulatorFault) {
		t.Fatalf("expected fault after close, got %v", err)
	}
}

// #endregion lifecycle-tests
