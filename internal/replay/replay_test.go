package replay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/config"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/orchestrator"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/perturb"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/risk"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/runlog"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/scenario"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/sim"
)

// helper: a busy scenario with noise, drops, traffic and scripted events.
func busyScenario() scenario.Spec {
	s := scenario.Default()
	s.Name = "replay-busy"
	s.Seed = 1234
	s.FrameDropProb = 0.1
	s.PositionNoiseStd = 0.2
	s.MaxTicks = 300
	s.ScriptedEvents = []scenario.Event{
		{
			ID:      "brake1",
			Trigger: scenario.Trigger{Type: scenario.TriggerAtTick, Tick: 80},
			Effect:  scenario.Effect{Type: scenario.EffectAgentBrake, DecelMPS2: 4, DurationTicks: 20},
		},
		{
			ID:      "cut1",
			Trigger: scenario.Trigger{Type: scenario.TriggerEgoXBeyond, X: 60},
			Effect:  scenario.Effect{Type: scenario.EffectCutIn, GapM: 15, SpeedMPS: 5},
		},
	}
	return s
}

// helper: run the full stack live and return its record.
func liveRun(t *testing.T, spec scenario.Spec, sinks ...runlog.Sink) *runlog.Record {
	t.Helper()
	params := config.DefaultStackParams()
	deps := orchestrator.Assemble(spec, params, sim.NewKinematic(spec, sim.DefaultKinematicConfig(), nil),
		risk.NewHeuristicEstimator(risk.DefaultHeuristicConfig()), nil, nil)
	deps.Sinks = sinks
	o, err := orchestrator.New(orchestrator.RunContext{RunID: "replay-test"}, deps, orchestrator.Options{})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	rec, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return rec
}

func freshSim(spec scenario.Spec) sim.Simulator {
	return sim.NewKinematic(spec, sim.DefaultKinematicConfig(), nil)
}

// Replaying a live run against a fresh simulator reproduces it exactly.
func TestReplay_ZeroDivergence(t *testing.T) {
	spec := busyScenario()
	rec := liveRun(t, spec)

	s := freshSim(spec)
	defer s.Close()
	report, err := Replay(context.Background(), rec, s, DefaultTolerance())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if report.Diverged {
		t.Fatalf("expected no divergence, got tick %d: %s", report.FirstDivergentTick, report.Detail)
	}
	if report.TicksCompared != len(rec.Entries)+1 {
		t.Errorf("expected %d comparisons, got %d", len(rec.Entries)+1, report.TicksCompared)
	}
	if report.MaxPositionError != 0 {
		t.Errorf("expected bit-exact replay, max error %g", report.MaxPositionError)
	}
	if report.FirstDivergentTick != -1 {
		t.Errorf("expected first divergent tick -1, got %d", report.FirstDivergentTick)
	}
}

// A record reloaded from disk replays just as exactly.
func TestReplay_FromJSONL(t *testing.T) {
	spec := busyScenario()
	dir := t.TempDir()
	liveRun(t, spec, runlog.FileSink{Dir: dir})

	rec, err := Load(dir, "replay-test")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := freshSim(rec.Header.Scenario)
	defer s.Close()
	report, err := Replay(context.Background(), rec, s, DefaultTolerance())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if report.Diverged {
		t.Fatalf("expected no divergence after reload, got tick %d: %s", report.FirstDivergentTick, report.Detail)
	}
}

// A tampered command is reported at the tick after it was applied.
func TestReplay_DetectsTamperedCommand(t *testing.T) {
	spec := busyScenario()
	rec := liveRun(t, spec)
	if len(rec.Entries) < 60 {
		t.Fatalf("run too short for tampering: %d ticks", len(rec.Entries))
	}
	rec.Entries[50].Command.Steering = 1

	s := freshSim(spec)
	defer s.Close()
	report, err := Replay(context.Background(), rec, s, DefaultTolerance())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !report.Diverged {
		t.Fatal("expected divergence")
	}
	if report.FirstDivergentTick != 51 {
		t.Errorf("expected divergence at tick 51, got %d", report.FirstDivergentTick)
	}
	if report.HeadingError == 0 {
		t.Error("expected a heading error")
	}
}

// A different seed spawns different traffic, which the replay must notice.
func TestReplay_DifferentSeedDiverges(t *testing.T) {
	spec := busyScenario()
	rec := liveRun(t, spec)

	other := spec
	other.Seed = spec.Seed + 1
	s := freshSim(other)
	defer s.Close()
	report, err := Replay(context.Background(), rec, s, DefaultTolerance())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !report.Diverged {
		t.Skip("seeds happened to produce identical ego trajectories")
	}
}

func TestReplay_EmptyRecord(t *testing.T) {
	rec := runlog.NewRecord(runlog.Header{RunID: "empty"})
	report, err := Replay(context.Background(), rec, freshSim(busyScenario()), DefaultTolerance())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if report.Diverged || report.TicksCompared != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestReplay_ResetFailureIsError(t *testing.T) {
	spec := busyScenario()
	rec := liveRun(t, spec)
	s := freshSim(spec)
	s.Close()
	if _, err := Replay(context.Background(), rec, s, DefaultTolerance()); !errors.Is(err, sim.ErrSimulatorFault) {
		t.Fatalf("expected simulator fault, got %v", err)
	}
}

func TestVerifyDisturbances(t *testing.T) {
	spec := busyScenario()
	rec := liveRun(t, spec)

	report, err := VerifyDisturbances(rec, perturb.NewEngine(spec, nil))
	if err != nil {
		t.Fatalf("VerifyDisturbances: %v", err)
	}
	if report.Mismatch {
		t.Fatalf("expected identical streams, mismatch at %d: %s", report.FirstMismatchTick, report.Detail)
	}
	if report.TicksCompared != len(rec.Entries) {
		t.Errorf("expected %d ticks compared, got %d", len(rec.Entries), report.TicksCompared)
	}

	other := spec
	other.Seed++
	report, err = VerifyDisturbances(rec, perturb.NewEngine(other, nil))
	if err != nil {
		t.Fatalf("VerifyDisturbances: %v", err)
	}
	if !report.Mismatch {
		t.Fatal("expected a mismatch for a different seed")
	}
}

func TestLoad_MissingRun(t *testing.T) {
	_, err := Load(t.TempDir(), "nope")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestLoad_ByPath(t *testing.T) {
	dir := t.TempDir()
	liveRun(t, busyScenario(), runlog.FileSink{Dir: dir})

	for _, ref := range []string{
		filepath.Join(dir, "replay-test"),
		filepath.Join(dir, "replay-test", runlog.RunFileName),
	} {
		rec, err := Load("", ref)
		if err != nil {
			t.Fatalf("Load(%s): %v", ref, err)
		}
		if rec.Header.RunID != "replay-test" {
			t.Fatalf("unexpected run id %s", rec.Header.RunID)
		}
	}
}
