package bench

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/config"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/perturb"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/risk"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/runlog"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/scenario"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/sim"
)

const emptyRoadYAML = `name: empty_road
num_agents: 0
traffic_density: 0
max_ticks: 40
seed: 7
`

const busyRoadYAML = `name: busy_road
num_agents: 4
traffic_density: 0.05
max_ticks: 40
frame_drop_prob: 0.1
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// suiteDir lays out a suite with two scenarios under scenarios/ and returns the suite path.
func suiteDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "scenarios/empty.yaml", emptyRoadYAML)
	writeFile(t, dir, "scenarios/busy.yaml", busyRoadYAML)
	writeFile(t, dir, "params.yaml", "target_speed_mps: 8\n")
	return writeFile(t, dir, "suite.yaml", `name: smoke
workers: 2
params: params.yaml
policy:
  type: static
scenarios:
  - path: scenarios/empty.yaml
  - path: scenarios/busy.yaml
    seeds: [1, 2, 3]
`)
}

func testRunner(t *testing.T) *Runner {
	t.Helper()
	return &Runner{
		NewSimulator:  sim.KinematicFactory(sim.DefaultKinematicConfig(), nil),
		NewEstimator:  HeuristicFactory(risk.DefaultHeuristicConfig()),
		EstimatorName: "heuristic",
	}
}

func TestLoadSuite_ResolvesPathsAndSeeds(t *testing.T) {
	s, err := LoadSuite(suiteDir(t))
	require.NoError(t, err)

	assert.Equal(t, "smoke", s.Name)
	assert.Equal(t, 2, s.Workers)
	assert.Equal(t, 8.0, s.Params.TargetSpeedMPS)
	assert.Equal(t, config.DefaultStackParams().MaxSpeedMPS, s.Params.MaxSpeedMPS)
	assert.Equal(t, PolicyStatic, s.Policy.Name())

	require.Len(t, s.Episodes, 4)
	assert.Equal(t, "empty_road", s.Episodes[0].Scenario.Name)
	assert.Equal(t, int64(7), s.Episodes[0].Seed(), "scenario without seeds keeps its own")
	for i, want := range []int64{1, 2, 3} {
		ep := s.Episodes[i+1]
		assert.Equal(t, "busy_road", ep.Scenario.Name)
		assert.Equal(t, want, ep.Seed())
		assert.Equal(t, "busy.yaml", filepath.Base(ep.Path))
	}
}

func TestParseSuite_DefaultsWorkersAndPolicy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"name": "a"}`)

	s, err := ParseSuite("inline", dir, []byte(`{"name": "x", "scenarios": [{"path": "a.json"}]}`))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.Workers, 1)
	assert.IsType(t, perturb.StaticPolicy{}, s.Policy.Build())
	assert.Equal(t, config.DefaultStackParams(), s.Params)
	require.Len(t, s.Episodes, 1)
}

func TestParseSuite_RampPolicy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"name": "a"}`)

	s, err := ParseSuite("inline", dir, []byte(`{
		"name": "ramp",
		"policy": {"type": "ramp", "ramp_ticks": 100, "max_frame_drop_prob": 0.5, "max_position_noise_std": 1.5},
		"scenarios": [{"path": "a.json"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, PolicyRamp, s.Policy.Name())
	assert.Equal(t, perturb.RampPolicy{RampTicks: 100, MaxFrameDropProb: 0.5, MaxPositionNoiseStd: 1.5}, s.Policy.Build())
}

func TestParseSuite_ConfigurationErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"name": "a"}`)

	cases := map[string]string{
		"ramp without ticks": `{"name": "r", "policy": {"type": "ramp"}, "scenarios": [{"path": "a.json"}]}`,
		"unknown field":      `{"name": "r", "extra": 1, "scenarios": [{"path": "a.json"}]}`,
		"no scenarios":       `{"name": "r", "scenarios": []}`,
		"missing scenario":   `{"name": "r", "scenarios": [{"path": "missing.json"}]}`,
		"bad policy type":    `{"name": "r", "policy": {"type": "adversarial"}, "scenarios": [{"path": "a.json"}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSuite("inline", dir, []byte(doc))
			var cerr *config.ConfigurationError
			require.ErrorAs(t, err, &cerr)
		})
	}
}

func TestRunner_RunsEveryEpisodeAndPersists(t *testing.T) {
	s, err := LoadSuite(suiteDir(t))
	require.NoError(t, err)

	store, err := runlog.NewStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	r := testRunner(t)
	r.OutputDir = t.TempDir()
	r.Store = store

	summary, err := r.Run(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, summary.Results, 4)
	assert.NotEmpty(t, summary.SuiteID)
	assert.Equal(t, 4, summary.Passed+summary.Failed)

	seen := map[string]bool{}
	for i, res := range summary.Results {
		assert.Equal(t, s.Episodes[i].Seed(), res.Episode.Seed(), "results keep suite order")
		assert.False(t, seen[res.RunID], "run ids are unique")
		seen[res.RunID] = true
		assert.Equal(t, runlog.ReasonMaxTicks, res.Reason)
		assert.Equal(t, 40, res.Ticks)
		assert.Empty(t, res.Err)
		assert.FileExists(t, filepath.Join(r.OutputDir, res.RunID, runlog.RunFileName))

		run, err := store.GetRun(res.RunID)
		require.NoError(t, err)
		assert.Equal(t, summary.SuiteID, run.SuiteID)
		assert.Equal(t, PolicyStatic, run.Policy)
	}

	var outcomes int
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM benchmark_outcomes WHERE suite_id = ?`, summary.SuiteID).Scan(&outcomes))
	assert.Equal(t, 4, outcomes)
}

func TestRunner_EmptyRoadPasses(t *testing.T) {
	spec := scenario.Default()
	spec.Name = "empty"
	spec.NumAgents = 0
	spec.MaxTicks = 40
	s := &Suite{Name: "one", Workers: 1, Params: config.DefaultStackParams(), Episodes: []Episode{{Scenario: spec}}}

	summary, err := testRunner(t).Run(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.True(t, summary.Results[0].Eval.Passed, summary.Results[0].Eval.Reason)
	assert.Equal(t, 1.0, summary.PassRate())

	var buf bytes.Buffer
	require.NoError(t, summary.WriteTable(&buf))
	assert.Contains(t, buf.String(), "empty")
	assert.Contains(t, buf.String(), "PASS")
	assert.Contains(t, buf.String(), "1/1 passed")
}

func TestRunner_SimulatorFactoryFailureStopsSuite(t *testing.T) {
	s, err := LoadSuite(suiteDir(t))
	require.NoError(t, err)

	boom := errors.New("simulator unavailable")
	r := testRunner(t)
	r.NewSimulator = func(scenario.Spec) (sim.Simulator, error) { return nil, boom }

	_, err = r.Run(context.Background(), s)
	require.ErrorIs(t, err, boom)
}

func TestRunner_CancelledBeforeStart(t *testing.T) {
	s, err := LoadSuite(suiteDir(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := testRunner(t).Run(ctx, s)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, summary.Results)
}

func TestRunner_RequiresFactories(t *testing.T) {
	_, err := (&Runner{}).Run(context.Background(), &Suite{})
	require.Error(t, err)
}

func TestSummary_PassRateEmpty(t *testing.T) {
	assert.Zero(t, Summary{}.PassRate())
}
