package planner

import (
	"math"
	"testing"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/config"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/scenario"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/state"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/supervisor"
)

// #region helpers
func testSetup(t *testing.T, mutate func(*config.StackParams)) (*Planner, scenario.Spec) {
	t.Helper()
	spec := scenario.Default()
	spec.Name = "planner"
	params := config.DefaultStackParams()
	params.TargetSpeedMPS = 10
	if mutate != nil {
		mutate(&params)
	}
	return New(NewStraightRoad(spec, params.MaxSpeedMPS), params, nil), spec
}

func egoAt(spec scenario.Spec, lane int, x, speed float64) state.EgoState {
	return state.EgoState{
		Position: state.Vec3{X: x, Y: spec.LaneCenterY(lane)},
		Velocity: state.Vec2{X: speed},
		Speed:    speed,
		OnLane:   true,
	}
}

func stopped(spec scenario.Spec, lane int, x float64) state.AgentState {
	return state.AgentState{
		ID:       "blocker",
		Position: state.Vec2{X: x, Y: spec.LaneCenterY(lane)},
		Length:   4.5,
		Width:    1.8,
	}
}

// #endregion helpers

// #region nominal-tests
func TestPlan_EmptyRoadKeepsLaneAtTarget(t *testing.T) {
	p, spec := testSetup(t, nil)
	for _, v := range []float64{0, 5, 10} {
		plan, err := p.Plan(egoAt(spec, 1, 50, v), nil, supervisor.Nominal)
		if err != nil {
			t.Fatalf("v=%v: %v", v, err)
		}
		if plan.LaneOffset != 0 || plan.TargetSpeed != 10 {
			t.Fatalf("v=%v: expected lane keep at 10 m/s, got %s target %v", v, plan.Candidate, plan.TargetSpeed)
		}
		if plan.Considered != 9 {
			t.Fatalf("expected 9 candidates in the middle lane, got %d", plan.Considered)
		}
	}
}

func TestCandidates_EdgeLaneHasNoOutwardChange(t *testing.T) {
	p, spec := testSetup(t, nil)
	cands, err := p.Candidates(egoAt(spec, 0, 0, 5), nil, supervisor.Nominal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cands) != 6 {
		t.Fatalf("expected 6 candidates from the edge lane, got %d", len(cands))
	}
	for _, c := range cands {
		if c.Lane < 0 || c.Lane > 1 {
			t.Fatalf("candidate %s targets lane %d", c.Candidate, c.Lane)
		}
	}
}

func TestCandidates_WaypointsSpacedAlongRoad(t *testing.T) {
	p, spec := testSetup(t, nil)
	ego := egoAt(spec, 1, 10, 8)
	cands, _ := p.Candidates(ego, nil, supervisor.Nominal)
	for _, c := range cands {
		if len(c.Waypoints) < int(minPathLength) {
			t.Fatalf("%s: only %d waypoints", c.Candidate, len(c.Waypoints))
		}
		last := c.Waypoints[len(c.Waypoints)-1]
		if math.Abs(last.Y-spec.LaneCenterY(c.Lane)) > 1e-9 {
			t.Fatalf("%s: path ends at y=%v, want lane centre %v", c.Candidate, last.Y, spec.LaneCenterY(c.Lane))
		}
		if math.Abs(c.Waypoints[0].X-(ego.Position.X+1)) > 1e-12 {
			t.Fatalf("%s: first waypoint at x=%v", c.Candidate, c.Waypoints[0].X)
		}
	}
}

func TestPlan_BlockedLaneChangesLane(t *testing.T) {
	p, spec := testSetup(t, nil)
	plan, err := p.Plan(egoAt(spec, 1, 0, 5), []state.AgentState{stopped(spec, 1, 25)}, supervisor.Nominal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.LaneOffset == 0 {
		t.Fatalf("expected a lane change around the stopped vehicle, got %s (cost %+v)", plan.Candidate, plan.Cost)
	}
}

func TestPlan_CollisionTermRisesWithProximity(t *testing.T) {
	p, spec := testSetup(t, nil)
	ego := egoAt(spec, 1, 0, 10)
	far, _ := p.Candidates(ego, []state.AgentState{stopped(spec, 1, 120)}, supervisor.Nominal)
	near, _ := p.Candidates(ego, []state.AgentState{stopped(spec, 1, 30)}, supervisor.Nominal)

	// Same generation order: index 5 is lane1 at full speed.
	if far[5].Candidate != "lane1_v1.00" {
		t.Fatalf("unexpected ordering: %s", far[5].Candidate)
	}
	if near[5].Cost.Collision <= far[5].Cost.Collision {
		t.Fatalf("expected closer obstacle to cost more: near %v far %v", near[5].Cost.Collision, far[5].Cost.Collision)
	}
}

// #endregion nominal-tests

// #region mode-tests
func TestPlan_CautiousCapsSpeed(t *testing.T) {
	p, spec := testSetup(t, nil)
	plan, err := p.Plan(egoAt(spec, 1, 0, 6), nil, supervisor.Cautious)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(plan.TargetSpeed-6) > 1e-9 {
		t.Fatalf("expected cautious target 0.6*10, got %v", plan.TargetSpeed)
	}
}

func TestPlan_CautiousWeighsCollisionHigher(t *testing.T) {
	p, spec := testSetup(t, func(sp *config.StackParams) { sp.CautiousSpeedScale = 1 })
	ego := egoAt(spec, 1, 0, 10)
	traffic := []state.AgentState{stopped(spec, 1, 40)}
	nom, _ := p.Candidates(ego, traffic, supervisor.Nominal)
	cau, _ := p.Candidates(ego, traffic, supervisor.Cautious)

	if nom[5].Cost.Collision == 0 {
		t.Fatal("expected a non-zero collision term")
	}
	if math.Abs(cau[5].Cost.Collision-3*nom[5].Cost.Collision) > 1e-9 {
		t.Fatalf("expected collision term tripled, got %v vs %v", cau[5].Cost.Collision, nom[5].Cost.Collision)
	}
}

func TestPlan_MRCAlwaysSingleStopCandidate(t *testing.T) {
	weightSets := []func(*config.StackParams){
		nil,
		func(sp *config.StackParams) { sp.CollisionWeight, sp.ProgressWeight = 0, 1e6 },
		func(sp *config.StackParams) { sp.ComfortWeight, sp.LegalityWeight = 1e6, 0 },
		func(sp *config.StackParams) { sp.CollisionWeight, sp.ProgressWeight, sp.ComfortWeight, sp.LegalityWeight = 0, 0, 0, 0 },
	}
	for i, mutate := range weightSets {
		p, spec := testSetup(t, mutate)
		ego := egoAt(spec, 2, 100, 12)
		plan, err := p.Plan(ego, []state.AgentState{stopped(spec, 2, 300)}, supervisor.MRC)
		if err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
		if plan.Candidate != "mrc_stop" || plan.Considered != 1 {
			t.Fatalf("set %d: expected the single stop candidate, got %s of %d", i, plan.Candidate, plan.Considered)
		}
		if plan.Lane != 2 || plan.LaneOffset != 0 {
			t.Fatalf("set %d: stop must stay in lane, got lane %d", i, plan.Lane)
		}
		if plan.TargetSpeed >= ego.Speed {
			t.Fatalf("set %d: expected deceleration target, got %v", i, plan.TargetSpeed)
		}
		prev := math.Inf(1)
		for _, wp := range plan.Waypoints {
			if wp.Speed > prev {
				t.Fatalf("set %d: stop profile speeds up at x=%v", i, wp.X)
			}
			prev = wp.Speed
		}
		if prev != 0 {
			t.Fatalf("set %d: stop profile ends at %v m/s", i, prev)
		}
	}
}

func TestPlan_LegalityPullsOffRoadEgoBackFaster(t *testing.T) {
	ego := func(spec scenario.Spec) state.EgoState {
		e := egoAt(spec, 0, 50, 10)
		e.Position.Y = -1 // on the shoulder below lane 0
		e.OnLane = false
		return e
	}

	p, spec := testSetup(t, func(sp *config.StackParams) { sp.LegalityWeight = 0 })
	plan, err := p.Plan(ego(spec), nil, supervisor.Nominal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Lane != 0 || plan.Cost.Legality != 0 {
		t.Fatalf("without the legality term expected the gentle return to lane 0, got %s", plan.Candidate)
	}

	p, spec = testSetup(t, func(sp *config.StackParams) { sp.LegalityWeight = 100 })
	plan, err = p.Plan(ego(spec), nil, supervisor.Nominal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Lane != 1 {
		t.Fatalf("expected the quicker return via lane 1, got %s", plan.Candidate)
	}
	if plan.Cost.Legality <= 0 {
		t.Fatalf("expected a legality cost while off the road, got %+v", plan.Cost)
	}
}

func TestCandidates_SpeedingEgoPaysLegality(t *testing.T) {
	p, spec := testSetup(t, nil)
	cands, err := p.Candidates(egoAt(spec, 1, 50, 20), nil, supervisor.Nominal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range cands {
		if c.Cost.Legality <= 0 {
			t.Fatalf("candidate %s: expected legality cost above the limit, got %v", c.Candidate, c.Cost.Legality)
		}
	}

	cands, _ = p.Candidates(egoAt(spec, 1, 50, 10), nil, supervisor.Nominal)
	for _, c := range cands {
		if c.Cost.Legality != 0 {
			t.Fatalf("candidate %s: unexpected legality cost %v", c.Candidate, c.Cost.Legality)
		}
	}
}

func TestPlan_NonFiniteEgoFails(t *testing.T) {
	p, spec := testSetup(t, nil)
	ego := egoAt(spec, 1, math.NaN(), 5)
	if _, err := p.Plan(ego, nil, supervisor.MRC); err == nil {
		t.Fatal("expected error for NaN pose")
	}
}

// #endregion mode-tests

// #region tie-break-tests
func TestBetter_PrefersSmallerLaneChangeOnTie(t *testing.T) {
	keep := TrajectoryPlan{LaneOffset: 0, Cost: CostBreakdown{Total: 4}}
	change := TrajectoryPlan{LaneOffset: -1, Cost: CostBreakdown{Total: 4}}
	if !better(keep, change) || better(change, keep) {
		t.Fatal("expected lane keep to win a cost tie")
	}
	cheaper := TrajectoryPlan{LaneOffset: 1, Cost: CostBreakdown{Total: 3}}
	if !better(cheaper, keep) {
		t.Fatal("expected lower cost to win regardless of lane")
	}
}

// #endregion tie-break-tests
