package runlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/logging"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPersistAndGetRun(t *testing.T) {
	s := tempStore(t)
	rec := sampleRecord("run-a")

	if err := s.Persist(rec); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	got, err := s.GetRun("run-a")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.ScenarioName != "cut_in_basic" || got.Seed != 42 {
		t.Fatalf("unexpected run row: %+v", got)
	}
	if got.Ticks != 4 {
		t.Fatalf("expected 4 ticks, got %d", got.Ticks)
	}
	if got.Reason != ReasonMaxTicks {
		t.Fatalf("expected reason %q, got %q", ReasonMaxTicks, got.Reason)
	}
	if !got.StartedAt.Equal(rec.Header.StartedAt) {
		t.Fatalf("started_at mismatch: %v vs %v", got.StartedAt, rec.Header.StartedAt)
	}

	if _, err := s.GetRun("missing"); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestTicksRoundTrip(t *testing.T) {
	s := tempStore(t)
	rec := sampleRecord("run-b")
	if err := s.Persist(rec); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	rows, err := s.Ticks("run-b")
	if err != nil {
		t.Fatalf("Ticks: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	for i, r := range rows {
		if r.Tick != i {
			t.Fatalf("row %d has tick %d", i, r.Tick)
		}
		if r.X != rec.Entries[i].Ego.Position.X {
			t.Fatalf("tick %d x: %v vs %v", i, r.X, rec.Entries[i].Ego.Position.X)
		}
	}
	if !rows[1].FrameDropped {
		t.Fatal("expected frame drop at tick 1")
	}
	if len(rows[2].Events) != 2 || rows[2].Events[0] != "cut1" || rows[2].Events[1] != "brake1" {
		t.Fatalf("expected events [cut1 brake1], got %v", rows[2].Events)
	}
	if rows[0].Events != nil {
		t.Fatalf("expected no events at tick 0, got %v", rows[0].Events)
	}
	if rows[3].Mode != "MINIMAL_RISK_CONDITION" || rows[3].Fault == "" {
		t.Fatalf("expected faulted MRC tick, got %+v", rows[3])
	}
}

func TestPersistWritesProvenance(t *testing.T) {
	s := tempStore(t)
	if err := s.Persist(sampleRecord("run-c")); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	entries, err := logging.ListEntries(s.DB(), "run-c")
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	// The faulted tick also transitions, so it is logged once as a transition.
	if len(entries) != 2 {
		t.Fatalf("expected 2 provenance entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].Kind != logging.KindModeTransition || entries[0].ToMode != "MINIMAL_RISK_CONDITION" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Kind != logging.KindRunEnded || entries[1].Reason != ReasonMaxTicks {
		t.Fatalf("unexpected last entry: %+v", entries[1])
	}
}

func TestPersistReplacesExistingRun(t *testing.T) {
	s := tempStore(t)
	rec := sampleRecord("run-d")
	if err := s.Persist(rec); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	rec.Entries = rec.Entries[:2]
	if err := s.Persist(rec); err != nil {
		t.Fatalf("second Persist: %v", err)
	}

	rows, err := s.Ticks("run-d")
	if err != nil {
		t.Fatalf("Ticks: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows after replace, got %d", len(rows))
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := tempStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		rec := sampleRecord(id)
		rec.Header.StartedAt = base.Add(time.Duration(i) * time.Hour)
		if err := s.Persist(rec); err != nil {
			t.Fatalf("Persist %s: %v", id, err)
		}
	}

	runs, err := s.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].RunID != "new" || runs[1].RunID != "mid" {
		t.Fatalf("unexpected order: %s, %s", runs[0].RunID, runs[1].RunID)
	}
}

func TestWeakestScenarios(t *testing.T) {
	s := tempStore(t)
	now := time.Now().UTC()

	record := func(name string, passed bool, age time.Duration) {
		t.Helper()
		err := s.RecordOutcome(BenchmarkOutcome{
			SuiteID:      "suite",
			RunID:        name,
			ScenarioName: name,
			Policy:       "ramp",
			Passed:       passed,
			CreatedAt:    now.Add(-age),
		})
		if err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}

	// highway passes every time.
	for i := 0; i < 3; i++ {
		record("highway", true, time.Hour)
	}
	// cut_in failed recently and passed long ago.
	record("cut_in", false, time.Hour)
	record("cut_in", false, time.Hour)
	record("cut_in", true, 60*24*time.Hour)
	// merge has too few samples.
	record("merge", false, time.Hour)

	scores, err := s.WeakestScenarios("ramp", 7*24*time.Hour, 3)
	if err != nil {
		t.Fatalf("WeakestScenarios: %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("expected 2 scored scenarios, got %d: %+v", len(scores), scores)
	}
	if scores[0].ScenarioName != "cut_in" {
		t.Fatalf("expected cut_in weakest, got %s", scores[0].ScenarioName)
	}
	if scores[0].PassRate > 0.05 {
		t.Fatalf("old pass should barely count, got rate %f", scores[0].PassRate)
	}
	if scores[1].PassRate != 1 {
		t.Fatalf("expected highway rate 1, got %f", scores[1].PassRate)
	}

	none, err := s.WeakestScenarios("static", 0, 1)
	if err != nil {
		t.Fatalf("WeakestScenarios: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no scores for unused policy, got %d", len(none))
	}
}
