package runlog

// #region imports
import (
	"fmt"
	"math"
	"sort"
	"time"
)

// #endregion

// #region schema

const outcomesSchema = `
CREATE TABLE IF NOT EXISTS benchmark_outcomes (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    suite_id      TEXT NOT NULL,
    run_id        TEXT NOT NULL,
    scenario_name TEXT NOT NULL,
    policy        TEXT NOT NULL,
    seed          INTEGER NOT NULL,
    passed        INTEGER NOT NULL DEFAULT 0,
    collision     INTEGER NOT NULL DEFAULT 0,
    mrc_entered   INTEGER NOT NULL DEFAULT 0,
    min_ttc       REAL NOT NULL DEFAULT 0,
    created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_benchmark_outcomes_lookup
ON benchmark_outcomes(scenario_name, policy);
`

// #endregion

// #region types

// BenchmarkOutcome is the pass/fail verdict of one benchmark run.
type BenchmarkOutcome struct {
	SuiteID      string
	RunID        string
	ScenarioName string
	Policy       string
	Seed         int64
	Passed       bool
	Collision    bool
	MRCEntered   bool
	MinTTC       float64
	CreatedAt    time.Time
}

// ScenarioScore is the decay-weighted pass rate of a scenario under a policy.
type ScenarioScore struct {
	ScenarioName string
	PassRate     float64
	Samples      int
}

// #endregion

// #region record-outcome

// RecordOutcome persists a single benchmark outcome row.
func (s *Store) RecordOutcome(o BenchmarkOutcome) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO benchmark_outcomes
		(suite_id, run_id, scenario_name, policy, seed, passed, collision, mrc_entered, min_ttc, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.SuiteID,
		o.RunID,
		o.ScenarioName,
		o.Policy,
		o.Seed,
		boolInt(o.Passed),
		boolInt(o.Collision),
		boolInt(o.MRCEntered),
		finiteOrZero(o.MinTTC),
		o.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// #endregion

// #region weakest-scenarios

// WeakestScenarios returns scenarios under the policy ordered by decay-weighted pass
// rate, lowest first. Scenarios with fewer than minSamples outcomes are skipped.
// Outcomes older than halfLife weigh e⁻¹ as much as fresh ones.
func (s *Store) WeakestScenarios(policy string, halfLife time.Duration, minSamples int) ([]ScenarioScore, error) {
	rows, err := s.db.Query(`
		SELECT scenario_name, passed, created_at
		FROM benchmark_outcomes
		WHERE policy = ?`,
		policy,
	)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	type accum struct {
		weightedSum float64
		totalWeight float64
		count       int
	}

	now := time.Now()
	hl := halfLife.Hours()
	if hl <= 0 {
		hl = 7 * 24
	}
	acc := make(map[string]*accum)

	for rows.Next() {
		var name, createdAtStr string
		var passed int
		if err := rows.Scan(&name, &passed, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		createdAt, err := time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			continue
		}
		weight := math.Exp(-now.Sub(createdAt).Hours() / hl)

		a, ok := acc[name]
		if !ok {
			a = &accum{}
			acc[name] = a
		}
		a.weightedSum += float64(passed) * weight
		a.totalWeight += weight
		a.count++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []ScenarioScore
	for name, a := range acc {
		if a.count < minSamples || a.totalWeight == 0 {
			continue
		}
		out = append(out, ScenarioScore{ScenarioName: name, PassRate: a.weightedSum / a.totalWeight, Samples: a.count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PassRate != out[j].PassRate {
			return out[i].PassRate < out[j].PassRate
		}
		return out[i].ScenarioName < out[j].ScenarioName
	})
	return out, nil
}

// #endregion

// #region helpers

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// #endregion
