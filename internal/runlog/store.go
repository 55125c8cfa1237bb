package runlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/logging"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	suite_id      TEXT,
	scenario_name TEXT NOT NULL,
	seed          INTEGER NOT NULL,
	policy        TEXT NOT NULL,
	estimator     TEXT NOT NULL,
	started_at    TEXT NOT NULL,
	ended_at      TEXT,
	reason        TEXT,
	error         TEXT,
	ticks         INTEGER NOT NULL DEFAULT 0,
	collision     INTEGER NOT NULL DEFAULT 0,
	distance      REAL NOT NULL DEFAULT 0,
	output_path   TEXT,
	scenario_json TEXT NOT NULL,
	params_json   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ticks (
	run_id         TEXT NOT NULL,
	tick           INTEGER NOT NULL,
	x              REAL NOT NULL,
	y              REAL NOT NULL,
	heading        REAL NOT NULL,
	speed          REAL NOT NULL,
	frame_dropped  INTEGER NOT NULL,
	events         TEXT,
	risk           REAL NOT NULL,
	fault          TEXT,
	mode           TEXT NOT NULL,
	candidate      TEXT,
	steering       REAL NOT NULL,
	throttle_brake REAL NOT NULL,
	PRIMARY KEY (run_id, tick),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// #endregion schema

// #region types
// RunSummary is one row of the runs table.
type RunSummary struct {
	RunID        string
	SuiteID      string
	ScenarioName string
	Seed         int64
	Policy       string
	Estimator    string
	StartedAt    time.Time
	EndedAt      time.Time
	Reason       string
	Error        string
	Ticks        int
	Collision    bool
	Distance     float64
	OutputPath   string
}

// TickRow is the indexed subset of an Entry.
type TickRow struct {
	Tick          int
	X, Y          float64
	Heading       float64
	Speed         float64
	FrameDropped  bool
	Events        []string
	Risk          float64
	Fault         string
	Mode          string
	Candidate     string
	Steering      float64
	ThrottleBrake float64
}

// #endregion types

// #region store-struct
// Store indexes runs in SQLite. The JSONL file stays the replay source of truth.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	for _, ddl := range []string{schema, logging.Schema, outcomesSchema} {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region persist
// Persist implements Sink: the run row, every tick and the provenance entries are
// written in one transaction. Persisting the same run again replaces it.
func (s *Store) Persist(r *Record) error {
	scenarioJSON, err := json.Marshal(r.Header.Scenario)
	if err != nil {
		return fmt.Errorf("marshal scenario: %w", err)
	}
	paramsJSON, err := json.Marshal(r.Header.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id := r.Header.RunID
	for _, q := range []string{
		`DELETE FROM ticks WHERE run_id = ?`,
		`DELETE FROM provenance_log WHERE run_id = ?`,
		`DELETE FROM runs WHERE run_id = ?`,
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return fmt.Errorf("clear run %s: %w", id, err)
		}
	}

	_, err = tx.Exec(
		`INSERT INTO runs (run_id, suite_id, scenario_name, seed, policy, estimator, started_at, ended_at,
		                   reason, error, ticks, collision, distance, output_path, scenario_json, params_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		nullIfEmpty(r.Header.SuiteID),
		r.Header.Scenario.Name,
		r.Header.Scenario.Seed,
		r.Header.Policy,
		r.Header.Estimator,
		r.Header.StartedAt.UTC().Format(time.RFC3339Nano),
		nullTime(r.Footer.EndedAt),
		nullIfEmpty(r.Footer.Reason),
		nullIfEmpty(r.Footer.Error),
		len(r.Entries),
		boolInt(r.Footer.Info.Crash),
		r.Footer.Info.Distance,
		nullIfEmpty(r.Header.OutputPath),
		string(scenarioJSON),
		string(paramsJSON),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO ticks (run_id, tick, x, y, heading, speed, frame_dropped, events, risk, fault, mode,
		                    candidate, steering, throttle_brake)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare ticks: %w", err)
	}
	defer stmt.Close()

	for _, e := range r.Entries {
		_, err := stmt.Exec(
			id, e.Tick, e.Ego.Position.X, e.Ego.Position.Y, e.Ego.Heading, e.Ego.Speed,
			boolInt(e.Disturbance.FrameDropped), nullIfEmpty(strings.Join(e.Disturbance.EventsFired, ",")),
			e.Risk.Probability, nullIfEmpty(e.EstimatorFault), string(e.Mode),
			nullIfEmpty(e.PlanCandidate), e.Command.Steering, e.Command.ThrottleBrake,
		)
		if err != nil {
			return fmt.Errorf("insert tick %d: %w", e.Tick, err)
		}
	}

	for _, p := range provenanceFor(r) {
		if err := logging.LogEntry(tx, p); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// provenanceFor derives the provenance rows of a run: transitions, faults that did
// not change the mode, and the end of the run.
func provenanceFor(r *Record) []logging.ProvenanceEntry {
	var out []logging.ProvenanceEntry
	transitionAt := make(map[int]bool, len(r.Transitions))
	for _, ev := range r.Transitions {
		transitionAt[ev.Tick] = true
		detail, _ := json.Marshal(ev)
		out = append(out, logging.ProvenanceEntry{
			RunID:       r.Header.RunID,
			Tick:        ev.Tick,
			Kind:        logging.KindModeTransition,
			FromMode:    string(ev.From),
			ToMode:      string(ev.To),
			Probability: ev.Probability,
			Reason:      ev.Reason,
			DetailJSON:  string(detail),
		})
	}
	for _, e := range r.Entries {
		if e.EstimatorFault == "" || transitionAt[e.Tick] {
			continue
		}
		out = append(out, logging.ProvenanceEntry{
			RunID:       r.Header.RunID,
			Tick:        e.Tick,
			Kind:        logging.KindEstimatorFault,
			FromMode:    string(e.Mode),
			ToMode:      string(e.Mode),
			Probability: e.Risk.Probability,
			Reason:      e.EstimatorFault,
		})
	}
	if r.Footer.Reason != "" {
		out = append(out, logging.ProvenanceEntry{
			RunID:  r.Header.RunID,
			Tick:   len(r.Entries),
			Kind:   logging.KindRunEnded,
			Reason: r.Footer.Reason,
		})
	}
	return out
}

// #endregion persist

// #region get-run
// GetRun reads one run summary.
func (s *Store) GetRun(runID string) (RunSummary, error) {
	row := s.db.QueryRow(runSelect+` WHERE run_id = ?`, runID)
	rs, err := scanRun(row)
	if err != nil {
		return RunSummary{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return rs, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunSummary, error) {
	rows, err := s.db.Query(runSelect+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		rs, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

const runSelect = `SELECT run_id, suite_id, scenario_name, seed, policy, estimator, started_at, ended_at,
	reason, error, ticks, collision, distance, output_path FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunSummary, error) {
	var rs RunSummary
	var suite, ended, reason, errText, output sql.NullString
	var started string
	var collision int
	err := sc.Scan(&rs.RunID, &suite, &rs.ScenarioName, &rs.Seed, &rs.Policy, &rs.Estimator, &started, &ended,
		&reason, &errText, &rs.Ticks, &collision, &rs.Distance, &output)
	if err != nil {
		return RunSummary{}, err
	}
	rs.SuiteID, rs.Reason, rs.Error, rs.OutputPath = suite.String, reason.String, errText.String, output.String
	rs.Collision = collision != 0
	rs.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if ended.Valid {
		rs.EndedAt, _ = time.Parse(time.RFC3339Nano, ended.String)
	}
	return rs, nil
}

// #endregion get-run

// #region ticks
// Ticks returns the indexed tick rows of a run in order.
func (s *Store) Ticks(runID string) ([]TickRow, error) {
	rows, err := s.db.Query(
		`SELECT tick, x, y, heading, speed, frame_dropped, events, risk, fault, mode, candidate, steering, throttle_brake
		 FROM ticks WHERE run_id = ? ORDER BY tick`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list ticks: %w", err)
	}
	defer rows.Close()

	var out []TickRow
	for rows.Next() {
		var t TickRow
		var dropped int
		var events, fault, candidate sql.NullString
		if err := rows.Scan(&t.Tick, &t.X, &t.Y, &t.Heading, &t.Speed, &dropped, &events, &t.Risk, &fault,
			&t.Mode, &candidate, &t.Steering, &t.ThrottleBrake); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		t.FrameDropped = dropped != 0
		if events.Valid {
			t.Events = strings.Split(events.String, ",")
		}
		t.Fault, t.Candidate = fault.String, candidate.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// #endregion ticks

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
