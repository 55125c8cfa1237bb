package logging

import (
	"database/sql"
	"fmt"
	"time"
)

// #region schema
// Schema creates the provenance_log table. The run store applies it on open.
const Schema = `
CREATE TABLE IF NOT EXISTS provenance_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	tick         INTEGER NOT NULL,
	kind         TEXT NOT NULL,
	from_mode    TEXT,
	to_mode      TEXT,
	probability  REAL NOT NULL DEFAULT 0,
	reason       TEXT,
	detail_json  TEXT,
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_provenance_run ON provenance_log(run_id, tick);
`

// #endregion schema

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// #region log-entry
// LogEntry writes a provenance entry to the provenance_log table.
func LogEntry(db Execer, entry ProvenanceEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO provenance_log (run_id, tick, kind, from_mode, to_mode, probability, reason, detail_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.Tick,
		entry.Kind,
		nullIfEmpty(entry.FromMode),
		nullIfEmpty(entry.ToMode),
		entry.Probability,
		nullIfEmpty(entry.Reason),
		nullIfEmpty(entry.DetailJSON),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log provenance: %w", err)
	}
	return nil
}

// #endregion log-entry

// #region list-entries
// ListEntries returns a run's provenance in tick order.
func ListEntries(db *sql.DB, runID string) ([]ProvenanceEntry, error) {
	rows, err := db.Query(
		`SELECT run_id, tick, kind, from_mode, to_mode, probability, reason, detail_json, created_at
		 FROM provenance_log WHERE run_id = ? ORDER BY tick, id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list provenance: %w", err)
	}
	defer rows.Close()

	var out []ProvenanceEntry
	for rows.Next() {
		var e ProvenanceEntry
		var from, to, reason, detail sql.NullString
		var created string
		if err := rows.Scan(&e.RunID, &e.Tick, &e.Kind, &from, &to, &e.Probability, &reason, &detail, &created); err != nil {
			return nil, fmt.Errorf("scan provenance: %w", err)
		}
		e.FromMode, e.ToMode, e.Reason, e.DetailJSON = from.String, to.String, reason.String, detail.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list-entries

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
