// Package store persists simulation runs in SQLite: one row per run plus
// one snapshot row per step, each carrying the flat namespaced state.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/prognostic-moe/internal/model"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	model_name   TEXT NOT NULL,
	config_json  TEXT,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	step         INTEGER NOT NULL,
	sim_time     REAL NOT NULL,
	state_json   TEXT NOT NULL,
	output_json  TEXT,
	best_expert  TEXT,
	created_at   TEXT NOT NULL,
	UNIQUE (run_id, step),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// #endregion schema

// #region types

// Run is one persisted simulation run.
type Run struct {
	RunID      string
	ModelName  string
	ConfigJSON string
	CreatedAt  time.Time
}

// SnapshotRow is one persisted simulation step.
type SnapshotRow struct {
	RunID      string
	Step       int
	SimTime    float64
	State      model.StateVector
	Output     model.OutputVector
	BestExpert string
	CreatedAt  time.Time
}

// #endregion types

// #region store-struct

// Store manages simulation runs in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection; the caller owns migrations
// and the connection lifetime. Used by tests.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion store-struct

// #region create-run

// CreateRun inserts a new run row with a fresh ID.
func (s *Store) CreateRun(modelName, configJSON string) (Run, error) {
	run := Run{
		RunID:      uuid.New().String(),
		ModelName:  modelName,
		ConfigJSON: configJSON,
		CreatedAt:  time.Now().UTC(),
	}

	var configPtr interface{}
	if run.ConfigJSON != "" {
		configPtr = run.ConfigJSON
	}

	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, model_name, config_json, created_at)
		 VALUES (?, ?, ?, ?)`,
		run.RunID, run.ModelName, configPtr, run.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// #endregion create-run

// #region append-snapshot

// AppendSnapshot inserts one step row for a run.
func (s *Store) AppendSnapshot(row SnapshotRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	stateJSON, err := encodeVector(row.State)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	var outputPtr interface{}
	if row.Output != nil {
		outputJSON, err := encodeVector(model.StateVector(row.Output))
		if err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		outputPtr = string(outputJSON)
	}

	var bestPtr interface{}
	if row.BestExpert != "" {
		bestPtr = row.BestExpert
	}

	_, err = s.db.Exec(
		`INSERT INTO snapshots (run_id, step, sim_time, state_json, output_json, best_expert, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.RunID, row.Step, row.SimTime, string(stateJSON), outputPtr, bestPtr,
		row.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// #endregion append-snapshot

// #region queries

// GetRun retrieves a run by ID.
func (s *Store) GetRun(runID string) (Run, error) {
	var run Run
	var configJSON sql.NullString
	var createdStr string

	err := s.db.QueryRow(
		`SELECT run_id, model_name, config_json, created_at FROM runs WHERE run_id = ?`, runID,
	).Scan(&run.RunID, &run.ModelName, &configJSON, &createdStr)
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	if configJSON.Valid {
		run.ConfigJSON = configJSON.String
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT run_id, model_name, config_json, created_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var configJSON sql.NullString
		var createdStr string
		if err := rows.Scan(&run.RunID, &run.ModelName, &configJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if configJSON.Valid {
			run.ConfigJSON = configJSON.String
		}
		run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Snapshots returns all snapshot rows for a run in step order.
func (s *Store) Snapshots(runID string) ([]SnapshotRow, error) {
	rows, err := s.db.Query(
		`SELECT run_id, step, sim_time, state_json, output_json, best_expert, created_at
		 FROM snapshots WHERE run_id = ? ORDER BY step ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var row SnapshotRow
		var stateJSON string
		var outputJSON sql.NullString
		var bestExpert sql.NullString
		var createdStr string

		if err := rows.Scan(&row.RunID, &row.Step, &row.SimTime, &stateJSON, &outputJSON, &bestExpert, &createdStr); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}

		state, err := decodeVector([]byte(stateJSON))
		if err != nil {
			return nil, fmt.Errorf("decode state for step %d: %w", row.Step, err)
		}
		row.State = state

		if outputJSON.Valid {
			output, err := decodeVector([]byte(outputJSON.String))
			if err != nil {
				return nil, fmt.Errorf("decode output for step %d: %w", row.Step, err)
			}
			row.Output = model.OutputVector(output)
		}
		if bestExpert.Valid {
			row.BestExpert = bestExpert.String
		}
		row.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, row)
	}
	return out, rows.Err()
}

// #endregion queries

// #region vector-encoding

// encodeVector marshals a flat vector to JSON. NaN has no JSON encoding,
// so unknown values are stored as null.
func encodeVector(v model.StateVector) ([]byte, error) {
	m := make(map[string]*float64, len(v))
	for k, val := range v {
		if math.IsNaN(val) {
			m[k] = nil
			continue
		}
		val := val
		m[k] = &val
	}
	return json.Marshal(m)
}

// decodeVector reverses encodeVector, restoring nulls as NaN.
func decodeVector(b []byte) (model.StateVector, error) {
	var m map[string]*float64
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	out := make(model.StateVector, len(m))
	for k, val := range m {
		if val == nil {
			out[k] = math.NaN()
			continue
		}
		out[k] = *val
	}
	return out, nil
}

// #endregion vector-encoding
