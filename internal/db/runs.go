package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run ID has no row.
var ErrRunNotFound = errors.New("run not found")

// Run is one processing session over a single input source.
type Run struct {
	ID            string          `json:"run_id"`
	Source        string          `json:"source"`
	StartedAt     time.Time       `json:"started_at"`
	Config        json.RawMessage `json:"config"`
	EstimateCount int             `json:"estimate_count"`
}

// CreateRun inserts a new run and returns its generated ID. cfg is stored as
// JSON for later inspection.
func (db *DB) CreateRun(source string, cfg any, startedAt time.Time) (string, error) {
	cfgJSON := []byte("{}")
	if cfg != nil {
		b, err := json.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("failed to marshal run config: %w", err)
		}
		cfgJSON = b
	}

	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO fusion_runs (run_id, source, started_at, config_json) VALUES (?, ?, ?, ?)`,
		id, source, startedAt.UnixNano(), string(cfgJSON),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return id, nil
}

const runSelect = `
	SELECT r.run_id, r.source, r.started_at, r.config_json,
	       (SELECT COUNT(*) FROM fusion_estimates e WHERE e.run_id = r.run_id)
	FROM fusion_runs r`

func scanRun(sc interface{ Scan(...any) error }) (Run, error) {
	var (
		r         Run
		startedNs int64
		cfg       string
	)
	if err := sc.Scan(&r.ID, &r.Source, &startedNs, &cfg, &r.EstimateCount); err != nil {
		return Run{}, err
	}
	r.StartedAt = time.Unix(0, startedNs).UTC()
	r.Config = json.RawMessage(cfg)
	return r, nil
}

// Run returns a single run by ID.
func (db *DB) Run(id string) (Run, error) {
	r, err := scanRun(db.QueryRow(runSelect+` WHERE r.run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// Runs returns all runs, newest first.
func (db *DB) Runs() ([]Run, error) {
	rows, err := db.Query(runSelect + ` ORDER BY r.started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and its estimates.
func (db *DB) DeleteRun(id string) error {
	res, err := db.Exec(`DELETE FROM fusion_runs WHERE run_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}
