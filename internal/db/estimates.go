package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/banshee-data/sensorfusion/internal/fusion"
)

// EstimateRow is one persisted filter output.
type EstimateRow struct {
	RunID       string        `json:"run_id"`
	Seq         int64         `json:"seq"`
	ObjectID    string        `json:"object_id"`
	TimestampUS int64         `json:"timestamp_us"`
	Sensor      string        `json:"sensor"`
	State       fusion.State  `json:"state"`
	Covariance  []float64     `json:"covariance"` // 4x4 row-major
	NIS         *float64      `json:"nis,omitempty"`
	SkipReason  string        `json:"skip_reason,omitempty"`
	Truth       *fusion.State `json:"truth,omitempty"`
}

// NewEstimateRow converts a controller result into a row.
func NewEstimateRow(runID string, seq int64, objectID string, res fusion.Result, truth *fusion.State) EstimateRow {
	row := EstimateRow{
		RunID:       runID,
		Seq:         seq,
		ObjectID:    objectID,
		TimestampUS: res.Timestamp,
		Sensor:      res.Sensor.String(),
		State:       res.Estimate.State,
		SkipReason:  string(res.Skipped),
		Truth:       truth,
	}
	if row.ObjectID == "" {
		row.ObjectID = fusion.DefaultObjectID
	}
	if c := res.Estimate.Covariance; c != nil {
		n := c.SymmetricDim()
		row.Covariance = make([]float64, 0, n*n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				row.Covariance = append(row.Covariance, c.At(i, j))
			}
		}
	}
	if res.Innovation != nil {
		nis := res.NIS
		row.NIS = &nis
	}
	return row
}

// RecordEstimate inserts a single estimate row.
func (db *DB) RecordEstimate(row EstimateRow) error {
	return db.RecordEstimates([]EstimateRow{row})
}

// RecordEstimates inserts rows in one transaction.
func (db *DB) RecordEstimates(rows []EstimateRow) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO fusion_estimates (
			run_id, seq, object_id, timestamp_us, sensor,
			x, y, vx, vy, covariance_json, nis, skip_reason,
			truth_x, truth_y, truth_vx, truth_vy
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		cov, err := json.Marshal(r.Covariance)
		if err != nil {
			return fmt.Errorf("failed to marshal covariance: %w", err)
		}
		var nis sql.NullFloat64
		if r.NIS != nil {
			nis = sql.NullFloat64{Float64: *r.NIS, Valid: true}
		}
		var gx, gy, gvx, gvy sql.NullFloat64
		if r.Truth != nil {
			gx = sql.NullFloat64{Float64: r.Truth.X, Valid: true}
			gy = sql.NullFloat64{Float64: r.Truth.Y, Valid: true}
			gvx = sql.NullFloat64{Float64: r.Truth.VX, Valid: true}
			gvy = sql.NullFloat64{Float64: r.Truth.VY, Valid: true}
		}
		if _, err := stmt.Exec(
			r.RunID, r.Seq, r.ObjectID, r.TimestampUS, r.Sensor,
			r.State.X, r.State.Y, r.State.VX, r.State.VY, string(cov), nis, r.SkipReason,
			gx, gy, gvx, gvy,
		); err != nil {
			return fmt.Errorf("failed to insert estimate %s/%d: %w", r.RunID, r.Seq, err)
		}
	}
	return tx.Commit()
}

// Estimates returns the estimates of a run in sequence order. limit <= 0
// returns all rows.
func (db *DB) Estimates(runID string, limit int) ([]EstimateRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT run_id, seq, object_id, timestamp_us, sensor,
		       x, y, vx, vy, covariance_json, nis, skip_reason,
		       truth_x, truth_y, truth_vx, truth_vy
		FROM fusion_estimates
		WHERE run_id = ?
		ORDER BY seq ASC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EstimateRow
	for rows.Next() {
		var (
			r                EstimateRow
			cov              string
			nis              sql.NullFloat64
			gx, gy, gvx, gvy sql.NullFloat64
		)
		if err := rows.Scan(
			&r.RunID, &r.Seq, &r.ObjectID, &r.TimestampUS, &r.Sensor,
			&r.State.X, &r.State.Y, &r.State.VX, &r.State.VY, &cov, &nis, &r.SkipReason,
			&gx, &gy, &gvx, &gvy,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(cov), &r.Covariance); err != nil {
			return nil, fmt.Errorf("corrupt covariance for %s/%d: %w", r.RunID, r.Seq, err)
		}
		if nis.Valid {
			v := nis.Float64
			r.NIS = &v
		}
		if gx.Valid && gy.Valid && gvx.Valid && gvy.Valid {
			r.Truth = &fusion.State{X: gx.Float64, Y: gy.Float64, VX: gvx.Float64, VY: gvy.Float64}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
