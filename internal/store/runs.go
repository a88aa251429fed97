package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/epiforge/cascade/internal/apperr"
	"github.com/epiforge/cascade/internal/results"
)

// RunRow is the persistent record of one simulation run.
type RunRow struct {
	ID          string
	Name        string
	ModelPath   string
	Scenario    string
	Status      string
	Error       string
	StartYear   float64
	EndYear     float64
	Dt          float64
	Populations []string
	T           []float64
	CreatedAt   time.Time
	FinishedAt  *time.Time
}

// InsertRun records a new run in the running state.
func (db *DB) InsertRun(r RunRow) error {
	pops, _ := json.Marshal(r.Populations)
	tvec, _ := json.Marshal(r.T)
	_, err := db.conn.Exec(`
		INSERT INTO runs (id, name, model_path, scenario, status, error,
			start_year, end_year, dt, populations, tvec, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Name, r.ModelPath, r.Scenario, r.Status, r.Error,
		r.StartYear, r.EndYear, r.Dt, string(pops), string(tvec), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}
	return nil
}

// GetRun fetches one run record.
func (db *DB) GetRun(id string) (*RunRow, error) {
	row := db.conn.QueryRow(`
		SELECT id, name, model_path, scenario, status, error,
			start_year, end_year, dt, populations, tvec, created_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	r, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: run %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	return r, nil
}

// ListRuns returns run records newest first.
func (db *DB) ListRuns(limit, offset int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(`
		SELECT id, name, model_path, scenario, status, error,
			start_year, end_year, dt, populations, tvec, created_at, finished_at
		FROM runs ORDER BY created_at DESC, id LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRun(scan func(dest ...any) error) (*RunRow, error) {
	var (
		r          RunRow
		pops, tvec string
		finished   sql.NullTime
	)
	if err := scan(&r.ID, &r.Name, &r.ModelPath, &r.Scenario, &r.Status, &r.Error,
		&r.StartYear, &r.EndYear, &r.Dt, &pops, &tvec, &r.CreatedAt, &finished); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(pops), &r.Populations)
	_ = json.Unmarshal([]byte(tvec), &r.T)
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return &r, nil
}

// SaveResult stores every output series of a completed run and flips its
// status, within one transaction.
func (db *DB) SaveResult(id string, res *results.Result) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	stmt, err := tx.Prepare(`
		INSERT INTO run_series (run_id, population, kind, name, vals)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, population, kind, name) DO UPDATE SET vals = excluded.vals
	`)
	if err != nil {
		return fmt.Errorf("store: prepare series insert: %w", err)
	}
	defer stmt.Close()

	insert := func(pop, kind, name string, vals []float64) error {
		data, err := json.Marshal(vals)
		if err != nil {
			return err
		}
		_, err = stmt.Exec(id, pop, kind, name, string(data))
		return err
	}
	for pop, out := range res.Outputs {
		for name, vals := range out.Compartments {
			if err := insert(pop, KindCompartment, name, vals); err != nil {
				return fmt.Errorf("store: save series: %w", err)
			}
		}
		for name, vals := range out.Characteristics {
			if err := insert(pop, KindCharacteristic, name, vals); err != nil {
				return fmt.Errorf("store: save series: %w", err)
			}
		}
		for name, vals := range out.Parameters {
			if err := insert(pop, KindParameter, name, vals); err != nil {
				return fmt.Errorf("store: save series: %w", err)
			}
		}
		for _, fl := range out.Flows {
			name := fl.From + ">" + fl.To + ":" + fl.Parameter
			if err := insert(pop, KindFlow, name, fl.Values); err != nil {
				return fmt.Errorf("store: save series: %w", err)
			}
		}
	}

	tvec, _ := json.Marshal(res.T)
	pops, _ := json.Marshal(res.Populations)
	if _, err := tx.Exec(`
		UPDATE runs SET status = ?, tvec = ?, populations = ?, finished_at = ?
		WHERE id = ?
	`, StatusCompleted, string(tvec), string(pops), time.Now().UTC(), id); err != nil {
		return fmt.Errorf("store: finish run: %w", err)
	}
	return tx.Commit()
}

// MarkRunFailed flips a run to the failed state with its error text.
func (db *DB) MarkRunFailed(id, errText string) error {
	_, err := db.conn.Exec(`
		UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?
	`, StatusFailed, errText, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: mark run failed: %w", err)
	}
	return nil
}

// GetSeries fetches one stored series by population and variable name,
// searching compartments, characteristics, then parameters.
func (db *DB) GetSeries(id, pop, name string) ([]float64, error) {
	row := db.conn.QueryRow(`
		SELECT vals FROM run_series
		WHERE run_id = ? AND population = ? AND name = ? AND kind != ?
		ORDER BY CASE kind WHEN ? THEN 0 WHEN ? THEN 1 ELSE 2 END
		LIMIT 1
	`, id, pop, name, KindFlow, KindCompartment, KindCharacteristic)
	var data string
	err := row.Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: series %s/%s in run %s: %w", pop, name, id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get series: %w", err)
	}
	var vals []float64
	if err := json.Unmarshal([]byte(data), &vals); err != nil {
		return nil, fmt.Errorf("store: decode series: %w", err)
	}
	return vals, nil
}

// DeleteRun removes a run and its series.
func (db *DB) DeleteRun(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, _ = tx.Exec(`DELETE FROM run_series WHERE run_id = ?`, id)
	_, _ = tx.Exec(`DELETE FROM runs WHERE id = ?`, id)
	return tx.Commit()
}
