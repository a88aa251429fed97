package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/epiforge/cascade/internal/apperr"
)

// ModelRow is the catalog entry for one model document.
type ModelRow struct {
	Path            string
	Name            string
	Checksum        string
	Valid           bool
	Error           string
	Compartments    int
	Characteristics int
	Parameters      int
	Transitions     int
	Cascades        int
	UpdatedAt       time.Time
}

// UpsertModel inserts or replaces a catalog entry.
func (db *DB) UpsertModel(m ModelRow) error {
	_, err := db.conn.Exec(`
		INSERT INTO models (path, name, checksum, valid, error,
			compartments, characteristics, parameters, transitions, cascades, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name            = excluded.name,
			checksum        = excluded.checksum,
			valid           = excluded.valid,
			error           = excluded.error,
			compartments    = excluded.compartments,
			characteristics = excluded.characteristics,
			parameters      = excluded.parameters,
			transitions     = excluded.transitions,
			cascades        = excluded.cascades,
			updated_at      = excluded.updated_at
	`, m.Path, m.Name, m.Checksum, m.Valid, m.Error,
		m.Compartments, m.Characteristics, m.Parameters, m.Transitions, m.Cascades, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert model: %w", err)
	}
	return nil
}

// DeleteModel removes a catalog entry.
func (db *DB) DeleteModel(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM models WHERE path = ?`, path); err != nil {
		return fmt.Errorf("store: delete model: %w", err)
	}
	return nil
}

// GetModel fetches one catalog entry.
func (db *DB) GetModel(path string) (*ModelRow, error) {
	row := db.conn.QueryRow(`
		SELECT path, name, checksum, valid, error,
			compartments, characteristics, parameters, transitions, cascades, updated_at
		FROM models WHERE path = ?
	`, path)
	var m ModelRow
	err := row.Scan(&m.Path, &m.Name, &m.Checksum, &m.Valid, &m.Error,
		&m.Compartments, &m.Characteristics, &m.Parameters, &m.Transitions, &m.Cascades, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: model %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get model: %w", err)
	}
	return &m, nil
}

// ListModels returns every catalog entry ordered by path.
func (db *DB) ListModels() ([]ModelRow, error) {
	rows, err := db.conn.Query(`
		SELECT path, name, checksum, valid, error,
			compartments, characteristics, parameters, transitions, cascades, updated_at
		FROM models ORDER BY path
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list models: %w", err)
	}
	defer rows.Close()

	var out []ModelRow
	for rows.Next() {
		var m ModelRow
		if err := rows.Scan(&m.Path, &m.Name, &m.Checksum, &m.Valid, &m.Error,
			&m.Compartments, &m.Characteristics, &m.Parameters, &m.Transitions, &m.Cascades, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AllChecksums returns path -> checksum for every catalog entry.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM models`)
	if err != nil {
		return nil, fmt.Errorf("store: all checksums: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}
