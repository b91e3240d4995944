package export

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/chemharvest/chemharvest/pkg/engine"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	columns TEXT NOT NULL,
	succeeded INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	total INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS result_rows (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	position INTEGER NOT NULL,
	identifier TEXT NOT NULL,
	fields TEXT NOT NULL
);
`

// Store persists result tables per run in SQLite.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores the table and its summary under the given run ID. Rows are
// stored in table order so a load reproduces the table exactly.
func (s *Store) SaveRun(runID, source string, table engine.Table, summary engine.Summary) error {
	columns, err := json.Marshal(table.Columns)
	if err != nil {
		return fmt.Errorf("encode columns: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = sq.Insert("runs").
		Columns("id", "source", "columns", "succeeded", "failed", "total", "created_at").
		Values(runID, source, string(columns), summary.Succeeded, summary.Failed, summary.Total, time.Now().UTC()).
		RunWith(tx).
		Exec()
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, record := range table.Rows {
		fields, err := json.Marshal(record.Fields)
		if err != nil {
			return fmt.Errorf("encode row %d: %w", i, err)
		}

		_, err = sq.Insert("result_rows").
			Columns("run_id", "position", "identifier", "fields").
			Values(runID, i, string(record.Identifier), string(fields)).
			RunWith(tx).
			Exec()
		if err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// LoadRun reconstructs a previously saved table.
func (s *Store) LoadRun(runID string) (engine.Table, error) {
	var columnsJSON string
	err := sq.Select("columns").
		From("runs").
		Where(sq.Eq{"id": runID}).
		RunWith(s.db).
		QueryRow().
		Scan(&columnsJSON)
	if err != nil {
		return engine.Table{}, fmt.Errorf("load run %s: %w", runID, err)
	}

	var table engine.Table
	if err := json.Unmarshal([]byte(columnsJSON), &table.Columns); err != nil {
		return engine.Table{}, fmt.Errorf("decode columns: %w", err)
	}

	rows, err := sq.Select("identifier", "fields").
		From("result_rows").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("position").
		RunWith(s.db).
		Query()
	if err != nil {
		return engine.Table{}, fmt.Errorf("load rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var identifier, fieldsJSON string
		if err := rows.Scan(&identifier, &fieldsJSON); err != nil {
			return engine.Table{}, fmt.Errorf("scan row: %w", err)
		}

		record := engine.Record{Identifier: engine.Identifier(identifier)}
		if err := json.Unmarshal([]byte(fieldsJSON), &record.Fields); err != nil {
			return engine.Table{}, fmt.Errorf("decode fields: %w", err)
		}
		table.Rows = append(table.Rows, record)
	}

	return table, rows.Err()
}
