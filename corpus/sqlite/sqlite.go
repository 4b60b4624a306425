// Package sqlite serves corpus splits from a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hupe1980/vecclf/corpus"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS examples (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	dataset TEXT NOT NULL,
	split   TEXT NOT NULL,
	content TEXT NOT NULL,
	label   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_examples_split ON examples(dataset, split, id);`

// Source implements corpus.Source on the examples table.
type Source struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn and ensures the schema exists.
func Open(dsn string) (*Source, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Source{db: db}, nil
}

func (s *Source) Close() error {
	return s.db.Close()
}

// Insert appends examples to dataset/split in one transaction.
func (s *Source) Insert(ctx context.Context, dataset, split string, examples ...corpus.Example) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO examples (dataset, split, content, label) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range examples {
		if _, err := stmt.ExecContext(ctx, dataset, split, e.Text, e.Label); err != nil {
			return fmt.Errorf("insert example: %w", err)
		}
	}
	return tx.Commit()
}

// Fetch returns the split in insertion order.
func (s *Source) Fetch(ctx context.Context, dataset, split string) ([]corpus.Example, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT content, label FROM examples WHERE dataset = ? AND split = ? ORDER BY id", dataset, split)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s/%s: %w", corpus.ErrDataSource, dataset, split, err)
	}
	defer rows.Close()

	var out []corpus.Example
	for rows.Next() {
		var e corpus.Example
		if err := rows.Scan(&e.Text, &e.Label); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", corpus.ErrDataSource, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", corpus.ErrDataSource, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: split %s/%s not found", corpus.ErrDataSource, dataset, split)
	}
	return out, nil
}
