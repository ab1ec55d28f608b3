package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/botvisor/internal/bot"
)

// DB implements registry.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// The DSN is a filesystem path to the database file; ":memory:" works for tests.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// one connection keeps ":memory:" databases alive and avoids writer contention
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bots(
			name TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			path TEXT NOT NULL,
			start_command TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`)
	return err
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) LoadAll(ctx context.Context) (map[string]bot.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, category, path, start_command FROM bots ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]bot.Definition)
	for rows.Next() {
		var d bot.Definition
		if err := rows.Scan(&d.Name, &d.Category, &d.Path, &d.StartCommand); err != nil {
			return nil, err
		}
		out[d.Name] = d
	}
	return out, rows.Err()
}

// SaveAll replaces the table contents in one transaction.
func (s *DB) SaveAll(ctx context.Context, defs map[string]bot.Definition) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM bots;`); err != nil {
		return err
	}
	for name, d := range defs {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO bots(name, category, path, start_command, updated_at)
			VALUES(?, ?, ?, ?, CURRENT_TIMESTAMP);`,
			name, d.Category, d.Path, d.StartCommand); err != nil {
			return err
		}
	}
	return tx.Commit()
}
