package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/botvisor/internal/bot"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *DB) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bots(
			name TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			path TEXT NOT NULL,
			start_command TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`)
	return err
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) LoadAll(ctx context.Context) (map[string]bot.Definition, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT name, category, path, start_command FROM bots ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
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
func (p *DB) SaveAll(ctx context.Context, defs map[string]bot.Definition) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
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
			VALUES($1,$2,$3,$4,now());`,
			name, d.Category, d.Path, d.StartCommand); err != nil {
			return err
		}
	}
	return tx.Commit()
}
