// internal/database/schema.go
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const schema = `
CREATE TABLE IF NOT EXISTS participants (
	email      TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	avatar     TEXT NOT NULL DEFAULT '',
	hall       TEXT NOT NULL DEFAULT '',
	year       TEXT NOT NULL DEFAULT '',
	department TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS game_records (
	id           UUID PRIMARY KEY,
	game_id      INTEGER NOT NULL,
	game_name    TEXT NOT NULL,
	group_id     TEXT NOT NULL,
	server_email TEXT NOT NULL,
	client_email TEXT NOT NULL,
	info_type    JSONB NOT NULL DEFAULT '[]',
	actions      JSONB NOT NULL DEFAULT '[]',
	state        JSONB NOT NULL DEFAULT '{}',
	server_score INTEGER NOT NULL DEFAULT 0,
	client_score INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS game_records_pair_idx
	ON game_records (game_id, server_email, client_email);
`

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, e := tx.Exec(ctx, schema)
		return e
	})
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
