// internal/database/db.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("database: not found")

// Store is the Postgres-backed participant directory and game record log.
type Store struct {
	pool *pgxpool.Pool

	// TerminalGameID is the catalog game whose completion marks a pair as having
	// played together.
	TerminalGameID int
}

func New(pool *pgxpool.Pool, terminalGameID int) *Store {
	return &Store{pool: pool, TerminalGameID: terminalGameID}
}

// Connect opens a pool for url and pings it.
func Connect(ctx context.Context, url string, terminalGameID int) (*Store, error) {
	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return New(pool, terminalGameID), nil
}

func (s *Store) Close() {
	s.pool.Close()
}
