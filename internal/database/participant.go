// internal/database/participant.go
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/dyad/internal/models"
)

func (s *Store) Participant(ctx context.Context, email string) (models.Participant, error) {
	var p models.Participant
	q := `
	SELECT email, name, avatar, hall, year, department
	FROM participants
	WHERE email=$1
	`
	err := s.pool.QueryRow(ctx, q, email).Scan(
		&p.Email, &p.Name, &p.Avatar, &p.Hall, &p.Year, &p.Department,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Participant{}, ErrNotFound
	}
	if err != nil {
		return models.Participant{}, fmt.Errorf("failed to load participant %s: %w", email, err)
	}
	return p, nil
}

// UpsertParticipant creates or replaces the profile keyed by p.Email.
func (s *Store) UpsertParticipant(ctx context.Context, p models.Participant) error {
	q := `
	INSERT INTO participants (email, name, avatar, hall, year, department)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (email) DO UPDATE
	SET name=$2, avatar=$3, hall=$4, year=$5, department=$6
	`
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, e := tx.Exec(ctx, q, p.Email, p.Name, p.Avatar, p.Hall, p.Year, p.Department)
		return e
	})
	if err != nil {
		return fmt.Errorf("failed to upsert participant: %w", err)
	}
	return nil
}
