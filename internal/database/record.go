// internal/database/record.go
package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/dyad/internal/models"
)

// Record appends one completed game.
func (s *Store) Record(ctx context.Context, rec models.GameRecord) error {
	return s.SaveGames(ctx, []models.GameRecord{rec})
}

// SaveGames appends records in a single transaction. Records already present
// by id are skipped so a replayed batch is harmless.
func (s *Store) SaveGames(ctx context.Context, recs []models.GameRecord) error {
	if len(recs) == 0 {
		return nil
	}
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range recs {
			if err := insertGameRecordTx(ctx, tx, rec); err != nil {
				return fmt.Errorf("insert %s/%s: %w", rec.GroupID, rec.GameName, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tx save game records: %w", err)
	}
	return nil
}

func insertGameRecordTx(ctx context.Context, tx pgx.Tx, rec models.GameRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	info, err := json.Marshal(rec.InfoType)
	if err != nil {
		return err
	}
	actions, err := json.Marshal(rec.Actions)
	if err != nil {
		return err
	}
	state, err := json.Marshal(rec.State)
	if err != nil {
		return err
	}
	q := `
		INSERT INTO game_records (
			id, game_id, game_name, group_id, server_email, client_email,
			info_type, actions, state, server_score, client_score, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = tx.Exec(ctx, q,
		rec.ID, rec.GameID, rec.GameName, rec.GroupID, rec.ServerEmail, rec.ClientEmail,
		info, actions, state, rec.ServerScore, rec.ClientScore, rec.CreatedAt,
	)
	return err
}

// PlayedTogether reports whether a and b have completed the terminal game as a
// pair, in either role.
func (s *Store) PlayedTogether(ctx context.Context, a, b string) (bool, error) {
	q := `
	SELECT EXISTS (
		SELECT 1 FROM game_records
		WHERE game_id=$1
		  AND ((server_email=$2 AND client_email=$3) OR (server_email=$3 AND client_email=$2))
	)
	`
	var played bool
	if err := s.pool.QueryRow(ctx, q, s.TerminalGameID, a, b).Scan(&played); err != nil {
		return false, fmt.Errorf("played-together lookup: %w", err)
	}
	return played, nil
}

// GroupRecords lists the records of one group in creation order.
func (s *Store) GroupRecords(ctx context.Context, group string) ([]models.GameRecord, error) {
	q := `
	SELECT id, game_id, game_name, group_id, server_email, client_email,
	       info_type, actions, state, server_score, client_score, created_at
	FROM game_records
	WHERE group_id=$1
	ORDER BY created_at, game_id
	`
	rows, err := s.pool.Query(ctx, q, group)
	if err != nil {
		return nil, fmt.Errorf("query group records: %w", err)
	}
	defer rows.Close()

	var out []models.GameRecord
	for rows.Next() {
		var rec models.GameRecord
		var info, actions, state []byte
		if err := rows.Scan(
			&rec.ID, &rec.GameID, &rec.GameName, &rec.GroupID, &rec.ServerEmail, &rec.ClientEmail,
			&info, &actions, &state, &rec.ServerScore, &rec.ClientScore, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(info, &rec.InfoType); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(actions, &rec.Actions); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(state, &rec.State); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
