// internal/database/game.go
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/magicmatch/internal/cache"
)

// Action types that change a game's row, mirroring the engine's event names.
const (
	actionGameNew       = "game_new"
	actionGameCompleted = "game_completed"
)

// execer is the part of pgx.Tx used to write actions.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
}

// GameHistoryStore persists the action log into Postgres.
type GameHistoryStore struct {
	Pool *pgxpool.Pool
}

// SaveActions writes a batch of action records in a single transaction.
func (s *GameHistoryStore) SaveActions(ctx context.Context, records []cache.GameActionRecord) error {
	err := pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range records {
			if err := insertGameActionTx(ctx, tx, rec); err != nil {
				return fmt.Errorf("insert action %d of game %s: %w", rec.ActionIndex, rec.GameID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tx save actions: %w", err)
	}
	return nil
}

// MarkAbandoned marks a game as 'abandoned' if it is still 'in_progress'.
func (s *GameHistoryStore) MarkAbandoned(ctx context.Context, gameID uuid.UUID) error {
	q := `
		UPDATE games
		SET status = 'abandoned', end_time = NOW()
		WHERE id = $1 AND status = 'in_progress'
	`
	if _, err := s.Pool.Exec(ctx, q, gameID); err != nil {
		return fmt.Errorf("mark game %s abandoned: %w", gameID, err)
	}
	return nil
}

// insertGameActionTx upserts the game row, inserts the action, and applies
// the row transition for a new deal or a completed deck.
func insertGameActionTx(ctx context.Context, tx execer, rec cache.GameActionRecord) error {
	upsertGameQ := `
		INSERT INTO games (id, owner_id, status, generation, start_time)
		VALUES ($1, $2, 'in_progress', $3, $4)
		ON CONFLICT (id) DO NOTHING
	`
	ts := time.UnixMilli(rec.Timestamp)
	if _, err := tx.Exec(ctx, upsertGameQ, rec.GameID, rec.ActorUserID, rec.Generation, ts); err != nil {
		return err
	}

	payload, err := json.Marshal(rec.ActionPayload)
	if err != nil {
		return err
	}
	actionInsertQ := `
		INSERT INTO game_actions (
			game_id, generation, action_index, actor_user_id, action_type, action_payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (game_id, action_index) DO NOTHING
	`
	_, err = tx.Exec(ctx, actionInsertQ,
		rec.GameID, rec.Generation, rec.ActionIndex, rec.ActorUserID, rec.ActionType, payload, ts,
	)
	if err != nil {
		return err
	}

	if q, args, ok := gameRowTransition(rec); ok {
		_, err = tx.Exec(ctx, q, args...)
	}
	return err
}

// gameRowTransition returns the games-row update an action implies, if any.
// A new deal only moves the row forward to a later generation, and a
// completion only applies to the generation it was recorded in.
func gameRowTransition(rec cache.GameActionRecord) (string, []interface{}, bool) {
	ts := time.UnixMilli(rec.Timestamp)
	switch rec.ActionType {
	case actionGameNew:
		q := `
			UPDATE games
			SET status = 'in_progress', generation = $2, turns = NULL, pairs = NULL,
			    start_time = $3, end_time = NULL
			WHERE id = $1 AND generation < $2
		`
		return q, []interface{}{rec.GameID, rec.Generation, ts}, true
	case actionGameCompleted:
		q := `
			UPDATE games
			SET status = 'completed', turns = $3, pairs = $4, end_time = $5
			WHERE id = $1 AND generation = $2
		`
		return q, []interface{}{rec.GameID, rec.Generation,
			payloadInt(rec.ActionPayload, "turns"), payloadInt(rec.ActionPayload, "pairs"), ts}, true
	}
	return "", nil, false
}

// payloadInt reads a JSON number out of an action payload.
func payloadInt(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
