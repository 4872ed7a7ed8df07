// internal/database/game.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/checkers/internal/apperror"
	"github.com/jason-s-yu/checkers/internal/board"
	"github.com/jason-s-yu/checkers/internal/models"
)

// GameRepository persists games and their move history in Postgres.
type GameRepository struct {
	pool *pgxpool.Pool
}

func NewGameRepository(pool *pgxpool.Pool) *GameRepository {
	return &GameRepository{pool: pool}
}

// gameState is the JSONB payload of games.game_state.
type gameState struct {
	Board       board.Board `json:"board"`
	CurrentTurn board.Side  `json:"currentTurn"`
}

const gameColumns = `id, player1_id, player2_id, status, current_turn, winner_side,
	move_count, game_state, created_at, started_at, ended_at`

func nullUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func scanGame(row pgx.Row) (models.Game, error) {
	var (
		g                  models.Game
		playerB            uuid.NullUUID
		status             string
		turn, winner       int16
		state              []byte
		startedAt, endedAt *time.Time
	)
	if err := row.Scan(
		&g.ID, &g.PlayerA, &playerB, &status, &turn, &winner,
		&g.MoveCount, &state, &g.CreatedAt, &startedAt, &endedAt,
	); err != nil {
		return models.Game{}, err
	}

	var gs gameState
	if err := json.Unmarshal(state, &gs); err != nil {
		return models.Game{}, fmt.Errorf("decode game_state of %s: %w", g.ID, err)
	}
	g.Status = models.GameStatus(status)
	if !g.Status.Valid() {
		return models.Game{}, fmt.Errorf("game %s has unknown status %q", g.ID, status)
	}
	g.PlayerB = playerB.UUID
	g.Board = gs.Board
	g.Turn = board.Side(turn)
	g.Winner = board.Side(winner)
	if startedAt != nil {
		g.StartedAt = *startedAt
	}
	if endedAt != nil {
		g.EndedAt = *endedAt
	}
	return g, nil
}

func encodeState(g models.Game) ([]byte, error) {
	return json.Marshal(gameState{Board: g.Board, CurrentTurn: g.Turn})
}

func (r *GameRepository) CreateGame(ctx context.Context, g models.Game) error {
	state, err := encodeState(g)
	if err != nil {
		return err
	}
	q := `INSERT INTO games (` + gameColumns + `, winner_id)
	      VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = r.pool.Exec(ctx, q,
		g.ID, g.PlayerA, nullUUID(g.PlayerB), string(g.Status), int16(g.Turn), int16(g.Winner),
		g.MoveCount, state, g.CreatedAt, nullTime(g.StartedAt), nullTime(g.EndedAt), nullUUID(g.WinnerID()),
	)
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	return nil
}

func (r *GameRepository) LoadGame(ctx context.Context, id uuid.UUID) (models.Game, error) {
	q := `SELECT ` + gameColumns + ` FROM games WHERE id = $1`
	g, err := scanGame(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Game{}, apperror.ErrGameNotFound
	}
	if err != nil {
		return models.Game{}, fmt.Errorf("load game: %w", err)
	}
	return g, nil
}

func (r *GameRepository) ListGames(ctx context.Context, status models.GameStatus) ([]models.Game, error) {
	q := `SELECT ` + gameColumns + ` FROM games WHERE status = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, string(status))
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	games, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Game, error) {
		return scanGame(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	return games, nil
}

// ListGamesByPlayer returns every game userID plays in, newest first.
func (r *GameRepository) ListGamesByPlayer(ctx context.Context, userID uuid.UUID) ([]models.Game, error) {
	q := `SELECT ` + gameColumns + ` FROM games WHERE player1_id = $1 OR player2_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list games of player: %w", err)
	}
	games, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Game, error) {
		return scanGame(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list games of player: %w", err)
	}
	return games, nil
}

// SaveGame updates the game row and appends mv in a single transaction.
func (r *GameRepository) SaveGame(ctx context.Context, g models.Game, mv *models.MoveRecord) error {
	state, err := encodeState(g)
	if err != nil {
		return err
	}
	var captures []byte
	if mv != nil {
		if captures, err = json.Marshal(capturesOrEmpty(mv.Captures)); err != nil {
			return err
		}
	}

	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		upd := `
			UPDATE games
			SET player2_id = $2, status = $3, current_turn = $4, winner_side = $5,
			    winner_id = $6, move_count = $7, game_state = $8,
			    started_at = $9, ended_at = $10
			WHERE id = $1
		`
		tag, err := tx.Exec(ctx, upd,
			g.ID, nullUUID(g.PlayerB), string(g.Status), int16(g.Turn), int16(g.Winner),
			nullUUID(g.WinnerID()), g.MoveCount, state, nullTime(g.StartedAt), nullTime(g.EndedAt),
		)
		if err != nil {
			return fmt.Errorf("update game: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperror.ErrGameNotFound
		}
		if mv == nil {
			return nil
		}

		ins := `
			INSERT INTO game_moves (game_id, move_number, player_id, side,
			                        from_row, from_col, to_row, to_col, captures, promoted, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`
		if _, err := tx.Exec(ctx, ins,
			mv.GameID, mv.MoveNumber, mv.MoverID, int16(mv.Side),
			mv.From.Row, mv.From.Col, mv.To.Row, mv.To.Col, captures, mv.Promoted, mv.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert move: %w", err)
		}
		return nil
	})
}

// ListMoves returns the recorded moves of a game in play order.
func (r *GameRepository) ListMoves(ctx context.Context, gameID uuid.UUID) ([]models.MoveRecord, error) {
	q := `
		SELECT game_id, move_number, player_id, side, from_row, from_col, to_row, to_col,
		       captures, promoted, created_at
		FROM game_moves
		WHERE game_id = $1
		ORDER BY move_number
	`
	rows, err := r.pool.Query(ctx, q, gameID)
	if err != nil {
		return nil, fmt.Errorf("list moves: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.MoveRecord, error) {
		var (
			mv       models.MoveRecord
			side     int16
			captures []byte
		)
		if err := row.Scan(
			&mv.GameID, &mv.MoveNumber, &mv.MoverID, &side,
			&mv.From.Row, &mv.From.Col, &mv.To.Row, &mv.To.Col,
			&captures, &mv.Promoted, &mv.CreatedAt,
		); err != nil {
			return models.MoveRecord{}, err
		}
		mv.Side = board.Side(side)
		if err := json.Unmarshal(captures, &mv.Captures); err != nil {
			return models.MoveRecord{}, fmt.Errorf("decode captures: %w", err)
		}
		return mv, nil
	})
}

func capturesOrEmpty(c []board.Coord) []board.Coord {
	if c == nil {
		return []board.Coord{}
	}
	return c
}
