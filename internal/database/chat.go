package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/checkers/internal/models"
)

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func (r *ChatRepository) SaveMessage(ctx context.Context, m models.ChatMessage) error {
	q := `INSERT INTO chat_messages (id, game_id, user_id, message, created_at)
	      VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.pool.Exec(ctx, q, m.ID, m.GameID, m.UserID, m.Message, m.CreatedAt); err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// ListMessages returns up to limit of the latest messages of a game, oldest first.
func (r *ChatRepository) ListMessages(ctx context.Context, gameID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	q := `
		SELECT id, game_id, user_id, message, created_at FROM (
			SELECT id, game_id, user_id, message, created_at
			FROM chat_messages
			WHERE game_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) latest
		ORDER BY created_at
	`
	rows, err := r.pool.Query(ctx, q, gameID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.ChatMessage])
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	return msgs, nil
}
