package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/checkers/internal/board"
)

// MoveRecord is one accepted move as it is persisted and published
// to the action log. Captures lists every removed square in chain order.
type MoveRecord struct {
	GameID     uuid.UUID     `json:"game_id"`
	MoverID    uuid.UUID     `json:"mover_id"`
	Side       board.Side    `json:"side"`
	MoveNumber int           `json:"move_number"`
	From       board.Coord   `json:"from"`
	To         board.Coord   `json:"to"`
	Captures   []board.Coord `json:"captures"`
	Promoted   bool          `json:"promoted"`
	CreatedAt  time.Time     `json:"created_at"`
}

// ChatMessage is a room chat line.
type ChatMessage struct {
	ID        uuid.UUID `json:"id"`
	GameID    uuid.UUID `json:"gameId"`
	UserID    uuid.UUID `json:"userId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}
