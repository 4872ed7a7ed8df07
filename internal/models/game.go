// internal/models/game.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/checkers/internal/board"
)

type GameStatus string

const (
	GameWaiting    GameStatus = "waiting"
	GameInProgress GameStatus = "in_progress"
	GameFinished   GameStatus = "finished"
)

// Valid reports whether s is a known status.
func (s GameStatus) Valid() bool {
	switch s {
	case GameWaiting, GameInProgress, GameFinished:
		return true
	}
	return false
}

// Game is the authoritative record of one checkers game.
// It holds no references, so a plain assignment is a deep copy.
type Game struct {
	ID      uuid.UUID `json:"id"`
	PlayerA uuid.UUID `json:"player_a"`
	// PlayerB is uuid.Nil until someone is invited.
	PlayerB uuid.UUID `json:"player_b"`

	Board  board.Board `json:"board"`
	Turn   board.Side  `json:"turn"`
	Status GameStatus  `json:"status"`
	Winner board.Side  `json:"winner"`

	MoveCount int `json:"move_count"`

	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}

// NewGame returns a waiting game with the standard layout and no turn owner.
func NewGame(id, playerA uuid.UUID, now time.Time) Game {
	return Game{
		ID:        id,
		PlayerA:   playerA,
		Board:     board.New(),
		Turn:      board.None,
		Status:    GameWaiting,
		CreatedAt: now,
	}
}

// HasOpponent reports whether a second player has been assigned.
func (g *Game) HasOpponent() bool { return g.PlayerB != uuid.Nil }

// SideOf returns which side userID plays, or board.None for non-participants.
func (g *Game) SideOf(userID uuid.UUID) board.Side {
	switch {
	case userID == uuid.Nil:
		return board.None
	case userID == g.PlayerA:
		return board.A
	case userID == g.PlayerB:
		return board.B
	}
	return board.None
}

// IsParticipant reports whether userID is one of the two players.
func (g *Game) IsParticipant(userID uuid.UUID) bool { return g.SideOf(userID) != board.None }

// PlayerFor returns the identity playing side.
func (g *Game) PlayerFor(side board.Side) uuid.UUID {
	switch side {
	case board.A:
		return g.PlayerA
	case board.B:
		return g.PlayerB
	}
	return uuid.Nil
}

// WinnerID returns the winning player's identity, or uuid.Nil while undecided.
func (g *Game) WinnerID() uuid.UUID { return g.PlayerFor(g.Winner) }

// Finish marks the game finished with winner and clears the turn owner.
func (g *Game) Finish(winner board.Side, now time.Time) {
	g.Status = GameFinished
	g.Winner = winner
	g.Turn = board.None
	g.EndedAt = now
}
