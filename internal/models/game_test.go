package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/checkers/internal/board"
	"github.com/stretchr/testify/assert"
)

func TestNewGameIsWaiting(t *testing.T) {
	a := uuid.New()
	g := NewGame(uuid.New(), a, time.Now())

	assert.Equal(t, GameWaiting, g.Status)
	assert.Equal(t, board.None, g.Turn)
	assert.False(t, g.HasOpponent())
	assert.Equal(t, board.New(), g.Board)
}

func TestSides(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	g := NewGame(uuid.New(), a, time.Now())
	g.PlayerB = b

	assert.Equal(t, board.A, g.SideOf(a))
	assert.Equal(t, board.B, g.SideOf(b))
	assert.Equal(t, board.None, g.SideOf(uuid.New()))
	assert.Equal(t, board.None, g.SideOf(uuid.Nil))
	assert.Equal(t, b, g.PlayerFor(board.B))

	g.Finish(board.B, time.Now())
	assert.Equal(t, b, g.WinnerID())
	assert.Equal(t, board.None, g.Turn)
	assert.Equal(t, GameFinished, g.Status)
}

func TestCopyIsIndependent(t *testing.T) {
	g := NewGame(uuid.New(), uuid.New(), time.Now())
	cp := g
	cp.Board[2][1] = board.Empty
	cp.Status = GameFinished

	assert.Equal(t, board.ManA, g.Board[2][1])
	assert.Equal(t, GameWaiting, g.Status)
}
