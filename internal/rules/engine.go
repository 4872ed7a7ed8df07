// internal/rules/engine.go
package rules

import (
	"fmt"

	"github.com/jason-s-yu/checkers/internal/apperror"
	"github.com/jason-s-yu/checkers/internal/board"
	"github.com/jason-s-yu/checkers/internal/models"
)

// diagonals in the order moves are discovered. Chained captures always
// follow the first jump found in this order.
var diagonals = [4][2]int{{1, -1}, {1, 1}, {-1, -1}, {-1, 1}}

// Destination is one reachable square for a piece. Capture is non-nil for jumps.
type Destination struct {
	To      board.Coord
	Capture *board.Coord
}

// IsJump reports whether reaching the destination captures a piece.
func (d Destination) IsJump() bool { return d.Capture != nil }

// Result describes what an applied move did to the board.
type Result struct {
	From     board.Coord
	Final    board.Coord
	Captures []board.Coord
	Promoted bool
	// Winner is set when the move ended the game.
	Winner board.Side
}

func directions(c board.Cell) [][2]int {
	if c.IsKing() {
		return diagonals[:]
	}
	if c.Side() == board.B {
		return diagonals[2:]
	}
	return diagonals[:2]
}

func offset(c board.Coord, d [2]int, n int) board.Coord {
	return board.Coord{Row: c.Row + d[0]*n, Col: c.Col + d[1]*n}
}

func isOpponent(c board.Cell, mover board.Side) bool {
	return c != board.Empty && c.Side() == mover.Opponent()
}

// LegalDestinations lists every step and jump available to mover's piece at pos.
// It ignores the mandatory-capture rule; see AnyCaptureAvailable.
func LegalDestinations(b *board.Board, pos board.Coord, mover board.Side) []Destination {
	piece, err := b.At(pos)
	if err != nil || piece == board.Empty || piece.Side() != mover {
		return nil
	}

	var out []Destination
	for _, d := range directions(piece) {
		step := offset(pos, d, 1)
		if !step.InBounds() {
			continue
		}
		if b[step.Row][step.Col] == board.Empty {
			out = append(out, Destination{To: step})
			continue
		}
		land := offset(pos, d, 2)
		if land.InBounds() && isOpponent(b[step.Row][step.Col], mover) && b[land.Row][land.Col] == board.Empty {
			mid := step
			out = append(out, Destination{To: land, Capture: &mid})
		}
	}
	return out
}

func jumpsFrom(b *board.Board, pos board.Coord, mover board.Side) []Destination {
	var out []Destination
	for _, d := range LegalDestinations(b, pos, mover) {
		if d.IsJump() {
			out = append(out, d)
		}
	}
	return out
}

// AnyCaptureAvailable reports whether any of mover's pieces has a jump.
func AnyCaptureAvailable(b *board.Board, mover board.Side) bool {
	for row := 0; row < board.Size; row++ {
		for col := 0; col < board.Size; col++ {
			if len(jumpsFrom(b, board.Coord{Row: row, Col: col}, mover)) > 0 {
				return true
			}
		}
	}
	return false
}

func find(dests []Destination, to board.Coord) (Destination, bool) {
	for _, d := range dests {
		if d.To == to {
			return d, true
		}
	}
	return Destination{}, false
}

// ApplyMove plays mv for mover on b. After a jump the piece keeps capturing
// from its landing square while a jump is available, unless it was just promoted.
// The move must be one of LegalDestinations; anything else leaves b untouched.
func ApplyMove(b *board.Board, mv board.Move, mover board.Side) (Result, error) {
	dest, ok := find(LegalDestinations(b, mv.From, mover), mv.To)
	if !ok {
		return Result{}, fmt.Errorf("%s -> %s: %w", mv.From, mv.To, apperror.ErrIllegalMove)
	}

	res := Result{From: mv.From}
	pos := mv.From
	for {
		piece := b[pos.Row][pos.Col]
		b[pos.Row][pos.Col] = board.Empty
		if dest.Capture != nil {
			b[dest.Capture.Row][dest.Capture.Col] = board.Empty
			res.Captures = append(res.Captures, *dest.Capture)
		}
		pos = dest.To
		if !piece.IsKing() && pos.Row == mover.PromotionRow() {
			piece = piece.Promoted()
			res.Promoted = true
		}
		b[pos.Row][pos.Col] = piece

		if dest.Capture == nil || res.Promoted {
			break
		}
		next := jumpsFrom(b, pos, mover)
		if len(next) == 0 {
			break
		}
		dest = next[0]
	}
	res.Final = pos
	return res, nil
}

// CheckVictory returns the side whose opponent has no pieces left.
func CheckVictory(b *board.Board) (board.Side, bool) {
	a, bb := b.Count(board.A), b.Count(board.B)
	switch {
	case a > 0 && bb == 0:
		return board.A, true
	case bb > 0 && a == 0:
		return board.B, true
	}
	return board.None, false
}

// ValidateAndApply checks mv against g and the rules, then applies it.
// On any error g is left exactly as it was. On success the board and turn
// are updated, and a win finishes the game.
func ValidateAndApply(g *models.Game, mover board.Side, mv board.Move) (Result, error) {
	if g.Status != models.GameInProgress {
		return Result{}, apperror.ErrGameNotInProgress
	}
	if mover == board.None || mover != g.Turn {
		return Result{}, apperror.ErrNotYourTurn
	}
	if !mv.From.InBounds() || !mv.To.InBounds() {
		return Result{}, fmt.Errorf("%s -> %s: %w", mv.From, mv.To, apperror.ErrOutOfBounds)
	}
	if piece := g.Board[mv.From.Row][mv.From.Col]; piece == board.Empty || piece.Side() != mover {
		return Result{}, fmt.Errorf("square %s: %w", mv.From, apperror.ErrWrongOwner)
	}

	dest, ok := find(LegalDestinations(&g.Board, mv.From, mover), mv.To)
	if !ok {
		return Result{}, fmt.Errorf("%s -> %s: %w", mv.From, mv.To, apperror.ErrIllegalMove)
	}
	if !dest.IsJump() && AnyCaptureAvailable(&g.Board, mover) {
		return Result{}, fmt.Errorf("%s -> %s: %w", mv.From, mv.To, apperror.ErrCaptureRequired)
	}

	next := g.Board
	res, err := ApplyMove(&next, board.Move{From: mv.From, To: mv.To, Capture: dest.Capture}, mover)
	if err != nil {
		return Result{}, err
	}

	g.Board = next
	g.Turn = mover.Opponent()
	g.MoveCount++
	if winner, done := CheckVictory(&g.Board); done {
		g.Status = models.GameFinished
		g.Winner = winner
		g.Turn = board.None
		res.Winner = winner
	}
	return res, nil
}
