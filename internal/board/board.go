// internal/board/board.go
package board

import (
	"encoding/json"
	"fmt"

	"github.com/jason-s-yu/checkers/internal/apperror"
)

// Size is the number of rows and columns on the board.
const Size = 8

// Cell is the content of a single square. The numeric values are the wire encoding.
type Cell uint8

const (
	Empty Cell = 0
	ManA  Cell = 1
	ManB  Cell = 2
	KingA Cell = 3
	KingB Cell = 4
)

// Valid reports whether c is one of the five known cell values.
func (c Cell) Valid() bool { return c <= KingB }

// Side returns the owner of the piece, or None for an empty square.
func (c Cell) Side() Side {
	switch c {
	case ManA, KingA:
		return A
	case ManB, KingB:
		return B
	}
	return None
}

// IsKing reports whether the cell holds a promoted piece.
func (c Cell) IsKing() bool { return c == KingA || c == KingB }

// Promoted returns the king of the same side. Kings and empty cells are unchanged.
func (c Cell) Promoted() Cell {
	switch c {
	case ManA:
		return KingA
	case ManB:
		return KingB
	}
	return c
}

// Side identifies one of the two players. None means no player (empty square, no turn owner, no winner).
type Side uint8

const (
	None Side = 0
	A    Side = 1
	B    Side = 2
)

// Opponent returns the other side. None has no opponent.
func (s Side) Opponent() Side {
	switch s {
	case A:
		return B
	case B:
		return A
	}
	return None
}

// Forward is the row delta a man of this side moves by.
func (s Side) Forward() int {
	if s == B {
		return -1
	}
	return 1
}

// HomeRow is the back row this side starts on.
func (s Side) HomeRow() int { return s.Opponent().PromotionRow() }

// PromotionRow is the opponent's back row, where a man of this side becomes a king.
func (s Side) PromotionRow() int {
	if s == B {
		return 0
	}
	return Size - 1
}

func (s Side) String() string {
	switch s {
	case A:
		return "A"
	case B:
		return "B"
	}
	return "none"
}

// Coord addresses a square. Row 0 is side A's starting edge.
type Coord struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// InBounds reports whether the coordinate lies on the 8x8 grid.
func (c Coord) InBounds() bool {
	return c.Row >= 0 && c.Row < Size && c.Col >= 0 && c.Col < Size
}

// Dark reports whether the square is a playable (dark) square.
func (c Coord) Dark() bool { return (c.Row+c.Col)%2 == 1 }

func (c Coord) String() string { return fmt.Sprintf("(%d,%d)", c.Row, c.Col) }

// Move is a single step or jump. Capture is set when the move jumps over a piece.
type Move struct {
	From    Coord  `json:"from"`
	To      Coord  `json:"to"`
	Capture *Coord `json:"capture,omitempty"`
}

// Board is the 8x8 grid. It is a value type: assignment copies it.
type Board [Size][Size]Cell

// New returns the standard starting layout: A men on the dark squares of rows 0-2,
// B men on the dark squares of rows 5-7.
func New() Board {
	var b Board
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			if (row+col)%2 == 0 {
				continue
			}
			switch {
			case row < 3:
				b[row][col] = ManA
			case row > 4:
				b[row][col] = ManB
			}
		}
	}
	return b
}

// At returns the cell at c.
func (b *Board) At(c Coord) (Cell, error) {
	if !c.InBounds() {
		return Empty, fmt.Errorf("read %s: %w", c, apperror.ErrOutOfBounds)
	}
	return b[c.Row][c.Col], nil
}

// Set writes v at c.
func (b *Board) Set(c Coord, v Cell) error {
	if !c.InBounds() {
		return fmt.Errorf("write %s: %w", c, apperror.ErrOutOfBounds)
	}
	if !v.Valid() {
		return fmt.Errorf("write %s: invalid cell value %d", c, v)
	}
	b[c.Row][c.Col] = v
	return nil
}

// Count returns how many pieces (men and kings) side owns.
func (b *Board) Count(side Side) int {
	n := 0
	for row := range b {
		for _, c := range b[row] {
			if c != Empty && c.Side() == side {
				n++
			}
		}
	}
	return n
}

// MarshalJSON encodes the board as a matrix of piece codes.
func (b Board) MarshalJSON() ([]byte, error) {
	rows := make([][]int, Size)
	for r := range b {
		rows[r] = make([]int, Size)
		for c, v := range b[r] {
			rows[r][c] = int(v)
		}
	}
	return json.Marshal(rows)
}

// UnmarshalJSON decodes and validates a matrix of piece codes.
func (b *Board) UnmarshalJSON(data []byte) error {
	var rows [][]int
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	if len(rows) != Size {
		return fmt.Errorf("board must have %d rows, got %d", Size, len(rows))
	}
	var out Board
	for r, row := range rows {
		if len(row) != Size {
			return fmt.Errorf("board row %d must have %d cells, got %d", r, Size, len(row))
		}
		for c, v := range row {
			if v < int(Empty) || v > int(KingB) {
				return fmt.Errorf("board cell (%d,%d): invalid value %d", r, c, v)
			}
			out[r][c] = Cell(v)
		}
	}
	*b = out
	return nil
}
