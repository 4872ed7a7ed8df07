// internal/game/session.go
package game

import (
	"sync"

	"github.com/jason-s-yu/checkers/internal/models"
)

// Session is the single in-memory authority for one game. Its mutex
// serializes every mutation of that game and is held while the new
// state is persisted, so a second move always sees the first one's result.
type Session struct {
	mu   sync.Mutex
	game models.Game
}

func newSession(g models.Game) *Session {
	return &Session{game: g}
}

// Snapshot returns a copy of the current game state.
func (s *Session) Snapshot() models.Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game
}
