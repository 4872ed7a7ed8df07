package database

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/checkers/internal/apperror"
	"github.com/jason-s-yu/checkers/internal/models"
)

// Memory keeps games, users and chat in process memory. It backs the server
// when no database is configured and stands in for Postgres in tests.
type Memory struct {
	mu    sync.RWMutex
	games map[uuid.UUID]models.Game
	moves map[uuid.UUID][]models.MoveRecord
	users map[uuid.UUID]models.User
	chat  map[uuid.UUID][]models.ChatMessage
}

func NewMemory() *Memory {
	return &Memory{
		games: make(map[uuid.UUID]models.Game),
		moves: make(map[uuid.UUID][]models.MoveRecord),
		users: make(map[uuid.UUID]models.User),
		chat:  make(map[uuid.UUID][]models.ChatMessage),
	}
}

func (m *Memory) CreateGame(_ context.Context, g models.Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.games[g.ID] = g
	return nil
}

func (m *Memory) LoadGame(_ context.Context, id uuid.UUID) (models.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	if !ok {
		return models.Game{}, apperror.ErrGameNotFound
	}
	return g, nil
}

func (m *Memory) ListGames(_ context.Context, status models.GameStatus) ([]models.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Game
	for _, g := range m.games {
		if g.Status == status {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListGamesByPlayer(_ context.Context, userID uuid.UUID) ([]models.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Game
	for _, g := range m.games {
		if g.PlayerA == userID || g.PlayerB == userID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SaveGame(_ context.Context, g models.Game, mv *models.MoveRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[g.ID]; !ok {
		return apperror.ErrGameNotFound
	}
	m.games[g.ID] = g
	if mv != nil {
		rec := *mv
		rec.Captures = slices.Clone(mv.Captures)
		m.moves[g.ID] = append(m.moves[g.ID], rec)
	}
	return nil
}

func (m *Memory) ListMoves(_ context.Context, gameID uuid.UUID) ([]models.MoveRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.moves[gameID]), nil
}

func (m *Memory) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) || u.Username == user.Username {
			return apperror.ErrUserExists
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	m.users[user.ID] = *user
	return nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, apperror.ErrUserNotFound
}

func (m *Memory) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperror.ErrUserNotFound
	}
	return &u, nil
}

func (m *Memory) SaveMessage(_ context.Context, msg models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chat[msg.GameID] = append(m.chat[msg.GameID], msg)
	return nil
}

func (m *Memory) ListMessages(_ context.Context, gameID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.chat[gameID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return slices.Clone(msgs), nil
}
