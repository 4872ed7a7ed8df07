// internal/handlers/game_server.go
package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/jason-s-yu/checkers/internal/auth"
	"github.com/jason-s-yu/checkers/internal/config"
	"github.com/jason-s-yu/checkers/internal/game"
	"github.com/jason-s-yu/checkers/internal/middleware"
	"github.com/jason-s-yu/checkers/internal/models"
	"github.com/jason-s-yu/checkers/internal/ratelimit"
	"github.com/jason-s-yu/checkers/internal/room"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type ChatStore interface {
	SaveMessage(ctx context.Context, m models.ChatMessage) error
	ListMessages(ctx context.Context, gameID uuid.UUID, limit int) ([]models.ChatMessage, error)
}

// GameServer holds everything the HTTP endpoints and the gateway share.
// All fields are set once at construction and never replaced.
type GameServer struct {
	Store   *game.Store
	Rooms   *room.Registry
	Limiter *ratelimit.Limiter
	Issuer  *auth.Issuer
	Users   UserStore
	Chat    ChatStore

	Gateway        config.Gateway
	ChatMaxLength  int
	PasswordParams auth.PasswordParams

	Clock  clockwork.Clock
	Logger *logrus.Logger
}

// Routes registers every endpoint on a new mux wrapped in the logging middleware.
func (s *GameServer) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", GatewayHandler(s))

	// user endpoints
	mux.HandleFunc("POST /user/create", s.CreateUserHandler)
	mux.HandleFunc("POST /user/login", s.LoginHandler)
	mux.HandleFunc("GET /user/me", s.authenticated(s.handleMe))
	mux.HandleFunc("GET /user/me/games", s.authenticated(s.handleMyGames))
	mux.HandleFunc("GET /users/online", s.authenticated(s.handleOnlineUsers))

	// game endpoints
	mux.HandleFunc("POST /games", s.authenticated(s.handleCreateGame))
	mux.HandleFunc("GET /games", s.authenticated(s.handleListGames))
	mux.HandleFunc("GET /games/{id}", s.authenticated(s.handleGetGame))
	mux.HandleFunc("POST /games/{id}/invite", s.authenticated(s.handleInvite))
	mux.HandleFunc("POST /games/{id}/accept", s.authenticated(s.handleAccept))
	mux.HandleFunc("POST /games/{id}/move", s.authenticated(s.handleMove))
	mux.HandleFunc("POST /games/{id}/abandon", s.authenticated(s.handleAbandon))
	mux.HandleFunc("POST /games/{id}/chat", s.authenticated(s.handleSendChat))
	mux.HandleFunc("GET /games/{id}/chat", s.authenticated(s.handleListChat))

	return middleware.Recover(s.Logger)(middleware.LogMiddleware(s.Logger)(mux))
}

func (s *GameServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// maybeEvict drops a finished game from memory once nobody is watching it.
func (s *GameServer) maybeEvict(gameID uuid.UUID) {
	if len(s.Rooms.Members(gameID)) > 0 {
		return
	}
	if s.Store.Evict(gameID) {
		s.Logger.WithField("game_id", gameID).Debug("evicted finished game")
	}
}
