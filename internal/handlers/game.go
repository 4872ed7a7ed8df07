// internal/handlers/game.go
package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jason-s-yu/checkers/internal/apperror"
	"github.com/jason-s-yu/checkers/internal/board"
	"github.com/jason-s-yu/checkers/internal/models"
	"github.com/jason-s-yu/checkers/internal/protocol"
)

const (
	defaultChatHistory = 50
	maxChatHistory     = 200
)

type authedHandler func(w http.ResponseWriter, r *http.Request, userID uuid.UUID)

// authenticated resolves the caller from the bearer token or auth cookie.
func (s *GameServer) authenticated(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := requestToken(r)
		if token == "" {
			writeError(w, apperror.ErrUnauthenticated)
			return
		}
		userID, err := s.Issuer.Verify(token)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, userID)
	}
}

func (s *GameServer) snapshot(g models.Game) protocol.GameSnapshot {
	return protocol.Snapshot(g, s.Rooms.ViewerCount(g.ID))
}

type createGameRequest struct {
	OpponentID *uuid.UUID `json:"opponentId"`
}

// handleCreateGame creates a waiting game owned by the caller, inviting the
// opponent straight away when one is named.
func (s *GameServer) handleCreateGame(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	var req createGameRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.OpponentID != nil && *req.OpponentID == userID {
		writeError(w, apperror.ErrCannotInviteSelf)
		return
	}

	g, err := s.Store.Create(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.OpponentID != nil && *req.OpponentID != uuid.Nil {
		if g, err = s.invite(r, g.ID, userID, *req.OpponentID); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, s.snapshot(g))
}

type inviteRequest struct {
	UserID uuid.UUID `json:"userId"`
}

func (s *GameServer) handleInvite(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	gameID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req inviteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserID == uuid.Nil {
		writeError(w, fmt.Errorf("%w: userId is required", apperror.ErrMalformedMessage))
		return
	}
	g, err := s.invite(r, gameID, userID, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot(g))
}

func (s *GameServer) invite(r *http.Request, gameID, inviter, invitee uuid.UUID) (models.Game, error) {
	g, err := s.Store.Invite(r.Context(), gameID, inviter, invitee)
	if err != nil {
		return models.Game{}, err
	}
	s.Rooms.SendToUser(invitee, protocol.GameInvitation(gameID, inviter))
	return g, nil
}

// handleAccept starts the game on behalf of the invited player.
func (s *GameServer) handleAccept(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	gameID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	current, err := s.Store.Snapshot(r.Context(), gameID)
	if err != nil {
		writeError(w, err)
		return
	}
	if current.PlayerB != userID {
		writeError(w, apperror.ErrNotParticipant)
		return
	}
	g, err := s.Store.Start(r.Context(), gameID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot(g))
}

type moveRequest struct {
	From *board.Coord `json:"from"`
	To   *board.Coord `json:"to"`
}

type moveResponse struct {
	Game     protocol.GameSnapshot `json:"game"`
	Captures []board.Coord         `json:"captures"`
	Promoted bool                  `json:"promoted"`
}

// handleMove is the synchronous move submission. The caller gets accept or
// reject; everyone in the room, the caller included, gets GAME_STATE from the commit.
func (s *GameServer) handleMove(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	gameID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req moveRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.From == nil || req.To == nil {
		writeError(w, fmt.Errorf("%w: from and to are required", apperror.ErrMalformedMessage))
		return
	}

	g, res, err := s.Store.SubmitMove(r.Context(), gameID, userID, *req.From, *req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	if g.Status == models.GameFinished {
		s.maybeEvict(gameID)
	}

	captures := res.Captures
	if captures == nil {
		captures = []board.Coord{}
	}
	writeJSON(w, http.StatusOK, moveResponse{Game: s.snapshot(g), Captures: captures, Promoted: res.Promoted})
}

func (s *GameServer) handleAbandon(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	gameID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	g, err := s.Store.Abandon(r.Context(), gameID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.Rooms.Broadcast(gameID, protocol.GameAbandoned(g, userID), uuid.Nil)
	s.maybeEvict(gameID)
	writeJSON(w, http.StatusOK, s.snapshot(g))
}

func (s *GameServer) handleGetGame(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	gameID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	g, err := s.Store.Snapshot(r.Context(), gameID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot(g))
}

type gameList struct {
	Games []protocol.GameSnapshot `json:"games"`
}

// handleListGames lists loaded games by status, in_progress by default.
func (s *GameServer) handleListGames(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	status := models.GameInProgress
	if q := r.URL.Query().Get("status"); q != "" {
		status = models.GameStatus(q)
		if !status.Valid() {
			writeError(w, fmt.Errorf("%w: unknown status %q", apperror.ErrMalformedMessage, q))
			return
		}
	}
	games := s.Store.ListByStatus(status)
	out := gameList{Games: make([]protocol.GameSnapshot, 0, len(games))}
	for _, g := range games {
		out.Games = append(out.Games, s.snapshot(g))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleMyGames is the caller's game history, finished games included.
func (s *GameServer) handleMyGames(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	games, err := s.Store.ListByPlayer(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := gameList{Games: make([]protocol.GameSnapshot, 0, len(games))}
	for _, g := range games {
		out.Games = append(out.Games, s.snapshot(g))
	}
	writeJSON(w, http.StatusOK, out)
}

type chatRequest struct {
	Message string `json:"message"`
}

// handleSendChat persists and broadcasts a chat line. Players and anyone
// currently in the room may chat.
func (s *GameServer) handleSendChat(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	gameID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req chatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	text := strings.TrimSpace(req.Message)
	if text == "" || utf8.RuneCountInString(text) > s.ChatMaxLength {
		writeError(w, apperror.ErrInvalidChat)
		return
	}

	g, err := s.Store.Snapshot(r.Context(), gameID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !g.IsParticipant(userID) && !s.Rooms.IsMember(gameID, userID) {
		writeError(w, apperror.ErrNotParticipant)
		return
	}

	msg := models.ChatMessage{
		ID:        uuid.New(),
		GameID:    gameID,
		UserID:    userID,
		Message:   text,
		CreatedAt: s.Clock.Now(),
	}
	if err := s.Chat.SaveMessage(r.Context(), msg); err != nil {
		s.Logger.WithField("game_id", gameID).WithError(err).Error("failed to save chat message")
		writeError(w, fmt.Errorf("%w: save chat: %v", apperror.ErrStorage, err))
		return
	}
	s.Rooms.Broadcast(gameID, protocol.ChatMessage(msg), uuid.Nil)
	writeJSON(w, http.StatusCreated, msg)
}

type chatHistory struct {
	Messages []models.ChatMessage `json:"messages"`
}

func (s *GameServer) handleListChat(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	gameID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	limit := defaultChatHistory
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, fmt.Errorf("%w: limit must be a positive integer", apperror.ErrMalformedMessage))
			return
		}
		limit = min(n, maxChatHistory)
	}
	if _, err := s.Store.Snapshot(r.Context(), gameID); err != nil {
		writeError(w, err)
		return
	}
	msgs, err := s.Chat.ListMessages(r.Context(), gameID, limit)
	if err != nil {
		writeError(w, fmt.Errorf("%w: list chat: %v", apperror.ErrStorage, err))
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, chatHistory{Messages: msgs})
}

func (s *GameServer) handleOnlineUsers(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	writeJSON(w, http.StatusOK, map[string][]protocol.OnlineUser{"users": s.Rooms.OnlineUsers()})
}
