// internal/protocol/events.go
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/checkers/internal/apperror"
	"github.com/jason-s-yu/checkers/internal/board"
	"github.com/jason-s-yu/checkers/internal/models"
)

// Event is one outbound frame.
type Event struct {
	Type MessageType `json:"type"`
	Data any         `json:"data,omitempty"`
}

// Encode renders the event as it goes on the wire.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// GameSnapshot is the full state a client renders a game from.
type GameSnapshot struct {
	ID      uuid.UUID  `json:"id"`
	PlayerA uuid.UUID  `json:"playerA"`
	PlayerB *uuid.UUID `json:"playerB"`

	Board  board.Board       `json:"board"`
	Status models.GameStatus `json:"status"`

	// CurrentTurn is "A", "B" or empty when nobody may move.
	CurrentTurn       string     `json:"currentTurn"`
	CurrentTurnUserID *uuid.UUID `json:"currentTurnUserId"`
	Winner            string     `json:"winner,omitempty"`
	WinnerID          *uuid.UUID `json:"winnerId"`

	MoveCount   int        `json:"moveCount"`
	ViewerCount int        `json:"viewerCount"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt"`
}

func optionalID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func sideName(s board.Side) string {
	if s == board.None {
		return ""
	}
	return s.String()
}

// Snapshot converts a game into its wire representation.
func Snapshot(g models.Game, viewers int) GameSnapshot {
	return GameSnapshot{
		ID:                g.ID,
		PlayerA:           g.PlayerA,
		PlayerB:           optionalID(g.PlayerB),
		Board:             g.Board,
		Status:            g.Status,
		CurrentTurn:       sideName(g.Turn),
		CurrentTurnUserID: optionalID(g.PlayerFor(g.Turn)),
		Winner:            sideName(g.Winner),
		WinnerID:          optionalID(g.WinnerID()),
		MoveCount:         g.MoveCount,
		ViewerCount:       viewers,
		CreatedAt:         g.CreatedAt,
		StartedAt:         optionalTime(g.StartedAt),
		EndedAt:           optionalTime(g.EndedAt),
	}
}

// OnlineUser is one entry of the presence list.
type OnlineUser struct {
	UserID uuid.UUID             `json:"userId"`
	Status models.PresenceStatus `json:"status"`
}

type identityPayload struct {
	UserID uuid.UUID `json:"userId"`
}

type reasonPayload struct {
	Reason string `json:"reason"`
	Kind   string `json:"kind,omitempty"`
}

type lobbyPayload struct {
	Users []OnlineUser `json:"users"`
}

type roomMemberPayload struct {
	GameID uuid.UUID `json:"gameId"`
	UserID uuid.UUID `json:"userId"`
	Role   string    `json:"role,omitempty"`
}

type viewerCountPayload struct {
	GameID uuid.UUID `json:"gameId"`
	Count  int       `json:"count"`
}

type abandonedPayload struct {
	GameID            uuid.UUID  `json:"gameId"`
	AbandonedByUserID uuid.UUID  `json:"abandonedByUserId"`
	WinnerID          *uuid.UUID `json:"winnerId"`
}

type invitationPayload struct {
	GameID     uuid.UUID `json:"gameId"`
	FromUserID uuid.UUID `json:"fromUserId"`
}

func AuthSuccess(userID uuid.UUID) Event {
	return Event{Type: TypeAuthSuccess, Data: identityPayload{UserID: userID}}
}

func AuthError(reason string) Event {
	return Event{Type: TypeAuthError, Data: reasonPayload{Reason: reason}}
}

func LobbyUpdate(users []OnlineUser) Event {
	if users == nil {
		users = []OnlineUser{}
	}
	return Event{Type: TypeLobbyUpdate, Data: lobbyPayload{Users: users}}
}

func UserStatus(userID uuid.UUID, status models.PresenceStatus) Event {
	return Event{Type: TypeUserStatus, Data: OnlineUser{UserID: userID, Status: status}}
}

func GameState(g models.Game, viewers int) Event {
	return Event{Type: TypeGameState, Data: Snapshot(g, viewers)}
}

func PlayerJoined(gameID, userID uuid.UUID, role string) Event {
	return Event{Type: TypePlayerJoined, Data: roomMemberPayload{GameID: gameID, UserID: userID, Role: role}}
}

func PlayerLeft(gameID, userID uuid.UUID) Event {
	return Event{Type: TypePlayerLeft, Data: roomMemberPayload{GameID: gameID, UserID: userID}}
}

func ViewerCountUpdate(gameID uuid.UUID, count int) Event {
	return Event{Type: TypeViewerCountUpdate, Data: viewerCountPayload{GameID: gameID, Count: count}}
}

func GameAbandoned(g models.Game, quitter uuid.UUID) Event {
	return Event{Type: TypeGameAbandoned, Data: abandonedPayload{
		GameID:            g.ID,
		AbandonedByUserID: quitter,
		WinnerID:          optionalID(g.WinnerID()),
	}}
}

func GameInvitation(gameID, from uuid.UUID) Event {
	return Event{Type: TypeGameInvitation, Data: invitationPayload{GameID: gameID, FromUserID: from}}
}

func ChatMessage(m models.ChatMessage) Event {
	return Event{Type: TypeChatMessage, Data: m}
}

// Error reports err to a single connection. Storage details are never exposed.
func Error(err error) Event {
	return Event{Type: TypeError, Data: reasonPayload{
		Reason: apperror.Reason(err),
		Kind:   string(apperror.KindOf(err)),
	}}
}

func Pong() Event {
	return Event{Type: TypePong, Data: struct{}{}}
}
