// internal/protocol/messages.go
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jason-s-yu/checkers/internal/apperror"
)

// MessageType tags every frame exchanged over the gateway.
type MessageType string

// Inbound.
const (
	TypeAuth      MessageType = "AUTH"
	TypeJoinGame  MessageType = "JOIN_GAME"
	TypeLeaveGame MessageType = "LEAVE_GAME"
	TypeStartGame MessageType = "START_GAME"
	TypeViewGame  MessageType = "VIEW_GAME"
	TypePing      MessageType = "PING"
)

// Outbound.
const (
	TypeAuthSuccess       MessageType = "AUTH_SUCCESS"
	TypeAuthError         MessageType = "AUTH_ERROR"
	TypeLobbyUpdate       MessageType = "LOBBY_UPDATE"
	TypeUserStatus        MessageType = "USER_STATUS"
	TypeGameState         MessageType = "GAME_STATE"
	TypePlayerJoined      MessageType = "PLAYER_JOINED"
	TypePlayerLeft        MessageType = "PLAYER_LEFT"
	TypeViewerCountUpdate MessageType = "VIEWER_COUNT_UPDATE"
	TypeGameAbandoned     MessageType = "GAME_ABANDONED"
	TypeGameInvitation    MessageType = "GAME_INVITATION"
	TypeChatMessage       MessageType = "CHAT_MESSAGE"
	TypeError             MessageType = "ERROR"
	TypePong              MessageType = "PONG"
)

// older clients still send these names
var aliases = map[MessageType]MessageType{
	"GAME_JOIN":  TypeJoinGame,
	"GAME_LEAVE": TypeLeaveGame,
	"GAME_START": TypeStartGame,
}

// Envelope is the raw wire shape of an inbound frame.
type Envelope struct {
	Type  MessageType     `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Token string          `json:"token,omitempty"`
}

// Request is one decoded inbound message. The concrete type identifies the variant.
type Request interface {
	Type() MessageType
}

type AuthRequest struct {
	Token string
}

type JoinGameRequest struct {
	GameID uuid.UUID
}

// LeaveGameRequest with a nil GameID leaves whatever room the connection is in.
type LeaveGameRequest struct {
	GameID uuid.UUID
}

type StartGameRequest struct {
	GameID uuid.UUID
}

type ViewGameRequest struct {
	GameID uuid.UUID
}

type PingRequest struct{}

func (AuthRequest) Type() MessageType      { return TypeAuth }
func (JoinGameRequest) Type() MessageType  { return TypeJoinGame }
func (LeaveGameRequest) Type() MessageType { return TypeLeaveGame }
func (StartGameRequest) Type() MessageType { return TypeStartGame }
func (ViewGameRequest) Type() MessageType  { return TypeViewGame }
func (PingRequest) Type() MessageType      { return TypePing }

type gamePayload struct {
	GameID string `json:"gameId"`
}

type authPayload struct {
	Token string `json:"token"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperror.ErrMalformedMessage, fmt.Sprintf(format, args...))
}

func decodeData(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return malformed("data: %v", err)
	}
	return nil
}

func gameID(raw json.RawMessage, required bool) (uuid.UUID, error) {
	var p gamePayload
	if err := decodeData(raw, &p); err != nil {
		return uuid.Nil, err
	}
	if p.GameID == "" {
		if required {
			return uuid.Nil, malformed("gameId is required")
		}
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(p.GameID)
	if err != nil {
		return uuid.Nil, malformed("gameId %q is not a valid id", p.GameID)
	}
	return id, nil
}

// Decode parses and validates one inbound frame.
func Decode(frame []byte) (Request, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, malformed("invalid json: %v", err)
	}
	if env.Type == "" {
		return nil, malformed("type is required")
	}
	t := MessageType(strings.ToUpper(string(env.Type)))
	if alias, ok := aliases[t]; ok {
		t = alias
	}

	switch t {
	case TypeAuth:
		var p authPayload
		if err := decodeData(env.Data, &p); err != nil {
			return nil, err
		}
		if p.Token == "" {
			p.Token = env.Token
		}
		return AuthRequest{Token: p.Token}, nil
	case TypeJoinGame:
		id, err := gameID(env.Data, true)
		if err != nil {
			return nil, err
		}
		return JoinGameRequest{GameID: id}, nil
	case TypeLeaveGame:
		id, err := gameID(env.Data, false)
		if err != nil {
			return nil, err
		}
		return LeaveGameRequest{GameID: id}, nil
	case TypeStartGame:
		id, err := gameID(env.Data, true)
		if err != nil {
			return nil, err
		}
		return StartGameRequest{GameID: id}, nil
	case TypeViewGame:
		id, err := gameID(env.Data, true)
		if err != nil {
			return nil, err
		}
		return ViewGameRequest{GameID: id}, nil
	case TypePing:
		return PingRequest{}, nil
	}
	return nil, fmt.Errorf("%w: %s", apperror.ErrUnknownMessageType, env.Type)
}
