package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Password string    `json:"password,omitempty"`
	Username string    `json:"username"`

	CreatedAt time.Time `json:"created_at"`
}

// PresenceStatus is a user's availability as shown on the presence channel.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusInGame  PresenceStatus = "in_game"
	StatusOffline PresenceStatus = "offline"
)
