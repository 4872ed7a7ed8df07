// internal/handlers/connection.go
package handlers

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/checkers/internal/protocol"
	"github.com/sirupsen/logrus"
)

// Connection is the per-socket state of the gateway. It is a room.Member.
type Connection struct {
	id     uuid.UUID
	remote string
	logger *logrus.Logger

	// OutChan is drained by the write pump. It is never closed.
	OutChan chan protocol.Event

	overflow     chan struct{}
	overflowOnce sync.Once

	mu        sync.Mutex
	userID    uuid.UUID
	gameID    uuid.UUID
	spectator bool
}

func newConnection(remote string, buffer int, logger *logrus.Logger) *Connection {
	return &Connection{
		id:       uuid.New(),
		remote:   remote,
		logger:   logger,
		OutChan:  make(chan protocol.Event, buffer),
		overflow: make(chan struct{}),
	}
}

func (c *Connection) ConnID() uuid.UUID { return c.id }

func (c *Connection) UserID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Connection) authenticated() bool { return c.UserID() != uuid.Nil }

func (c *Connection) setUser(id uuid.UUID) {
	c.mu.Lock()
	c.userID = id
	c.mu.Unlock()
}

// Room returns the game room the connection is in, or uuid.Nil.
func (c *Connection) Room() (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameID, c.spectator
}

func (c *Connection) setRoom(gameID uuid.UUID, spectator bool) {
	c.mu.Lock()
	c.gameID = gameID
	c.spectator = spectator
	c.mu.Unlock()
}

// Send pushes ev onto OutChan without blocking. A full buffer drops the event
// and marks the connection as overflowed, which makes the write pump close it.
func (c *Connection) Send(ev protocol.Event) bool {
	select {
	case c.OutChan <- ev:
		return true
	default:
		c.logger.WithFields(logrus.Fields{
			"conn_id": c.id,
			"user_id": c.UserID(),
			"type":    ev.Type,
		}).Warn("OutChan full, dropped message")
		c.overflowOnce.Do(func() { close(c.overflow) })
		return false
	}
}

// sendError reports err to this connection only.
func (c *Connection) sendError(err error) {
	c.Send(protocol.Error(err))
}
