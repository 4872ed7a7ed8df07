// internal/room/registry.go
package room

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/checkers/internal/apperror"
	"github.com/jason-s-yu/checkers/internal/models"
	"github.com/jason-s-yu/checkers/internal/protocol"
	"github.com/sirupsen/logrus"
)

type Role string

const (
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// Member is one connection that can receive pushed events.
// Send must not block; it reports whether the event was queued.
type Member interface {
	ConnID() uuid.UUID
	UserID() uuid.UUID
	Send(ev protocol.Event) bool
}

// PresenceSink mirrors presence changes somewhere outside the process.
type PresenceSink interface {
	SetStatus(ctx context.Context, userID uuid.UUID, status models.PresenceStatus) error
}

const sinkTimeout = 2 * time.Second

type gameRoom struct {
	players    map[uuid.UUID]Member
	spectators map[uuid.UUID]Member
}

func (r *gameRoom) empty() bool { return len(r.players) == 0 && len(r.spectators) == 0 }

type presence struct {
	conns   int
	playing int
}

func (p *presence) status() models.PresenceStatus {
	switch {
	case p.playing > 0:
		return models.StatusInGame
	case p.conns > 0:
		return models.StatusOnline
	}
	return models.StatusOffline
}

// Registry tracks which connections are in which game room and who is online.
// All maps are guarded by mu; events are always sent after mu is released.
// Never call into the Registry while holding it from a Member's Send.
type Registry struct {
	mu          sync.Mutex
	rooms       map[uuid.UUID]*gameRoom
	subscribers map[uuid.UUID]Member
	presence    map[uuid.UUID]*presence

	// statusMu orders USER_STATUS fan-out and sink writes, so the last status
	// anyone receives is always the current one.
	statusMu sync.Mutex
	sink   PresenceSink
	log    *logrus.Logger
}

type Option func(*Registry)

func WithPresenceSink(s PresenceSink) Option { return func(r *Registry) { r.sink = s } }
func WithLogger(l *logrus.Logger) Option     { return func(r *Registry) { r.log = l } }

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:       make(map[uuid.UUID]*gameRoom),
		subscribers: make(map[uuid.UUID]Member),
		presence:    make(map[uuid.UUID]*presence),
		log:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// change records a presence update for userID. Must be called with mu held;
// the returned func performs the fan-out and must be called after unlocking.
func (r *Registry) change(userID uuid.UUID, update func(p *presence)) func() {
	p, ok := r.presence[userID]
	if !ok {
		p = &presence{}
		r.presence[userID] = p
	}
	before := p.status()
	update(p)
	after := p.status()
	if after == models.StatusOffline {
		delete(r.presence, userID)
	}
	if before == after {
		return func() {}
	}
	return func() { r.publishStatus(userID) }
}

// publishStatus sends the current status of userID to every other subscriber
// and mirrors it to the sink. The status is read under statusMu rather than
// captured at change time, so concurrent changes cannot deliver out of order.
func (r *Registry) publishStatus(userID uuid.UUID) {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()

	r.mu.Lock()
	status := models.StatusOffline
	if p, ok := r.presence[userID]; ok {
		status = p.status()
	}
	var targets []Member
	for _, m := range r.subscribers {
		if m.UserID() != userID {
			targets = append(targets, m)
		}
	}
	r.mu.Unlock()

	ev := protocol.UserStatus(userID, status)
	for _, m := range targets {
		m.Send(ev)
	}
	r.mirror(userID, status)
}

// mirror must be called with statusMu held.
func (r *Registry) mirror(userID uuid.UUID, status models.PresenceStatus) {
	if r.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := r.sink.SetStatus(ctx, userID, status); err != nil {
		r.log.WithFields(logrus.Fields{"user_id": userID, "status": status}).WithError(err).Warn("failed to mirror presence")
	}
}

// JoinRoom adds m to the room of gameID. Joining again with the other role
// moves the connection; joining again with the same role is rejected.
func (r *Registry) JoinRoom(gameID uuid.UUID, m Member, role Role) error {
	r.mu.Lock()
	rm, ok := r.rooms[gameID]
	if !ok {
		rm = &gameRoom{players: make(map[uuid.UUID]Member), spectators: make(map[uuid.UUID]Member)}
		r.rooms[gameID] = rm
	}

	id := m.ConnID()
	_, isPlayer := rm.players[id]
	_, isSpectator := rm.spectators[id]
	if (role == RolePlayer && isPlayer) || (role == RoleSpectator && isSpectator) {
		r.mu.Unlock()
		return apperror.ErrAlreadyInRoom
	}

	notify := func() {}
	switch role {
	case RolePlayer:
		delete(rm.spectators, id)
		rm.players[id] = m
		notify = r.change(m.UserID(), func(p *presence) { p.playing++ })
	default:
		if isPlayer {
			delete(rm.players, id)
			notify = r.change(m.UserID(), func(p *presence) { p.playing-- })
		}
		rm.spectators[id] = m
	}
	r.mu.Unlock()

	notify()
	return nil
}

// LeaveRoom removes m from the room of gameID and returns the role it held.
// A room left empty is deleted.
func (r *Registry) LeaveRoom(gameID uuid.UUID, m Member) (Role, bool) {
	r.mu.Lock()
	rm, ok := r.rooms[gameID]
	if !ok {
		r.mu.Unlock()
		return "", false
	}

	id := m.ConnID()
	var role Role
	notify := func() {}
	if _, ok := rm.players[id]; ok {
		delete(rm.players, id)
		role = RolePlayer
		notify = r.change(m.UserID(), func(p *presence) { p.playing-- })
	} else if _, ok := rm.spectators[id]; ok {
		delete(rm.spectators, id)
		role = RoleSpectator
	}
	if rm.empty() {
		delete(r.rooms, gameID)
	}
	r.mu.Unlock()

	notify()
	return role, role != ""
}

// Members returns a snapshot of everyone in the room.
func (r *Registry) Members(gameID uuid.UUID) []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[gameID]
	if !ok {
		return nil
	}
	out := make([]Member, 0, len(rm.players)+len(rm.spectators))
	for _, m := range rm.players {
		out = append(out, m)
	}
	for _, m := range rm.spectators {
		out = append(out, m)
	}
	return out
}

// Broadcast sends ev to every connection in the room except excluding
// (uuid.Nil excludes nobody) and returns how many accepted it.
func (r *Registry) Broadcast(gameID uuid.UUID, ev protocol.Event, excluding uuid.UUID) int {
	n := 0
	for _, m := range r.Members(gameID) {
		if m.ConnID() == excluding {
			continue
		}
		if m.Send(ev) {
			n++
		}
	}
	return n
}

// PublishState pushes the authoritative snapshot of g to its room.
func (r *Registry) PublishState(g models.Game) {
	r.Broadcast(g.ID, protocol.GameState(g, r.ViewerCount(g.ID)), uuid.Nil)
}

// ViewerCount counts spectators only.
func (r *Registry) ViewerCount(gameID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[gameID]; ok {
		return len(rm.spectators)
	}
	return 0
}

// IsMember reports whether any connection of userID is in the room.
func (r *Registry) IsMember(gameID, userID uuid.UUID) bool {
	for _, m := range r.Members(gameID) {
		if m.UserID() == userID {
			return true
		}
	}
	return false
}

// RoomCount is the number of non-empty rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Subscribe adds m to the presence channel, marks its user online and
// returns the current presence list.
func (r *Registry) Subscribe(m Member) []protocol.OnlineUser {
	r.mu.Lock()
	if _, ok := r.subscribers[m.ConnID()]; ok {
		users := r.onlineUsersLocked()
		r.mu.Unlock()
		return users
	}
	r.subscribers[m.ConnID()] = m
	notify := r.change(m.UserID(), func(p *presence) { p.conns++ })
	users := r.onlineUsersLocked()
	r.mu.Unlock()

	notify()
	return users
}

// Unsubscribe removes m from the presence channel. The user goes offline
// once their last connection is gone.
func (r *Registry) Unsubscribe(m Member) {
	r.mu.Lock()
	if _, ok := r.subscribers[m.ConnID()]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.subscribers, m.ConnID())
	notify := r.change(m.UserID(), func(p *presence) { p.conns-- })
	r.mu.Unlock()

	notify()
}

// SendToUser pushes ev to every presence connection of userID.
func (r *Registry) SendToUser(userID uuid.UUID, ev protocol.Event) int {
	r.mu.Lock()
	var targets []Member
	for _, m := range r.subscribers {
		if m.UserID() == userID {
			targets = append(targets, m)
		}
	}
	r.mu.Unlock()

	n := 0
	for _, m := range targets {
		if m.Send(ev) {
			n++
		}
	}
	return n
}

// Status returns the presence status of userID.
func (r *Registry) Status(userID uuid.UUID) models.PresenceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.presence[userID]; ok {
		return p.status()
	}
	return models.StatusOffline
}

// OnlineUsers lists every user that is not offline.
func (r *Registry) OnlineUsers() []protocol.OnlineUser {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlineUsersLocked()
}

func (r *Registry) onlineUsersLocked() []protocol.OnlineUser {
	out := make([]protocol.OnlineUser, 0, len(r.presence))
	for id, p := range r.presence {
		out = append(out, protocol.OnlineUser{UserID: id, Status: p.status()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out
}
