// internal/handlers/gateway_ws.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/checkers/internal/apperror"
	"github.com/jason-s-yu/checkers/internal/middleware"
	"github.com/jason-s-yu/checkers/internal/protocol"
	"github.com/jason-s-yu/checkers/internal/room"
	"github.com/sirupsen/logrus"
)

const (
	subprotocol = "checkers"
	pingTimeout = 15 * time.Second

	// readLimitFactor sets the hard frame cap relative to MESSAGE_SIZE_LIMIT.
	// Frames between the two get an ERROR; only frames above the cap close the socket.
	readLimitFactor = 8
)

// GatewayHandler upgrades the request to the push channel. The connection starts
// unauthenticated unless the request carries a valid auth cookie or bearer token.
func GatewayHandler(s *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{subprotocol},
			OriginPatterns: s.Gateway.AllowedOrigins,
		})
		if err != nil {
			s.Logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if r.Header.Get("Sec-WebSocket-Protocol") != "" && c.Subprotocol() != subprotocol {
			c.Close(BadSubprotocolError, "client must speak the checkers subprotocol")
			return
		}
		c.SetReadLimit(s.Gateway.MessageSizeLimit * readLimitFactor)

		conn := newConnection(r.RemoteAddr, s.Gateway.SendBuffer, s.Logger)
		middleware.LogWebSocketConnect(s.Logger, conn.remote, conn.id.String())

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		if token := requestToken(r); token != "" {
			if userID, err := s.Issuer.Verify(token); err == nil {
				s.completeAuth(conn, userID)
			}
		}

		go s.writePump(ctx, c, conn)

		err = s.readPump(ctx, c, conn)

		// A move in flight keeps running on its own context and still commits.
		s.leaveCurrent(conn)
		s.Rooms.Unsubscribe(conn)
		s.Limiter.Forget(connKey(conn))
		middleware.LogWebSocketDisconnect(s.Logger, conn.remote, conn.id.String(), err)
	}
}

func connKey(conn *Connection) string { return "conn:" + conn.id.String() }

// rateKey is the identity a message is counted against.
func rateKey(conn *Connection) string {
	if id := conn.UserID(); id != uuid.Nil {
		return "user:" + id.String()
	}
	return connKey(conn)
}

// readPump dispatches inbound frames until the socket closes. Protocol errors
// are reported to the client and never end the loop.
func (s *GameServer) readPump(ctx context.Context, c *websocket.Conn, conn *Connection) error {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		if typ != websocket.MessageText {
			s.Logger.WithField("conn_id", conn.id).Debugf("ignoring non-text message type %d", typ)
			continue
		}
		if int64(len(msg)) > s.Gateway.MessageSizeLimit {
			conn.sendError(apperror.ErrMessageTooLarge)
			continue
		}
		if !s.Limiter.Allow(rateKey(conn)) {
			conn.sendError(apperror.ErrRateLimited)
			continue
		}

		req, err := protocol.Decode(msg)
		if err != nil {
			conn.sendError(err)
			continue
		}
		if _, isAuth := req.(protocol.AuthRequest); !isAuth && !conn.authenticated() {
			conn.sendError(apperror.ErrUnauthenticated)
			continue
		}
		s.dispatch(ctx, conn, req)
	}
}

// writePump drains OutChan to the socket and keeps the connection alive with pings.
func (s *GameServer) writePump(ctx context.Context, c *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(s.Gateway.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.overflow:
			c.Close(SlowConsumerError, "client is not reading fast enough")
			return
		case ev := <-conn.OutChan:
			data, err := ev.Encode()
			if err != nil {
				s.Logger.WithField("conn_id", conn.id).Warnf("failed to marshal outgoing %s: %v", ev.Type, err)
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, s.Gateway.WriteTimeout)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.Logger.WithField("conn_id", conn.id).Debugf("failed to write to websocket: %v", err)
				c.Close(websocket.StatusGoingAway, "write failed")
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				s.Logger.WithField("conn_id", conn.id).Debugf("failed to send ping: %v, assuming disconnect", err)
				c.Close(websocket.StatusGoingAway, "ping failed")
				return
			}
		}
	}
}

func (s *GameServer) dispatch(ctx context.Context, conn *Connection, req protocol.Request) {
	var err error
	switch m := req.(type) {
	case protocol.AuthRequest:
		s.handleAuth(conn, m)
	case protocol.JoinGameRequest:
		err = s.handleJoin(ctx, conn, m.GameID, false)
	case protocol.ViewGameRequest:
		err = s.handleJoin(ctx, conn, m.GameID, true)
	case protocol.LeaveGameRequest:
		if current, _ := conn.Room(); m.GameID == uuid.Nil || m.GameID == current {
			s.leaveCurrent(conn)
		}
	case protocol.StartGameRequest:
		err = s.handleStart(ctx, conn, m.GameID)
	case protocol.PingRequest:
		conn.Send(protocol.Pong())
	}
	if err != nil {
		if apperror.KindOf(err) == apperror.KindFatal {
			s.Logger.WithFields(logrus.Fields{"conn_id": conn.id, "type": req.Type()}).WithError(err).Error("request failed")
		}
		conn.sendError(err)
	}
}

func (s *GameServer) handleAuth(conn *Connection, m protocol.AuthRequest) {
	if conn.authenticated() {
		conn.sendError(apperror.ErrAlreadyAuthorized)
		return
	}
	userID, err := s.Issuer.Verify(m.Token)
	if err != nil {
		conn.Send(protocol.AuthError(apperror.Reason(err)))
		return
	}
	s.completeAuth(conn, userID)
}

// completeAuth binds the identity and subscribes the connection to presence.
func (s *GameServer) completeAuth(conn *Connection, userID uuid.UUID) {
	conn.setUser(userID)
	conn.Send(protocol.AuthSuccess(userID))
	conn.Send(protocol.LobbyUpdate(s.Rooms.Subscribe(conn)))
	s.Logger.WithFields(logrus.Fields{"conn_id": conn.id, "user_id": userID}).Info("connection authenticated")
}

// handleJoin places the connection in the room of gameID. Participants always
// join as players, whatever they asked for; JOIN_GAME is for participants only.
func (s *GameServer) handleJoin(ctx context.Context, conn *Connection, gameID uuid.UUID, asSpectator bool) error {
	g, err := s.Store.Snapshot(ctx, gameID)
	if err != nil {
		return err
	}
	userID := conn.UserID()
	participant := g.IsParticipant(userID)
	if !asSpectator && !participant {
		return apperror.ErrNotParticipant
	}
	role := room.RoleSpectator
	if participant {
		role = room.RolePlayer
	}

	if current, _ := conn.Room(); current != uuid.Nil && current != gameID {
		s.leaveCurrent(conn)
	}
	joinErr := s.Rooms.JoinRoom(gameID, conn, role)
	if joinErr != nil && !errors.Is(joinErr, apperror.ErrAlreadyInRoom) {
		return joinErr
	}

	// Re-read after joining: a move committed in between was broadcast
	// before this connection was a member.
	if latest, err := s.Store.Snapshot(ctx, gameID); err == nil {
		g = latest
	}
	if joinErr != nil {
		// Repeating a join only refreshes the snapshot.
		conn.Send(protocol.GameState(g, s.Rooms.ViewerCount(gameID)))
		return nil
	}
	conn.setRoom(gameID, role == room.RoleSpectator)

	viewers := s.Rooms.ViewerCount(gameID)
	conn.Send(protocol.GameState(g, viewers))
	s.Rooms.Broadcast(gameID, protocol.PlayerJoined(gameID, userID, string(role)), conn.id)
	s.Rooms.Broadcast(gameID, protocol.ViewerCountUpdate(gameID, viewers), uuid.Nil)
	return nil
}

// leaveCurrent takes the connection out of its room, if any.
func (s *GameServer) leaveCurrent(conn *Connection) {
	gameID, _ := conn.Room()
	if gameID == uuid.Nil {
		return
	}
	conn.setRoom(uuid.Nil, false)
	if _, ok := s.Rooms.LeaveRoom(gameID, conn); !ok {
		return
	}
	s.Rooms.Broadcast(gameID, protocol.PlayerLeft(gameID, conn.UserID()), uuid.Nil)
	s.Rooms.Broadcast(gameID, protocol.ViewerCountUpdate(gameID, s.Rooms.ViewerCount(gameID)), uuid.Nil)
	s.maybeEvict(gameID)
}

func (s *GameServer) handleStart(ctx context.Context, conn *Connection, gameID uuid.UUID) error {
	g, err := s.Store.Start(ctx, gameID, conn.UserID())
	if err != nil {
		return err
	}
	// The room already got GAME_STATE from the commit.
	if current, _ := conn.Room(); current != gameID {
		conn.Send(protocol.GameState(g, s.Rooms.ViewerCount(gameID)))
	}
	return nil
}
