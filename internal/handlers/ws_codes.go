// internal/handlers/ws_codes.go
package handlers

import "github.com/coder/websocket"

// Custom WebSocket close codes used by the gateway.
// These provide more specific reasons for closure than standard codes.
const (
	BadSubprotocolError websocket.StatusCode = 3000 // Client offered subprotocols, none of which is "checkers".
	SlowConsumerError   websocket.StatusCode = 3004 // Outbound buffer overflowed; the client must reconnect and request a fresh snapshot.
)
