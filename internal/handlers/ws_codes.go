// internal/handlers/ws_codes.go
package handlers

import "github.com/coder/websocket"

// Custom WebSocket close codes used by the session handler.
const (
	LobbyUnavailableError websocket.StatusCode = 3004 // Presence or channel layer could not admit the connection.
	RateLimitedError      websocket.StatusCode = 3005 // Client exceeded its inbound message budget.
)
