// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the game handler.
const (
	BadSubprotocolError   = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError = 3001 // Session token missing, invalid or expired.
	NotGameOwnerError     = 3002 // Session player does not own the game.
	SlowConsumerError     = 3003 // Client fell behind the event stream and must resync.
)
