// internal/handlers/game_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/magicmatch/internal/game"
	"github.com/jason-s-yu/magicmatch/internal/middleware"
	"github.com/jason-s-yu/magicmatch/internal/models"
	"github.com/sirupsen/logrus"
)

// GameMessage represents an incoming WebSocket message.
type GameMessage struct {
	Type string `json:"type"`

	// Card carries {"id": "<card uuid>"} for reveal messages.
	Card map[string]interface{} `json:"card,omitempty"`
}

// GameWSHandler upgrades the HTTP connection to a WebSocket for one game.
// It authenticates the session, checks the player owns the game, sends the
// current state and then reads reveal/new_game intents until the client leaves.
// GET /game/ws/{id}, subprotocol "game".
func GameWSHandler(logger *logrus.Logger, gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID, ok := gameIDFromPath(r.URL.Path, "/game/ws/")
		if !ok {
			http.Error(w, "Invalid game_id in path (/game/ws/{game_id})", http.StatusBadRequest)
			return
		}
		g, ok := gs.GameStore.GetGame(gameID)
		if !ok {
			http.Error(w, "Game not found", http.StatusNotFound)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"game"},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			logger.Warnf("WebSocket accept error for game %s: %v", gameID, err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "Internal server error during handler exit.")

		if c.Subprotocol() != "game" {
			c.Close(BadSubprotocolError, "Client must use the 'game' subprotocol.")
			return
		}

		playerID, err := sessionPlayer(r)
		if err != nil {
			logger.Warnf("Session authentication failed for game %s: %v", gameID, err)
			c.Close(InvalidAuthTokenError, "Authentication failed.")
			return
		}
		if playerID != g.OwnerID {
			logger.Warnf("Player %s does not own game %s. Closing connection.", playerID, gameID)
			c.Close(NotGameOwnerError, "You are not the owner of this game.")
			return
		}
		middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		client := newWSClient(c)
		entry := logger.WithFields(logrus.Fields{"game": gameID, "player": playerID})
		gs.Hub.add(gameID, client)
		defer gs.Hub.remove(gameID, client)

		go func() {
			client.writeLoop(ctx, entry)
			cancel()
		}()

		client.enqueue(game.EncodeEvent(g.SyncEvent()))

		err = readGameMessages(ctx, c, client, g, entry)
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, err)
		if err == nil {
			c.Close(websocket.StatusNormalClosure, "")
		}
	}
}

// readGameMessages reads intents from the client and applies them to the game.
// It returns nil when the client closed normally.
func readGameMessages(ctx context.Context, c *websocket.Conn, client *wsClient, g *game.MatchGame, logger logrus.FieldLogger) error {
	for {
		msgType, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if msgType != websocket.MessageText {
			logger.Warnf("Received non-text message type %d. Ignoring.", msgType)
			continue
		}

		var msg GameMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warnf("Invalid JSON received: %v", err)
			sendWsError(client, "Invalid JSON format.")
			continue
		}
		logger.Debugf("Received message '%s'.", msg.Type)

		switch msg.Type {
		case "reveal":
			action := models.GameAction{ActionType: models.ActionReveal, Payload: msg.Card}
			if err := g.HandlePlayerAction(action); err != nil {
				sendWsError(client, err.Error())
			}
		case "new_game":
			if err := g.HandlePlayerAction(models.GameAction{ActionType: models.ActionNewGame}); err != nil {
				logger.WithError(err).Error("restart failed")
				sendWsError(client, "Could not start a new game.")
			}
		case "ping":
			sendWsMessage(client, map[string]interface{}{"type": "pong", "ts": time.Now().UnixMilli()})
		default:
			logger.Warnf("Unknown message type '%s'.", msg.Type)
			sendWsError(client, fmt.Sprintf("Unknown message type: %s", msg.Type))
		}
	}
}

// sendWsMessage marshals a message and queues it for the client.
func sendWsMessage(client *wsClient, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		logrus.WithError(err).Warn("failed to marshal websocket message")
		return
	}
	client.enqueue(data)
}

// sendWsError sends a structured error message to the client.
func sendWsError(client *wsClient, errorMsg string) {
	sendWsMessage(client, map[string]interface{}{
		"type":    "error",
		"message": errorMsg,
	})
}
