// internal/handlers/game.go
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jason-s-yu/magicmatch/internal/game"
)

// createGameResponse is returned by the create and restart endpoints.
type createGameResponse struct {
	GameID string         `json:"game_id"`
	State  game.GameState `json:"state"`
}

// CreateGameHandler deals a new game owned by the session player, issuing a
// session cookie if the caller has none. The optional JSON body may carry
// "tokens" and "mismatchDelayMs".
func CreateGameHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		playerID, err := EnsurePlayer(w, r)
		if err != nil {
			gs.Logger.WithError(err).Error("failed to establish session")
			http.Error(w, "could not establish session", http.StatusInternalServerError)
			return
		}

		var overrides map[string]interface{}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&overrides); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		g, err := gs.CreateGame(playerID, overrides)
		if err != nil {
			if errors.Is(err, game.ErrInvalidSettings) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if errors.Is(err, ErrTooManyGames) {
				http.Error(w, err.Error(), http.StatusTooManyRequests)
				return
			}
			gs.Logger.WithError(err).Error("failed to create game")
			http.Error(w, "could not create game", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, createGameResponse{GameID: g.ID.String(), State: g.Snapshot()})
	}
}

// GameStateHandler returns the snapshot of a game to its owner.
// GET /game/state/{id}
func GameStateHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		g, ok := ownedGame(w, r, gs, "/game/state/")
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, g.Snapshot())
	}
}

// RestartGameHandler deals a fresh deck for an existing game.
// POST /game/restart/{id}
func RestartGameHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		g, ok := ownedGame(w, r, gs, "/game/restart/")
		if !ok {
			return
		}
		if err := g.Restart(); err != nil {
			gs.Logger.WithError(err).WithField("game", g.ID).Error("restart failed")
			http.Error(w, "could not restart game", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, createGameResponse{GameID: g.ID.String(), State: g.Snapshot()})
	}
}

// ownedGame resolves the game in the URL and checks the caller owns it,
// writing the error response itself when it does not.
func ownedGame(w http.ResponseWriter, r *http.Request, gs *GameServer, prefix string) (*game.MatchGame, bool) {
	gameID, ok := gameIDFromPath(r.URL.Path, prefix)
	if !ok {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return nil, false
	}
	g, ok := gs.GameStore.GetGame(gameID)
	if !ok {
		http.Error(w, "game not found", http.StatusNotFound)
		return nil, false
	}
	playerID, err := sessionPlayer(r)
	if err != nil {
		http.Error(w, "invalid session", http.StatusUnauthorized)
		return nil, false
	}
	if playerID != g.OwnerID {
		http.Error(w, "not your game", http.StatusForbidden)
		return nil, false
	}
	return g, true
}
