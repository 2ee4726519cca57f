package handlers

import (
	"net/http"

	"github.com/jason-s-yu/magicmatch/internal/middleware"
	"github.com/sirupsen/logrus"
)

// NewRouter wires every game endpoint behind request logging.
func NewRouter(logger *logrus.Logger, gs *GameServer) http.Handler {
	mux := http.NewServeMux()
	logged := middleware.LogMiddleware(logger)

	mux.Handle("/game/create", logged(CreateGameHandler(gs)))
	mux.Handle("/game/state/", logged(GameStateHandler(gs)))
	mux.Handle("/game/restart/", logged(RestartGameHandler(gs)))
	mux.Handle("/game/ws/", logged(GameWSHandler(logger, gs)))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "games": gs.GameStore.Len()})
	})
	return mux
}
