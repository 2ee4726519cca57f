// internal/handlers/game_server.go
package handlers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/magicmatch/internal/game"
	"github.com/sirupsen/logrus"
)

// EventPublisher forwards game events beyond the WebSocket clients.
type EventPublisher interface {
	PublishEvent(ev game.GameEvent)
	PublishCompletion(summary game.CompletionSummary)
}

// ErrTooManyGames is returned by CreateGame when every game the owner already
// has is still attached to a client.
var ErrTooManyGames = errors.New("too many live games for this player")

const (
	DefaultGameInactivity   = 10 * time.Minute
	DefaultMaxGamesPerOwner = 5
)

// GameServer is a high-level struct that holds the GameStore, the default
// settings for new games and the fan-out targets for their events.
type GameServer struct {
	GameStore *game.GameStore
	Hub       *Hub
	Settings  game.Settings
	Logger    *logrus.Logger

	// Events is optional.
	Events EventPublisher

	// Inactivity is how long a game with no attached clients may sit idle
	// before EvictIdle removes it.
	Inactivity time.Duration

	// MaxGamesPerOwner caps live games per player; 0 disables the cap.
	MaxGamesPerOwner int

	createMu sync.Mutex
}

func NewGameServer(logger *logrus.Logger, settings game.Settings) *GameServer {
	return &GameServer{
		GameStore: game.NewGameStore(),
		Hub:       NewHub(logger),
		Settings:  settings,
		Logger:    logger,

		Inactivity:       DefaultGameInactivity,
		MaxGamesPerOwner: DefaultMaxGamesPerOwner,
	}
}

// CreateGame deals a new game for ownerID. overrides may adjust the default
// settings; see game.Settings.Update. When the owner is at MaxGamesPerOwner,
// their least recently used game without clients is evicted to make room.
func (gs *GameServer) CreateGame(ownerID uuid.UUID, overrides map[string]interface{}) (*game.MatchGame, error) {
	settings, err := game.ParseSettings(overrides, gs.Settings)
	if err != nil {
		return nil, err
	}

	gs.createMu.Lock()
	defer gs.createMu.Unlock()
	if err := gs.makeRoomFor(ownerID); err != nil {
		return nil, err
	}
	g, err := game.NewMatchGame(ownerID, settings)
	if err != nil {
		return nil, fmt.Errorf("create game: %w", err)
	}

	g.Mu.Lock()
	g.Logger = gs.Logger
	g.BroadcastFn = gs.broadcastFn()
	g.OnComplete = gs.onComplete
	g.Mu.Unlock()

	gs.GameStore.AddGame(g)

	gs.Logger.WithFields(logrus.Fields{
		"game":  g.ID,
		"owner": ownerID,
		"pairs": len(settings.Tokens),
	}).Info("game created")
	return g, nil
}

// broadcastFn returns a function suitable for MatchGame.BroadcastFn. It only
// queues work, so it is safe under the game lock.
func (gs *GameServer) broadcastFn() func(ev game.GameEvent) {
	return func(ev game.GameEvent) {
		gs.Hub.Broadcast(ev.GameID, game.EncodeEvent(ev))
		if gs.Events != nil {
			gs.Events.PublishEvent(ev)
		}
	}
}

func (gs *GameServer) onComplete(summary game.CompletionSummary) {
	gs.Logger.WithFields(logrus.Fields{
		"game":       summary.GameID,
		"generation": summary.Generation,
		"turns":      summary.Turns,
		"pairs":      summary.Pairs,
		"elapsed":    summary.Elapsed,
	}).Info("game completed")
	if gs.Events != nil {
		gs.Events.PublishCompletion(summary)
	}
}

// makeRoomFor evicts the owner's idlest detached games until one more fits.
// Assumes createMu is held.
func (gs *GameServer) makeRoomFor(ownerID uuid.UUID) error {
	if gs.MaxGamesPerOwner <= 0 {
		return nil
	}
	games := gs.GameStore.GamesByOwner(ownerID)
	for len(games) >= gs.MaxGamesPerOwner {
		victim := -1
		var oldest time.Time
		for i, g := range games {
			if gs.Hub.Count(g.ID) > 0 {
				continue
			}
			if last := g.LastActivity(); victim < 0 || last.Before(oldest) {
				victim, oldest = i, last
			}
		}
		if victim < 0 {
			return ErrTooManyGames
		}
		gs.evict(games[victim], "owner game limit")
		games = append(games[:victim], games[victim+1:]...)
	}
	return nil
}

// EvictIdle removes every game without attached clients whose last activity
// is older than Inactivity. It returns how many games were removed.
func (gs *GameServer) EvictIdle(now time.Time) int {
	if gs.Inactivity <= 0 {
		return 0
	}
	n := 0
	for _, g := range gs.GameStore.Games() {
		if gs.Hub.Count(g.ID) > 0 || now.Sub(g.LastActivity()) <= gs.Inactivity {
			continue
		}
		gs.evict(g, "inactive")
		n++
	}
	return n
}

// RunEviction calls EvictIdle every interval until ctx is done.
func (gs *GameServer) RunEviction(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := gs.EvictIdle(now); n > 0 {
				gs.Logger.WithField("count", n).Debug("evicted idle games")
			}
		}
	}
}

func (gs *GameServer) evict(g *game.MatchGame, reason string) {
	gs.GameStore.DeleteGame(g.ID)
	gs.Logger.WithFields(logrus.Fields{
		"game":   g.ID,
		"owner":  g.OwnerID,
		"reason": reason,
	}).Info("game evicted")
}
