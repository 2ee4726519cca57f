package game

import (
	"sync"

	"github.com/google/uuid"
)

// GameStore is an in-memory registry of live games.
type GameStore struct {
	mu    sync.Mutex
	games map[uuid.UUID]*MatchGame
}

func NewGameStore() *GameStore {
	return &GameStore{
		games: make(map[uuid.UUID]*MatchGame),
	}
}

func (s *GameStore) AddGame(game *MatchGame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[game.ID] = game
}

func (s *GameStore) GetGame(id uuid.UUID) (*MatchGame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, exists := s.games[id]
	return g, exists
}

// DeleteGame removes the game and cancels any resolution it still has pending.
func (s *GameStore) DeleteGame(id uuid.UUID) {
	s.mu.Lock()
	g, exists := s.games[id]
	delete(s.games, id)
	s.mu.Unlock()
	if exists {
		g.Close()
	}
}

// GamesByOwner returns every game created by the given player.
func (s *GameStore) GamesByOwner(ownerID uuid.UUID) []*MatchGame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*MatchGame
	for _, g := range s.games {
		if g.OwnerID == ownerID {
			out = append(out, g)
		}
	}
	return out
}

// Games returns every live game.
func (s *GameStore) Games() []*MatchGame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*MatchGame, 0, len(s.games))
	for _, g := range s.games {
		out = append(out, g)
	}
	return out
}

func (s *GameStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.games)
}
