package game

import (
	"github.com/google/uuid"
	"github.com/jason-s-yu/magicmatch/internal/models"
)

// CardView is one deck slot as the view sees it. Token is withheld while the
// card is face-down.
type CardView struct {
	ID       uuid.UUID    `json:"id"`
	Idx      int          `json:"idx"`
	FaceUp   bool         `json:"faceUp"`
	Matched  bool         `json:"matched"`
	Selected bool         `json:"selected"`
	Token    models.Token `json:"token,omitempty"`
}

// GameState is a read-only snapshot of a game, sufficient to render every card,
// the turn counter and the win indicator.
type GameState struct {
	GameID      uuid.UUID  `json:"game_id"`
	Generation  int        `json:"generation"`
	Turns       int        `json:"turns"`
	Pairs       int        `json:"pairs"`
	Pending     int        `json:"pending"`
	InputLocked bool       `json:"inputLocked"`
	Completed   bool       `json:"completed"`
	Cards       []CardView `json:"cards"`
}

// Snapshot returns the current state of the game.
func (g *MatchGame) Snapshot() GameState {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	return g.snapshotLocked()
}

// SyncEvent wraps the current snapshot in a private_sync_state event.
func (g *MatchGame) SyncEvent() GameEvent {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	state := g.snapshotLocked()
	return GameEvent{
		Type:       EventPrivateSyncState,
		GameID:     g.ID,
		Generation: g.generation,
		State:      &state,
	}
}

// snapshotLocked assumes the lock is held.
func (g *MatchGame) snapshotLocked() GameState {
	st := GameState{
		GameID:      g.ID,
		Generation:  g.generation,
		Turns:       g.turns,
		Pairs:       len(g.deck) / 2,
		Pending:     g.pendingCount(),
		InputLocked: g.inputLocked,
		Completed:   AllMatched(g.deck),
		Cards:       make([]CardView, len(g.deck)),
	}
	for i, c := range g.deck {
		selected := g.isSelected(c.ID)
		cv := CardView{
			ID:       c.ID,
			Idx:      i,
			FaceUp:   selected || c.Matched,
			Matched:  c.Matched,
			Selected: selected,
		}
		if cv.FaceUp {
			cv.Token = c.Token
		}
		st.Cards[i] = cv
	}
	return st
}
