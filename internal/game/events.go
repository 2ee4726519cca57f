package game

import (
	"github.com/google/uuid"
	"github.com/jason-s-yu/magicmatch/internal/models"
)

// GameEventType is an enum-like type for broadcasting game state changes.
type GameEventType string

const (
	EventGameNew          GameEventType = "game_new"           // fresh deck dealt
	EventCardRevealed     GameEventType = "card_revealed"      // a card became a pending choice
	EventRevealRejected   GameEventType = "reveal_rejected"    // reveal intent ignored; payload carries the reason
	EventPairMatched      GameEventType = "pair_matched"       // both choices share a token
	EventPairMismatched   GameEventType = "pair_mismatched"    // choices differ; flip back after the delay
	EventTurnResolved     GameEventType = "turn_resolved"      // selections cleared, turn counter bumped
	EventGameCompleted    GameEventType = "game_completed"     // every card is matched
	EventPrivateSyncState GameEventType = "private_sync_state" // full snapshot, sent on connect
)

// EventCard identifies a card in an event. Token is only set for face-up cards.
type EventCard struct {
	ID    uuid.UUID    `json:"id"`
	Token models.Token `json:"token,omitempty"`
	Idx   *int         `json:"idx,omitempty"`
}

// GameEvent holds data about a state change in the format sent to clients.
type GameEvent struct {
	Type       GameEventType `json:"type"`
	GameID     uuid.UUID     `json:"game_id"`
	Generation int           `json:"generation"`
	Card       *EventCard    `json:"card,omitempty"`
	Card1      *EventCard    `json:"card1,omitempty"`
	Card2      *EventCard    `json:"card2,omitempty"`

	Payload map[string]interface{} `json:"payload,omitempty"`

	State *GameState `json:"state,omitempty"`
}

// RevealOutcome describes what a reveal intent did. Rejections are ordinary
// outcomes of fast player input, not errors.
type RevealOutcome int

const (
	RevealFirst RevealOutcome = iota
	RevealSecond
	RejectedUnknownCard
	RejectedCompleted
	RejectedLocked
	RejectedMatched
	RejectedSameCard
)

// Accepted reports whether the reveal changed the selection.
func (o RevealOutcome) Accepted() bool {
	return o == RevealFirst || o == RevealSecond
}

func (o RevealOutcome) String() string {
	switch o {
	case RevealFirst:
		return "first_choice"
	case RevealSecond:
		return "second_choice"
	case RejectedUnknownCard:
		return "unknown_card"
	case RejectedCompleted:
		return "game_completed"
	case RejectedLocked:
		return "input_locked"
	case RejectedMatched:
		return "already_matched"
	case RejectedSameCard:
		return "already_selected"
	default:
		return "unknown"
	}
}
