package models

// GameAction captures a player's intent against a game.
type GameAction struct {
	ActionType string                 `json:"action_type"`
	Payload    map[string]interface{} `json:"payload"`
}

// Action types understood by the match engine.
const (
	ActionReveal  = "action_reveal"
	ActionNewGame = "action_new_game"
)
