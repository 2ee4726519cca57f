package game

import (
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/magicmatch/internal/models"
)

// ErrInvalidSettings wraps every validation failure raised by Settings.Update.
var ErrInvalidSettings = errors.New("invalid game settings")

// DefaultMismatchDelay is how long a mismatched pair stays face-up.
const DefaultMismatchDelay = 500 * time.Millisecond

// DefaultTokens is the stock asset list.
var DefaultTokens = []models.Token{
	"cheeseburger",
	"fries",
	"hotdog",
	"ice-cream",
	"milkshake",
	"pizza",
}

// Settings is the per-game configuration: which tokens make up the deck and
// how long a mismatch is shown before it flips back.
type Settings struct {
	Tokens        []models.Token `json:"tokens"`
	MismatchDelay time.Duration  `json:"mismatchDelay"`
}

// DefaultSettings returns the stock configuration.
func DefaultSettings() Settings {
	return Settings{
		Tokens:        append([]models.Token(nil), DefaultTokens...),
		MismatchDelay: DefaultMismatchDelay,
	}
}

// Update applies the provided keys onto the settings. Keys that are absent are
// left untouched. Recognized keys: "tokens" (array of strings) and
// "mismatchDelayMs" (non-negative number).
func (s *Settings) Update(newSettings map[string]interface{}) error {
	if val, exists := newSettings["tokens"]; exists && val != nil {
		raw, ok := val.([]interface{})
		if !ok {
			return fmt.Errorf("%w: tokens must be an array", ErrInvalidSettings)
		}
		tokens := make([]models.Token, 0, len(raw))
		for _, item := range raw {
			str, ok := item.(string)
			if !ok || str == "" {
				return fmt.Errorf("%w: tokens must be non-empty strings", ErrInvalidSettings)
			}
			tokens = append(tokens, models.Token(str))
		}
		if err := ValidateTokens(tokens); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
		}
		s.Tokens = tokens
	}

	if val, exists := newSettings["mismatchDelayMs"]; exists && val != nil {
		var ms int
		switch v := val.(type) {
		case float64:
			ms = int(v)
		case int:
			ms = v
		default:
			return fmt.Errorf("%w: invalid type for mismatchDelayMs", ErrInvalidSettings)
		}
		if ms < 0 {
			return fmt.Errorf("%w: mismatchDelayMs must be non-negative", ErrInvalidSettings)
		}
		s.MismatchDelay = time.Duration(ms) * time.Millisecond
	}
	return nil
}

// ParseSettings applies newSettings onto a copy of current.
func ParseSettings(newSettings map[string]interface{}, current Settings) (Settings, error) {
	s := current
	s.Tokens = append([]models.Token(nil), current.Tokens...)
	err := s.Update(newSettings)
	return s, err
}
