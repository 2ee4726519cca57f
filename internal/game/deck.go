package game

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/magicmatch/internal/models"
)

var (
	// ErrNoTokens is returned when a game is configured without any tokens.
	ErrNoTokens = errors.New("token set is empty")

	// ErrDuplicateToken is returned when a token appears more than once in a token set.
	ErrDuplicateToken = errors.New("token set contains a duplicate")
)

// ValidateTokens checks that tokens is a usable game configuration:
// non-empty and free of duplicates.
func ValidateTokens(tokens []models.Token) error {
	if len(tokens) == 0 {
		return ErrNoTokens
	}
	return checkDuplicates(tokens)
}

func checkDuplicates(tokens []models.Token) error {
	seen := make(map[models.Token]struct{}, len(tokens))
	for _, t := range tokens {
		if _, dup := seen[t]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateToken, t)
		}
		seen[t] = struct{}{}
	}
	return nil
}

// BuildDeck lays out two face-down cards per token, each with a fresh instance ID,
// and shuffles them with r. A nil r falls back to a time-seeded source.
// An empty token set yields an empty deck.
func BuildDeck(tokens []models.Token, r *rand.Rand) ([]*models.Card, error) {
	if err := checkDuplicates(tokens); err != nil {
		return nil, err
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	deck := make([]*models.Card, 0, 2*len(tokens))
	for copyIdx := 0; copyIdx < 2; copyIdx++ {
		for _, t := range tokens {
			deck = append(deck, &models.Card{ID: uuid.New(), Token: t})
		}
	}

	// rand.Shuffle is a Fisher-Yates pass, so every permutation is equally likely.
	r.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
	return deck, nil
}

// AllMatched reports whether every card in deck has been matched.
// An empty deck is trivially all matched.
func AllMatched(deck []*models.Card) bool {
	for _, c := range deck {
		if !c.Matched {
			return false
		}
	}
	return true
}
