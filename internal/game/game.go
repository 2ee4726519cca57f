package game

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/magicmatch/internal/cache"
	"github.com/jason-s-yu/magicmatch/internal/models"
	"github.com/sirupsen/logrus"
)

// CompletionSummary describes a finished game generation.
type CompletionSummary struct {
	GameID     uuid.UUID     `json:"game_id"`
	OwnerID    uuid.UUID     `json:"owner_id"`
	Generation int           `json:"generation"`
	Turns      int           `json:"turns"`
	Pairs      int           `json:"pairs"`
	Elapsed    time.Duration `json:"elapsed"`
}

// OnCompleteFunc handles a game whose deck has become fully matched.
type OnCompleteFunc func(summary CompletionSummary)

// MatchGame holds the entire state for a single pairs-matching game in memory.
//
// A turn moves Idle -> OnePending -> Evaluating -> Idle. While evaluating,
// input is locked. A mismatch stays face-up for Settings.MismatchDelay before
// the selection clears; that resolution is bound to the generation it was
// scheduled in, so restarting the game makes it a no-op.
type MatchGame struct {
	ID      uuid.UUID
	OwnerID uuid.UUID

	Settings Settings

	deck        []*models.Card
	turns       int
	choiceOne   *models.Card
	choiceTwo   *models.Card
	inputLocked bool

	// generation increments on every new deck.
	generation         int
	startedAt          time.Time
	lastActivity       time.Time
	completionReported bool
	pendingResolve     Timer
	actionIndex        int

	Mu sync.Mutex

	// Scheduler runs the deferred mismatch resolution. Defaults to ClockScheduler.
	Scheduler Scheduler

	// Rand drives deck shuffles. Set a seeded source for reproducible decks.
	Rand *rand.Rand

	Logger logrus.FieldLogger

	// BroadcastFn receives every game event. It is called while the game lock
	// is held and must not call back into the game.
	BroadcastFn func(ev GameEvent)

	// OnComplete is invoked once per generation when the deck is fully matched,
	// under the same locking rule as BroadcastFn.
	OnComplete OnCompleteFunc

	// RecordActionFn receives the action log. Defaults to the Redis historian queue.
	RecordActionFn func(rec cache.GameActionRecord)
}

// NewMatchGame builds a game for ownerID and deals its first deck.
// It fails only when settings carry an unusable token set.
func NewMatchGame(ownerID uuid.UUID, settings Settings) (*MatchGame, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generate game id: %w", err)
	}
	g := &MatchGame{
		ID:             id,
		OwnerID:        ownerID,
		Settings:       settings,
		Scheduler:      ClockScheduler,
		Rand:           rand.New(rand.NewSource(time.Now().UnixNano())),
		Logger:         logrus.StandardLogger(),
		RecordActionFn: cache.PublishGameActionAsync,
	}
	if err := g.NewGame(settings.Tokens); err != nil {
		return nil, err
	}
	return g, nil
}

// NewGame deals a fresh deck from tokens and resets turns, selections and the
// input lock. Any pending mismatch resolution is cancelled.
func (g *MatchGame) NewGame(tokens []models.Token) error {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	return g.newGameLocked(tokens)
}

// Restart deals a fresh deck from the game's configured tokens.
func (g *MatchGame) Restart() error {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	return g.newGameLocked(g.Settings.Tokens)
}

// newGameLocked assumes the lock is held.
func (g *MatchGame) newGameLocked(tokens []models.Token) error {
	if err := ValidateTokens(tokens); err != nil {
		return fmt.Errorf("new game: %w", err)
	}
	deck, err := BuildDeck(tokens, g.Rand)
	if err != nil {
		return fmt.Errorf("new game: %w", err)
	}

	g.cancelPendingResolve()
	g.generation++
	g.deck = deck
	g.turns = 0
	g.choiceOne = nil
	g.choiceTwo = nil
	g.inputLocked = false
	g.completionReported = false
	g.startedAt = time.Now()
	g.lastActivity = g.startedAt
	g.Settings.Tokens = append([]models.Token(nil), tokens...)

	g.log().WithField("pairs", len(tokens)).Info("dealt new deck")
	g.fireEvent(GameEvent{
		Type:    EventGameNew,
		Payload: map[string]interface{}{"pairs": len(tokens)},
	})

	order := make([]string, len(deck))
	for i, c := range deck {
		order[i] = string(c.Token)
	}
	g.logAction(string(EventGameNew), map[string]interface{}{"deck": order})
	return nil
}

// Reveal applies a player's intent to flip the card with the given instance ID.
// Intents that arrive while input is locked, target a matched card, repeat the
// current first choice, or arrive after completion are ignored; the returned
// outcome and a reveal_rejected event say why.
func (g *MatchGame) Reveal(cardID uuid.UUID) RevealOutcome {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	return g.revealLocked(cardID)
}

// revealLocked assumes the lock is held.
func (g *MatchGame) revealLocked(cardID uuid.UUID) RevealOutcome {
	g.lastActivity = time.Now()
	card, idx := g.cardByID(cardID)
	if outcome, rejected := g.rejection(card); rejected {
		g.rejectReveal(cardID, outcome)
		return outcome
	}

	ev := GameEvent{
		Type: EventCardRevealed,
		Card: &EventCard{ID: card.ID, Token: card.Token, Idx: &idx},
	}
	if g.choiceOne == nil {
		g.choiceOne = card
		g.fireEvent(ev)
		g.logAction(string(EventCardRevealed), map[string]interface{}{"cardId": card.ID, "choice": 1})
		return RevealFirst
	}

	g.choiceTwo = card
	g.inputLocked = true
	g.fireEvent(ev)
	g.logAction(string(EventCardRevealed), map[string]interface{}{"cardId": card.ID, "choice": 2})
	g.evaluate()
	return RevealSecond
}

// rejection decides whether a reveal of card must be ignored.
// Assumes the lock is held.
func (g *MatchGame) rejection(card *models.Card) (RevealOutcome, bool) {
	switch {
	case card == nil:
		return RejectedUnknownCard, true
	case AllMatched(g.deck):
		return RejectedCompleted, true
	case g.inputLocked:
		return RejectedLocked, true
	case card.Matched:
		return RejectedMatched, true
	case g.choiceOne != nil && g.choiceOne.ID == card.ID:
		return RejectedSameCard, true
	}
	return 0, false
}

// rejectReveal assumes the lock is held.
func (g *MatchGame) rejectReveal(cardID uuid.UUID, outcome RevealOutcome) {
	g.log().WithFields(logrus.Fields{
		"card":   cardID,
		"reason": outcome.String(),
	}).Debug("reveal ignored")
	g.fireEvent(GameEvent{
		Type:    EventRevealRejected,
		Card:    &EventCard{ID: cardID},
		Payload: map[string]interface{}{"reason": outcome.String()},
	})
}

// evaluate compares the two pending choices. Assumes the lock is held and both
// choices are set.
func (g *MatchGame) evaluate() {
	one, two := g.choiceOne, g.choiceTwo
	pair := func() (*EventCard, *EventCard) {
		return &EventCard{ID: one.ID, Token: one.Token}, &EventCard{ID: two.ID, Token: two.Token}
	}

	if one.Token == two.Token {
		for _, c := range g.deck {
			if c.Token == one.Token {
				c.Matched = true
			}
		}
		c1, c2 := pair()
		g.fireEvent(GameEvent{Type: EventPairMatched, Card1: c1, Card2: c2})
		g.logAction(string(EventPairMatched), map[string]interface{}{"token": one.Token})
		g.resolveTurn()
		return
	}

	c1, c2 := pair()
	g.fireEvent(GameEvent{
		Type:    EventPairMismatched,
		Card1:   c1,
		Card2:   c2,
		Payload: map[string]interface{}{"hideAfterMs": g.Settings.MismatchDelay.Milliseconds()},
	})
	g.logAction(string(EventPairMismatched), map[string]interface{}{"card1": one.ID, "card2": two.ID})

	gen := g.generation
	g.pendingResolve = g.scheduler().AfterFunc(g.Settings.MismatchDelay, func() {
		g.resolveMismatch(gen)
	})
}

// resolveMismatch is the deferred half of a mismatch. It acquires the lock and
// does nothing if the game has moved to another generation since scheduling.
func (g *MatchGame) resolveMismatch(gen int) {
	g.Mu.Lock()
	defer g.Mu.Unlock()

	if gen != g.generation || !g.inputLocked || g.choiceTwo == nil {
		g.log().WithField("scheduledGeneration", gen).Debug("stale mismatch resolution ignored")
		return
	}
	g.pendingResolve = nil
	g.resolveTurn()
}

// resolveTurn clears the selection, counts the turn and unlocks input, then
// reports completion if this resolution matched the last pair.
// Assumes the lock is held.
func (g *MatchGame) resolveTurn() {
	g.choiceOne = nil
	g.choiceTwo = nil
	g.turns++
	g.inputLocked = false

	g.fireEvent(GameEvent{
		Type:    EventTurnResolved,
		Payload: map[string]interface{}{"turns": g.turns},
	})

	if !AllMatched(g.deck) || g.completionReported {
		return
	}
	g.completionReported = true
	summary := CompletionSummary{
		GameID:     g.ID,
		OwnerID:    g.OwnerID,
		Generation: g.generation,
		Turns:      g.turns,
		Pairs:      len(g.deck) / 2,
		Elapsed:    time.Since(g.startedAt),
	}
	g.log().WithFields(logrus.Fields{"turns": g.turns, "elapsed": summary.Elapsed}).Info("all pairs matched")
	g.fireEvent(GameEvent{
		Type:    EventGameCompleted,
		Payload: map[string]interface{}{"turns": g.turns, "pairs": summary.Pairs},
	})
	g.logAction(string(EventGameCompleted), map[string]interface{}{"turns": g.turns, "pairs": summary.Pairs})
	if g.OnComplete != nil {
		g.OnComplete(summary)
	}
}

// HandlePlayerAction routes a GameAction to Reveal or NewGame. It returns an
// error only for malformed actions; ignored reveals are reported as events.
func (g *MatchGame) HandlePlayerAction(action models.GameAction) error {
	switch action.ActionType {
	case models.ActionReveal:
		idStr, _ := action.Payload["id"].(string)
		cardID, err := uuid.Parse(idStr)
		if err != nil {
			return fmt.Errorf("reveal: invalid card id %q: %w", idStr, err)
		}
		g.Reveal(cardID)
		return nil
	case models.ActionNewGame:
		return g.Restart()
	default:
		return fmt.Errorf("unknown action type %q", action.ActionType)
	}
}

// Close cancels any pending mismatch resolution. The game stays readable.
func (g *MatchGame) Close() {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	g.cancelPendingResolve()
}

// Turns returns the number of resolved pairs in the current generation.
func (g *MatchGame) Turns() int {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	return g.turns
}

// Completed reports whether every card in the current deck is matched.
func (g *MatchGame) Completed() bool {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	return AllMatched(g.deck)
}

// LastActivity is when the game last received an intent or a new deck.
func (g *MatchGame) LastActivity() time.Time {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	return g.lastActivity
}

// InputLocked reports whether a pair is being evaluated.
func (g *MatchGame) InputLocked() bool {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	return g.inputLocked
}

// Generation returns the deck generation, starting at 1 for the first deal.
func (g *MatchGame) Generation() int {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	return g.generation
}

// Cards returns a copy of the current deck in table order.
func (g *MatchGame) Cards() []models.Card {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	out := make([]models.Card, len(g.deck))
	for i, c := range g.deck {
		out[i] = *c
	}
	return out
}

// cancelPendingResolve assumes the lock is held.
func (g *MatchGame) cancelPendingResolve() {
	if g.pendingResolve != nil {
		g.pendingResolve.Stop()
		g.pendingResolve = nil
	}
}

// cardByID assumes the lock is held.
func (g *MatchGame) cardByID(id uuid.UUID) (*models.Card, int) {
	for i, c := range g.deck {
		if c.ID == id {
			return c, i
		}
	}
	return nil, -1
}

// isSelected assumes the lock is held.
func (g *MatchGame) isSelected(id uuid.UUID) bool {
	return (g.choiceOne != nil && g.choiceOne.ID == id) ||
		(g.choiceTwo != nil && g.choiceTwo.ID == id)
}

// pendingCount assumes the lock is held.
func (g *MatchGame) pendingCount() int {
	n := 0
	if g.choiceOne != nil {
		n++
	}
	if g.choiceTwo != nil {
		n++
	}
	return n
}

func (g *MatchGame) scheduler() Scheduler {
	if g.Scheduler == nil {
		return ClockScheduler
	}
	return g.Scheduler
}

func (g *MatchGame) log() logrus.FieldLogger {
	l := g.Logger
	if l == nil {
		l = logrus.StandardLogger()
	}
	return l.WithFields(logrus.Fields{"game": g.ID, "generation": g.generation})
}

// fireEvent stamps and broadcasts an event. Assumes the lock is held.
func (g *MatchGame) fireEvent(ev GameEvent) {
	if g.BroadcastFn == nil {
		return
	}
	ev.GameID = g.ID
	ev.Generation = g.generation
	g.BroadcastFn(ev)
}

// logAction hands the action to the historian. Assumes the lock is held.
func (g *MatchGame) logAction(actionType string, payload map[string]interface{}) {
	g.actionIndex++
	if g.RecordActionFn == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}
	g.RecordActionFn(cache.GameActionRecord{
		GameID:        g.ID,
		Generation:    g.generation,
		ActionIndex:   g.actionIndex,
		ActorUserID:   g.OwnerID,
		ActionType:    actionType,
		ActionPayload: payload,
		Timestamp:     time.Now().UnixMilli(),
	})
}
