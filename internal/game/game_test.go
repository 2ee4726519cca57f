// internal/game/game_test.go
package game

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/magicmatch/internal/cache"
	"github.com/jason-s-yu/magicmatch/internal/models"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBroadcaster collects events instead of sending them over WS.
type mockBroadcaster struct {
	mu        sync.Mutex
	allEvents []GameEvent
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{}
}

func (mb *mockBroadcaster) broadcastFn(ev GameEvent) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.allEvents = append(mb.allEvents, ev)
}

func (mb *mockBroadcaster) clear() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.allEvents = nil
}

func (mb *mockBroadcaster) getLastEvent() *GameEvent {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if len(mb.allEvents) == 0 {
		return nil
	}
	return &mb.allEvents[len(mb.allEvents)-1]
}

func (mb *mockBroadcaster) types() []GameEventType {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	out := make([]GameEventType, len(mb.allEvents))
	for i, ev := range mb.allEvents {
		out[i] = ev.Type
	}
	return out
}

func (mb *mockBroadcaster) ofType(t GameEventType) []GameEvent {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	var out []GameEvent
	for _, ev := range mb.allEvents {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// manualScheduler holds callbacks until the test fires them.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	s       *manualScheduler
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fire runs every timer that is neither stopped nor fired and returns how many ran.
func (s *manualScheduler) fire() int {
	s.mu.Lock()
	var due []*manualTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	for _, t := range due {
		t.f()
	}
	return len(due)
}

func (s *manualScheduler) last() *manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return nil
	}
	return s.timers[len(s.timers)-1]
}

// actionRecorder captures the historian stream.
type actionRecorder struct {
	mu      sync.Mutex
	records []cache.GameActionRecord
}

func (r *actionRecorder) record(rec cache.GameActionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

type testGame struct {
	*MatchGame
	mb        *mockBroadcaster
	sched     *manualScheduler
	actions   *actionRecorder
	summaries []CompletionSummary
	hook      *logtest.Hook
}

// setupTestGame builds a game with mock hooks. Its first deck is dealt before
// the hooks are attached, so the recorders start empty.
func setupTestGame(t *testing.T, tokens ...models.Token) *testGame {
	t.Helper()
	g, err := NewMatchGame(uuid.New(), Settings{Tokens: tokens, MismatchDelay: DefaultMismatchDelay})
	require.NoError(t, err)

	logger, hook := logtest.NewNullLogger()
	tg := &testGame{
		MatchGame: g,
		mb:        newMockBroadcaster(),
		sched:     &manualScheduler{},
		actions:   &actionRecorder{},
		hook:      hook,
	}
	g.Logger = logger
	g.Rand = rand.New(rand.NewSource(1))
	g.Scheduler = tg.sched
	g.BroadcastFn = tg.mb.broadcastFn
	g.RecordActionFn = tg.actions.record
	g.OnComplete = func(s CompletionSummary) { tg.summaries = append(tg.summaries, s) }
	return tg
}

// arrange replaces the deck with face-down cards in the given order and
// returns their IDs.
func (tg *testGame) arrange(tokens ...models.Token) []uuid.UUID {
	tg.Mu.Lock()
	defer tg.Mu.Unlock()
	tg.deck = make([]*models.Card, len(tokens))
	ids := make([]uuid.UUID, len(tokens))
	for i, tok := range tokens {
		tg.deck[i] = &models.Card{ID: uuid.New(), Token: tok}
		ids[i] = tg.deck[i].ID
	}
	return ids
}

func TestNewMatchGame_DealsFirstDeck(t *testing.T) {
	g, err := NewMatchGame(uuid.New(), DefaultSettings())
	require.NoError(t, err)
	defer g.Close()

	assert.Equal(t, 1, g.Generation())
	assert.Equal(t, 0, g.Turns())
	assert.False(t, g.InputLocked())
	assert.False(t, g.Completed())
	assert.Len(t, g.Cards(), 2*len(DefaultTokens))
}

func TestNewMatchGame_RejectsBadTokens(t *testing.T) {
	_, err := NewMatchGame(uuid.New(), Settings{})
	assert.ErrorIs(t, err, ErrNoTokens)

	_, err = NewMatchGame(uuid.New(), Settings{Tokens: []models.Token{"a", "a"}})
	assert.ErrorIs(t, err, ErrDuplicateToken)
}

func TestSinglePair_MatchCompletesGame(t *testing.T) {
	tg := setupTestGame(t, "a")
	cards := tg.Cards()
	require.Len(t, cards, 2)

	assert.Equal(t, RevealFirst, tg.Reveal(cards[0].ID))
	assert.Equal(t, RevealSecond, tg.Reveal(cards[1].ID))

	assert.Equal(t, 1, tg.Turns())
	assert.True(t, tg.Completed())
	assert.False(t, tg.InputLocked())
	assert.Equal(t, []GameEventType{
		EventCardRevealed, EventCardRevealed, EventPairMatched, EventTurnResolved, EventGameCompleted,
	}, tg.mb.types())

	require.Len(t, tg.summaries, 1)
	assert.Equal(t, tg.ID, tg.summaries[0].GameID)
	assert.Equal(t, 1, tg.summaries[0].Turns)
	assert.Equal(t, 1, tg.summaries[0].Pairs)
	assert.Zero(t, tg.sched.fire(), "a match must not schedule a flip-back")
}

func TestTwoPairs_MismatchThenMatches(t *testing.T) {
	tg := setupTestGame(t, "a", "b")
	ids := tg.arrange("a", "b", "a", "b")

	tg.Reveal(ids[0])
	tg.Reveal(ids[1])

	st := tg.Snapshot()
	assert.True(t, st.InputLocked)
	assert.Equal(t, 2, st.Pending)
	assert.Equal(t, 0, st.Turns)
	mismatch := tg.mb.getLastEvent()
	require.NotNil(t, mismatch)
	assert.Equal(t, EventPairMismatched, mismatch.Type)
	assert.EqualValues(t, 500, mismatch.Payload["hideAfterMs"])
	assert.Equal(t, DefaultMismatchDelay, tg.sched.last().d)

	assert.Equal(t, RejectedLocked, tg.Reveal(ids[2]))
	assert.Equal(t, 2, tg.Snapshot().Pending)

	require.Equal(t, 1, tg.sched.fire())
	st = tg.Snapshot()
	assert.False(t, st.InputLocked)
	assert.Equal(t, 0, st.Pending)
	assert.Equal(t, 1, st.Turns)
	for _, c := range st.Cards {
		assert.False(t, c.FaceUp)
	}

	tg.Reveal(ids[0])
	tg.Reveal(ids[2])
	assert.Equal(t, 2, tg.Turns())
	assert.False(t, tg.Completed())

	tg.Reveal(ids[1])
	tg.Reveal(ids[3])
	assert.Equal(t, 3, tg.Turns())
	assert.True(t, tg.Completed())
	assert.Len(t, tg.mb.ofType(EventPairMatched), 2)
	assert.Len(t, tg.mb.ofType(EventGameCompleted), 1)
	assert.Len(t, tg.summaries, 1)
}

func TestReveal_SameCardTwiceIsIgnored(t *testing.T) {
	tg := setupTestGame(t, "a", "b")
	ids := tg.arrange("a", "b", "a", "b")

	tg.Reveal(ids[0])
	tg.mb.clear()
	assert.Equal(t, RejectedSameCard, tg.Reveal(ids[0]))

	st := tg.Snapshot()
	assert.Equal(t, 1, st.Pending)
	assert.False(t, st.InputLocked)
	assert.Equal(t, 0, st.Turns)

	ev := tg.mb.getLastEvent()
	require.NotNil(t, ev)
	assert.Equal(t, EventRevealRejected, ev.Type)
	assert.Equal(t, "already_selected", ev.Payload["reason"])
}

func TestReveal_MatchedCardIsIgnored(t *testing.T) {
	tg := setupTestGame(t, "a", "b")
	ids := tg.arrange("a", "b", "a", "b")
	tg.Reveal(ids[0])
	tg.Reveal(ids[2])
	require.Equal(t, 1, tg.Turns())

	assert.Equal(t, RejectedMatched, tg.Reveal(ids[0]))
	assert.Equal(t, RejectedMatched, tg.Reveal(ids[2]))
	st := tg.Snapshot()
	assert.Equal(t, 1, st.Turns)
	assert.Equal(t, 0, st.Pending)
	assert.True(t, st.Cards[0].Matched)
}

func TestReveal_UnknownCard(t *testing.T) {
	tg := setupTestGame(t, "a", "b")
	assert.Equal(t, RejectedUnknownCard, tg.Reveal(uuid.New()))
	assert.Equal(t, 0, tg.Snapshot().Pending)
	assert.False(t, RejectedUnknownCard.Accepted())
}

func TestReveal_AfterCompletionIsIgnored(t *testing.T) {
	tg := setupTestGame(t, "a")
	cards := tg.Cards()
	tg.Reveal(cards[0].ID)
	tg.Reveal(cards[1].ID)
	require.True(t, tg.Completed())

	assert.Equal(t, RejectedCompleted, tg.Reveal(cards[0].ID))
	assert.Equal(t, 1, tg.Turns())
	assert.Len(t, tg.summaries, 1)
}

func TestNewGame_CancelsPendingMismatch(t *testing.T) {
	tg := setupTestGame(t, "a", "b")
	ids := tg.arrange("a", "b", "a", "b")
	tg.Reveal(ids[0])
	tg.Reveal(ids[1])
	pending := tg.sched.last()
	require.NotNil(t, pending)

	require.NoError(t, tg.NewGame([]models.Token{"x", "y", "z"}))
	assert.True(t, pending.stopped)
	assert.Equal(t, 2, tg.Generation())

	// A resolution that was already running when the deck was replaced must not
	// touch the new generation.
	pending.f()

	st := tg.Snapshot()
	assert.Equal(t, 0, st.Turns)
	assert.Equal(t, 0, st.Pending)
	assert.False(t, st.InputLocked)
	assert.Equal(t, 3, st.Pairs)
	assert.Empty(t, tg.mb.ofType(EventTurnResolved))
}

func TestNewGame_ResetsState(t *testing.T) {
	tg := setupTestGame(t, "a", "b")
	before := tg.Cards()
	tg.Reveal(before[0].ID)

	require.NoError(t, tg.NewGame([]models.Token{"a", "b"}))

	after := tg.Cards()
	require.Len(t, after, 4)
	old := make(map[uuid.UUID]bool)
	for _, c := range before {
		old[c.ID] = true
	}
	for _, c := range after {
		assert.False(t, old[c.ID], "card IDs must be fresh for a new deck")
		assert.False(t, c.Matched)
	}
	st := tg.Snapshot()
	assert.Equal(t, 0, st.Turns)
	assert.Equal(t, 0, st.Pending)
	assert.False(t, st.Completed)

	ev := tg.mb.ofType(EventGameNew)
	require.Len(t, ev, 1)
	assert.Equal(t, 2, ev[0].Generation)
	assert.Equal(t, 2, ev[0].Payload["pairs"])
}

func TestNewGame_InvalidTokensKeepsCurrentDeck(t *testing.T) {
	tg := setupTestGame(t, "a", "b")
	before := tg.Cards()

	assert.ErrorIs(t, tg.NewGame(nil), ErrNoTokens)
	assert.ErrorIs(t, tg.NewGame([]models.Token{"a", "b", "a"}), ErrDuplicateToken)

	assert.Equal(t, 1, tg.Generation())
	assert.Equal(t, before, tg.Cards())
}

func TestRestart_UsesConfiguredTokens(t *testing.T) {
	tg := setupTestGame(t, "a", "b", "c")
	require.NoError(t, tg.Restart())
	assert.Equal(t, 2, tg.Generation())
	assert.Len(t, tg.Cards(), 6)
}

func TestCompletion_ReportedOncePerGeneration(t *testing.T) {
	tg := setupTestGame(t, "a")
	for gen := 0; gen < 2; gen++ {
		cards := tg.Cards()
		tg.Reveal(cards[0].ID)
		tg.Reveal(cards[1].ID)
		require.NoError(t, tg.Restart())
	}
	require.Len(t, tg.summaries, 2)
	assert.Equal(t, 1, tg.summaries[0].Generation)
	assert.Equal(t, 2, tg.summaries[1].Generation)
	assert.Len(t, tg.mb.ofType(EventGameCompleted), 2)
}

func TestTurnsIncreaseByOnePerResolution(t *testing.T) {
	tg := setupTestGame(t, "a", "b", "c")
	ids := tg.arrange("a", "b", "c", "a", "b", "c")

	// mismatch, mismatch, then clear the board
	plays := [][2]int{{0, 1}, {1, 2}, {0, 3}, {1, 4}, {2, 5}}
	for _, p := range plays {
		tg.Reveal(ids[p[0]])
		tg.Reveal(ids[p[1]])
		tg.sched.fire()
	}

	resolved := tg.mb.ofType(EventTurnResolved)
	require.Len(t, resolved, len(plays))
	for i, ev := range resolved {
		assert.Equal(t, i+1, ev.Payload["turns"])
	}
	assert.True(t, tg.Completed())
}

func TestHandlePlayerAction(t *testing.T) {
	tg := setupTestGame(t, "a", "b")
	ids := tg.arrange("a", "b", "a", "b")

	err := tg.HandlePlayerAction(models.GameAction{
		ActionType: models.ActionReveal,
		Payload:    map[string]interface{}{"id": ids[0].String()},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, tg.Snapshot().Pending)

	err = tg.HandlePlayerAction(models.GameAction{
		ActionType: models.ActionReveal,
		Payload:    map[string]interface{}{"id": "not-a-uuid"},
	})
	assert.Error(t, err)

	err = tg.HandlePlayerAction(models.GameAction{ActionType: models.ActionReveal})
	assert.Error(t, err)

	err = tg.HandlePlayerAction(models.GameAction{ActionType: "action_fly"})
	assert.Error(t, err)

	require.NoError(t, tg.HandlePlayerAction(models.GameAction{ActionType: models.ActionNewGame}))
	assert.Equal(t, 2, tg.Generation())
	assert.Equal(t, 0, tg.Snapshot().Pending)
}

func TestSnapshot_HidesFaceDownTokens(t *testing.T) {
	tg := setupTestGame(t, "a", "b")
	ids := tg.arrange("a", "b", "a", "b")

	for _, c := range tg.Snapshot().Cards {
		assert.Empty(t, c.Token)
		assert.False(t, c.FaceUp)
	}

	tg.Reveal(ids[1])
	st := tg.Snapshot()
	assert.Equal(t, models.Token("b"), st.Cards[1].Token)
	assert.True(t, st.Cards[1].Selected)
	assert.Empty(t, st.Cards[0].Token)

	tg.Reveal(ids[3])
	st = tg.Snapshot()
	assert.True(t, st.Cards[1].Matched)
	assert.True(t, st.Cards[3].FaceUp)
	assert.Equal(t, models.Token("b"), st.Cards[3].Token)
	assert.False(t, st.Cards[3].Selected)
	assert.Empty(t, st.Cards[2].Token)
}

func TestSyncEvent(t *testing.T) {
	tg := setupTestGame(t, "a", "b")
	ev := tg.SyncEvent()
	assert.Equal(t, EventPrivateSyncState, ev.Type)
	assert.Equal(t, tg.ID, ev.GameID)
	require.NotNil(t, ev.State)
	assert.Len(t, ev.State.Cards, 4)
	assert.Equal(t, 2, ev.State.Pairs)
}

func TestEventsCarryGameAndGeneration(t *testing.T) {
	tg := setupTestGame(t, "a", "b")
	ids := tg.arrange("a", "b", "a", "b")
	tg.Reveal(ids[0])
	require.NoError(t, tg.Restart())
	tg.Reveal(tg.Cards()[0].ID)

	events := tg.mb.allEvents
	require.Len(t, events, 3)
	assert.Equal(t, 1, events[0].Generation)
	assert.Equal(t, 2, events[1].Generation)
	assert.Equal(t, 2, events[2].Generation)
	for _, ev := range events {
		assert.Equal(t, tg.ID, ev.GameID)
	}
	require.NotNil(t, events[0].Card)
	require.NotNil(t, events[0].Card.Idx)
	assert.Equal(t, 0, *events[0].Card.Idx)
}

func TestActionLog(t *testing.T) {
	tg := setupTestGame(t, "a")
	require.NoError(t, tg.Restart())
	cards := tg.Cards()
	tg.Reveal(cards[0].ID)
	tg.Reveal(cards[1].ID)
	tg.Reveal(cards[0].ID) // rejected, not logged

	recs := tg.actions.records
	types := make([]string, len(recs))
	for i, r := range recs {
		types[i] = r.ActionType
		assert.Equal(t, tg.ID, r.GameID)
		assert.Equal(t, tg.OwnerID, r.ActorUserID)
		assert.Equal(t, 2, r.Generation)
		if i > 0 {
			assert.Greater(t, r.ActionIndex, recs[i-1].ActionIndex)
		}
	}
	assert.Equal(t, []string{"game_new", "card_revealed", "card_revealed", "pair_matched", "game_completed"}, types)
	assert.Equal(t, []string{"a", "a"}, recs[0].ActionPayload["deck"])
}

func TestCompletionIsLogged(t *testing.T) {
	tg := setupTestGame(t, "a")
	cards := tg.Cards()
	tg.Reveal(cards[0].ID)
	tg.Reveal(cards[1].ID)

	var found bool
	for _, e := range tg.hook.AllEntries() {
		if e.Message == "all pairs matched" {
			found = true
			assert.Equal(t, tg.ID, e.Data["game"])
		}
	}
	assert.True(t, found)
}

func TestClose_StopsPendingResolution(t *testing.T) {
	tg := setupTestGame(t, "a", "b")
	ids := tg.arrange("a", "b", "a", "b")
	tg.Reveal(ids[0])
	tg.Reveal(ids[1])

	tg.Close()
	assert.Zero(t, tg.sched.fire())
	assert.True(t, tg.InputLocked())
}

// TestConcurrentReveals plays with real timers from several goroutines and
// checks that no more than two cards are ever pending.
func TestConcurrentReveals(t *testing.T) {
	g, err := NewMatchGame(uuid.New(), Settings{Tokens: []models.Token{"a", "b", "c"}, MismatchDelay: time.Millisecond})
	require.NoError(t, err)
	logger, _ := logtest.NewNullLogger()
	g.Logger = logger
	g.RecordActionFn = nil

	var mu sync.Mutex
	maxPending := 0
	g.BroadcastFn = func(ev GameEvent) {
		// called under the game lock
		mu.Lock()
		if n := g.pendingCount(); n > maxPending {
			maxPending = n
		}
		mu.Unlock()
	}

	cards := g.Cards()
	deadline := time.Now().Add(5 * time.Second)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for !g.Completed() && time.Now().Before(deadline) {
				g.Reveal(cards[r.Intn(len(cards))].ID)
				time.Sleep(100 * time.Microsecond)
			}
		}(int64(w))
	}
	wg.Wait()

	assert.True(t, g.Completed())
	assert.LessOrEqual(t, maxPending, 2)
	assert.GreaterOrEqual(t, g.Turns(), 3)
}
