package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/quizbot/internal/game"
	"github.com/cory-johannsen/quizbot/internal/storage/postgres"
	"github.com/cory-johannsen/quizbot/internal/testutil"
)

const testPeerID int64 = 2000000077

func setupGameStore(t *testing.T, bankSize int) (*postgres.GameStore, *postgres.QuestionRepository) {
	t.Helper()
	pool := testutil.NewPool(t)
	questions := postgres.NewQuestionRepository(pool)
	ctx := context.Background()
	for i := 0; i < bankSize; i++ {
		_, err := questions.Create(ctx, fmt.Sprintf("question %d", i), []game.Answer{
			{Title: fmt.Sprintf("top %d", i), Score: 43},
			{Title: fmt.Sprintf("mid %d", i), Score: 20},
			{Title: fmt.Sprintf("low %d", i), Score: 11},
		})
		require.NoError(t, err)
	}
	return postgres.NewGameStore(pool), questions
}

func TestGameStore_CreateSession(t *testing.T) {
	store, _ := setupGameStore(t, 5)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, testPeerID, 3)
	require.NoError(t, err)

	assert.Greater(t, sess.ID, int64(0))
	assert.Equal(t, testPeerID, sess.PeerID)
	assert.Equal(t, game.StateWaitingForPlayers, sess.State)
	assert.False(t, sess.StartedAt.IsZero())
	assert.Nil(t, sess.EndedAt)

	got, err := store.GetActiveSession(ctx, testPeerID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
}

func TestGameStore_CreateSession_DuplicateActive(t *testing.T) {
	store, _ := setupGameStore(t, 5)
	ctx := context.Background()

	_, err := store.CreateSession(ctx, testPeerID, 3)
	require.NoError(t, err)

	_, err = store.CreateSession(ctx, testPeerID, 3)
	assert.ErrorIs(t, err, game.ErrSessionExists)
}

func TestGameStore_CreateSession_AfterEnded(t *testing.T) {
	store, _ := setupGameStore(t, 5)
	ctx := context.Background()

	first, err := store.CreateSession(ctx, testPeerID, 3)
	require.NoError(t, err)
	require.NoError(t, store.SetSessionState(ctx, first.ID, game.StateEnded))

	second, err := store.CreateSession(ctx, testPeerID, 3)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestGameStore_CreateSession_BankTooSmall(t *testing.T) {
	store, _ := setupGameStore(t, 2)

	_, err := store.CreateSession(context.Background(), testPeerID, 3)
	assert.ErrorIs(t, err, game.ErrBankTooSmall)

	// The failed create must not leave a session behind.
	_, err = store.GetActiveSession(context.Background(), testPeerID)
	assert.ErrorIs(t, err, game.ErrNoActiveSession)
}

func TestGameStore_GetActiveSession_None(t *testing.T) {
	store, _ := setupGameStore(t, 0)

	_, err := store.GetActiveSession(context.Background(), testPeerID)
	assert.ErrorIs(t, err, game.ErrNoActiveSession)
}

func TestGameStore_Players(t *testing.T) {
	store, _ := setupGameStore(t, 0)
	ctx := context.Background()

	_, err := store.GetPlayer(ctx, 101)
	assert.ErrorIs(t, err, game.ErrPlayerNotFound)

	created, err := store.GetOrCreatePlayer(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, int64(101), created.VKID)

	again, err := store.GetOrCreatePlayer(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	got, err := store.GetPlayer(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func TestGameStore_Standings(t *testing.T) {
	store, _ := setupGameStore(t, 5)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, testPeerID, 3)
	require.NoError(t, err)
	player, err := store.GetOrCreatePlayer(ctx, 101)
	require.NoError(t, err)

	_, err = store.GetStanding(ctx, sess.ID, player.ID)
	assert.ErrorIs(t, err, game.ErrStandingNotFound)

	st, err := store.CreateStanding(ctx, sess.ID, player.ID, true)
	require.NoError(t, err)
	assert.True(t, st.IsCreator)
	assert.Zero(t, st.Points)
	assert.False(t, st.Eliminated)

	_, err = store.CreateStanding(ctx, sess.ID, player.ID, false)
	assert.ErrorIs(t, err, game.ErrStandingExists)

	require.NoError(t, store.AddPoints(ctx, sess.ID, player.ID, 43))
	require.NoError(t, store.AddPoints(ctx, sess.ID, player.ID, 20))
	st, err = store.GetStanding(ctx, sess.ID, player.ID)
	require.NoError(t, err)
	assert.Equal(t, 63, st.Points)
}

func TestGameStore_AddFailureEliminatesAtLimit(t *testing.T) {
	store, _ := setupGameStore(t, 5)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, testPeerID, 3)
	require.NoError(t, err)
	player, err := store.GetOrCreatePlayer(ctx, 101)
	require.NoError(t, err)
	_, err = store.CreateStanding(ctx, sess.ID, player.ID, true)
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		failures, eliminated, err := store.AddFailure(ctx, sess.ID, player.ID, 3)
		require.NoError(t, err)
		assert.Equal(t, want, failures)
		assert.Equal(t, want >= 3, eliminated)
	}

	// Elimination stays set on further misses.
	_, eliminated, err := store.AddFailure(ctx, sess.ID, player.ID, 3)
	require.NoError(t, err)
	assert.True(t, eliminated)
}

func TestGameStore_ActiveQuestionAndAdvance(t *testing.T) {
	store, _ := setupGameStore(t, 5)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, testPeerID, 3)
	require.NoError(t, err)

	seen := map[int64]bool{}
	for step := 0; step < 3; step++ {
		q, err := store.ActiveQuestion(ctx, sess.ID)
		require.NoError(t, err)
		assert.Len(t, q.Answers, game.AnswersPerQuestion)
		assert.False(t, seen[q.ID], "question %d repeated in roadmap", q.ID)
		seen[q.ID] = true

		next, advanced, ended, err := store.AdvanceRoadmap(ctx, sess.ID)
		require.NoError(t, err)
		assert.True(t, advanced)
		if step < 2 {
			require.NotNil(t, next)
			assert.False(t, ended)
		} else {
			assert.Nil(t, next)
			assert.True(t, ended)
		}
	}

	// The session ended with the roadmap.
	_, err = store.GetActiveSession(ctx, testPeerID)
	assert.ErrorIs(t, err, game.ErrNoActiveSession)
	_, err = store.ActiveQuestion(ctx, sess.ID)
	assert.ErrorIs(t, err, game.ErrNoActiveEntry)

	// Advancing an ended session reports not-advanced.
	_, advanced, _, err := store.AdvanceRoadmap(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, advanced)
}

func TestGameStore_SetSessionState_EndClosesActiveEntry(t *testing.T) {
	store, _ := setupGameStore(t, 5)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, testPeerID, 3)
	require.NoError(t, err)
	require.NoError(t, store.SetSessionState(ctx, sess.ID, game.StateInProgress))

	// An explicit end closes the entry the session was sitting on.
	require.NoError(t, store.SetSessionState(ctx, sess.ID, game.StateEnded))

	_, err = store.ActiveQuestion(ctx, sess.ID)
	assert.ErrorIs(t, err, game.ErrNoActiveEntry)
	_, err = store.GetActiveSession(ctx, testPeerID)
	assert.ErrorIs(t, err, game.ErrNoActiveSession)

	_, advanced, _, err := store.AdvanceRoadmap(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, advanced)
}

func TestGameStore_AdvanceRoadmap_ConcurrentRacersNeverOvershoot(t *testing.T) {
	store, _ := setupGameStore(t, 5)
	ctx := context.Background()

	const steps = 3
	sess, err := store.CreateSession(ctx, testPeerID, steps)
	require.NoError(t, err)

	// Race more callers than the roadmap has entries. Overlapping
	// transactions dedupe on the locked active entry, so the total number
	// of wins can never exceed the roadmap length.
	const racers = 8
	var wg sync.WaitGroup
	advances := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, advanced, _, err := store.AdvanceRoadmap(ctx, sess.ID)
			assert.NoError(t, err)
			advances <- advanced
		}()
	}
	wg.Wait()
	close(advances)

	won := 0
	for advanced := range advances {
		if advanced {
			won++
		}
	}
	require.GreaterOrEqual(t, won, 1)
	require.LessOrEqual(t, won, steps)

	// Draining the remaining entries ends the session exactly once.
	for step := won; step < steps; step++ {
		_, advanced, ended, err := store.AdvanceRoadmap(ctx, sess.ID)
		require.NoError(t, err)
		require.True(t, advanced)
		assert.Equal(t, step == steps-1, ended)
	}
	_, advanced, _, err := store.AdvanceRoadmap(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, advanced)
}

func TestGameStore_DecideWinner(t *testing.T) {
	store, _ := setupGameStore(t, 5)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, testPeerID, 3)
	require.NoError(t, err)

	alice, err := store.GetOrCreatePlayer(ctx, 101)
	require.NoError(t, err)
	bob, err := store.GetOrCreatePlayer(ctx, 202)
	require.NoError(t, err)
	_, err = store.CreateStanding(ctx, sess.ID, alice.ID, true)
	require.NoError(t, err)
	_, err = store.CreateStanding(ctx, sess.ID, bob.ID, false)
	require.NoError(t, err)

	require.NoError(t, store.AddPoints(ctx, sess.ID, bob.ID, 43))

	st, p, err := store.DecideWinner(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, st.PlayerID)
	assert.Equal(t, int64(202), p.VKID)
	assert.True(t, st.Winner)
}

func TestGameStore_DecideWinner_TieBreakEarliestJoin(t *testing.T) {
	store, _ := setupGameStore(t, 5)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, testPeerID, 3)
	require.NoError(t, err)

	alice, err := store.GetOrCreatePlayer(ctx, 101)
	require.NoError(t, err)
	bob, err := store.GetOrCreatePlayer(ctx, 202)
	require.NoError(t, err)
	_, err = store.CreateStanding(ctx, sess.ID, alice.ID, true)
	require.NoError(t, err)
	_, err = store.CreateStanding(ctx, sess.ID, bob.ID, false)
	require.NoError(t, err)

	st, _, err := store.DecideWinner(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, st.PlayerID)
}

func TestGameStore_DecideWinner_AllEliminated(t *testing.T) {
	store, _ := setupGameStore(t, 5)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, testPeerID, 3)
	require.NoError(t, err)
	player, err := store.GetOrCreatePlayer(ctx, 101)
	require.NoError(t, err)
	_, err = store.CreateStanding(ctx, sess.ID, player.ID, true)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, _, err = store.AddFailure(ctx, sess.ID, player.ID, 3)
		require.NoError(t, err)
	}

	_, _, err = store.DecideWinner(ctx, sess.ID)
	assert.ErrorIs(t, err, game.ErrNoWinner)
}

func TestGameStore_RecordAnswer(t *testing.T) {
	store, questions := setupGameStore(t, 5)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, testPeerID, 3)
	require.NoError(t, err)
	player, err := store.GetOrCreatePlayer(ctx, 101)
	require.NoError(t, err)
	_, err = store.CreateStanding(ctx, sess.ID, player.ID, true)
	require.NoError(t, err)

	listed, err := questions.List(ctx, 1, 0)
	require.NoError(t, err)
	require.NotEmpty(t, listed)

	err = store.RecordAnswer(ctx, sess.ID, player.ID, listed[0].Answers[0].ID)
	assert.NoError(t, err)
}
