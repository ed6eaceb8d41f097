package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/quizbot/internal/game"
	"github.com/cory-johannsen/quizbot/internal/vk"
)

const (
	testPeer    int64 = 2000000042
	testCreator int64 = 101
	testJoiner  int64 = 202
)

type sentMessage struct {
	PeerID   int64
	Text     string
	Keyboard *vk.Keyboard
}

type shownSnackbar struct {
	EventID string
	UserID  int64
	Text    string
}

// fakeGateway records outbound traffic and resolves names from a map.
type fakeGateway struct {
	mu        sync.Mutex
	nextCMID  int64
	sent      []sentMessage
	edits     map[int64][]string
	snackbars []shownSnackbar
	names     map[int64]string
	sendErr   error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		edits: make(map[int64][]string),
		names: map[int64]string{},
	}
}

func (g *fakeGateway) SendMessage(_ context.Context, peerID int64, text string, kb *vk.Keyboard) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return 0, g.sendErr
	}
	g.nextCMID++
	g.sent = append(g.sent, sentMessage{PeerID: peerID, Text: text, Keyboard: kb})
	return g.nextCMID, nil
}

func (g *fakeGateway) EditMessage(_ context.Context, _, cmid int64, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edits[cmid] = append(g.edits[cmid], text)
	return nil
}

func (g *fakeGateway) ShowSnackbar(_ context.Context, eventID string, userID, _ int64, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snackbars = append(g.snackbars, shownSnackbar{EventID: eventID, UserID: userID, Text: text})
	return nil
}

func (g *fakeGateway) GetUserName(_ context.Context, vkID int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	name, ok := g.names[vkID]
	if !ok {
		return "", fmt.Errorf("user %d not found", vkID)
	}
	return name, nil
}

func (g *fakeGateway) messages() []sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentMessage(nil), g.sent...)
}

func (g *fakeGateway) lastMessage(t *testing.T) sentMessage {
	t.Helper()
	msgs := g.messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

func (g *fakeGateway) lastSnackbar(t *testing.T) shownSnackbar {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.snackbars)
	return g.snackbars[len(g.snackbars)-1]
}

func seedBank(store *game.MemStore, n int) {
	for i := 0; i < n; i++ {
		store.AddQuestion(fmt.Sprintf("question %d", i), []game.Answer{
			{Title: fmt.Sprintf("alpha%d", i), Score: 43},
			{Title: fmt.Sprintf("beta%d", i), Score: 20},
			{Title: fmt.Sprintf("gamma%d", i), Score: 11},
		})
	}
}

func newTestHandler(t *testing.T, joinWindow int) (*Handler, *game.MemStore, *fakeGateway) {
	t.Helper()
	store := game.NewMemStore()
	store.Seed(7)
	seedBank(store, 6)
	rules := game.Rules{RoadmapSize: 3, FailureLimit: 3}
	gateway := newFakeGateway()
	gateway.names[testCreator] = "Alice"
	gateway.names[testJoiner] = "Bob"
	h := NewHandler(game.NewEngine(store, rules), gateway, rules, joinWindow, zap.NewNop())
	h.tick = time.Millisecond
	return h, store, gateway
}

func createEvent(userID int64) ButtonEvent {
	return ButtonEvent{PeerID: testPeer, UserID: userID, EventID: "evt-create", Command: cmdCreate}
}

func startRunningGame(t *testing.T, h *Handler) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.Handle(ctx, createEvent(testCreator)))
	require.NoError(t, h.Handle(ctx, ButtonEvent{PeerID: testPeer, UserID: testJoiner, EventID: "evt-join", Command: cmdJoin}))
	require.NoError(t, h.Handle(ctx, ButtonEvent{PeerID: testPeer, UserID: testCreator, EventID: "evt-start", Command: cmdStart}))
}

func TestHandleInfo(t *testing.T) {
	h, _, gateway := newTestHandler(t, 0)

	err := h.Handle(context.Background(), Message{PeerID: testPeer, FromID: testCreator, Text: textInfo})

	require.NoError(t, err)
	last := gateway.lastMessage(t)
	assert.Equal(t, msgInfo, last.Text)
	require.NotNil(t, last.Keyboard)
}

func TestHandleJoinAction(t *testing.T) {
	h, store, gateway := newTestHandler(t, 0)

	err := h.Handle(context.Background(), JoinAction{PeerID: testPeer, UserID: testCreator})

	require.NoError(t, err)
	assert.Equal(t, msgGreeting, gateway.lastMessage(t).Text)
	// An invite greets only, it never opens a session.
	_, err = store.GetActiveSession(context.Background(), testPeer)
	assert.ErrorIs(t, err, game.ErrNoActiveSession)
}

func TestHandleCreate(t *testing.T) {
	h, store, gateway := newTestHandler(t, 0)

	err := h.Handle(context.Background(), createEvent(testCreator))

	require.NoError(t, err)
	assert.Equal(t, snackCreated, gateway.lastSnackbar(t).Text)
	assert.Equal(t, msgCreated("Alice"), gateway.lastMessage(t).Text)
	sess, err := store.GetActiveSession(context.Background(), testPeer)
	require.NoError(t, err)
	assert.Equal(t, game.StateWaitingForPlayers, sess.State)
}

func TestHandleCreateDuplicate(t *testing.T) {
	h, _, gateway := newTestHandler(t, 0)
	require.NoError(t, h.Handle(context.Background(), createEvent(testCreator)))

	err := h.Handle(context.Background(), createEvent(testJoiner))

	require.NoError(t, err)
	assert.Equal(t, snackExists, gateway.lastSnackbar(t).Text)
}

func TestHandleCreateTextCommand(t *testing.T) {
	h, store, gateway := newTestHandler(t, 0)

	err := h.Handle(context.Background(), Message{PeerID: testPeer, FromID: testCreator, Text: textCreate})

	require.NoError(t, err)
	// Text commands carry no event to acknowledge.
	assert.Empty(t, gateway.snackbars)
	assert.Equal(t, msgCreated("Alice"), gateway.lastMessage(t).Text)
	_, err = store.GetActiveSession(context.Background(), testPeer)
	require.NoError(t, err)
}

func TestHandleCreateCountdown(t *testing.T) {
	h, _, gateway := newTestHandler(t, 3)

	err := h.Handle(context.Background(), createEvent(testCreator))

	require.NoError(t, err)
	msgs := gateway.messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, msgCountdown(3), last.Text)
	gateway.mu.Lock()
	edits := gateway.edits[gateway.nextCMID]
	gateway.mu.Unlock()
	require.Len(t, edits, 3)
	assert.Equal(t, msgCountdown(2), edits[0])
	assert.Equal(t, msgCountdown(1), edits[1])
	assert.Equal(t, msgTimeOver, edits[2])
}

func TestHandleJoinWithoutGame(t *testing.T) {
	h, _, gateway := newTestHandler(t, 0)

	err := h.Handle(context.Background(), ButtonEvent{PeerID: testPeer, UserID: testJoiner, EventID: "evt", Command: cmdJoin})

	require.NoError(t, err)
	assert.Equal(t, snackNoGame, gateway.lastSnackbar(t).Text)
	assert.Empty(t, gateway.messages())
}

func TestHandleJoin(t *testing.T) {
	h, _, gateway := newTestHandler(t, 0)
	require.NoError(t, h.Handle(context.Background(), createEvent(testCreator)))

	err := h.Handle(context.Background(), ButtonEvent{PeerID: testPeer, UserID: testJoiner, EventID: "evt", Command: cmdJoin})

	require.NoError(t, err)
	assert.Equal(t, snackJoined, gateway.lastSnackbar(t).Text)
	assert.Equal(t, msgJoined("Bob"), gateway.lastMessage(t).Text)
}

func TestHandleStartNonCreator(t *testing.T) {
	h, _, gateway := newTestHandler(t, 0)
	require.NoError(t, h.Handle(context.Background(), createEvent(testCreator)))
	require.NoError(t, h.Handle(context.Background(), ButtonEvent{PeerID: testPeer, UserID: testJoiner, EventID: "evt", Command: cmdJoin}))

	err := h.Handle(context.Background(), ButtonEvent{PeerID: testPeer, UserID: testJoiner, EventID: "evt", Command: cmdStart})

	require.NoError(t, err)
	assert.Equal(t, snackNotCreator, gateway.lastSnackbar(t).Text)
}

func TestHandleStartAnnouncesQuestion(t *testing.T) {
	h, store, gateway := newTestHandler(t, 0)
	startRunningGame(t, h)

	sess, err := store.GetActiveSession(context.Background(), testPeer)
	require.NoError(t, err)
	assert.Equal(t, game.StateInProgress, sess.State)
	last := gateway.lastMessage(t)
	assert.Contains(t, last.Text, "question ")
	require.NotNil(t, last.Keyboard)
}

func TestHandleAnswerCorrect(t *testing.T) {
	h, store, gateway := newTestHandler(t, 0)
	startRunningGame(t, h)
	q, err := store.ActiveQuestion(context.Background(), mustSession(t, store).ID)
	require.NoError(t, err)

	err = h.Handle(context.Background(), Message{PeerID: testPeer, FromID: testJoiner, Text: strings.ToUpper(q.Answers[0].Title)})

	require.NoError(t, err)
	msgs := gateway.messages()
	// The scoring notice, then the next question.
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, msgCorrect("Bob", q.Answers[0].Score), msgs[len(msgs)-2].Text)
	assert.Contains(t, msgs[len(msgs)-1].Text, "question ")
}

func TestHandleAnswerWrong(t *testing.T) {
	h, _, gateway := newTestHandler(t, 0)
	startRunningGame(t, h)

	err := h.Handle(context.Background(), Message{PeerID: testPeer, FromID: testJoiner, Text: "definitely not it"})

	require.NoError(t, err)
	msgs := gateway.messages()
	// The miss notice, then the roadmap advances to the next question.
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, msgWrong("Bob", 1, 3), msgs[len(msgs)-2].Text)
	assert.Contains(t, msgs[len(msgs)-1].Text, "question ")
}

func TestHandleAnswerEliminates(t *testing.T) {
	h, _, gateway := newTestHandler(t, 0)
	startRunningGame(t, h)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, h.Handle(ctx, Message{PeerID: testPeer, FromID: testJoiner, Text: "wrong"}))
	}

	// Each miss consumed a roadmap entry, so the third one both
	// eliminates Bob and exhausts the roadmap: Alice wins on points.
	msgs := gateway.messages()
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, msgEliminated("Bob"), msgs[len(msgs)-2].Text)
	assert.Equal(t, msgWinner("Alice", 0), msgs[len(msgs)-1].Text)

	// The fourth miss is a silent no-op.
	before := len(gateway.messages())
	require.NoError(t, h.Handle(ctx, Message{PeerID: testPeer, FromID: testJoiner, Text: "wrong"}))
	assert.Len(t, gateway.messages(), before)
}

func TestHandleAnswerFinishesGame(t *testing.T) {
	h, store, gateway := newTestHandler(t, 0)
	startRunningGame(t, h)
	ctx := context.Background()

	// Answer every roadmap step correctly with the top answer.
	for i := 0; i < 3; i++ {
		q, err := store.ActiveQuestion(ctx, mustSession(t, store).ID)
		require.NoError(t, err)
		require.NoError(t, h.Handle(ctx, Message{PeerID: testPeer, FromID: testJoiner, Text: q.Answers[0].Title}))
	}

	assert.Equal(t, msgWinner("Bob", 3*43), gateway.lastMessage(t).Text)
	_, err := store.GetActiveSession(ctx, testPeer)
	assert.ErrorIs(t, err, game.ErrNoActiveSession)
}

func TestHandleEnd(t *testing.T) {
	h, store, gateway := newTestHandler(t, 0)
	startRunningGame(t, h)
	ctx := context.Background()
	q, err := store.ActiveQuestion(ctx, mustSession(t, store).ID)
	require.NoError(t, err)
	require.NoError(t, h.Handle(ctx, Message{PeerID: testPeer, FromID: testJoiner, Text: q.Answers[1].Title}))

	err = h.Handle(ctx, ButtonEvent{PeerID: testPeer, UserID: testCreator, EventID: "evt-end", Command: cmdEnd})

	require.NoError(t, err)
	assert.Equal(t, msgGameEnded, gateway.lastSnackbar(t).Text)
	assert.Equal(t, msgWinner("Bob", q.Answers[1].Score), gateway.lastMessage(t).Text)
	_, err = store.GetActiveSession(ctx, testPeer)
	assert.ErrorIs(t, err, game.ErrNoActiveSession)
}

func TestHandleEndWithoutGame(t *testing.T) {
	h, _, gateway := newTestHandler(t, 0)

	err := h.Handle(context.Background(), ButtonEvent{PeerID: testPeer, UserID: testCreator, EventID: "evt", Command: cmdEnd})

	require.NoError(t, err)
	assert.Equal(t, snackNoGame, gateway.lastSnackbar(t).Text)
}

func TestHandleNameFallback(t *testing.T) {
	h, _, gateway := newTestHandler(t, 0)
	delete(gateway.names, testCreator)

	require.NoError(t, h.Handle(context.Background(), createEvent(testCreator)))

	assert.Equal(t, msgCreated("@id101"), gateway.lastMessage(t).Text)
}

func TestHandleUnknownCommandIgnored(t *testing.T) {
	h, _, gateway := newTestHandler(t, 0)

	err := h.Handle(context.Background(), ButtonEvent{PeerID: testPeer, UserID: testCreator, EventID: "evt", Command: "mystery"})

	require.NoError(t, err)
	assert.Empty(t, gateway.messages())
	assert.Empty(t, gateway.snackbars)
}

func mustSession(t *testing.T, store *game.MemStore) game.Session {
	t.Helper()
	sess, err := store.GetActiveSession(context.Background(), testPeer)
	require.NoError(t, err)
	return sess
}
