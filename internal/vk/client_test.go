package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/quizbot/internal/config"
)

// fakeAPI is an httptest-backed VK API with a scriptable long-poll queue.
type fakeAPI struct {
	t      *testing.T
	server *httptest.Server
	polls  chan longPollResponse
	sent   []string
	edits  []string
	acks   []string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{t: t, polls: make(chan longPollResponse, 16)}
	mux := http.NewServeMux()

	mux.HandleFunc("/method/groups.getLongPollServer", func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, map[string]string{
			"key":    "test-key",
			"server": f.server.URL + "/longpoll",
			"ts":     "1",
		})
	})
	mux.HandleFunc("/longpoll", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "a_check", r.URL.Query().Get("act"))
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		select {
		case resp := <-f.polls:
			json.NewEncoder(w).Encode(resp)
		case <-time.After(time.Second):
			json.NewEncoder(w).Encode(longPollResponse{TS: r.URL.Query().Get("ts")})
		}
	})
	mux.HandleFunc("/method/messages.send", func(w http.ResponseWriter, r *http.Request) {
		f.sent = append(f.sent, r.URL.Query().Get("message"))
		writeResponse(w, []map[string]int64{{"peer_id": 1, "conversation_message_id": int64(len(f.sent))}})
	})
	mux.HandleFunc("/method/messages.edit", func(w http.ResponseWriter, r *http.Request) {
		f.edits = append(f.edits, r.URL.Query().Get("message"))
		writeResponse(w, 1)
	})
	mux.HandleFunc("/method/messages.sendMessageEventAnswer", func(w http.ResponseWriter, r *http.Request) {
		f.acks = append(f.acks, r.URL.Query().Get("event_id"))
		writeResponse(w, 1)
	})
	mux.HandleFunc("/method/users.get", func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, []map[string]string{{"first_name": "Test", "last_name": "Player"}})
	})
	mux.HandleFunc("/method/fail.method", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiEnvelope{Error: &APIError{Code: 5, Message: "auth failed"}})
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func writeResponse(w http.ResponseWriter, v any) {
	raw, _ := json.Marshal(v)
	json.NewEncoder(w).Encode(apiEnvelope{Response: raw})
}

func (f *fakeAPI) client(t *testing.T) *Client {
	t.Helper()
	cfg := config.VKConfig{
		Token:          "test-token",
		GroupID:        1,
		APIHost:        f.server.URL + "/method/",
		Version:        "5.131",
		PollWait:       1,
		RequestTimeout: 5 * time.Second,
	}
	return NewClient(cfg, zaptest.NewLogger(t))
}

func TestHandshakeAndPoll(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client(t)
	ctx := context.Background()

	require.NoError(t, c.Handshake(ctx))

	api.polls <- longPollResponse{
		TS: "2",
		Updates: []RawUpdate{
			{
				Type: UpdateTypeMessageNew,
				Object: RawObject{Message: &RawMessage{
					FromID: 101, PeerID: 2000000001, Text: "hello",
				}},
			},
		},
	}

	updates, err := c.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, UpdateTypeMessageNew, updates[0].Type)
	assert.Equal(t, "hello", updates[0].Object.Message.Text)
}

func TestPoll_BeforeHandshake_NegotiatesLazily(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client(t)

	// No explicit Handshake: the first Poll negotiates on its own.
	api.polls <- longPollResponse{TS: "2"}
	updates, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestPoll_HandshakeUnreachable(t *testing.T) {
	cfg := config.VKConfig{
		Token:          "test-token",
		GroupID:        1,
		APIHost:        "http://127.0.0.1:1/method/",
		Version:        "5.131",
		PollWait:       1,
		RequestTimeout: time.Second,
	}
	c := NewClient(cfg, zaptest.NewLogger(t))

	_, err := c.Poll(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPoll_StaleCursorRecovers(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client(t)
	ctx := context.Background()

	require.NoError(t, c.Handshake(ctx))

	api.polls <- longPollResponse{Failed: 1, TS: "9"}
	updates, err := c.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, updates)

	// The next poll proceeds with the refreshed ts.
	api.polls <- longPollResponse{TS: "10"}
	_, err = c.Poll(ctx)
	require.NoError(t, err)
}

func TestPoll_KeyExpiredRenegotiates(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client(t)
	ctx := context.Background()

	require.NoError(t, c.Handshake(ctx))

	api.polls <- longPollResponse{Failed: 2}
	updates, err := c.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestSendMessage(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client(t)

	cmid, err := c.SendMessage(context.Background(), 2000000001, "question text", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cmid)
	require.Len(t, api.sent, 1)
	assert.Equal(t, "question text", api.sent[0])
}

func TestSendMessage_WithKeyboard(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client(t)

	kb := &Keyboard{
		Inline: false,
		Buttons: [][]Button{
			{CallbackButton("join", "Join the game", ColorPositive)},
		},
	}
	_, err := c.SendMessage(context.Background(), 2000000001, "game created", kb)
	require.NoError(t, err)
}

func TestEditMessage(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client(t)

	err := c.EditMessage(context.Background(), 2000000001, 7, "10 seconds left...")
	require.NoError(t, err)
	require.Len(t, api.edits, 1)
	assert.Equal(t, "10 seconds left...", api.edits[0])
}

func TestShowSnackbar(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client(t)

	err := c.ShowSnackbar(context.Background(), "evt-1", 101, 2000000001, "already joined")
	require.NoError(t, err)
	assert.Equal(t, []string{"evt-1"}, api.acks)
}

func TestGetUserName(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client(t)

	name, err := c.GetUserName(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, "Test Player", name)
}

func TestCall_APIError(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client(t)

	var out json.RawMessage
	err := c.call(context.Background(), "fail.method", map[string][]string{}, &out)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 5, apiErr.Code)
}

func TestCallbackButtonPayload(t *testing.T) {
	b := CallbackButton("create", "Create a game", ColorPrimary)
	assert.Equal(t, "callback", b.Action.Type)
	assert.JSONEq(t, `{"command":"create"}`, b.Action.Payload)
}

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload(json.RawMessage(`{"command":"join"}`))
	require.NoError(t, err)
	assert.Equal(t, "join", p.Command)
}

func TestParsePayload_DoubleEncoded(t *testing.T) {
	inner, _ := json.Marshal(`{"command":"start"}`)
	p, err := ParsePayload(json.RawMessage(fmt.Sprintf("%s", inner)))
	require.NoError(t, err)
	assert.Equal(t, "start", p.Command)
}

func TestParsePayload_Empty(t *testing.T) {
	p, err := ParsePayload(nil)
	require.NoError(t, err)
	assert.Empty(t, p.Command)
}
