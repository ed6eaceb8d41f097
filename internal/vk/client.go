// Package vk implements the VK community API client: the long-poll event
// transport and the messaging gateway (send, edit, snackbar, user lookup).
package vk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/quizbot/internal/config"
)

// ErrNotConnected is returned by Poll before a successful handshake.
var ErrNotConnected = errors.New("long-poll server not negotiated")

// APIError is a structured error returned by the VK API.
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("vk api error %d: %s", e.Code, e.Message)
}

// RawAction is a chat service action attached to a message, such as a user
// being invited to the conversation.
type RawAction struct {
	Type     string `json:"type"`
	MemberID int64  `json:"member_id"`
}

// RawMessage is an incoming chat message.
type RawMessage struct {
	FromID                int64      `json:"from_id"`
	PeerID                int64      `json:"peer_id"`
	Text                  string     `json:"text"`
	ConversationMessageID int64      `json:"conversation_message_id"`
	Action                *RawAction `json:"action"`
}

// RawObject is the payload of one long-poll update. Message is set for
// message_new updates; the remaining fields for message_event updates.
type RawObject struct {
	Message *RawMessage     `json:"message"`
	UserID  int64           `json:"user_id"`
	PeerID  int64           `json:"peer_id"`
	EventID string          `json:"event_id"`
	Payload json.RawMessage `json:"payload"`
}

// RawUpdate is one raw long-poll event as the platform delivers it.
type RawUpdate struct {
	Type   string    `json:"type"`
	Object RawObject `json:"object"`
}

// Raw update type discriminators.
const (
	UpdateTypeMessageNew   = "message_new"
	UpdateTypeMessageEvent = "message_event"
)

// ActionTypeChatInvite is the service action type for a user joining the
// conversation.
const ActionTypeChatInvite = "chat_invite_user"

type longPollResponse struct {
	TS      string      `json:"ts"`
	Failed  int         `json:"failed"`
	Updates []RawUpdate `json:"updates"`
}

type apiEnvelope struct {
	Response json.RawMessage `json:"response"`
	Error    *APIError       `json:"error"`
}

// Client talks to the VK API on behalf of one community. The long-poll
// cursor (server, key, ts) is owned by the client instance and guarded by
// a mutex; there is no process-wide state.
type Client struct {
	cfg    config.VKConfig
	http   *http.Client
	logger *zap.Logger

	mu     sync.Mutex
	server string
	key    string
	ts     string
}

// NewClient creates a Client from the given configuration.
//
// Precondition: cfg must be validated; logger must be non-nil.
// Postcondition: Returns a Client ready for Handshake.
func NewClient(cfg config.VKConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
	}
}

// Handshake negotiates the community long-poll server and cursor.
//
// Postcondition: On success, Poll may be called.
func (c *Client) Handshake(ctx context.Context) error {
	var resp struct {
		Key    string `json:"key"`
		Server string `json:"server"`
		TS     string `json:"ts"`
	}
	err := c.call(ctx, "groups.getLongPollServer", url.Values{
		"group_id": {strconv.FormatInt(c.cfg.GroupID, 10)},
	}, &resp)
	if err != nil {
		return fmt.Errorf("negotiating long-poll server: %w", err)
	}

	c.mu.Lock()
	c.server = resp.Server
	c.key = resp.Key
	c.ts = resp.TS
	c.mu.Unlock()

	c.logger.Info("long-poll server negotiated",
		zap.String("server", resp.Server),
	)
	return nil
}

// Poll performs one bounded long-poll call and returns the raw update
// batch, which may be empty. The cursor advances on every successful call.
// A "failed" response from the platform re-negotiates the server once and
// returns an empty batch; the caller's next Poll resumes normally. When
// no handshake has succeeded yet, Poll negotiates one first.
func (c *Client) Poll(ctx context.Context) ([]RawUpdate, error) {
	c.mu.Lock()
	server, key, ts := c.server, c.key, c.ts
	c.mu.Unlock()

	if server == "" {
		// The startup handshake may have failed; negotiate from here.
		if err := c.Handshake(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
		c.mu.Lock()
		server, key, ts = c.server, c.key, c.ts
		c.mu.Unlock()
	}

	q := url.Values{
		"act":  {"a_check"},
		"key":  {key},
		"ts":   {ts},
		"wait": {strconv.Itoa(c.cfg.PollWait)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building poll request: %w", err)
	}
	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polling %s: %w", server, err)
	}
	defer httpResp.Body.Close()

	var resp longPollResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding poll response: %w", err)
	}

	// failed=1 means the ts is stale and a new one is attached; other
	// codes require a fresh handshake.
	if resp.Failed != 0 {
		c.logger.Warn("long-poll cursor invalidated",
			zap.Int("failed", resp.Failed),
		)
		if resp.Failed == 1 && resp.TS != "" {
			c.mu.Lock()
			c.ts = resp.TS
			c.mu.Unlock()
			return nil, nil
		}
		if err := c.Handshake(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}

	c.mu.Lock()
	c.ts = resp.TS
	c.mu.Unlock()
	return resp.Updates, nil
}

// SendMessage sends a text message to a room, optionally with a callback
// keyboard, and returns the conversation message id used to edit it later.
//
// Precondition: peerID must identify a conversation the community is in.
// Postcondition: Returns the editable-message handle or a non-nil error.
func (c *Client) SendMessage(ctx context.Context, peerID int64, text string, kb *Keyboard) (int64, error) {
	params := url.Values{
		"random_id": {strconv.FormatInt(rand.Int63(), 10)},
		"peer_ids":  {strconv.FormatInt(peerID, 10)},
		"message":   {text},
	}
	if kb != nil {
		encoded, err := json.Marshal(kb)
		if err != nil {
			return 0, fmt.Errorf("encoding keyboard: %w", err)
		}
		params.Set("keyboard", string(encoded))
	}

	var resp []struct {
		PeerID                int64 `json:"peer_id"`
		ConversationMessageID int64 `json:"conversation_message_id"`
	}
	if err := c.call(ctx, "messages.send", params, &resp); err != nil {
		return 0, fmt.Errorf("sending message to peer %d: %w", peerID, err)
	}
	if len(resp) == 0 {
		return 0, fmt.Errorf("sending message to peer %d: empty response", peerID)
	}
	return resp[0].ConversationMessageID, nil
}

// EditMessage replaces the text of a previously sent message.
//
// Precondition: cmid must be a handle returned by SendMessage for peerID.
func (c *Client) EditMessage(ctx context.Context, peerID, cmid int64, text string) error {
	var resp json.RawMessage
	err := c.call(ctx, "messages.edit", url.Values{
		"peer_id":                 {strconv.FormatInt(peerID, 10)},
		"conversation_message_id": {strconv.FormatInt(cmid, 10)},
		"message":                 {text},
	}, &resp)
	if err != nil {
		return fmt.Errorf("editing message %d in peer %d: %w", cmid, peerID, err)
	}
	return nil
}

// ShowSnackbar acknowledges a button press with an ephemeral notice only
// the pressing user sees.
func (c *Client) ShowSnackbar(ctx context.Context, eventID string, userID, peerID int64, text string) error {
	eventData, err := json.Marshal(map[string]string{
		"type": "show_snackbar",
		"text": text,
	})
	if err != nil {
		return fmt.Errorf("encoding snackbar: %w", err)
	}

	var resp json.RawMessage
	err = c.call(ctx, "messages.sendMessageEventAnswer", url.Values{
		"event_id":   {eventID},
		"user_id":    {strconv.FormatInt(userID, 10)},
		"peer_id":    {strconv.FormatInt(peerID, 10)},
		"event_data": {string(eventData)},
	}, &resp)
	if err != nil {
		return fmt.Errorf("acknowledging event %s: %w", eventID, err)
	}
	return nil
}

// GetUserName fetches a user's display name.
//
// Postcondition: Returns "First Last" or a non-nil error.
func (c *Client) GetUserName(ctx context.Context, vkID int64) (string, error) {
	var resp []struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	err := c.call(ctx, "users.get", url.Values{
		"user_ids": {strconv.FormatInt(vkID, 10)},
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("fetching user %d: %w", vkID, err)
	}
	if len(resp) == 0 {
		return "", fmt.Errorf("fetching user %d: empty response", vkID)
	}
	return resp[0].FirstName + " " + resp[0].LastName, nil
}

// call performs one API method call, unwrapping the response envelope
// into out.
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	params.Set("access_token", c.cfg.Token)
	params.Set("v", c.cfg.Version)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIHost+method+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building %s request: %w", method, err)
	}
	httpResp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	defer httpResp.Body.Close()

	var envelope apiEnvelope
	if err := json.NewDecoder(httpResp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out != nil && len(envelope.Response) > 0 {
		if err := json.Unmarshal(envelope.Response, out); err != nil {
			return fmt.Errorf("unmarshalling %s response: %w", method, err)
		}
	}
	return nil
}
