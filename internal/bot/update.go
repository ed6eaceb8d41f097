// Package bot implements the update ingestion pipeline: the long-poll
// Poller, the concurrent Dispatcher, and the Handler that routes typed
// updates into game operations.
package bot

import (
	"go.uber.org/zap"

	"github.com/cory-johannsen/quizbot/internal/vk"
)

// Update is one typed platform event. It is a closed union: Message,
// ButtonEvent, and JoinAction are the only variants, and the Handler
// matches them exhaustively.
type Update interface {
	// PeerID returns the room the update originated in.
	Peer() int64
	isUpdate()
}

// Message is a plain text message posted in a room.
type Message struct {
	PeerID                int64
	FromID                int64
	Text                  string
	ConversationMessageID int64
}

// Peer implements Update.
func (m Message) Peer() int64 { return m.PeerID }
func (Message) isUpdate()     {}

// ButtonEvent is a callback keyboard button press.
type ButtonEvent struct {
	PeerID  int64
	UserID  int64
	EventID string
	Command string
}

// Peer implements Update.
func (e ButtonEvent) Peer() int64 { return e.PeerID }
func (ButtonEvent) isUpdate()     {}

// JoinAction is a platform service event for a user being invited into
// the conversation. It is distinct from the game "join" button: a chat
// invite only greets the room, it never joins a game.
type JoinAction struct {
	PeerID int64
	UserID int64
}

// Peer implements Update.
func (a JoinAction) Peer() int64 { return a.PeerID }
func (JoinAction) isUpdate()     {}

// MapUpdates converts a raw long-poll batch into typed Updates. Raw
// updates that carry neither a recognised message nor a parsable button
// payload are dropped with a log entry rather than guessed at.
func MapUpdates(raw []vk.RawUpdate, logger *zap.Logger) []Update {
	updates := make([]Update, 0, len(raw))
	for _, r := range raw {
		switch r.Type {
		case vk.UpdateTypeMessageNew:
			msg := r.Object.Message
			if msg == nil {
				logger.Warn("message_new update without message object")
				continue
			}
			if msg.Action != nil && msg.Action.Type == vk.ActionTypeChatInvite {
				updates = append(updates, JoinAction{
					PeerID: msg.PeerID,
					UserID: msg.Action.MemberID,
				})
				continue
			}
			updates = append(updates, Message{
				PeerID:                msg.PeerID,
				FromID:                msg.FromID,
				Text:                  msg.Text,
				ConversationMessageID: msg.ConversationMessageID,
			})
		case vk.UpdateTypeMessageEvent:
			payload, err := vk.ParsePayload(r.Object.Payload)
			if err != nil {
				logger.Warn("dropping button event with bad payload",
					zap.Int64("peer_id", r.Object.PeerID),
					zap.Error(err),
				)
				continue
			}
			updates = append(updates, ButtonEvent{
				PeerID:  r.Object.PeerID,
				UserID:  r.Object.UserID,
				EventID: r.Object.EventID,
				Command: payload.Command,
			})
		default:
			logger.Debug("ignoring update type", zap.String("type", r.Type))
		}
	}
	return updates
}
