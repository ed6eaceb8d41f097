package bot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/quizbot/internal/game"
	"github.com/cory-johannsen/quizbot/internal/vk"
)

// Gateway is the outbound messaging surface the handler drives.
type Gateway interface {
	// SendMessage posts text to a room with an optional keyboard and
	// returns an editable-message handle.
	SendMessage(ctx context.Context, peerID int64, text string, kb *vk.Keyboard) (int64, error)
	// EditMessage replaces the text of a previously sent message.
	EditMessage(ctx context.Context, peerID, cmid int64, text string) error
	// ShowSnackbar acknowledges a button press with a private notice.
	ShowSnackbar(ctx context.Context, eventID string, userID, peerID int64, text string) error
	// GetUserName resolves a platform id to a display name.
	GetUserName(ctx context.Context, vkID int64) (string, error)
}

// Handler classifies typed updates and invokes game operations. Every
// persistence mutation happens before the corresponding confirmation is
// sent, so a send failure never masks a completed mutation; send and edit
// failures themselves are logged and swallowed.
type Handler struct {
	engine  *game.Engine
	gateway Gateway
	logger  *zap.Logger
	rules   game.Rules
	// joinWindow is the creation countdown length in seconds; 0 disables it.
	joinWindow int
	// tick is the countdown step, overridable in tests.
	tick time.Duration
}

// NewHandler creates a Handler.
//
// Precondition: engine, gateway, and logger must be non-nil; joinWindow
// must be >= 0.
func NewHandler(engine *game.Engine, gateway Gateway, rules game.Rules, joinWindow int, logger *zap.Logger) *Handler {
	return &Handler{
		engine:     engine,
		gateway:    gateway,
		logger:     logger,
		rules:      rules,
		joinWindow: joinWindow,
		tick:       time.Second,
	}
}

// Handle routes one update. The union is matched exhaustively; a Message
// that is not a command is an answer attempt.
func (h *Handler) Handle(ctx context.Context, update Update) error {
	switch u := update.(type) {
	case Message:
		switch u.Text {
		case textInfo:
			return h.info(ctx, u.PeerID)
		case textCreate:
			return h.createGame(ctx, u.PeerID, u.FromID, "")
		default:
			return h.submitAnswer(ctx, u)
		}
	case ButtonEvent:
		switch u.Command {
		case cmdCreate:
			return h.createGame(ctx, u.PeerID, u.UserID, u.EventID)
		case cmdJoin:
			return h.joinGame(ctx, u)
		case cmdStart:
			return h.startGame(ctx, u)
		case cmdEnd:
			return h.endGame(ctx, u)
		default:
			h.logger.Debug("ignoring unknown button command",
				zap.String("command", u.Command),
				zap.Int64("peer_id", u.PeerID),
			)
			return nil
		}
	case JoinAction:
		h.send(ctx, u.PeerID, msgGreeting, createKeyboard())
		return nil
	default:
		return fmt.Errorf("unhandled update variant %T", update)
	}
}

func (h *Handler) info(ctx context.Context, peerID int64) error {
	h.send(ctx, peerID, msgInfo, createKeyboard())
	return nil
}

// createGame handles both the /create text command (eventID empty) and
// the create button.
func (h *Handler) createGame(ctx context.Context, peerID, userID int64, eventID string) error {
	result, err := h.engine.CreateGame(ctx, peerID, userID)
	if err != nil {
		return err
	}
	if result.AlreadyExists {
		h.snackbar(ctx, eventID, userID, peerID, snackExists)
		return nil
	}

	h.snackbar(ctx, eventID, userID, peerID, snackCreated)
	h.send(ctx, peerID, msgCreated(h.name(ctx, userID)), lobbyKeyboard())

	if h.joinWindow > 0 {
		h.countdown(ctx, peerID, h.joinWindow)
	}
	return nil
}

func (h *Handler) joinGame(ctx context.Context, u ButtonEvent) error {
	result, err := h.engine.JoinGame(ctx, u.PeerID, u.UserID)
	if err != nil {
		return err
	}
	switch {
	case result.NoGame:
		h.snackbar(ctx, u.EventID, u.UserID, u.PeerID, snackNoGame)
	case result.AlreadyJoined:
		h.snackbar(ctx, u.EventID, u.UserID, u.PeerID, snackAlreadyIn)
	default:
		h.snackbar(ctx, u.EventID, u.UserID, u.PeerID, snackJoined)
		h.send(ctx, u.PeerID, msgJoined(h.name(ctx, u.UserID)), nil)
	}
	return nil
}

func (h *Handler) startGame(ctx context.Context, u ButtonEvent) error {
	result, err := h.engine.StartGame(ctx, u.PeerID, u.UserID)
	if err != nil {
		return err
	}
	switch {
	case result.NoGame:
		h.snackbar(ctx, u.EventID, u.UserID, u.PeerID, snackNoGame)
	case result.NotCreator:
		h.snackbar(ctx, u.EventID, u.UserID, u.PeerID, snackNotCreator)
	case result.AlreadyStarted:
		h.snackbar(ctx, u.EventID, u.UserID, u.PeerID, snackRunning)
	default:
		h.snackbar(ctx, u.EventID, u.UserID, u.PeerID, snackStarted)
		h.announceQuestion(ctx, u.PeerID, result.Question)
	}
	return nil
}

func (h *Handler) endGame(ctx context.Context, u ButtonEvent) error {
	result, err := h.engine.EndGame(ctx, u.PeerID)
	if err != nil {
		return err
	}
	if result.NoGame {
		h.snackbar(ctx, u.EventID, u.UserID, u.PeerID, snackNoGame)
		return nil
	}

	h.snackbar(ctx, u.EventID, u.UserID, u.PeerID, msgGameEnded)
	h.announceOutcome(ctx, u.PeerID, result.Winner)
	return nil
}

func (h *Handler) submitAnswer(ctx context.Context, u Message) error {
	result, err := h.engine.SubmitAnswer(ctx, u.PeerID, u.FromID, u.Text)
	if err != nil {
		return err
	}
	if result.Ignored {
		return nil
	}

	name := h.name(ctx, u.FromID)
	if result.Correct {
		h.send(ctx, u.PeerID, msgCorrect(name, result.Score), nil)
	} else {
		h.send(ctx, u.PeerID, msgWrong(name, result.Failures, h.rules.FailureLimit), nil)
		if result.Eliminated {
			h.send(ctx, u.PeerID, msgEliminated(name), nil)
		}
	}

	switch {
	case result.Advance.Raced:
		// A concurrent answer advanced the roadmap first; it owns the
		// announcement.
	case result.Advance.Ended:
		h.announceOutcome(ctx, u.PeerID, result.Advance.Winner)
	case result.Advance.Next != nil:
		h.announceQuestion(ctx, u.PeerID, *result.Advance.Next)
	}
	return nil
}

func (h *Handler) announceQuestion(ctx context.Context, peerID int64, q game.Question) {
	titles := make([]string, 0, len(q.Answers))
	for _, a := range q.Answers {
		titles = append(titles, a.Title)
	}
	h.send(ctx, peerID, msgQuestion(q.Title, shuffledOptions(titles)), gameKeyboard())
}

func (h *Handler) announceOutcome(ctx context.Context, peerID int64, winner *game.Winner) {
	if winner == nil {
		h.send(ctx, peerID, msgAllOut, createKeyboard())
		return
	}
	h.send(ctx, peerID, msgWinner(h.name(ctx, winner.Player.VKID), winner.Standing.Points), createKeyboard())
}

// countdown announces the join window and edits the message once per
// second until it elapses. Once started it always runs to completion.
func (h *Handler) countdown(ctx context.Context, peerID int64, seconds int) {
	cmid, err := h.gateway.SendMessage(ctx, peerID, msgCountdown(seconds), nil)
	if err != nil {
		h.logger.Warn("countdown send failed", zap.Int64("peer_id", peerID), zap.Error(err))
		return
	}
	for left := seconds - 1; left > 0; left-- {
		time.Sleep(h.tick)
		if err := h.gateway.EditMessage(ctx, peerID, cmid, msgCountdown(left)); err != nil {
			h.logger.Warn("countdown edit failed", zap.Int64("peer_id", peerID), zap.Error(err))
		}
	}
	time.Sleep(h.tick)
	if err := h.gateway.EditMessage(ctx, peerID, cmid, msgTimeOver); err != nil {
		h.logger.Warn("countdown edit failed", zap.Int64("peer_id", peerID), zap.Error(err))
	}
}

// name resolves a display name, falling back to the platform mention
// form when the lookup fails.
func (h *Handler) name(ctx context.Context, vkID int64) string {
	name, err := h.gateway.GetUserName(ctx, vkID)
	if err != nil {
		h.logger.Debug("name lookup failed", zap.Int64("vk_id", vkID), zap.Error(err))
		return fmt.Sprintf("@id%d", vkID)
	}
	return name
}

// send posts a message, logging and swallowing transport failures. The
// mutation that prompted the message has already been persisted.
func (h *Handler) send(ctx context.Context, peerID int64, text string, kb *vk.Keyboard) {
	if _, err := h.gateway.SendMessage(ctx, peerID, text, kb); err != nil {
		h.logger.Warn("send failed", zap.Int64("peer_id", peerID), zap.Error(err))
	}
}

// snackbar acknowledges a button press, skipping text-command calls that
// have no event to acknowledge.
func (h *Handler) snackbar(ctx context.Context, eventID string, userID, peerID int64, text string) {
	if eventID == "" {
		return
	}
	if err := h.gateway.ShowSnackbar(ctx, eventID, userID, peerID, text); err != nil {
		h.logger.Warn("snackbar failed",
			zap.Int64("peer_id", peerID),
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}
}
