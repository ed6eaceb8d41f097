package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Store is the persistence contract the engine drives. Every method is one
// atomic read-modify-write: concurrent handler goroutines share a Store with
// no additional locking, so races between two players answering in the same
// poll window resolve at this layer, first writer wins.
type Store interface {
	// GetActiveSession returns the room's session in waiting_for_players or
	// in_progress state, or ErrNoActiveSession.
	GetActiveSession(ctx context.Context, peerID int64) (Session, error)
	// CreateSession creates a waiting_for_players session for the room with a
	// roadmap of size questions sampled at random from the bank, entry 0
	// active. Returns ErrSessionExists if the room already has an active
	// session, ErrBankTooSmall if the bank cannot fill the roadmap.
	CreateSession(ctx context.Context, peerID int64, size int) (Session, error)
	// SetSessionState moves a session to the given state. Moving to
	// StateEnded also closes the session's active roadmap entry, so an
	// ended session never holds an open entry.
	SetSessionState(ctx context.Context, sessionID int64, state SessionState) error
	// GetPlayer returns the player for a platform id, or ErrPlayerNotFound.
	GetPlayer(ctx context.Context, vkID int64) (Player, error)
	// GetOrCreatePlayer returns the player for a platform id, creating it on
	// first contact.
	GetOrCreatePlayer(ctx context.Context, vkID int64) (Player, error)
	// GetStanding returns a player's standing in a session, or
	// ErrStandingNotFound.
	GetStanding(ctx context.Context, sessionID, playerID int64) (Standing, error)
	// CreateStanding records a player joining a session. Returns
	// ErrStandingExists on duplicate join.
	CreateStanding(ctx context.Context, sessionID, playerID int64, isCreator bool) (Standing, error)
	// AddPoints atomically increments a standing's points.
	AddPoints(ctx context.Context, sessionID, playerID int64, score int) error
	// AddFailure atomically increments a standing's failure counter and marks
	// it eliminated once the counter reaches limit. Returns the new counter
	// value and whether this call crossed the threshold.
	AddFailure(ctx context.Context, sessionID, playerID int64, limit int) (failures int, eliminated bool, err error)
	// ActiveQuestion returns the question of the session's active roadmap
	// entry with its answers, or ErrNoActiveEntry.
	ActiveQuestion(ctx context.Context, sessionID int64) (Question, error)
	// AdvanceRoadmap completes the active entry and activates the next one,
	// all in one atomic step. When no entry is active (a concurrent advance
	// won the race) it reports advanced=false and changes nothing. When the
	// roadmap is exhausted it ends the session and reports ended=true.
	AdvanceRoadmap(ctx context.Context, sessionID int64) (next *Question, advanced, ended bool, err error)
	// RecordAnswer stores a (session, answer, player) audit fact.
	RecordAnswer(ctx context.Context, sessionID, playerID, answerID int64) error
	// DecideWinner marks and returns the winning standing: maximum points
	// among non-eliminated standings, ties broken by earliest-created
	// standing. Returns ErrNoWinner when every standing was eliminated.
	DecideWinner(ctx context.Context, sessionID int64) (Standing, Player, error)
}

// Rules carries the tunable game constants.
type Rules struct {
	// RoadmapSize is the number of questions per session.
	RoadmapSize int
	// FailureLimit is the number of wrong answers before elimination.
	FailureLimit int
}

// Engine executes game operations against a Store. It holds no mutable
// state of its own: every operation round-trips through the store, so any
// number of handler goroutines may share one Engine.
type Engine struct {
	store Store
	rules Rules
}

// NewEngine creates an Engine with the given store and rules.
//
// Precondition: store must be non-nil; rules must have positive RoadmapSize
// and FailureLimit.
func NewEngine(store Store, rules Rules) *Engine {
	return &Engine{store: store, rules: rules}
}

// Winner describes the final standing announced when a session ends.
type Winner struct {
	Standing Standing
	Player   Player
}

// CreateResult is the outcome of CreateGame.
type CreateResult struct {
	// AlreadyExists reports that the room had an active session and the
	// call was a no-op.
	AlreadyExists bool
	Session       Session
	Creator       Standing
}

// CreateGame creates a session for the room with the issuer as creator.
// Duplicate creation is a no-op, not an error.
//
// Postcondition: On success the room has exactly one active session in
// waiting_for_players state and exactly one creator standing.
func (e *Engine) CreateGame(ctx context.Context, peerID, vkID int64) (CreateResult, error) {
	sess, err := e.store.CreateSession(ctx, peerID, e.rules.RoadmapSize)
	if errors.Is(err, ErrSessionExists) {
		return CreateResult{AlreadyExists: true}, nil
	}
	if err != nil {
		return CreateResult{}, fmt.Errorf("creating session for peer %d: %w", peerID, err)
	}

	player, err := e.store.GetOrCreatePlayer(ctx, vkID)
	if err != nil {
		return CreateResult{}, fmt.Errorf("resolving creator %d: %w", vkID, err)
	}
	standing, err := e.store.CreateStanding(ctx, sess.ID, player.ID, true)
	if err != nil {
		return CreateResult{}, fmt.Errorf("recording creator standing: %w", err)
	}

	return CreateResult{Session: sess, Creator: standing}, nil
}

// JoinResult is the outcome of JoinGame.
type JoinResult struct {
	// NoGame reports that the room has no active session.
	NoGame bool
	// AlreadyJoined reports that the player's standing already existed.
	AlreadyJoined bool
	Session       Session
	Standing      Standing
}

// JoinGame adds a player to the room's active session. A duplicate join is
// a no-op reported through AlreadyJoined.
func (e *Engine) JoinGame(ctx context.Context, peerID, vkID int64) (JoinResult, error) {
	sess, err := e.store.GetActiveSession(ctx, peerID)
	if errors.Is(err, ErrNoActiveSession) {
		return JoinResult{NoGame: true}, nil
	}
	if err != nil {
		return JoinResult{}, fmt.Errorf("looking up session for peer %d: %w", peerID, err)
	}

	player, err := e.store.GetOrCreatePlayer(ctx, vkID)
	if err != nil {
		return JoinResult{}, fmt.Errorf("resolving player %d: %w", vkID, err)
	}

	standing, err := e.store.CreateStanding(ctx, sess.ID, player.ID, false)
	if errors.Is(err, ErrStandingExists) {
		return JoinResult{AlreadyJoined: true, Session: sess}, nil
	}
	if err != nil {
		return JoinResult{}, fmt.Errorf("recording standing: %w", err)
	}

	return JoinResult{Session: sess, Standing: standing}, nil
}

// StartResult is the outcome of StartGame.
type StartResult struct {
	// NoGame reports that the room has no active session.
	NoGame bool
	// NotCreator reports a start attempt by a player other than the creator.
	NotCreator bool
	// AlreadyStarted reports that the session was not in waiting_for_players.
	AlreadyStarted bool
	Session        Session
	// Question is the active question to announce.
	Question Question
}

// StartGame moves the room's session from waiting_for_players to
// in_progress. Only the creator may start; anyone else is refused without
// error.
func (e *Engine) StartGame(ctx context.Context, peerID, vkID int64) (StartResult, error) {
	sess, err := e.store.GetActiveSession(ctx, peerID)
	if errors.Is(err, ErrNoActiveSession) {
		return StartResult{NoGame: true}, nil
	}
	if err != nil {
		return StartResult{}, fmt.Errorf("looking up session for peer %d: %w", peerID, err)
	}
	if sess.State != StateWaitingForPlayers {
		return StartResult{AlreadyStarted: true, Session: sess}, nil
	}

	player, err := e.store.GetPlayer(ctx, vkID)
	if errors.Is(err, ErrPlayerNotFound) {
		return StartResult{NotCreator: true, Session: sess}, nil
	}
	if err != nil {
		return StartResult{}, fmt.Errorf("resolving player %d: %w", vkID, err)
	}

	standing, err := e.store.GetStanding(ctx, sess.ID, player.ID)
	if errors.Is(err, ErrStandingNotFound) {
		return StartResult{NotCreator: true, Session: sess}, nil
	}
	if err != nil {
		return StartResult{}, fmt.Errorf("looking up standing: %w", err)
	}
	if !standing.IsCreator {
		return StartResult{NotCreator: true, Session: sess}, nil
	}

	if err := e.store.SetSessionState(ctx, sess.ID, StateInProgress); err != nil {
		return StartResult{}, fmt.Errorf("starting session %d: %w", sess.ID, err)
	}
	sess.State = StateInProgress

	question, err := e.store.ActiveQuestion(ctx, sess.ID)
	if err != nil {
		return StartResult{}, fmt.Errorf("loading active question: %w", err)
	}

	return StartResult{Session: sess, Question: question}, nil
}

// AdvanceResult describes one roadmap-advance step.
type AdvanceResult struct {
	// Raced reports that a concurrent handler advanced first; nothing
	// changed and nothing should be announced.
	Raced bool
	// Ended reports that the roadmap was exhausted and the session ended.
	Ended bool
	// Next is the newly activated question when the session continues.
	Next *Question
	// Winner is set when the session ended with a surviving player.
	Winner *Winner
}

// AnswerResult is the outcome of SubmitAnswer.
type AnswerResult struct {
	// Ignored reports a silent no-op: unknown room, unjoined player, or
	// eliminated player.
	Ignored bool
	// Correct reports whether the text matched a candidate answer.
	Correct bool
	// Score is the matched answer's weight when Correct.
	Score int
	// Failures is the submitter's failure count after a miss.
	Failures int
	// Eliminated reports that this miss crossed the failure threshold.
	Eliminated bool
	Session    Session
	Advance    AdvanceResult
}

// SubmitAnswer resolves a player's free-text answer against the active
// question and advances the roadmap. Submissions from unknown rooms,
// unjoined players, or eliminated players are dropped silently.
//
// Postcondition: On a non-Ignored result the session's failure and point
// counters reflect the submission, and the roadmap has advanced at most
// one step.
func (e *Engine) SubmitAnswer(ctx context.Context, peerID, vkID int64, text string) (AnswerResult, error) {
	sess, err := e.store.GetActiveSession(ctx, peerID)
	if errors.Is(err, ErrNoActiveSession) {
		return AnswerResult{Ignored: true}, nil
	}
	if err != nil {
		return AnswerResult{}, fmt.Errorf("looking up session for peer %d: %w", peerID, err)
	}
	if sess.State != StateInProgress {
		return AnswerResult{Ignored: true}, nil
	}

	player, err := e.store.GetPlayer(ctx, vkID)
	if errors.Is(err, ErrPlayerNotFound) {
		return AnswerResult{Ignored: true}, nil
	}
	if err != nil {
		return AnswerResult{}, fmt.Errorf("resolving player %d: %w", vkID, err)
	}

	standing, err := e.store.GetStanding(ctx, sess.ID, player.ID)
	if errors.Is(err, ErrStandingNotFound) {
		return AnswerResult{Ignored: true}, nil
	}
	if err != nil {
		return AnswerResult{}, fmt.Errorf("looking up standing: %w", err)
	}
	if standing.Eliminated {
		return AnswerResult{Ignored: true}, nil
	}

	question, err := e.store.ActiveQuestion(ctx, sess.ID)
	if errors.Is(err, ErrNoActiveEntry) {
		// Session ended under us.
		return AnswerResult{Ignored: true}, nil
	}
	if err != nil {
		return AnswerResult{}, fmt.Errorf("loading active question: %w", err)
	}

	result := AnswerResult{Session: sess}
	if matched := matchAnswer(question, text); matched != nil {
		result.Correct = true
		result.Score = matched.Score
		if err := e.store.AddPoints(ctx, sess.ID, player.ID, matched.Score); err != nil {
			return AnswerResult{}, fmt.Errorf("adding points: %w", err)
		}
		if err := e.store.RecordAnswer(ctx, sess.ID, player.ID, matched.ID); err != nil {
			return AnswerResult{}, fmt.Errorf("recording answer: %w", err)
		}
	} else {
		failures, eliminated, err := e.store.AddFailure(ctx, sess.ID, player.ID, e.rules.FailureLimit)
		if err != nil {
			return AnswerResult{}, fmt.Errorf("adding failure: %w", err)
		}
		result.Failures = failures
		result.Eliminated = eliminated
	}

	advance, err := e.Advance(ctx, sess.ID)
	if err != nil {
		return AnswerResult{}, err
	}
	result.Advance = advance
	return result, nil
}

// Advance performs one roadmap-advance step for the session: the active
// entry is completed, the next one activated, or the session ended with a
// winner decided. Safe under concurrent calls; losers of the race get
// Raced=true.
func (e *Engine) Advance(ctx context.Context, sessionID int64) (AdvanceResult, error) {
	next, advanced, ended, err := e.store.AdvanceRoadmap(ctx, sessionID)
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("advancing roadmap for session %d: %w", sessionID, err)
	}
	if !advanced {
		return AdvanceResult{Raced: true}, nil
	}
	if !ended {
		return AdvanceResult{Next: next}, nil
	}

	result := AdvanceResult{Ended: true}
	standing, player, err := e.store.DecideWinner(ctx, sessionID)
	if errors.Is(err, ErrNoWinner) {
		return result, nil
	}
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("deciding winner for session %d: %w", sessionID, err)
	}
	result.Winner = &Winner{Standing: standing, Player: player}
	return result, nil
}

// EndResult is the outcome of EndGame.
type EndResult struct {
	// NoGame reports that the room has no active session.
	NoGame bool
	// Winner is nil when every standing was eliminated.
	Winner  *Winner
	Session Session
}

// EndGame terminates the room's active session and decides the winner.
func (e *Engine) EndGame(ctx context.Context, peerID int64) (EndResult, error) {
	sess, err := e.store.GetActiveSession(ctx, peerID)
	if errors.Is(err, ErrNoActiveSession) {
		return EndResult{NoGame: true}, nil
	}
	if err != nil {
		return EndResult{}, fmt.Errorf("looking up session for peer %d: %w", peerID, err)
	}

	if err := e.store.SetSessionState(ctx, sess.ID, StateEnded); err != nil {
		return EndResult{}, fmt.Errorf("ending session %d: %w", sess.ID, err)
	}
	sess.State = StateEnded

	result := EndResult{Session: sess}
	standing, player, err := e.store.DecideWinner(ctx, sess.ID)
	if errors.Is(err, ErrNoWinner) {
		return result, nil
	}
	if err != nil {
		return EndResult{}, fmt.Errorf("deciding winner for session %d: %w", sess.ID, err)
	}
	result.Winner = &Winner{Standing: standing, Player: player}
	return result, nil
}

// matchAnswer resolves text against the question's candidates using a
// case-normalized exact match on the trimmed title.
func matchAnswer(q Question, text string) *Answer {
	needle := strings.ToLower(strings.TrimSpace(text))
	for i := range q.Answers {
		if strings.ToLower(strings.TrimSpace(q.Answers[i].Title)) == needle {
			return &q.Answers[i]
		}
	}
	return nil
}
