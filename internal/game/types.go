// Package game implements the trivia session domain model and the state
// machine that drives a session from creation through elimination and
// winner computation.
package game

import (
	"errors"
	"time"
)

// SessionState is the lifecycle state of a trivia session. The absent
// state is represented by the lack of a session row for a room.
type SessionState string

// Session lifecycle states.
const (
	StateWaitingForPlayers SessionState = "waiting_for_players"
	StateInProgress        SessionState = "in_progress"
	StateEnded             SessionState = "ended"
)

// RoadmapStatus is the progression state of one roadmap entry.
type RoadmapStatus int

// Roadmap entry states. At most one entry per session is Active.
const (
	RoadmapPending RoadmapStatus = iota
	RoadmapActive
	RoadmapDone
)

// Session is one trivia game bound to a chat room (peer).
type Session struct {
	ID        int64
	PeerID    int64
	State     SessionState
	StartedAt time.Time
	EndedAt   *time.Time
}

// Player is a platform user known to the bot. A player exists across
// sessions; per-session scoring lives in Standing.
type Player struct {
	ID   int64
	VKID int64
}

// Standing is a player's per-session scoring and elimination record.
type Standing struct {
	ID         int64
	SessionID  int64
	PlayerID   int64
	IsCreator  bool
	Points     int
	Failures   int
	Eliminated bool
	Winner     bool
	CreatedAt  time.Time
}

// Answer is one of a question's three candidate answers.
type Answer struct {
	ID         int64
	QuestionID int64
	Title      string
	Score      int
}

// Question is a prompt with exactly three weighted answers.
type Question struct {
	ID      int64
	Title   string
	Answers []Answer
}

// RoadmapEntry is one step of a session's fixed question sequence.
type RoadmapEntry struct {
	ID         int64
	SessionID  int64
	QuestionID int64
	Position   int
	Status     RoadmapStatus
}

// AnswersPerQuestion is the fixed number of candidate answers a question
// carries.
const AnswersPerQuestion = 3

// Sentinel errors shared by the engine and the persistence accessor.
var (
	// ErrNoActiveSession is returned when a room has no session in the
	// waiting_for_players or in_progress state.
	ErrNoActiveSession = errors.New("no active session for room")
	// ErrSessionExists is returned when a room already has an active session.
	ErrSessionExists = errors.New("active session already exists for room")
	// ErrPlayerNotFound is returned when a platform user is unknown.
	ErrPlayerNotFound = errors.New("player not found")
	// ErrStandingNotFound is returned when a player has not joined a session.
	ErrStandingNotFound = errors.New("standing not found")
	// ErrStandingExists is returned on a duplicate join.
	ErrStandingExists = errors.New("standing already exists")
	// ErrNoActiveEntry is returned when a session's roadmap has no active
	// entry, which only holds for ended sessions.
	ErrNoActiveEntry = errors.New("no active roadmap entry")
	// ErrNoWinner is returned when every standing was eliminated.
	ErrNoWinner = errors.New("no winner: all players eliminated")
	// ErrQuestionNotFound is returned when a question lookup yields nothing.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrBankTooSmall is returned when the question bank holds fewer
	// questions than a roadmap needs.
	ErrBankTooSmall = errors.New("question bank smaller than roadmap size")
)
