package game

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// AnswerFact is one recorded (session, player, answer) submission.
type AnswerFact struct {
	SessionID int64
	PlayerID  int64
	AnswerID  int64
}

// MemStore is an in-memory Store backing the engine and handler tests.
// It lives outside a _test.go file because test files cannot export
// symbols to other packages' tests. All methods take the single mutex,
// so each call is one atomic read-modify-write, matching the contract
// the SQL store provides.
type MemStore struct {
	mu        sync.Mutex
	nextID    int64
	questions []Question
	sessions  map[int64]*Session
	players   map[int64]Player
	standings []*Standing
	roadmaps  map[int64][]*RoadmapEntry
	facts     []AnswerFact
	rng       *rand.Rand
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[int64]*Session),
		players:  make(map[int64]Player),
		roadmaps: make(map[int64][]*RoadmapEntry),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Seed replaces the sampling source, pinning roadmap order for tests.
func (s *MemStore) Seed(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng = rand.New(rand.NewSource(seed))
}

// AddQuestion inserts a question with its answers into the bank and
// returns it with ids assigned.
func (s *MemStore) AddQuestion(title string, answers []Answer) Question {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	q := Question{ID: s.nextID, Title: title}
	for _, a := range answers {
		s.nextID++
		a.ID = s.nextID
		a.QuestionID = q.ID
		q.Answers = append(q.Answers, a)
	}
	s.questions = append(s.questions, q)
	return q
}

// Facts returns a copy of the recorded answer facts.
func (s *MemStore) Facts() []AnswerFact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AnswerFact, len(s.facts))
	copy(out, s.facts)
	return out
}

// Roadmap returns a copy of a session's roadmap entries in position order.
func (s *MemStore) Roadmap(sessionID int64) []RoadmapEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.roadmaps[sessionID]
	out := make([]RoadmapEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e)
	}
	return out
}

// GetActiveSession implements Store.
func (s *MemStore) GetActiveSession(_ context.Context, peerID int64) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSessionLocked(peerID)
}

func (s *MemStore) activeSessionLocked(peerID int64) (Session, error) {
	for _, sess := range s.sessions {
		if sess.PeerID == peerID && sess.State != StateEnded {
			return *sess, nil
		}
	}
	return Session{}, ErrNoActiveSession
}

// CreateSession implements Store.
func (s *MemStore) CreateSession(_ context.Context, peerID int64, size int) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.activeSessionLocked(peerID); err == nil {
		return Session{}, ErrSessionExists
	}
	if len(s.questions) < size {
		return Session{}, ErrBankTooSmall
	}

	s.nextID++
	sess := &Session{
		ID:        s.nextID,
		PeerID:    peerID,
		State:     StateWaitingForPlayers,
		StartedAt: time.Now(),
	}
	s.sessions[sess.ID] = sess

	perm := s.rng.Perm(len(s.questions))
	for pos := 0; pos < size; pos++ {
		q := s.questions[perm[pos]]
		s.nextID++
		entry := &RoadmapEntry{
			ID:         s.nextID,
			SessionID:  sess.ID,
			QuestionID: q.ID,
			Position:   pos,
			Status:     RoadmapPending,
		}
		if pos == 0 {
			entry.Status = RoadmapActive
		}
		s.roadmaps[sess.ID] = append(s.roadmaps[sess.ID], entry)
	}

	return *sess, nil
}

// SetSessionState implements Store.
func (s *MemStore) SetSessionState(_ context.Context, sessionID int64, state SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNoActiveSession
	}
	sess.State = state
	if state == StateEnded {
		now := time.Now()
		sess.EndedAt = &now
		for _, e := range s.roadmaps[sessionID] {
			if e.Status == RoadmapActive {
				e.Status = RoadmapDone
			}
		}
	}
	return nil
}

// GetPlayer implements Store.
func (s *MemStore) GetPlayer(_ context.Context, vkID int64) (Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[vkID]
	if !ok {
		return Player{}, ErrPlayerNotFound
	}
	return p, nil
}

// GetOrCreatePlayer implements Store.
func (s *MemStore) GetOrCreatePlayer(_ context.Context, vkID int64) (Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.players[vkID]; ok {
		return p, nil
	}
	s.nextID++
	p := Player{ID: s.nextID, VKID: vkID}
	s.players[vkID] = p
	return p, nil
}

// GetStanding implements Store.
func (s *MemStore) GetStanding(_ context.Context, sessionID, playerID int64) (Standing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.standingLocked(sessionID, playerID)
	if st == nil {
		return Standing{}, ErrStandingNotFound
	}
	return *st, nil
}

func (s *MemStore) standingLocked(sessionID, playerID int64) *Standing {
	for _, st := range s.standings {
		if st.SessionID == sessionID && st.PlayerID == playerID {
			return st
		}
	}
	return nil
}

// CreateStanding implements Store.
func (s *MemStore) CreateStanding(_ context.Context, sessionID, playerID int64, isCreator bool) (Standing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.standingLocked(sessionID, playerID); st != nil {
		return Standing{}, ErrStandingExists
	}
	s.nextID++
	st := &Standing{
		ID:        s.nextID,
		SessionID: sessionID,
		PlayerID:  playerID,
		IsCreator: isCreator,
		CreatedAt: time.Now(),
	}
	s.standings = append(s.standings, st)
	return *st, nil
}

// AddPoints implements Store.
func (s *MemStore) AddPoints(_ context.Context, sessionID, playerID int64, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.standingLocked(sessionID, playerID)
	if st == nil {
		return ErrStandingNotFound
	}
	st.Points += score
	return nil
}

// AddFailure implements Store.
func (s *MemStore) AddFailure(_ context.Context, sessionID, playerID int64, limit int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.standingLocked(sessionID, playerID)
	if st == nil {
		return 0, false, ErrStandingNotFound
	}
	st.Failures++
	crossed := false
	if st.Failures >= limit && !st.Eliminated {
		st.Eliminated = true
		crossed = true
	}
	return st.Failures, crossed, nil
}

// ActiveQuestion implements Store.
func (s *MemStore) ActiveQuestion(_ context.Context, sessionID int64) (Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.roadmaps[sessionID] {
		if e.Status == RoadmapActive {
			return s.questionLocked(e.QuestionID)
		}
	}
	return Question{}, ErrNoActiveEntry
}

func (s *MemStore) questionLocked(id int64) (Question, error) {
	for _, q := range s.questions {
		if q.ID == id {
			return q, nil
		}
	}
	return Question{}, ErrQuestionNotFound
}

// AdvanceRoadmap implements Store.
func (s *MemStore) AdvanceRoadmap(_ context.Context, sessionID int64) (*Question, bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.roadmaps[sessionID]
	sort.Slice(entries, func(i, j int) bool { return entries[i].Position < entries[j].Position })

	active := -1
	for i, e := range entries {
		if e.Status == RoadmapActive {
			active = i
			break
		}
	}
	if active == -1 {
		return nil, false, false, nil
	}

	entries[active].Status = RoadmapDone
	if active+1 < len(entries) {
		entries[active+1].Status = RoadmapActive
		q, err := s.questionLocked(entries[active+1].QuestionID)
		if err != nil {
			return nil, false, false, err
		}
		return &q, true, false, nil
	}

	sess := s.sessions[sessionID]
	sess.State = StateEnded
	now := time.Now()
	sess.EndedAt = &now
	return nil, true, true, nil
}

// RecordAnswer implements Store.
func (s *MemStore) RecordAnswer(_ context.Context, sessionID, playerID, answerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = append(s.facts, AnswerFact{SessionID: sessionID, PlayerID: playerID, AnswerID: answerID})
	return nil
}

// DecideWinner implements Store.
func (s *MemStore) DecideWinner(_ context.Context, sessionID int64) (Standing, Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Standing
	for _, st := range s.standings {
		if st.SessionID != sessionID || st.Eliminated {
			continue
		}
		// Insertion order breaks ties: strictly-greater keeps the earliest.
		if best == nil || st.Points > best.Points {
			best = st
		}
	}
	if best == nil {
		return Standing{}, Player{}, ErrNoWinner
	}
	best.Winner = true

	for _, p := range s.players {
		if p.ID == best.PlayerID {
			return *best, p, nil
		}
	}
	return *best, Player{}, nil
}

var _ Store = (*MemStore)(nil)
