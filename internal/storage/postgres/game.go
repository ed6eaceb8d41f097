package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/quizbot/internal/game"
)

// GameStore is the PostgreSQL implementation of game.Store. Each method
// is a single atomic read-modify-write: multi-statement operations run
// inside one transaction, so concurrent handler units racing on the same
// session resolve inside the database.
type GameStore struct {
	db *pgxpool.Pool
}

// NewGameStore creates a GameStore backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewGameStore(db *pgxpool.Pool) *GameStore {
	return &GameStore{db: db}
}

var _ game.Store = (*GameStore)(nil)

// GetActiveSession returns the room's session in a non-ended state.
//
// Postcondition: Returns game.ErrNoActiveSession when the room has no
// active session.
func (s *GameStore) GetActiveSession(ctx context.Context, peerID int64) (game.Session, error) {
	var sess game.Session
	err := s.db.QueryRow(ctx,
		`SELECT id, peer_id, state, created_at, ended_at
		 FROM games WHERE peer_id = $1 AND state <> $2`,
		peerID, game.StateEnded,
	).Scan(&sess.ID, &sess.PeerID, &sess.State, &sess.StartedAt, &sess.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return game.Session{}, game.ErrNoActiveSession
		}
		return game.Session{}, fmt.Errorf("querying active session: %w", err)
	}
	return sess, nil
}

// CreateSession inserts a session for the room and samples its roadmap
// in one transaction. The partial unique index on active games makes a
// concurrent double-create lose with a duplicate-key error.
//
// Precondition: size must be > 0.
// Postcondition: Returns game.ErrSessionExists when the room already has
// an active session, or game.ErrBankTooSmall when the question bank has
// fewer than size questions.
func (s *GameStore) CreateSession(ctx context.Context, peerID int64, size int) (game.Session, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return game.Session{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var sess game.Session
	err = tx.QueryRow(ctx,
		`INSERT INTO games (peer_id, state)
		 VALUES ($1, $2)
		 RETURNING id, peer_id, state, created_at, ended_at`,
		peerID, game.StateWaitingForPlayers,
	).Scan(&sess.ID, &sess.PeerID, &sess.State, &sess.StartedAt, &sess.EndedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return game.Session{}, game.ErrSessionExists
		}
		return game.Session{}, fmt.Errorf("inserting session: %w", err)
	}

	// Sample the roadmap in one statement; position 0 starts active.
	tag, err := tx.Exec(ctx,
		`INSERT INTO roadmap (game_id, question_id, position, status)
		 SELECT $1, id, row_number() OVER () - 1,
		        CASE WHEN row_number() OVER () = 1 THEN $2::int ELSE $3::int END
		 FROM (SELECT id FROM questions ORDER BY random() LIMIT $4) sampled`,
		sess.ID, int(game.RoadmapActive), int(game.RoadmapPending), size,
	)
	if err != nil {
		return game.Session{}, fmt.Errorf("sampling roadmap: %w", err)
	}
	if tag.RowsAffected() < int64(size) {
		return game.Session{}, game.ErrBankTooSmall
	}

	if err := tx.Commit(ctx); err != nil {
		return game.Session{}, fmt.Errorf("committing session: %w", err)
	}
	return sess, nil
}

// SetSessionState transitions a session. Ending a session also stamps
// ended_at and closes its active roadmap entry in the same transaction,
// so an ended session never holds an open entry.
func (s *GameStore) SetSessionState(ctx context.Context, sessionID int64, state game.SessionState) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE games
		 SET state = $1,
		     ended_at = CASE WHEN $1 = $2 THEN NOW() ELSE ended_at END
		 WHERE id = $3`,
		state, game.StateEnded, sessionID,
	)
	if err != nil {
		return fmt.Errorf("updating session state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return game.ErrNoActiveSession
	}

	if state == game.StateEnded {
		if _, err := tx.Exec(ctx,
			`UPDATE roadmap SET status = $1 WHERE game_id = $2 AND status = $3`,
			int(game.RoadmapDone), sessionID, int(game.RoadmapActive),
		); err != nil {
			return fmt.Errorf("closing active roadmap entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing state transition: %w", err)
	}
	return nil
}

// GetPlayer retrieves a player by platform id.
//
// Postcondition: Returns game.ErrPlayerNotFound when the id is unknown.
func (s *GameStore) GetPlayer(ctx context.Context, vkID int64) (game.Player, error) {
	var p game.Player
	err := s.db.QueryRow(ctx,
		`SELECT id, vk_id FROM players WHERE vk_id = $1`, vkID,
	).Scan(&p.ID, &p.VKID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return game.Player{}, game.ErrPlayerNotFound
		}
		return game.Player{}, fmt.Errorf("querying player: %w", err)
	}
	return p, nil
}

// GetOrCreatePlayer upserts the player row for a platform id.
func (s *GameStore) GetOrCreatePlayer(ctx context.Context, vkID int64) (game.Player, error) {
	var p game.Player
	err := s.db.QueryRow(ctx,
		`INSERT INTO players (vk_id) VALUES ($1)
		 ON CONFLICT (vk_id) DO UPDATE SET vk_id = EXCLUDED.vk_id
		 RETURNING id, vk_id`,
		vkID,
	).Scan(&p.ID, &p.VKID)
	if err != nil {
		return game.Player{}, fmt.Errorf("upserting player: %w", err)
	}
	return p, nil
}

// GetStanding retrieves a player's standing in a session.
//
// Postcondition: Returns game.ErrStandingNotFound when the player has not
// joined the session.
func (s *GameStore) GetStanding(ctx context.Context, sessionID, playerID int64) (game.Standing, error) {
	var st game.Standing
	err := s.db.QueryRow(ctx,
		`SELECT id, game_id, player_id, is_creator, points, failures, eliminated, winner, created_at
		 FROM standings WHERE game_id = $1 AND player_id = $2`,
		sessionID, playerID,
	).Scan(&st.ID, &st.SessionID, &st.PlayerID, &st.IsCreator,
		&st.Points, &st.Failures, &st.Eliminated, &st.Winner, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return game.Standing{}, game.ErrStandingNotFound
		}
		return game.Standing{}, fmt.Errorf("querying standing: %w", err)
	}
	return st, nil
}

// CreateStanding records a player joining a session.
//
// Postcondition: Returns game.ErrStandingExists on a duplicate join.
func (s *GameStore) CreateStanding(ctx context.Context, sessionID, playerID int64, isCreator bool) (game.Standing, error) {
	var st game.Standing
	err := s.db.QueryRow(ctx,
		`INSERT INTO standings (game_id, player_id, is_creator)
		 VALUES ($1, $2, $3)
		 RETURNING id, game_id, player_id, is_creator, points, failures, eliminated, winner, created_at`,
		sessionID, playerID, isCreator,
	).Scan(&st.ID, &st.SessionID, &st.PlayerID, &st.IsCreator,
		&st.Points, &st.Failures, &st.Eliminated, &st.Winner, &st.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return game.Standing{}, game.ErrStandingExists
		}
		return game.Standing{}, fmt.Errorf("inserting standing: %w", err)
	}
	return st, nil
}

// AddPoints credits a correct answer. The increment runs in SQL so
// concurrent scorers never lose an update.
func (s *GameStore) AddPoints(ctx context.Context, sessionID, playerID int64, score int) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE standings SET points = points + $1
		 WHERE game_id = $2 AND player_id = $3`,
		score, sessionID, playerID,
	)
	if err != nil {
		return fmt.Errorf("adding points: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return game.ErrStandingNotFound
	}
	return nil
}

// AddFailure records a miss and flips eliminated once failures reach
// limit. The increment and the flag update are one statement, so the
// count is monotonic and elimination is sticky under concurrency.
func (s *GameStore) AddFailure(ctx context.Context, sessionID, playerID int64, limit int) (int, bool, error) {
	var failures int
	var eliminated bool
	err := s.db.QueryRow(ctx,
		`UPDATE standings
		 SET failures = failures + 1,
		     eliminated = eliminated OR failures + 1 >= $1
		 WHERE game_id = $2 AND player_id = $3
		 RETURNING failures, eliminated`,
		limit, sessionID, playerID,
	).Scan(&failures, &eliminated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, game.ErrStandingNotFound
		}
		return 0, false, fmt.Errorf("adding failure: %w", err)
	}
	return failures, eliminated, nil
}

// ActiveQuestion loads the question behind the session's active roadmap
// entry, answers included.
//
// Postcondition: Returns game.ErrNoActiveEntry when no entry is active.
func (s *GameStore) ActiveQuestion(ctx context.Context, sessionID int64) (game.Question, error) {
	var questionID int64
	err := s.db.QueryRow(ctx,
		`SELECT question_id FROM roadmap
		 WHERE game_id = $1 AND status = $2`,
		sessionID, int(game.RoadmapActive),
	).Scan(&questionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return game.Question{}, game.ErrNoActiveEntry
		}
		return game.Question{}, fmt.Errorf("querying active roadmap entry: %w", err)
	}
	return s.loadQuestion(ctx, s.db, questionID)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *GameStore) loadQuestion(ctx context.Context, q querier, questionID int64) (game.Question, error) {
	var question game.Question
	err := q.QueryRow(ctx,
		`SELECT id, title FROM questions WHERE id = $1`, questionID,
	).Scan(&question.ID, &question.Title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return game.Question{}, game.ErrQuestionNotFound
		}
		return game.Question{}, fmt.Errorf("querying question: %w", err)
	}

	rows, err := q.Query(ctx,
		`SELECT id, question_id, title, score
		 FROM answers WHERE question_id = $1
		 ORDER BY score DESC`,
		questionID,
	)
	if err != nil {
		return game.Question{}, fmt.Errorf("querying answers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a game.Answer
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.Title, &a.Score); err != nil {
			return game.Question{}, fmt.Errorf("scanning answer: %w", err)
		}
		question.Answers = append(question.Answers, a)
	}
	if err := rows.Err(); err != nil {
		return game.Question{}, fmt.Errorf("iterating answers: %w", err)
	}
	return question, nil
}

// AdvanceRoadmap marks the active entry done and activates the next one,
// ending the session when none remains. The whole step is one transaction
// with the active entry row-locked, so exactly one concurrent caller
// advances; the rest observe no active entry and report not-advanced.
//
// Postcondition: Returns (next, true, false) when a next question became
// active, (nil, true, true) when the session ended, and (nil, false,
// false) when another caller advanced first.
func (s *GameStore) AdvanceRoadmap(ctx context.Context, sessionID int64) (*game.Question, bool, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var entryID int64
	var position int
	err = tx.QueryRow(ctx,
		`SELECT id, position FROM roadmap
		 WHERE game_id = $1 AND status = $2
		 FOR UPDATE SKIP LOCKED`,
		sessionID, int(game.RoadmapActive),
	).Scan(&entryID, &position)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race, or the session already ended.
			return nil, false, false, nil
		}
		return nil, false, false, fmt.Errorf("locking active roadmap entry: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE roadmap SET status = $1 WHERE id = $2`,
		int(game.RoadmapDone), entryID,
	); err != nil {
		return nil, false, false, fmt.Errorf("completing roadmap entry: %w", err)
	}

	var nextQuestionID int64
	err = tx.QueryRow(ctx,
		`UPDATE roadmap SET status = $1
		 WHERE game_id = $2 AND position = $3
		 RETURNING question_id`,
		int(game.RoadmapActive), sessionID, position+1,
	).Scan(&nextQuestionID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Roadmap exhausted: the session ends here.
		if _, err := tx.Exec(ctx,
			`UPDATE games SET state = $1, ended_at = NOW() WHERE id = $2`,
			game.StateEnded, sessionID,
		); err != nil {
			return nil, false, false, fmt.Errorf("ending session: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, false, fmt.Errorf("committing advance: %w", err)
		}
		return nil, true, true, nil
	}
	if err != nil {
		return nil, false, false, fmt.Errorf("activating next roadmap entry: %w", err)
	}

	next, err := s.loadQuestion(ctx, tx, nextQuestionID)
	if err != nil {
		return nil, false, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, false, fmt.Errorf("committing advance: %w", err)
	}
	return &next, true, false, nil
}

// RecordAnswer appends a correct-answer fact for auditability.
func (s *GameStore) RecordAnswer(ctx context.Context, sessionID, playerID, answerID int64) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO game_answers (game_id, player_id, answer_id)
		 VALUES ($1, $2, $3)`,
		sessionID, playerID, answerID,
	)
	if err != nil {
		return fmt.Errorf("recording answer: %w", err)
	}
	return nil
}

// DecideWinner marks and returns the winning standing: maximum points
// among non-eliminated players, ties broken by earliest join.
//
// Postcondition: Returns game.ErrNoWinner when every standing was
// eliminated.
func (s *GameStore) DecideWinner(ctx context.Context, sessionID int64) (game.Standing, game.Player, error) {
	var st game.Standing
	var p game.Player
	err := s.db.QueryRow(ctx,
		`UPDATE standings SET winner = TRUE
		 WHERE id = (
		     SELECT id FROM standings
		     WHERE game_id = $1 AND NOT eliminated
		     ORDER BY points DESC, created_at ASC, id ASC
		     LIMIT 1
		 )
		 RETURNING id, game_id, player_id, is_creator, points, failures, eliminated, winner, created_at`,
		sessionID,
	).Scan(&st.ID, &st.SessionID, &st.PlayerID, &st.IsCreator,
		&st.Points, &st.Failures, &st.Eliminated, &st.Winner, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return game.Standing{}, game.Player{}, game.ErrNoWinner
		}
		return game.Standing{}, game.Player{}, fmt.Errorf("deciding winner: %w", err)
	}

	err = s.db.QueryRow(ctx,
		`SELECT id, vk_id FROM players WHERE id = $1`, st.PlayerID,
	).Scan(&p.ID, &p.VKID)
	if err != nil {
		return game.Standing{}, game.Player{}, fmt.Errorf("querying winning player: %w", err)
	}
	return st, p, nil
}
