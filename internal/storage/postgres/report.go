package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/quizbot/internal/game"
)

// ReportRepository provides the read models the admin surface lists:
// sessions, per-session standings, and per-session roadmaps.
type ReportRepository struct {
	db *pgxpool.Pool
}

// NewReportRepository creates a ReportRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewReportRepository(db *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{db: db}
}

// ListSessions returns a page of sessions, newest first.
//
// Precondition: limit must be > 0; offset must be >= 0.
func (r *ReportRepository) ListSessions(ctx context.Context, limit, offset int) ([]game.Session, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, peer_id, state, created_at, ended_at
		 FROM games ORDER BY id DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []game.Session
	for rows.Next() {
		var s game.Session
		if err := rows.Scan(&s.ID, &s.PeerID, &s.State, &s.StartedAt, &s.EndedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// ListStandings returns every standing of one session, joiners in join
// order.
func (r *ReportRepository) ListStandings(ctx context.Context, sessionID int64) ([]game.Standing, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, game_id, player_id, is_creator, points, failures, eliminated, winner, created_at
		 FROM standings WHERE game_id = $1 ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying standings: %w", err)
	}
	defer rows.Close()

	var standings []game.Standing
	for rows.Next() {
		var st game.Standing
		if err := rows.Scan(&st.ID, &st.SessionID, &st.PlayerID, &st.IsCreator,
			&st.Points, &st.Failures, &st.Eliminated, &st.Winner, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning standing: %w", err)
		}
		standings = append(standings, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating standings: %w", err)
	}
	return standings, nil
}

// ListRoadmap returns one session's roadmap in position order.
func (r *ReportRepository) ListRoadmap(ctx context.Context, sessionID int64) ([]game.RoadmapEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, game_id, question_id, position, status
		 FROM roadmap WHERE game_id = $1 ORDER BY position`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying roadmap: %w", err)
	}
	defer rows.Close()

	var entries []game.RoadmapEntry
	for rows.Next() {
		var e game.RoadmapEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.QuestionID, &e.Position, &e.Status); err != nil {
			return nil, fmt.Errorf("scanning roadmap entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roadmap: %w", err)
	}
	return entries, nil
}
