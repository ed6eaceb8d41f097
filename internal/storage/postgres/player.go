package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/quizbot/internal/game"
)

// PlayerRepository provides read access to the player roster for the
// admin surface. Write paths go through GameStore, which upserts players
// as they interact with the bot.
type PlayerRepository struct {
	db *pgxpool.Pool
}

// NewPlayerRepository creates a PlayerRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewPlayerRepository(db *pgxpool.Pool) *PlayerRepository {
	return &PlayerRepository{db: db}
}

// List returns a page of players ordered by id.
//
// Precondition: limit must be > 0; offset must be >= 0.
func (r *PlayerRepository) List(ctx context.Context, limit, offset int) ([]game.Player, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, vk_id FROM players ORDER BY id LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying players: %w", err)
	}
	defer rows.Close()

	var players []game.Player
	for rows.Next() {
		var p game.Player
		if err := rows.Scan(&p.ID, &p.VKID); err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating players: %w", err)
	}
	return players, nil
}

// Count returns the total number of known players.
func (r *PlayerRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM players`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting players: %w", err)
	}
	return n, nil
}
