// Package testutil provides test helpers including container management.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cory-johannsen/quizbot/internal/config"
	"github.com/cory-johannsen/quizbot/internal/storage/postgres"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance.
type PostgresContainer struct {
	container testcontainers.Container
	Pool      *postgres.Pool
	RawPool   *pgxpool.Pool
	Config    config.DatabaseConfig
}

// NewPool starts a PostgreSQL test container with the schema applied and
// returns its raw connection pool.
//
// Precondition: Docker must be available.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	pc := NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	return pc.RawPool
}

// NewPostgresContainer starts a PostgreSQL test container and returns
// a connected Pool.
//
// Precondition: Docker must be available.
// Postcondition: Returns a running container with a connected pool,
// or fails the test.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v [%s]", err, time.Since(start))
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("getting container host: %v", err)
	}

	mappedPort, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("getting mapped port: %v", err)
	}

	dbCfg := config.DatabaseConfig{
		Host:            host,
		Port:            mappedPort.Int(),
		User:            "test",
		Password:        "test",
		Name:            "test",
		SSLMode:         "disable",
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
	}

	pool, err := postgres.NewPool(ctx, dbCfg)
	if err != nil {
		t.Fatalf("connecting to test postgres: %v [%s]", err, time.Since(start))
	}

	t.Logf("postgres container started [%s]", time.Since(start))

	pc := &PostgresContainer{
		container: container,
		Pool:      pool,
		RawPool:   pool.DB(),
		Config:    dbCfg,
	}

	t.Cleanup(func() {
		pool.Close()
		_ = container.Terminate(ctx)
	})

	return pc
}

// ApplyMigrations runs the schema creation SQL directly for tests.
// This avoids requiring the migrate tool in the test environment.
//
// Precondition: Pool must be connected.
// Postcondition: The full quizbot schema exists in the test database.
func (pc *PostgresContainer) ApplyMigrations(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	schema := `
		CREATE TABLE IF NOT EXISTS players (
			id         BIGSERIAL   PRIMARY KEY,
			vk_id      BIGINT      NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS questions (
			id         BIGSERIAL   PRIMARY KEY,
			title      TEXT        NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS answers (
			id          BIGSERIAL PRIMARY KEY,
			question_id BIGINT    NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
			title       TEXT      NOT NULL,
			score       INTEGER   NOT NULL,
			UNIQUE (question_id, title)
		);

		CREATE TABLE IF NOT EXISTS games (
			id         BIGSERIAL   PRIMARY KEY,
			peer_id    BIGINT      NOT NULL,
			state      VARCHAR(32) NOT NULL DEFAULT 'waiting_for_players',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ended_at   TIMESTAMPTZ
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_games_active_peer
			ON games (peer_id) WHERE state <> 'ended';

		CREATE TABLE IF NOT EXISTS standings (
			id         BIGSERIAL   PRIMARY KEY,
			game_id    BIGINT      NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			player_id  BIGINT      NOT NULL REFERENCES players(id),
			is_creator BOOLEAN     NOT NULL DEFAULT FALSE,
			points     INTEGER     NOT NULL DEFAULT 0,
			failures   INTEGER     NOT NULL DEFAULT 0,
			eliminated BOOLEAN     NOT NULL DEFAULT FALSE,
			winner     BOOLEAN     NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (game_id, player_id)
		);

		CREATE TABLE IF NOT EXISTS roadmap (
			id          BIGSERIAL PRIMARY KEY,
			game_id     BIGINT    NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			question_id BIGINT    NOT NULL REFERENCES questions(id),
			position    INTEGER   NOT NULL,
			status      INTEGER   NOT NULL DEFAULT 0,
			UNIQUE (game_id, position)
		);

		CREATE TABLE IF NOT EXISTS game_answers (
			id         BIGSERIAL   PRIMARY KEY,
			game_id    BIGINT      NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			player_id  BIGINT      NOT NULL REFERENCES players(id),
			answer_id  BIGINT      NOT NULL REFERENCES answers(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS admins (
			id            BIGSERIAL   PRIMARY KEY,
			username      VARCHAR(64) NOT NULL UNIQUE,
			password_hash TEXT        NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`

	_, err := pc.RawPool.Exec(ctx, schema)
	if err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	t.Logf("migrations applied [%s]", time.Since(start))
}

// DSN returns the connection string for the test database.
func (pc *PostgresContainer) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pc.Config.User, pc.Config.Password,
		pc.Config.Host, pc.Config.Port,
		pc.Config.Name, pc.Config.SSLMode,
	)
}
