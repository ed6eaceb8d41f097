// Package main provides the quizbot binary: the long-poll ingestion
// pipeline, the game engine, and the admin HTTP surface in one process.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/quizbot/internal/admin"
	"github.com/cory-johannsen/quizbot/internal/bot"
	"github.com/cory-johannsen/quizbot/internal/config"
	"github.com/cory-johannsen/quizbot/internal/game"
	"github.com/cory-johannsen/quizbot/internal/observability"
	"github.com/cory-johannsen/quizbot/internal/server"
	"github.com/cory-johannsen/quizbot/internal/storage/postgres"
	"github.com/cory-johannsen/quizbot/internal/vk"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	store := postgres.NewGameStore(pool.DB())
	engine := game.NewEngine(store, game.Rules{
		RoadmapSize:  cfg.Bot.RoadmapSize,
		FailureLimit: cfg.Bot.FailureLimit,
	})

	client := vk.NewClient(cfg.VK, logger)
	// A failed handshake is not fatal: the poller negotiates lazily.
	if err := client.Handshake(ctx); err != nil {
		logger.Warn("initial long-poll handshake failed", zap.Error(err))
	}

	handler := bot.NewHandler(engine, client,
		game.Rules{RoadmapSize: cfg.Bot.RoadmapSize, FailureLimit: cfg.Bot.FailureLimit},
		cfg.Bot.JoinWindowSeconds, logger)
	dispatcher := bot.NewDispatcher(handler, cfg.Bot.ReapInterval, logger)
	poller := bot.NewPoller(client, dispatcher, logger)

	adminSrv := admin.NewServer(cfg.Admin,
		postgres.NewAdminRepository(pool.DB()),
		postgres.NewQuestionRepository(pool.DB()),
		postgres.NewPlayerRepository(pool.DB()),
		postgres.NewReportRepository(pool.DB()),
		logger,
	)

	// Stop order is the reverse of Add order: the poller halts intake
	// first, the dispatcher drains its units, and the pool closes last.
	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("postgres", postgres.NewHealthService(pool, 30*time.Second, logger))
	lifecycle.Add("admin", adminSrv)
	lifecycle.Add("dispatcher", dispatcher)
	lifecycle.Add("poller", poller)

	logger.Info("quizbot initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Int64("group_id", cfg.VK.GroupID),
		zap.String("admin_addr", cfg.Admin.Addr()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
