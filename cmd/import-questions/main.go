// Package main provides the question-bank import tool. It loads
// questions from a YAML file, or drafts them with an LLM, and inserts
// them through the question repository, skipping duplicates.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/quizbot/internal/config"
	"github.com/cory-johannsen/quizbot/internal/game"
	"github.com/cory-johannsen/quizbot/internal/generator"
	"github.com/cory-johannsen/quizbot/internal/importer"
	"github.com/cory-johannsen/quizbot/internal/observability"
	"github.com/cory-johannsen/quizbot/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	file := flag.String("file", "", "path to a question YAML file")
	topic := flag.String("generate", "", "draft questions about this topic instead of reading a file")
	count := flag.Int("count", 5, "number of questions to draft with -generate")
	model := flag.String("model", "claude-3-5-haiku-latest", "model name used with -generate")
	flag.Parse()

	if (*file == "") == (*topic == "") {
		fmt.Fprintln(os.Stderr, "usage: import-questions -config <path> (-file <yaml> | -generate <topic> [-count n] [-model name])")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Logging, zap.String("component", "import-questions"))
	if err != nil {
		log.Fatalf("creating logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	var questions []game.Question
	if *file != "" {
		questions, err = importer.Load(*file)
		if err != nil {
			logger.Fatal("loading question file", zap.Error(err))
		}
	} else {
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			logger.Fatal("ANTHROPIC_API_KEY is not set")
		}
		gen := generator.NewGenerator(generator.NewCompleter(apiKey, *model), logger)
		questions, err = gen.Draft(ctx, *topic, *count)
		if err != nil {
			logger.Fatal("drafting questions", zap.Error(err))
		}
		logger.Info("drafted questions",
			zap.String("topic", *topic),
			zap.Int("requested", *count),
			zap.Int("usable", len(questions)))
	}

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	defer pool.Close()

	res, err := importer.Import(ctx, postgres.NewQuestionRepository(pool.DB()), questions)
	if err != nil {
		logger.Fatal("importing questions",
			zap.Int("inserted", res.Inserted),
			zap.Int("skipped", res.Skipped),
			zap.Error(err))
	}

	fmt.Printf("imported %d questions (%d duplicates skipped) in %s\n",
		res.Inserted, res.Skipped, time.Since(start).Round(time.Millisecond))
}
