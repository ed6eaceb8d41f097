// Package importer loads question-bank YAML files and writes their
// contents into persistent storage.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/quizbot/internal/game"
	"github.com/cory-johannsen/quizbot/internal/storage/postgres"
)

// Bank is the storage surface the importer writes to.
type Bank interface {
	Create(ctx context.Context, title string, answers []game.Answer) (game.Question, error)
}

type fileFormat struct {
	Questions []questionEntry `yaml:"questions"`
}

type questionEntry struct {
	Title   string        `yaml:"title"`
	Answers []answerEntry `yaml:"answers"`
}

type answerEntry struct {
	Title string `yaml:"title"`
	Score int    `yaml:"score"`
}

// Load parses a question YAML file and validates every entry.
//
// Postcondition: Every returned Question has a non-empty title and
// exactly the fixed answer count with positive scores.
func Load(path string) ([]game.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var file fileFormat
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(file.Questions) == 0 {
		return nil, fmt.Errorf("%s contains no questions", path)
	}

	questions := make([]game.Question, 0, len(file.Questions))
	for i, entry := range file.Questions {
		q, err := convert(entry)
		if err != nil {
			return nil, fmt.Errorf("question %d in %s: %w", i+1, path, err)
		}
		questions = append(questions, q)
	}
	return questions, nil
}

func convert(entry questionEntry) (game.Question, error) {
	title := strings.TrimSpace(entry.Title)
	if title == "" {
		return game.Question{}, errors.New("title is empty")
	}
	if len(entry.Answers) != game.AnswersPerQuestion {
		return game.Question{}, fmt.Errorf("has %d answers, want %d", len(entry.Answers), game.AnswersPerQuestion)
	}

	q := game.Question{Title: title}
	for j, a := range entry.Answers {
		answerTitle := strings.TrimSpace(a.Title)
		if answerTitle == "" {
			return game.Question{}, fmt.Errorf("answer %d has an empty title", j+1)
		}
		if a.Score <= 0 {
			return game.Question{}, fmt.Errorf("answer %q has non-positive score %d", answerTitle, a.Score)
		}
		q.Answers = append(q.Answers, game.Answer{Title: answerTitle, Score: a.Score})
	}
	return q, nil
}

// Result summarises one import run.
type Result struct {
	Inserted int
	Skipped  int
}

// Import writes questions into the bank, skipping titles that already
// exist.
//
// Postcondition: Inserted+Skipped equals len(questions) on success.
func Import(ctx context.Context, bank Bank, questions []game.Question) (Result, error) {
	var res Result
	for _, q := range questions {
		_, err := bank.Create(ctx, q.Title, q.Answers)
		if errors.Is(err, postgres.ErrQuestionExists) {
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("importing %q: %w", q.Title, err)
		}
		res.Inserted++
	}
	return res, nil
}
