// Package generator drafts survey-style questions for the bank using an
// LLM. Output is a reviewable draft, not a direct database write: the
// importer decides what actually lands in the bank.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/cory-johannsen/quizbot/internal/game"
)

const systemPrompt = "You write survey-style trivia questions. " +
	"Each question asks for something many people would name, and carries exactly three answers " +
	"with integer popularity scores that sum to at most 100, highest first. " +
	"Respond with a JSON array only, no prose: " +
	`[{"title": "...", "answers": [{"title": "...", "score": 43}, ...]}]`

// Completer produces one model completion for a prompt pair.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// anthropicCompleter backs Completer with the Anthropic Messages API.
type anthropicCompleter struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewCompleter creates a Completer for the given API key and model name.
//
// Precondition: apiKey must be non-empty.
func NewCompleter(apiKey, model string) Completer {
	return &anthropicCompleter{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

func (c *anthropicCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 2048,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("requesting completion: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// Generator drafts question-bank entries.
type Generator struct {
	completer Completer
	logger    *zap.Logger
}

// NewGenerator creates a Generator.
//
// Precondition: completer and logger must be non-nil.
func NewGenerator(completer Completer, logger *zap.Logger) *Generator {
	return &Generator{completer: completer, logger: logger}
}

type draftAnswer struct {
	Title string `json:"title"`
	Score int    `json:"score"`
}

type draftQuestion struct {
	Title   string        `json:"title"`
	Answers []draftAnswer `json:"answers"`
}

// Draft asks the model for count questions about topic and parses the
// reply. Malformed entries are dropped with a log line; the call fails
// only when the reply as a whole is unusable.
//
// Precondition: count must be > 0.
// Postcondition: Every returned Question has exactly the fixed answer
// count with positive scores in descending order.
func (g *Generator) Draft(ctx context.Context, topic string, count int) ([]game.Question, error) {
	prompt := fmt.Sprintf("Write %d questions about: %s", count, topic)
	reply, err := g.completer.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	raw := extractJSONArray(reply)
	var drafts []draftQuestion
	if err := json.Unmarshal([]byte(raw), &drafts); err != nil {
		return nil, fmt.Errorf("parsing model reply: %w", err)
	}

	questions := make([]game.Question, 0, len(drafts))
	for _, d := range drafts {
		q, ok := g.validate(d)
		if !ok {
			continue
		}
		questions = append(questions, q)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("model reply contained no usable questions")
	}
	return questions, nil
}

func (g *Generator) validate(d draftQuestion) (game.Question, bool) {
	if strings.TrimSpace(d.Title) == "" || len(d.Answers) != game.AnswersPerQuestion {
		g.logger.Warn("dropping malformed draft question", zap.String("title", d.Title))
		return game.Question{}, false
	}
	q := game.Question{Title: strings.TrimSpace(d.Title)}
	for i, a := range d.Answers {
		if strings.TrimSpace(a.Title) == "" || a.Score <= 0 {
			g.logger.Warn("dropping draft question with bad answer",
				zap.String("title", d.Title),
				zap.Int("answer", i),
			)
			return game.Question{}, false
		}
		if i > 0 && a.Score > d.Answers[i-1].Score {
			g.logger.Warn("dropping draft question with unsorted scores",
				zap.String("title", d.Title),
			)
			return game.Question{}, false
		}
		q.Answers = append(q.Answers, game.Answer{Title: strings.TrimSpace(a.Title), Score: a.Score})
	}
	return q, true
}

// extractJSONArray trims any prose the model wrapped around the array.
func extractJSONArray(reply string) string {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start == -1 || end == -1 || end < start {
		return reply
	}
	return reply[start : end+1]
}
