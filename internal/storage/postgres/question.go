package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/quizbot/internal/game"
)

// ErrQuestionExists is returned when creating a question whose title is
// already in the bank.
var ErrQuestionExists = errors.New("question already exists")

// ErrWrongAnswerCount is returned when a question is written with an
// answer list that is not exactly the fixed size.
var ErrWrongAnswerCount = fmt.Errorf("a question requires exactly %d answers", game.AnswersPerQuestion)

// QuestionRepository provides question-bank persistence for the admin
// surface and the importer.
type QuestionRepository struct {
	db *pgxpool.Pool
}

// NewQuestionRepository creates a QuestionRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewQuestionRepository(db *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// Create inserts a question and its answers in one transaction.
//
// Precondition: title must be non-empty.
// Postcondition: Returns the created Question with all IDs set,
// ErrQuestionExists on a duplicate title, or ErrWrongAnswerCount when
// answers is not exactly the fixed size.
func (r *QuestionRepository) Create(ctx context.Context, title string, answers []game.Answer) (game.Question, error) {
	if len(answers) != game.AnswersPerQuestion {
		return game.Question{}, ErrWrongAnswerCount
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return game.Question{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var q game.Question
	err = tx.QueryRow(ctx,
		`INSERT INTO questions (title) VALUES ($1) RETURNING id, title`,
		title,
	).Scan(&q.ID, &q.Title)
	if err != nil {
		if isDuplicateKeyError(err) {
			return game.Question{}, ErrQuestionExists
		}
		return game.Question{}, fmt.Errorf("inserting question: %w", err)
	}

	for _, a := range answers {
		var inserted game.Answer
		err = tx.QueryRow(ctx,
			`INSERT INTO answers (question_id, title, score)
			 VALUES ($1, $2, $3)
			 RETURNING id, question_id, title, score`,
			q.ID, a.Title, a.Score,
		).Scan(&inserted.ID, &inserted.QuestionID, &inserted.Title, &inserted.Score)
		if err != nil {
			return game.Question{}, fmt.Errorf("inserting answer: %w", err)
		}
		q.Answers = append(q.Answers, inserted)
	}

	if err := tx.Commit(ctx); err != nil {
		return game.Question{}, fmt.Errorf("committing question: %w", err)
	}
	return q, nil
}

// Update replaces a question's title and answer set in one transaction.
//
// Precondition: q.ID must reference an existing question.
// Postcondition: Returns the updated Question, game.ErrQuestionNotFound
// when the id is unknown, or ErrWrongAnswerCount when the answer list is
// not exactly the fixed size.
func (r *QuestionRepository) Update(ctx context.Context, q game.Question) (game.Question, error) {
	if len(q.Answers) != game.AnswersPerQuestion {
		return game.Question{}, ErrWrongAnswerCount
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return game.Question{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE questions SET title = $1 WHERE id = $2`, q.Title, q.ID,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return game.Question{}, ErrQuestionExists
		}
		return game.Question{}, fmt.Errorf("updating question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return game.Question{}, game.ErrQuestionNotFound
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM answers WHERE question_id = $1`, q.ID,
	); err != nil {
		return game.Question{}, fmt.Errorf("clearing answers: %w", err)
	}

	updated := game.Question{ID: q.ID, Title: q.Title}
	for _, a := range q.Answers {
		var inserted game.Answer
		err = tx.QueryRow(ctx,
			`INSERT INTO answers (question_id, title, score)
			 VALUES ($1, $2, $3)
			 RETURNING id, question_id, title, score`,
			q.ID, a.Title, a.Score,
		).Scan(&inserted.ID, &inserted.QuestionID, &inserted.Title, &inserted.Score)
		if err != nil {
			return game.Question{}, fmt.Errorf("inserting answer: %w", err)
		}
		updated.Answers = append(updated.Answers, inserted)
	}

	if err := tx.Commit(ctx); err != nil {
		return game.Question{}, fmt.Errorf("committing question update: %w", err)
	}
	return updated, nil
}

// GetByID retrieves one question with its answers.
//
// Postcondition: Returns game.ErrQuestionNotFound when the id is unknown.
func (r *QuestionRepository) GetByID(ctx context.Context, id int64) (game.Question, error) {
	var q game.Question
	err := r.db.QueryRow(ctx,
		`SELECT id, title FROM questions WHERE id = $1`, id,
	).Scan(&q.ID, &q.Title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return game.Question{}, game.ErrQuestionNotFound
		}
		return game.Question{}, fmt.Errorf("querying question: %w", err)
	}
	if err := r.loadAnswers(ctx, &q); err != nil {
		return game.Question{}, err
	}
	return q, nil
}

// List returns a page of questions ordered by id, answers included.
//
// Precondition: limit must be > 0; offset must be >= 0.
func (r *QuestionRepository) List(ctx context.Context, limit, offset int) ([]game.Question, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, title FROM questions ORDER BY id LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying questions: %w", err)
	}
	defer rows.Close()

	var questions []game.Question
	for rows.Next() {
		var q game.Question
		if err := rows.Scan(&q.ID, &q.Title); err != nil {
			return nil, fmt.Errorf("scanning question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating questions: %w", err)
	}

	for i := range questions {
		if err := r.loadAnswers(ctx, &questions[i]); err != nil {
			return nil, err
		}
	}
	return questions, nil
}

// Count returns the size of the question bank.
func (r *QuestionRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM questions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting questions: %w", err)
	}
	return n, nil
}

func (r *QuestionRepository) loadAnswers(ctx context.Context, q *game.Question) error {
	rows, err := r.db.Query(ctx,
		`SELECT id, question_id, title, score
		 FROM answers WHERE question_id = $1
		 ORDER BY score DESC`,
		q.ID,
	)
	if err != nil {
		return fmt.Errorf("querying answers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a game.Answer
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.Title, &a.Score); err != nil {
			return fmt.Errorf("scanning answer: %w", err)
		}
		q.Answers = append(q.Answers, a)
	}
	return rows.Err()
}
