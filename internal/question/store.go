package question

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/quizbattle/internal/domain"
)

// Sampler draws random questions from a question bank.
type Sampler interface {
	SampleRandom(ctx context.Context, n int) ([]domain.Question, error)
}

type Config struct {
	DB *pgxpool.Pool
}

// Store is a read-only view of the questions table.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(c Config) *Store {
	return &Store{
		db: c.DB,
	}
}

// SampleRandom returns up to n distinct questions in random order.
func (s *Store) SampleRandom(ctx context.Context, n int) ([]domain.Question, error) {
	if n <= 0 {
		return nil, nil
	}

	const stmt = `
SELECT question_id::text, text, options, correct_option_index, category, difficulty
FROM questions
ORDER BY random()
LIMIT $1;`

	rows, err := s.db.Query(ctx, stmt, n)
	if err != nil {
		return nil, fmt.Errorf("sample questions: %w", err)
	}

	qs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var q domain.Question
		if err := r.Scan(&q.QuestionID, &q.Text, &q.Options, &q.CorrectOptionIndex, &q.Category, &q.Difficulty); err != nil {
			return domain.Question{}, err
		}
		return q, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect questions: %w", err)
	}

	return qs, nil
}

// Check pings the database, it's used by the health endpoint.
func (s *Store) Check(ctx context.Context) error {
	return s.db.Ping(ctx)
}
