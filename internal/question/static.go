package question

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/victornm/quizbattle/internal/domain"
)

// Static samples from a fixed, in-memory question bank.
type Static struct {
	mu        sync.Mutex
	questions []domain.Question
	rnd       *rand.Rand
}

func NewStatic(qs []domain.Question) *Static {
	return &Static{
		questions: qs,
		rnd:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

func (s *Static) SampleRandom(_ context.Context, n int) ([]domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n = min(n, len(s.questions))
	if n <= 0 {
		return nil, nil
	}

	perm := s.rnd.Perm(len(s.questions))
	qs := make([]domain.Question, 0, n)
	for _, i := range perm[:n] {
		qs = append(qs, s.questions[i])
	}

	return qs, nil
}
