package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"quizroom-service/internal/domain"
)

// ResultStore keeps finished game results in memory. Used when no database
// is configured and in tests.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]domain.GameResult
	order   []string
}

func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]domain.GameResult)}
}

func (s *ResultStore) SaveGameResult(_ context.Context, result domain.GameResult) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result.ID = uuid.NewString()
	s.results[result.ID] = result
	s.order = append(s.order, result.ID)
	return result.ID, nil
}

// Get returns a stored result by ID.
func (s *ResultStore) Get(id string) (domain.GameResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[id]
	return result, ok
}

// GetGameResult returns a stored result or domain.ErrResultNotFound.
func (s *ResultStore) GetGameResult(_ context.Context, id string) (domain.GameResult, error) {
	result, ok := s.Get(id)
	if !ok {
		return domain.GameResult{}, domain.ErrResultNotFound
	}
	return result, nil
}

// All returns every stored result in save order.
func (s *ResultStore) All() []domain.GameResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.GameResult, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.results[id])
	}
	return out
}

// ListByQuiz returns up to limit results of a quiz, most recently saved first.
func (s *ResultStore) ListByQuiz(_ context.Context, quizID string, limit int) ([]domain.GameResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.GameResult{}
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		if result := s.results[s.order[i]]; result.QuizID == quizID {
			out = append(out, result)
		}
	}
	return out, nil
}
