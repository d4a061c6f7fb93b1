package store

import (
	"context"
	"sync"
)

// MemoryStore keeps the quiz catalog in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	quizzes map[int64]*Quiz
}

// NewMemoryStore creates an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{quizzes: make(map[int64]*Quiz)}
}

// Quiz returns a copy of the stored quiz.
func (ms *MemoryStore) Quiz(_ context.Context, id int64) (*Quiz, error) {
	if id <= 0 {
		return nil, ErrQuizIDEmpty
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	quiz, ok := ms.quizzes[id]
	if !ok {
		return nil, ErrQuizNotFound
	}
	out := *quiz
	out.Questions = make([]Question, len(quiz.Questions))
	copy(out.Questions, quiz.Questions)
	return &out, nil
}

// Questions returns the quiz's questions sorted by Order.
func (ms *MemoryStore) Questions(ctx context.Context, quizID int64) ([]Question, error) {
	quiz, err := ms.Quiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	return sortedQuestions(quiz), nil
}

// SaveQuiz inserts or replaces a quiz.
func (ms *MemoryStore) SaveQuiz(_ context.Context, quiz *Quiz) error {
	if quiz == nil || quiz.ID <= 0 {
		return ErrQuizIDEmpty
	}
	stored := *quiz
	stored.Questions = make([]Question, len(quiz.Questions))
	copy(stored.Questions, quiz.Questions)
	ms.mu.Lock()
	ms.quizzes[quiz.ID] = &stored
	ms.mu.Unlock()
	return nil
}
