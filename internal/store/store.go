// Package store persists the quiz catalog. Live session state and answer
// statistics are deliberately not stored here: they die with the session.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/protocol"
)

// ErrQuizNotFound is returned when no quiz exists with the requested id.
var ErrQuizNotFound = errors.New("quiz not found")

// ErrQuizIDEmpty is returned for operations on a zero quiz id.
var ErrQuizIDEmpty = errors.New("quiz id is empty")

// Question is an authored question including the correct option, which never
// leaves the hub.
type Question struct {
	ID      int64                        `bson:"id" json:"id"`
	Text    string                       `bson:"text" json:"text"`
	Options [protocol.OptionCount]string `bson:"options" json:"options"`
	Order   int                          `bson:"order" json:"order"`
	Correct int                          `bson:"correct" json:"correct"`
}

// Public strips the correct answer for broadcast to clients.
func (q Question) Public() protocol.Question {
	return protocol.Question{
		ID:      q.ID,
		Text:    q.Text,
		Options: q.Options,
		Order:   q.Order,
	}
}

// Quiz is one authored quiz with its ordered questions.
type Quiz struct {
	ID        int64      `bson:"id" json:"id"`
	Title     string     `bson:"title" json:"title"`
	Questions []Question `bson:"questions" json:"questions"`
}

// QuizStore is the catalog boundary. MemoryStore backs tests and standalone
// runs; MongoStore backs deployments.
type QuizStore interface {
	Quiz(ctx context.Context, id int64) (*Quiz, error)
	// Questions returns a quiz's questions sorted by Order.
	Questions(ctx context.Context, quizID int64) ([]Question, error)
	SaveQuiz(ctx context.Context, quiz *Quiz) error
}

func sortedQuestions(quiz *Quiz) []Question {
	out := make([]Question, len(quiz.Questions))
	copy(out, quiz.Questions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
