package server

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/protocol"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/store"
)

var (
	ErrSessionNotStarted   = errors.New("session has not been started")
	ErrSessionFinished     = errors.New("session is already finished")
	ErrNoMoreQuestions     = errors.New("no more questions")
	ErrVotingClosed        = errors.New("voting is closed")
	ErrNotCurrentQuestion  = errors.New("answer does not target the current question")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrNoCurrentQuestion   = errors.New("no current question")
	ErrResultNotReady      = errors.New("result is not available until the session finishes")
)

// live is the authoritative in-memory state of one running quiz session.
// All mutation happens under mu; broadcasts are driven by the HTTP handlers
// after the mutation commits.
type live struct {
	mu        sync.Mutex
	quiz      *store.Quiz
	questions []store.Question

	status       protocol.SessionStatus
	currentIdx   int
	participants map[int64]*protocol.Participant
	// answers holds the latest option per participant, per question id.
	answers map[int64]map[int64]int
	now     func() time.Time
}

func newLive(quiz *store.Quiz) *live {
	questions := make([]store.Question, len(quiz.Questions))
	copy(questions, quiz.Questions)
	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].Order < questions[j].Order
	})
	return &live{
		quiz:         quiz,
		questions:    questions,
		status:       protocol.StatusWaiting,
		currentIdx:   -1,
		participants: make(map[int64]*protocol.Participant),
		answers:      make(map[int64]map[int64]int),
		now:          time.Now,
	}
}

// Join registers a participant under an already-assigned id.
func (l *live) Join(id int64, nickname string) (*protocol.Participant, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status == protocol.StatusFinished {
		return nil, ErrSessionFinished
	}
	p := &protocol.Participant{
		ID:        id,
		Nickname:  nickname,
		QuizID:    l.quiz.ID,
		CreatedAt: l.now(),
	}
	l.participants[id] = p
	out := *p
	return &out, nil
}

// Session returns the current session snapshot.
func (l *live) Session() protocol.QuizSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionLocked()
}

func (l *live) sessionLocked() protocol.QuizSession {
	return protocol.QuizSession{
		ID:                    l.quiz.ID,
		Title:                 l.quiz.Title,
		CurrentQuestionNumber: l.currentIdx + 1,
		TotalQuestions:        len(l.questions),
		Status:                l.status,
	}
}

// CurrentQuestion returns the question currently shown to participants.
func (l *live) CurrentQuestion() (*protocol.Question, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentIdx < 0 || l.currentIdx >= len(l.questions) {
		return nil, ErrNoCurrentQuestion
	}
	q := l.questions[l.currentIdx].Public()
	return &q, nil
}

// SubmitAnswer records a participant's answer for the current question.
// Resubmitting while voting is open overwrites the previous answer.
func (l *live) SubmitAnswer(participantID, questionID int64, option int) (*protocol.Answer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.participants[participantID]; !ok {
		return nil, ErrParticipantNotFound
	}
	if option < 0 || option >= protocol.OptionCount {
		return nil, errors.New("selected option is out of range")
	}
	if l.status != protocol.StatusInQuestion {
		return nil, ErrVotingClosed
	}
	if l.questions[l.currentIdx].ID != questionID {
		return nil, ErrNotCurrentQuestion
	}

	byParticipant, ok := l.answers[questionID]
	if !ok {
		byParticipant = make(map[int64]int)
		l.answers[questionID] = byParticipant
	}
	byParticipant[participantID] = option

	return &protocol.Answer{
		ParticipantID:  participantID,
		QuestionID:     questionID,
		SelectedOption: option,
		SubmittedAt:    l.now(),
	}, nil
}

// AnswerStatus derives the aggregate answer snapshot for the current
// question.
func (l *live) AnswerStatus() (protocol.AnswerStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentIdx < 0 || l.currentIdx >= len(l.questions) {
		return protocol.AnswerStatus{}, ErrNoCurrentQuestion
	}
	questionID := l.questions[l.currentIdx].ID
	status := protocol.AnswerStatus{
		QuestionID:        questionID,
		TotalParticipants: len(l.participants),
	}
	for _, option := range l.answers[questionID] {
		status.AnsweredCount++
		status.AnswerCounts[option]++
	}
	return status, nil
}

// Start moves a waiting session to its first question.
func (l *live) Start() (protocol.QuizSession, protocol.Question, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != protocol.StatusWaiting {
		return protocol.QuizSession{}, protocol.Question{}, errors.New("session has already been started")
	}
	if len(l.questions) == 0 {
		return protocol.QuizSession{}, protocol.Question{}, ErrNoMoreQuestions
	}
	l.currentIdx = 0
	l.status = protocol.StatusInQuestion
	return l.sessionLocked(), l.questions[0].Public(), nil
}

// Next advances to the next question; voting reopens.
func (l *live) Next() (protocol.QuizSession, protocol.Question, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.status {
	case protocol.StatusWaiting:
		return protocol.QuizSession{}, protocol.Question{}, ErrSessionNotStarted
	case protocol.StatusFinished:
		return protocol.QuizSession{}, protocol.Question{}, ErrSessionFinished
	}
	if l.currentIdx+1 >= len(l.questions) {
		return protocol.QuizSession{}, protocol.Question{}, ErrNoMoreQuestions
	}
	l.currentIdx++
	l.status = protocol.StatusInQuestion
	return l.sessionLocked(), l.questions[l.currentIdx].Public(), nil
}

// EndVoting closes voting on the current question.
func (l *live) EndVoting() (protocol.QuizSession, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != protocol.StatusInQuestion {
		return protocol.QuizSession{}, 0, ErrVotingClosed
	}
	l.status = protocol.StatusVotingEnded
	return l.sessionLocked(), l.questions[l.currentIdx].ID, nil
}

// Finish ends the session. Results become available afterwards.
func (l *live) Finish() (protocol.QuizSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.status {
	case protocol.StatusWaiting:
		return protocol.QuizSession{}, ErrSessionNotStarted
	case protocol.StatusFinished:
		return protocol.QuizSession{}, ErrSessionFinished
	}
	l.status = protocol.StatusFinished
	return l.sessionLocked(), nil
}

// Result computes a participant's final score and rank. Rank is one plus the
// number of participants with strictly more correct answers, so ties share a
// rank.
func (l *live) Result(participantID int64) (*protocol.ParticipantResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.participants[participantID]
	if !ok {
		return nil, ErrParticipantNotFound
	}
	if l.status != protocol.StatusFinished {
		return nil, ErrResultNotReady
	}

	scores := make(map[int64]int, len(l.participants))
	for _, q := range l.questions {
		for pid, option := range l.answers[q.ID] {
			if option == q.Correct {
				scores[pid]++
			}
		}
	}
	rank := 1
	for pid := range l.participants {
		if scores[pid] > scores[participantID] {
			rank++
		}
	}
	return &protocol.ParticipantResult{
		ParticipantID:     participantID,
		Nickname:          p.Nickname,
		CorrectAnswers:    scores[participantID],
		TotalQuestions:    len(l.questions),
		Rank:              rank,
		TotalParticipants: len(l.participants),
	}, nil
}
