// Package session implements the participant-side session state machine: it
// consumes dispatched hub messages and local user actions and produces the
// single application state a rendering layer draws from.
package session

import (
	"fmt"

	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/protocol"
)

// State is the participant's current screen. A session is in exactly one
// state at a time.
type State int

const (
	StateAwaitingNickname State = iota
	StateWaiting
	StateQuestion
	StateVotingEnded
	StateResult
	StateError
)

func (s State) String() string {
	switch s {
	case StateAwaitingNickname:
		return "awaiting_nickname"
	case StateWaiting:
		return "waiting"
	case StateQuestion:
		return "question"
	case StateVotingEnded:
		return "voting_ended"
	case StateResult:
		return "result"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// NoSelection marks that the participant has not picked an option for the
// current question.
const NoSelection = -1

// View is an immutable copy of the machine's state for rendering. Question,
// Session and Result are copies; mutating them does not affect the machine.
type View struct {
	State          State
	Nickname       string
	Question       *protocol.Question
	QuestionNumber int
	TotalQuestions int
	Selected       int
	Session        *protocol.QuizSession
	Result         *protocol.ParticipantResult
	// JoinError is the inline error shown on the nickname screen; the
	// entered input is not lost.
	JoinError string
	// Notice is a transient, state-preserving error such as a failed answer
	// submission.
	Notice string
	// Err is the fatal error detail carried by StateError.
	Err string
}
