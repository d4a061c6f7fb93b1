package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/protocol"
)

type fakeAPI struct {
	mu sync.Mutex

	registerCalls int
	registerErr   error
	participant   protocol.Participant

	submitCalls []protocol.Answer
	submitErr   error

	session    protocol.QuizSession
	sessionErr error

	question    protocol.Question
	questionErr error

	resultCalls int
	result      protocol.ParticipantResult
	resultErr   error
}

func (f *fakeAPI) RegisterParticipant(_ context.Context, nickname string, quizID int64) (*protocol.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerCalls++
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	p := f.participant
	p.Nickname = nickname
	p.QuizID = quizID
	return &p, nil
}

func (f *fakeAPI) SubmitAnswer(_ context.Context, participantID, questionID int64, option int) (*protocol.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := protocol.Answer{ParticipantID: participantID, QuestionID: questionID, SelectedOption: option}
	f.submitCalls = append(f.submitCalls, a)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &a, nil
}

func (f *fakeAPI) QuizSession(context.Context, int64) (*protocol.QuizSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	s := f.session
	return &s, nil
}

func (f *fakeAPI) CurrentQuestion(context.Context, int64) (*protocol.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.questionErr != nil {
		return nil, f.questionErr
	}
	q := f.question
	return &q, nil
}

func (f *fakeAPI) ParticipantResult(context.Context, int64) (*protocol.ParticipantResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resultCalls++
	if f.resultErr != nil {
		return nil, f.resultErr
	}
	r := f.result
	return &r, nil
}

func (f *fakeAPI) submitted() []protocol.Answer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Answer, len(f.submitCalls))
	copy(out, f.submitCalls)
	return out
}

type fakeChannel struct {
	mu          sync.Mutex
	connects    int
	connectErr  error
	subscribed  []int64
	disconnects int
}

func (f *fakeChannel) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeChannel) Subscribe(quizID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, quizID)
}

func (f *fakeChannel) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func waitingAPI() *fakeAPI {
	return &fakeAPI{
		participant: protocol.Participant{ID: 42},
		session: protocol.QuizSession{
			ID: 7, Title: "T", TotalQuestions: 3, Status: protocol.StatusWaiting,
		},
	}
}

func questionEnvelope(id int64, number int) protocol.Envelope {
	return protocol.NewQuestionSwitch(number, 3, protocol.Question{
		ID: id, Text: "Q", Options: [4]string{"a", "b", "c", "d"}, Order: number,
	})
}

func TestJoinValidatesNickname(t *testing.T) {
	tests := []struct {
		name     string
		nickname string
		wantErr  error
	}{
		{"empty", "", protocol.ErrNicknameEmpty},
		{"whitespace", "   ", protocol.ErrNicknameEmpty},
		{"one rune", "a", protocol.ErrNicknameTooShort},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			apiFake := waitingAPI()
			machine := NewMachine(7, apiFake, &fakeChannel{}, nil)

			err := machine.Join(context.Background(), test.nickname)
			assert.ErrorIs(t, err, test.wantErr)
			assert.Equal(t, StateAwaitingNickname, machine.State())
			// Validation failures never reach the network.
			assert.Equal(t, 0, apiFake.registerCalls)
			assert.NotEmpty(t, machine.View().JoinError)
		})
	}
}

func TestJoinTrimsNickname(t *testing.T) {
	apiFake := waitingAPI()
	channel := &fakeChannel{}
	machine := NewMachine(7, apiFake, channel, nil)

	require.NoError(t, machine.Join(context.Background(), "  Taro  "))
	view := machine.View()
	assert.Equal(t, "Taro", view.Nickname)
	assert.Equal(t, StateWaiting, view.State)
	assert.Equal(t, []int64{7}, channel.subscribed)
}

func TestJoinRegistrationFailureKeepsInput(t *testing.T) {
	apiFake := waitingAPI()
	apiFake.registerErr = errors.New("boom")
	channel := &fakeChannel{}
	machine := NewMachine(7, apiFake, channel, nil)

	err := machine.Join(context.Background(), "Taro")
	assert.Error(t, err)
	assert.Equal(t, StateAwaitingNickname, machine.State())
	assert.Contains(t, machine.View().JoinError, "could not join")
	assert.Equal(t, 0, channel.connects)

	// The user can retry in place.
	apiFake.registerErr = nil
	require.NoError(t, machine.Join(context.Background(), "Taro"))
	assert.Equal(t, StateWaiting, machine.State())
}

func TestJoinMidQuestionLoadsCurrentQuestion(t *testing.T) {
	apiFake := waitingAPI()
	apiFake.session.Status = protocol.StatusInQuestion
	apiFake.session.CurrentQuestionNumber = 2
	apiFake.question = protocol.Question{ID: 9, Text: "Q2", Options: [4]string{"a", "b", "c", "d"}}
	machine := NewMachine(7, apiFake, &fakeChannel{}, nil)

	require.NoError(t, machine.Join(context.Background(), "Taro"))
	view := machine.View()
	assert.Equal(t, StateQuestion, view.State)
	require.NotNil(t, view.Question)
	assert.Equal(t, int64(9), view.Question.ID)
	assert.Equal(t, 2, view.QuestionNumber)
	assert.Equal(t, NoSelection, view.Selected)
}

func TestJoinFinishedSessionGoesStraightToResult(t *testing.T) {
	apiFake := waitingAPI()
	apiFake.session.Status = protocol.StatusFinished
	apiFake.result = protocol.ParticipantResult{Nickname: "Taro", Rank: 1, TotalParticipants: 3}
	machine := NewMachine(7, apiFake, &fakeChannel{}, nil)

	require.NoError(t, machine.Join(context.Background(), "Taro"))
	assert.Equal(t, StateResult, machine.State())
	assert.Equal(t, 1, apiFake.resultCalls)
}

func TestQuestionSwitchIsIdempotent(t *testing.T) {
	apiFake := waitingAPI()
	machine := NewMachine(7, apiFake, &fakeChannel{}, nil)
	require.NoError(t, machine.Join(context.Background(), "Taro"))

	machine.HandleMessage(questionEnvelope(5, 1))
	require.NoError(t, machine.SelectOption(context.Background(), 2))

	// The same question delivered again keeps the selection.
	machine.HandleMessage(questionEnvelope(5, 1))
	assert.Equal(t, 2, machine.View().Selected)

	// A new question clears it.
	machine.HandleMessage(questionEnvelope(6, 2))
	view := machine.View()
	assert.Equal(t, NoSelection, view.Selected)
	assert.Equal(t, int64(6), view.Question.ID)
}

func TestLaterSelectionSupersedesEarlier(t *testing.T) {
	apiFake := waitingAPI()
	machine := NewMachine(7, apiFake, &fakeChannel{}, nil)
	require.NoError(t, machine.Join(context.Background(), "Taro"))
	machine.HandleMessage(questionEnvelope(5, 1))

	require.NoError(t, machine.SelectOption(context.Background(), 0))
	require.NoError(t, machine.SelectOption(context.Background(), 1))

	assert.Equal(t, 1, machine.View().Selected)
	calls := apiFake.submitted()
	require.Len(t, calls, 2)
	assert.Equal(t, 1, calls[1].SelectedOption)
}

func TestSelectOptionRejectedOutsideQuestion(t *testing.T) {
	apiFake := waitingAPI()
	machine := NewMachine(7, apiFake, &fakeChannel{}, nil)
	require.NoError(t, machine.Join(context.Background(), "Taro"))

	err := machine.SelectOption(context.Background(), 0)
	assert.ErrorIs(t, err, ErrVotingClosed)

	machine.HandleMessage(questionEnvelope(5, 1))
	machine.HandleMessage(protocol.NewVotingEnd(5))
	assert.Equal(t, StateVotingEnded, machine.State())

	err = machine.SelectOption(context.Background(), 0)
	assert.ErrorIs(t, err, ErrVotingClosed)
	assert.Empty(t, apiFake.submitted())
}

func TestSubmitFailureKeepsSelectionWithNotice(t *testing.T) {
	apiFake := waitingAPI()
	apiFake.submitErr = errors.New("boom")
	machine := NewMachine(7, apiFake, &fakeChannel{}, nil)
	require.NoError(t, machine.Join(context.Background(), "Taro"))
	machine.HandleMessage(questionEnvelope(5, 1))

	err := machine.SelectOption(context.Background(), 3)
	assert.Error(t, err)
	view := machine.View()
	assert.Equal(t, 3, view.Selected)
	assert.Equal(t, StateQuestion, view.State)
	assert.Contains(t, view.Notice, "try again")
}

func TestFinishedSessionFetchesResultOnce(t *testing.T) {
	apiFake := waitingAPI()
	apiFake.result = protocol.ParticipantResult{Rank: 2}
	machine := NewMachine(7, apiFake, &fakeChannel{}, nil)
	require.NoError(t, machine.Join(context.Background(), "Taro"))

	// Run the session to VotingEnded before the finished update arrives.
	machine.HandleMessage(questionEnvelope(5, 1))
	machine.HandleMessage(protocol.NewVotingEnd(5))
	require.Equal(t, StateVotingEnded, machine.State())

	finished := protocol.NewSessionUpdate(protocol.QuizSession{
		ID: 7, Title: "T", TotalQuestions: 3, Status: protocol.StatusFinished,
	})
	machine.HandleMessage(finished)
	machine.HandleMessage(finished)
	machine.HandleMessage(protocol.NewResultUpdate())

	assert.Equal(t, StateResult, machine.State())
	assert.Equal(t, 1, apiFake.resultCalls)
}

func TestOtherQuizSessionUpdateIsIgnored(t *testing.T) {
	apiFake := waitingAPI()
	machine := NewMachine(7, apiFake, &fakeChannel{}, nil)
	require.NoError(t, machine.Join(context.Background(), "Taro"))

	// Quiz 8 finishing is none of this participant's business.
	machine.HandleMessage(protocol.NewSessionUpdate(protocol.QuizSession{
		ID: 8, Title: "Other", TotalQuestions: 5, Status: protocol.StatusFinished,
	}))

	assert.Equal(t, StateWaiting, machine.State())
	assert.Equal(t, 0, apiFake.resultCalls)
	assert.Equal(t, "T", machine.View().Session.Title)
}

func TestWaitingUpdateDoesNotLeaveResult(t *testing.T) {
	apiFake := waitingAPI()
	apiFake.result = protocol.ParticipantResult{Rank: 1}
	machine := NewMachine(7, apiFake, &fakeChannel{}, nil)
	require.NoError(t, machine.Join(context.Background(), "Taro"))
	machine.HandleMessage(protocol.NewSessionUpdate(protocol.QuizSession{
		ID: 7, Title: "T", TotalQuestions: 3, Status: protocol.StatusFinished,
	}))
	require.Equal(t, StateResult, machine.State())

	machine.HandleMessage(protocol.NewSessionUpdate(protocol.QuizSession{
		ID: 7, Title: "T", TotalQuestions: 3, Status: protocol.StatusWaiting,
	}))

	assert.Equal(t, StateResult, machine.State())
	require.NotNil(t, machine.View().Result)
	assert.Equal(t, 1, machine.View().Result.Rank)
}

func TestResultFetchFailureIsAbsorbing(t *testing.T) {
	apiFake := waitingAPI()
	apiFake.resultErr = errors.New("boom")
	machine := NewMachine(7, apiFake, &fakeChannel{}, nil)
	require.NoError(t, machine.Join(context.Background(), "Taro"))

	machine.HandleMessage(protocol.NewResultUpdate())
	assert.Equal(t, StateError, machine.State())
	assert.Contains(t, machine.View().Err, "could not load the result")

	// Further messages do not move the machine out of Error.
	machine.HandleMessage(questionEnvelope(5, 1))
	assert.Equal(t, StateError, machine.State())
}

func TestRestartClearsEverything(t *testing.T) {
	apiFake := waitingAPI()
	channel := &fakeChannel{}
	machine := NewMachine(7, apiFake, channel, nil)
	require.NoError(t, machine.Join(context.Background(), "Taro"))
	machine.HandleMessage(questionEnvelope(5, 1))
	require.NoError(t, machine.SelectOption(context.Background(), 1))

	machine.Restart()

	view := machine.View()
	assert.Equal(t, StateAwaitingNickname, view.State)
	assert.Empty(t, view.Nickname)
	assert.Nil(t, view.Question)
	assert.Nil(t, view.Result)
	assert.Equal(t, NoSelection, view.Selected)
	assert.Equal(t, 1, channel.disconnects)

	// Joining again works after a restart.
	require.NoError(t, machine.Join(context.Background(), "Jiro"))
	assert.Equal(t, StateWaiting, machine.State())
}

func TestMessagesBeforeJoinAreIgnored(t *testing.T) {
	machine := NewMachine(7, waitingAPI(), &fakeChannel{}, nil)
	machine.HandleMessage(questionEnvelope(5, 1))
	assert.Equal(t, StateAwaitingNickname, machine.State())
}

func TestOnChangeReportsTransitions(t *testing.T) {
	apiFake := waitingAPI()
	var mu sync.Mutex
	var states []State
	machine := NewMachine(7, apiFake, &fakeChannel{}, func(v View) {
		mu.Lock()
		states = append(states, v.State)
		mu.Unlock()
	})
	require.NoError(t, machine.Join(context.Background(), "Taro"))
	machine.HandleMessage(questionEnvelope(5, 1))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	assert.Equal(t, StateQuestion, states[len(states)-1])
}
