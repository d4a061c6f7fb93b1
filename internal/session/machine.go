package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/logger"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/protocol"
)

// API is the request/response boundary the machine calls out to.
type API interface {
	RegisterParticipant(ctx context.Context, nickname string, quizID int64) (*protocol.Participant, error)
	SubmitAnswer(ctx context.Context, participantID, questionID int64, option int) (*protocol.Answer, error)
	QuizSession(ctx context.Context, quizID int64) (*protocol.QuizSession, error)
	CurrentQuestion(ctx context.Context, quizID int64) (*protocol.Question, error)
	ParticipantResult(ctx context.Context, participantID int64) (*protocol.ParticipantResult, error)
}

// Channel is the realtime connection the machine joins and leaves.
type Channel interface {
	Connect(ctx context.Context) error
	Subscribe(quizID int64)
	Disconnect()
}

// ErrVotingClosed is returned when an option is selected outside the
// Question state.
var ErrVotingClosed = errors.New("voting has ended for this question")

// ErrAlreadyJoined is returned by Join outside the AwaitingNickname state.
var ErrAlreadyJoined = errors.New("already joined")

// Machine drives one participant session. Inbound messages and user actions
// mutate it under one mutex; every transition is reported through the
// onChange callback so a rendering layer can redraw from the current View.
type Machine struct {
	quizID   int64
	api      API
	channel  Channel
	onChange func(View)

	mu             sync.Mutex
	state          State
	participant    *protocol.Participant
	question       *protocol.Question
	questionNumber int
	totalQuestions int
	session        *protocol.QuizSession
	selected       int
	result         *protocol.ParticipantResult
	joinErr        string
	notice         string
	fatalErr       string
	resultPending  bool
	gen            int // bumped by Restart so stale call results are ignored
}

// NewMachine creates a machine in AwaitingNickname. onChange may be nil.
func NewMachine(quizID int64, api API, channel Channel, onChange func(View)) *Machine {
	return &Machine{
		quizID:   quizID,
		api:      api,
		channel:  channel,
		onChange: onChange,
		state:    StateAwaitingNickname,
		selected: NoSelection,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// View returns a copy of the current state for rendering.
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := View{
		State:          m.state,
		QuestionNumber: m.questionNumber,
		TotalQuestions: m.totalQuestions,
		Selected:       m.selected,
		JoinError:      m.joinErr,
		Notice:         m.notice,
		Err:            m.fatalErr,
	}
	if m.participant != nil {
		v.Nickname = m.participant.Nickname
	}
	if m.question != nil {
		q := *m.question
		v.Question = &q
	}
	if m.session != nil {
		s := *m.session
		v.Session = &s
	}
	if m.result != nil {
		r := *m.result
		v.Result = &r
	}
	return v
}

// Join validates the nickname, registers the participant, opens the realtime
// channel and loads the current session state. Validation failures and
// registration failures keep the machine in AwaitingNickname with an inline
// error so the user can retry without losing input.
func (m *Machine) Join(ctx context.Context, nickname string) error {
	trimmed, err := protocol.ValidateNickname(nickname)
	if err != nil {
		m.mu.Lock()
		m.joinErr = err.Error()
		m.mu.Unlock()
		m.notify()
		return err
	}

	m.mu.Lock()
	if m.state != StateAwaitingNickname {
		m.mu.Unlock()
		return ErrAlreadyJoined
	}
	gen := m.gen
	m.mu.Unlock()

	participant, err := m.api.RegisterParticipant(ctx, trimmed, m.quizID)

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return nil
	}
	if err != nil {
		m.joinErr = joinFailureMessage(err)
		m.mu.Unlock()
		m.notify()
		return err
	}
	m.participant = participant
	m.joinErr = ""
	m.mu.Unlock()
	logger.InfoF("Joined quiz %d as %q (participant %d)", m.quizID, participant.Nickname, participant.ID)

	if err := m.channel.Connect(ctx); err != nil {
		m.fail(gen, "could not connect to live updates")
		return err
	}
	m.channel.Subscribe(m.quizID)

	sess, err := m.api.QuizSession(ctx, m.quizID)
	if err != nil {
		m.fail(gen, "could not load the quiz session")
		return err
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return nil
	}
	m.session = sess
	switch sess.Status {
	case protocol.StatusInQuestion:
		m.mu.Unlock()
		question, err := m.api.CurrentQuestion(ctx, m.quizID)
		if err != nil {
			m.fail(gen, "could not load the current question")
			return err
		}
		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return nil
		}
		m.question = question
		m.questionNumber = sess.CurrentQuestionNumber
		m.totalQuestions = sess.TotalQuestions
		m.selected = NoSelection
		m.setStateLocked(StateQuestion)
		m.mu.Unlock()
	case protocol.StatusFinished:
		m.resultPending = true
		m.mu.Unlock()
		return m.fetchResult(ctx, gen)
	default:
		m.setStateLocked(StateWaiting)
		m.mu.Unlock()
	}
	m.notify()
	return nil
}

// HandleMessage applies one inbound message. Messages arrive in the order
// the hub sent them; duplicates are tolerated (question_switch is idempotent,
// a finished session triggers exactly one result fetch). Malformed payloads
// are logged and dropped.
func (m *Machine) HandleMessage(env protocol.Envelope) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	// Error is absorbing and before joining there is nothing to update.
	if state == StateError || state == StateAwaitingNickname {
		return
	}

	switch env.Type {
	case protocol.TypeQuestionSwitch:
		m.handleQuestionSwitch(env)
	case protocol.TypeVotingEnd:
		m.handleVotingEnd(env)
	case protocol.TypeSessionUpdate:
		m.handleSessionUpdate(env)
	case protocol.TypeResultUpdate:
		m.triggerResultFetch()
	}
}

func (m *Machine) handleQuestionSwitch(env protocol.Envelope) {
	p, err := protocol.DecodeQuestionSwitch(env.Data)
	if err != nil {
		logger.WarnF("Dropping question_switch: %v", err)
		return
	}
	m.mu.Lock()
	if m.state == StateResult {
		m.mu.Unlock()
		return
	}
	// Same question delivered again keeps the selection; a new question
	// clears it.
	if m.question == nil || m.question.ID != p.Question.ID {
		m.selected = NoSelection
	}
	question := p.Question
	m.question = &question
	m.questionNumber = p.QuestionNumber
	m.totalQuestions = p.TotalQuestions
	m.notice = ""
	m.setStateLocked(StateQuestion)
	m.mu.Unlock()
	m.notify()
}

func (m *Machine) handleVotingEnd(env protocol.Envelope) {
	if _, err := protocol.DecodeVotingEnd(env.Data); err != nil {
		logger.WarnF("Dropping voting_end: %v", err)
		return
	}
	m.mu.Lock()
	if m.state != StateQuestion {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateVotingEnded)
	m.mu.Unlock()
	m.notify()
}

func (m *Machine) handleSessionUpdate(env protocol.Envelope) {
	p, err := protocol.DecodeSessionUpdate(env.Data)
	if err != nil {
		logger.WarnF("Dropping session_update: %v", err)
		return
	}
	if p.Session.ID != m.quizID {
		logger.DebugF("Dropping session_update for quiz %d, joined quiz %d", p.Session.ID, m.quizID)
		return
	}
	m.mu.Lock()
	sess := p.Session
	m.session = &sess
	switch sess.Status {
	case protocol.StatusFinished:
		if m.state == StateResult || m.resultPending {
			m.mu.Unlock()
			return
		}
		m.resultPending = true
		gen := m.gen
		m.mu.Unlock()
		_ = m.fetchResult(context.Background(), gen)
	case protocol.StatusWaiting:
		if m.state == StateResult {
			m.mu.Unlock()
			return
		}
		m.question = nil
		m.selected = NoSelection
		m.setStateLocked(StateWaiting)
		m.mu.Unlock()
		m.notify()
	default:
		m.mu.Unlock()
		m.notify()
	}
}

func (m *Machine) triggerResultFetch() {
	m.mu.Lock()
	if m.state == StateResult || m.resultPending {
		m.mu.Unlock()
		return
	}
	m.resultPending = true
	gen := m.gen
	m.mu.Unlock()
	_ = m.fetchResult(context.Background(), gen)
}

// SelectOption records the participant's choice and submits it. The local
// selection is applied before the network call, so the UI never lags behind
// the user's own input; a later selection in the same question supersedes the
// former both locally and at the hub. A failed submission keeps the selection
// and surfaces a transient notice so the user can retry.
func (m *Machine) SelectOption(ctx context.Context, option int) error {
	if option < 0 || option >= protocol.OptionCount {
		return fmt.Errorf("option index %d out of range", option)
	}

	m.mu.Lock()
	if m.state != StateQuestion {
		m.mu.Unlock()
		return ErrVotingClosed
	}
	if m.participant == nil || m.question == nil {
		m.mu.Unlock()
		return errors.New("no active question")
	}
	m.selected = option
	m.notice = ""
	gen := m.gen
	participantID := m.participant.ID
	questionID := m.question.ID
	m.mu.Unlock()
	m.notify()

	if _, err := m.api.SubmitAnswer(ctx, participantID, questionID, option); err != nil {
		logger.WarnF("Answer submission failed: %v", err)
		m.mu.Lock()
		if m.gen == gen && m.state == StateQuestion {
			m.notice = "could not submit the answer, please try again"
		}
		m.mu.Unlock()
		m.notify()
		return err
	}
	return nil
}

// Restart is the explicit reset out of Result or Error: it disconnects and
// clears all participant, question and result data, returning to
// AwaitingNickname. In-flight call results from before the restart are
// discarded.
func (m *Machine) Restart() {
	m.mu.Lock()
	m.gen++
	m.participant = nil
	m.question = nil
	m.session = nil
	m.result = nil
	m.questionNumber = 0
	m.totalQuestions = 0
	m.selected = NoSelection
	m.joinErr = ""
	m.notice = ""
	m.fatalErr = ""
	m.resultPending = false
	m.setStateLocked(StateAwaitingNickname)
	m.mu.Unlock()

	m.channel.Disconnect()
	m.notify()
}

// fetchResult loads the participant's final result. Callers set
// resultPending under the lock first so a duplicated finished signal fetches
// only once.
func (m *Machine) fetchResult(ctx context.Context, gen int) error {
	m.mu.Lock()
	if m.gen != gen || m.participant == nil {
		m.resultPending = false
		m.mu.Unlock()
		return nil
	}
	participantID := m.participant.ID
	m.mu.Unlock()

	result, err := m.api.ParticipantResult(ctx, participantID)

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return nil
	}
	m.resultPending = false
	if err != nil {
		m.fatalErr = "could not load the result"
		m.setStateLocked(StateError)
		m.mu.Unlock()
		m.notify()
		return err
	}
	m.result = result
	m.setStateLocked(StateResult)
	m.mu.Unlock()
	m.notify()
	return nil
}

// fail moves the machine into the absorbing Error state with a
// human-readable message, unless a restart already superseded the work.
func (m *Machine) fail(gen int, msg string) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.fatalErr = msg
	m.setStateLocked(StateError)
	m.mu.Unlock()
	m.notify()
}

func (m *Machine) setStateLocked(s State) {
	if m.state == s {
		return
	}
	logger.DebugF("Session state %s -> %s", m.state, s)
	m.state = s
}

func (m *Machine) notify() {
	if m.onChange != nil {
		m.onChange(m.View())
	}
}

func joinFailureMessage(err error) string {
	return fmt.Sprintf("could not join the quiz: %v", err)
}
