// Package protocol defines the message envelope and payload types exchanged
// between the quiz hub and its clients.
package protocol

import (
	"encoding/json"
	"time"
)

// Inbound message types (hub -> client)
const (
	TypeQuestionSwitch = "question_switch"
	TypeVotingEnd      = "voting_end"
	TypeAnswerStatus   = "answer_status"
	TypeSessionUpdate  = "session_update"
	TypeResultUpdate   = "result_update"
	TypeHeartbeatAck   = "heartbeat_ack"
)

// Outbound message types (client -> hub)
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeHeartbeat   = "heartbeat"
)

// TypeAny matches every message type in a listener registry.
const TypeAny = "*"

// OptionCount is the fixed number of answer options per question.
const OptionCount = 4

// Envelope is the tagged wire record wrapping every message.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SessionStatus is the authoritative lifecycle phase of a quiz session.
type SessionStatus string

const (
	StatusWaiting     SessionStatus = "waiting"
	StatusInQuestion  SessionStatus = "question"
	StatusVotingEnded SessionStatus = "voting_ended"
	StatusFinished    SessionStatus = "finished"
)

// Valid reports whether s is one of the closed status set.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusInQuestion, StatusVotingEnded, StatusFinished:
		return true
	}
	return false
}

// Question is the public shape of a question, without the correct answer.
type Question struct {
	ID      int64               `json:"id"`
	Text    string              `json:"text"`
	Options [OptionCount]string `json:"options"`
	Order   int                 `json:"order"`
}

// QuizSession mirrors the authoritative session record.
type QuizSession struct {
	ID                    int64         `json:"id"`
	Title                 string        `json:"title"`
	CurrentQuestionNumber int           `json:"current_question_number"`
	TotalQuestions        int           `json:"total_questions"`
	Status                SessionStatus `json:"status"`
}

// QuestionSwitch is the payload of a question_switch message.
type QuestionSwitch struct {
	QuestionNumber int      `json:"question_number"`
	TotalQuestions int      `json:"total_questions"`
	Question       Question `json:"question"`
}

// VotingEnd is the payload of a voting_end message.
type VotingEnd struct {
	QuestionID int64 `json:"question_id"`
}

// AnswerStatus is the aggregate answer snapshot broadcast to moderators.
// Invariant at the source: AnsweredCount equals the sum of AnswerCounts and
// never exceeds TotalParticipants.
type AnswerStatus struct {
	QuestionID        int64            `json:"question_id"`
	TotalParticipants int              `json:"total_participants"`
	AnsweredCount     int              `json:"answered_count"`
	AnswerCounts      [OptionCount]int `json:"answer_counts"`
}

// SessionUpdate is the payload of a session_update message.
type SessionUpdate struct {
	Session QuizSession `json:"session"`
}

// Subscribe is the payload of subscribe and unsubscribe control messages.
type Subscribe struct {
	QuizID int64 `json:"quiz_id"`
}

// Participant is the record returned by participant registration.
type Participant struct {
	ID        int64     `json:"id"`
	Nickname  string    `json:"nickname"`
	QuizID    int64     `json:"quiz_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Answer is one participant's submitted answer. It may be resubmitted while
// voting is open; the latest submission supersedes the previous one.
type Answer struct {
	ParticipantID  int64     `json:"participant_id"`
	QuestionID     int64     `json:"question_id"`
	SelectedOption int       `json:"selected_option"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// ParticipantResult is the final per-participant outcome of a session.
type ParticipantResult struct {
	ParticipantID     int64  `json:"participant_id"`
	Nickname          string `json:"nickname"`
	CorrectAnswers    int    `json:"correct_answers"`
	TotalQuestions    int    `json:"total_questions"`
	Rank              int    `json:"rank"`
	TotalParticipants int    `json:"total_participants"`
}

func mustEnvelope(msgType string, payload any) Envelope {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payload types in this package always marshal.
		panic(err)
	}
	return Envelope{Type: msgType, Data: data}
}

// NewSubscribe builds a subscribe control message for one quiz topic.
func NewSubscribe(quizID int64) Envelope {
	return mustEnvelope(TypeSubscribe, Subscribe{QuizID: quizID})
}

// NewUnsubscribe builds an unsubscribe control message.
func NewUnsubscribe(quizID int64) Envelope {
	return mustEnvelope(TypeUnsubscribe, Subscribe{QuizID: quizID})
}

// NewHeartbeat builds a keepalive message.
func NewHeartbeat() Envelope {
	return Envelope{Type: TypeHeartbeat, Data: json.RawMessage(`{}`)}
}

// NewQuestionSwitch builds a question_switch broadcast.
func NewQuestionSwitch(number, total int, q Question) Envelope {
	return mustEnvelope(TypeQuestionSwitch, QuestionSwitch{
		QuestionNumber: number,
		TotalQuestions: total,
		Question:       q,
	})
}

// NewVotingEnd builds a voting_end broadcast.
func NewVotingEnd(questionID int64) Envelope {
	return mustEnvelope(TypeVotingEnd, VotingEnd{QuestionID: questionID})
}

// NewAnswerStatus builds an answer_status broadcast.
func NewAnswerStatus(status AnswerStatus) Envelope {
	return mustEnvelope(TypeAnswerStatus, status)
}

// NewSessionUpdate builds a session_update broadcast.
func NewSessionUpdate(session QuizSession) Envelope {
	return mustEnvelope(TypeSessionUpdate, SessionUpdate{Session: session})
}

// NewResultUpdate builds a result_update signal. The payload carries no data;
// receivers fetch the result through the HTTP API.
func NewResultUpdate() Envelope {
	return Envelope{Type: TypeResultUpdate, Data: json.RawMessage(`{}`)}
}

// NewHeartbeatAck builds the hub's reply to a heartbeat.
func NewHeartbeatAck(at time.Time) Envelope {
	return mustEnvelope(TypeHeartbeatAck, map[string]time.Time{"timestamp": at})
}
