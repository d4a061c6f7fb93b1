package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidPayload marks a payload that fails field validation.
var ErrInvalidPayload = errors.New("invalid payload")

func invalidf(msgType, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidPayload, msgType, fmt.Sprintf(format, args...))
}

// ParseEnvelope decodes a raw frame into an envelope without touching the
// payload.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: malformed frame: %v", ErrInvalidPayload, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrInvalidPayload)
	}
	return env, nil
}

// DecodeQuestionSwitch validates and decodes a question_switch payload.
func DecodeQuestionSwitch(data json.RawMessage) (*QuestionSwitch, error) {
	var p QuestionSwitch
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, invalidf(TypeQuestionSwitch, "%v", err)
	}
	if p.Question.ID <= 0 {
		return nil, invalidf(TypeQuestionSwitch, "missing question.id")
	}
	if p.Question.Text == "" {
		return nil, invalidf(TypeQuestionSwitch, "missing question.text")
	}
	if p.TotalQuestions <= 0 || p.QuestionNumber <= 0 || p.QuestionNumber > p.TotalQuestions {
		return nil, invalidf(TypeQuestionSwitch, "question %d of %d out of range",
			p.QuestionNumber, p.TotalQuestions)
	}
	return &p, nil
}

// DecodeVotingEnd validates and decodes a voting_end payload.
func DecodeVotingEnd(data json.RawMessage) (*VotingEnd, error) {
	var p VotingEnd
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, invalidf(TypeVotingEnd, "%v", err)
	}
	if p.QuestionID <= 0 {
		return nil, invalidf(TypeVotingEnd, "missing question_id")
	}
	return &p, nil
}

// DecodeAnswerStatus validates and decodes an answer_status payload.
func DecodeAnswerStatus(data json.RawMessage) (*AnswerStatus, error) {
	var p AnswerStatus
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, invalidf(TypeAnswerStatus, "%v", err)
	}
	if p.TotalParticipants < 0 || p.AnsweredCount < 0 {
		return nil, invalidf(TypeAnswerStatus, "negative counts")
	}
	sum := 0
	for i, c := range p.AnswerCounts {
		if c < 0 {
			return nil, invalidf(TypeAnswerStatus, "negative count for option %d", i)
		}
		sum += c
	}
	if sum != p.AnsweredCount {
		return nil, invalidf(TypeAnswerStatus, "answered_count %d does not match option counts %d",
			p.AnsweredCount, sum)
	}
	if p.AnsweredCount > p.TotalParticipants {
		return nil, invalidf(TypeAnswerStatus, "answered_count %d exceeds total_participants %d",
			p.AnsweredCount, p.TotalParticipants)
	}
	return &p, nil
}

// DecodeSessionUpdate validates and decodes a session_update payload.
func DecodeSessionUpdate(data json.RawMessage) (*SessionUpdate, error) {
	var p SessionUpdate
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, invalidf(TypeSessionUpdate, "%v", err)
	}
	if p.Session.ID <= 0 {
		return nil, invalidf(TypeSessionUpdate, "missing session.id")
	}
	if !p.Session.Status.Valid() {
		return nil, invalidf(TypeSessionUpdate, "unknown status %q", p.Session.Status)
	}
	return &p, nil
}

// DecodePayload decodes and validates the payload for any known envelope
// type in one strict entry point. Types that carry no payload decode to nil;
// unknown types are an error so the caller can decide to drop the message.
func DecodePayload(env Envelope) (any, error) {
	switch env.Type {
	case TypeQuestionSwitch:
		return DecodeQuestionSwitch(env.Data)
	case TypeVotingEnd:
		return DecodeVotingEnd(env.Data)
	case TypeAnswerStatus:
		return DecodeAnswerStatus(env.Data)
	case TypeSessionUpdate:
		return DecodeSessionUpdate(env.Data)
	case TypeSubscribe, TypeUnsubscribe:
		return DecodeSubscribe(env.Data)
	case TypeResultUpdate, TypeHeartbeat, TypeHeartbeatAck:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidPayload, env.Type)
}

// DecodeSubscribe validates and decodes a subscribe or unsubscribe payload.
func DecodeSubscribe(data json.RawMessage) (*Subscribe, error) {
	var p Subscribe
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, invalidf(TypeSubscribe, "%v", err)
	}
	if p.QuizID <= 0 {
		return nil, invalidf(TypeSubscribe, "missing quiz_id")
	}
	return &p, nil
}
