// Package api implements the request/response boundary to the quiz hub's
// HTTP endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/protocol"
)

const defaultTimeout = 15 * time.Second

// Error is an application-level failure: the hub answered with a non-success
// status and a message body.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %s (status %d)", e.Message, e.Status)
}

// Client calls the hub's HTTP API. Methods return either an *Error
// (application failure) or a wrapped transport error (network failure).
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL, e.g.
// "http://localhost:8080".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

type registerRequest struct {
	Nickname string `json:"nickname"`
	QuizID   int64  `json:"quiz_id"`
}

type answerRequest struct {
	ParticipantID  int64 `json:"participant_id"`
	QuestionID     int64 `json:"question_id"`
	SelectedOption int   `json:"selected_option"`
}

// RegisterParticipant joins a quiz under the given nickname and returns the
// participant record.
func (c *Client) RegisterParticipant(ctx context.Context, nickname string, quizID int64) (*protocol.Participant, error) {
	var p protocol.Participant
	err := c.do(ctx, http.MethodPost, "/api/participants",
		registerRequest{Nickname: nickname, QuizID: quizID}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SubmitAnswer submits (or resubmits) an answer for the current question.
func (c *Client) SubmitAnswer(ctx context.Context, participantID, questionID int64, option int) (*protocol.Answer, error) {
	var a protocol.Answer
	err := c.do(ctx, http.MethodPost, "/api/answers",
		answerRequest{ParticipantID: participantID, QuestionID: questionID, SelectedOption: option}, &a)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// QuizSession fetches the current authoritative session state of a quiz.
func (c *Client) QuizSession(ctx context.Context, quizID int64) (*protocol.QuizSession, error) {
	var s protocol.QuizSession
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/quiz/%d/session", quizID), nil, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CurrentQuestion fetches the question currently shown to participants.
func (c *Client) CurrentQuestion(ctx context.Context, quizID int64) (*protocol.Question, error) {
	var q protocol.Question
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/quiz/%d/current-question", quizID), nil, &q)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// ParticipantResult fetches a participant's final result.
func (c *Client) ParticipantResult(ctx context.Context, participantID int64) (*protocol.ParticipantResult, error) {
	var r protocol.ParticipantResult
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/participants/%d/result", participantID), nil, &r)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Moderator session controls.

// StartSession starts a quiz session at its first question.
func (c *Client) StartSession(ctx context.Context, quizID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/quiz/%d/session/start", quizID), nil, nil)
}

// NextQuestion advances the session to the next question.
func (c *Client) NextQuestion(ctx context.Context, quizID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/quiz/%d/session/next", quizID), nil, nil)
}

// EndVoting closes voting on the current question.
func (c *Client) EndVoting(ctx context.Context, quizID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/quiz/%d/session/end-voting", quizID), nil, nil)
}

// FinishSession finishes the session; participants fetch their results.
func (c *Client) FinishSession(ctx context.Context, quizID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/quiz/%d/session/finish", quizID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Status: resp.StatusCode, Message: "unknown error"}
		var failure struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&failure); err == nil && failure.Message != "" {
			apiErr.Message = failure.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}
