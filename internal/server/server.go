// Package server exposes the quiz hub's HTTP API and drives realtime
// broadcasts when the authoritative session state changes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/hub"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/logger"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/protocol"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/store"
)

// Server owns the live sessions and routes HTTP traffic to them.
type Server struct {
	store store.QuizStore
	hub   *hub.Hub

	mu       sync.Mutex
	sessions map[int64]*live
	// participantQuiz maps a participant id to the quiz it joined, so the
	// result endpoint can find the right session.
	participantQuiz map[int64]int64
	nextParticipant atomic.Int64

	httpServer *http.Server
}

// New creates a server over the given catalog store and broadcast hub.
func New(st store.QuizStore, h *hub.Hub) *Server {
	return &Server{
		store:           st,
		hub:             h,
		sessions:        make(map[int64]*live),
		participantQuiz: make(map[int64]int64),
	}
}

// PushStateOnSubscribe is wired into the hub so a freshly subscribed client
// immediately receives the current session state.
func (s *Server) PushStateOnSubscribe(quizID int64, send func(protocol.Envelope)) {
	s.mu.Lock()
	l, ok := s.sessions[quizID]
	s.mu.Unlock()
	if !ok {
		return
	}
	send(protocol.NewSessionUpdate(l.Session()))
}

// Handler builds the HTTP routing table, including the websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.hub.HandleWebSocket)
	mux.HandleFunc("POST /api/participants", s.handleRegisterParticipant)
	mux.HandleFunc("POST /api/answers", s.handleSubmitAnswer)
	mux.HandleFunc("GET /api/quiz/{id}/session", s.handleSession)
	mux.HandleFunc("GET /api/quiz/{id}/current-question", s.handleCurrentQuestion)
	mux.HandleFunc("GET /api/participants/{id}/result", s.handleResult)
	mux.HandleFunc("POST /api/quiz/{id}/session/start", s.handleStart)
	mux.HandleFunc("POST /api/quiz/{id}/session/next", s.handleNext)
	mux.HandleFunc("POST /api/quiz/{id}/session/end-voting", s.handleEndVoting)
	mux.HandleFunc("POST /api/quiz/{id}/session/finish", s.handleFinish)
	return mux
}

// Start listens on the given port and blocks until the listener fails.
func (s *Server) Start(port int) error {
	s.httpServer = &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: s.Handler(),
	}
	logger.InfoF("Quiz hub listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Invoke shuts the HTTP server down; it adapts to the shutdown cleaner.
func (s *Server) Invoke(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// session returns the live session for a quiz, creating it from the catalog
// on first use.
func (s *Server) session(ctx context.Context, quizID int64) (*live, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.sessions[quizID]; ok {
		return l, nil
	}
	quiz, err := s.store.Quiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	l := newLive(quiz)
	s.sessions[quizID] = l
	logger.InfoF("Live session created for quiz %d (%q, %d questions)", quiz.ID, quiz.Title, len(quiz.Questions))
	return l, nil
}

func (s *Server) handleRegisterParticipant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Nickname string `json:"nickname"`
		QuizID   int64  `json:"quiz_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	nickname, err := protocol.ValidateNickname(req.Nickname)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := s.session(r.Context(), req.QuizID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	id := s.nextParticipant.Add(1)
	p, err := l.Join(id, nickname)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	s.mu.Lock()
	s.participantQuiz[p.ID] = req.QuizID
	s.mu.Unlock()

	logger.InfoF("Participant %d (%q) joined quiz %d", p.ID, p.Nickname, req.QuizID)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParticipantID  int64 `json:"participant_id"`
		QuestionID     int64 `json:"question_id"`
		SelectedOption int   `json:"selected_option"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	quizID, ok := s.participantQuiz[req.ParticipantID]
	l := s.sessions[quizID]
	s.mu.Unlock()
	if !ok || l == nil {
		writeError(w, http.StatusNotFound, ErrParticipantNotFound.Error())
		return
	}

	answer, err := l.SubmitAnswer(req.ParticipantID, req.QuestionID, req.SelectedOption)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	if status, err := l.AnswerStatus(); err == nil {
		s.hub.Broadcast(quizID, protocol.NewAnswerStatus(status))
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	quizID, ok := pathID(w, r)
	if !ok {
		return
	}
	l, err := s.session(r.Context(), quizID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l.Session())
}

func (s *Server) handleCurrentQuestion(w http.ResponseWriter, r *http.Request) {
	quizID, ok := pathID(w, r)
	if !ok {
		return
	}
	l, err := s.session(r.Context(), quizID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	q, err := l.CurrentQuestion()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	participantID, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	quizID, known := s.participantQuiz[participantID]
	l := s.sessions[quizID]
	s.mu.Unlock()
	if !known || l == nil {
		writeError(w, http.StatusNotFound, ErrParticipantNotFound.Error())
		return
	}
	result, err := l.Result(participantID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	quizID, ok := pathID(w, r)
	if !ok {
		return
	}
	l, err := s.session(r.Context(), quizID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	session, question, err := l.Start()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	logger.InfoF("Quiz %d started", quizID)
	s.hub.Broadcast(quizID, protocol.NewSessionUpdate(session))
	s.hub.Broadcast(quizID, protocol.NewQuestionSwitch(session.CurrentQuestionNumber, session.TotalQuestions, question))
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	quizID, ok := pathID(w, r)
	if !ok {
		return
	}
	l, err := s.session(r.Context(), quizID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	session, question, err := l.Next()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	logger.InfoF("Quiz %d advanced to question %d/%d", quizID, session.CurrentQuestionNumber, session.TotalQuestions)
	s.hub.Broadcast(quizID, protocol.NewSessionUpdate(session))
	s.hub.Broadcast(quizID, protocol.NewQuestionSwitch(session.CurrentQuestionNumber, session.TotalQuestions, question))
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleEndVoting(w http.ResponseWriter, r *http.Request) {
	quizID, ok := pathID(w, r)
	if !ok {
		return
	}
	l, err := s.session(r.Context(), quizID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	session, questionID, err := l.EndVoting()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	logger.InfoF("Quiz %d voting ended on question %d", quizID, questionID)
	s.hub.Broadcast(quizID, protocol.NewVotingEnd(questionID))
	s.hub.Broadcast(quizID, protocol.NewSessionUpdate(session))
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	quizID, ok := pathID(w, r)
	if !ok {
		return
	}
	l, err := s.session(r.Context(), quizID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	session, err := l.Finish()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	logger.InfoF("Quiz %d finished", quizID)
	s.hub.Broadcast(quizID, protocol.NewSessionUpdate(session))
	s.hub.Broadcast(quizID, protocol.NewResultUpdate())
	writeJSON(w, http.StatusOK, session)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnF("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// writeSessionError maps domain errors onto HTTP statuses.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrQuizNotFound),
		errors.Is(err, ErrParticipantNotFound),
		errors.Is(err, ErrNoCurrentQuestion):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrVotingClosed),
		errors.Is(err, ErrNotCurrentQuestion),
		errors.Is(err, ErrSessionNotStarted),
		errors.Is(err, ErrSessionFinished),
		errors.Is(err, ErrNoMoreQuestions),
		errors.Is(err, ErrResultNotReady):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.ErrorF("Unexpected error handling request: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
