package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/protocol"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/store"
)

func testQuiz() *store.Quiz {
	return &store.Quiz{
		ID:    7,
		Title: "T",
		Questions: []store.Question{
			// Stored out of order on purpose; the session sorts by Order.
			{ID: 2, Text: "Q2", Options: [4]string{"a", "b", "c", "d"}, Order: 2, Correct: 1},
			{ID: 1, Text: "Q1", Options: [4]string{"a", "b", "c", "d"}, Order: 1, Correct: 0},
		},
	}
}

func startedLive(t *testing.T) *live {
	t.Helper()
	l := newLive(testQuiz())
	_, _, err := l.Start()
	require.NoError(t, err)
	return l
}

func TestLiveLifecycle(t *testing.T) {
	l := newLive(testQuiz())
	assert.Equal(t, protocol.StatusWaiting, l.Session().Status)
	assert.Equal(t, 0, l.Session().CurrentQuestionNumber)

	session, question, err := l.Start()
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusInQuestion, session.Status)
	assert.Equal(t, 1, session.CurrentQuestionNumber)
	assert.Equal(t, int64(1), question.ID) // lowest Order first

	session, _, err = l.Next()
	require.NoError(t, err)
	assert.Equal(t, 2, session.CurrentQuestionNumber)

	_, _, err = l.Next()
	assert.ErrorIs(t, err, ErrNoMoreQuestions)

	session, err = l.Finish()
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusFinished, session.Status)

	_, err = l.Finish()
	assert.ErrorIs(t, err, ErrSessionFinished)
}

func TestStartTwiceFails(t *testing.T) {
	l := startedLive(t)
	_, _, err := l.Start()
	assert.Error(t, err)
}

func TestSubmitAnswerOverwritesWhileVotingOpen(t *testing.T) {
	l := startedLive(t)
	_, err := l.Join(1, "Taro")
	require.NoError(t, err)

	_, err = l.SubmitAnswer(1, 1, 0)
	require.NoError(t, err)
	_, err = l.SubmitAnswer(1, 1, 3)
	require.NoError(t, err)

	status, err := l.AnswerStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, status.AnsweredCount)
	assert.Equal(t, [4]int{0, 0, 0, 1}, status.AnswerCounts)
}

func TestSubmitAnswerRejections(t *testing.T) {
	l := startedLive(t)
	_, err := l.Join(1, "Taro")
	require.NoError(t, err)

	_, err = l.SubmitAnswer(99, 1, 0)
	assert.ErrorIs(t, err, ErrParticipantNotFound)

	_, err = l.SubmitAnswer(1, 2, 0)
	assert.ErrorIs(t, err, ErrNotCurrentQuestion)

	_, err = l.SubmitAnswer(1, 1, 4)
	assert.Error(t, err)

	_, _, err = l.EndVoting()
	require.NoError(t, err)
	_, err = l.SubmitAnswer(1, 1, 0)
	assert.ErrorIs(t, err, ErrVotingClosed)
}

func TestAnswerStatusCountsAllParticipants(t *testing.T) {
	l := startedLive(t)
	for i := int64(1); i <= 4; i++ {
		_, err := l.Join(i, "P")
		require.NoError(t, err)
	}
	_, err := l.SubmitAnswer(1, 1, 0)
	require.NoError(t, err)
	_, err = l.SubmitAnswer(2, 1, 0)
	require.NoError(t, err)
	_, err = l.SubmitAnswer(3, 1, 2)
	require.NoError(t, err)

	status, err := l.AnswerStatus()
	require.NoError(t, err)
	assert.Equal(t, 4, status.TotalParticipants)
	assert.Equal(t, 3, status.AnsweredCount)
	assert.Equal(t, [4]int{2, 0, 1, 0}, status.AnswerCounts)
}

func TestResultRanking(t *testing.T) {
	l := startedLive(t)
	for i := int64(1); i <= 3; i++ {
		_, err := l.Join(i, "P")
		require.NoError(t, err)
	}

	// Question 1: correct answer is option 0.
	_, err := l.SubmitAnswer(1, 1, 0)
	require.NoError(t, err)
	_, err = l.SubmitAnswer(2, 1, 0)
	require.NoError(t, err)
	_, err = l.SubmitAnswer(3, 1, 1)
	require.NoError(t, err)

	// Question 2: correct answer is option 1; only participant 1 gets it.
	_, _, err = l.Next()
	require.NoError(t, err)
	_, err = l.SubmitAnswer(1, 2, 1)
	require.NoError(t, err)
	_, err = l.SubmitAnswer(2, 2, 3)
	require.NoError(t, err)

	// Results are unavailable until the session finishes.
	_, err = l.Result(1)
	assert.ErrorIs(t, err, ErrResultNotReady)

	_, err = l.Finish()
	require.NoError(t, err)

	r1, err := l.Result(1)
	require.NoError(t, err)
	assert.Equal(t, 2, r1.CorrectAnswers)
	assert.Equal(t, 1, r1.Rank)
	assert.Equal(t, 3, r1.TotalParticipants)
	assert.Equal(t, 2, r1.TotalQuestions)

	r2, err := l.Result(2)
	require.NoError(t, err)
	assert.Equal(t, 1, r2.CorrectAnswers)
	assert.Equal(t, 2, r2.Rank)

	r3, err := l.Result(3)
	require.NoError(t, err)
	assert.Equal(t, 0, r3.CorrectAnswers)
	assert.Equal(t, 3, r3.Rank)

	_, err = l.Result(99)
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestResultTiesShareRank(t *testing.T) {
	l := startedLive(t)
	for i := int64(1); i <= 2; i++ {
		_, err := l.Join(i, "P")
		require.NoError(t, err)
	}
	_, err := l.SubmitAnswer(1, 1, 0)
	require.NoError(t, err)
	_, err = l.SubmitAnswer(2, 1, 0)
	require.NoError(t, err)
	_, err = l.Finish()
	require.NoError(t, err)

	r1, err := l.Result(1)
	require.NoError(t, err)
	r2, err := l.Result(2)
	require.NoError(t, err)
	assert.Equal(t, 1, r1.Rank)
	assert.Equal(t, 1, r2.Rank)
}

func TestJoinAfterFinishRejected(t *testing.T) {
	l := startedLive(t)
	_, err := l.Finish()
	require.NoError(t, err)
	_, err = l.Join(1, "Late")
	assert.ErrorIs(t, err, ErrSessionFinished)
}
