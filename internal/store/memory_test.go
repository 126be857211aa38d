package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"ai-speaking-assessment-service/internal/models"
)

func seedSession(t *testing.T, m *Memory, id string) {
	t.Helper()
	require.NoError(t, m.CreateSession(context.Background(), &models.ScenarioSession{
		ID:         id,
		LearnerID:  "learner-1",
		ScenarioID: "scn-1",
		Status:     models.SessionInProgress,
		Score:      models.InitialSessionScore,
	}))
}

func TestMemory_SubmissionTransitions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateSubmission(ctx, &models.Submission{ID: "s1", AudioURL: "/uploads/a.wav"}))

	got, err := m.GetSubmission(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, got.Status)

	// pending -> completed skips processing
	require.ErrorIs(t, m.UpdateSubmission(ctx, "s1", Update{Status: models.StatusCompleted}), ErrInvalidTransition)

	require.NoError(t, m.UpdateSubmission(ctx, "s1", Update{Status: models.StatusProcessing}))
	require.NoError(t, m.UpdateSubmission(ctx, "s1", Update{Status: models.StatusProcessing, Transcript: []byte(`{"text":"hi"}`)}))

	score := 80.0
	require.NoError(t, m.UpdateSubmission(ctx, "s1", Update{Status: models.StatusCompleted, Score: &score, Analysis: []byte(`{}`)}))

	// never backward
	require.ErrorIs(t, m.UpdateSubmission(ctx, "s1", Update{Status: models.StatusProcessing}), ErrInvalidTransition)
	require.ErrorIs(t, m.UpdateSubmission(ctx, "s1", Update{Status: models.StatusFailed}), ErrInvalidTransition)

	got, err = m.GetSubmission(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, got.Status)
	require.True(t, got.HasTranscript())
	require.Equal(t, 80.0, *got.Score)

	require.ErrorIs(t, m.UpdateSubmission(ctx, "missing", Update{Status: models.StatusProcessing}), ErrNotFound)
}

func TestMemory_RoundReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateRound(ctx, &models.PracticeRound{ID: "r1", Prompt: "hello"}))
	require.NoError(t, m.UpdateRound(ctx, "r1", Update{Status: models.StatusProcessing, Transcript: []byte(`{"text":"x"}`)}))

	got, err := m.GetRound(ctx, "r1")
	require.NoError(t, err)
	got.Transcript[2] = 'X'

	again, err := m.GetRound(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, `{"text":"x"}`, string(again.Transcript))
}

func TestMemory_HintFlooredAtZero(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedSession(t, m, "sess")

	var s *models.ScenarioSession
	var err error
	for i := 0; i < 8; i++ {
		s, err = m.ApplyHint(ctx, "sess", 15)
		require.NoError(t, err)
	}
	require.Equal(t, 0, s.Score)
	require.Equal(t, 8, s.HintsUsed)
}

func TestMemory_ConcurrentHintsAreAtomic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedSession(t, m, "sess")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.ApplyHint(ctx, "sess", 15)
		}()
	}
	wg.Wait()

	s, err := m.GetSession(ctx, "sess")
	require.NoError(t, err)
	require.Equal(t, 25, s.Score)
	require.Equal(t, 5, s.HintsUsed)
}

func TestMemory_HintRejectedAfterCompletion(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedSession(t, m, "sess")

	changed, err := m.CompleteSession(ctx, "sess")
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = m.CompleteSession(ctx, "sess")
	require.NoError(t, err)
	require.False(t, changed)

	_, err = m.ApplyHint(ctx, "sess", 15)
	require.ErrorIs(t, err, ErrSessionNotActive)

	_, err = m.ApplyHint(ctx, "nope", 15)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_FinalScoreWrittenOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedSession(t, m, "sess")

	hist := &models.PracticeHistory{LearnerID: "learner-1", Kind: "scenario", SessionID: "sess", Score: 72.5}
	s, err := m.SaveFinalScore(ctx, "sess", 72.5, []byte(`{"weights":{}}`), hist)
	require.NoError(t, err)
	require.Equal(t, 72.5, *s.FinalScore)
	require.Equal(t, models.SessionCompleted, s.Status)
	require.NotNil(t, s.CompletedAt)
	require.NotZero(t, hist.ID)
	require.Len(t, m.History(), 1)

	_, err = m.SaveFinalScore(ctx, "sess", 10, nil, hist)
	require.ErrorIs(t, err, ErrAlreadyScored)
	require.Len(t, m.History(), 1)

	s, err = m.GetSession(ctx, "sess")
	require.NoError(t, err)
	require.Equal(t, 72.5, *s.FinalScore)
}

func TestMemory_TurnsNumberedAndWindowed(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedSession(t, m, "sess")

	for i := 0; i < 5; i++ {
		turn := &models.ScenarioTurn{SessionID: "sess", Speaker: models.SpeakerLearner, TextContent: string(rune('a' + i))}
		require.NoError(t, m.AppendTurn(ctx, turn))
		require.Equal(t, i+1, turn.TurnNumber)
	}

	all, err := m.ListTurns(ctx, "sess", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)

	last, err := m.ListTurns(ctx, "sess", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	require.Equal(t, 4, last[0].TurnNumber)
	require.Equal(t, 5, last[1].TurnNumber)
}

func TestMemory_AppendTurnRequiresActiveSession(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedSession(t, m, "sess")

	require.ErrorIs(t, m.AppendTurn(ctx, &models.ScenarioTurn{SessionID: "nope"}), ErrNotFound)
	require.NoError(t, m.AppendTurn(ctx, &models.ScenarioTurn{SessionID: "sess", Speaker: models.SpeakerAI}))

	changed, err := m.CompleteSession(ctx, "sess")
	require.NoError(t, err)
	require.True(t, changed)

	err = m.AppendTurn(ctx, &models.ScenarioTurn{SessionID: "sess", Speaker: models.SpeakerLearner})
	require.ErrorIs(t, err, ErrSessionNotActive)

	turns, err := m.ListTurns(ctx, "sess", 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), Config{Driver: ""})
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))

	_, err = Open(context.Background(), Config{Driver: "sqlite"})
	require.ErrorIs(t, err, ErrUnknownDriver)

	_, err = Open(context.Background(), Config{Driver: DriverPostgres})
	require.Error(t, err)
}
