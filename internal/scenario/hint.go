package scenario

import (
	"context"
	"errors"

	"ai-speaking-assessment-service/internal/observability/logging"
	"ai-speaking-assessment-service/internal/reasoning"
	"ai-speaking-assessment-service/internal/store"
)

// HintResult is a hint and the session counters after paying for it.
type HintResult struct {
	Hint      string `json:"hint"`
	Penalty   int    `json:"penalty"`
	Score     int    `json:"score"`
	HintsUsed int    `json:"hintsUsed"`
}

// Hint charges the hint penalty and returns a suggestion for the learner's
// next line. The charge is applied in storage as one atomic update, so
// concurrent hints on one session are all counted.
func (s *Service) Hint(ctx context.Context, sessionID string) (*HintResult, error) {
	sess, sc, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, ErrSessionCompleted
	}

	updated, err := s.store.ApplyHint(ctx, sessionID, s.cfg.HintPenalty)
	if errors.Is(err, store.ErrSessionNotActive) {
		return nil, ErrSessionCompleted
	}
	if err != nil {
		return nil, err
	}
	s.metrics.RecordHint()

	turns, err := s.history(ctx, sessionID, s.cfg.HistoryTurns)
	if err != nil {
		return nil, err
	}
	hint, _ := reasoning.AskText(ctx, s.reasoner, hintQuestion(sc, turns), fallbackHint(sc))

	logger := logging.WithSession(sessionID)
	logger.Info().
		Int("score", updated.Score).
		Int("hintsUsed", updated.HintsUsed).
		Msg("Hint issued")
	return &HintResult{
		Hint:      hint,
		Penalty:   s.cfg.HintPenalty,
		Score:     updated.Score,
		HintsUsed: updated.HintsUsed,
	}, nil
}
