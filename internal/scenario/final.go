package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ai-speaking-assessment-service/internal/events"
	"ai-speaking-assessment-service/internal/models"
	"ai-speaking-assessment-service/internal/observability/logging"
	"ai-speaking-assessment-service/internal/reasoning"
	"ai-speaking-assessment-service/internal/scoring"
	"ai-speaking-assessment-service/internal/store"
)

// Weights of the final score components. They sum to 1.
type Weights struct {
	Reasonableness float64 `json:"reasonableness"`
	Reflex         float64 `json:"reflex"`
	Pronunciation  float64 `json:"pronunciation"`
	Independence   float64 `json:"independence"`
}

var DefaultWeights = Weights{
	Reasonableness: 0.30,
	Reflex:         0.20,
	Pronunciation:  0.30,
	Independence:   0.20,
}

const (
	PronunciationAssessed = "assessed"
	PronunciationClient   = "client"
)

// FinalResult is the scored outcome of a session. It is stored as the
// session's scoring details.
type FinalResult struct {
	SessionID           string  `json:"sessionId"`
	FinalScore          float64 `json:"final_score"`
	Reasonableness      float64 `json:"reasonableness"`
	Reflex              float64 `json:"reflex"`
	Pronunciation       float64 `json:"pronunciation"`
	PronunciationSource string  `json:"pronunciation_source"`
	IndependenceRaw     float64 `json:"independence_raw"`
	Independence        float64 `json:"independence"`
	HintsUsed           int     `json:"hints_used"`
	HintPenaltyEach     float64 `json:"independence_penalty_per_hint"`
	Weights             Weights `json:"weights"`
	Feedback            string  `json:"feedback,omitempty"`
	Assessed            bool    `json:"assessed"`
}

// FinalScore scores the session once. Later calls return the stored
// result unchanged. pronunciation, when non-nil, replaces the assessed
// pronunciation component.
func (s *Service) FinalScore(ctx context.Context, sessionID string, pronunciation *float64) (*FinalResult, error) {
	logger := logging.WithSession(sessionID)

	sess, sc, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.FinalScore != nil {
		return storedResult(sess)
	}

	turns, err := s.history(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	fallback := subScores{Feedback: "Detailed assessment is not available right now."}
	assessed, ok := reasoning.AskJSON(ctx, s.reasoner, finalScoreQuestion(sc, turns), fallback)

	res := s.combine(sess, assessed, pronunciation)
	res.Assessed = ok

	details, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("scenario: encode scoring details: %w", err)
	}
	history := &models.PracticeHistory{
		LearnerID:  sess.LearnerID,
		Kind:       "scenario",
		ScenarioID: sess.ScenarioID,
		SessionID:  sess.ID,
		Score:      res.FinalScore,
		HintsUsed:  sess.HintsUsed,
		Details:    details,
	}

	saved, err := s.store.SaveFinalScore(ctx, sessionID, res.FinalScore, details, history)
	if errors.Is(err, store.ErrAlreadyScored) {
		// A concurrent call won; its result is the one on record.
		current, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return storedResult(current)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordFinalScore(res.FinalScore)
	if !sess.Status.IsTerminal() {
		s.metrics.RecordSessionCompleted()
	}
	logger.Info().
		Float64("finalScore", res.FinalScore).
		Int("hintsUsed", saved.HintsUsed).
		Bool("assessed", ok).
		Msg("Scenario final score saved")

	if err := s.events.Publish(ctx, events.Event{
		Type:     events.TypeScenarioCompleted,
		EntityID: sessionID,
		Status:   string(saved.Status),
		Data:     res,
	}); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish final score event")
	}
	return res, nil
}

// combine applies the hint penalty to independence and weights the
// components into the final score.
func (s *Service) combine(sess *models.ScenarioSession, a subScores, pronunciation *float64) *FinalResult {
	w := DefaultWeights
	res := &FinalResult{
		SessionID:           sess.ID,
		Reasonableness:      component(a.Reasonableness),
		Reflex:              component(a.Reflex),
		Pronunciation:       component(a.Pronunciation),
		PronunciationSource: PronunciationAssessed,
		IndependenceRaw:     component(a.Independence),
		HintsUsed:           sess.HintsUsed,
		HintPenaltyEach:     s.cfg.IndependencePerHint,
		Weights:             w,
		Feedback:            a.Feedback,
	}
	if pronunciation != nil {
		res.Pronunciation = scoring.Bound(*pronunciation)
		res.PronunciationSource = PronunciationClient
	}
	res.Independence = scoring.Bound(res.IndependenceRaw - s.cfg.IndependencePerHint*float64(sess.HintsUsed))

	res.FinalScore = scoring.Bound(
		w.Reasonableness*res.Reasonableness +
			w.Reflex*res.Reflex +
			w.Pronunciation*res.Pronunciation +
			w.Independence*res.Independence)
	return res
}

func component(v *float64) float64 {
	if v == nil {
		return neutralSubScore
	}
	return scoring.Bound(*v)
}

func storedResult(sess *models.ScenarioSession) (*FinalResult, error) {
	var res FinalResult
	if len(sess.ScoringDetails) > 0 {
		if err := json.Unmarshal(sess.ScoringDetails, &res); err != nil {
			return nil, fmt.Errorf("scenario: decode stored scoring details: %w", err)
		}
	}
	res.SessionID = sess.ID
	res.FinalScore = *sess.FinalScore
	return &res, nil
}
