// Package scenario runs role-play conversations: session lifecycle, the hint
// economy and the one-shot final score.
package scenario

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"ai-speaking-assessment-service/internal/events"
	"ai-speaking-assessment-service/internal/models"
	"ai-speaking-assessment-service/internal/observability/logging"
	"ai-speaking-assessment-service/internal/observability/metrics"
	"ai-speaking-assessment-service/internal/reasoning"
	"ai-speaking-assessment-service/internal/store"
	"ai-speaking-assessment-service/internal/transcribe"
)

const defaultInitialPrompt = "Hello! How can I help you?"

var (
	ErrSessionCompleted = errors.New("scenario: session is completed")
	ErrEmptyMessage     = errors.New("scenario: message is empty")
)

// Config tunes the engine.
type Config struct {
	HintPenalty         int
	IndependencePerHint float64
	HistoryTurns        int
	Transcription       transcribe.Options
}

// DefaultConfig returns the standard hint economy.
func DefaultConfig() Config {
	return Config{
		HintPenalty:         15,
		IndependencePerHint: 10,
		HistoryTurns:        20,
	}
}

// Service is the scenario engine.
type Service struct {
	store       store.Scenarios
	transcriber transcribe.Transcriber
	reasoner    reasoning.Completer
	events      events.Emitter
	cfg         Config
	metrics     *metrics.Metrics
}

// NewService wires the engine. A nil reasoner or emitter is replaced by a
// stand-in that always falls back or discards.
func NewService(st store.Scenarios, tr transcribe.Transcriber, r reasoning.Completer, em events.Emitter, cfg Config) *Service {
	if r == nil {
		r = reasoning.Unavailable{}
	}
	if em == nil {
		em = events.Discard{}
	}
	def := DefaultConfig()
	if cfg.HintPenalty <= 0 {
		cfg.HintPenalty = def.HintPenalty
	}
	if cfg.IndependencePerHint < 0 {
		cfg.IndependencePerHint = def.IndependencePerHint
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = def.HistoryTurns
	}
	return &Service{
		store:       st,
		transcriber: tr,
		reasoner:    r,
		events:      em,
		cfg:         cfg,
		metrics:     metrics.DefaultMetrics,
	}
}

// StartResult is a new session and the counterpart's opening line.
type StartResult struct {
	Session *models.ScenarioSession `json:"session"`
	Message string                  `json:"message"`
}

// StartSession opens an in-progress session with the full starting score.
// The opening line is stored as the first turn.
func (s *Service) StartSession(ctx context.Context, learnerID, scenarioID string) (*StartResult, error) {
	if learnerID == "" {
		return nil, errors.New("scenario: learner id is required")
	}
	sc, err := s.store.GetScenario(ctx, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("scenario: load scenario %s: %w", scenarioID, err)
	}

	sess := &models.ScenarioSession{
		ID:         uuid.NewString(),
		LearnerID:  learnerID,
		ScenarioID: sc.ID,
		Status:     models.SessionInProgress,
		Score:      models.InitialSessionScore,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("scenario: create session: %w", err)
	}

	opening := sc.InitialPrompt
	if opening == "" {
		opening = defaultInitialPrompt
	}
	if err := s.store.AppendTurn(ctx, &models.ScenarioTurn{
		SessionID:   sess.ID,
		Speaker:     models.SpeakerAI,
		TextContent: opening,
	}); err != nil {
		return nil, fmt.Errorf("scenario: store opening turn: %w", err)
	}

	logger := logging.WithSession(sess.ID)
	logger.Info().
		Str("learnerId", learnerID).
		Str("scenarioId", sc.ID).
		Msg("Scenario session started")
	return &StartResult{Session: sess, Message: opening}, nil
}

// load returns the session and its scenario.
func (s *Service) load(ctx context.Context, sessionID string) (*models.ScenarioSession, *models.Scenario, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	sc, err := s.store.GetScenario(ctx, sess.ScenarioID)
	if err != nil {
		return nil, nil, fmt.Errorf("scenario: load scenario %s: %w", sess.ScenarioID, err)
	}
	return sess, sc, nil
}

func (s *Service) history(ctx context.Context, sessionID string, limit int) ([]models.ScenarioTurn, error) {
	turns, err := s.store.ListTurns(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("scenario: load turns: %w", err)
	}
	return turns, nil
}
