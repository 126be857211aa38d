package scenario

import (
	"context"
	"errors"
	"strings"

	"ai-speaking-assessment-service/internal/events"
	"ai-speaking-assessment-service/internal/models"
	"ai-speaking-assessment-service/internal/observability/logging"
	"ai-speaking-assessment-service/internal/reasoning"
	"ai-speaking-assessment-service/internal/store"
)

// MessageInput is one learner message. When AudioPath is set the audio is
// transcribed and the transcript replaces Text; Text is kept if
// transcription fails or hears nothing.
type MessageInput struct {
	Text      string
	AudioPath string
	AudioURL  string
}

// MessageResult is the engine's answer to a learner message.
type MessageResult struct {
	Transcript    string `json:"transcript"`
	Reply         string `json:"message"`
	Effective     bool   `json:"effective"`
	TaskCompleted bool   `json:"task_completed"`
}

// ProcessMessage stores the learner turn, checks that it moves the
// conversation on and, if so, stores the counterpart's reply and checks the
// completion criteria. An ineffective message gets a clarification and
// nothing else.
func (s *Service) ProcessMessage(ctx context.Context, sessionID string, in MessageInput) (*MessageResult, error) {
	logger := logging.WithSession(sessionID)

	sess, sc, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, ErrSessionCompleted
	}

	text := strings.TrimSpace(in.Text)
	if in.AudioPath != "" && s.transcriber != nil {
		out, err := s.transcriber.Transcribe(ctx, in.AudioPath, s.cfg.Transcription)
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("Message transcription failed, using typed text")
		case out.Result.FullText() != "":
			text = out.Result.FullText()
		}
	}
	if text == "" {
		return nil, ErrEmptyMessage
	}

	if err := s.store.AppendTurn(ctx, &models.ScenarioTurn{
		SessionID:   sessionID,
		Speaker:     models.SpeakerLearner,
		TextContent: text,
		AudioURL:    in.AudioURL,
	}); err != nil {
		return nil, turnError(err)
	}

	turns, err := s.history(ctx, sessionID, s.cfg.HistoryTurns)
	if err != nil {
		return nil, err
	}

	// An outage must not block the learner, so the fallback verdict is effective.
	effective := true
	verdict, ok := reasoning.AskJSON(ctx, s.reasoner, adequacyQuestion(sc, turns[:len(turns)-1], text), adequacy{Effective: &effective})
	if ok && verdict.Effective == nil {
		logger.Warn().Msg("Adequacy answer has no verdict, treating message as effective")
		s.metrics.RecordFallback(adequacyKind)
		verdict = adequacy{Effective: &effective}
	}
	if !*verdict.Effective {
		clarification := strings.TrimSpace(verdict.Clarification)
		if clarification == "" {
			clarification = fallbackClarification
		}
		logger.Info().Msg("Learner message needs clarification")
		return &MessageResult{Transcript: text, Reply: clarification}, nil
	}

	reply, _ := reasoning.AskText(ctx, s.reasoner, replyQuestion(sc, turns), fallbackReply)
	if err := s.store.AppendTurn(ctx, &models.ScenarioTurn{
		SessionID:   sessionID,
		Speaker:     models.SpeakerAI,
		TextContent: reply,
	}); err != nil {
		return nil, turnError(err)
	}
	turns = append(turns, models.ScenarioTurn{SessionID: sessionID, Speaker: models.SpeakerAI, TextContent: reply})

	answer, _ := reasoning.AskText(ctx, s.reasoner, completionQuestion(sc, turns), "NO")
	res := &MessageResult{Transcript: text, Reply: reply, Effective: true}
	if !isYes(answer) {
		return res, nil
	}

	res.TaskCompleted = true
	changed, err := s.store.CompleteSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if changed {
		s.metrics.RecordSessionCompleted()
		logger.Info().Msg("Scenario task completed")
		if err := s.events.Publish(ctx, events.Event{
			Type:     events.TypeScenarioCompleted,
			EntityID: sessionID,
			Status:   string(models.SessionCompleted),
			Data:     map[string]any{"learnerId": sess.LearnerID, "scenarioId": sess.ScenarioID},
		}); err != nil {
			logger.Warn().Err(err).Msg("Failed to publish completion event")
		}
	}
	return res, nil
}

// turnError reports a session completed by a concurrent call the same way as
// one that was already completed on entry.
func turnError(err error) error {
	if errors.Is(err, store.ErrSessionNotActive) {
		return ErrSessionCompleted
	}
	return err
}
