package jobs

import (
	"context"
	"strings"

	"ai-speaking-assessment-service/internal/events"
	"ai-speaking-assessment-service/internal/observability/logging"
	"ai-speaking-assessment-service/internal/queue"
	"ai-speaking-assessment-service/internal/reasoning"
)

// MentorFeedbackLearner transcribes a mentor's spoken feedback and distills
// it into assessment signals. It is advisory: every failure is logged and
// the job always succeeds.
type MentorFeedbackLearner struct {
	Deps
}

func NewMentorFeedbackLearner(d Deps) *MentorFeedbackLearner {
	return &MentorFeedbackLearner{Deps: d}
}

func (m *MentorFeedbackLearner) Process(ctx context.Context, job *queue.Job) error {
	logger := logging.WithJob(job.Type, job.ID)

	var p MentorFeedbackPayload
	if !decodePayload(job, &p, logger) {
		return nil
	}
	logger = logger.With().Str("feedbackId", p.FeedbackID).Logger()

	path, err := m.Audio.Locate(p.AudioURL)
	if err != nil {
		logger.Warn().Err(err).Str("audioUrl", p.AudioURL).Msg("Mentor feedback audio unavailable")
		return nil
	}

	out, err := m.Transcriber.Transcribe(ctx, path, m.Options)
	if err != nil {
		logger.Warn().Err(err).Str("kind", errorKind(err)).Msg("Mentor feedback transcription failed")
		return nil
	}
	text := strings.TrimSpace(out.Result.FullText())
	if text == "" {
		logger.Warn().Msg("Mentor feedback transcript is empty")
		return nil
	}

	signals, ok := reasoning.AskJSON(ctx, m.reasoner(), mentorFeedbackQuestion(text, p.Scores), mentorSignals{})
	if !ok {
		logger.Warn().Msg("Could not distill mentor feedback")
		return nil
	}

	logger.Info().
		Int("criteria", len(signals.EvaluationCriteria)).
		Int("strengths", len(signals.Strengths)).
		Int("weaknesses", len(signals.Weaknesses)).
		Int("suggestions", len(signals.ImprovementSuggestions)).
		Msg("Learned from mentor feedback")

	m.publish(ctx, logger, events.Event{
		Type:     events.TypeMentorFeedbackLearned,
		EntityID: p.FeedbackID,
		Data: map[string]any{
			"submissionId": p.SubmissionID,
			"transcript":   text,
			"scores":       p.Scores,
			"signals":      signals,
		},
	})
	return nil
}
