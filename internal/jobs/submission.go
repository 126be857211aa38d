package jobs

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"ai-speaking-assessment-service/internal/events"
	"ai-speaking-assessment-service/internal/models"
	"ai-speaking-assessment-service/internal/observability/logging"
	"ai-speaking-assessment-service/internal/queue"
	"ai-speaking-assessment-service/internal/reasoning"
	"ai-speaking-assessment-service/internal/scoring"
	"ai-speaking-assessment-service/internal/store"
)

// SubmissionAnalyzer transcribes a challenge submission, asks for a
// qualitative analysis and stores the outcome.
type SubmissionAnalyzer struct {
	Deps
	Store store.Submissions
}

func NewSubmissionAnalyzer(s store.Submissions, d Deps) *SubmissionAnalyzer {
	return &SubmissionAnalyzer{Deps: d, Store: s}
}

func (a *SubmissionAnalyzer) Process(ctx context.Context, job *queue.Job) error {
	logger := logging.WithJob(job.Type, job.ID)

	var p AnalyzeSubmissionPayload
	if !decodePayload(job, &p, logger) {
		return nil
	}
	logger = logger.With().Str("submissionId", p.SubmissionID).Logger()

	sub, err := a.Store.GetSubmission(ctx, p.SubmissionID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn().Msg("Submission not found, nothing to do")
		return nil
	}
	if err != nil {
		return err
	}
	if sub.Status.IsTerminal() {
		logger.Info().Str("status", string(sub.Status)).Msg("Submission already finished, skipping")
		return nil
	}

	if err := a.Store.UpdateSubmission(ctx, sub.ID, store.Update{Status: models.StatusProcessing}); err != nil {
		return skipLostRace(err, logger)
	}

	transcript, ok := storedTranscript(sub.Transcript, logger)
	if ok {
		logger.Info().Msg("Transcript already present, skipping transcription")
	} else {
		out, err := a.transcribe(ctx, sub)
		if err != nil {
			return a.fail(ctx, sub.ID, err, logger)
		}
		raw, err := json.Marshal(out)
		if err != nil {
			return a.fail(ctx, sub.ID, err, logger)
		}
		if err := a.Store.UpdateSubmission(ctx, sub.ID, store.Update{Status: models.StatusProcessing, Transcript: raw}); err != nil {
			return skipLostRace(err, logger)
		}
		transcript = *out
		logger.Info().Int("segments", len(out.Segments)).Msg("Transcript saved")
	}

	text := transcript.FullText()
	var analysis map[string]any
	var score *float64
	if text == "" {
		zero := 0.0
		score = &zero
		analysis = map[string]any{
			"no_speech": true,
			"feedback":  scoring.TierNoSpeech.Feedback(),
		}
	} else {
		analysis, score = a.analyze(ctx, text, sub.ChallengeText)
	}
	analysis["transcript"] = transcript.Text
	analysis["segments"] = transcript.Segments

	raw, err := json.Marshal(analysis)
	if err != nil {
		return a.fail(ctx, sub.ID, err, logger)
	}
	if err := a.Store.UpdateSubmission(ctx, sub.ID, store.Update{
		Status:   models.StatusCompleted,
		Score:    score,
		Analysis: raw,
	}); err != nil {
		return skipLostRace(err, logger)
	}

	logger.Info().Msg("Submission analysis saved")
	a.publish(ctx, logger, events.Event{
		Type:     events.TypeSubmissionAnalyzed,
		EntityID: sub.ID,
		Status:   string(models.StatusCompleted),
		Data:     map[string]any{"score": score},
	})
	return nil
}

func (a *SubmissionAnalyzer) transcribe(ctx context.Context, sub *models.Submission) (*models.TranscriptionResult, error) {
	if sub.AudioURL == "" {
		return nil, ErrInvalidAudioURL
	}
	path, err := a.Audio.Locate(sub.AudioURL)
	if err != nil {
		return nil, err
	}
	out, err := a.Transcriber.Transcribe(ctx, path, a.Options)
	if err != nil {
		return nil, err
	}
	return &out.Result, nil
}

// analyze runs the best-effort reasoning calls. Neither can fail the job.
func (a *SubmissionAnalyzer) analyze(ctx context.Context, text, challenge string) (map[string]any, *float64) {
	eval, evalOK := reasoning.AskJSON(ctx, a.reasoner(), speechEvaluationQuestion(text), speechEvaluationFallback)
	topic, topicOK := reasoning.AskJSON(ctx, a.reasoner(), topicQuestion(text, challenge), topicAlignment{})

	analysis := map[string]any{
		"feedback": eval.Feedback,
		"enriched": evalOK,
	}
	if eval.PronunciationScore != nil {
		analysis["pronunciation_score"] = *eval.PronunciationScore
	}
	if eval.FluencyScore != nil {
		analysis["fluency_score"] = *eval.FluencyScore
	}
	if len(eval.Errors) > 0 {
		analysis["errors"] = eval.Errors
	}
	if len(eval.Suggestions) > 0 {
		analysis["suggestions"] = eval.Suggestions
	}
	if topicOK {
		analysis["alignment"] = topic
	}

	if eval.OverallScore == nil {
		return analysis, nil
	}
	analysis["overall_score"] = *eval.OverallScore
	score := scoring.Bound(*eval.OverallScore * 10)
	return analysis, &score
}

func (a *SubmissionAnalyzer) fail(ctx context.Context, id string, cause error, logger zerolog.Logger) error {
	logger.Error().Err(cause).Str("kind", errorKind(cause)).Msg("Submission analysis failed")
	raw, _ := json.Marshal(map[string]string{"error": cause.Error(), "error_kind": errorKind(cause)})
	if err := a.Store.UpdateSubmission(ctx, id, store.Update{Status: models.StatusFailed, Analysis: raw}); err != nil {
		return skipLostRace(err, logger)
	}
	a.publish(ctx, logger, events.Event{
		Type:     events.TypeSubmissionAnalyzed,
		EntityID: id,
		Status:   string(models.StatusFailed),
		Data:     map[string]string{"error_kind": errorKind(cause)},
	})
	return nil
}

// storedTranscript decodes a persisted transcript. An unreadable one is
// treated as absent so the audio is transcribed again.
func storedTranscript(raw []byte, logger zerolog.Logger) (models.TranscriptionResult, bool) {
	var t models.TranscriptionResult
	if len(raw) == 0 || string(raw) == "null" {
		return t, false
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		logger.Warn().Err(err).Msg("Stored transcript unreadable, transcribing again")
		return models.TranscriptionResult{}, false
	}
	return t, true
}

// skipLostRace turns a rejected status transition into a skip: another run
// already moved the entity on. Other store errors go back to the queue.
func skipLostRace(err error, logger zerolog.Logger) error {
	if errors.Is(err, store.ErrInvalidTransition) {
		logger.Info().Err(err).Msg("Entity moved on under a concurrent run, skipping")
		return nil
	}
	return err
}
