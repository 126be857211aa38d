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

var errNoPrompt = errors.New("jobs: round has no prompt to score against")

// RoundScorer transcribes a read-aloud round and scores it against its
// prompt with the deterministic word matcher.
type RoundScorer struct {
	Deps
	Store store.Rounds
}

func NewRoundScorer(s store.Rounds, d Deps) *RoundScorer {
	return &RoundScorer{Deps: d, Store: s}
}

// WordAnalysis is one recognized word with its timing, as shown to learners.
type WordAnalysis struct {
	Word       string   `json:"word"`
	Start      *float64 `json:"start"`
	End        *float64 `json:"end"`
	Confidence *float64 `json:"confidence"`
	WordIndex  int      `json:"wordIndex"`
}

func (r *RoundScorer) Process(ctx context.Context, job *queue.Job) error {
	logger := logging.WithJob(job.Type, job.ID)

	var p SpeakingRoundPayload
	if !decodePayload(job, &p, logger) {
		return nil
	}
	logger = logger.With().Str("roundId", p.RoundID).Logger()

	round, err := r.Store.GetRound(ctx, p.RoundID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn().Msg("Round not found, nothing to do")
		return nil
	}
	if err != nil {
		return err
	}
	if round.Status.IsTerminal() {
		logger.Info().Str("status", string(round.Status)).Msg("Round already scored, skipping")
		return nil
	}
	fillFromRound(&p, round)

	if err := r.Store.UpdateRound(ctx, round.ID, store.Update{Status: models.StatusProcessing}); err != nil {
		return skipLostRace(err, logger)
	}
	if p.Prompt == "" {
		return r.fail(ctx, round.ID, errNoPrompt, logger)
	}

	transcript, ok := storedTranscript(round.Transcript, logger)
	if ok {
		logger.Info().Msg("Transcript already present, skipping transcription")
	} else {
		path, err := r.Audio.Locate(p.AudioURL)
		if err != nil {
			return r.fail(ctx, round.ID, err, logger)
		}
		out, err := r.Transcriber.Transcribe(ctx, path, r.Options)
		if err != nil {
			return r.fail(ctx, round.ID, err, logger)
		}
		raw, err := json.Marshal(out.Result)
		if err != nil {
			return r.fail(ctx, round.ID, err, logger)
		}
		if err := r.Store.UpdateRound(ctx, round.ID, store.Update{Status: models.StatusProcessing, Transcript: raw}); err != nil {
			return skipLostRace(err, logger)
		}
		transcript = out.Result
	}

	text := transcript.FullText()
	res := scoring.Evaluate(p.Prompt, text, p.Elapsed())

	var enrichment map[string]any
	if res.Enrichable() {
		enrichment, _ = reasoning.AskJSON(ctx, r.reasoner(),
			roundEnrichmentQuestion(p.Prompt, text, p.Level, res.Score, res.MissingWords),
			map[string]any(nil))
	}

	analysis := scoring.Merge(res, enrichment)
	analysis["corrected_text"] = p.Prompt
	analysis["word_analysis"] = wordAnalysis(transcript.Words)
	if p.Level != "" {
		analysis["level"] = p.Level
	}
	if _, ok := analysis["errors"]; !ok {
		analysis["errors"] = []any{}
	}

	raw, err := json.Marshal(analysis)
	if err != nil {
		return r.fail(ctx, round.ID, err, logger)
	}
	score := res.Score
	if err := r.Store.UpdateRound(ctx, round.ID, store.Update{
		Status:   models.StatusCompleted,
		Score:    &score,
		Analysis: raw,
	}); err != nil {
		return skipLostRace(err, logger)
	}

	logger.Info().
		Float64("score", res.Score).
		Int("missingWords", len(res.MissingWords)).
		Int("speechRate", res.SpeechRate).
		Msg("Round scored")
	r.publish(ctx, logger, events.Event{
		Type:     events.TypeRoundScored,
		EntityID: round.ID,
		Status:   string(models.StatusCompleted),
		Data: map[string]any{
			"sessionId": p.SessionID,
			"score":     res.Score,
			"tier":      res.Tier,
		},
	})
	return nil
}

func (r *RoundScorer) fail(ctx context.Context, id string, cause error, logger zerolog.Logger) error {
	logger.Error().Err(cause).Str("kind", errorKind(cause)).Msg("Round scoring failed")
	raw, _ := json.Marshal(map[string]string{"error": cause.Error(), "error_kind": errorKind(cause)})
	if err := r.Store.UpdateRound(ctx, id, store.Update{Status: models.StatusFailed, Analysis: raw}); err != nil {
		return skipLostRace(err, logger)
	}
	r.publish(ctx, logger, events.Event{
		Type:     events.TypeRoundScored,
		EntityID: id,
		Status:   string(models.StatusFailed),
		Data:     map[string]string{"error_kind": errorKind(cause)},
	})
	return nil
}

func fillFromRound(p *SpeakingRoundPayload, round *models.PracticeRound) {
	if p.SessionID == "" {
		p.SessionID = round.SessionID
	}
	if p.AudioURL == "" {
		p.AudioURL = round.AudioURL
	}
	if p.Prompt == "" {
		p.Prompt = round.Prompt
	}
	if p.Level == "" {
		p.Level = round.Level
	}
	if p.TimeTaken == 0 {
		p.TimeTaken = round.TimeTaken
	}
}

func wordAnalysis(words []models.Word) []WordAnalysis {
	out := make([]WordAnalysis, 0, len(words))
	for i, w := range words {
		out = append(out, WordAnalysis{
			Word:       w.Text,
			Start:      w.Start,
			End:        w.End,
			Confidence: w.Confidence,
			WordIndex:  i,
		})
	}
	return out
}

