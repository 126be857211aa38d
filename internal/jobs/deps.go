package jobs

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"ai-speaking-assessment-service/internal/events"
	"ai-speaking-assessment-service/internal/reasoning"
	"ai-speaking-assessment-service/internal/transcribe"
)

// Deps are the collaborators shared by the processors.
type Deps struct {
	Transcriber transcribe.Transcriber
	Reasoner    reasoning.Completer
	Audio       AudioLocator
	Events      events.Emitter
	// Options is passed to every transcription run.
	Options transcribe.Options
}

func (d Deps) reasoner() reasoning.Completer {
	if d.Reasoner == nil {
		return reasoning.Unavailable{}
	}
	return d.Reasoner
}

// publish emits ev after the outcome is persisted. A failed publish is
// logged only; the stored status is the source of truth.
func (d Deps) publish(ctx context.Context, logger zerolog.Logger, ev events.Event) {
	if d.Events == nil {
		return
	}
	if err := d.Events.Publish(ctx, ev); err != nil {
		logger.Warn().Err(err).Str("eventType", ev.Type).Msg("Failed to publish outcome event")
	}
}

// errorKind labels a processing failure for the stored analysis.
func errorKind(err error) string {
	if k := transcribe.KindOf(err); k != "" {
		return string(k)
	}
	switch {
	case errors.Is(err, ErrAudioNotFound):
		return "audio_not_found"
	case errors.Is(err, ErrAudioTooLarge):
		return "audio_too_large"
	case errors.Is(err, ErrInvalidAudioURL):
		return "invalid_audio_url"
	default:
		return "processing_error"
	}
}
