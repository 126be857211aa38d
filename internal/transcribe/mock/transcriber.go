// Package mock provides a canned transcriber for tests and for running the
// pipeline without a speech backend.
package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"ai-speaking-assessment-service/internal/models"
	"ai-speaking-assessment-service/internal/transcribe"
)

// DefaultTranscripts are cycled through when no fixed result is configured.
var DefaultTranscripts = []string{
	"I want to book a table for two",
	"Yes please go ahead",
	"Can you help me with my account",
	"Thank you very much",
}

// Transcriber returns canned results and counts its calls.
type Transcriber struct {
	mu     sync.Mutex
	result *models.TranscriptionResult
	err    error
	paths  []string
	calls  atomic.Int64
	next   int
}

// New creates a mock that cycles through DefaultTranscripts.
func New() *Transcriber {
	return &Transcriber{}
}

// WithText creates a mock that always returns text.
func WithText(text string) *Transcriber {
	return WithResult(models.TranscriptionResult{Text: text, Segments: []models.Segment{{Text: text}}})
}

// WithResult creates a mock that always returns res.
func WithResult(res models.TranscriptionResult) *Transcriber {
	return &Transcriber{result: &res}
}

// WithError creates a mock that always fails with err.
func WithError(err error) *Transcriber {
	return &Transcriber{err: err}
}

func (t *Transcriber) Transcribe(ctx context.Context, localPath string, opts transcribe.Options) (*transcribe.Output, error) {
	t.calls.Add(1)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.paths = append(t.paths, localPath)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.err != nil {
		return nil, t.err
	}
	if t.result != nil {
		return &transcribe.Output{Result: *t.result}, nil
	}

	text := DefaultTranscripts[t.next%len(DefaultTranscripts)]
	t.next++
	return &transcribe.Output{Result: models.TranscriptionResult{
		Text:     text,
		Segments: []models.Segment{{Text: text}},
	}}, nil
}

// Calls returns how many times Transcribe was invoked.
func (t *Transcriber) Calls() int {
	return int(t.calls.Load())
}

// Paths returns the audio paths passed to Transcribe, in call order.
func (t *Transcriber) Paths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.paths...)
}
