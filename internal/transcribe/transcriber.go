// Package transcribe defines the Transcriber capability used by the job
// processors and the scenario engine, plus its error taxonomy.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-speaking-assessment-service/internal/models"
	"ai-speaking-assessment-service/internal/observability/metrics"
)

// DefaultTimeout bounds a transcription run when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Minute

// Options tunes one transcription run.
type Options struct {
	Model       string
	ComputeType string
	Language    string
	Timeout     time.Duration
}

// Output is the parsed result of a run and, when the provider wrote one, the
// path of its output artifact.
type Output struct {
	Result       models.TranscriptionResult
	ArtifactPath string
}

// Transcriber turns one local audio file into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, localPath string, opts Options) (*Output, error)
}

// Kind classifies a transcription failure.
type Kind string

const (
	KindMissingCapability Kind = "missing_capability"
	KindTimeout           Kind = "timeout"
	KindMalformedOutput   Kind = "malformed_output"
	KindProcessFailed     Kind = "process_failed"
	KindInputNotFound     Kind = "input_not_found"
)

var (
	ErrMissingCapability = &Error{Kind: KindMissingCapability}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrMalformedOutput   = &Error{Kind: KindMalformedOutput}
	ErrProcessFailed     = &Error{Kind: KindProcessFailed}
	ErrInputNotFound     = &Error{Kind: KindInputNotFound}
)

// Error is a classified transcription failure. errors.Is matches on Kind, so
// callers can compare against the Err* sentinels.
type Error struct {
	Kind   Kind
	Msg    string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := "transcribe: " + string(e.Kind)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Errorf builds a classified error.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the classification of err, or "" if it is not a
// transcription error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// Instrumented wraps t so every run records provider latency and outcome.
func Instrumented(provider string, t Transcriber) Transcriber {
	return &instrumented{provider: provider, next: t, metrics: metrics.DefaultMetrics}
}

type instrumented struct {
	provider string
	next     Transcriber
	metrics  *metrics.Metrics
}

func (i *instrumented) Transcribe(ctx context.Context, localPath string, opts Options) (*Output, error) {
	start := time.Now()
	out, err := i.next.Transcribe(ctx, localPath, opts)
	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	i.metrics.RecordTranscription(i.provider, outcome, time.Since(start).Seconds())
	return out, err
}
