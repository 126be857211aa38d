package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"ai-speaking-assessment-service/internal/observability/metrics"
)

// ErrMalformedOutput reports an answer that could not be decoded. Callers of
// AskJSON never see it: the fallback is returned instead.
var ErrMalformedOutput = errors.New("reasoning: malformed output")

// Question is one request to the reasoning service.
type Question struct {
	Kind   string // metrics and log label, e.g. "hint"
	System string
	Prompt string
	// History is sent between the system and user messages.
	History []Message
}

func (q Question) messages() []Message {
	msgs := make([]Message, 0, len(q.History)+2)
	if q.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: q.System})
	}
	msgs = append(msgs, q.History...)
	if q.Prompt != "" {
		msgs = append(msgs, Message{Role: "user", Content: q.Prompt})
	}
	return msgs
}

// AskJSON asks q and decodes the answer into a fresh T. On transport error or
// undecodable output it returns fallback and false.
func AskJSON[T any](ctx context.Context, c Completer, q Question, fallback T) (T, bool) {
	raw, ok := complete(ctx, c, q, true)
	if !ok {
		return fallback, false
	}
	var out T
	if err := DecodeJSON(raw, &out); err != nil {
		log.Warn().Err(err).Str("kind", q.Kind).Msg("Reasoning answer malformed, using fallback")
		metrics.DefaultMetrics.RecordFallback(q.Kind)
		return fallback, false
	}
	return out, true
}

// AskText asks q and returns the trimmed answer, or fallback and false when
// the call fails or the answer is empty.
func AskText(ctx context.Context, c Completer, q Question, fallback string) (string, bool) {
	raw, ok := complete(ctx, c, q, false)
	if !ok {
		return fallback, false
	}
	text := strings.TrimSpace(stripFences(raw))
	if text == "" {
		metrics.DefaultMetrics.RecordFallback(q.Kind)
		return fallback, false
	}
	return text, true
}

func complete(ctx context.Context, c Completer, q Question, jsonMode bool) (string, bool) {
	start := time.Now()
	raw, err := c.Complete(ctx, q.messages(), jsonMode)
	metrics.DefaultMetrics.RecordReasoning(q.Kind, err, time.Since(start).Seconds())
	if err != nil {
		ev := log.Warn()
		if errors.Is(err, ErrUnavailable) {
			ev = log.Debug()
		}
		ev.Err(err).Str("kind", q.Kind).Msg("Reasoning call failed, using fallback")
		metrics.DefaultMetrics.RecordFallback(q.Kind)
		return "", false
	}
	return raw, true
}

// DecodeJSON decodes a model answer that may be wrapped in a markdown code
// fence or surrounded by prose.
func DecodeJSON(raw string, v any) error {
	body := strings.TrimSpace(stripFences(raw))
	if err := json.Unmarshal([]byte(body), v); err == nil {
		return nil
	}
	b := []byte(body)
	first, last := bytes.IndexByte(b, '{'), bytes.LastIndexByte(b, '}')
	if first >= 0 && last > first {
		if err := json.Unmarshal(b[first:last+1], v); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %.120q", ErrMalformedOutput, body)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	return strings.TrimSuffix(s, "```")
}
