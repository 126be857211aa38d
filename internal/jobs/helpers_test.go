package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"ai-speaking-assessment-service/internal/events"
	"ai-speaking-assessment-service/internal/queue"
	"ai-speaking-assessment-service/internal/reasoning"
	"ai-speaking-assessment-service/internal/transcribe"
)

// stubReasoner answers by matching a fragment of the user prompt.
type stubReasoner struct {
	mu      sync.Mutex
	answers map[string]string
	err     error
	prompts []string
}

func (s *stubReasoner) Complete(_ context.Context, msgs []reasoning.Message, _ bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prompt := msgs[len(msgs)-1].Content
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	for fragment, answer := range s.answers {
		if strings.Contains(prompt, fragment) {
			return answer, nil
		}
	}
	return "", errors.New("stub: no answer")
}

func (s *stubReasoner) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEmitter) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// uploadsDir creates an uploads directory holding the named audio files.
func uploadsDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("RIFF....WAVE"), 0o600))
	}
	return dir
}

func newJob(t *testing.T, jobType string, payload any) *queue.Job {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: "job-1", Type: jobType, Data: data, Attempt: 1}
}

func testDeps(tr transcribe.Transcriber, r reasoning.Completer, dir string, em events.Emitter) Deps {
	return Deps{
		Transcriber: tr,
		Reasoner:    r,
		Audio:       AudioLocator{Dir: dir, MaxBytes: 1 << 20},
		Events:      em,
		Options:     transcribe.Options{Model: "base"},
	}
}

func decodeMap(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}
