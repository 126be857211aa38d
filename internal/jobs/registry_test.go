package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ai-speaking-assessment-service/internal/queue"
	"ai-speaking-assessment-service/internal/store"
)

func TestRegistry_RegisterAndTypes(t *testing.T) {
	r := NewRegistry()
	noop := ProcessorFunc(func(context.Context, *queue.Job) error { return nil })

	require.NoError(t, r.Register("b", noop))
	require.NoError(t, r.Register("a", noop))
	require.ErrorIs(t, r.Register("a", noop), ErrDuplicateProcessor)
	require.ErrorIs(t, r.Register("", noop), queue.ErrEmptyJobType)

	require.Equal(t, []string{"a", "b"}, r.Types())
	_, ok := r.Lookup("a")
	require.True(t, ok)
	_, ok = r.Lookup("missing")
	require.False(t, ok)
}

func TestRegistry_BindRunsJobs(t *testing.T) {
	q := queue.NewMemory(2)
	defer q.Close(context.Background())

	got := make(chan string, 1)
	r := NewRegistry()
	require.NoError(t, r.Register("echo", ProcessorFunc(func(_ context.Context, job *queue.Job) error {
		var p struct{ Value string }
		if err := job.Decode(&p); err != nil {
			return err
		}
		got <- p.Value
		return nil
	})))
	require.NoError(t, r.Bind(q))

	_, err := q.Enqueue(context.Background(), "echo", map[string]string{"Value": "hi"})
	require.NoError(t, err)

	select {
	case v := <-got:
		require.Equal(t, "hi", v)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}

	// A second bind collides with the processors already on the queue.
	require.ErrorIs(t, r.Bind(q), queue.ErrDuplicateProcessor)
}

func TestNewPipelineRegistry(t *testing.T) {
	r := NewPipelineRegistry(store.NewMemory(), Deps{})
	require.Equal(t, []string{TypeAnalyzeSubmission, TypeMentorAudioFeedback, TypeSpeakingRound}, r.Types())
}
