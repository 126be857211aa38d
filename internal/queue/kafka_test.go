package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) topics() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.msgs))
	for _, m := range w.msgs {
		out = append(out, m.Topic)
	}
	return out
}

type fakeReader struct {
	in        chan kafka.Message
	mu        sync.Mutex
	committed []kafka.Message
}

func newFakeReader() *fakeReader {
	return &fakeReader{in: make(chan kafka.Message, 8)}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.in:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func newTestKafka(t *testing.T, maxAttempts int, backoff time.Duration) (*Kafka, *fakeWriter, *fakeReader) {
	t.Helper()
	w := &fakeWriter{}
	r := newFakeReader()
	cfg := Config{
		Backend:      BackendKafka,
		MaxAttempts:  maxAttempts,
		RetryBackoff: backoff,
		Kafka: KafkaConfig{
			Brokers:     []string{"localhost:9092"},
			TopicPrefix: "speaking.jobs",
			Principal:   "svc-test",
			DeadLetter:  true,
		},
	}
	k := newKafka(cfg, w, func(string) messageReader { return r })
	return k, w, r
}

// deliver publishes a job and hands the resulting message to the reader.
func deliver(t *testing.T, k *Kafka, w *fakeWriter, r *fakeReader, jobType string) *Job {
	t.Helper()
	job, err := k.Enqueue(context.Background(), jobType, map[string]string{"id": "42"})
	require.NoError(t, err)
	w.mu.Lock()
	msg := w.msgs[len(w.msgs)-1]
	w.mu.Unlock()
	r.in <- msg
	return job
}

func TestKafka_EnqueuePublishesToJobTopic(t *testing.T) {
	k, w, _ := newTestKafka(t, 3, time.Millisecond)
	defer k.Close(context.Background())

	job, err := k.Enqueue(context.Background(), "analyze-submission", map[string]string{"submissionId": "s1"})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	require.Equal(t, "speaking.jobs.analyze-submission", msg.Topic)
	require.Equal(t, job.ID, string(msg.Key))
	require.Contains(t, string(msg.Value), `"submissionId":"s1"`)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	require.Equal(t, "analyze-submission", headers["jobType"])
	require.Equal(t, "svc-test", headers["principal"])
}

func TestKafka_EnqueueSurfacesBrokerError(t *testing.T) {
	k, w, _ := newTestKafka(t, 3, time.Millisecond)
	defer k.Close(context.Background())
	w.err = errors.New("broker down")

	_, err := k.Enqueue(context.Background(), "x", struct{}{})
	require.Error(t, err)
}

func TestKafka_RetriesUntilSuccess(t *testing.T) {
	k, w, r := newTestKafka(t, 3, time.Millisecond)

	var calls, lastAttempt atomic.Int32
	require.NoError(t, k.RegisterProcessor("score-round", func(ctx context.Context, job *Job) error {
		lastAttempt.Store(int32(job.Attempt))
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}))

	deliver(t, k, w, r, "score-round")

	require.Eventually(t, func() bool { return r.commits() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, k.Close(context.Background()))
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, int32(3), lastAttempt.Load())
	require.NotContains(t, w.topics(), "speaking.jobs.score-round.dlq")
}

func TestKafka_ExhaustedJobGoesToDeadLetter(t *testing.T) {
	k, w, r := newTestKafka(t, 2, time.Millisecond)

	var calls atomic.Int32
	require.NoError(t, k.RegisterProcessor("mentor-feedback", func(ctx context.Context, job *Job) error {
		calls.Add(1)
		return errors.New("permanent")
	}))

	deliver(t, k, w, r, "mentor-feedback")

	require.Eventually(t, func() bool { return r.commits() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, k.Close(context.Background()))
	require.Equal(t, int32(2), calls.Load())
	require.Contains(t, w.topics(), "speaking.jobs.mentor-feedback.dlq")
}

func TestKafka_CloseDuringBackoffLeavesOffsetUncommitted(t *testing.T) {
	k, w, r := newTestKafka(t, 3, time.Hour)

	attempted := make(chan struct{}, 1)
	require.NoError(t, k.RegisterProcessor("analyze-submission", func(ctx context.Context, job *Job) error {
		attempted <- struct{}{}
		return errors.New("transient")
	}))

	deliver(t, k, w, r, "analyze-submission")

	select {
	case <-attempted:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, k.Close(ctx))
	require.Equal(t, 0, r.commits())
}

func TestKafka_UndecodableMessageIsCommitted(t *testing.T) {
	k, _, r := newTestKafka(t, 3, time.Millisecond)

	var calls atomic.Int32
	require.NoError(t, k.RegisterProcessor("x", func(ctx context.Context, job *Job) error {
		calls.Add(1)
		return nil
	}))

	r.in <- kafka.Message{Topic: "speaking.jobs.x", Value: []byte("garbage")}

	require.Eventually(t, func() bool { return r.commits() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, k.Close(context.Background()))
	require.Equal(t, int32(0), calls.Load())
}

func TestKafka_DuplicateProcessorAndClosed(t *testing.T) {
	k, _, _ := newTestKafka(t, 1, 0)
	h := func(ctx context.Context, job *Job) error { return nil }

	require.NoError(t, k.RegisterProcessor("x", h))
	require.ErrorIs(t, k.RegisterProcessor("x", h), ErrDuplicateProcessor)

	require.NoError(t, k.Close(context.Background()))
	_, err := k.Enqueue(context.Background(), "x", struct{}{})
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, k.RegisterProcessor("y", h), ErrClosed)
}

func TestKafka_BackoffDoubles(t *testing.T) {
	k, _, _ := newTestKafka(t, 4, 100*time.Millisecond)
	defer k.Close(context.Background())

	require.Equal(t, 100*time.Millisecond, k.backoff(1))
	require.Equal(t, 200*time.Millisecond, k.backoff(2))
	require.Equal(t, 400*time.Millisecond, k.backoff(3))
}

func TestKafka_BackoffCapped(t *testing.T) {
	k, _, _ := newTestKafka(t, 100, 2*time.Second)
	defer k.Close(context.Background())

	require.Equal(t, 4*time.Minute+16*time.Second, k.backoff(8))
	require.Equal(t, maxRetryBackoff, k.backoff(9))
	require.Equal(t, maxRetryBackoff, k.backoff(40))
	require.Equal(t, maxRetryBackoff, k.backoff(100))
}
