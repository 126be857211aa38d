// Package queue provides one job-dispatch contract over two interchangeable
// backends: an in-process fallback and a durable Kafka-backed queue.
//
// The backends differ in delivery guarantees. The memory backend runs each
// job exactly once and never retries or requeues a failed job. The kafka
// backend redelivers a failed job up to Config.MaxAttempts times with
// exponential backoff before committing past it. Neither backend
// deduplicates: enqueuing the same entity twice runs two jobs, and handlers
// must guard themselves with idempotent precondition checks.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ai-speaking-assessment-service/internal/observability/metrics"
)

const (
	BackendMemory = "memory"
	BackendKafka  = "kafka"
)

var (
	ErrClosed             = errors.New("queue: closed")
	ErrDuplicateProcessor = errors.New("queue: processor already registered for job type")
	ErrUnknownBackend     = errors.New("queue: unknown backend")
	ErrEmptyJobType       = errors.New("queue: job type must not be empty")
)

// Job is one unit of asynchronous work. It lives only as long as the queue
// holds it.
type Job struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	Attempt    int             `json:"attempt"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if len(j.Data) == 0 {
		return errors.New("queue: empty job payload")
	}
	return json.Unmarshal(j.Data, v)
}

// Handler processes one job. A handler signals failure only by returning an
// error.
type Handler func(ctx context.Context, job *Job) error

// Queue is the capability every backend implements.
type Queue interface {
	// Enqueue accepts a job and returns its handle without waiting for it to run.
	Enqueue(ctx context.Context, jobType string, payload any) (*Job, error)
	// RegisterProcessor binds the single handler for a job type.
	RegisterProcessor(jobType string, h Handler) error
	// Close stops intake, drains in-flight work and releases backend resources.
	Close(ctx context.Context) error
	// Backend names the implementation, for logs and metrics only.
	Backend() string
}

// Config selects and tunes the backend.
type Config struct {
	Backend           string
	MaxAttempts       int
	RetryBackoff      time.Duration
	MemoryConcurrency int
	Kafka             KafkaConfig
}

// KafkaConfig holds the broker settings of the kafka backend.
type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string
	GroupID     string
	Principal   string
	DeadLetter  bool
}

// New constructs the backend named by cfg.Backend.
func New(cfg Config) (Queue, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		log.Warn().
			Str("backend", BackendMemory).
			Msg("In-process queue selected: failed jobs are logged and never retried")
		return NewMemory(cfg.MemoryConcurrency), nil
	case BackendKafka:
		return NewKafka(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

func newJob(jobType string, payload any) (*Job, error) {
	if jobType == "" {
		return nil, ErrEmptyJobType
	}
	var data json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		data = p
	case []byte:
		data = json.RawMessage(p)
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("queue: marshal payload: %w", err)
		}
		data = b
	}
	if !json.Valid(data) {
		return nil, errors.New("queue: payload is not valid JSON")
	}
	return &Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Data:       data,
		EnqueuedAt: time.Now().UTC(),
		Attempt:    1,
	}, nil
}

// run executes a handler, converting panics into errors and recording metrics.
func run(ctx context.Context, backend string, m *metrics.Metrics, h Handler, job *Job) (err error) {
	start := time.Now()
	m.RecordJobStart(backend)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: handler panic: %v", r)
			log.Error().
				Str("jobType", job.Type).
				Str("jobId", job.ID).
				Bytes("stack", debug.Stack()).
				Msg("Job handler panicked")
		}
		m.RecordJobEnd(backend, job.Type, err, time.Since(start).Seconds())
	}()
	return h(ctx, job)
}

// waitWithContext waits for wait to return or ctx to expire.
func waitWithContext(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
