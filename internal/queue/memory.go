package queue

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"ai-speaking-assessment-service/internal/observability/metrics"
)

// Memory is the in-process backend. Each job runs once on its own goroutine,
// bounded by a concurrency limit. A failed job is logged and dropped.
type Memory struct {
	mu         sync.Mutex
	processors map[string]Handler
	pending    map[string][]*Job
	closed     bool

	sem     chan struct{}
	wg      sync.WaitGroup
	metrics *metrics.Metrics
}

// NewMemory creates an in-process queue running at most concurrency jobs at once.
func NewMemory(concurrency int) *Memory {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Memory{
		processors: make(map[string]Handler),
		pending:    make(map[string][]*Job),
		sem:        make(chan struct{}, concurrency),
		metrics:    metrics.DefaultMetrics,
	}
}

func (m *Memory) Backend() string { return BackendMemory }

// Enqueue schedules the job and returns immediately. Jobs of a type with no
// registered processor are held until one is registered.
func (m *Memory) Enqueue(_ context.Context, jobType string, payload any) (*Job, error) {
	job, err := newJob(jobType, payload)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	m.metrics.RecordEnqueue(BackendMemory, jobType)
	if h, ok := m.processors[jobType]; ok {
		m.dispatchLocked(h, job)
	} else {
		m.pending[jobType] = append(m.pending[jobType], job)
		log.Debug().
			Str("jobType", jobType).
			Str("jobId", job.ID).
			Msg("No processor registered yet, holding job")
	}
	return job, nil
}

func (m *Memory) RegisterProcessor(jobType string, h Handler) error {
	if jobType == "" {
		return ErrEmptyJobType
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, exists := m.processors[jobType]; exists {
		return ErrDuplicateProcessor
	}
	m.processors[jobType] = h

	for _, job := range m.pending[jobType] {
		m.dispatchLocked(h, job)
	}
	delete(m.pending, jobType)
	return nil
}

// dispatchLocked starts the job. Callers hold m.mu so that Close cannot
// observe the wait group before the job is counted.
func (m *Memory) dispatchLocked(h Handler, job *Job) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.sem <- struct{}{}
		defer func() { <-m.sem }()

		// Jobs outlive the request that enqueued them.
		err := run(context.Background(), BackendMemory, m.metrics, h, job)
		if err != nil {
			log.Error().
				Err(err).
				Str("jobType", job.Type).
				Str("jobId", job.ID).
				Msg("Job failed, not retried by in-process queue")
			return
		}
		log.Debug().
			Str("jobType", job.Type).
			Str("jobId", job.ID).
			Msg("Job completed")
	}()
}

// Close stops accepting jobs and waits for in-flight jobs until ctx expires.
// Held jobs whose type never got a processor are dropped.
func (m *Memory) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	dropped := 0
	for _, jobs := range m.pending {
		dropped += len(jobs)
	}
	m.pending = nil
	m.mu.Unlock()

	if dropped > 0 {
		log.Warn().Int("dropped", dropped).Msg("Dropping held jobs with no registered processor")
	}

	if err := waitWithContext(ctx, m.wg.Wait); err != nil {
		log.Warn().Err(err).Msg("In-process queue closed before in-flight jobs finished")
		return err
	}
	log.Info().Msg("In-process queue closed")
	return nil
}
