package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-speaking-assessment-service/internal/observability/metrics"
)

const (
	deadLetterSuffix = ".dlq"
	maxRetryBackoff  = 5 * time.Minute
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka is the durable backend. Each job type maps to its own topic, consumed
// by a consumer group with manual offset commits. An offset is committed only
// after the job succeeds or exhausts its attempts, so jobs in flight during a
// crash are redelivered on restart.
type Kafka struct {
	cfg       Config
	writer    messageWriter
	newReader func(topic string) messageReader
	metrics   *metrics.Metrics

	mu         sync.Mutex
	processors map[string]Handler
	readers    []messageReader
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKafka creates the durable backend from cfg.
func NewKafka(cfg Config) (*Kafka, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("queue: kafka backend requires at least one broker")
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Kafka.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Transport: &kafka.Transport{
			Dial: dialer.DialFunc,
		},
	}

	newReader := func(topic string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Kafka.Brokers,
			GroupID:  cfg.Kafka.GroupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
			Dialer:   dialer,
		})
	}

	log.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("topicPrefix", cfg.Kafka.TopicPrefix).
		Str("groupId", cfg.Kafka.GroupID).
		Int("maxAttempts", cfg.MaxAttempts).
		Dur("retryBackoff", cfg.RetryBackoff).
		Bool("deadLetter", cfg.Kafka.DeadLetter).
		Msg("Kafka queue initialized")

	return newKafka(cfg, writer, newReader), nil
}

func newKafka(cfg Config, w messageWriter, newReader func(string) messageReader) *Kafka {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Kafka{
		cfg:        cfg,
		writer:     w,
		newReader:  newReader,
		metrics:    metrics.DefaultMetrics,
		processors: make(map[string]Handler),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (k *Kafka) Backend() string { return BackendKafka }

// Topic returns the topic a job type is published to.
func (k *Kafka) Topic(jobType string) string {
	if k.cfg.Kafka.TopicPrefix == "" {
		return jobType
	}
	return k.cfg.Kafka.TopicPrefix + "." + jobType
}

// Enqueue publishes the job and returns once the broker has acknowledged it.
func (k *Kafka) Enqueue(ctx context.Context, jobType string, payload any) (*Job, error) {
	job, err := newJob(jobType, payload)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	closed := k.closed
	k.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	value, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal job: %w", err)
	}

	msg := kafka.Message{
		Topic: k.Topic(jobType),
		Key:   []byte(job.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "jobType", Value: []byte(jobType)},
			{Key: "enqueuedAt", Value: []byte(job.EnqueuedAt.Format(time.RFC3339Nano))},
			{Key: "principal", Value: []byte(k.cfg.Kafka.Principal)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", msg.Topic).
			Str("jobId", job.ID).
			Msg("Failed to publish job")
		return nil, fmt.Errorf("queue: publish job: %w", err)
	}

	k.metrics.RecordEnqueue(BackendKafka, jobType)
	return job, nil
}

// RegisterProcessor binds h to jobType and starts consuming its topic.
func (k *Kafka) RegisterProcessor(jobType string, h Handler) error {
	if jobType == "" {
		return ErrEmptyJobType
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ErrClosed
	}
	if _, exists := k.processors[jobType]; exists {
		return ErrDuplicateProcessor
	}
	k.processors[jobType] = h

	topic := k.Topic(jobType)
	r := k.newReader(topic)
	k.readers = append(k.readers, r)

	k.wg.Add(1)
	go k.consume(jobType, topic, r, h)

	log.Info().Str("jobType", jobType).Str("topic", topic).Msg("Consumer started")
	return nil
}

func (k *Kafka) consume(jobType, topic string, r messageReader, h Handler) {
	defer k.wg.Done()

	for {
		msg, err := r.FetchMessage(k.ctx)
		if err != nil {
			if k.ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			log.Error().Err(err).Str("topic", topic).Msg("Failed to fetch job")
			if !k.sleep(k.cfg.RetryBackoff) {
				return
			}
			continue
		}

		job := &Job{}
		if err := json.Unmarshal(msg.Value, job); err != nil || job.Type == "" {
			// Undecodable messages can never succeed; commit past them.
			log.Error().
				Err(err).
				Str("topic", topic).
				Int64("offset", msg.Offset).
				Msg("Discarding undecodable job message")
			k.commit(r, msg)
			continue
		}
		if job.Type != jobType {
			log.Warn().
				Str("expected", jobType).
				Str("got", job.Type).
				Msg("Job type does not match topic, processing with topic handler")
		}

		if !k.process(job, msg, h) {
			// Shutdown interrupted retries. The offset stays uncommitted.
			return
		}
		k.commit(r, msg)
	}
}

// process runs the job with retries. It returns false if shutdown interrupted
// a retry wait, meaning the message must not be committed.
func (k *Kafka) process(job *Job, msg kafka.Message, h Handler) bool {
	var err error
	for attempt := 1; attempt <= k.cfg.MaxAttempts; attempt++ {
		job.Attempt = attempt
		// Handlers run detached from shutdown so in-flight work can finish.
		err = run(context.Background(), BackendKafka, k.metrics, h, job)
		if err == nil {
			return true
		}

		log.Warn().
			Err(err).
			Str("jobType", job.Type).
			Str("jobId", job.ID).
			Int("attempt", attempt).
			Int("maxAttempts", k.cfg.MaxAttempts).
			Msg("Job attempt failed")

		if attempt == k.cfg.MaxAttempts {
			break
		}
		k.metrics.RecordRetry(job.Type)
		if !k.sleep(k.backoff(attempt)) {
			return false
		}
	}

	log.Error().
		Err(err).
		Str("jobType", job.Type).
		Str("jobId", job.ID).
		Msg("Job exhausted its attempts")
	k.deadLetter(job, msg, err)
	return true
}

func (k *Kafka) backoff(attempt int) time.Duration {
	if k.cfg.RetryBackoff <= 0 {
		return 0
	}
	d := k.cfg.RetryBackoff
	for i := 1; i < attempt && d < maxRetryBackoff; i++ {
		d <<= 1
	}
	return min(d, maxRetryBackoff)
}

// sleep waits d, returning false if the queue is closing.
func (k *Kafka) sleep(d time.Duration) bool {
	if d <= 0 {
		return k.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-k.ctx.Done():
		return false
	}
}

func (k *Kafka) deadLetter(job *Job, msg kafka.Message, cause error) {
	if !k.cfg.Kafka.DeadLetter {
		return
	}
	dlq := kafka.Message{
		Topic: k.Topic(job.Type) + deadLetterSuffix,
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: "jobType", Value: []byte(job.Type)},
			{Key: "principal", Value: []byte(k.cfg.Kafka.Principal)},
			{Key: "attempts", Value: []byte(strconv.Itoa(job.Attempt))},
			{Key: "error", Value: []byte(errorString(cause))},
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, dlq); err != nil {
		log.Error().Err(err).Str("topic", dlq.Topic).Str("jobId", job.ID).Msg("Failed to write dead letter")
	}
}

func (k *Kafka) commit(r messageReader, msg kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.CommitMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", msg.Topic).
			Int64("offset", msg.Offset).
			Msg("Failed to commit offset")
	}
}

// Close stops the consumers, waits for in-flight jobs until ctx expires and
// closes readers and the writer.
func (k *Kafka) Close(ctx context.Context) error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	readers := k.readers
	k.mu.Unlock()

	k.cancel()
	waitErr := waitWithContext(ctx, k.wg.Wait)
	if waitErr != nil {
		log.Warn().Err(waitErr).Msg("Kafka queue closed before in-flight jobs finished")
	}

	var err error
	for _, r := range readers {
		if e := r.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing reader")
			err = e
		}
	}
	if e := k.writer.Close(); e != nil {
		log.Error().Err(e).Msg("Error closing writer")
		err = e
	}
	if waitErr != nil {
		return waitErr
	}
	return err
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
