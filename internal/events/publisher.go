// Package events publishes pipeline outcome events.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-speaking-assessment-service/internal/observability/metrics"
)

// Outcome event types.
const (
	TypeSubmissionAnalyzed    = "submission.analyzed"
	TypeRoundScored           = "round.scored"
	TypeMentorFeedbackLearned = "mentor.feedback.learned"
	TypeScenarioCompleted     = "scenario.completed"
)

// Event is the envelope written to the outcome topic.
type Event struct {
	Type       string    `json:"type"`
	EntityID   string    `json:"entityId"`
	Status     string    `json:"status,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data,omitempty"`
}

// Emitter is what the processors and the scenario engine depend on.
type Emitter interface {
	Publish(ctx context.Context, ev Event) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes outcome events to a single Kafka topic, keyed by
// entity id so events of one entity stay ordered.
type Publisher struct {
	writer    messageWriter
	principal string
	topic     string
	enabled   bool
	metrics   *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers   []string
	Topic     string
	Principal string
	Enabled   bool
}

// New creates a publisher. Without brokers, or when disabled, events are
// only logged.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Outcome events disabled (nil config), using log-only mode")
		return &Publisher{metrics: m}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Outcome events disabled, using log-only mode")
		return &Publisher{
			principal: cfg.Principal,
			topic:     cfg.Topic,
			metrics:   m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport: &kafka.Transport{
			Dial: dialer.DialFunc,
		},
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Str("principal", cfg.Principal).
		Msg("Outcome event publisher initialized")

	return &Publisher{
		writer:    writer,
		principal: cfg.Principal,
		topic:     cfg.Topic,
		enabled:   true,
		metrics:   m,
	}
}

// Publish writes ev. OccurredAt is filled in when zero.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("eventType", ev.Type).Msg("Failed to marshal event")
		p.metrics.RecordEventPublish(ev.Type, err)
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", p.topic).
		Str("eventType", ev.Type).
		Str("entityId", ev.EntityID).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || p.writer == nil {
		p.metrics.RecordEventPublish(ev.Type, nil)
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(ev.EntityID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(ev.Type)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", p.topic).
			Str("eventType", ev.Type).
			Str("entityId", ev.EntityID).
			Msg("Failed to write to Kafka")
		p.metrics.RecordEventPublish(ev.Type, err)
		return err
	}

	p.metrics.RecordEventPublish(ev.Type, nil)
	return nil
}

// Close closes the Kafka writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing event writer")
		return err
	}
	return nil
}

// Discard drops every event. It is used where outcome events are not wanted.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
