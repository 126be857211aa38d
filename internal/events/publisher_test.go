package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writer != nil {
				t.Error("expected nil writer when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	p := New(&Config{
		Enabled:   false,
		Brokers:   []string{"localhost:9092"},
		Topic:     "test.events",
		Principal: "test-principal",
	})

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topic != "test.events" {
		t.Errorf("expected topic 'test.events', got %s", p.topic)
	}
}

func TestPublisher_Publish_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	err := p.Publish(context.Background(), Event{Type: TypeRoundScored, EntityID: "r1"})
	if err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
}

func TestPublisher_Publish_WritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w, principal: "svc", topic: "events", enabled: true, metrics: New(nil).metrics}

	err := p.Publish(context.Background(), Event{
		Type:     TypeSubmissionAnalyzed,
		EntityID: "sub-1",
		Status:   "completed",
		Data:     map[string]any{"score": 80.0},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}

	msg := w.msgs[0]
	if string(msg.Key) != "sub-1" {
		t.Errorf("expected key 'sub-1', got %s", msg.Key)
	}
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["eventType"] != TypeSubmissionAnalyzed {
		t.Errorf("unexpected eventType header %q", headers["eventType"])
	}
	if headers["principal"] != "svc" {
		t.Errorf("unexpected principal header %q", headers["principal"])
	}

	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.Fatalf("payload is not an event: %v", err)
	}
	if ev.OccurredAt.IsZero() {
		t.Error("expected occurredAt to be set")
	}
	if ev.Status != "completed" {
		t.Errorf("expected status 'completed', got %s", ev.Status)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("expected writer to be closed, err=%v", err)
	}
}

func TestPublisher_Publish_WriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := &Publisher{writer: &fakeWriter{err: boom}, enabled: true, metrics: New(nil).metrics}

	err := p.Publish(context.Background(), Event{Type: TypeRoundScored, EntityID: "r1"})
	if !errors.Is(err, boom) {
		t.Errorf("expected writer error, got %v", err)
	}
}

func TestPublisher_Publish_UnmarshalableData(t *testing.T) {
	p := New(nil)
	err := p.Publish(context.Background(), Event{Type: TypeRoundScored, Data: make(chan int)})
	if err == nil {
		t.Error("expected marshal error")
	}
}
