package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ai-speaking-assessment-service/internal/config"
	"ai-speaking-assessment-service/internal/events"
	"ai-speaking-assessment-service/internal/jobs"
	"ai-speaking-assessment-service/internal/observability/logging"
	"ai-speaking-assessment-service/internal/paramstore"
	"ai-speaking-assessment-service/internal/queue"
	"ai-speaking-assessment-service/internal/reasoning"
	"ai-speaking-assessment-service/internal/scenario"
	"ai-speaking-assessment-service/internal/store"
	"ai-speaking-assessment-service/internal/transcribe"
	"ai-speaking-assessment-service/internal/transcribe/google"
	"ai-speaking-assessment-service/internal/transcribe/mock"
	"ai-speaking-assessment-service/internal/transcribe/whisperx"
)

const (
	ProviderWhisperX = "whisperx"
	ProviderGoogle   = "google"
	ProviderMock     = "mock"
)

var ErrUnknownProvider = errors.New("app: unknown transcription provider")

// Application holds process-wide state for the service. Everything is built
// in New and released in Shutdown.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Store       store.Store
	Queue       queue.Queue
	Transcriber transcribe.Transcriber
	Reasoner    reasoning.Completer
	Events      *events.Publisher
	Registry    *jobs.Registry
	Scenarios   *scenario.Service
	Audio       jobs.AudioLocator

	closers []func() error
}

// New constructs the application from cfg. A failure leaves nothing open.
func New(ctx context.Context, cfg *config.Configuration) (_ *Application, err error) {
	a := &Application{Cfg: cfg}
	a.setupLogger()
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	a.Store, err = store.Open(ctx, store.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}
	a.closers = append(a.closers, a.Store.Close)

	a.Transcriber, err = newTranscriber(ctx, cfg.Transcription)
	if err != nil {
		return nil, err
	}
	if c, ok := a.Transcriber.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	a.Transcriber = transcribe.Instrumented(cfg.Transcription.Provider, a.Transcriber)

	a.Reasoner, err = newReasoner(ctx, cfg.Reasoning)
	if err != nil {
		return nil, err
	}

	a.Events = events.New(&events.Config{
		Enabled:   cfg.Events.Enabled,
		Brokers:   cfg.Kafka.Brokers,
		Topic:     cfg.Events.Topic,
		Principal: cfg.Service.Principal,
	})
	a.closers = append(a.closers, a.Events.Close)

	a.Queue, err = queue.New(queue.Config{
		Backend:           cfg.Queue.Backend,
		MaxAttempts:       cfg.Queue.MaxAttempts,
		RetryBackoff:      cfg.Queue.RetryBackoff,
		MemoryConcurrency: cfg.Queue.MemoryConcurrency,
		Kafka: queue.KafkaConfig{
			Brokers:     cfg.Kafka.Brokers,
			TopicPrefix: cfg.Kafka.TopicPrefix,
			GroupID:     cfg.Kafka.GroupID,
			Principal:   cfg.Kafka.Principal,
			DeadLetter:  cfg.Kafka.DeadLetter,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("app: create queue: %w", err)
	}
	if !cfg.Queue.RetriesEnabled() {
		a.Logger.Warn().
			Str("backend", a.Queue.Backend()).
			Int("maxAttempts", cfg.Queue.MaxAttempts).
			Msg("Failed jobs will not be retried")
	}

	opts := transcribe.Options{
		Model:       cfg.Transcription.Model,
		ComputeType: cfg.Transcription.ComputeType,
		Language:    cfg.Transcription.Language,
		Timeout:     cfg.Transcription.Timeout,
	}
	a.Audio = jobs.AudioLocator{Dir: cfg.Transcription.UploadsDir, MaxBytes: cfg.Transcription.MaxAudioBytes}
	a.Registry = jobs.NewPipelineRegistry(a.Store, jobs.Deps{
		Transcriber: a.Transcriber,
		Reasoner:    a.Reasoner,
		Audio:       a.Audio,
		Events:      a.Events,
		Options:     opts,
	})
	a.Scenarios = scenario.NewService(a.Store, a.Transcriber, a.Reasoner, a.Events, scenario.Config{
		HintPenalty:         cfg.Scenario.HintPenalty,
		IndependencePerHint: cfg.Scenario.IndependencePerHint,
		HistoryTurns:        cfg.Scenario.HistoryTurns,
		Transcription:       opts,
	})

	a.Logger.Info().
		Str("store", cfg.Database.Driver).
		Str("queue", a.Queue.Backend()).
		Str("transcriber", cfg.Transcription.Provider).
		Bool("events", cfg.Events.Enabled).
		Msg("AI speaking assessment service application created")
	return a, nil
}

func (a *Application) setupLogger() {
	lc := logging.DefaultConfig()
	lc.Level = a.Cfg.Observability.LogLevel
	lc.Format = a.Cfg.Observability.LogFormat
	lc.File = a.Cfg.Observability.LogFile
	logging.Init(lc)

	a.Logger = logging.WithComponent("application").With().
		Str("service", "ai-speaking-assessment-service").
		Logger()
}

func newTranscriber(ctx context.Context, cfg config.TranscriptionConfig) (transcribe.Transcriber, error) {
	switch cfg.Provider {
	case ProviderWhisperX:
		r := whisperx.New(whisperx.Config{
			Python:    cfg.Python,
			Script:    cfg.Script,
			OutputDir: cfg.OutputDir,
		})
		// A missing whisperx is logged by Probe; jobs fail with a clear
		// error instead of the service refusing to start.
		_ = r.Probe(ctx)
		return r, nil
	case ProviderGoogle:
		gc := google.DefaultConfig()
		if cfg.Language != "" {
			gc.LanguageCode = cfg.Language
		}
		t, err := google.New(ctx, gc)
		if err != nil {
			return nil, fmt.Errorf("app: create google transcriber: %w", err)
		}
		return t, nil
	case ProviderMock:
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// newReasoner builds the reasoning client. Without a key source every
// question resolves to its fallback.
func newReasoner(ctx context.Context, cfg config.ReasoningConfig) (reasoning.Completer, error) {
	var keys reasoning.KeySource
	switch {
	case cfg.APIKey != "":
		keys = reasoning.StaticKey(cfg.APIKey)
	case cfg.APIKeyParam != "":
		ps, err := paramstore.NewFromEnvironment(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: parameter store: %w", err)
		}
		keys = reasoning.ParameterKey{Getter: ps, Name: cfg.APIKeyParam}
	default:
		logger := logging.WithComponent("reasoning")
		logger.Warn().
			Msg("No reasoning API key configured, all assessments use fallbacks")
		return reasoning.Unavailable{}, nil
	}
	return reasoning.NewClient(keys,
		reasoning.WithBaseURL(cfg.BaseURL),
		reasoning.WithModel(cfg.Model),
		reasoning.WithTimeout(cfg.Timeout),
	)
}

// Start binds the processors to the queue. Jobs start running from here on.
func (a *Application) Start() error {
	if err := a.Registry.Bind(a.Queue); err != nil {
		return err
	}
	a.StartupTime = time.Now().UTC()
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Strs("jobTypes", a.Registry.Types()).
		Msg("AI speaking assessment service starting")
	return nil
}

// Ready reports whether the store is reachable.
func (a *Application) Ready(ctx context.Context) error {
	return a.Store.Ping(ctx)
}

// Shutdown drains the queue until ctx expires, then releases everything else.
func (a *Application) Shutdown(ctx context.Context) {
	a.Logger.Info().Msg("AI speaking assessment service shutting down")
	if a.Queue != nil {
		if err := a.Queue.Close(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Queue did not drain cleanly")
		}
	}
	a.closeAll()
}

// closeAll runs the closers in reverse construction order.
func (a *Application) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn().Err(err).Msg("Error releasing resource")
		}
	}
	a.closers = nil
}
