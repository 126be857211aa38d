package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Configuration is the full service configuration, read once at startup.
type Configuration struct {
	Service       ServiceConfig
	Queue         QueueConfig
	Kafka         KafkaConfig
	Transcription TranscriptionConfig
	Reasoning     ReasoningConfig
	Database      DatabaseConfig
	Events        EventsConfig
	Scenario      ScenarioConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Principal   string
	HTTPPort    string
	GRPCPort    string
	MetricsAddr string
}

// QueueConfig selects the job backend. MaxAttempts and RetryBackoff only
// apply to the kafka backend; the memory backend never retries.
type QueueConfig struct {
	Backend           string // memory | kafka
	MaxAttempts       int
	RetryBackoff      time.Duration
	MemoryConcurrency int
}

type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string
	GroupID     string
	Principal   string
	DeadLetter  bool
}

type TranscriptionConfig struct {
	Provider      string // whisperx | google | mock
	Python        string
	Script        string
	OutputDir     string
	Model         string
	ComputeType   string
	Language      string
	Timeout       time.Duration
	UploadsDir    string
	MaxAudioBytes int64
}

type ReasoningConfig struct {
	BaseURL     string
	Model       string
	APIKey      string
	APIKeyParam string
	Timeout     time.Duration
}

type DatabaseConfig struct {
	Driver string // postgres | memory
	DSN    string
}

type EventsConfig struct {
	Enabled bool
	Topic   string
}

type ScenarioConfig struct {
	HintPenalty         int
	IndependencePerHint float64
	HistoryTurns        int
}

type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
	LogFile   string
}

// LoadDotEnv loads a .env file into the process environment when present.
// Variables already set in the environment win.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

// Load reads the configuration from the environment.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-speaking-assessment")

	return &Configuration{
		Service: ServiceConfig{
			Principal:   principal,
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
		Queue: QueueConfig{
			Backend:           strings.ToLower(envOrDefault("QUEUE_BACKEND", "memory")),
			MaxAttempts:       envOrDefaultInt("QUEUE_MAX_ATTEMPTS", 3),
			RetryBackoff:      envOrDefaultDuration("QUEUE_RETRY_BACKOFF", 2*time.Second),
			MemoryConcurrency: envOrDefaultInt("QUEUE_MEMORY_CONCURRENCY", 4),
		},
		Kafka: KafkaConfig{
			Brokers:     envOrDefaultList("KAFKA_BROKERS", nil),
			TopicPrefix: envOrDefault("KAFKA_TOPIC_PREFIX", "speaking.jobs"),
			GroupID:     envOrDefault("KAFKA_GROUP_ID", "speaking-assessment-workers"),
			Principal:   envOrDefault("KAFKA_PRINCIPAL", principal),
			DeadLetter:  envOrDefaultBool("KAFKA_DEAD_LETTER", true),
		},
		Transcription: TranscriptionConfig{
			Provider:      strings.ToLower(envOrDefault("TRANSCRIBER", "whisperx")),
			Python:        envOrDefault("WHISPERX_PYTHON", ""),
			Script:        envOrDefault("WHISPERX_SCRIPT", "ai_models/transcribe_whisperx.py"),
			OutputDir:     envOrDefault("WHISPERX_OUTPUT_DIR", "outputs"),
			Model:         envOrDefault("WHISPERX_MODEL", "base"),
			ComputeType:   envOrDefault("WHISPERX_COMPUTE_TYPE", ""),
			Language:      envOrDefault("WHISPERX_LANGUAGE", ""),
			Timeout:       envOrDefaultDuration("TRANSCRIPTION_TIMEOUT", 5*time.Minute),
			UploadsDir:    envOrDefault("UPLOADS_DIR", "uploads"),
			MaxAudioBytes: envOrDefaultInt64("MAX_AUDIO_BYTES", 50*1024*1024),
		},
		Reasoning: ReasoningConfig{
			BaseURL:     envOrDefault("REASONING_BASE_URL", "https://openrouter.ai/api/v1"),
			Model:       envOrDefault("REASONING_MODEL", "openai/gpt-4o-mini"),
			APIKey:      envOrDefault("REASONING_API_KEY", ""),
			APIKeyParam: envOrDefault("REASONING_API_KEY_PARAM", ""),
			Timeout:     envOrDefaultDuration("REASONING_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(envOrDefault("DB_DRIVER", "memory")),
			DSN:    envOrDefault("DATABASE_URL", ""),
		},
		Events: EventsConfig{
			Enabled: envOrDefaultBool("EVENTS_ENABLED", false),
			Topic:   envOrDefault("EVENTS_TOPIC", "speaking.assessment.events"),
		},
		Scenario: ScenarioConfig{
			HintPenalty:         envOrDefaultInt("HINT_PENALTY", 15),
			IndependencePerHint: envOrDefaultFloat("INDEPENDENCE_PENALTY_PER_HINT", 10),
			HistoryTurns:        envOrDefaultInt("SCENARIO_HISTORY_TURNS", 20),
		},
		Observability: ObservabilityConfig{
			LogLevel:  strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
			LogFile:   envOrDefault("LOG_FILE", ""),
		},
	}
}

// RetriesEnabled reports whether failed jobs are redelivered by the backend.
func (q QueueConfig) RetriesEnabled() bool {
	return q.Backend == "kafka" && q.MaxAttempts > 1
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
