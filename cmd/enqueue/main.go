// Command enqueue publishes one job onto the configured queue backend, for
// re-driving work by hand.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"ai-speaking-assessment-service/internal/config"
	"ai-speaking-assessment-service/internal/jobs"
	"ai-speaking-assessment-service/internal/observability/logging"
	"ai-speaking-assessment-service/internal/queue"
)

func main() {
	jobType := flag.String("type", jobs.TypeAnalyzeSubmission, "job type")
	data := flag.String("data", "", "job payload as JSON")
	timeout := flag.Duration("timeout", 15*time.Second, "publish timeout")
	flag.Parse()

	config.LoadDotEnv()
	cfg := config.Load()
	lc := logging.DefaultConfig()
	lc.Level = cfg.Observability.LogLevel
	lc.Format = "console"
	logging.Init(lc)

	if !json.Valid([]byte(*data)) {
		log.Fatal().Str("data", *data).Msg("-data must be valid JSON")
	}
	if cfg.Queue.Backend != queue.BackendKafka {
		log.Warn().Str("backend", cfg.Queue.Backend).Msg("Jobs enqueued in-process are lost when this command exits")
	}

	q, err := queue.New(queue.Config{
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
		log.Fatal().Err(err).Msg("Failed to create queue")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	job, err := q.Enqueue(ctx, *jobType, json.RawMessage(*data))
	if err != nil {
		_ = q.Close(ctx)
		log.Fatal().Err(err).Str("jobType", *jobType).Msg("Failed to enqueue job")
	}
	if err := q.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("Queue close incomplete")
	}
	fmt.Fprintln(os.Stdout, job.ID)
}
