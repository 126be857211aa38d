// Package jobs holds the pipeline's job processors and the registry that
// binds them to a queue.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"ai-speaking-assessment-service/internal/queue"
	"ai-speaking-assessment-service/internal/store"
)

// Job types.
const (
	TypeAnalyzeSubmission   = "analyzeSubmission"
	TypeMentorAudioFeedback = "processMentorAudioFeedback"
	TypeSpeakingRound       = "processSpeakingRound"
)

var ErrDuplicateProcessor = errors.New("jobs: processor already registered")

// Processor handles one job type. Process must be safe to run more than once
// for the same entity.
type Processor interface {
	Process(ctx context.Context, job *queue.Job) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, job *queue.Job) error

func (f ProcessorFunc) Process(ctx context.Context, job *queue.Job) error { return f(ctx, job) }

// Registry maps job types to processors. It is built once at startup and
// bound to the queue.
type Registry struct {
	mu         sync.Mutex
	processors map[string]Processor
}

func NewRegistry() *Registry {
	return &Registry{processors: make(map[string]Processor)}
}

// Register adds p for jobType.
func (r *Registry) Register(jobType string, p Processor) error {
	if jobType == "" {
		return queue.ErrEmptyJobType
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.processors[jobType]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProcessor, jobType)
	}
	r.processors[jobType] = p
	return nil
}

// Types returns the registered job types, sorted.
func (r *Registry) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.processors))
	for t := range r.processors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Lookup returns the processor for jobType.
func (r *Registry) Lookup(jobType string) (Processor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.processors[jobType]
	return p, ok
}

// Bind registers every processor as the queue handler for its type.
func (r *Registry) Bind(q queue.Queue) error {
	for _, t := range r.Types() {
		p, _ := r.Lookup(t)
		if err := q.RegisterProcessor(t, p.Process); err != nil {
			return fmt.Errorf("jobs: bind %s: %w", t, err)
		}
		log.Info().Str("jobType", t).Str("backend", q.Backend()).Msg("Processor bound")
	}
	return nil
}

// PipelineStore is the persistence the pipeline processors need.
type PipelineStore interface {
	store.Submissions
	store.Rounds
}

// NewPipelineRegistry registers the three pipeline processors.
func NewPipelineRegistry(s PipelineStore, d Deps) *Registry {
	r := NewRegistry()
	// Types are distinct constants, so these cannot collide.
	_ = r.Register(TypeAnalyzeSubmission, NewSubmissionAnalyzer(s, d))
	_ = r.Register(TypeSpeakingRound, NewRoundScorer(s, d))
	_ = r.Register(TypeMentorAudioFeedback, NewMentorFeedbackLearner(d))
	return r
}
