// Package store persists submissions, practice rounds and scenario sessions.
// Status transitions and aggregate counters are enforced inside the write
// itself, never by reading state and writing it back.
package store

import (
	"context"
	"errors"
	"fmt"

	"ai-speaking-assessment-service/internal/models"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

var (
	ErrNotFound          = errors.New("store: not found")
	ErrInvalidTransition = errors.New("store: invalid status transition")
	ErrAlreadyScored     = errors.New("store: session already has a final score")
	ErrSessionNotActive  = errors.New("store: session is not in progress")
	ErrUnknownDriver     = errors.New("store: unknown driver")
)

// Update moves an entity to Status and writes the non-nil fields with it.
// The write only succeeds if the current status is an allowed predecessor.
type Update struct {
	Status     models.Status
	Transcript []byte
	Score      *float64
	Analysis   []byte
}

type Submissions interface {
	CreateSubmission(ctx context.Context, s *models.Submission) error
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
	UpdateSubmission(ctx context.Context, id string, u Update) error
}

type Rounds interface {
	CreateRound(ctx context.Context, r *models.PracticeRound) error
	GetRound(ctx context.Context, id string) (*models.PracticeRound, error)
	UpdateRound(ctx context.Context, id string, u Update) error
}

type Scenarios interface {
	CreateScenario(ctx context.Context, s *models.Scenario) error
	GetScenario(ctx context.Context, id string) (*models.Scenario, error)

	CreateSession(ctx context.Context, s *models.ScenarioSession) error
	GetSession(ctx context.Context, id string) (*models.ScenarioSession, error)
	// ApplyHint atomically lowers the running score by penalty, floored at 0,
	// and increments hints_used. It fails with ErrSessionNotActive once the
	// session is completed.
	ApplyHint(ctx context.Context, sessionID string, penalty int) (*models.ScenarioSession, error)
	// CompleteSession moves an in-progress session to completed and reports
	// whether this call made the change.
	CompleteSession(ctx context.Context, sessionID string) (bool, error)
	// SaveFinalScore writes final_score and scoring_details once, completes
	// the session if needed and inserts the practice-history row, all in one
	// transaction. A second call fails with ErrAlreadyScored.
	SaveFinalScore(ctx context.Context, sessionID string, final float64, details []byte, history *models.PracticeHistory) (*models.ScenarioSession, error)

	// AppendTurn stores the next turn of a session with turn number MAX+1.
	// It fails with ErrSessionNotActive once the session is completed.
	AppendTurn(ctx context.Context, turn *models.ScenarioTurn) error
	// ListTurns returns the last limit turns in ascending turn order, or all
	// turns when limit <= 0.
	ListTurns(ctx context.Context, sessionID string, limit int) ([]models.ScenarioTurn, error)
}

// Store is the full persistence capability.
type Store interface {
	Submissions
	Rounds
	Scenarios
	Ping(ctx context.Context) error
	Close() error
}

// Config selects the driver.
type Config struct {
	Driver string
	DSN    string
}

// Open constructs the store named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverPostgres:
		p, err := OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
