package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ai-speaking-assessment-service/internal/models"
	"ai-speaking-assessment-service/internal/observability/logging"
)

// Postgres is the gorm-backed store.
type Postgres struct {
	db *gorm.DB
}

// OpenPostgres connects and migrates the pipeline-owned tables.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("store: DATABASE_URL is required for the postgres driver")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logging.NewGormLogger(),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	p := NewPostgres(db)
	if err := p.Migrate(ctx); err != nil {
		return nil, err
	}
	logger := logging.WithComponent("store")
	logger.Info().Msg("Database connection established, migrations applied")
	return p, nil
}

// NewPostgres wraps an open gorm handle.
func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates or updates the tables the pipeline writes.
func (p *Postgres) Migrate(ctx context.Context) error {
	err := p.db.WithContext(ctx).AutoMigrate(
		&models.Submission{},
		&models.PracticeRound{},
		&models.Scenario{},
		&models.ScenarioSession{},
		&models.ScenarioTurn{},
		&models.PracticeHistory{},
	)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// --- submissions and rounds ---

func (p *Postgres) CreateSubmission(ctx context.Context, s *models.Submission) error {
	if s.Status == "" {
		s.Status = models.StatusPending
	}
	return p.db.WithContext(ctx).Create(s).Error
}

func (p *Postgres) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	var s models.Submission
	if err := p.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (p *Postgres) UpdateSubmission(ctx context.Context, id string, u Update) error {
	return p.transition(ctx, &models.Submission{}, id, u)
}

func (p *Postgres) CreateRound(ctx context.Context, r *models.PracticeRound) error {
	if r.Status == "" {
		r.Status = models.StatusPending
	}
	return p.db.WithContext(ctx).Create(r).Error
}

func (p *Postgres) GetRound(ctx context.Context, id string) (*models.PracticeRound, error) {
	var r models.PracticeRound
	if err := p.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (p *Postgres) UpdateRound(ctx context.Context, id string, u Update) error {
	return p.transition(ctx, &models.PracticeRound{}, id, u)
}

// transition applies u with the allowed predecessors in the WHERE clause.
func (p *Postgres) transition(ctx context.Context, model any, id string, u Update) error {
	preds := u.Status.Predecessors()
	if len(preds) == 0 {
		return fmt.Errorf("%w: nothing moves into %q", ErrInvalidTransition, u.Status)
	}
	allowed := make([]string, len(preds))
	for i, s := range preds {
		allowed[i] = string(s)
	}

	values := map[string]any{
		"status":     string(u.Status),
		"updated_at": time.Now().UTC(),
	}
	if u.Transcript != nil {
		values["transcript"] = datatypes.JSON(u.Transcript)
	}
	if u.Score != nil {
		values["score"] = *u.Score
	}
	if u.Analysis != nil {
		values["analysis"] = datatypes.JSON(u.Analysis)
	}

	db := p.db.WithContext(ctx)
	res := db.Model(model).Where("id = ? AND status IN ?", id, allowed).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := db.Model(model).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return fmt.Errorf("%w: to %q", ErrInvalidTransition, u.Status)
	}
	return nil
}

// --- scenarios ---

func (p *Postgres) CreateScenario(ctx context.Context, s *models.Scenario) error {
	return p.db.WithContext(ctx).Create(s).Error
}

func (p *Postgres) GetScenario(ctx context.Context, id string) (*models.Scenario, error) {
	var s models.Scenario
	if err := p.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (p *Postgres) CreateSession(ctx context.Context, s *models.ScenarioSession) error {
	return p.db.WithContext(ctx).Create(s).Error
}

func (p *Postgres) GetSession(ctx context.Context, id string) (*models.ScenarioSession, error) {
	var s models.ScenarioSession
	if err := p.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (p *Postgres) sessionExists(db *gorm.DB, id string) (bool, error) {
	var n int64
	err := db.Model(&models.ScenarioSession{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

func (p *Postgres) ApplyHint(ctx context.Context, sessionID string, penalty int) (*models.ScenarioSession, error) {
	db := p.db.WithContext(ctx)
	var s models.ScenarioSession
	res := db.Model(&s).
		Clauses(clause.Returning{}).
		Where("id = ? AND status = ?", sessionID, string(models.SessionInProgress)).
		Updates(map[string]any{
			"score":      gorm.Expr("GREATEST(score - ?, 0)", penalty),
			"hints_used": gorm.Expr("hints_used + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		ok, err := p.sessionExists(db, sessionID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotFound
		}
		return nil, ErrSessionNotActive
	}
	return &s, nil
}

func (p *Postgres) CompleteSession(ctx context.Context, sessionID string) (bool, error) {
	db := p.db.WithContext(ctx)
	now := time.Now().UTC()
	res := db.Model(&models.ScenarioSession{}).
		Where("id = ? AND status = ?", sessionID, string(models.SessionInProgress)).
		Updates(map[string]any{
			"status":       string(models.SessionCompleted),
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	ok, err := p.sessionExists(db, sessionID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrNotFound
	}
	return false, nil
}

func (p *Postgres) SaveFinalScore(ctx context.Context, sessionID string, final float64, details []byte, history *models.PracticeHistory) (*models.ScenarioSession, error) {
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&models.ScenarioSession{}).
			Where("id = ? AND final_score IS NULL", sessionID).
			Updates(map[string]any{
				"final_score":     final,
				"scoring_details": datatypes.JSON(details),
				"status":          string(models.SessionCompleted),
				"completed_at":    gorm.Expr("COALESCE(completed_at, ?)", now),
				"updated_at":      now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			ok, err := p.sessionExists(tx, sessionID)
			if err != nil {
				return err
			}
			if !ok {
				return ErrNotFound
			}
			return ErrAlreadyScored
		}
		if history != nil {
			if err := tx.Create(history).Error; err != nil {
				return fmt.Errorf("store: write practice history: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p.GetSession(ctx, sessionID)
}

func (p *Postgres) AppendTurn(ctx context.Context, turn *models.ScenarioTurn) error {
	var err error
	// One retry covers a concurrent writer taking the same number.
	for attempt := 0; attempt < 2; attempt++ {
		err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// The row lock orders appends against CompleteSession.
			var sess models.ScenarioSession
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Select("id", "status").
				Where("id = ?", turn.SessionID).
				Take(&sess).Error; err != nil {
				return notFound(err)
			}
			if sess.Status != models.SessionInProgress {
				return ErrSessionNotActive
			}

			var last int
			if err := tx.Model(&models.ScenarioTurn{}).
				Where("session_id = ?", turn.SessionID).
				Select("COALESCE(MAX(turn_number), 0)").
				Scan(&last).Error; err != nil {
				return err
			}
			turn.ID = 0
			turn.TurnNumber = last + 1
			return tx.Create(turn).Error
		})
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
	}
	return err
}

func (p *Postgres) ListTurns(ctx context.Context, sessionID string, limit int) ([]models.ScenarioTurn, error) {
	var turns []models.ScenarioTurn
	q := p.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if limit <= 0 {
		err := q.Order("turn_number ASC").Find(&turns).Error
		return turns, err
	}
	if err := q.Order("turn_number DESC").Limit(limit).Find(&turns).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}
