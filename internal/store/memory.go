package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ai-speaking-assessment-service/internal/models"
)

// Memory is an in-process store. All operations run under one mutex, which
// gives the same atomicity the SQL store gets from single statements.
type Memory struct {
	mu          sync.Mutex
	submissions map[string]models.Submission
	rounds      map[string]models.PracticeRound
	scenarios   map[string]models.Scenario
	sessions    map[string]models.ScenarioSession
	turns       map[string][]models.ScenarioTurn
	history     []models.PracticeHistory
	nextTurnID  uint
}

func NewMemory() *Memory {
	return &Memory{
		submissions: make(map[string]models.Submission),
		rounds:      make(map[string]models.PracticeRound),
		scenarios:   make(map[string]models.Scenario),
		sessions:    make(map[string]models.ScenarioSession),
		turns:       make(map[string][]models.ScenarioTurn),
	}
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func checkTransition(current models.Status, u Update) error {
	if !current.CanTransitionTo(u.Status) {
		return fmt.Errorf("%w: %q to %q", ErrInvalidTransition, current, u.Status)
	}
	return nil
}

// --- submissions and rounds ---

func (m *Memory) CreateSubmission(_ context.Context, s *models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.submissions[s.ID]; ok {
		return fmt.Errorf("store: submission %s already exists", s.ID)
	}
	if s.Status == "" {
		s.Status = models.StatusPending
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	m.submissions[s.ID] = *s
	return nil
}

func (m *Memory) GetSubmission(_ context.Context, id string) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.Transcript = cloneBytes(s.Transcript)
	s.Analysis = cloneBytes(s.Analysis)
	s.Score = cloneFloat(s.Score)
	return &s, nil
}

func (m *Memory) UpdateSubmission(_ context.Context, id string, u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return ErrNotFound
	}
	if err := checkTransition(s.Status, u); err != nil {
		return err
	}
	s.Status = u.Status
	if u.Transcript != nil {
		s.Transcript = cloneBytes(u.Transcript)
	}
	if u.Score != nil {
		s.Score = cloneFloat(u.Score)
	}
	if u.Analysis != nil {
		s.Analysis = cloneBytes(u.Analysis)
	}
	s.UpdatedAt = time.Now().UTC()
	m.submissions[id] = s
	return nil
}

func (m *Memory) CreateRound(_ context.Context, r *models.PracticeRound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rounds[r.ID]; ok {
		return fmt.Errorf("store: round %s already exists", r.ID)
	}
	if r.Status == "" {
		r.Status = models.StatusPending
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	m.rounds[r.ID] = *r
	return nil
}

func (m *Memory) GetRound(_ context.Context, id string) (*models.PracticeRound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok {
		return nil, ErrNotFound
	}
	r.Transcript = cloneBytes(r.Transcript)
	r.Analysis = cloneBytes(r.Analysis)
	r.Score = cloneFloat(r.Score)
	return &r, nil
}

func (m *Memory) UpdateRound(_ context.Context, id string, u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok {
		return ErrNotFound
	}
	if err := checkTransition(r.Status, u); err != nil {
		return err
	}
	r.Status = u.Status
	if u.Transcript != nil {
		r.Transcript = cloneBytes(u.Transcript)
	}
	if u.Score != nil {
		r.Score = cloneFloat(u.Score)
	}
	if u.Analysis != nil {
		r.Analysis = cloneBytes(u.Analysis)
	}
	r.UpdatedAt = time.Now().UTC()
	m.rounds[id] = r
	return nil
}

// --- scenarios ---

func (m *Memory) CreateScenario(_ context.Context, s *models.Scenario) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenarios[s.ID] = *s
	return nil
}

func (m *Memory) GetScenario(_ context.Context, id string) (*models.Scenario, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scenarios[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *Memory) CreateSession(_ context.Context, s *models.ScenarioSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("store: session %s already exists", s.ID)
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	m.sessions[s.ID] = *s
	return nil
}

func (m *Memory) getSessionLocked(id string) (*models.ScenarioSession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.FinalScore = cloneFloat(s.FinalScore)
	s.ScoringDetails = cloneBytes(s.ScoringDetails)
	return &s, nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*models.ScenarioSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getSessionLocked(id)
}

func (m *Memory) ApplyHint(_ context.Context, sessionID string, penalty int) (*models.ScenarioSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != models.SessionInProgress {
		return nil, ErrSessionNotActive
	}
	s.Score = max(s.Score-penalty, 0)
	s.HintsUsed++
	s.UpdatedAt = time.Now().UTC()
	m.sessions[sessionID] = s
	return m.getSessionLocked(sessionID)
}

func (m *Memory) CompleteSession(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return false, ErrNotFound
	}
	if s.Status != models.SessionInProgress {
		return false, nil
	}
	now := time.Now().UTC()
	s.Status = models.SessionCompleted
	s.CompletedAt = &now
	s.UpdatedAt = now
	m.sessions[sessionID] = s
	return true, nil
}

func (m *Memory) SaveFinalScore(_ context.Context, sessionID string, final float64, details []byte, history *models.PracticeHistory) (*models.ScenarioSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.FinalScore != nil {
		return nil, ErrAlreadyScored
	}
	now := time.Now().UTC()
	s.FinalScore = &final
	s.ScoringDetails = cloneBytes(details)
	s.Status = models.SessionCompleted
	if s.CompletedAt == nil {
		s.CompletedAt = &now
	}
	s.UpdatedAt = now
	m.sessions[sessionID] = s

	if history != nil {
		h := *history
		h.ID = uint(len(m.history) + 1)
		h.CreatedAt = now
		h.Details = cloneBytes(h.Details)
		m.history = append(m.history, h)
		history.ID, history.CreatedAt = h.ID, now
	}
	return m.getSessionLocked(sessionID)
}

func (m *Memory) AppendTurn(_ context.Context, turn *models.ScenarioTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[turn.SessionID]
	if !ok {
		return ErrNotFound
	}
	if sess.Status != models.SessionInProgress {
		return ErrSessionNotActive
	}
	existing := m.turns[turn.SessionID]
	last := 0
	for _, t := range existing {
		last = max(last, t.TurnNumber)
	}
	m.nextTurnID++
	turn.ID = m.nextTurnID
	turn.TurnNumber = last + 1
	turn.CreatedAt = time.Now().UTC()
	m.turns[turn.SessionID] = append(existing, *turn)
	return nil
}

func (m *Memory) ListTurns(_ context.Context, sessionID string, limit int) ([]models.ScenarioTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := append([]models.ScenarioTurn(nil), m.turns[sessionID]...)
	sort.Slice(turns, func(i, j int) bool { return turns[i].TurnNumber < turns[j].TurnNumber })
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

// History returns the practice-history rows written so far.
func (m *Memory) History() []models.PracticeHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PracticeHistory(nil), m.history...)
}
