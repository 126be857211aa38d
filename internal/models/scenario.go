package models

import (
	"time"

	"gorm.io/datatypes"
)

// InitialSessionScore is the running score a scenario session starts with.
const InitialSessionScore = 100

// Speaker identifies who produced a conversation turn.
type Speaker string

const (
	SpeakerLearner Speaker = "learner"
	SpeakerAI      Speaker = "ai"
)

// Scenario is a role-play template. It is owned by the admin surface; the
// pipeline only reads it.
type Scenario struct {
	ID                 string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Title              string `json:"title"`
	Description        string `gorm:"type:text" json:"description"`
	Task               string `gorm:"type:text" json:"task"`
	CharacterName      string `json:"characterName"`
	CharacterRole      string `json:"characterRole"`
	InitialPrompt      string `gorm:"type:text" json:"initialPrompt"`
	CompletionCriteria string `gorm:"type:text" json:"completionCriteria"`
	DifficultyLevel    int    `json:"difficultyLevel"`
}

func (Scenario) TableName() string { return "speaking_scenarios" }

// ScenarioSession is one learner's run through a scenario.
type ScenarioSession struct {
	ID             string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	LearnerID      string         `gorm:"type:varchar(64);index;not null" json:"learnerId"`
	ScenarioID     string         `gorm:"type:varchar(64);index;not null" json:"scenarioId"`
	Status         SessionStatus  `gorm:"type:varchar(16);not null;default:in_progress" json:"status"`
	Score          int            `gorm:"not null;default:100" json:"score"`
	HintsUsed      int            `gorm:"not null;default:0" json:"hintsUsed"`
	FinalScore     *float64       `json:"finalScore,omitempty"`
	ScoringDetails datatypes.JSON `gorm:"type:jsonb" json:"scoringDetails,omitempty"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

func (ScenarioSession) TableName() string { return "scenario_sessions" }

// ScenarioTurn is one utterance in a scenario conversation. TurnNumber is
// unique and increasing per session.
type ScenarioTurn struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID   string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_session_turn" json:"sessionId"`
	TurnNumber  int       `gorm:"not null;uniqueIndex:idx_session_turn" json:"turnNumber"`
	Speaker     Speaker   `gorm:"type:varchar(16);not null" json:"speaker"`
	TextContent string    `gorm:"type:text" json:"textContent"`
	AudioURL    string    `gorm:"type:text" json:"audioUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (ScenarioTurn) TableName() string { return "scenario_conversations" }

// PracticeHistory is the per-learner aggregate record written when a scenario
// is scored.
type PracticeHistory struct {
	ID         uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	LearnerID  string         `gorm:"type:varchar(64);index;not null" json:"learnerId"`
	Kind       string         `gorm:"type:varchar(32);not null" json:"kind"`
	ScenarioID string         `gorm:"type:varchar(64)" json:"scenarioId,omitempty"`
	SessionID  string         `gorm:"type:varchar(64);uniqueIndex" json:"sessionId"`
	Score      float64        `json:"score"`
	HintsUsed  int            `json:"hintsUsed"`
	Details    datatypes.JSON `gorm:"type:jsonb" json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

func (PracticeHistory) TableName() string { return "practice_history" }
