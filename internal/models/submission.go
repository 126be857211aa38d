package models

import (
	"time"

	"gorm.io/datatypes"
)

// Submission is a learner's recorded answer to a challenge. Only the fields
// touched by the analysis pipeline are modeled here.
type Submission struct {
	ID            string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	LearnerID     string         `gorm:"type:varchar(64);index" json:"learnerId"`
	ChallengeID   string         `gorm:"type:varchar(64)" json:"challengeId"`
	ChallengeText string         `gorm:"type:text" json:"challengeText,omitempty"`
	AudioURL      string         `gorm:"type:text" json:"audioUrl"`
	Transcript    datatypes.JSON `gorm:"type:jsonb" json:"transcript,omitempty"`
	Score         *float64       `json:"score,omitempty"`
	Analysis      datatypes.JSON `gorm:"type:jsonb" json:"analysis,omitempty"`
	Status        Status         `gorm:"type:varchar(16);index;not null;default:pending" json:"status"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

func (Submission) TableName() string { return "challenge_submissions" }

// HasTranscript reports whether a transcript was already persisted.
func (s *Submission) HasTranscript() bool {
	return len(s.Transcript) > 0 && string(s.Transcript) != "null"
}

// PracticeRound is one timed read-aloud attempt inside a speaking practice session.
type PracticeRound struct {
	ID          string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SessionID   string         `gorm:"type:varchar(64);index" json:"sessionId"`
	LearnerID   string         `gorm:"type:varchar(64);index" json:"learnerId"`
	RoundNumber int            `json:"roundNumber"`
	AudioURL    string         `gorm:"type:text" json:"audioUrl"`
	Prompt      string         `gorm:"type:text" json:"prompt"`
	Level       string         `gorm:"type:varchar(32)" json:"level"`
	TimeTaken   float64        `json:"timeTaken"`
	Transcript  datatypes.JSON `gorm:"type:jsonb" json:"transcript,omitempty"`
	Score       *float64       `json:"score,omitempty"`
	Analysis    datatypes.JSON `gorm:"type:jsonb" json:"analysis,omitempty"`
	Status      Status         `gorm:"type:varchar(16);index;not null;default:pending" json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

func (PracticeRound) TableName() string { return "speaking_practice_rounds" }
