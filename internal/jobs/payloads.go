package jobs

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"ai-speaking-assessment-service/internal/queue"
)

var ErrInvalidPayload = errors.New("jobs: invalid payload")

type AnalyzeSubmissionPayload struct {
	SubmissionID string `json:"submissionId"`
}

func (p AnalyzeSubmissionPayload) Validate() error {
	if p.SubmissionID == "" {
		return errors.New("submissionId is required")
	}
	return nil
}

type MentorFeedbackPayload struct {
	FeedbackID   string         `json:"feedbackId"`
	AudioURL     string         `json:"audioUrl"`
	SubmissionID string         `json:"submissionId,omitempty"`
	Scores       map[string]any `json:"scores,omitempty"`
}

func (p MentorFeedbackPayload) Validate() error {
	if p.FeedbackID == "" {
		return errors.New("feedbackId is required")
	}
	if p.AudioURL == "" {
		return errors.New("audioUrl is required")
	}
	return nil
}

// SpeakingRoundPayload carries the round id plus the values the trigger saw.
// Empty fields are read from the stored round.
type SpeakingRoundPayload struct {
	RoundID   string  `json:"roundId"`
	SessionID string  `json:"sessionId,omitempty"`
	AudioURL  string  `json:"audioUrl,omitempty"`
	Prompt    string  `json:"prompt,omitempty"`
	Level     string  `json:"level,omitempty"`
	TimeTaken float64 `json:"time_taken,omitempty"`
}

func (p SpeakingRoundPayload) Validate() error {
	if p.RoundID == "" {
		return errors.New("roundId is required")
	}
	if p.TimeTaken < 0 {
		return errors.New("time_taken must not be negative")
	}
	return nil
}

// Elapsed returns TimeTaken as a duration.
func (p SpeakingRoundPayload) Elapsed() time.Duration {
	return time.Duration(p.TimeTaken * float64(time.Second))
}

type validator interface {
	Validate() error
}

// decodePayload decodes and validates the job data into v. A payload that
// fails here can never succeed, so callers log it and drop the job.
func decodePayload(job *queue.Job, v validator, logger zerolog.Logger) bool {
	if err := job.Decode(v); err != nil {
		logger.Error().Err(err).RawJSON("data", rawOrNull(job.Data)).Msg("Dropping job with undecodable payload")
		return false
	}
	if err := v.Validate(); err != nil {
		logger.Error().Err(err).RawJSON("data", rawOrNull(job.Data)).Msg("Dropping job with invalid payload")
		return false
	}
	return true
}

func rawOrNull(b []byte) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}
