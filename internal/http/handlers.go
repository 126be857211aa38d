package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"ai-speaking-assessment-service/internal/jobs"
	"ai-speaking-assessment-service/internal/queue"
	"ai-speaking-assessment-service/internal/scenario"
	"ai-speaking-assessment-service/internal/store"
)

const maxBodyBytes = 1 << 20

type acceptedResponse struct {
	Status string `json:"status"`
	JobID  string `json:"jobId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeFailure maps domain errors to status codes.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, jobs.ErrAudioNotFound):
		status = http.StatusNotFound
	case errors.Is(err, scenario.ErrSessionCompleted):
		status = http.StatusConflict
	case errors.Is(err, scenario.ErrEmptyMessage), errors.Is(err, jobs.ErrInvalidAudioURL),
		errors.Is(err, jobs.ErrInvalidPayload):
		status = http.StatusBadRequest
	case errors.Is(err, jobs.ErrAudioTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, queue.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", jobs.ErrInvalidPayload, err)
	}
	return nil
}

func (a *API) enqueue(w http.ResponseWriter, r *http.Request, jobType string, payload any) {
	job, err := a.Queue.Enqueue(r.Context(), jobType, payload)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "processing", JobID: job.ID})
}

func (a *API) analyzeSubmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.Pipeline.GetSubmission(r.Context(), id); err != nil {
		writeFailure(w, r, err)
		return
	}
	a.enqueue(w, r, jobs.TypeAnalyzeSubmission, jobs.AnalyzeSubmissionPayload{SubmissionID: id})
}

func (a *API) getSubmission(w http.ResponseWriter, r *http.Request) {
	s, err := a.Pipeline.GetSubmission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) scoreRound(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var p jobs.SpeakingRoundPayload
	if err := decodeBody(r, &p); err != nil {
		writeFailure(w, r, err)
		return
	}
	p.RoundID = id
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := a.Pipeline.GetRound(r.Context(), id); err != nil {
		writeFailure(w, r, err)
		return
	}
	a.enqueue(w, r, jobs.TypeSpeakingRound, p)
}

func (a *API) getRound(w http.ResponseWriter, r *http.Request) {
	round, err := a.Pipeline.GetRound(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

func (a *API) mentorFeedback(w http.ResponseWriter, r *http.Request) {
	var p jobs.MentorFeedbackPayload
	if err := decodeBody(r, &p); err != nil {
		writeFailure(w, r, err)
		return
	}
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.enqueue(w, r, jobs.TypeMentorAudioFeedback, p)
}

type startSessionRequest struct {
	LearnerID string `json:"learnerId"`
}

func (a *API) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	if req.LearnerID == "" {
		writeError(w, http.StatusBadRequest, "learnerId is required")
		return
	}
	res, err := a.Scenarios.StartSession(r.Context(), req.LearnerID, chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) hint(w http.ResponseWriter, r *http.Request) {
	res, err := a.Scenarios.Hint(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type messageRequest struct {
	Text     string `json:"text"`
	AudioURL string `json:"audioUrl"`
}

func (a *API) message(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	in := scenario.MessageInput{Text: req.Text, AudioURL: req.AudioURL}
	if req.AudioURL != "" {
		local, err := a.Audio.Locate(req.AudioURL)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		in.AudioPath = local
	}
	res, err := a.Scenarios.ProcessMessage(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type finalScoreRequest struct {
	PronunciationScore *float64 `json:"pronunciation_score"`
}

func (a *API) finalScore(w http.ResponseWriter, r *http.Request) {
	var req finalScoreRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	res, err := a.Scenarios.FinalScore(r.Context(), chi.URLParam(r, "id"), req.PronunciationScore)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
