package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"ai-speaking-assessment-service/internal/jobs"
	"ai-speaking-assessment-service/internal/queue"
	"ai-speaking-assessment-service/internal/scenario"
)

// API holds what the handlers need.
type API struct {
	Queue     queue.Queue
	Pipeline  jobs.PipelineStore
	Scenarios *scenario.Service
	Audio     jobs.AudioLocator
	// Ready reports whether the service can take work. Nil means always ready.
	Ready func(ctx context.Context) error
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(api *API) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, r *http.Request) {
		if api.Ready != nil {
			if err := api.Ready(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Post("/submissions/{id}/analyze", api.analyzeSubmission)
		r.Get("/submissions/{id}", api.getSubmission)

		r.Post("/rounds/{id}/score", api.scoreRound)
		r.Get("/rounds/{id}", api.getRound)

		r.Post("/mentor-feedback", api.mentorFeedback)

		r.Post("/scenarios/{id}/sessions", api.startSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Post("/hint", api.hint)
			r.Post("/messages", api.message)
			r.Post("/final-score", api.finalScore)
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("requestId", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
