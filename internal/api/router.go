// Package api exposes the feed and the AI job admin surface over HTTP.
//
// Endpoints:
//
//	GET  /api/health                      health check (no user required)
//	GET  /api/feed                        one feed page (mode, limit, seed, cursor, year)
//	POST /api/ai-jobs                     enqueue AI processing for a photo
//	GET  /api/ai-jobs                     list the caller's jobs by status
//	GET  /api/ai-jobs/photo/{photoId}     latest job for a photo
//	POST /api/ai-jobs/{jobId}/requeue     move a job back to pending
//
// The caller is identified by the X-User-Id header set by the upstream
// authorizer.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/fpang/photo-intelligence/internal/feed"
	"github.com/fpang/photo-intelligence/internal/photo"
	"github.com/fpang/photo-intelligence/internal/pipeline"
)

// Server holds the handlers' dependencies.
type Server struct {
	feed     *feed.Service
	queue    pipeline.Queue
	photos   photo.Store
	validate *validator.Validate
	now      func() time.Time
}

// NewServer creates a Server.
func NewServer(feedSvc *feed.Service, queue pipeline.Queue, photos photo.Store) *Server {
	return &Server{feed: feedSvc, queue: queue, photos: photos, validate: validator.New(), now: time.Now}
}

// Router returns the HTTP handler with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(withMetrics)

	r.Get("/api/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(requireUser)

		r.Get("/api/feed", s.handleFeed)

		r.Route("/api/ai-jobs", func(r chi.Router) {
			r.Post("/", s.handleEnqueue)
			r.Get("/", s.handleListJobs)
			r.Get("/photo/{photoId}", s.handleJobByPhoto)
			r.Post("/{jobId}/requeue", s.handleRequeue)
		})
	})
	return r
}
