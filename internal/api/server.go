// Package api exposes the share service over HTTP.
package api

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dharsanguruparan/codedrop/internal/blob"
	"github.com/dharsanguruparan/codedrop/internal/metrics"
	"github.com/dharsanguruparan/codedrop/internal/share"
	"github.com/dharsanguruparan/codedrop/internal/signing"
	"github.com/dharsanguruparan/codedrop/internal/sweeper"
)

// Sweeper runs one cleanup pass for GET/POST /cleanup.
type Sweeper interface {
	Sweep(ctx context.Context) (sweeper.Result, error)
}

// Deps are the collaborators a Server needs. Presigner is optional.
type Deps struct {
	Service   *share.Service
	Sweeper   Sweeper
	Presigner blob.Presigner
	Guard     *signing.Guard
	Logger    *log.Logger

	// MaxFileBytes caps multipart uploads; zero disables the cap.
	MaxFileBytes int64
	PresignTTL   time.Duration
	// TempDir is where multipart uploads are spooled. Empty means os.TempDir.
	TempDir string
}

// Server hosts the HTTP handlers.
type Server struct {
	svc          *share.Service
	sweeper      Sweeper
	presigner    blob.Presigner
	guard        *signing.Guard
	logger       *log.Logger
	maxFileBytes int64
	presignTTL   time.Duration
	tempDir      string
}

// New constructs a Server.
func New(d Deps) *Server {
	s := &Server{
		svc:          d.Service,
		sweeper:      d.Sweeper,
		presigner:    d.Presigner,
		guard:        d.Guard,
		logger:       d.Logger,
		maxFileBytes: d.MaxFileBytes,
		presignTTL:   d.PresignTTL,
		tempDir:      d.TempDir,
	}
	if s.guard == nil {
		s.guard = signing.NewGuard("")
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	s.logger = s.logger.With("component", "api")
	if s.presignTTL <= 0 {
		s.presignTTL = 15 * time.Minute
	}
	if s.tempDir == "" {
		s.tempDir = os.TempDir()
	}
	return s
}

// Routes returns the router with every endpoint and middleware attached.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Use(s.loggingMiddleware)
	r.Use(corsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/upload", s.handleUpload)
	r.Post("/upload-url", s.handleUploadURL)
	r.Post("/share-text", s.handleShareText)
	r.Post("/retrieve", s.handleRetrieve)
	r.Get("/file/", s.handleMissingToken)
	r.Get("/file/{token}", s.handleFile)
	r.Get("/stats", s.handleStats)

	r.Group(func(r chi.Router) {
		r.Use(s.guard.Middleware)
		r.Get("/cleanup", s.handleCleanup)
		r.Post("/cleanup", s.handleCleanup)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := metrics.NewStatusRecorder(w)
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.Status(),
			"duration", time.Since(start),
		)
	})
}
