// Package server exposes the grading pipeline over HTTP.
//
//	POST /solve/   multipart upload (field "file") -> graded result as JSON
//	GET  /healthz  liveness probe
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"grader/internal/grading"
	"grader/internal/logger"
	"grader/internal/ocr"
	"grader/pkg/models"
)

// ImageGrader grades one uploaded image.
type ImageGrader interface {
	GradeImage(ctx context.Context, requestID string, image io.Reader) (*models.GradeResult, error)
}

// Config configures the HTTP server.
type Config struct {
	Addr           string
	CORSOrigins    []string
	MaxUploadBytes int64
	RequestTimeout time.Duration
}

// Server serves the grading API.
type Server struct {
	grader ImageGrader
	config Config
	log    zerolog.Logger
}

// New creates a server around grader.
func New(grader ImageGrader, config Config) *Server {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = ocr.MaxImageSizeBytes
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 2 * time.Minute
	}
	return &Server{
		grader: grader,
		config: config,
		log:    logger.WithComponent("server"),
	}
}

// Handler returns the routed handler with request ID and CORS middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /solve/", s.handleSolve)
	mux.HandleFunc("POST /solve", s.handleSolve)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return s.withRequestID(s.withCORS(mux))
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.config.Addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.log.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	log := logger.WithContext(r.Context())
	requestID := requestIDFrom(r.Context())

	// Multipart overhead on top of the image itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes+64*1024)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondWithError(w, fmt.Sprintf("upload exceeds %d bytes", s.config.MaxUploadBytes), http.StatusRequestEntityTooLarge)
			return
		}
		respondWithError(w, "Failed to read file: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	log.Info().
		Str("filename", header.Filename).
		Int64("size", header.Size).
		Msg("Received upload")

	if header.Size > s.config.MaxUploadBytes {
		respondWithError(w, fmt.Sprintf("upload exceeds %d bytes", s.config.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	result, err := s.grader.GradeImage(ctx, requestID, file)
	if err != nil {
		status := statusFor(err)
		log.Error().Err(err).Int("status", status).Msg("Grading request failed")
		respondWithError(w, err.Error(), status)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps pipeline errors to HTTP status codes. Grader failures are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ocr.ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ocr.ErrInvalidImage):
		return http.StatusBadRequest
	case errors.Is(err, ocr.ErrEmptyDocument), errors.Is(err, grading.ErrNoText):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondWithError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, status, map[string]string{"error": message})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// withRequestID assigns every request an ID (honouring X-Request-ID) and a logger carrying it.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		reqLog := logger.WithRequestID(id).With().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		ctx = logger.IntoContext(ctx, reqLog)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		reqLog.Debug().Dur("duration", time.Since(start)).Msg("Request handled")
	})
}

// withCORS allows the configured origins with credentials and any method or header.
func (s *Server) withCORS(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.config.CORSOrigins))
	for _, o := range s.config.CORSOrigins {
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !(allowed[origin] || allowed["*"]) {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "DELETE, GET, HEAD, OPTIONS, PATCH, POST, PUT")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
