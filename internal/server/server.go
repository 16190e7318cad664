// Package server provides the HTTP server for mindwatch.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ayusman/mindwatch/internal/app"
	"github.com/ayusman/mindwatch/internal/metrics"
	"github.com/ayusman/mindwatch/internal/server/api"
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	App       *app.App
	// UploadDir receives uploaded files before analysis.
	UploadDir string
	// MaxUploadBytes caps the request body of an upload.
	MaxUploadBytes int64
	Metrics        *metrics.Metrics
}

// Server represents the HTTP server for mindwatch.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 500 << 20
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.App != nil {
		analyses := api.NewAnalysesHandler(s.config.App, s.config.UploadDir, s.config.MaxUploadBytes)
		progress := NewProgressHandler(s.config.App)

		// Route /api/analyses/{id}/ws to the websocket handler.
		router := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, ok := wsTarget(r.URL.Path); ok {
				progress.Serve(w, r, id)
				return
			}
			analyses.ServeHTTP(w, r)
		})

		s.mux.Handle("/api/analyses", router)
		s.mux.Handle("/api/analyses/", router)
	}

	if s.config.Metrics != nil {
		s.mux.Handle("/metrics", s.config.Metrics.Handler())
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// wsTarget extracts the run id from /api/analyses/{id}/ws.
func wsTarget(path string) (string, bool) {
	rest := strings.TrimPrefix(path, "/api/analyses/")
	id, ok := strings.CutSuffix(rest, "/ws")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(s.start)

	response := map[string]interface{}{
		"status": "ok",
		"uptime": uptime.String(),
	}
	if s.config.App != nil {
		d := s.config.App.Detector()
		response["detector"] = d.Mode()
		response["synthetic"] = d.Synthetic()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := s.httpServer(addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Println("[api] shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[api] HTTP server shutdown error: %v", err)
		if err := srv.Close(); err != nil {
			log.Printf("[api] HTTP server force close error: %v", err)
		}
	}
	return nil
}

func (s *Server) httpServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
