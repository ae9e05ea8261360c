// Package server provides the HTTP server for the Vigil motion detection
// daemon: the events API, the MJPEG passthrough stream, and the live motion
// feed over WebSocket.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ayusman/vigil/internal/server/api"
	"github.com/ayusman/vigil/internal/store"
)

// FrameProvider supplies the most recent JPEG frame seen by the pipeline.
type FrameProvider interface {
	LatestFrame() ([]byte, error)
}

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	Frames    FrameProvider
}

// Server represents the HTTP server for the Vigil daemon.
type Server struct {
	config Config
	mux    *http.ServeMux
	motion *MotionHandler
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		motion: NewMotionHandler(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// Motion returns the WebSocket handler the pipeline publishes verdicts to.
func (s *Server) Motion() *MotionHandler {
	return s.motion
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	// Register events API handler if Store is configured
	if s.config.Store != nil {
		eventsHandler := api.NewEventHandler(s.config.Store)
		s.mux.Handle("/api/events", eventsHandler)
		s.mux.Handle("/api/events/", eventsHandler)
	}

	// Register the MJPEG passthrough if a frame provider is configured
	if s.config.Frames != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Frames))
	}

	// Live motion feed
	s.mux.Handle("/api/motion", s.motion)

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
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

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}
