// Package api serves the administration HTTP API: record CRUD, query log
// access, settings, and health/system endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"localdns/pkg/config"
	"localdns/pkg/logging"
	"localdns/pkg/storage"
)

// CacheReloader refreshes the in-memory record cache after a mutation.
type CacheReloader interface {
	Reload(ctx context.Context) error
}

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	logger     *logging.Logger

	store storage.Store
	cache CacheReloader

	authEnabled      bool
	authUser         string
	authPasswordHash string

	version   string
	startTime time.Time
}

// Config holds API server configuration.
type Config struct {
	ListenAddress string
	Store         storage.Store
	Cache         CacheReloader
	Auth          config.APIConfig
	Logger        *logging.Logger
	Version       string
}

// New creates a new API server.
func New(cfg *Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDefault()
	}

	s := &Server{
		store:            cfg.Store,
		cache:            cfg.Cache,
		logger:           cfg.Logger,
		authEnabled:      cfg.Auth.AuthEnabled,
		authUser:         cfg.Auth.AuthUser,
		authPasswordHash: cfg.Auth.AuthPasswordHash,
		version:          cfg.Version,
		startTime:        time.Now(),
	}

	mux := http.NewServeMux()

	// Records
	mux.HandleFunc("GET /api/records", s.handleListRecords)
	mux.HandleFunc("POST /api/records", s.handleCreateRecord)
	mux.HandleFunc("GET /api/records/{id}", s.handleGetRecord)
	mux.HandleFunc("PUT /api/records/{id}", s.handleUpdateRecord)
	mux.HandleFunc("DELETE /api/records/{id}", s.handleDeleteRecord)

	// Query logs
	mux.HandleFunc("GET /api/logs", s.handleLogs)

	// Settings
	mux.HandleFunc("GET /api/settings", s.handleListSettings)
	mux.HandleFunc("PUT /api/settings/{key}", s.handleUpdateSetting)

	// Health and system
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/system", s.handleSystem)

	handler := s.authMiddleware(mux)
	handler = s.loggingMiddleware(handler)
	handler = s.corsMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the API server and blocks until the context is canceled or
// the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server", "address", s.httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the server's HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Code:    statusCode,
		Message: message,
	})
}

// uptime returns the server uptime as a string.
func (s *Server) uptime() string {
	uptime := time.Since(s.startTime)

	hours := int(uptime.Hours())
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
