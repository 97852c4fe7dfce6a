// Package server exposes health, scan-trigger and subscription management endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"yad2-notifier/pkg/notifier"
)

// Store interface for subscription management.
type Store interface {
	Load(ctx context.Context, subscriberID string) (*notifier.Subscription, error)
	Save(ctx context.Context, sub *notifier.Subscription) error
	SetActive(ctx context.Context, subscriberID string, active bool) (bool, error)
}

// Poller interface for triggering scans.
type Poller interface {
	TryCheckAll(ctx context.Context) error
}

// IsNotFound checks if an error is a not found error.
type IsNotFound func(error) bool

// Server handles HTTP requests.
type Server struct {
	store        Store
	poller       Poller
	logger       *slog.Logger
	isNotFound   IsNotFound
	isScanActive func(error) bool
}

// Config holds server configuration.
type Config struct {
	Store        Store
	Poller       Poller
	Logger       *slog.Logger
	IsNotFound   IsNotFound
	IsScanActive func(error) bool // Reports whether a poll error means a scan was already running
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		store:        cfg.Store,
		poller:       cfg.Poller,
		logger:       cfg.Logger,
		isNotFound:   cfg.IsNotFound,
		isScanActive: cfg.IsScanActive,
	}
}

// Router returns the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/pollz", s.handlePoll).Methods(http.MethodPost)

	const sub = "/subscriptions/{id:-?[0-9]{1,20}}"
	r.HandleFunc(sub, s.handleGetSubscription).Methods(http.MethodGet)
	r.HandleFunc(sub, s.handlePutSubscription).Methods(http.MethodPut)
	r.HandleFunc(sub+"/activate", s.handleSetActive(true)).Methods(http.MethodPost)
	r.HandleFunc(sub+"/deactivate", s.handleSetActive(false)).Methods(http.MethodPost)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Router(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Minute, // POST /pollz blocks for a full scan
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("Shutting down HTTP server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Poll endpoint triggered")

	if err := s.poller.TryCheckAll(r.Context()); err != nil {
		if s.isScanActive != nil && s.isScanActive(err) {
			s.writeJSON(w, http.StatusConflict, map[string]string{"status": "in_progress"})
			return
		}
		s.logger.Error("Poll check failed", "error", err)
		http.Error(w, "Check failed", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
