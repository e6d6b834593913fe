// Package monitoring serves the live link, session and history state as
// JSON for local tooling.
package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pamuduchat/syncshare/internal/broker"
	"github.com/pamuduchat/syncshare/internal/history"
	"github.com/pamuduchat/syncshare/internal/network/connection"
	"github.com/pamuduchat/syncshare/internal/sync/conflict"
)

// Server provides the HTTP status endpoints
type Server struct {
	broker   *broker.Broker
	history  *history.Log
	managers []connection.Manager
	logger   *zap.Logger
	started  time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates a status server
func NewServer(b *broker.Broker, log *history.Log, managers []connection.Manager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		broker:   b,
		history:  log,
		managers: managers,
		logger:   logger.Named("status"),
		started:  time.Now(),
	}
}

// Handler returns the endpoint mux
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("GET /conflicts", s.handleConflicts)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Start listens on addr and serves in the background
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.New("status server already started")
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("Starting status server", zap.String("addr", listener.Addr().String()))
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address, empty before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server, s.listener = nil, nil
	return err
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries := []history.Entry{}
	if s.history != nil {
		entries = append(entries, s.history.Entries()...)
	}
	writeJSON(w, entries)
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts := []conflict.FileConflict{}
	if link := s.broker.Active(); link != nil {
		conflicts = append(conflicts, link.Engine().Conflicts().Get()...)
	}
	writeJSON(w, conflicts)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":         "healthy",
		"uptime_seconds": time.Since(s.started).Seconds(),
		"connected":      s.broker.Status().Get().Connected,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("Failed to encode response: %v", err), http.StatusInternalServerError)
	}
}
