package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"organiza/internal/model"
)

// Server exposes the sync protocol over HTTP.
type Server struct {
	addr     string
	store    *Store
	logger   *slog.Logger
	listener net.Listener
	server   *http.Server
}

// NewServer wires the handlers onto store.
func NewServer(addr string, store *Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{addr: addr, store: store, logger: logger}
}

// Routes builds the protocol mux. Exposed separately from Start so tests
// can mount it on an httptest server.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync/push", s.handlePush)
	mux.HandleFunc("GET /sync/pull", s.handlePull)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Start begins serving. It returns once the listener is bound; use
// Shutdown to stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:      s.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		s.logger.Info("sync authority listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func userID(r *http.Request) string {
	if id := r.Header.Get("x-user-id"); id != "" {
		return id
	}
	return "default-user"
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var ops []model.Op
	if err := json.NewDecoder(r.Body).Decode(&ops); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Payload must be an array."})
		return
	}
	uid := userID(r)
	if err := s.store.EnsureUser(r.Context(), uid); err != nil {
		s.handleStoreError(w, "push", err)
		return
	}
	acked, err := s.store.ApplyOps(r.Context(), uid, ops)
	if err != nil {
		s.handleStoreError(w, "push", err)
		return
	}
	s.logger.Debug("push applied", "user", uid, "ops", len(ops), "acked", len(acked))
	writeJSON(w, http.StatusOK, model.PushResponse{Acked: acked})
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if err := s.store.EnsureUser(r.Context(), uid); err != nil {
		s.handleStoreError(w, "pull", err)
		return
	}
	cursor := r.URL.Query().Get("cursor")
	resp, err := s.store.Delta(r.Context(), uid, cursor)
	if err != nil {
		s.handleStoreError(w, "pull", err)
		return
	}
	s.logger.Debug("pull served", "user", uid, "cursor", cursor,
		"tasks", len(resp.Tasks), "notes", len(resp.Notes), "links", len(resp.Links))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStoreError(w http.ResponseWriter, stage string, err error) {
	s.logger.Error("request failed", "stage", stage, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
