// Package api is the admin HTTP surface: health probe, current config
// snapshot, and config updates pushed through the control queue.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/user/logfan"
	"github.com/user/logfan/internal/config"
)

// ControlPublisher pushes a reload signal carrying a config document.
type ControlPublisher interface {
	PublishControl(ctx context.Context, config json.RawMessage) error
}

const maxConfigBody = 1 << 20

type Server struct {
	manager   *config.Manager
	publisher ControlPublisher
	logger    logfan.Logger
	srv       *http.Server
}

func New(addr string, manager *config.Manager, publisher ControlPublisher, logger logfan.Logger) *Server {
	s := &Server{manager: manager, publisher: publisher, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /config", s.handleGetConfig)
	mux.HandleFunc("PUT /config", s.handlePutConfig)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		errs <- s.srv.ListenAndServe()
	}()
	s.logger.Info("admin api listening", "addr", s.srv.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin api: %w", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Get())
}

// handlePutConfig validates the document locally, then routes it
// through the control queue so the consumer applies it the same way as
// any other reload.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	if _, err := config.Parse(body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.publisher.PublishControl(r.Context(), body); err != nil {
		s.logger.Error("reload publish failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "control queue unavailable"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reload requested"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
