// Package api exposes the collaborator HTTP surface: a status snapshot for
// the dashboard and an inbound sentiment webhook. The engine core only
// provides the snapshot accessor and the sentiment sink; this server is the
// boundary where external systems meet them. Accepted sentiment signals are
// relayed to the operator notification channel.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"bithumb-scalper/internal/config"
	"bithumb-scalper/internal/engine"
	"bithumb-scalper/internal/notify"
)

// StatusProvider supplies a copied snapshot of the engine state.
type StatusProvider interface {
	Status() engine.Status
}

// SentimentSink receives externally-pushed sentiment scores.
type SentimentSink interface {
	UpdateSentiment(symbol string, score float64)
}

// Server runs the HTTP API for the dashboard and webhook collaborators.
type Server struct {
	cfg    config.DashboardConfig
	server *http.Server
	logger *slog.Logger
}

// NewServer creates the API server.
func NewServer(cfg config.DashboardConfig, provider StatusProvider, sink SentimentSink, notifier notify.Notifier, logger *slog.Logger) *Server {
	h := &handlers{
		provider: provider,
		sink:     sink,
		notifier: notifier,
		secret:   cfg.WebhookSecret,
		logger:   logger.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/webhook/sentiment", h.handleSentiment)

	return &Server{
		cfg: cfg,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With("component", "api"),
	}
}

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
