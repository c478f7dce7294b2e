package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bithumb-scalper/internal/notify"
)

type handlers struct {
	provider StatusProvider
	sink     SentimentSink
	notifier notify.Notifier
	secret   string
	logger   *slog.Logger
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.provider.Status())
}

// sentimentPayload is the webhook body pushed by the external analysis
// workflow: a directional score in [-1, 1] for one target symbol.
type sentimentPayload struct {
	Symbol         string  `json:"symbol"`
	SentimentScore float64 `json:"sentiment_score"`
	Reason         string  `json:"reason"`
	SecretToken    string  `json:"secret_token"`
}

func (h *handlers) handleSentiment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload sentimentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if h.secret == "" || payload.SecretToken != h.secret {
		h.logger.Warn("sentiment webhook rejected: bad token")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if payload.SentimentScore < -1 || payload.SentimentScore > 1 {
		http.Error(w, "sentiment_score must be in [-1, 1]", http.StatusBadRequest)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(payload.Symbol))
	if symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}

	h.sink.UpdateSentiment(symbol, payload.SentimentScore)
	h.logger.Info("sentiment signal received",
		"symbol", symbol,
		"score", payload.SentimentScore,
		"reason", payload.Reason,
	)

	// Relay to the operator channel off the request path.
	msg := fmt.Sprintf("<b>[sentiment signal]</b>\nsymbol: %s\nscore: %.2f\nreason: %s",
		symbol, payload.SentimentScore, payload.Reason)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.notifier.Send(ctx, msg); err != nil {
			h.logger.Error("sentiment notification failed", "error", err)
		}
	}()

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "signal for " + symbol + " received",
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
