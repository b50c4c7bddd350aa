package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/smartia-br/consultaflow/internal/models"
	"github.com/smartia-br/consultaflow/internal/parser"
)

// maxWebhookBody caps how much of a webhook payload we read.
const maxWebhookBody = 1 << 20

// healthHandler provides a health check endpoint for monitoring and load balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// webhookHandler serves the WhatsApp webhook endpoint. GET performs the Meta
// verification handshake, POST receives message deliveries.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.verifyWebhook(w, r)
	case http.MethodPost:
		s.receiveWebhook(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// verifyWebhook answers the hub.challenge handshake Meta sends when the
// webhook URL is registered.
func (s *Server) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || s.verifyToken == "" || token != s.verifyToken {
		slog.Warn("Server.verifyWebhook: verification failed", "mode", mode)
		writeJSONResponse(w, http.StatusForbidden, models.Error("Verification failed"))
		return
	}

	slog.Info("Server.verifyWebhook: webhook verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(challenge)); err != nil {
		slog.Error("Server.verifyWebhook: failed to write challenge", "error", err)
	}
}

// receiveWebhook decodes a provider delivery and runs each embedded message
// through the conversation orchestrator. The provider always gets a 200 for a
// well-formed payload; per-message failures only lower the processed count so
// the provider does not redeliver the whole batch.
func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		slog.Error("Server.receiveWebhook: failed to read request body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read request body"))
		return
	}

	p, err := parser.ForChannel(s.channel)
	if err != nil {
		slog.Error("Server.receiveWebhook: no parser for channel", "channel", s.channel, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Webhook channel not configured"))
		return
	}

	messages, err := p.Parse(body)
	if err != nil {
		slog.Warn("Server.receiveWebhook: failed to parse webhook payload", "channel", s.channel, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid webhook payload"))
		return
	}

	processed := 0
	for _, msg := range messages {
		if err := s.orchestrator.ProcessMessage(r.Context(), msg); err != nil {
			if errors.Is(err, models.ErrDuplicateMessage) {
				slog.Debug("Server.receiveWebhook: duplicate message skipped", "messageID", msg.ID)
				continue
			}
			slog.Error("Server.receiveWebhook: failed to process message", "messageID", msg.ID, "from", msg.From, "error", err)
			continue
		}
		processed++
	}

	slog.Debug("Server.receiveWebhook: webhook handled", "channel", s.channel, "messages", len(messages), "processed", processed)
	writeJSONResponse(w, http.StatusOK, models.WebhookResult{Received: true, Processed: processed})
}

// reminders24hHandler triggers the 24 hour reminder sweep.
func (s *Server) reminders24hHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	summary, err := s.job.Run24hReminders(r.Context())
	if err != nil {
		slog.Error("Server.reminders24hHandler: sweep failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Reminder sweep failed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, summary)
}

// reminders2hHandler triggers the 2 hour reminder sweep.
func (s *Server) reminders2hHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	summary, err := s.job.Run2hReminders(r.Context())
	if err != nil {
		slog.Error("Server.reminders2hHandler: sweep failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Reminder sweep failed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, summary)
}

// noShowsHandler triggers the no-show sweep.
func (s *Server) noShowsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	summary, err := s.job.SweepNoShows(r.Context())
	if err != nil {
		slog.Error("Server.noShowsHandler: sweep failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("No-show sweep failed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, summary)
}

// metricsHandler reports appointment metrics over the trailing window.
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	metrics, err := s.job.ComputeMetrics(r.Context())
	if err != nil {
		slog.Error("Server.metricsHandler: failed to compute metrics", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute metrics"))
		return
	}
	writeJSONResponse(w, http.StatusOK, metrics)
}
