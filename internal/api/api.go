// Package api provides HTTP handlers and the main API server logic for ConsultaFlow.
//
// It exposes the WhatsApp webhook endpoints, reminder job triggers, metrics and
// a health check. The API integrates with the parser, flow, reminder and store
// modules.
package api

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/smartia-br/consultaflow/internal/flow"
	"github.com/smartia-br/consultaflow/internal/messaging"
	"github.com/smartia-br/consultaflow/internal/models"
	"github.com/smartia-br/consultaflow/internal/reminder"
	"github.com/smartia-br/consultaflow/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Server bundles the dependencies of the HTTP API.
type Server struct {
	st           store.Store
	messenger    messaging.Service
	orchestrator *flow.Orchestrator
	job          *reminder.Job
	channel      models.Channel
	verifyToken  string
	addr         string
}

// Opts holds configuration options for the API server.
type Opts struct {
	// Addr is the listen address (e.g. ":8080").
	Addr string
	// Channel selects which webhook parser decodes inbound payloads.
	// Defaults to the messaging service's channel.
	Channel models.Channel
	// VerifyToken is the shared secret for the Meta webhook verification
	// handshake. Falls back to the META_VERIFY_TOKEN environment variable.
	VerifyToken string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithChannel sets the webhook channel.
func WithChannel(ch models.Channel) Option {
	return func(o *Opts) { o.Channel = ch }
}

// WithVerifyToken sets the webhook verification token.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// NewServer creates an API server wired to the given store, messaging service,
// conversation orchestrator and reminder job.
func NewServer(st store.Store, messenger messaging.Service, orchestrator *flow.Orchestrator, job *reminder.Job, opts ...Option) *Server {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	if o.Addr == "" {
		o.Addr = DefaultAddr
	}
	if o.Channel == "" && messenger != nil {
		o.Channel = messenger.Channel()
	}
	if o.VerifyToken == "" {
		o.VerifyToken = os.Getenv("META_VERIFY_TOKEN")
	}
	return &Server{
		st:           st,
		messenger:    messenger,
		orchestrator: orchestrator,
		job:          job,
		channel:      o.Channel,
		verifyToken:  o.VerifyToken,
		addr:         o.Addr,
	}
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/webhook/whatsapp", s.webhookHandler)
	mux.HandleFunc("/jobs/reminders/24h", s.reminders24hHandler)
	mux.HandleFunc("/jobs/reminders/2h", s.reminders2hHandler)
	mux.HandleFunc("/jobs/no-shows", s.noShowsHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)
	return mux
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	slog.Info("Server.Run: ConsultaFlow API listening", "addr", s.addr, "channel", s.channel)
	return http.ListenAndServe(s.addr, s.Handler())
}
