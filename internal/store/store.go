// Package store provides storage backends for ConsultaFlow.
//
// It exposes a transactional repository over patients, conversations,
// interactions and appointments, with PostgreSQL, SQLite and in-memory
// implementations.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/smartia-br/consultaflow/internal/models"
)

// Store defines the repository contract shared by all backends.
//
// Lookups that find nothing return (nil, nil); errors are reserved for
// backend failures. Transact runs fn against a store view bound to a single
// transaction: if fn returns an error the whole transaction rolls back.
type Store interface {
	// Patients
	GetPatient(id string) (*models.Patient, error)
	GetPatientByPhone(phoneNumber string) (*models.Patient, error)
	SavePatient(p models.Patient) error

	// Conversations
	// GetActiveConversation returns the most recent non-terminal conversation
	// for the patient, or nil if every conversation is done.
	GetActiveConversation(patientID string) (*models.Conversation, error)
	SaveConversation(c models.Conversation) error

	// Interactions
	AddInteraction(i models.Interaction) error
	// CountSystemNotifications counts outgoing interactions without a
	// conversation (reminder and re-engagement sends) since the given time.
	CountSystemNotifications(since time.Time) (int, error)

	// Appointments
	SaveAppointment(a models.Appointment) error
	// UpdateAppointmentStatus transitions an appointment from one status to
	// another. It re-filters on the expected current status at mutation time
	// and reports whether a row actually changed.
	UpdateAppointmentStatus(id string, from, to models.AppointmentStatus) (bool, error)
	// ListAppointmentsBetween returns appointments with the given status
	// scheduled inside [start, end).
	ListAppointmentsBetween(status models.AppointmentStatus, start, end time.Time) ([]models.Appointment, error)
	// ListAppointmentsBefore returns appointments with the given status
	// scheduled at or before the cutoff.
	ListAppointmentsBefore(status models.AppointmentStatus, cutoff time.Time) ([]models.Appointment, error)
	CountAppointmentsSince(since time.Time) (int, error)
	CountAppointmentsByStatusSince(status models.AppointmentStatus, since time.Time) (int, error)

	// RecordInboundMessage records a provider message id for deduplication.
	// It returns false when the id was already seen, so webhook redeliveries
	// never advance conversation state twice.
	RecordInboundMessage(messageID, phoneNumber string) (bool, error)

	// Transact runs fn inside a single transaction.
	Transact(ctx context.Context, fn func(Store) error) error

	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store constructors.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType determines whether a DSN targets PostgreSQL or SQLite.
// Postgres DSNs use URL or key=value forms; everything else is treated as a
// SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// New creates a store backend based on the configured DSN: PostgreSQL for
// postgres DSNs, SQLite for file paths, in-memory when no DSN is set.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(cfg.DSN))
	}
	return NewSQLiteStore(WithSQLiteDSN(cfg.DSN))
}
