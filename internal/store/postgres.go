// Package store provides storage backends for ConsultaFlow.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/smartia-br/consultaflow/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is the PostgreSQL-backed store. When tx is set the store is a
// transaction-bound view produced by Transact.
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// q returns the active query target: the transaction when inside Transact,
// the connection pool otherwise.
func (s *PostgresStore) q() dbtx {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Transact runs fn inside a serializable transaction. Nested calls reuse the
// enclosing transaction.
func (s *PostgresStore) Transact(ctx context.Context, fn func(Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		slog.Error("PostgresStore Transact begin failed", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&PostgresStore{db: s.db, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("PostgresStore Transact rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore Transact commit failed", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}

// GetPatient retrieves a patient by id.
func (s *PostgresStore) GetPatient(id string) (*models.Patient, error) {
	row := s.q().QueryRow(`SELECT id, phone_number, name, email, notes, created_at, updated_at
		FROM patients WHERE id = $1`, id)
	p, err := scanPatient(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetPatient not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetPatient failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get patient %s: %w", id, err)
	}
	return p, nil
}

// GetPatientByPhone retrieves a patient by phone number.
func (s *PostgresStore) GetPatientByPhone(phoneNumber string) (*models.Patient, error) {
	row := s.q().QueryRow(`SELECT id, phone_number, name, email, notes, created_at, updated_at
		FROM patients WHERE phone_number = $1`, phoneNumber)
	p, err := scanPatient(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetPatientByPhone not found", "phone", phoneNumber)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetPatientByPhone failed", "error", err, "phone", phoneNumber)
		return nil, fmt.Errorf("failed to get patient by phone: %w", err)
	}
	return p, nil
}

// SavePatient stores or updates a patient.
func (s *PostgresStore) SavePatient(p models.Patient) error {
	query := `
		INSERT INTO patients (id, phone_number, name, email, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id)
		DO UPDATE SET
			phone_number = EXCLUDED.phone_number,
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at`
	_, err := s.q().Exec(query, p.ID, p.PhoneNumber, nilIfEmpty(p.Name), nilIfEmpty(p.Email),
		nilIfEmpty(p.Notes), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SavePatient failed", "error", err, "id", p.ID)
		return fmt.Errorf("failed to save patient %s: %w", p.ID, err)
	}
	slog.Debug("PostgresStore SavePatient succeeded", "id", p.ID, "phone", p.PhoneNumber)
	return nil
}

// GetActiveConversation retrieves the most recent non-terminal conversation for a patient.
func (s *PostgresStore) GetActiveConversation(patientID string) (*models.Conversation, error) {
	row := s.q().QueryRow(`SELECT id, patient_id, state, intent, context_data, created_at, updated_at
		FROM conversations WHERE patient_id = $1 AND state != $2
		ORDER BY created_at DESC LIMIT 1`, patientID, string(models.StateDone))
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetActiveConversation not found", "patientID", patientID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetActiveConversation failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to get active conversation: %w", err)
	}
	return c, nil
}

// SaveConversation stores or updates a conversation with its serialized context.
func (s *PostgresStore) SaveConversation(c models.Conversation) error {
	contextData, err := marshalContext(c.Context)
	if err != nil {
		slog.Error("PostgresStore SaveConversation context marshal failed", "error", err, "id", c.ID)
		return err
	}
	query := `
		INSERT INTO conversations (id, patient_id, state, intent, context_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id)
		DO UPDATE SET
			state = EXCLUDED.state,
			intent = EXCLUDED.intent,
			context_data = EXCLUDED.context_data,
			updated_at = EXCLUDED.updated_at`
	_, err = s.q().Exec(query, c.ID, c.PatientID, string(c.State), nilIfEmpty(string(c.Intent)),
		contextData, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveConversation failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to save conversation %s: %w", c.ID, err)
	}
	slog.Debug("PostgresStore SaveConversation succeeded", "id", c.ID, "state", c.State)
	return nil
}

// AddInteraction stores an immutable interaction row.
func (s *PostgresStore) AddInteraction(i models.Interaction) error {
	query := `
		INSERT INTO interactions (id, patient_id, conversation_id, direction, text, kind, provider_message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.q().Exec(query, i.ID, i.PatientID, nilIfEmpty(i.ConversationID), string(i.Direction),
		i.Text, nilIfEmpty(string(i.Kind)), nilIfEmpty(i.ProviderMessageID), i.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddInteraction failed", "error", err, "id", i.ID)
		return fmt.Errorf("failed to insert interaction: %w", err)
	}
	slog.Debug("PostgresStore AddInteraction succeeded", "id", i.ID, "direction", i.Direction)
	return nil
}

// CountSystemNotifications counts outgoing interactions without a conversation since the given time.
func (s *PostgresStore) CountSystemNotifications(since time.Time) (int, error) {
	var count int
	err := s.q().QueryRow(`SELECT COUNT(*) FROM interactions
		WHERE conversation_id IS NULL AND direction = $1 AND created_at >= $2`,
		string(models.DirectionOutgoing), since).Scan(&count)
	if err != nil {
		slog.Error("PostgresStore CountSystemNotifications failed", "error", err)
		return 0, fmt.Errorf("failed to count system notifications: %w", err)
	}
	return count, nil
}

// SaveAppointment stores or updates an appointment.
func (s *PostgresStore) SaveAppointment(a models.Appointment) error {
	query := `
		INSERT INTO appointments (id, patient_id, conversation_id, calendar_event_id, title, description,
			scheduled_at, duration_minutes, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id)
		DO UPDATE SET
			calendar_event_id = EXCLUDED.calendar_event_id,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			scheduled_at = EXCLUDED.scheduled_at,
			duration_minutes = EXCLUDED.duration_minutes,
			status = EXCLUDED.status,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at`
	_, err := s.q().Exec(query, a.ID, a.PatientID, nilIfEmpty(a.ConversationID), a.CalendarEventID,
		a.Title, nilIfEmpty(a.Description), a.ScheduledAt, a.DurationMinutes, string(a.Status),
		nilIfEmpty(a.Notes), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveAppointment failed", "error", err, "id", a.ID)
		return fmt.Errorf("failed to save appointment %s: %w", a.ID, err)
	}
	slog.Debug("PostgresStore SaveAppointment succeeded", "id", a.ID, "status", a.Status)
	return nil
}

// UpdateAppointmentStatus transitions an appointment between statuses with an
// optimistic re-check on the expected current status.
func (s *PostgresStore) UpdateAppointmentStatus(id string, from, to models.AppointmentStatus) (bool, error) {
	result, err := s.q().Exec(`UPDATE appointments SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`, string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		slog.Error("PostgresStore UpdateAppointmentStatus failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to update appointment status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	slog.Debug("PostgresStore UpdateAppointmentStatus", "id", id, "from", from, "to", to, "changed", affected > 0)
	return affected > 0, nil
}

// ListAppointmentsBetween returns appointments with the given status inside [start, end).
func (s *PostgresStore) ListAppointmentsBetween(status models.AppointmentStatus, start, end time.Time) ([]models.Appointment, error) {
	rows, err := s.q().Query(`SELECT id, patient_id, conversation_id, calendar_event_id, title, description,
			scheduled_at, duration_minutes, status, notes, created_at, updated_at
		FROM appointments WHERE status = $1 AND scheduled_at >= $2 AND scheduled_at < $3
		ORDER BY scheduled_at`, string(status), start, end)
	if err != nil {
		slog.Error("PostgresStore ListAppointmentsBetween query failed", "error", err)
		return nil, fmt.Errorf("failed to query appointments: %w", err)
	}
	return collectAppointments(rows)
}

// ListAppointmentsBefore returns appointments with the given status scheduled at or before the cutoff.
func (s *PostgresStore) ListAppointmentsBefore(status models.AppointmentStatus, cutoff time.Time) ([]models.Appointment, error) {
	rows, err := s.q().Query(`SELECT id, patient_id, conversation_id, calendar_event_id, title, description,
			scheduled_at, duration_minutes, status, notes, created_at, updated_at
		FROM appointments WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at`, string(status), cutoff)
	if err != nil {
		slog.Error("PostgresStore ListAppointmentsBefore query failed", "error", err)
		return nil, fmt.Errorf("failed to query overdue appointments: %w", err)
	}
	return collectAppointments(rows)
}

// CountAppointmentsSince counts appointments scheduled at or after the given time.
func (s *PostgresStore) CountAppointmentsSince(since time.Time) (int, error) {
	var count int
	err := s.q().QueryRow(`SELECT COUNT(*) FROM appointments WHERE scheduled_at >= $1`, since).Scan(&count)
	if err != nil {
		slog.Error("PostgresStore CountAppointmentsSince failed", "error", err)
		return 0, fmt.Errorf("failed to count appointments: %w", err)
	}
	return count, nil
}

// CountAppointmentsByStatusSince counts appointments with the given status scheduled at or after the given time.
func (s *PostgresStore) CountAppointmentsByStatusSince(status models.AppointmentStatus, since time.Time) (int, error) {
	var count int
	err := s.q().QueryRow(`SELECT COUNT(*) FROM appointments WHERE status = $1 AND scheduled_at >= $2`,
		string(status), since).Scan(&count)
	if err != nil {
		slog.Error("PostgresStore CountAppointmentsByStatusSince failed", "error", err, "status", status)
		return 0, fmt.Errorf("failed to count appointments by status: %w", err)
	}
	return count, nil
}

// RecordInboundMessage records a provider message id, returning false for duplicates.
func (s *PostgresStore) RecordInboundMessage(messageID, phoneNumber string) (bool, error) {
	result, err := s.q().Exec(`INSERT INTO inbound_dedup (message_id, phone_number, received_at)
		VALUES ($1, $2, $3) ON CONFLICT (message_id) DO NOTHING`, messageID, phoneNumber, time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore RecordInboundMessage failed", "error", err, "messageID", messageID)
		return false, fmt.Errorf("failed to record inbound message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		slog.Debug("PostgresStore RecordInboundMessage duplicate", "messageID", messageID)
		return false, nil
	}
	return true, nil
}
