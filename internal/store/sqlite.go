// Package store provides storage backends for ConsultaFlow.
//
// This file implements the SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/smartia-br/consultaflow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is the SQLite-backed store. When tx is set the store is a
// transaction-bound view produced by Transact.
type SQLiteStore struct {
	db *sql.DB
	tx *sql.Tx
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file; the directory
// is created if it does not exist.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows a single writer; serialize access through one connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "db_path", dsn)
	return &SQLiteStore{db: db}, nil
}

// q returns the active query target: the transaction when inside Transact,
// the connection otherwise.
func (s *SQLiteStore) q() dbtx {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Transact runs fn inside a transaction. Nested calls reuse the enclosing
// transaction. SQLite transactions are serializable by default.
func (s *SQLiteStore) Transact(ctx context.Context, fn func(Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("SQLiteStore Transact begin failed", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&SQLiteStore{db: s.db, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("SQLiteStore Transact rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore Transact commit failed", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

// GetPatient retrieves a patient by id.
func (s *SQLiteStore) GetPatient(id string) (*models.Patient, error) {
	row := s.q().QueryRow(`SELECT id, phone_number, name, email, notes, created_at, updated_at
		FROM patients WHERE id = ?`, id)
	p, err := scanPatient(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetPatient not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetPatient failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get patient %s: %w", id, err)
	}
	return p, nil
}

// GetPatientByPhone retrieves a patient by phone number.
func (s *SQLiteStore) GetPatientByPhone(phoneNumber string) (*models.Patient, error) {
	row := s.q().QueryRow(`SELECT id, phone_number, name, email, notes, created_at, updated_at
		FROM patients WHERE phone_number = ?`, phoneNumber)
	p, err := scanPatient(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetPatientByPhone not found", "phone", phoneNumber)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetPatientByPhone failed", "error", err, "phone", phoneNumber)
		return nil, fmt.Errorf("failed to get patient by phone: %w", err)
	}
	return p, nil
}

// SavePatient stores or updates a patient.
func (s *SQLiteStore) SavePatient(p models.Patient) error {
	query := `
		INSERT INTO patients (id, phone_number, name, email, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id)
		DO UPDATE SET
			phone_number = excluded.phone_number,
			name = excluded.name,
			email = excluded.email,
			notes = excluded.notes,
			updated_at = excluded.updated_at`
	_, err := s.q().Exec(query, p.ID, p.PhoneNumber, nilIfEmpty(p.Name), nilIfEmpty(p.Email),
		nilIfEmpty(p.Notes), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SavePatient failed", "error", err, "id", p.ID)
		return fmt.Errorf("failed to save patient %s: %w", p.ID, err)
	}
	slog.Debug("SQLiteStore SavePatient succeeded", "id", p.ID, "phone", p.PhoneNumber)
	return nil
}

// GetActiveConversation retrieves the most recent non-terminal conversation for a patient.
func (s *SQLiteStore) GetActiveConversation(patientID string) (*models.Conversation, error) {
	row := s.q().QueryRow(`SELECT id, patient_id, state, intent, context_data, created_at, updated_at
		FROM conversations WHERE patient_id = ? AND state != ?
		ORDER BY created_at DESC LIMIT 1`, patientID, string(models.StateDone))
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetActiveConversation not found", "patientID", patientID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetActiveConversation failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to get active conversation: %w", err)
	}
	return c, nil
}

// SaveConversation stores or updates a conversation with its serialized context.
func (s *SQLiteStore) SaveConversation(c models.Conversation) error {
	contextData, err := marshalContext(c.Context)
	if err != nil {
		slog.Error("SQLiteStore SaveConversation context marshal failed", "error", err, "id", c.ID)
		return err
	}
	query := `
		INSERT INTO conversations (id, patient_id, state, intent, context_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id)
		DO UPDATE SET
			state = excluded.state,
			intent = excluded.intent,
			context_data = excluded.context_data,
			updated_at = excluded.updated_at`
	_, err = s.q().Exec(query, c.ID, c.PatientID, string(c.State), nilIfEmpty(string(c.Intent)),
		contextData, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveConversation failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to save conversation %s: %w", c.ID, err)
	}
	slog.Debug("SQLiteStore SaveConversation succeeded", "id", c.ID, "state", c.State)
	return nil
}

// AddInteraction stores an immutable interaction row.
func (s *SQLiteStore) AddInteraction(i models.Interaction) error {
	query := `
		INSERT INTO interactions (id, patient_id, conversation_id, direction, text, kind, provider_message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.q().Exec(query, i.ID, i.PatientID, nilIfEmpty(i.ConversationID), string(i.Direction),
		i.Text, nilIfEmpty(string(i.Kind)), nilIfEmpty(i.ProviderMessageID), i.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddInteraction failed", "error", err, "id", i.ID)
		return fmt.Errorf("failed to insert interaction: %w", err)
	}
	slog.Debug("SQLiteStore AddInteraction succeeded", "id", i.ID, "direction", i.Direction)
	return nil
}

// CountSystemNotifications counts outgoing interactions without a conversation since the given time.
func (s *SQLiteStore) CountSystemNotifications(since time.Time) (int, error) {
	var count int
	err := s.q().QueryRow(`SELECT COUNT(*) FROM interactions
		WHERE conversation_id IS NULL AND direction = ? AND created_at >= ?`,
		string(models.DirectionOutgoing), since).Scan(&count)
	if err != nil {
		slog.Error("SQLiteStore CountSystemNotifications failed", "error", err)
		return 0, fmt.Errorf("failed to count system notifications: %w", err)
	}
	return count, nil
}

// SaveAppointment stores or updates an appointment.
func (s *SQLiteStore) SaveAppointment(a models.Appointment) error {
	query := `
		INSERT INTO appointments (id, patient_id, conversation_id, calendar_event_id, title, description,
			scheduled_at, duration_minutes, status, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id)
		DO UPDATE SET
			calendar_event_id = excluded.calendar_event_id,
			title = excluded.title,
			description = excluded.description,
			scheduled_at = excluded.scheduled_at,
			duration_minutes = excluded.duration_minutes,
			status = excluded.status,
			notes = excluded.notes,
			updated_at = excluded.updated_at`
	_, err := s.q().Exec(query, a.ID, a.PatientID, nilIfEmpty(a.ConversationID), a.CalendarEventID,
		a.Title, nilIfEmpty(a.Description), a.ScheduledAt, a.DurationMinutes, string(a.Status),
		nilIfEmpty(a.Notes), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveAppointment failed", "error", err, "id", a.ID)
		return fmt.Errorf("failed to save appointment %s: %w", a.ID, err)
	}
	slog.Debug("SQLiteStore SaveAppointment succeeded", "id", a.ID, "status", a.Status)
	return nil
}

// UpdateAppointmentStatus transitions an appointment between statuses with an
// optimistic re-check on the expected current status.
func (s *SQLiteStore) UpdateAppointmentStatus(id string, from, to models.AppointmentStatus) (bool, error) {
	result, err := s.q().Exec(`UPDATE appointments SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`, string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		slog.Error("SQLiteStore UpdateAppointmentStatus failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to update appointment status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	slog.Debug("SQLiteStore UpdateAppointmentStatus", "id", id, "from", from, "to", to, "changed", affected > 0)
	return affected > 0, nil
}

// ListAppointmentsBetween returns appointments with the given status inside [start, end).
func (s *SQLiteStore) ListAppointmentsBetween(status models.AppointmentStatus, start, end time.Time) ([]models.Appointment, error) {
	rows, err := s.q().Query(`SELECT id, patient_id, conversation_id, calendar_event_id, title, description,
			scheduled_at, duration_minutes, status, notes, created_at, updated_at
		FROM appointments WHERE status = ? AND scheduled_at >= ? AND scheduled_at < ?
		ORDER BY scheduled_at`, string(status), start, end)
	if err != nil {
		slog.Error("SQLiteStore ListAppointmentsBetween query failed", "error", err)
		return nil, fmt.Errorf("failed to query appointments: %w", err)
	}
	return collectAppointments(rows)
}

// ListAppointmentsBefore returns appointments with the given status scheduled at or before the cutoff.
func (s *SQLiteStore) ListAppointmentsBefore(status models.AppointmentStatus, cutoff time.Time) ([]models.Appointment, error) {
	rows, err := s.q().Query(`SELECT id, patient_id, conversation_id, calendar_event_id, title, description,
			scheduled_at, duration_minutes, status, notes, created_at, updated_at
		FROM appointments WHERE status = ? AND scheduled_at <= ?
		ORDER BY scheduled_at`, string(status), cutoff)
	if err != nil {
		slog.Error("SQLiteStore ListAppointmentsBefore query failed", "error", err)
		return nil, fmt.Errorf("failed to query overdue appointments: %w", err)
	}
	return collectAppointments(rows)
}

// CountAppointmentsSince counts appointments scheduled at or after the given time.
func (s *SQLiteStore) CountAppointmentsSince(since time.Time) (int, error) {
	var count int
	err := s.q().QueryRow(`SELECT COUNT(*) FROM appointments WHERE scheduled_at >= ?`, since).Scan(&count)
	if err != nil {
		slog.Error("SQLiteStore CountAppointmentsSince failed", "error", err)
		return 0, fmt.Errorf("failed to count appointments: %w", err)
	}
	return count, nil
}

// CountAppointmentsByStatusSince counts appointments with the given status scheduled at or after the given time.
func (s *SQLiteStore) CountAppointmentsByStatusSince(status models.AppointmentStatus, since time.Time) (int, error) {
	var count int
	err := s.q().QueryRow(`SELECT COUNT(*) FROM appointments WHERE status = ? AND scheduled_at >= ?`,
		string(status), since).Scan(&count)
	if err != nil {
		slog.Error("SQLiteStore CountAppointmentsByStatusSince failed", "error", err, "status", status)
		return 0, fmt.Errorf("failed to count appointments by status: %w", err)
	}
	return count, nil
}

// RecordInboundMessage records a provider message id, returning false for duplicates.
func (s *SQLiteStore) RecordInboundMessage(messageID, phoneNumber string) (bool, error) {
	result, err := s.q().Exec(`INSERT OR IGNORE INTO inbound_dedup (message_id, phone_number, received_at)
		VALUES (?, ?, ?)`, messageID, phoneNumber, time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore RecordInboundMessage failed", "error", err, "messageID", messageID)
		return false, fmt.Errorf("failed to record inbound message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		slog.Debug("SQLiteStore RecordInboundMessage duplicate", "messageID", messageID)
		return false, nil
	}
	return true, nil
}
