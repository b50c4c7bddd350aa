package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/smartia-br/consultaflow/internal/models"
)

// dbtx abstracts *sql.DB and *sql.Tx so the same queries run inside and
// outside a transaction.
type dbtx interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalContext serializes conversation context to its JSON blob form.
// Empty context is stored as NULL.
func marshalContext(ctx models.ConversationContext) (interface{}, error) {
	if ctx.IsEmpty() {
		return nil, nil
	}
	data, err := json.Marshal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation context: %w", err)
	}
	return string(data), nil
}

// unmarshalContext deserializes the context blob. A corrupt blob logs and
// yields empty context rather than failing the read.
func unmarshalContext(raw sql.NullString) models.ConversationContext {
	var ctx models.ConversationContext
	if !raw.Valid || raw.String == "" {
		return ctx
	}
	if err := json.Unmarshal([]byte(raw.String), &ctx); err != nil {
		slog.Error("store: failed to unmarshal conversation context, using empty context", "error", err)
		return models.ConversationContext{}
	}
	return ctx
}

// scanPatient scans a patient row.
func scanPatient(row rowScanner) (*models.Patient, error) {
	var p models.Patient
	var name, email, notes sql.NullString
	err := row.Scan(&p.ID, &p.PhoneNumber, &name, &email, &notes, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Name = name.String
	p.Email = email.String
	p.Notes = notes.String
	return &p, nil
}

// scanConversation scans a conversation row.
func scanConversation(row rowScanner) (*models.Conversation, error) {
	var c models.Conversation
	var intent, contextData sql.NullString
	err := row.Scan(&c.ID, &c.PatientID, &c.State, &intent, &contextData, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Intent = models.Intent(intent.String)
	c.Context = unmarshalContext(contextData)
	return &c, nil
}

// scanAppointment scans an appointment row.
func scanAppointment(row rowScanner) (*models.Appointment, error) {
	var a models.Appointment
	var conversationID, description, notes sql.NullString
	err := row.Scan(&a.ID, &a.PatientID, &conversationID, &a.CalendarEventID, &a.Title,
		&description, &a.ScheduledAt, &a.DurationMinutes, &a.Status, &notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.ConversationID = conversationID.String
	a.Description = description.String
	a.Notes = notes.String
	return &a, nil
}

// collectAppointments drains an appointment result set.
func collectAppointments(rows *sql.Rows) ([]models.Appointment, error) {
	defer rows.Close()
	var appointments []models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan appointment row: %w", err)
		}
		appointments = append(appointments, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate appointment rows: %w", err)
	}
	return appointments, nil
}
