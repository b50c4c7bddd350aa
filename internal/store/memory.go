// Package store provides storage backends for ConsultaFlow.
//
// This file implements an in-memory store used in tests and when no
// database DSN is configured.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smartia-br/consultaflow/internal/models"
)

// InMemoryStore keeps all records in process memory. Transact snapshots the
// data before running fn and restores it on error, so rollback semantics
// match the SQL backends closely enough for tests.
type InMemoryStore struct {
	mu            sync.Mutex
	txMu          sync.Mutex
	patients      map[string]models.Patient
	phoneIndex    map[string]string
	conversations map[string]models.Conversation
	interactions  []models.Interaction
	appointments  map[string]models.Appointment
	dedup         map[string]time.Time
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		patients:      make(map[string]models.Patient),
		phoneIndex:    make(map[string]string),
		conversations: make(map[string]models.Conversation),
		appointments:  make(map[string]models.Appointment),
		dedup:         make(map[string]time.Time),
	}
}

type memorySnapshot struct {
	patients      map[string]models.Patient
	phoneIndex    map[string]string
	conversations map[string]models.Conversation
	interactions  []models.Interaction
	appointments  map[string]models.Appointment
	dedup         map[string]time.Time
}

func (s *InMemoryStore) snapshot() memorySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memorySnapshot{
		patients:      make(map[string]models.Patient, len(s.patients)),
		phoneIndex:    make(map[string]string, len(s.phoneIndex)),
		conversations: make(map[string]models.Conversation, len(s.conversations)),
		interactions:  append([]models.Interaction(nil), s.interactions...),
		appointments:  make(map[string]models.Appointment, len(s.appointments)),
		dedup:         make(map[string]time.Time, len(s.dedup)),
	}
	for k, v := range s.patients {
		snap.patients[k] = v
	}
	for k, v := range s.phoneIndex {
		snap.phoneIndex[k] = v
	}
	for k, v := range s.conversations {
		snap.conversations[k] = v
	}
	for k, v := range s.appointments {
		snap.appointments[k] = v
	}
	for k, v := range s.dedup {
		snap.dedup[k] = v
	}
	return snap
}

func (s *InMemoryStore) restore(snap memorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients = snap.patients
	s.phoneIndex = snap.phoneIndex
	s.conversations = snap.conversations
	s.interactions = snap.interactions
	s.appointments = snap.appointments
	s.dedup = snap.dedup
}

// Transact runs fn against the store, restoring the pre-transaction snapshot
// if fn fails. Transactions are serialized against each other.
func (s *InMemoryStore) Transact(ctx context.Context, fn func(Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

// GetPatient retrieves a patient by id.
func (s *InMemoryStore) GetPatient(id string) (*models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.patients[id]; ok {
		return &p, nil
	}
	return nil, nil
}

// GetPatientByPhone retrieves a patient by phone number.
func (s *InMemoryStore) GetPatientByPhone(phoneNumber string) (*models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.phoneIndex[phoneNumber]; ok {
		p := s.patients[id]
		return &p, nil
	}
	return nil, nil
}

// SavePatient stores or updates a patient.
func (s *InMemoryStore) SavePatient(p models.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p
	s.phoneIndex[p.PhoneNumber] = p.ID
	return nil
}

// GetActiveConversation retrieves the most recent non-terminal conversation for a patient.
func (s *InMemoryStore) GetActiveConversation(patientID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []models.Conversation
	for _, c := range s.conversations {
		if c.PatientID == patientID && !c.State.IsTerminal() {
			active = append(active, c)
		}
	}
	if len(active) == 0 {
		return nil, nil
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.After(active[j].CreatedAt) })
	c := active[0]
	return &c, nil
}

// SaveConversation stores or updates a conversation.
func (s *InMemoryStore) SaveConversation(c models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	return nil
}

// AddInteraction stores an interaction row.
func (s *InMemoryStore) AddInteraction(i models.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions = append(s.interactions, i)
	return nil
}

// CountSystemNotifications counts outgoing interactions without a conversation since the given time.
func (s *InMemoryStore) CountSystemNotifications(since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, i := range s.interactions {
		if i.ConversationID == "" && i.Direction == models.DirectionOutgoing && !i.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// SaveAppointment stores or updates an appointment.
func (s *InMemoryStore) SaveAppointment(a models.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments[a.ID] = a
	return nil
}

// UpdateAppointmentStatus transitions an appointment between statuses with an
// optimistic re-check on the expected current status.
func (s *InMemoryStore) UpdateAppointmentStatus(id string, from, to models.AppointmentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = time.Now().UTC()
	s.appointments[id] = a
	return true, nil
}

// ListAppointmentsBetween returns appointments with the given status inside [start, end).
func (s *InMemoryStore) ListAppointmentsBetween(status models.AppointmentStatus, start, end time.Time) ([]models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Appointment
	for _, a := range s.appointments {
		if a.Status == status && !a.ScheduledAt.Before(start) && a.ScheduledAt.Before(end) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ScheduledAt.Before(result[j].ScheduledAt) })
	return result, nil
}

// ListAppointmentsBefore returns appointments with the given status scheduled at or before the cutoff.
func (s *InMemoryStore) ListAppointmentsBefore(status models.AppointmentStatus, cutoff time.Time) ([]models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Appointment
	for _, a := range s.appointments {
		if a.Status == status && !a.ScheduledAt.After(cutoff) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ScheduledAt.Before(result[j].ScheduledAt) })
	return result, nil
}

// CountAppointmentsSince counts appointments scheduled at or after the given time.
func (s *InMemoryStore) CountAppointmentsSince(since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, a := range s.appointments {
		if !a.ScheduledAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// CountAppointmentsByStatusSince counts appointments with the given status scheduled at or after the given time.
func (s *InMemoryStore) CountAppointmentsByStatusSince(status models.AppointmentStatus, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, a := range s.appointments {
		if a.Status == status && !a.ScheduledAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// RecordInboundMessage records a provider message id, returning false for duplicates.
func (s *InMemoryStore) RecordInboundMessage(messageID, phoneNumber string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.dedup[messageID]; seen {
		return false, nil
	}
	s.dedup[messageID] = time.Now().UTC()
	return true, nil
}

// Interactions returns a copy of all stored interactions (test helper).
func (s *InMemoryStore) Interactions() []models.Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Interaction(nil), s.interactions...)
}

// Appointments returns a copy of all stored appointments (test helper).
func (s *InMemoryStore) Appointments() []models.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Appointment
	for _, a := range s.appointments {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ScheduledAt.Before(result[j].ScheduledAt) })
	return result
}
