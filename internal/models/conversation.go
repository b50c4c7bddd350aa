// Package models defines conversation state structures for ConsultaFlow.
package models

import "time"

// ConversationState represents a state in the scheduling dialogue.
type ConversationState string

const (
	// StateNew is the initial state before an intent is classified.
	StateNew ConversationState = "NEW"
	// StateAwaitingDate waits for the patient to pick a date.
	StateAwaitingDate ConversationState = "AWAITING_DATE"
	// StateAwaitingTime waits for the patient to pick a time.
	StateAwaitingTime ConversationState = "AWAITING_TIME"
	// StateAwaitingConfirmation waits for a yes/no answer.
	StateAwaitingConfirmation ConversationState = "AWAITING_CONFIRMATION"
	// StateDone is the terminal state.
	StateDone ConversationState = "DONE"
)

// IsTerminal reports whether the state ends the conversation.
func (s ConversationState) IsTerminal() bool {
	return s == StateDone
}

// Intent is the classified purpose of a conversation.
type Intent string

const (
	// IntentSchedule books a new appointment.
	IntentSchedule Intent = "schedule"
	// IntentReschedule moves an existing appointment.
	IntentReschedule Intent = "reschedule"
	// IntentCancel cancels an appointment.
	IntentCancel Intent = "cancel"
	// IntentInquiry asks a general question.
	IntentInquiry Intent = "inquiry"
)

// ConversationContext holds the per-conversation transient state persisted
// alongside the conversation row. The field set is fixed, so this is a typed
// struct rather than a free-form map.
type ConversationContext struct {
	SelectedDate string `json:"selected_date,omitempty"`
	SelectedTime string `json:"selected_time,omitempty"`
	EventID      string `json:"event_id,omitempty"`
}

// ClearSelection discards the stored date and time, used when the patient
// rejects the confirmation and the flow restarts from date selection.
func (c *ConversationContext) ClearSelection() {
	c.SelectedDate = ""
	c.SelectedTime = ""
}

// IsEmpty reports whether no context fields are set.
func (c ConversationContext) IsEmpty() bool {
	return c == ConversationContext{}
}

// Conversation represents one scheduling dialogue. At most one non-terminal
// conversation exists per patient at any time.
type Conversation struct {
	ID        string              `json:"id"`
	PatientID string              `json:"patient_id"`
	State     ConversationState   `json:"state"`
	Intent    Intent              `json:"intent,omitempty"`
	Context   ConversationContext `json:"context"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}
