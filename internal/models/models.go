// Package models defines the core data structures for ConsultaFlow.
//
// It includes the patient, conversation, interaction and appointment records
// shared across modules, plus the provider-agnostic message shape produced by
// the webhook parsers.
package models

import (
	"errors"
	"time"
)

// Channel identifies a WhatsApp provider backend.
type Channel string

const (
	// ChannelMeta is the Meta WhatsApp Cloud API.
	ChannelMeta Channel = "meta"
	// ChannelTwilio is the Twilio WhatsApp API.
	ChannelTwilio Channel = "twilio"
	// ChannelZenvia is the Zenvia WhatsApp API.
	ChannelZenvia Channel = "zenvia"
	// ChannelWhatsmeow is a self-hosted WhatsApp device via whatsmeow.
	ChannelWhatsmeow Channel = "whatsmeow"
)

// IsValidChannel checks if the given channel is supported.
func IsValidChannel(c Channel) bool {
	switch c {
	case ChannelMeta, ChannelTwilio, ChannelZenvia, ChannelWhatsmeow:
		return true
	default:
		return false
	}
}

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient        = errors.New("recipient cannot be empty")
	ErrEmptyMessageBody      = errors.New("message body cannot be empty")
	ErrBadDateInput          = errors.New("date must be in DD/MM/YYYY format")
	ErrBadTimeInput          = errors.New("time must be in HH:MM format")
	ErrCalendarUnavailable   = errors.New("calendar backend not configured")
	ErrBookingFailed         = errors.New("calendar booking failed")
	ErrMessagingUnavailable  = errors.New("messaging backend not configured")
	ErrUnknownChannel        = errors.New("unknown messaging channel")
	ErrDuplicateMessage      = errors.New("inbound message already processed")
	ErrInvalidConversationID = errors.New("conversation id cannot be empty")
)

// Patient is the root entity, identified by a unique phone number.
// Created lazily on the first inbound message from an unseen number.
type Patient struct {
	ID          string    `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	Name        string    `json:"name,omitempty"`
	Email       string    `json:"email,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// InteractionDirection indicates whether a message was received or sent.
type InteractionDirection string

const (
	// DirectionIncoming marks a message received from a patient.
	DirectionIncoming InteractionDirection = "incoming"
	// DirectionOutgoing marks a message sent to a patient.
	DirectionOutgoing InteractionDirection = "outgoing"
)

// Interaction is an immutable audit-log row for one message.
// ConversationID is empty for system-initiated messages (reminders); those
// rows are what the metrics job counts as system notifications.
type Interaction struct {
	ID                string               `json:"id"`
	PatientID         string               `json:"patient_id"`
	ConversationID    string               `json:"conversation_id,omitempty"`
	Direction         InteractionDirection `json:"direction"`
	Text              string               `json:"text"`
	Kind              MessageKind          `json:"kind,omitempty"`
	ProviderMessageID string               `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
}

// AppointmentStatus represents the lifecycle status of an appointment.
type AppointmentStatus string

const (
	// AppointmentScheduled is the initial status after a successful booking.
	AppointmentScheduled AppointmentStatus = "scheduled"
	// AppointmentConfirmed indicates the patient confirmed attendance.
	AppointmentConfirmed AppointmentStatus = "confirmed"
	// AppointmentCompleted indicates the appointment took place.
	AppointmentCompleted AppointmentStatus = "completed"
	// AppointmentCancelled indicates the appointment was cancelled.
	AppointmentCancelled AppointmentStatus = "cancelled"
	// AppointmentNoShow indicates the patient did not attend.
	AppointmentNoShow AppointmentStatus = "no_show"
)

// IsValidAppointmentStatus checks if the given status is supported.
func IsValidAppointmentStatus(s AppointmentStatus) bool {
	switch s {
	case AppointmentScheduled, AppointmentConfirmed, AppointmentCompleted, AppointmentCancelled, AppointmentNoShow:
		return true
	default:
		return false
	}
}

// Appointment represents a scheduled clinical slot backed by a calendar event.
// ConversationID is empty for appointments booked outside a live conversation.
type Appointment struct {
	ID              string            `json:"id"`
	PatientID       string            `json:"patient_id"`
	ConversationID  string            `json:"conversation_id,omitempty"`
	CalendarEventID string            `json:"calendar_event_id"`
	Title           string            `json:"title"`
	Description     string            `json:"description,omitempty"`
	ScheduledAt     time.Time         `json:"scheduled_at"`
	DurationMinutes int               `json:"duration_minutes"`
	Status          AppointmentStatus `json:"status"`
	Notes           string            `json:"notes,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// MessageKind classifies a normalized webhook message.
type MessageKind string

const (
	// MessageKindText is a plain text message.
	MessageKindText MessageKind = "text"
	// MessageKindButton is a button reply.
	MessageKindButton MessageKind = "button"
	// MessageKindStatus is a delivery/read receipt update.
	MessageKindStatus MessageKind = "status"
)

// ParsedMessage is the provider-agnostic normalized message record produced
// by the webhook parsers. A single webhook delivery may yield zero, one or
// many of these.
type ParsedMessage struct {
	ID            string      `json:"id"`
	From          string      `json:"from"`
	Timestamp     string      `json:"timestamp"`
	Kind          MessageKind `json:"kind"`
	Content       string      `json:"content"`
	ButtonPayload string      `json:"button_payload,omitempty"`
	Channel       Channel     `json:"channel"`
}

// WebhookResult is the response body returned to the provider after a
// webhook delivery: how many embedded messages were actually processed.
type WebhookResult struct {
	Received  bool `json:"received"`
	Processed int  `json:"processed"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
