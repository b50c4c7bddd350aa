// Package calendar provides the scheduling capability behind appointment
// booking. The Service interface abstracts the clinic's agenda; the Google
// Calendar implementation backs it in production.
package calendar

import (
	"context"
	"time"
)

// TimeSlot is a bookable window of the clinic's agenda.
type TimeSlot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

// Event is a booked entry on the clinic calendar.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendees   []string  `json:"attendees,omitempty"`
}

// Service is the calendar capability used by the conversation flow and the
// reminder job. Implementations must be safe for concurrent use.
type Service interface {
	// ListSlots returns the agenda slots between start and end, stepping
	// every 30 minutes, each marked available or not.
	ListSlots(ctx context.Context, start, end time.Time, durationMinutes int) ([]TimeSlot, error)

	// BookSlot creates an event for the given window and returns the
	// provider event ID.
	BookSlot(ctx context.Context, event Event) (string, error)

	// GetEvent fetches an event by ID. Missing events return (nil, nil).
	GetEvent(ctx context.Context, eventID string) (*Event, error)

	// UpdateEvent rewrites an existing event in place.
	UpdateEvent(ctx context.Context, event Event) error

	// CancelEvent removes an event from the calendar.
	CancelEvent(ctx context.Context, eventID string) error
}
