package flow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/smartia-br/consultaflow/internal/calendar"
	"github.com/smartia-br/consultaflow/internal/models"
	"github.com/smartia-br/consultaflow/internal/store"
)

// AppointmentDurationMinutes is the fixed length of a booked consultation.
const AppointmentDurationMinutes = 60

// Outcome classifies the result of a booking attempt.
type Outcome int

const (
	// OutcomeBooked means a calendar event and appointment row were created.
	OutcomeBooked Outcome = iota
	// OutcomeBadInput means the stored date or time did not parse; the
	// calendar was never called.
	OutcomeBadInput
	// OutcomeBookingFailed means the calendar rejected the slot or is not
	// available at all.
	OutcomeBookingFailed
)

// BookingResult is what a booking attempt produced.
type BookingResult struct {
	Outcome Outcome
	EventID string
	Start   time.Time
}

var (
	datePattern = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	timePattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
)

// BookingCoordinator turns the date and time a patient typed into a calendar
// reservation plus a persisted appointment row.
type BookingCoordinator struct {
	cal      calendar.Service
	location *time.Location
}

// NewBookingCoordinator creates a coordinator. A nil calendar service is
// allowed; every booking attempt then fails as unavailable.
func NewBookingCoordinator(cal calendar.Service, loc *time.Location) *BookingCoordinator {
	if loc == nil {
		loc = time.Local
	}
	return &BookingCoordinator{cal: cal, location: loc}
}

// Book attempts to reserve the slot described by the conversation context and
// persist the appointment through tx. The caller owns the surrounding
// transaction and the conversation row; only the context event ID is written
// back on success.
func (b *BookingCoordinator) Book(ctx context.Context, tx store.Store, conv *models.Conversation, patient models.Patient) (BookingResult, error) {
	start, ok := b.parseStart(conv.Context.SelectedDate, conv.Context.SelectedTime)
	if !ok {
		slog.Info("BookingCoordinator.Book: unparseable date or time",
			"conversationID", conv.ID, "date", conv.Context.SelectedDate, "time", conv.Context.SelectedTime)
		return BookingResult{Outcome: OutcomeBadInput}, nil
	}

	if b.cal == nil {
		slog.Warn("BookingCoordinator.Book: no calendar service configured", "conversationID", conv.ID)
		return BookingResult{Outcome: OutcomeBookingFailed}, nil
	}

	name := patient.Name
	if name == "" {
		name = "Paciente"
	}
	event := calendar.Event{
		Title:       "Consulta - " + name,
		Description: fmt.Sprintf("Consulta agendada via WhatsApp\nPaciente: %s", patient.PhoneNumber),
		Start:       start,
		End:         start.Add(AppointmentDurationMinutes * time.Minute),
	}

	eventID, err := b.cal.BookSlot(ctx, event)
	if err != nil || eventID == "" {
		slog.Error("BookingCoordinator.Book: calendar booking failed",
			"conversationID", conv.ID, "start", start, "error", err)
		return BookingResult{Outcome: OutcomeBookingFailed}, nil
	}

	conv.Context.EventID = eventID
	now := time.Now().UTC()
	appt := models.Appointment{
		ID:              uuid.NewString(),
		PatientID:       patient.ID,
		ConversationID:  conv.ID,
		CalendarEventID: eventID,
		Title:           event.Title,
		Description:     event.Description,
		ScheduledAt:     start,
		DurationMinutes: AppointmentDurationMinutes,
		Status:          models.AppointmentScheduled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := tx.SaveAppointment(appt); err != nil {
		return BookingResult{}, fmt.Errorf("Book: failed to save appointment: %w", err)
	}

	slog.Info("BookingCoordinator.Book: appointment booked",
		"appointmentID", appt.ID, "eventID", eventID, "start", start, "patientID", patient.ID)
	return BookingResult{Outcome: OutcomeBooked, EventID: eventID, Start: start}, nil
}

// parseStart validates the raw date and time strings and combines them into
// a clinic-local timestamp. Values that match the shape but name an
// impossible moment, like 32/13/2024, are rejected the same way.
func (b *BookingCoordinator) parseStart(dateStr, timeStr string) (time.Time, bool) {
	dm := datePattern.FindStringSubmatch(dateStr)
	if dm == nil {
		return time.Time{}, false
	}
	tm := timePattern.FindStringSubmatch(timeStr)
	if tm == nil {
		return time.Time{}, false
	}

	day, _ := strconv.Atoi(dm[1])
	month, _ := strconv.Atoi(dm[2])
	year, _ := strconv.Atoi(dm[3])
	hour, _ := strconv.Atoi(tm[1])
	minute, _ := strconv.Atoi(tm[2])

	if month < 1 || month > 12 || day < 1 || hour > 23 || minute > 59 {
		return time.Time{}, false
	}
	start := time.Date(year, time.Month(month), day, hour, minute, 0, 0, b.location)
	// time.Date normalizes overflow (31/02 becomes 02/03), so a round-trip
	// mismatch means the date named a day that does not exist.
	if start.Day() != day || start.Month() != time.Month(month) || start.Year() != year {
		return time.Time{}, false
	}
	return start, true
}
