// Package reminder implements the batch job that sends appointment
// reminders, flags no-shows and aggregates engagement metrics. The job is
// triggered externally; it never schedules itself.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/smartia-br/consultaflow/internal/messaging"
	"github.com/smartia-br/consultaflow/internal/models"
	"github.com/smartia-br/consultaflow/internal/store"
)

// MetricsWindowDays is the trailing window used for metrics aggregation.
const MetricsWindowDays = 30

// Job runs the reminder and no-show sweeps over persisted appointments.
type Job struct {
	st        store.Store
	messenger messaging.Service
	location  *time.Location
	now       func() time.Time
}

// Opts holds optional configuration for the reminder job.
type Opts struct {
	Location *time.Location
	Now      func() time.Time
}

// Option configures the reminder job.
type Option func(*Opts)

// WithLocation sets the clinic timezone used for day/hour bucketing.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// NewJob creates a reminder job over the given store and messaging service.
func NewJob(st store.Store, messenger messaging.Service, opts ...Option) *Job {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Job{st: st, messenger: messenger, location: o.Location, now: o.Now}
}

// SweepSummary reports the outcome of one reminder sweep.
type SweepSummary struct {
	Job               string    `json:"job"`
	Timestamp         time.Time `json:"timestamp"`
	AppointmentsFound int       `json:"appointments_found"`
	RemindersSent     int       `json:"reminders_sent"`
	RemindersFailed   int       `json:"reminders_failed"`
}

// NoShowSummary reports the outcome of one no-show sweep.
type NoShowSummary struct {
	Job              string    `json:"job"`
	Timestamp        time.Time `json:"timestamp"`
	NoShowsFound     int       `json:"no_shows_found"`
	Processed        int       `json:"processed"`
	ReengagementSent int       `json:"reengagement_sent"`
}

// Metrics aggregates appointment and notification counts over the trailing
// 30-day window. Rates are percentages of total and report 0 when the window
// holds no appointments.
type Metrics struct {
	Period               string    `json:"period"`
	TotalAppointments    int       `json:"total_appointments"`
	NoShows              int       `json:"no_shows"`
	Completed            int       `json:"completed"`
	ReminderMessagesSent int       `json:"reminder_messages_sent"`
	NoShowRate           float64   `json:"no_show_rate"`
	CompletionRate       float64   `json:"completion_rate"`
	Timestamp            time.Time `json:"timestamp"`
}

// Run24hReminders sends confirmation requests for scheduled appointments
// falling on the calendar day that starts 24 hours out. The window is the
// whole day, not a rolling 24-hour span.
func (j *Job) Run24hReminders(ctx context.Context) (SweepSummary, error) {
	now := j.now().In(j.location)
	tomorrow := now.Add(24 * time.Hour)
	dayStart := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, j.location)
	dayEnd := dayStart.AddDate(0, 0, 1)

	return j.runReminderSweep(ctx, "24h_reminders", dayStart, dayEnd, reminder24hMessage)
}

// Run2hReminders sends "starting soon" messages for scheduled appointments in
// the clock hour two hours from now.
func (j *Job) Run2hReminders(ctx context.Context) (SweepSummary, error) {
	now := j.now().In(j.location)
	target := now.Add(2 * time.Hour)
	hourStart := target.Truncate(time.Hour)
	hourEnd := hourStart.Add(time.Hour)

	return j.runReminderSweep(ctx, "2h_reminders", hourStart, hourEnd, reminder2hMessage)
}

func (j *Job) runReminderSweep(ctx context.Context, name string, start, end time.Time, message func(models.Appointment) string) (SweepSummary, error) {
	summary := SweepSummary{Job: name, Timestamp: j.now()}

	appointments, err := j.st.ListAppointmentsBetween(models.AppointmentScheduled, start, end)
	if err != nil {
		return summary, fmt.Errorf("%s: failed to list appointments: %w", name, err)
	}
	summary.AppointmentsFound = len(appointments)
	slog.Info("Job.runReminderSweep: sweep started",
		"job", name, "windowStart", start, "windowEnd", end, "found", len(appointments))

	for _, appt := range appointments {
		if err := j.sendAndLog(ctx, appt, message(appt)); err != nil {
			slog.Error("Job.runReminderSweep: reminder failed",
				"job", name, "appointmentID", appt.ID, "error", err)
			summary.RemindersFailed++
			continue
		}
		summary.RemindersSent++
	}
	return summary, nil
}

// SweepNoShows marks scheduled appointments more than an hour past as
// NO_SHOW. The status change and the outgoing interaction commit together
// per appointment; the re-engagement send happens after and only affects the
// sent counter.
func (j *Job) SweepNoShows(ctx context.Context) (NoShowSummary, error) {
	summary := NoShowSummary{Job: "no_show_handler", Timestamp: j.now()}

	cutoff := j.now().Add(-time.Hour)
	appointments, err := j.st.ListAppointmentsBefore(models.AppointmentScheduled, cutoff)
	if err != nil {
		return summary, fmt.Errorf("no_show_handler: failed to list appointments: %w", err)
	}
	summary.NoShowsFound = len(appointments)
	slog.Info("Job.SweepNoShows: sweep started", "cutoff", cutoff, "found", len(appointments))

	for _, appt := range appointments {
		message := noShowMessage(appt)
		patient, processed, err := j.markNoShow(ctx, appt, message)
		if err != nil {
			slog.Error("Job.SweepNoShows: failed to process appointment",
				"appointmentID", appt.ID, "error", err)
			continue
		}
		if !processed {
			// Another sweep already claimed it.
			continue
		}
		summary.Processed++

		if err := j.messenger.SendMessage(ctx, patient.PhoneNumber, message); err != nil {
			slog.Error("Job.SweepNoShows: re-engagement send failed",
				"appointmentID", appt.ID, "patientID", appt.PatientID, "error", err)
			continue
		}
		summary.ReengagementSent++
	}
	return summary, nil
}

// markNoShow flips the appointment status and records the outgoing
// interaction in one transaction. The optimistic status re-check makes an
// overlapping sweep a no-op instead of a double-process.
func (j *Job) markNoShow(ctx context.Context, appt models.Appointment, message string) (models.Patient, bool, error) {
	var patient models.Patient
	var processed bool
	err := j.st.Transact(ctx, func(tx store.Store) error {
		changed, err := tx.UpdateAppointmentStatus(appt.ID, models.AppointmentScheduled, models.AppointmentNoShow)
		if err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}
		if !changed {
			return nil
		}
		processed = true

		p, err := tx.GetPatient(appt.PatientID)
		if err != nil {
			return fmt.Errorf("failed to load patient: %w", err)
		}
		if p == nil {
			return fmt.Errorf("patient %s not found", appt.PatientID)
		}
		patient = *p

		return tx.AddInteraction(models.Interaction{
			ID:        uuid.NewString(),
			PatientID: patient.ID,
			Direction: models.DirectionOutgoing,
			Text:      message,
			Kind:      models.MessageKindText,
			CreatedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		return models.Patient{}, false, err
	}
	return patient, processed, nil
}

// sendAndLog delivers a reminder and, only when delivery succeeds, records
// the outgoing interaction as a system message.
func (j *Job) sendAndLog(ctx context.Context, appt models.Appointment, message string) error {
	patient, err := j.st.GetPatient(appt.PatientID)
	if err != nil {
		return fmt.Errorf("failed to load patient: %w", err)
	}
	if patient == nil {
		return fmt.Errorf("patient %s not found", appt.PatientID)
	}

	if err := j.messenger.SendMessage(ctx, patient.PhoneNumber, message); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}

	return j.st.Transact(ctx, func(tx store.Store) error {
		return tx.AddInteraction(models.Interaction{
			ID:        uuid.NewString(),
			PatientID: patient.ID,
			Direction: models.DirectionOutgoing,
			Text:      message,
			Kind:      models.MessageKindText,
			CreatedAt: time.Now().UTC(),
		})
	})
}

// ComputeMetrics aggregates counts over the trailing 30-day window.
func (j *Job) ComputeMetrics(ctx context.Context) (Metrics, error) {
	since := j.now().AddDate(0, 0, -MetricsWindowDays)
	m := Metrics{Period: "last_30_days", Timestamp: j.now()}

	total, err := j.st.CountAppointmentsSince(since)
	if err != nil {
		return m, fmt.Errorf("metrics: failed to count appointments: %w", err)
	}
	noShows, err := j.st.CountAppointmentsByStatusSince(models.AppointmentNoShow, since)
	if err != nil {
		return m, fmt.Errorf("metrics: failed to count no-shows: %w", err)
	}
	completed, err := j.st.CountAppointmentsByStatusSince(models.AppointmentCompleted, since)
	if err != nil {
		return m, fmt.Errorf("metrics: failed to count completed: %w", err)
	}
	notifications, err := j.st.CountSystemNotifications(since)
	if err != nil {
		return m, fmt.Errorf("metrics: failed to count notifications: %w", err)
	}

	m.TotalAppointments = total
	m.NoShows = noShows
	m.Completed = completed
	m.ReminderMessagesSent = notifications
	if total > 0 {
		m.NoShowRate = round2(float64(noShows) / float64(total) * 100)
		m.CompletionRate = round2(float64(completed) / float64(total) * 100)
	}
	return m, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func formatAppointmentTime(appt models.Appointment) string {
	return appt.ScheduledAt.Format("02/01/2006 às 15:04")
}

func reminder24hMessage(appt models.Appointment) string {
	return fmt.Sprintf("🔔 Lembrete de Consulta\n\n"+
		"Olá! Você tem uma consulta agendada para:\n"+
		"📅 %s\n\n"+
		"Por favor, confirme sua presença respondendo 'sim' ou 'não'.\n"+
		"Se precisar remarcar, é só me avisar!", formatAppointmentTime(appt))
}

func reminder2hMessage(appt models.Appointment) string {
	return fmt.Sprintf("⏰ Consulta em 2 horas!\n\n"+
		"Sua consulta está marcada para:\n"+
		"📅 %s\n\n"+
		"Nos vemos em breve! 🏥", formatAppointmentTime(appt))
}

func noShowMessage(appt models.Appointment) string {
	return fmt.Sprintf("😔 Perdemos você na consulta de %s\n\n"+
		"Esperamos que esteja tudo bem! Se precisar reagendar ou "+
		"tiver alguma emergência, estamos aqui para ajudar.\n\n"+
		"Para reagendar, responda 'reagendar' ou entre em contato conosco.", formatAppointmentTime(appt))
}
