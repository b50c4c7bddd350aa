package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smartia-br/consultaflow/internal/messaging"
	"github.com/smartia-br/consultaflow/internal/models"
	"github.com/smartia-br/consultaflow/internal/store"
)

var fixedNow = time.Date(2024, 12, 10, 10, 0, 0, 0, time.UTC)

func newTestJob(t *testing.T) (*Job, *store.InMemoryStore, *messaging.MockService) {
	t.Helper()
	st := store.NewInMemoryStore()
	msgs := messaging.NewMockService()
	j := NewJob(st, msgs,
		WithLocation(time.UTC),
		WithNow(func() time.Time { return fixedNow }))
	return j, st, msgs
}

func seedPatient(t *testing.T, st *store.InMemoryStore, id, phone string) {
	t.Helper()
	if err := st.SavePatient(models.Patient{ID: id, PhoneNumber: phone, CreatedAt: fixedNow, UpdatedAt: fixedNow}); err != nil {
		t.Fatalf("failed to seed patient: %v", err)
	}
}

func seedAppointment(t *testing.T, st *store.InMemoryStore, id, patientID string, at time.Time, status models.AppointmentStatus) {
	t.Helper()
	err := st.SaveAppointment(models.Appointment{
		ID: id, PatientID: patientID, CalendarEventID: "evt-" + id, Title: "Consulta",
		ScheduledAt: at, DurationMinutes: 60, Status: status,
		CreatedAt: fixedNow, UpdatedAt: fixedNow,
	})
	if err != nil {
		t.Fatalf("failed to seed appointment: %v", err)
	}
}

func systemInteractions(st *store.InMemoryStore) []models.Interaction {
	var out []models.Interaction
	for _, i := range st.Interactions() {
		if i.ConversationID == "" && i.Direction == models.DirectionOutgoing {
			out = append(out, i)
		}
	}
	return out
}

func TestRun24hRemindersDayBucket(t *testing.T) {
	j, st, msgs := newTestJob(t)
	seedPatient(t, st, "p1", "+5511999990001")
	seedPatient(t, st, "p2", "+5511999990002")
	seedPatient(t, st, "p3", "+5511999990003")

	// Whole calendar day 24h out, edge to edge.
	seedAppointment(t, st, "a1", "p1", time.Date(2024, 12, 11, 0, 30, 0, 0, time.UTC), models.AppointmentScheduled)
	seedAppointment(t, st, "a2", "p2", time.Date(2024, 12, 11, 23, 0, 0, 0, time.UTC), models.AppointmentScheduled)
	// Outside the bucket: day after tomorrow and already-cancelled.
	seedAppointment(t, st, "a3", "p3", time.Date(2024, 12, 12, 10, 0, 0, 0, time.UTC), models.AppointmentScheduled)
	seedAppointment(t, st, "a4", "p1", time.Date(2024, 12, 11, 15, 0, 0, 0, time.UTC), models.AppointmentCancelled)

	summary, err := j.Run24hReminders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.AppointmentsFound != 2 || summary.RemindersSent != 2 || summary.RemindersFailed != 0 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if got := len(msgs.Sent()); got != 2 {
		t.Errorf("expected 2 sends, got %d", got)
	}
	if got := len(systemInteractions(st)); got != 2 {
		t.Errorf("expected 2 system interactions, got %d", got)
	}
}

func TestRun24hRemindersSendFailureDoesNotAbortSweep(t *testing.T) {
	j, st, msgs := newTestJob(t)
	seedPatient(t, st, "p1", "+5511999990001")
	seedAppointment(t, st, "a1", "p1", time.Date(2024, 12, 11, 9, 0, 0, 0, time.UTC), models.AppointmentScheduled)
	seedAppointment(t, st, "a2", "p1", time.Date(2024, 12, 11, 11, 0, 0, 0, time.UTC), models.AppointmentScheduled)

	msgs.SetSendError(errors.New("channel down"))
	summary, err := j.Run24hReminders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.AppointmentsFound != 2 || summary.RemindersSent != 0 || summary.RemindersFailed != 2 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	// Failed sends do not log interactions.
	if got := len(systemInteractions(st)); got != 0 {
		t.Errorf("expected no system interactions, got %d", got)
	}
}

func TestRun2hRemindersHourBucket(t *testing.T) {
	j, st, msgs := newTestJob(t)
	seedPatient(t, st, "p1", "+5511999990001")

	// Now is 10:00; the 2h bucket is the 12:00 clock hour.
	seedAppointment(t, st, "a1", "p1", time.Date(2024, 12, 10, 12, 15, 0, 0, time.UTC), models.AppointmentScheduled)
	seedAppointment(t, st, "a2", "p1", time.Date(2024, 12, 10, 13, 15, 0, 0, time.UTC), models.AppointmentScheduled)
	seedAppointment(t, st, "a3", "p1", time.Date(2024, 12, 10, 11, 45, 0, 0, time.UTC), models.AppointmentScheduled)

	summary, err := j.Run2hReminders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.AppointmentsFound != 1 || summary.RemindersSent != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if last := msgs.LastSent(); last == nil || last.To != "+5511999990001" {
		t.Errorf("unexpected delivery: %+v", last)
	}
}

func TestSweepNoShows(t *testing.T) {
	j, st, msgs := newTestJob(t)
	seedPatient(t, st, "p1", "+5511999990001")
	seedPatient(t, st, "p2", "+5511999990002")

	// Two hours past, eligible. One 30 minutes past, inside grace.
	seedAppointment(t, st, "a1", "p1", fixedNow.Add(-2*time.Hour), models.AppointmentScheduled)
	seedAppointment(t, st, "a2", "p2", fixedNow.Add(-30*time.Minute), models.AppointmentScheduled)

	summary, err := j.SweepNoShows(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.NoShowsFound != 1 || summary.Processed != 1 || summary.ReengagementSent != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if got := len(msgs.Sent()); got != 1 {
		t.Errorf("expected 1 re-engagement send, got %d", got)
	}

	for _, appt := range st.Appointments() {
		switch appt.ID {
		case "a1":
			if appt.Status != models.AppointmentNoShow {
				t.Errorf("a1 status %q, want no_show", appt.Status)
			}
		case "a2":
			if appt.Status != models.AppointmentScheduled {
				t.Errorf("a2 status %q, want scheduled", appt.Status)
			}
		}
	}
}

func TestSweepNoShowsStatusChangeUnconditionalOnSendFailure(t *testing.T) {
	j, st, msgs := newTestJob(t)
	seedPatient(t, st, "p1", "+5511999990001")
	seedAppointment(t, st, "a1", "p1", fixedNow.Add(-2*time.Hour), models.AppointmentScheduled)

	msgs.SetSendError(errors.New("channel down"))
	summary, err := j.SweepNoShows(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Processed != 1 || summary.ReengagementSent != 0 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	appts := st.Appointments()
	if len(appts) != 1 || appts[0].Status != models.AppointmentNoShow {
		t.Errorf("status change must not depend on send success: %+v", appts)
	}
	// Exactly one outgoing system interaction regardless of the failed send.
	if got := len(systemInteractions(st)); got != 1 {
		t.Errorf("expected 1 system interaction, got %d", got)
	}
}

func TestSweepNoShowsIdempotent(t *testing.T) {
	j, st, _ := newTestJob(t)
	seedPatient(t, st, "p1", "+5511999990001")
	seedAppointment(t, st, "a1", "p1", fixedNow.Add(-2*time.Hour), models.AppointmentScheduled)

	if _, err := j.SweepNoShows(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := j.SweepNoShows(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Processed != 0 {
		t.Errorf("second sweep should find nothing to process, got %+v", second)
	}
	if got := len(systemInteractions(st)); got != 1 {
		t.Errorf("expected 1 system interaction after double sweep, got %d", got)
	}
}

func TestMetricsZeroData(t *testing.T) {
	j, _, _ := newTestJob(t)

	m, err := j.ComputeMetrics(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.TotalAppointments != 0 || m.NoShowRate != 0 || m.CompletionRate != 0 {
		t.Errorf("expected zeroed metrics, got %+v", m)
	}
	if m.Period != "last_30_days" {
		t.Errorf("unexpected period %q", m.Period)
	}
}

func TestMetricsRates(t *testing.T) {
	j, st, _ := newTestJob(t)
	seedPatient(t, st, "p1", "+5511999990001")

	within := fixedNow.Add(-10 * 24 * time.Hour)
	seedAppointment(t, st, "a1", "p1", within, models.AppointmentNoShow)
	seedAppointment(t, st, "a2", "p1", within, models.AppointmentCompleted)
	seedAppointment(t, st, "a3", "p1", within, models.AppointmentCompleted)
	seedAppointment(t, st, "a4", "p1", within, models.AppointmentScheduled)
	// Outside the 30-day window.
	seedAppointment(t, st, "a5", "p1", fixedNow.Add(-45*24*time.Hour), models.AppointmentNoShow)

	m, err := j.ComputeMetrics(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.TotalAppointments != 4 {
		t.Errorf("total %d, want 4", m.TotalAppointments)
	}
	if m.NoShows != 1 || m.Completed != 2 {
		t.Errorf("unexpected counts: %+v", m)
	}
	if m.NoShowRate != 25 {
		t.Errorf("no-show rate %v, want 25", m.NoShowRate)
	}
	if m.CompletionRate != 50 {
		t.Errorf("completion rate %v, want 50", m.CompletionRate)
	}
}
