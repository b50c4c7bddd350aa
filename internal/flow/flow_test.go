package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/smartia-br/consultaflow/internal/calendar"
	"github.com/smartia-br/consultaflow/internal/messaging"
	"github.com/smartia-br/consultaflow/internal/models"
	"github.com/smartia-br/consultaflow/internal/store"
)

const testPhone = "+5511999990000"

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.InMemoryStore, *messaging.MockService, *calendar.MockService) {
	t.Helper()
	st := store.NewInMemoryStore()
	msgs := messaging.NewMockService()
	cal := calendar.NewMockService()
	o := NewOrchestrator(st, msgs, WithCalendar(cal), WithLocation(time.UTC))
	return o, st, msgs, cal
}

var msgSeq int

func sendText(t *testing.T, o *Orchestrator, text string) error {
	t.Helper()
	msgSeq++
	return o.ProcessMessage(context.Background(), models.ParsedMessage{
		ID:      fmt.Sprintf("wamid.%d", msgSeq),
		From:    testPhone,
		Kind:    models.MessageKindText,
		Content: text,
		Channel: models.ChannelMeta,
	})
}

func activeConversation(t *testing.T, st *store.InMemoryStore) *models.Conversation {
	t.Helper()
	p, err := st.GetPatientByPhone(testPhone)
	if err != nil || p == nil {
		t.Fatalf("patient lookup failed: patient=%v err=%v", p, err)
	}
	conv, err := st.GetActiveConversation(p.ID)
	if err != nil {
		t.Fatalf("conversation lookup failed: %v", err)
	}
	return conv
}

func TestFullBookingRoundTrip(t *testing.T) {
	o, st, msgs, cal := newTestOrchestrator(t)

	for _, text := range []string{"quero agendar", "15/12/2024", "14:30", "sim"} {
		if err := sendText(t, o, text); err != nil {
			t.Fatalf("processing %q failed: %v", text, err)
		}
	}

	// Conversation terminal, so no active one remains.
	if conv := activeConversation(t, st); conv != nil {
		t.Errorf("expected no active conversation after booking, got state %s", conv.State)
	}

	appts := st.Appointments()
	if len(appts) != 1 {
		t.Fatalf("expected exactly 1 appointment, got %d", len(appts))
	}
	appt := appts[0]
	want := time.Date(2024, 12, 15, 14, 30, 0, 0, time.UTC)
	if !appt.ScheduledAt.Equal(want) {
		t.Errorf("appointment scheduled at %v, want %v", appt.ScheduledAt, want)
	}
	if appt.Status != models.AppointmentScheduled {
		t.Errorf("appointment status %q, want scheduled", appt.Status)
	}
	if appt.DurationMinutes != 60 {
		t.Errorf("appointment duration %d, want 60", appt.DurationMinutes)
	}
	if len(cal.Booked()) != 1 {
		t.Errorf("expected 1 calendar event, got %d", len(cal.Booked()))
	}

	last := msgs.LastSent()
	if last == nil || !strings.Contains(last.Body, "Agendamento confirmado") {
		t.Errorf("expected booking confirmation message, got %+v", last)
	}
}

func TestNegativeConfirmationRestartsFlow(t *testing.T) {
	o, st, msgs, _ := newTestOrchestrator(t)

	for _, text := range []string{"quero agendar", "15/12/2024", "14:30"} {
		if err := sendText(t, o, text); err != nil {
			t.Fatalf("processing %q failed: %v", text, err)
		}
	}
	if err := sendText(t, o, "não"); err != nil {
		t.Fatalf("processing rejection failed: %v", err)
	}

	conv := activeConversation(t, st)
	if conv == nil {
		t.Fatal("expected conversation to stay open")
	}
	if conv.State != models.StateAwaitingDate {
		t.Errorf("state %s, want AWAITING_DATE", conv.State)
	}
	if conv.Context.SelectedDate != "" || conv.Context.SelectedTime != "" {
		t.Errorf("expected cleared selection, got %+v", conv.Context)
	}
	if last := msgs.LastSent(); last == nil || !strings.Contains(last.Body, "começar novamente") {
		t.Errorf("expected restart prompt, got %+v", last)
	}
}

func TestMalformedDateNeverCallsCalendar(t *testing.T) {
	o, st, msgs, cal := newTestOrchestrator(t)

	for _, text := range []string{"quero agendar", "32/13/2024", "14:30", "sim"} {
		if err := sendText(t, o, text); err != nil {
			t.Fatalf("processing %q failed: %v", text, err)
		}
	}

	if got := len(cal.Booked()); got != 0 {
		t.Errorf("calendar should never be called for a malformed date, got %d events", got)
	}
	if got := len(st.Appointments()); got != 0 {
		t.Errorf("expected no appointment rows, got %d", got)
	}
	conv := activeConversation(t, st)
	if conv == nil || conv.State != models.StateAwaitingConfirmation {
		t.Errorf("expected conversation to stay in AWAITING_CONFIRMATION, got %+v", conv)
	}
	if last := msgs.LastSent(); last == nil || !strings.Contains(last.Body, "não foi possível confirmar") {
		t.Errorf("expected retry prompt, got %+v", last)
	}
}

func TestBookingFailureStaysInConfirmation(t *testing.T) {
	o, st, _, cal := newTestOrchestrator(t)
	cal.SetBookError(errors.New("slot taken"))

	for _, text := range []string{"quero agendar", "15/12/2024", "14:30", "sim"} {
		if err := sendText(t, o, text); err != nil {
			t.Fatalf("processing %q failed: %v", text, err)
		}
	}

	conv := activeConversation(t, st)
	if conv == nil || conv.State != models.StateAwaitingConfirmation {
		t.Errorf("expected AWAITING_CONFIRMATION after booking failure, got %+v", conv)
	}

	// A retry with a working calendar completes the booking.
	cal.SetBookError(nil)
	if err := sendText(t, o, "sim"); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if got := len(st.Appointments()); got != 1 {
		t.Errorf("expected 1 appointment after retry, got %d", got)
	}
}

func TestCancelIntentEndsConversation(t *testing.T) {
	o, st, msgs, _ := newTestOrchestrator(t)

	if err := sendText(t, o, "quero cancelar a consulta"); err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	if conv := activeConversation(t, st); conv != nil {
		t.Errorf("expected terminal conversation, got state %s", conv.State)
	}
	if last := msgs.LastSent(); last == nil || !strings.Contains(last.Body, "cancelada") {
		t.Errorf("expected cancellation acknowledgment, got %+v", last)
	}
}

func TestInquiryIntentSendsFAQ(t *testing.T) {
	o, st, msgs, _ := newTestOrchestrator(t)

	if err := sendText(t, o, "tenho uma dúvida"); err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	if conv := activeConversation(t, st); conv != nil {
		t.Errorf("expected terminal conversation, got state %s", conv.State)
	}
	if last := msgs.LastSent(); last == nil || !strings.Contains(last.Body, "Horários de funcionamento") {
		t.Errorf("expected FAQ menu, got %+v", last)
	}
}

func TestDuplicateMessageDoesNotAdvanceState(t *testing.T) {
	o, st, _, _ := newTestOrchestrator(t)

	msg := models.ParsedMessage{
		ID:      "wamid.dup",
		From:    testPhone,
		Kind:    models.MessageKindText,
		Content: "quero agendar",
		Channel: models.ChannelMeta,
	}
	if err := o.ProcessMessage(context.Background(), msg); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	err := o.ProcessMessage(context.Background(), msg)
	if !errors.Is(err, models.ErrDuplicateMessage) {
		t.Errorf("expected ErrDuplicateMessage on redelivery, got %v", err)
	}

	conv := activeConversation(t, st)
	if conv == nil || conv.State != models.StateAwaitingDate {
		t.Errorf("redelivery must not advance state, got %+v", conv)
	}
	incoming := 0
	for _, i := range st.Interactions() {
		if i.Direction == models.DirectionIncoming {
			incoming++
		}
	}
	if incoming != 1 {
		t.Errorf("expected 1 incoming interaction, got %d", incoming)
	}
}

func TestSendFailureRollsBackTurn(t *testing.T) {
	o, st, msgs, _ := newTestOrchestrator(t)
	msgs.SetSendError(errors.New("channel down"))

	if err := sendText(t, o, "quero agendar"); err == nil {
		t.Fatal("expected error when send fails")
	}

	// Nothing from the failed turn may persist.
	p, err := st.GetPatientByPhone(testPhone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Error("patient creation should have rolled back with the failed turn")
	}
	if got := len(st.Interactions()); got != 0 {
		t.Errorf("expected no interactions after rollback, got %d", got)
	}

	// The channel recovers and the redelivered message processes cleanly.
	msgs.SetSendError(nil)
	if err := sendText(t, o, "quero agendar"); err != nil {
		t.Fatalf("recovery delivery failed: %v", err)
	}
	if conv := activeConversation(t, st); conv == nil || conv.State != models.StateAwaitingDate {
		t.Errorf("expected AWAITING_DATE after recovery, got %+v", conv)
	}
}

func TestStatusEventIsIgnored(t *testing.T) {
	o, st, msgs, _ := newTestOrchestrator(t)

	err := o.ProcessMessage(context.Background(), models.ParsedMessage{
		ID:      "wamid.status",
		From:    testPhone,
		Kind:    models.MessageKindStatus,
		Content: "delivered",
		Channel: models.ChannelMeta,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, _ := st.GetPatientByPhone(testPhone)
	if p != nil {
		t.Error("status events must not create patients")
	}
	if got := len(msgs.Sent()); got != 0 {
		t.Errorf("status events must not trigger sends, got %d", got)
	}
}

func TestAtMostOneActiveConversation(t *testing.T) {
	o, st, _, _ := newTestOrchestrator(t)

	// Finish one dialogue, then start another.
	if err := sendText(t, o, "quero cancelar"); err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	for _, text := range []string{"quero agendar", "20/01/2025"} {
		if err := sendText(t, o, text); err != nil {
			t.Fatalf("processing %q failed: %v", text, err)
		}
	}

	conv := activeConversation(t, st)
	if conv == nil {
		t.Fatal("expected an active conversation")
	}
	if conv.State != models.StateAwaitingTime {
		t.Errorf("state %s, want AWAITING_TIME", conv.State)
	}
	if conv.Context.SelectedDate != "20/01/2025" {
		t.Errorf("selected date %q, want 20/01/2025", conv.Context.SelectedDate)
	}
}

func TestGreetingDefaultsToScheduleFlow(t *testing.T) {
	o, st, msgs, _ := newTestOrchestrator(t)

	if err := sendText(t, o, "bom dia"); err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	conv := activeConversation(t, st)
	if conv == nil || conv.State != models.StateAwaitingDate {
		t.Errorf("expected AWAITING_DATE for default intent, got %+v", conv)
	}
	if conv != nil && conv.Intent != models.IntentSchedule {
		t.Errorf("intent %q, want schedule", conv.Intent)
	}
	if last := msgs.LastSent(); last == nil || !strings.Contains(last.Body, "Qual data") {
		t.Errorf("expected date prompt, got %+v", last)
	}
}
