// Package flow implements the conversation orchestration core: the
// per-patient state machine that interprets inbound WhatsApp messages,
// maintains durable conversation context, and drives message sends and
// calendar bookings exactly once per user turn.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smartia-br/consultaflow/internal/calendar"
	"github.com/smartia-br/consultaflow/internal/intent"
	"github.com/smartia-br/consultaflow/internal/messaging"
	"github.com/smartia-br/consultaflow/internal/models"
	"github.com/smartia-br/consultaflow/internal/store"
)

// Orchestrator processes normalized inbound messages against the
// conversation state machine. Each message is handled in one transaction:
// state, context, interaction log and any booked appointment commit together
// or not at all.
type Orchestrator struct {
	st         store.Store
	messenger  messaging.Service
	booking    *BookingCoordinator
	classifier *intent.Classifier
	locks      *phoneLocks
}

// Opts holds optional configuration for the Orchestrator.
type Opts struct {
	Calendar   calendar.Service
	Classifier *intent.Classifier
	Location   *time.Location
}

// Option configures the Orchestrator.
type Option func(*Opts)

// WithCalendar wires the calendar capability used for booking. Without it,
// every booking attempt fails as unavailable.
func WithCalendar(cal calendar.Service) Option {
	return func(o *Opts) { o.Calendar = cal }
}

// WithClassifier overrides the default intent classifier.
func WithClassifier(c *intent.Classifier) Option {
	return func(o *Opts) { o.Classifier = c }
}

// WithLocation sets the clinic timezone used to interpret typed dates.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// NewOrchestrator creates the conversation orchestrator.
func NewOrchestrator(st store.Store, messenger messaging.Service, opts ...Option) *Orchestrator {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	classifier := o.Classifier
	if classifier == nil {
		classifier = intent.NewClassifier()
	}
	return &Orchestrator{
		st:         st,
		messenger:  messenger,
		booking:    NewBookingCoordinator(o.Calendar, o.Location),
		classifier: classifier,
		locks:      newPhoneLocks(),
	}
}

// affirmativeTokens are the answers accepted as a confirmation, compared
// after lowercasing and diacritic stripping.
var affirmativeTokens = map[string]bool{
	"sim":      true,
	"s":        true,
	"yes":      true,
	"confirmo": true,
	"ok":       true,
}

// ProcessMessage runs one inbound message through the state machine.
// Redelivered provider message IDs are acknowledged without advancing state;
// the returned error then wraps models.ErrDuplicateMessage.
func (o *Orchestrator) ProcessMessage(ctx context.Context, msg models.ParsedMessage) error {
	if msg.Kind == models.MessageKindStatus {
		slog.Info("Orchestrator.ProcessMessage: status event, no transition",
			"messageID", msg.ID, "status", msg.Content, "channel", msg.Channel)
		return nil
	}

	phone, err := o.messenger.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		slog.Warn("Orchestrator.ProcessMessage: invalid sender address", "from", msg.From, "error", err)
		return fmt.Errorf("ProcessMessage: invalid sender %q: %w", msg.From, err)
	}

	o.locks.Lock(phone)
	defer o.locks.Unlock(phone)

	err = o.st.Transact(ctx, func(tx store.Store) error {
		fresh, err := tx.RecordInboundMessage(msg.ID, phone)
		if err != nil {
			return fmt.Errorf("failed to record inbound message: %w", err)
		}
		if !fresh {
			return fmt.Errorf("message %s already processed: %w", msg.ID, models.ErrDuplicateMessage)
		}

		patient, err := o.getOrCreatePatient(tx, phone)
		if err != nil {
			return err
		}
		conv, err := o.getOrCreateConversation(tx, patient.ID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := tx.AddInteraction(models.Interaction{
			ID:                uuid.NewString(),
			PatientID:         patient.ID,
			ConversationID:    conv.ID,
			Direction:         models.DirectionIncoming,
			Text:              msg.Content,
			Kind:              msg.Kind,
			ProviderMessageID: msg.ID,
			CreatedAt:         now,
		}); err != nil {
			return fmt.Errorf("failed to record incoming interaction: %w", err)
		}

		t := &turn{ctx: ctx, tx: tx, o: o, patient: patient, conv: conv}
		if err := o.dispatch(t, msg); err != nil {
			return err
		}

		conv.UpdatedAt = time.Now().UTC()
		if err := tx.SaveConversation(*conv); err != nil {
			return fmt.Errorf("failed to save conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		slog.Error("Orchestrator.ProcessMessage: turn failed", "messageID", msg.ID, "phone", phone, "error", err)
		return fmt.Errorf("ProcessMessage: %w", err)
	}
	slog.Debug("Orchestrator.ProcessMessage: turn committed", "messageID", msg.ID, "phone", phone)
	return nil
}

// turn bundles the per-message processing context so state handlers can send
// messages and have them logged inside the same transaction.
type turn struct {
	ctx     context.Context
	tx      store.Store
	o       *Orchestrator
	patient models.Patient
	conv    *models.Conversation
}

// send delivers text to the patient and records the outgoing interaction. A
// delivery failure aborts the turn so state never advances past an unsent
// message.
func (t *turn) send(text string) error {
	if err := t.o.messenger.SendMessage(t.ctx, t.patient.PhoneNumber, text); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return t.tx.AddInteraction(models.Interaction{
		ID:             uuid.NewString(),
		PatientID:      t.patient.ID,
		ConversationID: t.conv.ID,
		Direction:      models.DirectionOutgoing,
		Text:           text,
		Kind:           models.MessageKindText,
		CreatedAt:      time.Now().UTC(),
	})
}

func (o *Orchestrator) dispatch(t *turn, msg models.ParsedMessage) error {
	switch t.conv.State {
	case models.StateNew:
		return o.handleNew(t, msg)
	case models.StateAwaitingDate:
		return o.handleAwaitingDate(t, msg)
	case models.StateAwaitingTime:
		return o.handleAwaitingTime(t, msg)
	case models.StateAwaitingConfirmation:
		return o.handleConfirmation(t, msg)
	default:
		// No handler for this state. Re-send the current prompt rather
		// than crash or advance.
		slog.Warn("Orchestrator.dispatch: no handler for state, re-prompting",
			"state", t.conv.State, "conversationID", t.conv.ID)
		return t.send(o.promptForState(t.conv))
	}
}

func (o *Orchestrator) handleNew(t *turn, msg models.ParsedMessage) error {
	detected := o.classifier.Classify(msg.Content)
	t.conv.Intent = detected
	slog.Info("Orchestrator.handleNew: intent classified",
		"conversationID", t.conv.ID, "intent", detected)

	switch detected {
	case models.IntentSchedule:
		t.conv.State = models.StateAwaitingDate
		return t.send(promptAskDate)
	case models.IntentReschedule:
		t.conv.State = models.StateAwaitingDate
		return t.send(promptAskDateReschedule)
	case models.IntentCancel:
		t.conv.State = models.StateDone
		return t.send(promptCancelled)
	case models.IntentInquiry:
		t.conv.State = models.StateDone
		return t.send(promptFAQ)
	default:
		t.conv.State = models.StateAwaitingDate
		return t.send(promptAskDate)
	}
}

func (o *Orchestrator) handleAwaitingDate(t *turn, msg models.ParsedMessage) error {
	date := strings.TrimSpace(msg.Content)
	t.conv.Context.SelectedDate = date
	t.conv.State = models.StateAwaitingTime
	return t.send(promptAskTime(date))
}

func (o *Orchestrator) handleAwaitingTime(t *turn, msg models.ParsedMessage) error {
	timeOfDay := strings.TrimSpace(msg.Content)
	t.conv.Context.SelectedTime = timeOfDay
	t.conv.State = models.StateAwaitingConfirmation
	return t.send(promptConfirm(t.conv.Context.SelectedDate, timeOfDay))
}

func (o *Orchestrator) handleConfirmation(t *turn, msg models.ParsedMessage) error {
	if !affirmativeTokens[intent.Normalize(msg.Content)] {
		t.conv.Context.ClearSelection()
		t.conv.State = models.StateAwaitingDate
		return t.send(promptRestart)
	}

	result, err := o.booking.Book(t.ctx, t.tx, t.conv, t.patient)
	if err != nil {
		return err
	}
	switch result.Outcome {
	case OutcomeBooked:
		t.conv.State = models.StateDone
		return t.send(promptBooked(t.conv.Context.SelectedDate, t.conv.Context.SelectedTime, result.EventID))
	default:
		// BadInput and BookingFailed both keep the conversation in
		// confirmation so the patient can try another slot.
		return t.send(promptBookingFailed)
	}
}

func (o *Orchestrator) promptForState(conv *models.Conversation) string {
	switch conv.State {
	case models.StateAwaitingDate:
		return promptAskDate
	case models.StateAwaitingTime:
		return promptAskTime(conv.Context.SelectedDate)
	case models.StateAwaitingConfirmation:
		return promptConfirm(conv.Context.SelectedDate, conv.Context.SelectedTime)
	default:
		return promptAskDate
	}
}

func (o *Orchestrator) getOrCreatePatient(tx store.Store, phone string) (models.Patient, error) {
	existing, err := tx.GetPatientByPhone(phone)
	if err != nil {
		return models.Patient{}, fmt.Errorf("failed to look up patient: %w", err)
	}
	if existing != nil {
		return *existing, nil
	}

	now := time.Now().UTC()
	patient := models.Patient{
		ID:          uuid.NewString(),
		PhoneNumber: phone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.SavePatient(patient); err != nil {
		return models.Patient{}, fmt.Errorf("failed to create patient: %w", err)
	}
	slog.Info("Orchestrator.getOrCreatePatient: new patient registered", "patientID", patient.ID)
	return patient, nil
}

func (o *Orchestrator) getOrCreateConversation(tx store.Store, patientID string) (*models.Conversation, error) {
	existing, err := tx.GetActiveConversation(patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up active conversation: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		PatientID: patientID,
		State:     models.StateNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.SaveConversation(*conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	slog.Debug("Orchestrator.getOrCreateConversation: new conversation started",
		"conversationID", conv.ID, "patientID", patientID)
	return conv, nil
}

