// Package messaging provides WhatsApp message delivery across the supported
// providers. Each provider implements the same Service interface; the factory
// selects one from configuration so the rest of the application never knows
// which provider is wired in.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/smartia-br/consultaflow/internal/models"
)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient identifier. Returns the canonicalized recipient and an
	// error if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Channel identifies the provider behind this service.
	Channel() models.Channel
}

// Opts holds configuration for the messaging service factory. Fields left
// empty fall back to the corresponding environment variables.
type Opts struct {
	Channel models.Channel

	MetaAccessToken   string
	MetaPhoneNumberID string
	MetaBaseURL       string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	ZenviaAPIToken   string
	ZenviaFromNumber string

	// WhatsmeowSender is the connected whatsmeow client, injected by the
	// caller since device setup happens at startup.
	WhatsmeowSender WhatsmeowSender
}

// Option defines a configuration option for the messaging service factory.
type Option func(*Opts)

// WithChannel selects the provider to build.
func WithChannel(ch models.Channel) Option {
	return func(o *Opts) { o.Channel = ch }
}

// WithMetaCredentials sets the Meta Cloud API access token and phone number ID.
func WithMetaCredentials(token, phoneNumberID string) Option {
	return func(o *Opts) {
		o.MetaAccessToken = token
		o.MetaPhoneNumberID = phoneNumberID
	}
}

// WithTwilioCredentials sets the Twilio account SID, auth token and sender number.
func WithTwilioCredentials(accountSID, authToken, fromNumber string) Option {
	return func(o *Opts) {
		o.TwilioAccountSID = accountSID
		o.TwilioAuthToken = authToken
		o.TwilioFromNumber = fromNumber
	}
}

// WithZenviaCredentials sets the Zenvia API token and sender identifier.
func WithZenviaCredentials(apiToken, fromNumber string) Option {
	return func(o *Opts) {
		o.ZenviaAPIToken = apiToken
		o.ZenviaFromNumber = fromNumber
	}
}

// WithWhatsmeowSender injects a connected whatsmeow client.
func WithWhatsmeowSender(s WhatsmeowSender) Option {
	return func(o *Opts) { o.WhatsmeowSender = s }
}

// New builds the messaging service for the configured channel. The channel
// defaults to the WHATSAPP_CHANNEL environment variable, then to Meta.
func New(opts ...Option) (Service, error) {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	if o.Channel == "" {
		o.Channel = models.Channel(strings.ToLower(os.Getenv("WHATSAPP_CHANNEL")))
	}
	if o.Channel == "" {
		o.Channel = models.ChannelMeta
	}

	slog.Info("messaging.New: building provider", "channel", o.Channel)
	switch o.Channel {
	case models.ChannelMeta:
		return NewMetaService(o)
	case models.ChannelTwilio:
		return NewTwilioService(o)
	case models.ChannelZenvia:
		return NewZenviaService(o)
	case models.ChannelWhatsmeow:
		return NewWhatsmeowService(o)
	default:
		return nil, fmt.Errorf("messaging.New: unsupported channel %q: %w", o.Channel, models.ErrUnknownChannel)
	}
}

var phonePattern = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// canonicalizePhone normalizes a phone number to E.164. Separators and the
// whatsapp: prefix are stripped; a bare international number gains its plus.
func canonicalizePhone(recipient string) (string, error) {
	s := strings.TrimSpace(recipient)
	s = strings.TrimPrefix(s, "whatsapp:")
	s = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(s)
	if s != "" && !strings.HasPrefix(s, "+") {
		s = "+" + s
	}
	if !phonePattern.MatchString(s) {
		return "", fmt.Errorf("invalid phone number %q", recipient)
	}
	return s, nil
}

// SentMessage records one delivery made through a MockService.
type SentMessage struct {
	To   string
	Body string
}

// MockService implements Service in memory for tests. Use SetSendError to
// make subsequent sends fail.
type MockService struct {
	mu      sync.Mutex
	sent    []SentMessage
	sendErr error
}

// NewMockService creates an in-memory messaging service for tests.
func NewMockService() *MockService {
	return &MockService{}
}

func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

func (m *MockService) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockService) Channel() models.Channel {
	return models.ChannelMeta
}

// SetSendError makes every subsequent SendMessage call return err. Pass nil
// to restore normal delivery.
func (m *MockService) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// Sent returns a copy of all messages delivered so far.
func (m *MockService) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// LastSent returns the most recent delivery, or nil when nothing was sent.
func (m *MockService) LastSent() *SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	last := m.sent[len(m.sent)-1]
	return &last
}
