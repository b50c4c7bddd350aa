package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/smartia-br/consultaflow/internal/models"
)

// TwilioService sends messages through the Twilio WhatsApp API.
type TwilioService struct {
	client     *twilio.RestClient
	fromNumber string
}

// NewTwilioService creates a Twilio messaging service from the factory
// options, falling back to TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and
// TWILIO_FROM_NUMBER.
func NewTwilioService(o Opts) (*TwilioService, error) {
	accountSID := o.TwilioAccountSID
	if accountSID == "" {
		accountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	authToken := o.TwilioAuthToken
	if authToken == "" {
		authToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	fromNumber := o.TwilioFromNumber
	if fromNumber == "" {
		fromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if accountSID == "" || authToken == "" {
		return nil, fmt.Errorf("NewTwilioService: account SID and auth token must be provided")
	}
	if fromNumber == "" {
		return nil, fmt.Errorf("NewTwilioService: from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioService{client: client, fromNumber: fromNumber}, nil
}

func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// SendMessage sends a WhatsApp message using the Twilio API.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:" + to)
	params.SetFrom("whatsapp:" + s.fromNumber)
	params.SetBody(body)

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		slog.Error("TwilioService.SendMessage: failed to send message", "to", to, "error", err)
		return fmt.Errorf("TwilioService.SendMessage: %w: %w", models.ErrMessagingUnavailable, err)
	}
	slog.Debug("TwilioService.SendMessage: message sent", "to", to)
	return nil
}

func (s *TwilioService) Channel() models.Channel {
	return models.ChannelTwilio
}
