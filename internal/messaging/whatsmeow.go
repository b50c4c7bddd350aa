package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/smartia-br/consultaflow/internal/models"
)

// WhatsmeowSender is the subset of the whatsmeow client the messaging layer
// needs. The concrete client lives in internal/whatsapp.
type WhatsmeowSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// WhatsmeowService sends messages through a self-hosted WhatsApp device.
type WhatsmeowService struct {
	sender WhatsmeowSender
}

// NewWhatsmeowService wraps an already-connected whatsmeow client.
func NewWhatsmeowService(o Opts) (*WhatsmeowService, error) {
	if o.WhatsmeowSender == nil {
		return nil, fmt.Errorf("NewWhatsmeowService: a connected whatsmeow client must be provided")
	}
	return &WhatsmeowService{sender: o.WhatsmeowSender}, nil
}

func (s *WhatsmeowService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

func (s *WhatsmeowService) SendMessage(ctx context.Context, to string, body string) error {
	if err := s.sender.SendMessage(ctx, to, body); err != nil {
		slog.Error("WhatsmeowService.SendMessage: failed to send message", "to", to, "error", err)
		return fmt.Errorf("WhatsmeowService.SendMessage: %w: %w", models.ErrMessagingUnavailable, err)
	}
	slog.Debug("WhatsmeowService.SendMessage: message sent", "to", to)
	return nil
}

func (s *WhatsmeowService) Channel() models.Channel {
	return models.ChannelWhatsmeow
}
