package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/smartia-br/consultaflow/internal/models"
)

// DefaultMetaBaseURL is the Meta Graph API endpoint used for the WhatsApp
// Cloud API.
const DefaultMetaBaseURL = "https://graph.facebook.com/v18.0"

// MetaService sends messages through the Meta WhatsApp Cloud API.
type MetaService struct {
	client        *http.Client
	baseURL       string
	accessToken   string
	phoneNumberID string
}

// NewMetaService creates a Cloud API messaging service from the factory
// options, falling back to WHATSAPP_ACCESS_TOKEN and WHATSAPP_PHONE_NUMBER_ID.
func NewMetaService(o Opts) (*MetaService, error) {
	token := o.MetaAccessToken
	if token == "" {
		token = os.Getenv("WHATSAPP_ACCESS_TOKEN")
	}
	phoneNumberID := o.MetaPhoneNumberID
	if phoneNumberID == "" {
		phoneNumberID = os.Getenv("WHATSAPP_PHONE_NUMBER_ID")
	}
	if token == "" || phoneNumberID == "" {
		return nil, fmt.Errorf("NewMetaService: access token and phone number ID must be provided")
	}
	baseURL := o.MetaBaseURL
	if baseURL == "" {
		baseURL = DefaultMetaBaseURL
	}
	return &MetaService{
		client:        &http.Client{Timeout: 30 * time.Second},
		baseURL:       strings.TrimRight(baseURL, "/"),
		accessToken:   token,
		phoneNumberID: phoneNumberID,
	}, nil
}

func (s *MetaService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// SendMessage posts a text message to the Cloud API. The recipient must be
// an E.164 number; the Cloud API wants it without the leading plus.
func (s *MetaService) SendMessage(ctx context.Context, to string, body string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                strings.TrimPrefix(to, "+"),
		"type":              "text",
		"text":              map[string]string{"body": body},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("MetaService.SendMessage: failed to encode payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", s.baseURL, s.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("MetaService.SendMessage: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Error("MetaService.SendMessage: request failed", "to", to, "error", err)
		return fmt.Errorf("MetaService.SendMessage: %w: %w", models.ErrMessagingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("MetaService.SendMessage: API error", "to", to, "status", resp.StatusCode, "body", string(respBody))
		return fmt.Errorf("MetaService.SendMessage: API returned status %d: %w", resp.StatusCode, models.ErrMessagingUnavailable)
	}

	slog.Debug("MetaService.SendMessage: message sent", "to", to)
	return nil
}

func (s *MetaService) Channel() models.Channel {
	return models.ChannelMeta
}
