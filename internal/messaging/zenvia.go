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

// DefaultZenviaBaseURL is the Zenvia WhatsApp channel endpoint.
const DefaultZenviaBaseURL = "https://api.zenvia.com/v2/channels/whatsapp/messages"

// ZenviaService sends messages through the Zenvia WhatsApp API.
type ZenviaService struct {
	client     *http.Client
	baseURL    string
	apiToken   string
	fromNumber string
}

// NewZenviaService creates a Zenvia messaging service from the factory
// options, falling back to ZENVIA_API_TOKEN and ZENVIA_FROM_NUMBER.
func NewZenviaService(o Opts) (*ZenviaService, error) {
	apiToken := o.ZenviaAPIToken
	if apiToken == "" {
		apiToken = os.Getenv("ZENVIA_API_TOKEN")
	}
	fromNumber := o.ZenviaFromNumber
	if fromNumber == "" {
		fromNumber = os.Getenv("ZENVIA_FROM_NUMBER")
	}
	if apiToken == "" || fromNumber == "" {
		return nil, fmt.Errorf("NewZenviaService: API token and from number must be provided")
	}
	return &ZenviaService{
		client:     &http.Client{Timeout: 30 * time.Second},
		baseURL:    DefaultZenviaBaseURL,
		apiToken:   apiToken,
		fromNumber: fromNumber,
	}, nil
}

func (s *ZenviaService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// SendMessage posts a text message to the Zenvia channel API. Zenvia wants
// bare digits without the E.164 plus.
func (s *ZenviaService) SendMessage(ctx context.Context, to string, body string) error {
	payload := map[string]any{
		"from": s.fromNumber,
		"to":   strings.TrimPrefix(to, "+"),
		"contents": []map[string]string{
			{"type": "text", "text": body},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ZenviaService.SendMessage: failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("ZenviaService.SendMessage: failed to build request: %w", err)
	}
	req.Header.Set("X-API-TOKEN", s.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Error("ZenviaService.SendMessage: request failed", "to", to, "error", err)
		return fmt.Errorf("ZenviaService.SendMessage: %w: %w", models.ErrMessagingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("ZenviaService.SendMessage: API error", "to", to, "status", resp.StatusCode, "body", string(respBody))
		return fmt.Errorf("ZenviaService.SendMessage: API returned status %d: %w", resp.StatusCode, models.ErrMessagingUnavailable)
	}

	slog.Debug("ZenviaService.SendMessage: message sent", "to", to)
	return nil
}

func (s *ZenviaService) Channel() models.Channel {
	return models.ChannelZenvia
}
