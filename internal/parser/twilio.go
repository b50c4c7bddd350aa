package parser

import (
	"fmt"
	"net/url"

	"github.com/smartia-br/consultaflow/internal/models"
)

// TwilioParser parses Twilio WhatsApp webhook payloads. Twilio posts
// form-encoded bodies with one message (or status callback) per request.
type TwilioParser struct{}

// NewTwilioParser creates a parser for Twilio's form-encoded webhook format.
func NewTwilioParser() *TwilioParser {
	return &TwilioParser{}
}

// Parse extracts the single message carried by a Twilio webhook request.
// Status callbacks (MessageStatus without a body) are surfaced as status
// records so the caller can log them without touching conversation state.
func (p *TwilioParser) Parse(body []byte) ([]models.ParsedMessage, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("TwilioParser.Parse: failed to decode form payload: %w", err)
	}

	sid := values.Get("MessageSid")
	if sid == "" {
		sid = values.Get("SmsSid")
	}
	if sid == "" {
		return nil, nil
	}

	from := normalizePhone(values.Get("From"))
	text := values.Get("Body")

	if status := values.Get("MessageStatus"); status != "" && text == "" {
		return []models.ParsedMessage{{
			ID:      sid,
			From:    normalizePhone(values.Get("To")),
			Kind:    models.MessageKindStatus,
			Content: status,
			Channel: models.ChannelTwilio,
		}}, nil
	}

	parsed := models.ParsedMessage{
		ID:      sid,
		From:    from,
		Kind:    models.MessageKindText,
		Content: text,
		Channel: models.ChannelTwilio,
	}
	if payload := values.Get("ButtonPayload"); payload != "" {
		parsed.Kind = models.MessageKindButton
		parsed.ButtonPayload = payload
		if btnText := values.Get("ButtonText"); btnText != "" {
			parsed.Content = btnText
		}
	}
	return []models.ParsedMessage{parsed}, nil
}
