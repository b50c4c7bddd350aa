package parser

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/smartia-br/consultaflow/internal/models"
)

// ZenviaParser parses Zenvia WhatsApp webhook payloads. Zenvia delivers one
// event per request, either an inbound message or a message status update.
type ZenviaParser struct{}

// NewZenviaParser creates a parser for Zenvia's webhook format.
func NewZenviaParser() *ZenviaParser {
	return &ZenviaParser{}
}

type zenviaWebhook struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Message   *struct {
		ID        string `json:"id"`
		From      string `json:"from"`
		To        string `json:"to"`
		Direction string `json:"direction"`
		Contents  []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"contents"`
	} `json:"message"`
	MessageStatus *struct {
		Code string `json:"code"`
	} `json:"messageStatus"`
}

// Parse extracts the message or status update carried by a Zenvia webhook
// request. Outbound echoes and non-text contents are skipped.
func (p *ZenviaParser) Parse(body []byte) ([]models.ParsedMessage, error) {
	var payload zenviaWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("ZenviaParser.Parse: failed to decode webhook payload: %w", err)
	}

	if payload.Type == "MESSAGE_STATUS" && payload.MessageStatus != nil {
		return []models.ParsedMessage{{
			ID:        payload.ID,
			Timestamp: payload.Timestamp,
			Kind:      models.MessageKindStatus,
			Content:   payload.MessageStatus.Code,
			Channel:   models.ChannelZenvia,
		}}, nil
	}

	if payload.Message == nil {
		return nil, nil
	}
	if payload.Message.Direction != "" && payload.Message.Direction != "IN" {
		slog.Debug("ZenviaParser.Parse: skipping outbound echo", "messageID", payload.Message.ID)
		return nil, nil
	}

	var out []models.ParsedMessage
	for _, content := range payload.Message.Contents {
		if content.Type != "text" {
			slog.Debug("ZenviaParser.Parse: skipping non-text content", "type", content.Type, "messageID", payload.Message.ID)
			continue
		}
		id := payload.Message.ID
		if id == "" {
			id = payload.ID
		}
		out = append(out, models.ParsedMessage{
			ID:        id,
			From:      normalizePhone(payload.Message.From),
			Timestamp: payload.Timestamp,
			Kind:      models.MessageKindText,
			Content:   content.Text,
			Channel:   models.ChannelZenvia,
		})
	}
	return out, nil
}
