package parser

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/smartia-br/consultaflow/internal/models"
)

// MetaParser parses Meta WhatsApp Cloud API webhook payloads. A single
// delivery carries a batch of entries, each holding message and status
// changes for the business account.
type MetaParser struct{}

// NewMetaParser creates a parser for the Meta Cloud API webhook format.
func NewMetaParser() *MetaParser {
	return &MetaParser{}
}

type metaWebhook struct {
	Object string      `json:"object"`
	Entry  []metaEntry `json:"entry"`
}

type metaEntry struct {
	ID      string       `json:"id"`
	Changes []metaChange `json:"changes"`
}

type metaChange struct {
	Field string    `json:"field"`
	Value metaValue `json:"value"`
}

type metaValue struct {
	Messages []metaMessage `json:"messages"`
	Statuses []metaStatus  `json:"statuses"`
}

type metaMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Button *struct {
		Payload string `json:"payload"`
		Text    string `json:"text"`
	} `json:"button"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
	} `json:"interactive"`
}

type metaStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
	Timestamp   string `json:"timestamp"`
}

// Parse extracts messages and status receipts from a Cloud API webhook body.
// Entries with an unrecognized field or message type are skipped so a mixed
// batch never blocks the messages it does contain.
func (p *MetaParser) Parse(body []byte) ([]models.ParsedMessage, error) {
	var payload metaWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("MetaParser.Parse: failed to decode webhook payload: %w", err)
	}

	var out []models.ParsedMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				slog.Debug("MetaParser.Parse: skipping non-message change", "field", change.Field, "entryID", entry.ID)
				continue
			}
			for _, msg := range change.Value.Messages {
				parsed, ok := p.parseMessage(msg)
				if !ok {
					continue
				}
				out = append(out, parsed)
			}
			for _, st := range change.Value.Statuses {
				out = append(out, models.ParsedMessage{
					ID:        st.ID,
					From:      normalizePhone(st.RecipientID),
					Timestamp: st.Timestamp,
					Kind:      models.MessageKindStatus,
					Content:   st.Status,
					Channel:   models.ChannelMeta,
				})
			}
		}
	}
	return out, nil
}

func (p *MetaParser) parseMessage(msg metaMessage) (models.ParsedMessage, bool) {
	parsed := models.ParsedMessage{
		ID:        msg.ID,
		From:      normalizePhone(msg.From),
		Timestamp: msg.Timestamp,
		Channel:   models.ChannelMeta,
	}
	switch msg.Type {
	case "text":
		if msg.Text == nil {
			slog.Warn("MetaParser.parseMessage: text message without text body", "messageID", msg.ID)
			return models.ParsedMessage{}, false
		}
		parsed.Kind = models.MessageKindText
		parsed.Content = msg.Text.Body
	case "button":
		if msg.Button == nil {
			slog.Warn("MetaParser.parseMessage: button message without button data", "messageID", msg.ID)
			return models.ParsedMessage{}, false
		}
		parsed.Kind = models.MessageKindButton
		parsed.Content = msg.Button.Text
		parsed.ButtonPayload = msg.Button.Payload
	case "interactive":
		if msg.Interactive == nil || msg.Interactive.ButtonReply == nil {
			slog.Warn("MetaParser.parseMessage: interactive message without button reply", "messageID", msg.ID)
			return models.ParsedMessage{}, false
		}
		parsed.Kind = models.MessageKindButton
		parsed.Content = msg.Interactive.ButtonReply.Title
		parsed.ButtonPayload = msg.Interactive.ButtonReply.ID
	default:
		slog.Debug("MetaParser.parseMessage: skipping unsupported message type", "type", msg.Type, "messageID", msg.ID)
		return models.ParsedMessage{}, false
	}
	return parsed, true
}
