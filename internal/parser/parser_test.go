package parser

import (
	"net/url"
	"testing"

	"github.com/smartia-br/consultaflow/internal/models"
)

func TestForChannel(t *testing.T) {
	for _, ch := range []models.Channel{models.ChannelMeta, models.ChannelTwilio, models.ChannelZenvia} {
		if _, err := ForChannel(ch); err != nil {
			t.Errorf("ForChannel(%q) returned error: %v", ch, err)
		}
	}
	if _, err := ForChannel(models.Channel("smoke-signal")); err == nil {
		t.Error("expected error for unregistered channel")
	}
}

func TestMetaParserTextMessage(t *testing.T) {
	body := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "123",
			"changes": [{
				"field": "messages",
				"value": {
					"messages": [{
						"id": "wamid.abc",
						"from": "5511999990000",
						"timestamp": "1734264000",
						"type": "text",
						"text": {"body": "quero agendar uma consulta"}
					}]
				}
			}]
		}]
	}`)

	msgs, err := NewMetaParser().Parse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	got := msgs[0]
	if got.ID != "wamid.abc" || got.From != "5511999990000" || got.Content != "quero agendar uma consulta" {
		t.Errorf("unexpected parsed message: %+v", got)
	}
	if got.Kind != models.MessageKindText || got.Channel != models.ChannelMeta {
		t.Errorf("unexpected kind or channel: %+v", got)
	}
}

func TestMetaParserButtonAndStatus(t *testing.T) {
	body := []byte(`{
		"entry": [{
			"changes": [{
				"field": "messages",
				"value": {
					"messages": [{
						"id": "wamid.btn",
						"from": "5511999990000",
						"timestamp": "1734264000",
						"type": "interactive",
						"interactive": {
							"type": "button_reply",
							"button_reply": {"id": "confirm_yes", "title": "Sim"}
						}
					}],
					"statuses": [{
						"id": "wamid.out",
						"status": "delivered",
						"recipient_id": "5511999990000",
						"timestamp": "1734264005"
					}]
				}
			}]
		}]
	}`)

	msgs, err := NewMetaParser().Parse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(msgs))
	}
	if msgs[0].Kind != models.MessageKindButton || msgs[0].ButtonPayload != "confirm_yes" || msgs[0].Content != "Sim" {
		t.Errorf("unexpected button message: %+v", msgs[0])
	}
	if msgs[1].Kind != models.MessageKindStatus || msgs[1].Content != "delivered" {
		t.Errorf("unexpected status record: %+v", msgs[1])
	}
}

func TestMetaParserSkipsMalformedEntries(t *testing.T) {
	body := []byte(`{
		"entry": [{
			"changes": [
				{"field": "account_update", "value": {}},
				{
					"field": "messages",
					"value": {
						"messages": [
							{"id": "wamid.noText", "from": "5511999990000", "type": "text"},
							{"id": "wamid.audio", "from": "5511999990000", "type": "audio"},
							{"id": "wamid.ok", "from": "5511999990000", "timestamp": "1", "type": "text", "text": {"body": "oi"}}
						]
					}
				}
			]
		}]
	}`)

	msgs, err := NewMetaParser().Parse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message after skipping malformed entries, got %d", len(msgs))
	}
	if msgs[0].ID != "wamid.ok" {
		t.Errorf("expected the well-formed message to survive, got %+v", msgs[0])
	}
}

func TestMetaParserInvalidJSON(t *testing.T) {
	if _, err := NewMetaParser().Parse([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestTwilioParserMessage(t *testing.T) {
	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("From", "whatsapp:+5511999990000")
	form.Set("To", "whatsapp:+5511888880000")
	form.Set("Body", "quero cancelar")

	msgs, err := NewTwilioParser().Parse([]byte(form.Encode()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	got := msgs[0]
	if got.From != "+5511999990000" {
		t.Errorf("expected whatsapp: prefix stripped, got %q", got.From)
	}
	if got.Content != "quero cancelar" || got.Kind != models.MessageKindText || got.Channel != models.ChannelTwilio {
		t.Errorf("unexpected parsed message: %+v", got)
	}
}

func TestTwilioParserStatusCallback(t *testing.T) {
	form := url.Values{}
	form.Set("MessageSid", "SM456")
	form.Set("To", "whatsapp:+5511999990000")
	form.Set("MessageStatus", "read")

	msgs, err := NewTwilioParser().Parse([]byte(form.Encode()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(msgs))
	}
	if msgs[0].Kind != models.MessageKindStatus || msgs[0].Content != "read" {
		t.Errorf("unexpected status record: %+v", msgs[0])
	}
}

func TestTwilioParserEmptyPayload(t *testing.T) {
	msgs, err := NewTwilioParser().Parse([]byte(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}
}

func TestZenviaParserMessage(t *testing.T) {
	body := []byte(`{
		"id": "evt-1",
		"type": "MESSAGE",
		"timestamp": "2024-12-15T10:00:00Z",
		"message": {
			"id": "msg-1",
			"from": "5511999990000",
			"to": "5511888880000",
			"direction": "IN",
			"contents": [
				{"type": "text", "text": "bom dia"},
				{"type": "file", "text": ""}
			]
		}
	}`)

	msgs, err := NewZenviaParser().Parse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	got := msgs[0]
	if got.ID != "msg-1" || got.From != "5511999990000" || got.Content != "bom dia" {
		t.Errorf("unexpected parsed message: %+v", got)
	}
	if got.Channel != models.ChannelZenvia {
		t.Errorf("unexpected channel: %q", got.Channel)
	}
}

func TestZenviaParserStatusAndEcho(t *testing.T) {
	status := []byte(`{"id": "evt-2", "type": "MESSAGE_STATUS", "messageStatus": {"code": "DELIVERED"}}`)
	msgs, err := NewZenviaParser().Parse(status)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Kind != models.MessageKindStatus || msgs[0].Content != "DELIVERED" {
		t.Errorf("unexpected status record: %+v", msgs)
	}

	echo := []byte(`{
		"id": "evt-3",
		"type": "MESSAGE",
		"message": {"id": "msg-2", "from": "clinic", "direction": "OUT", "contents": [{"type": "text", "text": "oi"}]}
	}`)
	msgs, err = NewZenviaParser().Parse(echo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected outbound echo to be skipped, got %+v", msgs)
	}
}
