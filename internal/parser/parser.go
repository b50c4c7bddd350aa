// Package parser normalizes provider webhook payloads into channel-agnostic
// message records. Each supported channel registers a Parser that extracts
// zero or more messages from a single webhook delivery, skipping entries it
// cannot understand rather than failing the whole payload.
package parser

import (
	"fmt"
	"strings"
	"sync"

	"github.com/smartia-br/consultaflow/internal/models"
)

// Parser converts a raw webhook body into normalized messages.
type Parser interface {
	// Parse extracts all messages embedded in a webhook delivery.
	// A payload that decodes but contains nothing usable yields an
	// empty slice and no error.
	Parse(body []byte) ([]models.ParsedMessage, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[models.Channel]Parser)
)

// Register adds a parser for the given channel, replacing any existing one.
func Register(channel models.Channel, p Parser) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[channel] = p
}

// ForChannel returns the parser registered for the given channel.
func ForChannel(channel models.Channel) (Parser, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[channel]
	if !ok {
		return nil, fmt.Errorf("ForChannel: no parser for channel %q: %w", channel, models.ErrUnknownChannel)
	}
	return p, nil
}

func init() {
	Register(models.ChannelMeta, NewMetaParser())
	Register(models.ChannelTwilio, NewTwilioParser())
	Register(models.ChannelZenvia, NewZenviaParser())
}

// normalizePhone strips provider prefixes and whitespace from a phone
// identifier so the same patient maps to the same record on every channel.
func normalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "whatsapp:")
	return s
}
