// Package intent classifies patient messages into conversation intents by
// keyword matching. Keyword sets are plain data so a deployment can swap the
// defaults for its own vocabulary without code changes.
package intent

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/smartia-br/consultaflow/internal/models"
)

// Keywords holds the match vocabulary for each intent. Matching is
// case-insensitive and ignores diacritics, so "CANCELAR" and "cancelar"
// behave the same.
type Keywords struct {
	Cancel     []string `json:"cancel"`
	Reschedule []string `json:"reschedule"`
	Inquiry    []string `json:"inquiry"`
	Schedule   []string `json:"schedule"`
}

// LoadKeywords reads a keyword vocabulary from a JSON file. Intents missing
// from the file keep the default vocabulary.
func LoadKeywords(path string) (Keywords, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Keywords{}, fmt.Errorf("LoadKeywords: failed to read %s: %w", path, err)
	}
	kw := DefaultKeywords()
	if err := json.Unmarshal(data, &kw); err != nil {
		return Keywords{}, fmt.Errorf("LoadKeywords: failed to parse %s: %w", path, err)
	}
	return kw, nil
}

// DefaultKeywords returns the Brazilian Portuguese vocabulary used when no
// custom keyword set is configured.
func DefaultKeywords() Keywords {
	return Keywords{
		Cancel:     []string{"cancelar", "cancela", "desmarcar", "desmarca"},
		Reschedule: []string{"remarcar", "remarca", "reagendar", "reagenda", "mudar", "trocar"},
		Inquiry:    []string{"duvida", "duvidas", "pergunta", "informacao", "informacoes", "horario de funcionamento", "endereco", "convenio"},
		Schedule:   []string{"agendar", "agenda", "marcar", "consulta", "horario"},
	}
}

// Classifier maps free-form message text to an intent.
type Classifier struct {
	keywords Keywords
}

// Opts holds optional configuration for a Classifier.
type Opts struct {
	Keywords *Keywords
}

// Option configures a Classifier.
type Option func(*Opts)

// WithKeywords overrides the default keyword vocabulary.
func WithKeywords(kw Keywords) Option {
	return func(o *Opts) {
		o.Keywords = &kw
	}
}

// NewClassifier creates a keyword classifier with the given options.
func NewClassifier(opts ...Option) *Classifier {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	kw := DefaultKeywords()
	if o.Keywords != nil {
		kw = *o.Keywords
	}
	return &Classifier{keywords: normalizeKeywords(kw)}
}

// Classify returns the intent for the given message text. When keywords from
// several intents are present, the most disruptive one wins: cancel over
// reschedule over inquiry over schedule. Text matching nothing defaults to
// schedule, since booking is what most patients contact the clinic for.
func (c *Classifier) Classify(text string) models.Intent {
	normalized := Normalize(text)
	switch {
	case containsAny(normalized, c.keywords.Cancel):
		return models.IntentCancel
	case containsAny(normalized, c.keywords.Reschedule):
		return models.IntentReschedule
	case containsAny(normalized, c.keywords.Inquiry):
		return models.IntentInquiry
	default:
		return models.IntentSchedule
	}
}

// Normalize lowercases text and strips diacritics and surrounding whitespace.
func Normalize(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(strings.TrimSpace(text)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(text))
	}
	return folded
}

func normalizeKeywords(kw Keywords) Keywords {
	return Keywords{
		Cancel:     normalizeAll(kw.Cancel),
		Reschedule: normalizeAll(kw.Reschedule),
		Inquiry:    normalizeAll(kw.Inquiry),
		Schedule:   normalizeAll(kw.Schedule),
	}
}

func normalizeAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, Normalize(w))
	}
	return out
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(text, w) {
			return true
		}
	}
	return false
}
