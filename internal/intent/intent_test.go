package intent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smartia-br/consultaflow/internal/models"
)

func TestClassify(t *testing.T) {
	c := NewClassifier()
	tests := []struct {
		name string
		text string
		want models.Intent
	}{
		{name: "cancel", text: "quero cancelar a consulta", want: models.IntentCancel},
		{name: "cancel uppercase with accent", text: "CANCELAR A CONSULTA, POR FAVOR", want: models.IntentCancel},
		{name: "reschedule", text: "preciso remarcar minha consulta", want: models.IntentReschedule},
		{name: "reschedule variant", text: "da pra reagendar?", want: models.IntentReschedule},
		{name: "inquiry", text: "tenho uma dúvida sobre o convênio", want: models.IntentInquiry},
		{name: "inquiry address", text: "qual o endereço da clínica?", want: models.IntentInquiry},
		{name: "schedule explicit", text: "quero agendar uma consulta", want: models.IntentSchedule},
		{name: "schedule default for greeting", text: "bom dia", want: models.IntentSchedule},
		{name: "empty defaults to schedule", text: "", want: models.IntentSchedule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.text); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestClassifyPriority(t *testing.T) {
	c := NewClassifier()
	// Cancel beats reschedule and schedule when keywords co-occur.
	if got := c.Classify("quero cancelar e remarcar a consulta"); got != models.IntentCancel {
		t.Errorf("expected cancel to win, got %q", got)
	}
	// Reschedule beats schedule.
	if got := c.Classify("quero remarcar minha consulta agendada"); got != models.IntentReschedule {
		t.Errorf("expected reschedule to win, got %q", got)
	}
}

func TestClassifyCustomKeywords(t *testing.T) {
	c := NewClassifier(WithKeywords(Keywords{
		Cancel:  []string{"abort"},
		Inquiry: []string{"question"},
	}))
	if got := c.Classify("please abort my booking"); got != models.IntentCancel {
		t.Errorf("expected custom cancel keyword to match, got %q", got)
	}
	// Default vocabulary no longer applies once overridden.
	if got := c.Classify("quero cancelar"); got != models.IntentSchedule {
		t.Errorf("expected default schedule with overridden vocabulary, got %q", got)
	}
}

func TestLoadKeywords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keywords.json")
	content := `{"cancel": ["anular"], "inquiry": ["valores"]}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write keywords file: %v", err)
	}

	kw, err := LoadKeywords(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kw.Cancel) != 1 || kw.Cancel[0] != "anular" {
		t.Errorf("expected cancel vocabulary replaced, got %v", kw.Cancel)
	}
	// Intents absent from the file keep the defaults.
	if len(kw.Schedule) == 0 || kw.Schedule[0] != "agendar" {
		t.Errorf("expected default schedule vocabulary kept, got %v", kw.Schedule)
	}

	if _, err := LoadKeywords(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Dúvida", "duvida"},
		{"  CONVÊNIO  ", "convenio"},
		{"já", "ja"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
