package intent_test

import (
	"testing"

	"github.com/MrWong99/voxcal/internal/intent"
)

func newDefault(t *testing.T) *intent.RuleDispatcher {
	t.Helper()
	d, err := intent.NewRuleDispatcher(intent.DefaultTemplates())
	if err != nil {
		t.Fatalf("NewRuleDispatcher: %v", err)
	}
	return d
}

func TestRuleDispatcher_Parse(t *testing.T) {
	d := newDefault(t)

	tests := []struct {
		text    string
		command string
		params  map[string]string
	}{
		{text: "Book a meeting.", command: "create_event", params: map[string]string{"title": "meeting"}},
		{text: "schedule lunch with Anna tomorrow at noon", command: "create_event", params: map[string]string{"title": "lunch with anna", "when": "tomorrow at noon"}},
		{text: "add an appointment", command: "create_event", params: map[string]string{"title": "appointment"}},
		{text: "cancel my dentist appointment on friday", command: "cancel_event", params: map[string]string{"title": "dentist appointment", "when": "on friday"}},
		{text: "Move the standup to 10 am", command: "move_event", params: map[string]string{"title": "standup", "when": "10 am"}},
		{text: "What’s next?", command: "next_event"},
		{text: "what is my next meeting", command: "next_event"},
		{text: "what's on my calendar today", command: "list_events", params: map[string]string{"when": "today"}},
		{text: "list meetings", command: "list_events"},
		{text: "tell me a joke", command: intent.CommandUnknown},
		{text: "   ", command: intent.CommandUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := d.Parse(tt.text)
			if got.Command != tt.command {
				t.Fatalf("Parse(%q).Command = %q, want %q", tt.text, got.Command, tt.command)
			}
			for name, want := range tt.params {
				v, ok := got.Param(name)
				if !ok || v != want {
					t.Errorf("param %q = %q (present %v), want %q", name, v, ok, want)
				}
			}
			if got.IsUnknown() {
				if got.Confidence != 0 || len(got.Params) != 0 {
					t.Errorf("unknown intent carries data: %+v", got)
				}
			} else if got.Confidence != 1 {
				t.Errorf("confidence = %v, want 1", got.Confidence)
			}
		})
	}
}

func TestRuleDispatcher_FirstMatchWins(t *testing.T) {
	d, err := intent.NewRuleDispatcher([]intent.Template{
		{Command: "first", Pattern: `^book`},
		{Command: "second", Pattern: `^book a meeting$`, Confidence: 0.7},
	})
	if err != nil {
		t.Fatalf("NewRuleDispatcher: %v", err)
	}
	if got := d.Parse("book a meeting"); got.Command != "first" {
		t.Errorf("command = %q, want first", got.Command)
	}
}

func TestRuleDispatcher_IsStop(t *testing.T) {
	d := newDefault(t)
	for _, text := range []string{"stop", "Cancel!", "never mind", "please stop", "Forget it."} {
		if !d.IsStop(text) {
			t.Errorf("IsStop(%q) = false, want true", text)
		}
	}
	for _, text := range []string{"cancel my meeting", "don't stop", "", "book a meeting"} {
		if d.IsStop(text) {
			t.Errorf("IsStop(%q) = true, want false", text)
		}
	}
}

func TestRuleDispatcher_CustomStopPhrases(t *testing.T) {
	d, err := intent.NewRuleDispatcher(nil, intent.WithStopPhrases("halt"))
	if err != nil {
		t.Fatalf("NewRuleDispatcher: %v", err)
	}
	if !d.IsStop("halt") || d.IsStop("stop") {
		t.Error("custom stop phrases not applied")
	}
}

func TestRuleDispatcher_SetTemplates(t *testing.T) {
	d := newDefault(t)
	if err := d.SetTemplates([]intent.Template{{Command: "ping", Pattern: `^ping$`}}); err != nil {
		t.Fatalf("SetTemplates: %v", err)
	}
	if d.Len() != 1 {
		t.Errorf("Len = %d, want 1", d.Len())
	}
	if got := d.Parse("ping"); got.Command != "ping" {
		t.Errorf("command = %q, want ping", got.Command)
	}
	if got := d.Parse("book a meeting"); !got.IsUnknown() {
		t.Errorf("old template still active: %q", got.Command)
	}
	// Stop phrases survive a template swap.
	if !d.IsStop("stop") {
		t.Error("IsStop lost after SetTemplates")
	}

	if err := d.SetTemplates([]intent.Template{{Command: "bad", Pattern: `(`}}); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
	if got := d.Parse("ping"); got.Command != "ping" {
		t.Error("failed SetTemplates replaced the active set")
	}
}

func TestNewRuleDispatcher_Validation(t *testing.T) {
	tests := []struct {
		name string
		tmpl intent.Template
	}{
		{"missing command", intent.Template{Pattern: "x"}},
		{"missing pattern", intent.Template{Command: "x"}},
		{"reserved command", intent.Template{Command: intent.CommandUnknown, Pattern: "x"}},
		{"bad regex", intent.Template{Command: "x", Pattern: "[a-"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := intent.NewRuleDispatcher([]intent.Template{tt.tmpl}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseTemplatesYAML(t *testing.T) {
	data := []byte(`
- name: ping
  command: ping
  pattern: "^ping$"
  confidence: 0.9
`)
	tmpls, err := intent.ParseTemplatesYAML(data)
	if err != nil {
		t.Fatalf("ParseTemplatesYAML: %v", err)
	}
	if len(tmpls) != 1 || tmpls[0].Command != "ping" || tmpls[0].Confidence != 0.9 {
		t.Errorf("templates = %+v", tmpls)
	}

	if _, err := intent.ParseTemplatesYAML([]byte("- command: x\n  pattern: y\n  bogus: 1\n")); err == nil {
		t.Error("expected error for unknown field")
	}
}
