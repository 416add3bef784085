package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/voxcal/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "server:\n  log_level: bananas\n", "server.log_level"},
		{"log format", "server:\n  log_format: xml\n", "server.log_format"},
		{"trace sampling", "server:\n  traces:\n    sample_ratio: 2\n", "server.traces.sample_ratio"},
		{"tls", "server:\n  tls:\n    cert_file: a.pem\n", "server.tls"},
		{"sample rate", "audio:\n  sample_rate: 48000\n", "audio.sample_rate"},
		{"source", "audio:\n  source: alsa\n", "audio.source"},
		{"confidence", "pipeline:\n  min_confidence: 1.5\n", "pipeline.min_confidence"},
		{"confirm", "pipeline:\n  confirm_silence: 2s\n  confirm_timeout: 1s\n", "pipeline.confirm_timeout"},
		{"capture", "pipeline:\n  end_silence: 5s\n  max_capture: 2s\n", "pipeline.end_silence"},
		{"silence db", "pipeline:\n  silence_db: 10\n", "pipeline.silence_db"},
		{"mains", "cleaner:\n  mains_hz: 55\n", "cleaner.mains_hz"},
		{"sensitivity", "wake:\n  sensitivity: 1\n", "wake.sensitivity"},
		{"wake bounds", "wake:\n  min_speech: 3s\n  max_speech: 1s\n", "wake.min_speech"},
		{"speed", "providers:\n  voice:\n    speed_factor: 3\n", "providers.voice.speed_factor"},
		{"bad pattern", "intents:\n  - command: x\n    pattern: \"(\"\n", "intents"},
		{"endpoint", "executor:\n  endpoint: calendar.local\n", "executor.endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error mentioning %q, got nil", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_RequiresRecognizerForVoice(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("wake:\n  phrase: hey\n"))
	if err == nil || !strings.Contains(err.Error(), "providers.stt") {
		t.Fatalf("expected providers.stt error, got %v", err)
	}

	if _, err := config.LoadFromReader(strings.NewReader("audio:\n  source: none\n")); err != nil {
		t.Errorf("override-only config should be valid, got %v", err)
	}
}

func TestValidate_MissingProviderName(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  stt:
    - model: base
  tts:
    - base_url: http://localhost:5002
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"providers.stt[0].name", "providers.tts[0].name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
wake:
  sensitivity: -0.1
pipeline:
  min_confidence: 2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"server.log_level", "wake.sensitivity", "pipeline.min_confidence"} {
		if !strings.Contains(msg, want) {
			t.Errorf("joined error missing %q: %v", want, msg)
		}
	}
}

func TestValidate_StopPhrasesCompile(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("audio:\n  source: none\npipeline:\n  stop_phrases: [halt, enough]\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(cfg.StopPhraseOptions()); got != 1 {
		t.Errorf("StopPhraseOptions len = %d, want 1", got)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"stt", "tts", "vad"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
}
