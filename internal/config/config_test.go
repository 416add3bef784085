package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxcal/internal/config"
	"github.com/MrWong99/voxcal/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxcal/pkg/provider/stt/mock"
	"github.com/MrWong99/voxcal/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxcal/pkg/provider/tts/mock"
)

const validYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  log_format: json
audio:
  source: websocket
pipeline:
  min_confidence: 0.7
  end_silence: 1s
  max_capture: 20s
  language: en
  phrases:
    repeat: "Say again?"
wake:
  sensitivity: 0.6
  phrase: hey calendar
providers:
  stt:
    - name: whisper-native
      model: /models/ggml-base.en.bin
    - name: openai
      api_key: sk-test
      timeout: 5s
  tts:
    - name: coqui
      base_url: http://localhost:5002
    - name: openai
      api_key: sk-test
  voice:
    voice_id: alloy
    language: en
executor:
  endpoint: http://calendar.local/intents
  headers:
    Authorization: Bearer abc
archive:
  postgres_dsn: postgres://localhost/voxcal
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogFormat != config.LogFormatJSON {
		t.Errorf("log_format: got %q", cfg.Server.LogFormat)
	}
	if cfg.Pipeline.EndSilence != time.Second || cfg.Pipeline.MaxCapture != 20*time.Second {
		t.Errorf("capture timing: got %v/%v", cfg.Pipeline.EndSilence, cfg.Pipeline.MaxCapture)
	}
	if cfg.Pipeline.Phrases.Repeat != "Say again?" {
		t.Errorf("phrases.repeat: got %q", cfg.Pipeline.Phrases.Repeat)
	}
	if len(cfg.Providers.STT) != 2 || cfg.Providers.STT[1].Timeout != 5*time.Second {
		t.Errorf("providers.stt: got %+v", cfg.Providers.STT)
	}
	if cfg.Executor.Headers["Authorization"] != "Bearer abc" {
		t.Errorf("executor headers: got %v", cfg.Executor.Headers)
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("audio:\n  source: none\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Server.LogFormat != config.LogFormatText {
		t.Errorf("logging defaults: got %q/%q", cfg.Server.LogLevel, cfg.Server.LogFormat)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.FrameMs != 20 {
		t.Errorf("audio defaults: got %d Hz / %d ms", cfg.Audio.SampleRate, cfg.Audio.FrameMs)
	}
	if cfg.Providers.VAD.Name != "energy" {
		t.Errorf("vad default: got %q", cfg.Providers.VAD.Name)
	}
	if len(cfg.Intents) == 0 {
		t.Error("intent templates not defaulted")
	}
	if !cfg.Pipeline.CueEnabled() {
		t.Error("cue should be enabled by default")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":80\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if len(cfg.Providers.STT) != 2 || cfg.Providers.STT[0].Name != "whisper-native" {
		t.Errorf("stt entries = %+v", cfg.Providers.STT)
	}
	if cfg.Pipeline.EndSilence != 1500*time.Millisecond {
		t.Errorf("end_silence = %v, want 1.5s", cfg.Pipeline.EndSilence)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestPipelineConfig_CueDisabled(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("audio:\n  source: none\npipeline:\n  cue: false\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pipeline.CueEnabled() {
		t.Error("cue should be disabled")
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.in.SlogLevel(); got != tt.want {
			t.Errorf("%q.SlogLevel() = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// ---- Wake phrase ----

func TestWakeConfig_ResolvePhrase(t *testing.T) {
	// Not parallel: mutates the environment.
	dir := t.TempDir()
	file := filepath.Join(dir, "phrase.txt")
	if err := os.WriteFile(file, []byte("  ok planner \n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(config.WakePhraseEnv, "")
	if p, err := (config.WakeConfig{Phrase: "hey calendar"}).ResolvePhrase(); err != nil || p != "hey calendar" {
		t.Errorf("inline: got %q, %v", p, err)
	}
	if p, err := (config.WakeConfig{Phrase: "hey calendar", PhraseFile: file}).ResolvePhrase(); err != nil || p != "ok planner" {
		t.Errorf("file: got %q, %v", p, err)
	}
	if _, err := (config.WakeConfig{}).ResolvePhrase(); err == nil {
		t.Error("expected error when no phrase configured")
	}
	if _, err := (config.WakeConfig{PhraseFile: filepath.Join(dir, "missing")}).ResolvePhrase(); err == nil {
		t.Error("expected error for missing phrase file")
	}

	t.Setenv(config.WakePhraseEnv, "computer")
	if p, err := (config.WakeConfig{Phrase: "hey calendar", PhraseFile: file}).ResolvePhrase(); err != nil || p != "computer" {
		t.Errorf("env: got %q, %v", p, err)
	}
}

// ---- Registry ----

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("stt: expected ErrProviderNotRegistered, got %v", err)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("tts: expected ErrProviderNotRegistered, got %v", err)
	}
	if _, err := reg.CreateVAD(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("vad: expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var gotEntry config.ProviderEntry
	reg.RegisterSTT("fake", func(e config.ProviderEntry) (stt.Recognizer, error) {
		gotEntry = e
		return &sttmock.Recognizer{}, nil
	})
	reg.RegisterTTS("fake", func(config.ProviderEntry) (tts.Engine, error) {
		return &ttsmock.Engine{}, nil
	})

	r, err := reg.CreateSTT(config.ProviderEntry{Name: "fake", Model: "base"})
	if err != nil || r == nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if gotEntry.Model != "base" {
		t.Errorf("factory received %+v", gotEntry)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "fake"}); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}
	if names := reg.Names("stt"); len(names) != 1 || names[0] != "fake" {
		t.Errorf("Names(stt) = %v", names)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterSTT("broken", func(config.ProviderEntry) (stt.Recognizer, error) { return nil, boom })

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "broken"}); !errors.Is(err, boom) {
		t.Errorf("expected factory error, got %v", err)
	}
}

func TestOptHelpers(t *testing.T) {
	t.Parallel()
	opts := map[string]any{"language": "de", "rate": 24000, "conf": 0.8, "bad": true}
	if got := config.OptString(opts, "language"); got != "de" {
		t.Errorf("OptString = %q", got)
	}
	if got := config.OptString(nil, "language"); got != "" {
		t.Errorf("OptString(nil) = %q", got)
	}
	if v, ok := config.OptFloat(opts, "rate"); !ok || v != 24000 {
		t.Errorf("OptFloat(rate) = %v, %v", v, ok)
	}
	if v, ok := config.OptFloat(opts, "conf"); !ok || v != 0.8 {
		t.Errorf("OptFloat(conf) = %v, %v", v, ok)
	}
	if _, ok := config.OptFloat(opts, "bad"); ok {
		t.Error("OptFloat(bad) should fail")
	}
}
