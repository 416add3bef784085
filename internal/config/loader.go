package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxcal/internal/intent"
)

// ValidProviderNames lists known engine names per kind.
// Used by [Validate] to warn about unrecognised engine names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "whisper-native", "openai"},
	"tts": {"coqui", "openai"},
	"vad": {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if r := cfg.Server.Traces.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.traces.sample_ratio %v must be in [0, 1]", r))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	if cfg.Audio.SampleRate != 0 && cfg.Audio.SampleRate != DefaultSampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is unsupported; only %d Hz", cfg.Audio.SampleRate, DefaultSampleRate))
	}
	if cfg.Audio.FrameMs < 0 || cfg.Audio.FrameMs > 100 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is out of range [1, 100]", cfg.Audio.FrameMs))
	}
	if cfg.Audio.Source != "" && !cfg.Audio.Source.IsValid() {
		errs = append(errs, fmt.Errorf("audio.source %q is invalid; valid values: websocket, none", cfg.Audio.Source))
	}

	// Pipeline
	p := cfg.Pipeline
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("pipeline.min_confidence %.2f is out of range [0, 1]", p.MinConfidence))
	}
	if p.ConfirmTimeout > 0 && p.ConfirmSilence > 0 && p.ConfirmTimeout <= p.ConfirmSilence {
		errs = append(errs, fmt.Errorf("pipeline.confirm_timeout %v must exceed confirm_silence %v", p.ConfirmTimeout, p.ConfirmSilence))
	}
	if p.MaxCapture > 0 && p.EndSilence >= p.MaxCapture {
		errs = append(errs, fmt.Errorf("pipeline.end_silence %v must be shorter than max_capture %v", p.EndSilence, p.MaxCapture))
	}
	if p.SilenceDB > 0 {
		errs = append(errs, fmt.Errorf("pipeline.silence_db %.1f must be negative (dBFS)", p.SilenceDB))
	}

	// Cleaner
	if m := cfg.Cleaner.MainsHz; m != 0 && m != 50 && m != 60 {
		errs = append(errs, fmt.Errorf("cleaner.mains_hz %.0f is invalid; valid values: 50, 60", m))
	}

	// Wake
	if s := cfg.Wake.Sensitivity; s < 0 || s >= 1 {
		errs = append(errs, fmt.Errorf("wake.sensitivity %.2f is out of range [0, 1)", s))
	}
	if cfg.Wake.MaxSpeech > 0 && cfg.Wake.MinSpeech >= cfg.Wake.MaxSpeech {
		errs = append(errs, fmt.Errorf("wake.min_speech %v must be shorter than max_speech %v", cfg.Wake.MinSpeech, cfg.Wake.MaxSpeech))
	}
	validateProviderName("stt", cfg.Wake.Recognizer.Name)

	// Providers
	if len(cfg.Providers.STT) == 0 && cfg.Audio.Source != SourceNone {
		errs = append(errs, errors.New("providers.stt must list at least one engine unless audio.source is none"))
	}
	for i, e := range cfg.Providers.STT {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt[%d].name is required", i))
		}
		validateProviderName("stt", e.Name)
	}
	for i, e := range cfg.Providers.TTS {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts[%d].name is required", i))
		}
		validateProviderName("tts", e.Name)
	}
	validateProviderName("vad", cfg.Providers.VAD.Name)
	if len(cfg.Providers.TTS) == 0 {
		slog.Warn("providers.tts is empty; replies will be text-only")
	}
	if sf := cfg.Providers.Voice.SpeedFactor; sf != 0 && (sf < 0.5 || sf > 2.0) {
		errs = append(errs, fmt.Errorf("providers.voice.speed_factor %.2f is out of range [0.5, 2.0]", sf))
	}

	// Intents
	if _, err := intent.NewRuleDispatcher(cfg.Intents, stopPhraseOption(cfg.Pipeline.StopPhrases)...); err != nil {
		errs = append(errs, fmt.Errorf("intents: %w", err))
	}

	// Executor
	if ep := cfg.Executor.Endpoint; ep != "" {
		u, err := url.Parse(ep)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("executor.endpoint %q must be an absolute http(s) URL", ep))
		}
	}

	// Archive
	if cfg.Archive.PostgresDSN == "" {
		slog.Debug("archive.postgres_dsn is empty; sessions are archived in memory only")
	}

	return errors.Join(errs...)
}

// StopPhraseOptions returns the dispatcher options for the configured stop
// phrases.
func (c *Config) StopPhraseOptions() []intent.Option {
	return stopPhraseOption(c.Pipeline.StopPhrases)
}

func stopPhraseOption(phrases []string) []intent.Option {
	if len(phrases) == 0 {
		return nil
	}
	return []intent.Option{intent.WithStopPhrases(phrases...)}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown engine name; may be a typo or third-party engine",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
