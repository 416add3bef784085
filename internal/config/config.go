// Package config provides the configuration schema, loader, and engine registry
// for the voxcal voice pipeline.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/MrWong99/voxcal/internal/intent"
)

// WakePhraseEnv names the environment variable that overrides the configured
// wake phrase.
const WakePhraseEnv = "VOXCAL_WAKE_PHRASE"

// LogLevel controls log verbosity for the voxcal server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the matching slog level. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// SourceKind selects where microphone frames come from.
type SourceKind string

const (
	// SourceWebSocket accepts frames from clients on /v1/audio.
	SourceWebSocket SourceKind = "websocket"

	// SourceNone runs without a microphone; only transcript overrides work.
	SourceNone SourceKind = "none"
)

// IsValid reports whether k is a recognised source kind.
func (k SourceKind) IsValid() bool {
	return k == SourceWebSocket || k == SourceNone
}

// Config is the root configuration structure for voxcal.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Audio     AudioConfig       `yaml:"audio"`
	Pipeline  PipelineConfig    `yaml:"pipeline"`
	Cleaner   CleanerConfig     `yaml:"cleaner"`
	Wake      WakeConfig        `yaml:"wake"`
	Providers ProvidersConfig   `yaml:"providers"`
	Intents   []intent.Template `yaml:"intents"`
	Executor  ExecutorConfig    `yaml:"executor"`
	Archive   ArchiveConfig     `yaml:"archive"`
}

// ServerConfig holds network and logging settings for the voxcal server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON log lines.
	LogFormat LogFormat `yaml:"log_format"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// Traces configures span export.
	Traces TraceConfig `yaml:"traces"`
}

// TraceConfig controls where finished spans go.
type TraceConfig struct {
	// Output receives one JSON document per span: "stderr", "stdout" or a
	// file path. Empty disables export.
	Output string `yaml:"output"`

	// SampleRatio is the fraction of traces exported, in (0, 1]. Zero
	// exports all of them.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig describes the microphone stream and speaker output.
type AudioConfig struct {
	// SampleRate is the pipeline sample rate in Hz. Only 16000 is supported.
	SampleRate int `yaml:"sample_rate"`

	// FrameMs is the expected frame length in milliseconds.
	FrameMs int `yaml:"frame_ms"`

	// Source selects the frame source.
	Source SourceKind `yaml:"source"`

	// Realtime paces playback at the audio rate instead of writing as fast
	// as clients accept.
	Realtime bool `yaml:"realtime"`
}

// PipelineConfig holds the controller thresholds and timeouts. Zero values
// take the controller defaults.
type PipelineConfig struct {
	ConfirmSilence   time.Duration `yaml:"confirm_silence"`
	ConfirmTimeout   time.Duration `yaml:"confirm_timeout"`
	SilenceDB        float64       `yaml:"silence_db"`
	EndSilence       time.Duration `yaml:"end_silence"`
	MaxCapture       time.Duration `yaml:"max_capture"`
	NoiseWindow      time.Duration `yaml:"noise_window"`
	MinConfidence    float64       `yaml:"min_confidence"`
	MaxRetries       int           `yaml:"max_retries"`
	NeedsInfoTimeout time.Duration `yaml:"needs_info_timeout"`
	RecognizeTimeout time.Duration `yaml:"recognize_timeout"`
	ExecuteTimeout   time.Duration `yaml:"execute_timeout"`
	SpeakTimeout     time.Duration `yaml:"speak_timeout"`

	// Language is the recognition language hint (e.g. "en").
	Language string `yaml:"language"`

	// StopPhrases replace the built-in phrases that abandon an interaction.
	StopPhrases []string `yaml:"stop_phrases"`

	// Phrases override the lines the controller speaks itself.
	Phrases PhrasesConfig `yaml:"phrases"`

	// Cue plays a short tone when a wake is detected.
	Cue *bool `yaml:"cue"`
}

// PhrasesConfig overrides individual spoken prompts. Empty fields keep the
// built-in line.
type PhrasesConfig struct {
	Repeat           string `yaml:"repeat"`
	Apology          string `yaml:"apology"`
	NoiseWarning     string `yaml:"noise_warning"`
	NoSpeech         string `yaml:"no_speech"`
	Closing          string `yaml:"closing"`
	VoiceUnavailable string `yaml:"voice_unavailable"`
	ExecutorFailure  string `yaml:"executor_failure"`
	Done             string `yaml:"done"`
}

// CueEnabled reports whether the activation cue should play.
func (p PipelineConfig) CueEnabled() bool {
	return p.Cue == nil || *p.Cue
}

// CleanerConfig tunes the captured-audio cleanup. Zero values take the
// cleaner defaults.
type CleanerConfig struct {
	// MainsHz is the mains hum frequency to notch (50 or 60).
	MainsHz     float64 `yaml:"mains_hz"`
	HighPassHz  float64 `yaml:"high_pass_hz"`
	LowPassHz   float64 `yaml:"low_pass_hz"`
	TargetRMSDB float64 `yaml:"target_rms_db"`

	// Disabled skips cleanup and recognises raw audio.
	Disabled bool `yaml:"disabled"`
}

// WakeConfig configures wake word detection.
type WakeConfig struct {
	// Sensitivity is the detection score threshold in [0, 1). It can be
	// changed at runtime by editing the file.
	Sensitivity float64 `yaml:"sensitivity"`

	// Phrase is the wake phrase. [WakePhraseEnv] takes precedence, then
	// PhraseFile.
	Phrase string `yaml:"phrase"`

	// PhraseFile names a file holding the wake phrase.
	PhraseFile string `yaml:"phrase_file"`

	// Recognizer selects the engine used for keyword spotting. When empty the
	// first providers.stt entry is used.
	Recognizer ProviderEntry `yaml:"recognizer"`

	// MinSpeech and MaxSpeech bound the segments considered as wake phrases.
	MinSpeech time.Duration `yaml:"min_speech"`
	MaxSpeech time.Duration `yaml:"max_speech"`
}

// ResolvePhrase returns the wake phrase from the environment, the phrase file,
// or the inline value, in that order.
func (w WakeConfig) ResolvePhrase() (string, error) {
	if p := strings.TrimSpace(os.Getenv(WakePhraseEnv)); p != "" {
		return p, nil
	}
	if w.PhraseFile != "" {
		data, err := os.ReadFile(w.PhraseFile)
		if err != nil {
			return "", fmt.Errorf("config: read wake phrase file: %w", err)
		}
		if p := strings.TrimSpace(string(data)); p != "" {
			return p, nil
		}
		return "", fmt.Errorf("config: wake phrase file %q is empty", w.PhraseFile)
	}
	if p := strings.TrimSpace(w.Phrase); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("config: no wake phrase configured (set wake.phrase, wake.phrase_file or %s)", WakePhraseEnv)
}

// ProvidersConfig lists the engines for each stage. STT and TTS entries are
// tried in order; the first is the primary.
type ProvidersConfig struct {
	STT []ProviderEntry `yaml:"stt"`
	TTS []ProviderEntry `yaml:"tts"`
	VAD ProviderEntry   `yaml:"vad"`

	// Voice is the voice every TTS engine speaks with.
	Voice VoiceConfig `yaml:"voice"`
}

// ProviderEntry is the common configuration block shared by all engine types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered engine implementation (e.g., "openai", "coqui").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the engine's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the engine's default API endpoint.
	// Leave empty to use the engine's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the engine, or a model file path
	// for local engines.
	Model string `yaml:"model"`

	// Timeout bounds one call to this engine. Zero uses the chain default.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds engine-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// VoiceConfig specifies the TTS voice parameters.
type VoiceConfig struct {
	// VoiceID is the engine-specific voice or speaker identifier.
	VoiceID string `yaml:"voice_id"`

	// Language is a BCP-47 code passed to the engine.
	Language string `yaml:"language"`

	// SpeedFactor adjusts speaking rate. Range [0.5, 2.0]; 0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`
}

// ExecutorConfig selects the intent executor.
type ExecutorConfig struct {
	// Endpoint is the calendar service URL. When empty the echo executor is
	// used.
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds one HTTP call.
	Timeout time.Duration `yaml:"timeout"`

	// Headers are added to every request (e.g. Authorization).
	Headers map[string]string `yaml:"headers"`
}

// ArchiveConfig selects the session archive.
type ArchiveConfig struct {
	// PostgresDSN is the connection string. When empty sessions are kept in
	// memory only.
	PostgresDSN string `yaml:"postgres_dsn"`

	// MemoryCapacity bounds the in-memory archive.
	MemoryCapacity int `yaml:"memory_capacity"`
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultSampleRate     = 16000
	DefaultFrameMs        = 20
	DefaultMemoryCapacity = 256
	DefaultVAD            = "energy"
)

// ApplyDefaults fills zero fields that have a defined default.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = LogFormatText
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = DefaultSampleRate
	}
	if c.Audio.FrameMs == 0 {
		c.Audio.FrameMs = DefaultFrameMs
	}
	if c.Audio.Source == "" {
		c.Audio.Source = SourceWebSocket
	}
	if c.Providers.VAD.Name == "" {
		c.Providers.VAD.Name = DefaultVAD
	}
	if c.Archive.MemoryCapacity <= 0 {
		c.Archive.MemoryCapacity = DefaultMemoryCapacity
	}
	if len(c.Intents) == 0 {
		c.Intents = intent.DefaultTemplates()
	}
}
