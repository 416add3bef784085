package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voxcal/internal/capture"
)

// Default thresholds and timeouts.
const (
	DefaultSensitivity      = 0.5
	DefaultConfirmSilence   = time.Second
	DefaultConfirmTimeout   = 2 * time.Second
	DefaultMinConfidence    = 0.60
	DefaultMaxRetries       = 2
	DefaultNeedsInfoTimeout = 30 * time.Second
	DefaultFrameBuffer      = 512
)

// Phrases are the fixed lines the controller speaks itself. Everything else
// it says comes from the executor.
type Phrases struct {
	Repeat           string
	Apology          string
	NoiseWarning     string
	NoSpeech         string
	Closing          string
	VoiceUnavailable string
	ExecutorFailure  string
	Done             string
}

// DefaultPhrases returns the built-in English lines.
func DefaultPhrases() Phrases {
	return Phrases{
		Repeat:           "Sorry, I didn't catch that. Please repeat.",
		Apology:          "Sorry, I couldn't understand you. Please try again later.",
		NoiseWarning:     "It's too loud here for me to hear you. Please move somewhere quieter.",
		NoSpeech:         "Sorry, I didn't hear anything.",
		Closing:          "I'll stop listening now. Wake me when you're ready.",
		VoiceUnavailable: "Voice recognition is unavailable right now.",
		ExecutorFailure:  "Sorry, something went wrong with your calendar.",
		Done:             "Done.",
	}
}

func (p Phrases) withDefaults() Phrases {
	d := DefaultPhrases()
	p.Repeat = orDefault(p.Repeat, d.Repeat)
	p.Apology = orDefault(p.Apology, d.Apology)
	p.NoiseWarning = orDefault(p.NoiseWarning, d.NoiseWarning)
	p.NoSpeech = orDefault(p.NoSpeech, d.NoSpeech)
	p.Closing = orDefault(p.Closing, d.Closing)
	p.VoiceUnavailable = orDefault(p.VoiceUnavailable, d.VoiceUnavailable)
	p.ExecutorFailure = orDefault(p.ExecutorFailure, d.ExecutorFailure)
	p.Done = orDefault(p.Done, d.Done)
	return p
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Config holds the controller's thresholds and timeouts. Zero fields take
// their defaults.
type Config struct {
	// Sensitivity is the wake score a frame must exceed.
	Sensitivity float64

	// ConfirmSilence is how much continuous silence confirms a wake.
	ConfirmSilence time.Duration

	// ConfirmTimeout aborts the confirmation as a false positive.
	ConfirmTimeout time.Duration

	// Capture is the end-of-utterance policy. Its ThresholdDB also decides
	// what counts as silence while confirming and waiting for an answer.
	Capture capture.Policy

	// NoiseWindow is the opening part of a capture classified for noise.
	NoiseWindow time.Duration

	// MinConfidence is the recognition confidence gate.
	MinConfidence float64

	// MaxRetries bounds "please repeat" prompts per utterance.
	// Negative disables retries.
	MaxRetries int

	// NeedsInfoTimeout ends a session waiting for a follow-up answer.
	NeedsInfoTimeout time.Duration

	// RecognizeTimeout bounds cleaning plus recognition of one utterance.
	RecognizeTimeout time.Duration

	// ExecuteTimeout bounds one executor call.
	ExecuteTimeout time.Duration

	// SpeakTimeout bounds synthesis plus playback of one reply.
	SpeakTimeout time.Duration

	// FrameBuffer is the queue length between the frame stream and the
	// active session.
	FrameBuffer int

	// Language is passed to the recognizer as a hint.
	Language string

	Phrases Phrases
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		Sensitivity:      DefaultSensitivity,
		ConfirmSilence:   DefaultConfirmSilence,
		ConfirmTimeout:   DefaultConfirmTimeout,
		Capture:          capture.DefaultPolicy(),
		NoiseWindow:      capture.DefaultNoiseWindow,
		MinConfidence:    DefaultMinConfidence,
		MaxRetries:       DefaultMaxRetries,
		NeedsInfoTimeout: DefaultNeedsInfoTimeout,
		RecognizeTimeout: DefaultRecognizeTimeout,
		ExecuteTimeout:   DefaultExecuteTimeout,
		SpeakTimeout:     DefaultSpeakTimeout,
		FrameBuffer:      DefaultFrameBuffer,
		Phrases:          DefaultPhrases(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Sensitivity == 0 {
		c.Sensitivity = d.Sensitivity
	}
	if c.ConfirmSilence <= 0 {
		c.ConfirmSilence = d.ConfirmSilence
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = d.ConfirmTimeout
	}
	c.Capture = c.Capture.WithDefaults()
	if c.NoiseWindow <= 0 {
		c.NoiseWindow = d.NoiseWindow
	}
	if c.MinConfidence == 0 {
		c.MinConfidence = d.MinConfidence
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	} else if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.NeedsInfoTimeout <= 0 {
		c.NeedsInfoTimeout = d.NeedsInfoTimeout
	}
	if c.RecognizeTimeout <= 0 {
		c.RecognizeTimeout = d.RecognizeTimeout
	}
	if c.ExecuteTimeout <= 0 {
		c.ExecuteTimeout = d.ExecuteTimeout
	}
	if c.SpeakTimeout <= 0 {
		c.SpeakTimeout = d.SpeakTimeout
	}
	if c.FrameBuffer <= 0 {
		c.FrameBuffer = d.FrameBuffer
	}
	c.Phrases = c.Phrases.withDefaults()
	return c
}

// Validate reports out-of-range settings.
func (c Config) Validate() error {
	var errs []error
	if c.Sensitivity < 0 || c.Sensitivity >= 1 {
		errs = append(errs, fmt.Errorf("sensitivity %v out of range [0, 1)", c.Sensitivity))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("min confidence %v out of range [0, 1]", c.MinConfidence))
	}
	if c.ConfirmTimeout > 0 && c.ConfirmSilence > 0 && c.ConfirmTimeout <= c.ConfirmSilence {
		errs = append(errs, fmt.Errorf("confirm timeout %v must exceed confirm silence %v", c.ConfirmTimeout, c.ConfirmSilence))
	}
	if c.Capture.MaxDuration > 0 && c.Capture.EndSilence >= c.Capture.MaxDuration {
		errs = append(errs, fmt.Errorf("end silence %v must be shorter than max duration %v", c.Capture.EndSilence, c.Capture.MaxDuration))
	}
	return errors.Join(errs...)
}
