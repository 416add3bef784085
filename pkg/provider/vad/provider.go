// Package vad defines the Engine interface for Voice Activity Detection.
//
// A VAD engine surfaces a frame-level speech detector as a stateful, per-stream
// session. Each session keeps its own state (the current speaking flag, any
// smoothing history) so that independent consumers of the same audio, such as
// the wake spotter and the pipeline controller, do not interfere.
//
// VAD is synchronous: ProcessFrame returns immediately with a detection result,
// which makes it suitable for gating work on the audio loop.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle must not be shared across goroutines.
package vad

import "errors"

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz of frames passed to
	// ProcessFrame.
	SampleRate int

	// SpeechThreshold is the probability at or above which a silent stream
	// switches to speech. Range: [0.0, 1.0]. Typical: 0.5.
	SpeechThreshold float64

	// SilenceThreshold is the probability below which an active speech
	// segment is considered ended. Must be ≤ SpeechThreshold.
	SilenceThreshold float64
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, errors.New("vad: sample rate must be positive"))
	}
	if c.SpeechThreshold < 0 || c.SpeechThreshold > 1 {
		errs = append(errs, errors.New("vad: speech threshold must be within [0, 1]"))
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > c.SpeechThreshold {
		errs = append(errs, errors.New("vad: silence threshold must be within [0, speech threshold]"))
	}
	return errors.Join(errs...)
}

// SessionHandle is an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame analyses a single frame of 16-bit little-endian mono PCM
	// and returns the detection result. It must not block.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a new VAD session. Returns an error if cfg is
	// invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
