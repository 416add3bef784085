// Package stt defines the Recognizer interface for Speech-to-Text engines.
//
// A Recognizer takes one complete utterance of cleaned 16-bit PCM and returns a
// single final Transcript with a confidence score. Engines are batch oriented:
// the pipeline only calls Recognize once capture has ended, so there are no
// partial results on this path.
//
// Implementations must be safe for concurrent use and must return promptly
// when ctx is cancelled.
package stt

import (
	"context"
	"time"
)

// Utterance is one captured and cleaned utterance handed to a Recognizer.
type Utterance struct {
	// PCM is 16-bit signed little-endian mono audio.
	PCM []byte

	// SampleRate in Hz. The pipeline always delivers 16000.
	SampleRate int

	// Language is a BCP-47 hint (e.g. "en", "de"). Empty lets the engine use
	// its configured default.
	Language string
}

// Duration returns the playback length of the utterance.
func (u Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.PCM)/2) * time.Second / time.Duration(u.SampleRate)
}

// Recognizer is the abstraction over any STT engine.
type Recognizer interface {
	// Recognize transcribes u. Failures are reported as *RecognitionError so
	// callers can distinguish fatal engine problems (missing model, bad
	// credentials) from transient ones.
	Recognize(ctx context.Context, u Utterance) (Transcript, error)

	// Name identifies the engine in logs, metrics and fallback reports.
	Name() string
}

// AvailabilityReporter is implemented by recognizers that can tell, without
// a recognition attempt, whether they are able to serve requests at all.
type AvailabilityReporter interface {
	Available() bool
}

// Available reports whether r may still serve requests. Recognizers that do
// not implement [AvailabilityReporter] are assumed available.
func Available(r Recognizer) bool {
	ar, ok := r.(AvailabilityReporter)
	return !ok || ar.Available()
}

// unavailable is a Recognizer standing in for an engine that could not be
// constructed.
type unavailable struct {
	name  string
	cause error
}

// Unavailable returns a Recognizer whose every call fails with a fatal
// *RecognitionError wrapping [ErrEngineUnavailable] and cause. It lets the
// process keep running with voice disabled instead of refusing to start.
func Unavailable(name string, cause error) Recognizer {
	return &unavailable{name: name, cause: cause}
}

func (u *unavailable) Recognize(context.Context, Utterance) (Transcript, error) {
	return Transcript{}, Fatal(u.name, u.cause)
}

func (u *unavailable) Name() string { return u.name }

// Available implements AvailabilityReporter. It always returns false.
func (u *unavailable) Available() bool { return false }
