package stt

import (
	"errors"
	"fmt"
	"time"
)

// Transcript is the result of recognising one utterance.
type Transcript struct {
	// Text is the transcribed speech with surrounding whitespace trimmed.
	Text string

	// IsFinal is always true for batch engines. Confidence is only meaningful
	// when IsFinal is set.
	IsFinal bool

	// Confidence is the engine's overall confidence in [0, 1].
	Confidence float64

	// Engine names the Recognizer that produced this transcript.
	Engine string

	// Duration is the length of the recognised audio.
	Duration time.Duration
}

// ErrEngineUnavailable means the engine cannot serve any request: the model
// file is missing, the binary was built without support, or credentials are
// absent. It is always wrapped in a fatal *RecognitionError.
var ErrEngineUnavailable = errors.New("stt: engine unavailable")

// RecognitionError is returned by Recognizer implementations.
type RecognitionError struct {
	// Engine is the name of the failing Recognizer.
	Engine string

	// Fatal marks errors that will recur on every call. The pipeline disables
	// voice input when the whole recognizer chain fails fatally.
	Fatal bool

	Err error
}

func (e *RecognitionError) Error() string {
	kind := "transient"
	if e.Fatal {
		kind = "fatal"
	}
	return fmt.Sprintf("stt: %s: %s: %v", e.Engine, kind, e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// Fatal builds a fatal *RecognitionError that matches [ErrEngineUnavailable]
// under errors.Is in addition to cause.
func Fatal(engine string, cause error) error {
	err := ErrEngineUnavailable
	if cause != nil && !errors.Is(cause, ErrEngineUnavailable) {
		err = fmt.Errorf("%w: %w", ErrEngineUnavailable, cause)
	} else if cause != nil {
		err = cause
	}
	return &RecognitionError{Engine: engine, Fatal: true, Err: err}
}

// Transient builds a non-fatal *RecognitionError.
func Transient(engine string, cause error) error {
	return &RecognitionError{Engine: engine, Err: cause}
}

// IsFatal reports whether err is, or wraps, a fatal *RecognitionError.
func IsFatal(err error) bool {
	var re *RecognitionError
	return errors.As(err, &re) && re.Fatal
}
