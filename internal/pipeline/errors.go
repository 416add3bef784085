package pipeline

import (
	"errors"

	"github.com/MrWong99/voxcal/internal/archive"
)

// Per-turn failures. Each one ends the turn with exactly one spoken or
// displayed message (see [Phrases]) and is never returned to callers of the
// controller.
var (
	// ErrLowConfidence means recognition stayed below the confidence gate
	// after every allowed retry.
	ErrLowConfidence = errors.New("pipeline: recognition confidence below threshold")

	// ErrSilenceTimeout means the capture ended without any speech.
	ErrSilenceTimeout = errors.New("pipeline: no speech captured")

	// ErrNoiseTooHigh means the room was too loud to record.
	ErrNoiseTooHigh = errors.New("pipeline: ambient noise too high")

	// ErrExecutorFailure wraps executor errors. The turn still completes.
	ErrExecutorFailure = errors.New("pipeline: intent execution failed")

	// ErrSynthesisFailure marks a reply that no engine could voice. It is
	// reported on [Reply] only; the reply is still delivered as text.
	ErrSynthesisFailure = errors.New("pipeline: speech synthesis failed")

	// ErrEngineUnavailable means no recognition engine can serve. Voice
	// input stays disabled for the rest of the process.
	ErrEngineUnavailable = errors.New("pipeline: recognition engine unavailable")

	// ErrNeedsInfoTimeout means the user did not answer a follow-up question.
	ErrNeedsInfoTimeout = errors.New("pipeline: no answer to follow-up")
)

// Errors returned by the controller command surface.
var (
	// ErrBusy is returned by SubmitTranscriptOverride while the session is
	// processing an utterance.
	ErrBusy = errors.New("pipeline: session busy")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pipeline: controller closed")

	// errStopped is the cancellation cause of a stopped session.
	errStopped = errors.New("pipeline: session stopped")
)

// outcomeFor maps a turn error to the archived session outcome.
func outcomeFor(err error) archive.Outcome {
	switch {
	case err == nil:
		return archive.OutcomeCompleted
	case errors.Is(err, ErrLowConfidence):
		return archive.OutcomeLowConfidence
	case errors.Is(err, ErrNoiseTooHigh):
		return archive.OutcomeNoiseTooHigh
	case errors.Is(err, ErrSilenceTimeout):
		return archive.OutcomeSilenceTimeout
	case errors.Is(err, ErrNeedsInfoTimeout):
		return archive.OutcomeNeedsInfoTimeout
	case errors.Is(err, ErrEngineUnavailable):
		return archive.OutcomeEngineUnavailable
	case errors.Is(err, ErrClosed):
		return archive.OutcomeShutdown
	default:
		return archive.OutcomeStopped
	}
}

// message returns the line spoken when a turn ends with err.
func (p Phrases) message(err error) string {
	switch {
	case errors.Is(err, ErrLowConfidence):
		return p.Apology
	case errors.Is(err, ErrNoiseTooHigh):
		return p.NoiseWarning
	case errors.Is(err, ErrSilenceTimeout):
		return p.NoSpeech
	case errors.Is(err, ErrNeedsInfoTimeout):
		return p.Closing
	case errors.Is(err, ErrEngineUnavailable):
		return p.VoiceUnavailable
	case errors.Is(err, ErrExecutorFailure):
		return p.ExecutorFailure
	default:
		return ""
	}
}
