package tts

import "time"

// Voice selects how an engine speaks. Zero values mean engine defaults.
type Voice struct {
	// ID is the engine-specific voice or speaker identifier.
	ID string

	// Language is a BCP-47 code (e.g. "en").
	Language string

	// Speed adjusts speaking rate (0.5–2.0, 1.0 = default, 0 = unset).
	Speed float64
}

// Audio is synthesised 16-bit signed little-endian mono PCM.
type Audio struct {
	PCM        []byte
	SampleRate int
}

// Duration returns the playback length of the audio.
func (a Audio) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(a.PCM)/2) * time.Second / time.Duration(a.SampleRate)
}

// Speech is the result of a [Synthesizer] call.
type Speech struct {
	// Text is the reply that was spoken (or is to be displayed).
	Text string

	// Audio is empty when TextOnly is set.
	Audio Audio

	// Engine names the engine that produced Audio; empty for text-only
	// results.
	Engine string

	// Fallback is true when the primary engine did not serve the request.
	Fallback bool

	// TextOnly is true when every engine failed. The caller should display
	// Text instead of playing audio.
	TextOnly bool
}
