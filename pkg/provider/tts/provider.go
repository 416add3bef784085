// Package tts defines the Engine interface for Text-to-Speech backends and the
// never-failing Synthesizer contract the pipeline speaks through.
//
// An Engine wraps one synthesis service (a local Coqui server, the OpenAI
// speech API) and may fail. A Synthesizer sits in front of an ordered list of
// engines and always returns a [Speech]: when every engine fails the result is
// text-only so the reply can still be displayed.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Engine is the abstraction over any TTS backend.
type Engine interface {
	// Synthesize renders text as 16-bit mono PCM. Returns an error if the
	// backend fails or ctx is cancelled.
	Synthesize(ctx context.Context, text string, voice Voice) (Audio, error)

	// Name identifies the engine in logs, metrics and fallback reports.
	Name() string
}

// Synthesizer turns reply text into speech and never fails. See [Speech].
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) Speech
}
