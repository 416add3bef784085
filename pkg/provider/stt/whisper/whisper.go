// Package whisper provides whisper.cpp-backed STT engines.
//
// Two engines are available:
//
//   - [NativeEngine] links whisper.cpp through its CGO bindings and runs fully
//     offline. It is the default primary recognizer.
//   - [ServerEngine] talks to a running whisper-server binary over its REST API
//     (POST /inference). It is useful when the model lives on another host or
//     a GPU box.
//
// Both are batch engines: one call to Recognize transcribes one utterance.
//
// Usage:
//
//	eng, err := whisper.NewNative("/models/ggml-base.en.bin", whisper.WithLanguage("en"))
//	if errors.Is(err, stt.ErrEngineUnavailable) {
//	    // voice input disabled
//	}
//	t, err := eng.Recognize(ctx, stt.Utterance{PCM: pcm, SampleRate: 16000})
package whisper

import (
	"math"
	"strings"
)

const (
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// defaultConfidence is reported when the engine gives no usable score.
	defaultConfidence = 0.8
)

// Option configures either engine.
type Option func(*options)

type options struct {
	language          string
	model             string
	defaultConfidence float64
	name              string
}

func defaults() options {
	return options{language: defaultLanguage, defaultConfidence: defaultConfidence}
}

// WithLanguage sets the BCP-47 language code used when an utterance carries
// no hint (e.g. "en", "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(o *options) { o.language = lang }
}

// WithModel sets the model identifier forwarded to the whisper.cpp server.
// When empty the server uses whichever model it was started with. Ignored by
// [NativeEngine].
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithDefaultConfidence sets the confidence reported when the engine returns
// text without any probability information. Defaults to 0.8.
func WithDefaultConfidence(c float64) Option {
	return func(o *options) {
		if c >= 0 && c <= 1 {
			o.defaultConfidence = c
		}
	}
}

// WithName overrides the engine name used in logs and fallback reports.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// isSpecialToken reports whether a whisper token is a control token such as
// "[_BEG_]" or "<|en|>" that carries no transcript text.
func isSpecialToken(text string) bool {
	return strings.HasPrefix(text, "[_") || strings.HasPrefix(text, "<|")
}

// clamp01 restricts v to [0, 1]; NaN maps to 0.
func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
