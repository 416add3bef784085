// This file contains the NativeEngine implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voxcal/pkg/audio"
	"github.com/MrWong99/voxcal/pkg/provider/stt"
)

// Compile-time assertion that NativeEngine satisfies stt.Recognizer.
var _ stt.Recognizer = (*NativeEngine)(nil)

// NativeEngine implements stt.Recognizer using whisper.cpp Go bindings. The
// model is loaded once and shared; each Recognize call gets its own
// whisper context, so concurrent calls do not interfere.
type NativeEngine struct {
	model whisperlib.Model
	opts  options
}

// NewNative loads the whisper.cpp model at modelPath. A missing or unreadable
// model is reported as an error matching [stt.ErrEngineUnavailable]. The
// caller must call Close when the engine is no longer needed.
func NewNative(modelPath string, opts ...Option) (*NativeEngine, error) {
	o := defaults()
	o.name = "whisper-native"
	for _, fn := range opts {
		fn(&o)
	}

	if modelPath == "" {
		return nil, stt.Fatal(o.name, errors.New("model path must not be empty"))
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, stt.Fatal(o.name, fmt.Errorf("model %q: %w", modelPath, err))
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, stt.Fatal(o.name, fmt.Errorf("load model %q: %w", modelPath, err))
	}
	return &NativeEngine{model: model, opts: o}, nil
}

// Name implements stt.Recognizer.
func (e *NativeEngine) Name() string { return e.opts.name }

// Close releases the whisper model.
func (e *NativeEngine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Recognize runs whisper.cpp inference on u. Inference itself cannot be
// interrupted once the encoder has started; on cancellation Recognize
// returns immediately and the background inference result is discarded.
func (e *NativeEngine) Recognize(ctx context.Context, u stt.Utterance) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}
	if u.SampleRate != 0 && u.SampleRate != defaultSampleRate {
		return stt.Transcript{}, stt.Transient(e.opts.name,
			fmt.Errorf("unsupported sample rate %d, whisper.cpp needs %d", u.SampleRate, defaultSampleRate))
	}

	type result struct {
		t   stt.Transcript
		err error
	}
	ch := make(chan result, 1)
	go func() {
		t, err := e.infer(ctx, u)
		ch <- result{t, err}
	}()

	select {
	case <-ctx.Done():
		return stt.Transcript{}, ctx.Err()
	case r := <-ch:
		return r.t, r.err
	}
}

func (e *NativeEngine) infer(ctx context.Context, u stt.Utterance) (stt.Transcript, error) {
	// Each context is not thread-safe, but the model can be shared.
	wctx, err := e.model.NewContext()
	if err != nil {
		return stt.Transcript{}, stt.Transient(e.opts.name, fmt.Errorf("create context: %w", err))
	}

	lang := u.Language
	if lang == "" {
		lang = e.opts.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	floats := audio.Floats(u.PCM)
	samples := make([]float32, len(floats))
	for i, v := range floats {
		samples[i] = float32(v)
	}

	// Returning false from the encoder-begin callback aborts the run.
	abort := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, abort, nil, nil); err != nil {
		if ctx.Err() != nil {
			return stt.Transcript{}, ctx.Err()
		}
		return stt.Transcript{}, stt.Transient(e.opts.name, fmt.Errorf("process audio: %w", err))
	}

	var (
		parts []string
		probs []float64
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, stt.Transient(e.opts.name, fmt.Errorf("read segment: %w", err))
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
		for _, tok := range segment.Tokens {
			if isSpecialToken(tok.Text) {
				continue
			}
			probs = append(probs, float64(tok.P))
		}
	}

	text := strings.Join(parts, " ")
	return stt.Transcript{
		Text:       text,
		IsFinal:    true,
		Confidence: tokenConfidence(text, probs, e.opts.defaultConfidence),
		Engine:     e.opts.name,
		Duration:   u.Duration(),
	}, nil
}

// tokenConfidence averages per-token probabilities. Empty text has zero
// confidence; text without token data gets the fallback.
func tokenConfidence(text string, probs []float64, fallback float64) float64 {
	if text == "" {
		return 0
	}
	if len(probs) == 0 {
		return fallback
	}
	var sum float64
	for _, p := range probs {
		sum += p
	}
	return clamp01(sum / float64(len(probs)))
}
