// Package mock provides test doubles for the tts package interfaces.
//
// Use Engine to drive a fallback chain with controlled failures, and
// Synthesizer to give the pipeline a synthesiser whose output and call
// history can be inspected directly.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxcal/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice tts.Voice
}

// Engine is a mock implementation of tts.Engine.
type Engine struct {
	mu sync.Mutex

	// EngineName is returned by Name. Defaults to "mock".
	EngineName string

	// Audio is returned on success. When PCM is nil, 20 ms of silence per
	// call at 16 kHz is returned.
	Audio tts.Audio

	// Err, if non-nil, is returned by every call.
	Err error

	// Delay holds each call for this long, returning early on cancellation.
	Delay time.Duration

	// Calls records every call to Synthesize.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns Audio or Err.
func (e *Engine) Synthesize(ctx context.Context, text string, voice tts.Voice) (tts.Audio, error) {
	e.mu.Lock()
	e.Calls = append(e.Calls, SynthesizeCall{Text: text, Voice: voice})
	a, err, delay := e.Audio, e.Err, e.Delay
	e.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return tts.Audio{}, ctx.Err()
		case <-t.C:
		}
	}
	if err != nil {
		return tts.Audio{}, err
	}
	if a.PCM == nil {
		a = tts.Audio{PCM: make([]byte, 640), SampleRate: 16000}
	}
	return a, nil
}

// Name implements tts.Engine.
func (e *Engine) Name() string {
	if e.EngineName == "" {
		return "mock"
	}
	return e.EngineName
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}

// SetErr replaces Err. Thread-safe.
func (e *Engine) SetErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Err = err
}

var _ tts.Engine = (*Engine)(nil)

// Synthesizer is a mock tts.Synthesizer that speaks every text with a short
// silent clip, or returns text-only results when TextOnly is set.
type Synthesizer struct {
	mu sync.Mutex

	// TextOnly makes every result text-only.
	TextOnly bool

	// Block makes every call wait for ctx cancellation and then return a
	// text-only result.
	Block bool

	// Texts records every text passed to Synthesize, in order.
	Texts []string
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) tts.Speech {
	s.mu.Lock()
	s.Texts = append(s.Texts, text)
	block, textOnly := s.Block, s.TextOnly
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return tts.Speech{Text: text, TextOnly: true, Fallback: true}
	}
	if textOnly {
		return tts.Speech{Text: text, TextOnly: true}
	}
	return tts.Speech{
		Text:   text,
		Audio:  tts.Audio{PCM: make([]byte, 640), SampleRate: 16000},
		Engine: "mock",
	}
}

// Spoken returns a copy of all texts synthesised so far.
func (s *Synthesizer) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Texts))
	copy(out, s.Texts)
	return out
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
