package resilience

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/MrWong99/voxcal/pkg/provider/tts"
)

var _ tts.Synthesizer = (*SynthChain)(nil)

var errEmptyAudio = errors.New("engine returned no audio")

// SynthChain implements [tts.Synthesizer] over an ordered list of
// [tts.Engine]s. Synthesize never fails: when no engine produces audio, the
// result is text-only.
type SynthChain struct {
	group *FallbackGroup[tts.Engine]
	voice tts.Voice
}

// NewSynthChain returns an empty chain speaking with voice. Register engines
// with Add; a chain with no engines always answers text-only.
func NewSynthChain(voice tts.Voice, cfg FallbackConfig) *SynthChain {
	return &SynthChain{group: NewFallbackGroup[tts.Engine](cfg), voice: voice}
}

// Add appends an engine. The first engine added is the primary.
func (c *SynthChain) Add(e tts.Engine, opts ...EntryOption) {
	c.group.Add(e.Name(), e, opts...)
}

// Names returns the engine names in fallback order.
func (c *SynthChain) Names() []string { return c.group.Names() }

// Status returns the breaker state of every engine.
func (c *SynthChain) Status() []EntryStatus { return c.group.Status() }

// Synthesize implements tts.Synthesizer.
func (c *SynthChain) Synthesize(ctx context.Context, text string) tts.Speech {
	if strings.TrimSpace(text) == "" || c.group.Len() == 0 {
		return tts.Speech{Text: text, TextOnly: true, Fallback: c.group.Len() > 0}
	}

	a, served, err := ExecuteWithResult(ctx, c.group, func(ctx context.Context, e tts.Engine) (tts.Audio, error) {
		a, err := e.Synthesize(ctx, text, c.voice)
		if err == nil && len(a.PCM) == 0 {
			return a, errEmptyAudio
		}
		return a, err
	})
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("all synthesis engines failed, replying with text only",
				"engines", len(served.Attempts), "error", err)
		}
		return tts.Speech{Text: text, TextOnly: true, Fallback: true}
	}
	if served.Fallback() {
		slog.Info("synthesis served by fallback engine", "engine", served.Name)
	}
	return tts.Speech{
		Text:     text,
		Audio:    a,
		Engine:   served.Name,
		Fallback: served.Fallback(),
	}
}
