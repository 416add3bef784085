// Package openai provides a TTS engine backed by the OpenAI speech API.
//
// The engine requests raw PCM output (24 kHz, 16-bit, mono) and resamples it
// to the configured output rate.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/voxcal/pkg/audio"
	"github.com/MrWong99/voxcal/pkg/provider/tts"
)

const (
	// DefaultModel is the default OpenAI speech model.
	DefaultModel = oai.SpeechModelTTS1

	// DefaultVoice is used when neither the call nor the engine names one.
	DefaultVoice = string(oai.AudioSpeechNewParamsVoiceAlloy)

	// pcmRate is the fixed sample rate of the API's "pcm" response format.
	pcmRate = 24000

	defaultOutputRate = 16000
)

// Ensure Engine implements the tts.Engine interface.
var _ tts.Engine = (*Engine)(nil)

// Engine implements tts.Engine using the OpenAI API.
type Engine struct {
	client     oai.Client
	model      string
	voice      string
	outputRate int
}

type config struct {
	baseURL    string
	voice      string
	timeout    time.Duration
	maxRetries int
	outputRate int
}

// Option is a functional option for Engine.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithVoice sets the default voice (e.g. "alloy", "nova").
func WithVoice(v string) Option {
	return func(c *config) { c.voice = v }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often the client retries failed requests.
// Defaults to 0; the synthesis chain moves on to the next engine instead.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithOutputSampleRate sets the rate PCM is resampled to. Defaults to 16000.
func WithOutputSampleRate(rate int) Option {
	return func(c *config) { c.outputRate = rate }
}

// New constructs an OpenAI speech engine. If model is empty, DefaultModel is
// used.
func New(apiKey, model string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{voice: DefaultVoice, outputRate: defaultOutputRate}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Engine{
		client:     oai.NewClient(reqOpts...),
		model:      model,
		voice:      cfg.voice,
		outputRate: cfg.outputRate,
	}, nil
}

// Name implements tts.Engine.
func (e *Engine) Name() string { return "openai" }

// Synthesize implements tts.Engine.
func (e *Engine) Synthesize(ctx context.Context, text string, voice tts.Voice) (tts.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Audio{}, errors.New("openai tts: text must not be empty")
	}
	v := voice.ID
	if v == "" {
		v = e.voice
	}
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          e.model,
		Voice:          oai.AudioSpeechNewParamsVoice(v),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.Speed > 0 {
		params.Speed = param.NewOpt(voice.Speed)
	}

	resp, err := e.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("openai tts: synthesize: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("openai tts: read audio: %w", err)
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	rate := pcmRate
	if e.outputRate > 0 && e.outputRate != rate {
		pcm = audio.ResampleMono16(pcm, rate, e.outputRate)
		rate = e.outputRate
	}
	return tts.Audio{PCM: pcm, SampleRate: rate}, nil
}
