// Package openai provides an STT engine backed by the OpenAI audio
// transcription API.
//
// Confidence is derived from token log probabilities, which the API only
// returns for the gpt-4o transcription models. With whisper-1 the engine
// reports a fixed default confidence.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/voxcal/pkg/audio"
	"github.com/MrWong99/voxcal/pkg/provider/stt"
)

// DefaultModel returns token logprobs and is the cheapest transcription model.
const DefaultModel = oai.AudioModelGPT4oMiniTranscribe

const (
	defaultSampleRate = 16000
	defaultConfidence = 0.8
)

// Ensure Engine implements the stt.Recognizer interface.
var _ stt.Recognizer = (*Engine)(nil)

// Engine implements stt.Recognizer using the OpenAI API.
type Engine struct {
	client            oai.Client
	model             string
	language          string
	defaultConfidence float64
}

type config struct {
	baseURL    string
	language   string
	timeout    time.Duration
	maxRetries int
	confidence float64
}

// Option is a functional option for Engine.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithLanguage sets the ISO-639-1 language hint used when an utterance has
// none.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often the client retries failed requests. The
// fallback chain already retries on the next engine, so the default is 0.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithDefaultConfidence sets the confidence reported for models that return
// no log probabilities.
func WithDefaultConfidence(v float64) Option {
	return func(c *config) { c.confidence = v }
}

// New constructs an OpenAI transcription engine. If model is empty,
// DefaultModel is used. An empty apiKey yields an error matching
// [stt.ErrEngineUnavailable].
func New(apiKey, model string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, stt.Fatal("openai", errors.New("apiKey must not be empty"))
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{confidence: defaultConfidence}
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
		client:            oai.NewClient(reqOpts...),
		model:             model,
		language:          cfg.language,
		defaultConfidence: cfg.confidence,
	}, nil
}

// Name implements stt.Recognizer.
func (e *Engine) Name() string { return "openai" }

// wavFile gives the multipart encoder a file name so the API can detect the
// container format.
type wavFile struct {
	*bytes.Reader
}

func (wavFile) Filename() string    { return "audio.wav" }
func (wavFile) ContentType() string { return "audio/wav" }

// Recognize implements stt.Recognizer.
func (e *Engine) Recognize(ctx context.Context, u stt.Utterance) (stt.Transcript, error) {
	sr := u.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	params := oai.AudioTranscriptionNewParams{
		File:           wavFile{bytes.NewReader(audio.EncodeWAV(u.PCM, sr, 1))},
		Model:          e.model,
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if lang := cmpOr(u.Language, e.language); lang != "" {
		params.Language = param.NewOpt(lang)
	}
	if e.model != oai.AudioModelWhisper1 {
		params.Include = []oai.TranscriptionInclude{oai.TranscriptionIncludeLogprobs}
	}

	resp, err := e.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return stt.Transcript{}, ctx.Err()
		}
		var apiErr *oai.Error
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return stt.Transcript{}, stt.Fatal(e.Name(), fmt.Errorf("transcribe: %w", err))
		}
		return stt.Transcript{}, stt.Transient(e.Name(), fmt.Errorf("transcribe: %w", err))
	}

	text := strings.TrimSpace(resp.Text)
	return stt.Transcript{
		Text:       text,
		IsFinal:    true,
		Confidence: confidence(text, resp.Logprobs, e.defaultConfidence),
		Engine:     e.Name(),
		Duration:   u.Duration(),
	}, nil
}

// confidence is exp(mean token logprob), i.e. the geometric mean of token
// probabilities.
func confidence(text string, lps []oai.TranscriptionLogprob, fallback float64) float64 {
	if text == "" {
		return 0
	}
	if len(lps) == 0 {
		return fallback
	}
	var sum float64
	for _, lp := range lps {
		sum += lp.Logprob
	}
	c := math.Exp(sum / float64(len(lps)))
	if c > 1 {
		return 1
	}
	return c
}

func cmpOr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
