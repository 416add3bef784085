package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voxcal/pkg/audio"
	"github.com/MrWong99/voxcal/pkg/provider/stt"
)

// Compile-time assertion that ServerEngine satisfies stt.Recognizer.
var _ stt.Recognizer = (*ServerEngine)(nil)

// ServerEngine implements stt.Recognizer backed by a whisper.cpp HTTP server.
type ServerEngine struct {
	serverURL  string
	opts       options
	httpClient *http.Client
}

// NewServer creates an engine that posts utterances to the whisper.cpp server
// at serverURL (e.g. "http://localhost:8080").
func NewServer(serverURL string, opts ...Option) (*ServerEngine, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	o := defaults()
	o.name = "whisper-server"
	for _, fn := range opts {
		fn(&o)
	}
	return &ServerEngine{
		serverURL:  strings.TrimRight(serverURL, "/"),
		opts:       o,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Name implements stt.Recognizer.
func (e *ServerEngine) Name() string { return e.opts.name }

// inferenceResponse is the verbose_json body returned by whisper-server.
type inferenceResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
		Tokens     []struct {
			Text        string  `json:"text"`
			Probability float64 `json:"probability"`
		} `json:"tokens"`
	} `json:"segments"`
}

// Recognize uploads u as a WAV file and parses the verbose_json response.
// Connection failures and 5xx responses are transient; 404 means the server
// has no inference endpoint and is treated as fatal.
func (e *ServerEngine) Recognize(ctx context.Context, u stt.Utterance) (stt.Transcript, error) {
	sr := u.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	wav := audio.EncodeWAV(u.PCM, sr, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: write wav data: %w", err)
	}

	lang := u.Language
	if lang == "" {
		lang = e.opts.language
	}
	fields := map[string]string{
		"language":        lang,
		"model":           e.opts.model,
		"response_format": "verbose_json",
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+"/inference", &body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return stt.Transcript{}, ctx.Err()
		}
		return stt.Transcript{}, stt.Transient(e.opts.name, fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return stt.Transcript{}, stt.Fatal(e.opts.name, fmt.Errorf("server has no /inference endpoint"))
	case resp.StatusCode != http.StatusOK:
		return stt.Transcript{}, stt.Transient(e.opts.name, fmt.Errorf("server returned HTTP %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Transcript{}, stt.Transient(e.opts.name, fmt.Errorf("read response body: %w", err))
	}
	var result inferenceResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return stt.Transcript{}, stt.Transient(e.opts.name, fmt.Errorf("parse JSON response: %w", err))
	}

	text := strings.TrimSpace(result.Text)
	return stt.Transcript{
		Text:       text,
		IsFinal:    true,
		Confidence: e.confidence(text, result),
		Engine:     e.opts.name,
		Duration:   u.Duration(),
	}, nil
}

// confidence prefers token probabilities, then segment avg_logprob, then the
// configured default.
func (e *ServerEngine) confidence(text string, r inferenceResponse) float64 {
	var probs []float64
	var logprobs []float64
	for _, s := range r.Segments {
		for _, tok := range s.Tokens {
			if isSpecialToken(tok.Text) {
				continue
			}
			probs = append(probs, tok.Probability)
		}
		if s.AvgLogprob != 0 {
			logprobs = append(logprobs, s.AvgLogprob)
		}
	}
	if len(probs) == 0 && len(logprobs) > 0 && text != "" {
		var sum float64
		for _, lp := range logprobs {
			sum += lp
		}
		return clamp01(math.Exp(sum / float64(len(logprobs))))
	}
	return tokenConfidence(text, probs, e.opts.defaultConfidence)
}
