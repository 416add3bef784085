// Package spotter implements wake.Detector by keyword spotting: short speech
// segments are cut out of the frame stream with a VAD, transcribed by an
// stt.Recognizer in the background, and the transcript is scored against the
// wake phrase with [Score].
//
// Detect never waits for recognition. A score computed in the background is
// reported on the next Detect call and then cleared, so every spoken segment
// produces at most one non-zero score.
package spotter

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxcal/pkg/audio"
	"github.com/MrWong99/voxcal/pkg/provider/stt"
	"github.com/MrWong99/voxcal/pkg/provider/vad"
	"github.com/MrWong99/voxcal/pkg/provider/wake"
)

var (
	_ wake.Detector            = (*Spotter)(nil)
	_ stt.AvailabilityReporter = (*Spotter)(nil)
)

// Wake phrases are short: 0.3 s to 2 s of speech followed by a pause.
const (
	defaultMinSpeech        = 300 * time.Millisecond
	defaultMaxSpeech        = 2 * time.Second
	defaultEndSilence       = 300 * time.Millisecond
	defaultRecognizeTimeout = 3 * time.Second
)

// Option configures a [Spotter].
type Option func(*Spotter)

// WithSegmentBounds sets the minimum and maximum speech length considered a
// wake phrase candidate.
func WithSegmentBounds(minSpeech, maxSpeech time.Duration) Option {
	return func(s *Spotter) {
		if minSpeech > 0 && maxSpeech > minSpeech {
			s.minSpeech, s.maxSpeech = minSpeech, maxSpeech
		}
	}
}

// WithEndSilence sets how long a pause must last to close a segment.
func WithEndSilence(d time.Duration) Option {
	return func(s *Spotter) {
		if d > 0 {
			s.endSilence = d
		}
	}
}

// WithRecognizeTimeout bounds each background recognition.
func WithRecognizeTimeout(d time.Duration) Option {
	return func(s *Spotter) {
		if d > 0 {
			s.recognizeTimeout = d
		}
	}
}

// WithLanguage sets the language hint passed to the recognizer.
func WithLanguage(lang string) Option {
	return func(s *Spotter) { s.language = lang }
}

// Spotter is a keyword-spotting wake detector. Create with [New]; call Close
// when done.
type Spotter struct {
	phrase string
	rec    stt.Recognizer
	vadSes vad.SessionHandle

	minSpeech        time.Duration
	maxSpeech        time.Duration
	endSilence       time.Duration
	recognizeTimeout time.Duration
	language         string

	mu       sync.Mutex
	buf      []byte
	rate     int
	speech   time.Duration
	silence  time.Duration
	inSpeech bool
	// overlong discards speech until the next pause after a segment ran
	// past maxSpeech.
	overlong bool

	// generation is bumped by Reset so stale background results are dropped.
	generation atomic.Uint64
	pending    atomic.Uint64 // math.Float64bits of the last score
	// fatal is set once the recognizer reported a fatal error.
	fatal atomic.Bool

	segments chan segment
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type segment struct {
	pcm  []byte
	rate int
	gen  uint64
}

// New creates a Spotter listening for phrase. vadEngine segments speech and
// rec transcribes candidate segments.
func New(phrase string, rec stt.Recognizer, vadEngine vad.Engine, opts ...Option) (*Spotter, error) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return nil, errors.New("spotter: wake phrase must not be empty")
	}
	if rec == nil || vadEngine == nil {
		return nil, errors.New("spotter: recognizer and vad engine are required")
	}
	ses, err := vadEngine.NewSession(vad.Config{
		SampleRate:       audio.PipelineFormat.SampleRate,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.4,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Spotter{
		phrase:           phrase,
		rec:              rec,
		vadSes:           ses,
		minSpeech:        defaultMinSpeech,
		maxSpeech:        defaultMaxSpeech,
		endSilence:       defaultEndSilence,
		recognizeTimeout: defaultRecognizeTimeout,
		segments:         make(chan segment, 1),
		ctx:              ctx,
		cancel:           cancel,
	}
	for _, o := range opts {
		o(s)
	}
	s.wg.Add(1)
	go s.worker()
	return s, nil
}

// Detect implements wake.Detector.
func (s *Spotter) Detect(f audio.Frame) float64 {
	score := math.Float64frombits(s.pending.Swap(0))

	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := s.vadSes.ProcessFrame(f.Data)
	if err != nil {
		return score
	}
	d := f.Duration()

	switch {
	case ev.IsSpeech():
		if s.overlong {
			return score
		}
		if !s.inSpeech {
			s.inSpeech = true
			s.buf = s.buf[:0]
			s.speech, s.silence = 0, 0
			s.rate = f.SampleRate
		}
		s.buf = append(s.buf, f.Data...)
		s.speech += d
		s.silence = 0
		if s.speech > s.maxSpeech {
			// Too long to be a wake phrase.
			s.resetSegmentLocked()
			s.overlong = true
		}
	case s.overlong:
		s.overlong = false
		s.vadSes.Reset()
	case s.inSpeech:
		s.buf = append(s.buf, f.Data...)
		s.silence += d
		if s.silence >= s.endSilence {
			if s.speech >= s.minSpeech {
				s.submitLocked()
			}
			s.resetSegmentLocked()
		}
	}
	return score
}

// submitLocked hands the current segment to the worker, dropping it if the
// worker is still busy with the previous one.
func (s *Spotter) submitLocked() {
	pcm := make([]byte, len(s.buf))
	copy(pcm, s.buf)
	select {
	case s.segments <- segment{pcm: pcm, rate: s.rate, gen: s.generation.Load()}:
	default:
		slog.Debug("wake spotter busy, dropping segment")
	}
}

func (s *Spotter) resetSegmentLocked() {
	s.inSpeech = false
	s.overlong = false
	s.buf = s.buf[:0]
	s.speech, s.silence = 0, 0
	s.vadSes.Reset()
}

// Reset implements wake.Detector.
func (s *Spotter) Reset() {
	s.generation.Add(1)
	s.pending.Store(0)
	s.mu.Lock()
	s.resetSegmentLocked()
	s.mu.Unlock()
}

// Available reports whether the spotter can still recognise the wake
// phrase. It turns false once the recognizer reports itself unavailable or
// fails with a fatal error.
func (s *Spotter) Available() bool {
	return !s.fatal.Load() && stt.Available(s.rec)
}

// Close stops the background worker and releases the VAD session.
func (s *Spotter) Close() error {
	s.cancel()
	s.wg.Wait()
	return s.vadSes.Close()
}

func (s *Spotter) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case seg := <-s.segments:
			s.score(seg)
		}
	}
}

func (s *Spotter) score(seg segment) {
	ctx, cancel := context.WithTimeout(s.ctx, s.recognizeTimeout)
	defer cancel()

	t, err := s.rec.Recognize(ctx, stt.Utterance{PCM: seg.pcm, SampleRate: seg.rate, Language: s.language})
	if err != nil {
		switch {
		case s.ctx.Err() != nil:
		case stt.IsFatal(err):
			if s.fatal.CompareAndSwap(false, true) {
				slog.Error("wake spotter recognizer unavailable", "engine", s.rec.Name(), "err", err)
			}
		default:
			slog.Warn("wake spotter recognition failed", "engine", s.rec.Name(), "err", err)
		}
		return
	}
	if seg.gen != s.generation.Load() {
		return
	}
	sc := Score(t.Text, s.phrase)
	// Only the score is logged; the transcript may contain the phrase.
	slog.Debug("wake candidate scored", "score", sc)
	if sc > 0 {
		s.pending.Store(math.Float64bits(sc))
	}
}
