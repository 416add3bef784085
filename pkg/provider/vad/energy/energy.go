// Package energy provides a VAD engine that classifies frames by RMS level.
//
// The frame level in dBFS is mapped linearly onto a speech probability between
// a floor (probability 0) and a ceiling (probability 1). With the defaults of
// -60 and -20 dBFS a frame at -40 dBFS scores 0.5.
package energy

import (
	"errors"
	"sync"

	"github.com/MrWong99/voxcal/pkg/audio"
	"github.com/MrWong99/voxcal/pkg/provider/vad"
)

const (
	defaultFloorDB   = -60.0
	defaultCeilingDB = -20.0
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)

// Engine creates energy-based VAD sessions.
type Engine struct {
	floorDB   float64
	ceilingDB float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithRange sets the dBFS levels mapped to probability 0 and 1.
func WithRange(floorDB, ceilingDB float64) Option {
	return func(e *Engine) {
		if ceilingDB > floorDB {
			e.floorDB, e.ceilingDB = floorDB, ceilingDB
		}
	}
}

// New returns an Engine with the given options.
func New(opts ...Option) *Engine {
	e := &Engine{floorDB: defaultFloorDB, ceilingDB: defaultCeilingDB}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Probability maps a dBFS level to a speech probability.
func (e *Engine) Probability(db float64) float64 {
	p := (db - e.floorDB) / (e.ceilingDB - e.floorDB)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// ThresholdFor returns the probability corresponding to a dBFS level. Use it
// to express session thresholds in decibels.
func (e *Engine) ThresholdFor(db float64) float64 { return e.Probability(db) }

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &session{engine: e, cfg: cfg}, nil
}

type session struct {
	engine *Engine
	cfg    vad.Config

	mu       sync.Mutex
	speaking bool
	closed   bool
}

var errClosed = errors.New("energy vad: session closed")

func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, errClosed
	}
	if len(frame)%2 != 0 {
		return vad.Event{}, errors.New("energy vad: odd frame length")
	}

	p := s.engine.Probability(audio.DBFS(frame))
	ev := vad.Event{Probability: p}
	switch {
	case !s.speaking && p >= s.cfg.SpeechThreshold:
		s.speaking = true
		ev.Type = vad.SpeechStart
	case s.speaking && p < s.cfg.SilenceThreshold:
		s.speaking = false
		ev.Type = vad.SpeechEnd
	case s.speaking:
		ev.Type = vad.SpeechContinue
	default:
		ev.Type = vad.Silence
	}
	return ev, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
