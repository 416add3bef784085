// Package mock provides in-memory implementations of [audio.Source],
// [audio.Sink] and [audio.Player] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on what was delivered, and expose exported fields to control return
// values.
//
// Typical usage:
//
//	src := mock.NewSource(16)
//	src.Push(audio.Frame{Data: pcm, SampleRate: 16000, Channels: 1, Seq: 1})
//	ctrl.Run(ctx, src)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxcal/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source] backed by a buffered channel. Tests push
// frames with [Source.Push]; Close closes the channel.
type Source struct {
	ch     chan audio.Frame
	once   sync.Once
	mu     sync.Mutex
	closed bool
	seq    uint64

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ audio.Source = (*Source)(nil)

// NewSource returns a Source whose channel holds up to buf frames.
func NewSource(buf int) *Source {
	return &Source{ch: make(chan audio.Frame, buf)}
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.Frame { return s.ch }

// Push delivers f to the stream. It blocks when the buffer is full and is a
// no-op after Close.
func (s *Source) Push(f audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.ch <- f
}

// PushPCM wraps pcm in a 16 kHz mono frame with the next sequence number and
// pushes it.
func (s *Source) PushPCM(pcm []byte) {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	s.Push(audio.Frame{Data: pcm, SampleRate: 16000, Channels: 1, Seq: seq})
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	s.closed = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
	return nil
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock [audio.Sink] that records every frame written to it.
type Sink struct {
	mu     sync.Mutex
	frames []audio.Frame

	// WriteErr, when non-nil, is returned by every WriteFrame call.
	WriteErr error
}

var _ audio.Sink = (*Sink)(nil)

// WriteFrame implements [audio.Sink].
func (s *Sink) WriteFrame(_ context.Context, f audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.frames = append(s.frames, f)
	return nil
}

// Frames returns a copy of the frames written so far.
func (s *Sink) Frames() []audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// ─── Player ───────────────────────────────────────────────────────────────────

// PlayCall records the arguments of a single [Player.Play] invocation.
type PlayCall struct {
	PCM        []byte
	SampleRate int
}

// Player is a mock [audio.Player]. Play returns immediately unless Block is
// set, in which case it waits for ctx to be cancelled.
type Player struct {
	mu    sync.Mutex
	calls []PlayCall

	// PlayErr is returned by Play.
	PlayErr error

	// Block makes Play wait until its context is done.
	Block bool
}

var _ audio.Player = (*Player)(nil)

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	p.mu.Lock()
	p.calls = append(p.calls, PlayCall{PCM: pcm, SampleRate: sampleRate})
	block, err := p.Block, p.PlayErr
	p.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

// Calls returns a copy of all recorded Play invocations.
func (p *Player) Calls() []PlayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PlayCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// Reset clears recorded calls.
func (p *Player) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
