package audio

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultPlaybackChunk is the frame length [SerialPlayer] writes to its sink.
const DefaultPlaybackChunk = 20 * time.Millisecond

// Player outputs synthesised speech and cues. Play blocks until the audio has
// been written or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, pcm []byte, sampleRate int) error
}

// ErrPlaybackInterrupted is returned by [SerialPlayer.Play] when a newer Play
// call or [SerialPlayer.Interrupt] cut playback short.
var ErrPlaybackInterrupted = errors.New("audio: playback interrupted")

// SerialPlayer serialises playback onto a single [Sink]. Starting a new
// playback cancels the one in progress and waits for it to release the sink,
// so the sink never receives interleaved audio.
//
// SerialPlayer is safe for concurrent use.
type SerialPlayer struct {
	sink     Sink
	chunk    time.Duration
	realtime bool

	mu      sync.Mutex
	cancel  context.CancelCauseFunc
	done    chan struct{}
	writeMu sync.Mutex
	seq     uint64
}

var _ Player = (*SerialPlayer)(nil)

// PlayerOption configures a [SerialPlayer].
type PlayerOption func(*SerialPlayer)

// WithChunk sets the duration of each frame written to the sink.
func WithChunk(d time.Duration) PlayerOption {
	return func(p *SerialPlayer) {
		if d > 0 {
			p.chunk = d
		}
	}
}

// WithRealtime paces frame writes to wall-clock time so that Play returns
// roughly when the audio has finished sounding on the remote end.
func WithRealtime(on bool) PlayerOption {
	return func(p *SerialPlayer) { p.realtime = on }
}

// NewSerialPlayer returns a player writing to sink. A nil sink discards audio.
func NewSerialPlayer(sink Sink, opts ...PlayerOption) *SerialPlayer {
	if sink == nil {
		sink = DiscardSink{}
	}
	p := &SerialPlayer{sink: sink, chunk: DefaultPlaybackChunk}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Play writes pcm (16-bit mono at sampleRate) to the sink in fixed-size
// frames. Any playback already in progress is interrupted first.
func (p *SerialPlayer) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		return errors.New("audio: play: sample rate must be positive")
	}
	playCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	prevCancel, prevDone := p.cancel, p.done
	p.cancel, p.done = cancel, done
	p.mu.Unlock()

	if prevCancel != nil {
		prevCancel(ErrPlaybackInterrupted)
		<-prevDone
	}

	defer func() {
		p.mu.Lock()
		if p.done == done {
			p.cancel, p.done = nil, nil
		}
		p.mu.Unlock()
		cancel(nil)
		close(done)
	}()

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	chunkBytes := int(p.chunk.Seconds()*float64(sampleRate)) * bytesPerSample
	if chunkBytes <= 0 {
		chunkBytes = bytesPerSample
	}

	start := time.Now()
	var offset time.Duration
	for i := 0; i < len(pcm); i += chunkBytes {
		if err := playCtx.Err(); err != nil {
			return playbackErr(playCtx)
		}
		end := min(i+chunkBytes, len(pcm))
		p.seq++
		f := Frame{
			Data:       pcm[i:end],
			SampleRate: sampleRate,
			Channels:   1,
			Seq:        p.seq,
			Timestamp:  offset,
		}
		if err := p.sink.WriteFrame(playCtx, f); err != nil {
			if playCtx.Err() != nil {
				return playbackErr(playCtx)
			}
			return err
		}
		offset += f.Duration()

		if p.realtime {
			if wait := offset - time.Since(start); wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-playCtx.Done():
					t.Stop()
					return playbackErr(playCtx)
				case <-t.C:
				}
			}
		}
	}
	return nil
}

// Interrupt cancels the playback in progress, if any, and waits for it to
// stop writing.
func (p *SerialPlayer) Interrupt() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel(ErrPlaybackInterrupted)
	<-done
}

func playbackErr(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}

// DiscardSink drops every frame.
type DiscardSink struct{}

// WriteFrame implements [Sink].
func (DiscardSink) WriteFrame(context.Context, Frame) error { return nil }

// SinkFunc adapts a function to the [Sink] interface.
type SinkFunc func(ctx context.Context, f Frame) error

// WriteFrame implements [Sink].
func (fn SinkFunc) WriteFrame(ctx context.Context, f Frame) error { return fn(ctx, f) }
