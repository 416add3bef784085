// Package audio defines the frame type, source and sink abstractions, and the
// PCM helpers shared by the voxcal pipeline.
//
// Everything in this package works on 16-bit signed little-endian PCM. The
// recognition path runs at 16 kHz mono; sources that deliver other formats are
// converted with [FormatConverter] before frames reach the pipeline.
package audio

import (
	"context"
	"time"
)

// bytesPerSample is fixed: every frame carries 16-bit signed little-endian PCM.
const bytesPerSample = 2

// Frame is a single block of audio flowing through the pipeline. Frames are
// immutable once produced by a [Source]; consumers must treat Data as
// read-only. Seq increases monotonically per source and is used to order
// frames and to drop duplicates.
type Frame struct {
	// Data is 16-bit signed little-endian PCM.
	Data []byte

	// SampleRate in Hz (16000 for the recognition path).
	SampleRate int

	// Channels: 1 for mono. The capture path only accepts mono frames.
	Channels int

	// Seq is the source-assigned sequence number. It must increase strictly
	// per source; the first value is arbitrary, 0 included.
	Seq uint64

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel in the frame.
func (f Frame) Samples() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(f.Data) / (bytesPerSample * ch)
}

// Duration returns the playback length of the frame. A frame with an unknown
// sample rate has zero duration.
func (f Frame) Duration() time.Duration {
	return PCMDuration(len(f.Data), f.SampleRate, f.Channels)
}

// PCMDuration returns the playback length of n bytes of 16-bit PCM.
func PCMDuration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	if channels <= 0 {
		channels = 1
	}
	samples := n / (bytesPerSample * channels)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// Source produces a continuous stream of frames, typically from a microphone
// or a network ingest. The channel returned by Frames is closed when the
// source ends or is closed.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Frames returns the read-only frame stream. Repeated calls return the
	// same channel.
	Frames() <-chan Frame

	// Close stops the source and closes the Frames channel. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Sink receives synthesised audio for output. A Sink never sees overlapping
// audio: [SerialPlayer] serialises access.
type Sink interface {
	// WriteFrame delivers one frame of output audio. Implementations must not
	// block indefinitely; ctx is cancelled when playback is interrupted.
	WriteFrame(ctx context.Context, f Frame) error
}
