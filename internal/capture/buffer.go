package capture

import (
	"errors"
	"time"

	"github.com/MrWong99/voxcal/pkg/audio"
)

// Silence policy defaults.
const (
	DefaultSilenceThresholdDB = -40.0
	DefaultEndSilence         = 1500 * time.Millisecond
	DefaultMaxDuration        = 30 * time.Second
)

// ErrBufferClosed is returned by Append after the buffer has ended.
var ErrBufferClosed = errors.New("capture: buffer closed")

// StopReason tells why a capture ended.
type StopReason int

const (
	// NotStopped means the capture is still running.
	NotStopped StopReason = iota
	// StopSilence means the speaker paused for the end-silence window.
	StopSilence
	// StopMaxDuration means the hard cap was reached.
	StopMaxDuration
	// StopCancelled means the capture was aborted from outside.
	StopCancelled
)

func (r StopReason) String() string {
	switch r {
	case NotStopped:
		return "running"
	case StopSilence:
		return "silence"
	case StopMaxDuration:
		return "max_duration"
	case StopCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Policy is the end-of-utterance rule.
type Policy struct {
	// ThresholdDB is the frame level at or below which a frame counts as
	// silence.
	ThresholdDB float64
	// EndSilence ends the capture after this much continuous silence.
	EndSilence time.Duration
	// MaxDuration ends the capture unconditionally.
	MaxDuration time.Duration
}

// DefaultPolicy returns the -40 dB / 1.5 s / 30 s policy.
func DefaultPolicy() Policy {
	return Policy{
		ThresholdDB: DefaultSilenceThresholdDB,
		EndSilence:  DefaultEndSilence,
		MaxDuration: DefaultMaxDuration,
	}
}

// WithDefaults returns p with zero fields replaced by their defaults.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	if p.ThresholdDB == 0 {
		p.ThresholdDB = d.ThresholdDB
	}
	if p.EndSilence <= 0 {
		p.EndSilence = d.EndSilence
	}
	if p.MaxDuration <= 0 {
		p.MaxDuration = d.MaxDuration
	}
	return p
}

// IsSilent reports whether a frame counts as silence under the policy.
func (p Policy) IsSilent(f audio.Frame) bool {
	return audio.DBFS(f.Data) <= p.ThresholdDB
}

// Buffer accumulates the frames of one utterance. Durations are measured in
// audio time, so a buffer fed faster than real time behaves identically.
// A Buffer is not safe for concurrent use.
type Buffer struct {
	policy Policy
	gate   audio.SeqGate

	pcm        []byte
	sampleRate int
	total      time.Duration
	silence    time.Duration
	voiced     time.Duration
	reason     StopReason
}

// NewBuffer returns an empty buffer using policy. Zero fields in policy take
// their defaults.
func NewBuffer(policy Policy) *Buffer {
	return &Buffer{policy: policy.WithDefaults()}
}

// Append adds a frame. Out-of-order and duplicate frames are dropped. The
// returned reason is [NotStopped] while the capture should continue.
func (b *Buffer) Append(f audio.Frame) (StopReason, error) {
	if b.reason != NotStopped {
		return b.reason, ErrBufferClosed
	}
	if !b.gate.Accept(f) {
		return NotStopped, nil
	}
	if b.sampleRate == 0 {
		b.sampleRate = f.SampleRate
	}
	d := f.Duration()
	b.pcm = append(b.pcm, f.Data...)
	b.total += d

	if b.policy.IsSilent(f) {
		b.silence += d
	} else {
		b.silence = 0
		b.voiced += d
	}

	switch {
	case b.total >= b.policy.MaxDuration:
		b.reason = StopMaxDuration
	case b.silence >= b.policy.EndSilence:
		b.reason = StopSilence
	}
	return b.reason, nil
}

// Stop ends the capture from outside. It is a no-op once the buffer has
// already stopped.
func (b *Buffer) Stop(reason StopReason) {
	if b.reason == NotStopped {
		b.reason = reason
	}
}

// Reason returns why the capture ended, or [NotStopped].
func (b *Buffer) Reason() StopReason { return b.reason }

// PCM returns the accumulated audio. The slice aliases the buffer.
func (b *Buffer) PCM() []byte { return b.pcm }

// SampleRate returns the sample rate of the first accepted frame.
func (b *Buffer) SampleRate() int { return b.sampleRate }

// Duration returns the total captured audio length.
func (b *Buffer) Duration() time.Duration { return b.total }

// Silence returns the current run of trailing silence.
func (b *Buffer) Silence() time.Duration { return b.silence }

// HasSpeech reports whether any frame rose above the silence threshold.
func (b *Buffer) HasSpeech() bool { return b.voiced > 0 }

// Dropped returns the number of frames rejected for sequence order.
func (b *Buffer) Dropped() uint64 { return b.gate.Dropped() }
