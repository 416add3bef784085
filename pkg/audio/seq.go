package audio

import "sync/atomic"

// SeqGate enforces strictly increasing sequence numbers on a frame stream.
// Frames whose Seq is not greater than the last accepted one are rejected.
// The zero value accepts any first frame, including Seq 0.
type SeqGate struct {
	last    uint64
	started bool
	dropped atomic.Uint64
}

// Accept reports whether f is in order. Rejected frames are counted.
// Accept is not safe for concurrent use; Dropped is.
func (g *SeqGate) Accept(f Frame) bool {
	if g.started && f.Seq <= g.last {
		g.dropped.Add(1)
		return false
	}
	g.last, g.started = f.Seq, true
	return true
}

// Last returns the sequence number of the most recently accepted frame.
func (g *SeqGate) Last() uint64 { return g.last }

// Dropped returns the number of frames rejected so far.
func (g *SeqGate) Dropped() uint64 { return g.dropped.Load() }
