package pipeline

import (
	"context"
	"time"
)

// Default wall-clock budgets for the processing states.
const (
	DefaultRecognizeTimeout = 20 * time.Second
	DefaultExecuteTimeout   = 15 * time.Second
	DefaultSpeakTimeout     = 60 * time.Second
)

// supervisor owns the wall-clock limits of every non-idle state.
//
// The listening states measure silence and duration in audio time, so a
// stream fed faster than real time behaves the same as a live microphone.
// Their wall-clock deadline only fires when the stream stalls. The
// processing states are bounded so a hung engine or executor cannot keep a
// session open forever.
type supervisor struct {
	budgets map[State]time.Duration
}

func newSupervisor(cfg Config) supervisor {
	return supervisor{budgets: map[State]time.Duration{
		StateWakeConfirm: cfg.ConfirmTimeout,
		StateCapturing:   cfg.Capture.MaxDuration,
		StateNeedsInfo:   cfg.NeedsInfoTimeout,
		StateRecognizing: cfg.RecognizeTimeout,
		StateDispatching: cfg.ExecuteTimeout,
		StateResponding:  cfg.SpeakTimeout,
	}}
}

// deadline starts the wall-clock timer of st. The returned channel never
// fires if st has no budget. stop must be called when the state is left.
func (s supervisor) deadline(st State) (fire <-chan time.Time, stop func()) {
	d, ok := s.budgets[st]
	if !ok || d <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(d)
	return t.C, func() { t.Stop() }
}

// bound limits ctx to the budget of st.
func (s supervisor) bound(ctx context.Context, st State) (context.Context, context.CancelFunc) {
	d, ok := s.budgets[st]
	if !ok || d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
