package pipeline

import (
	"context"
	"time"

	"github.com/MrWong99/voxcal/internal/archive"
	"github.com/MrWong99/voxcal/internal/executor"
	"github.com/MrWong99/voxcal/pkg/audio"
	"github.com/MrWong99/voxcal/pkg/provider/stt"
)

// Session is a snapshot of one wake-to-idle interaction.
type Session struct {
	ID                   string    `json:"id"`
	State                State     `json:"state"`
	Turn                 int       `json:"turn"`
	STTRetries           int       `json:"stt_retries"`
	NoiseWarnings        int       `json:"noise_warnings"`
	CreatedAt            time.Time `json:"created_at"`
	LastActivity         time.Time `json:"last_activity"`
	PendingClarification bool      `json:"pending_clarification"`
}

// CancelToken is the per-session cancellation flag. Every stage runs under
// its context.
type CancelToken struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewCancelToken returns a token derived from parent.
func NewCancelToken(parent context.Context) *CancelToken {
	ctx, cancel := context.WithCancelCause(parent)
	return &CancelToken{ctx: ctx, cancel: cancel}
}

// Context returns the context cancelled with the token.
func (t *CancelToken) Context() context.Context { return t.ctx }

// Cancel sets the flag. The first cause wins.
func (t *CancelToken) Cancel(cause error) { t.cancel(cause) }

// Cancelled reports whether the token is set.
func (t *CancelToken) Cancelled() bool { return t.ctx.Err() != nil }

// Cause returns why the token was set, or nil.
func (t *CancelToken) Cause() error { return context.Cause(t.ctx) }

// turn is the controller's private state for the active session. Fields
// marked "mu" are guarded by Controller.mu; the rest belong to the session
// goroutine.
type turn struct {
	tok      *CancelToken
	frames   chan audio.Frame
	override chan string

	session   Session              // mu
	confirmed bool                 // mu
	listening bool                 // mu
	timeline  []archive.Transition // mu

	overrideText string
	carry        *audio.Frame
	rate         int
	utterance    []byte
	attempts     int
	transcript   stt.Transcript
	result       executor.ActionResult
}

func newTurn(parent context.Context, frameBuffer int) *turn {
	return &turn{
		tok:      NewCancelToken(parent),
		frames:   make(chan audio.Frame, frameBuffer),
		override: make(chan string, 1),
	}
}

// drain discards queued frames. Caller holds Controller.mu.
func (t *turn) drain() {
	for {
		select {
		case <-t.frames:
		default:
			return
		}
	}
}

// record builds the archive entry for the session. Caller holds
// Controller.mu.
func (t *turn) record(end time.Time, outcome archive.Outcome) archive.Record {
	timeline := make([]archive.Transition, len(t.timeline))
	copy(timeline, t.timeline)
	return archive.Record{
		ID:            t.session.ID,
		StartedAt:     t.session.CreatedAt,
		EndedAt:       end,
		Outcome:       outcome,
		Turns:         t.session.Turn,
		STTRetries:    t.session.STTRetries,
		NoiseWarnings: t.session.NoiseWarnings,
		Timeline:      timeline,
	}
}
