// Package archive keeps a history of finished pipeline sessions.
//
// The controller hands a [Record] to a [Store] whenever a session returns to
// idle. Records hold counters and the state transition timeline only; they
// never contain audio or the wake phrase.
package archive

import (
	"context"
	"time"
)

// Outcome summarises how a session ended.
type Outcome string

const (
	OutcomeCompleted         Outcome = "completed"
	OutcomeStopped           Outcome = "stopped"
	OutcomeLowConfidence     Outcome = "low_confidence"
	OutcomeNoiseTooHigh      Outcome = "noise_too_high"
	OutcomeSilenceTimeout    Outcome = "silence_timeout"
	OutcomeNeedsInfoTimeout  Outcome = "needs_info_timeout"
	OutcomeEngineUnavailable Outcome = "engine_unavailable"
	OutcomeShutdown          Outcome = "shutdown"
)

// Transition is one entry of a session timeline.
type Transition struct {
	Time    time.Time `json:"time"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Trigger string    `json:"trigger"`
}

// Record is an archived session.
type Record struct {
	ID            string       `json:"id"`
	StartedAt     time.Time    `json:"started_at"`
	EndedAt       time.Time    `json:"ended_at"`
	Outcome       Outcome      `json:"outcome"`
	Turns         int          `json:"turns"`
	STTRetries    int          `json:"stt_retries"`
	NoiseWarnings int          `json:"noise_warnings"`
	Timeline      []Transition `json:"timeline"`
}

// Duration returns how long the session lasted.
func (r Record) Duration() time.Duration { return r.EndedAt.Sub(r.StartedAt) }

// Store persists session records. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save inserts or replaces a record.
	Save(ctx context.Context, rec Record) error

	// Get returns the record with the given ID, or (nil, nil) if there is
	// none.
	Get(ctx context.Context, id string) (*Record, error)

	// Recent returns up to n records, newest first.
	Recent(ctx context.Context, n int) ([]Record, error)
}
